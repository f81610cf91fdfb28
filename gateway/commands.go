// released under the MIT license

package gateway

import "github.com/ergochat/irc-go/ircmsg"

type ircCommandHandler func(*Client, ircmsg.Message)

// ircCommands dispatches inbound legacy commands, verbs and numerics
// both. Commands absent from the table are forwarded to the bridge as
// server messages.
var ircCommands = map[string]ircCommandHandler{
	"001":           (*Client).onWelcome,
	"005":           (*Client).onISupport,
	"332":           (*Client).onTopicNumeric,
	"353":           (*Client).onNames,
	"366":           (*Client).onNamesEnd,
	"372":           (*Client).onMOTDLine,
	"RPL_MOTD":      (*Client).onMOTDLine,
	"375":           (*Client).onMOTDStart,
	"RPL_MOTDSTART": (*Client).onMOTDStart,
	"376":           (*Client).onMOTDEnd,
	"RPL_MOTDEND":   (*Client).onMOTDEnd,
	"432":           (*Client).onErroneousNickname,
	"433":           (*Client).onNicknameInUse,
	"438":           (*Client).onNickChangeTooFast,
	"ERROR":         (*Client).onError,
	"JOIN":          (*Client).onJoin,
	"KICK":          (*Client).onKick,
	"MODE":          (*Client).onMode,
	"NICK":          (*Client).onNick,
	"NOTICE":        (*Client).onNotice,
	"PART":          (*Client).onPart,
	"PING":          (*Client).onPing,
	"PONG":          (*Client).onPong,
	"PRIVMSG":       (*Client).onPrivmsg,
	"QUIT":          (*Client).onQuit,
	"TOPIC":         (*Client).onTopicChange,
}
