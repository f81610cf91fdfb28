// released under the MIT license

package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/lep/biboumi/gateway/eventloop"
	"github.com/lep/biboumi/gateway/logger"
	"github.com/lep/biboumi/gateway/network"
)

const (
	pingInterval = 60 * time.Second
	// maximum wire line length, CRLF included
	maxLineLen = 512
)

// PortCandidate is one rung of the port/TLS ladder tried in order on
// connection failure.
type PortCandidate struct {
	Port string
	TLS  bool
}

// connection is the transport surface the client drives; satisfied by
// *network.Handler.
type connection interface {
	Connect(host, port string, useTLS bool)
	SendData(data []byte)
	Close()
}

// Client is one connection to one legacy server on behalf of one
// component-side user. It owns its channels exclusively; channels never
// outlive it. All methods run on the event loop.
type Client struct {
	bridge *Bridge
	loop   *eventloop.Loop
	log    *logger.Manager

	owner    string // bare component-side identity
	hostname string // legacy server host
	username string
	realname string

	currentNick string
	welcomed    bool

	handler *network.Handler
	conn    connection
	caps    Capabilities

	channels       map[string]*Channel
	dummyChannel   *Channel
	channelsToJoin []string

	// ladder of remaining (port, tls) candidates; the head is consumed
	// on every attempt, including TLS-handshake failures
	ladder []PortCandidate

	// nicknames with an active private conversation
	privateNicks map[string]bool

	motd strings.Builder

	pingName string
}

func newClient(bridge *Bridge, owner, hostname, nick string, ladder []PortCandidate) *Client {
	client := &Client{
		bridge:       bridge,
		loop:         bridge.loop,
		log:          bridge.log,
		owner:        owner,
		hostname:     hostname,
		username:     localPart(owner),
		realname:     localPart(owner),
		currentNick:  nick,
		caps:         NewCapabilities(),
		channels:     make(map[string]*Channel),
		dummyChannel: newDummyChannel(),
		ladder:       ladder,
		privateNicks: make(map[string]bool),
	}
	client.handler = network.NewHandler(bridge.loop, bridge.log, client)
	client.conn = client.handler
	client.handler.BindAddress = bridge.config.Gateway.BindAddress
	client.handler.CAFile = bridge.config.Gateway.CAFile
	client.handler.TrustedFingerprint = bridge.config.Gateway.Fingerprints[hostname]
	client.handler.AbortOnInvalidCert = bridge.config.Gateway.AbortOnInvalidCert
	client.pingName = fmt.Sprintf("irc_ping %s %s", owner, hostname)
	return client
}

// localPart extracts the node of a bare identity like user@host.
func localPart(owner string) string {
	if idx := strings.IndexByte(owner, '@'); idx >= 0 {
		return owner[:idx]
	}
	return owner
}

// start pops the next ladder candidate and connects. Exhaustion is
// reported as a terminal failure.
func (c *Client) start() {
	if len(c.ladder) == 0 {
		c.bridge.onClientFailed(c, "no ports left to try on "+c.hostname)
		return
	}
	candidate := c.ladder[0]
	c.ladder = c.ladder[1:]
	c.conn.Connect(c.hostname, candidate.Port, candidate.TLS)
}

func (c *Client) getChannel(name string) *Channel {
	key := ircLower(name)
	channel := c.channels[key]
	if channel == nil {
		channel = newChannel(name)
		c.channels[key] = channel
	}
	return channel
}

func (c *Client) findChannel(name string) *Channel {
	return c.channels[ircLower(name)]
}

func (c *Client) isSelf(nick string) bool {
	return ircLower(nick) == ircLower(c.currentNick)
}

//
// outbound commands
//

func (c *Client) sendMessage(command string, params ...string) {
	msg := ircmsg.MakeMessage(nil, "", command, params...)
	line, err := msg.LineBytesStrict(true, maxLineLen)
	if err != nil {
		c.log.Warning("irc", "could not serialize outgoing message", err.Error())
		return
	}
	c.log.Wire("irc", c.hostname, "<-", strings.TrimRight(string(line), "\r\n"))
	c.conn.SendData(line)
}

func (c *Client) joinChannel(name string) {
	if !c.welcomed {
		for _, pending := range c.channelsToJoin {
			if ircLower(pending) == ircLower(name) {
				return
			}
		}
		c.channelsToJoin = append(c.channelsToJoin, name)
		return
	}
	c.sendMessage("JOIN", name)
}

func (c *Client) partChannel(name, status string) {
	channel := c.findChannel(name)
	if channel == nil || channel.Status == ChannelParting {
		return
	}
	channel.Status = ChannelParting
	if status != "" {
		c.sendMessage("PART", name, status)
	} else {
		c.sendMessage("PART", name)
	}
}

// sendChannelMessage sends body as PRIVMSGs, one per embedded newline.
func (c *Client) sendChannelMessage(name, body string) error {
	channel := c.findChannel(name)
	if channel == nil || !channel.Joined() {
		return errChannelNotJoined
	}
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		c.sendMessage("PRIVMSG", name, line)
	}
	return nil
}

func (c *Client) sendPrivateMessage(nick, body string) {
	c.privateNicks[ircLower(nick)] = true
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		c.sendMessage("PRIVMSG", nick, line)
	}
}

func (c *Client) changeNick(newNick string) {
	if c.welcomed {
		c.sendMessage("NICK", newNick)
	} else {
		c.currentNick = newNick
	}
}

func (c *Client) setTopic(name, topic string) {
	c.sendMessage("TOPIC", name, topic)
}

func (c *Client) kick(name, target, reason string) {
	c.sendMessage("KICK", name, target, reason)
}

func (c *Client) sendQuit(reason string) {
	if reason != "" {
		c.sendMessage("QUIT", reason)
	} else {
		c.sendMessage("QUIT")
	}
}

// sendRaw transmits one line verbatim (used for messages addressed to
// the bare server target).
func (c *Client) sendRaw(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	c.log.Wire("irc", c.hostname, "<-", line)
	c.conn.SendData([]byte(line + "\r\n"))
}

func (c *Client) schedulePing() {
	c.loop.AddTimer(pingInterval, c.pingName, func() {
		c.sendMessage("PING", "biboumi")
		c.schedulePing()
	})
}

//
// network.Protocol upcalls
//

func (c *Client) OnConnected() {
	c.sendMessage("USER", c.username, "ignored", "ignored", c.realname)
	c.sendMessage("NICK", c.currentNick)
}

func (c *Client) OnConnectionFailed(msg string) {
	c.loop.CancelTimer(c.pingName)
	if len(c.ladder) > 0 {
		c.log.Info("irc", "connection to "+c.hostname+" failed, trying next port", msg)
		c.start()
		return
	}
	c.bridge.onClientFailed(c, msg)
}

func (c *Client) OnConnectionClose(msg string) {
	c.loop.CancelTimer(c.pingName)
	// a TLS failure before welcome consumes the ladder entry and moves
	// on, exactly like a failed connect
	if !c.welcomed && strings.HasPrefix(msg, "TLS error:") && len(c.ladder) > 0 {
		c.log.Info("irc", "TLS failure on "+c.hostname+", trying next port", msg)
		c.start()
		return
	}
	c.bridge.onClientClosed(c, msg)
}

// ParseInBuffer extracts complete lines from the socket in-buffer and
// dispatches them. A malformed line is dropped and logged; the
// connection is preserved.
func (c *Client) ParseInBuffer(n int) {
	for {
		line, ok := c.handler.In.NextLine()
		if !ok {
			break
		}
		if len(line) == 0 {
			continue
		}
		msg, err := ircmsg.ParseLineStrict(string(line), false, maxLineLen)
		if err != nil && err != ircmsg.ErrorBodyTooLong {
			c.log.Warning("irc", "dropping malformed line from "+c.hostname, err.Error())
			continue
		}
		c.log.Wire("irc", c.hostname, "->", string(line))
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg ircmsg.Message) {
	command := strings.ToUpper(msg.Command)
	handler, ok := ircCommands[command]
	if !ok {
		c.forwardUnknown(msg)
		return
	}
	handler(c, msg)
}

// forwardUnknown relays an unhandled command as a server message on the
// dummy channel.
func (c *Client) forwardUnknown(msg ircmsg.Message) {
	if len(msg.Params) == 0 {
		return
	}
	body := strings.Join(msg.Params, " ")
	c.bridge.forwardServerMessage(c, msg.Nick(), body)
}

//
// command handlers
//

func (c *Client) onWelcome(msg ircmsg.Message) {
	if len(msg.Params) >= 1 {
		c.currentNick = msg.Params[0]
	}
	c.welcomed = true
	c.schedulePing()
	toJoin := c.channelsToJoin
	c.channelsToJoin = nil
	for _, name := range toJoin {
		c.joinChannel(name)
	}
}

func (c *Client) onISupport(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	// strip the target nick and the trailing human-readable text
	c.caps.ParseISupport(msg.Params[1 : len(msg.Params)-1])
}

func (c *Client) onMOTDStart(msg ircmsg.Message) {
	c.motd.Reset()
}

func (c *Client) onMOTDLine(msg ircmsg.Message) {
	if len(msg.Params) >= 2 {
		c.motd.WriteString(msg.Params[1])
		c.motd.WriteByte('\n')
	}
}

// onMOTDEnd flushes the accumulated MOTD as one single message.
func (c *Client) onMOTDEnd(msg ircmsg.Message) {
	if c.motd.Len() > 0 {
		c.bridge.forwardServerMessage(c, "", c.motd.String())
		c.motd.Reset()
	}
}

func (c *Client) onNotice(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	c.bridge.forwardServerMessage(c, msg.Nick(), msg.Params[1])
}

func (c *Client) onJoin(msg ircmsg.Message) {
	if len(msg.Params) < 1 {
		return
	}
	name := msg.Params[0]
	nick := msg.Nick()
	channel := c.getChannel(name)
	if c.isSelf(nick) {
		channel.Status = ChannelJoining
		channel.SelfNick = nick
		channel.AddUser(nick)
		return
	}
	user := channel.AddUser(nick)
	if channel.Joined() {
		c.bridge.forwardUserJoin(c, name, user, false)
	}
}

func (c *Client) onNames(msg ircmsg.Message) {
	if len(msg.Params) < 4 {
		return
	}
	name := msg.Params[2]
	channel := c.getChannel(name)
	for _, token := range strings.Fields(msg.Params[3]) {
		modes, nick := c.caps.SplitMembershipPrefixes(token)
		user := channel.FindUser(nick)
		if user == nil {
			user = channel.AddUser(nick)
		}
		for _, mode := range modes {
			user.Modes[mode] = true
		}
		if !c.isSelf(nick) {
			c.bridge.forwardUserJoin(c, name, user, false)
		}
	}
	channel.Status = ChannelNamesPending
}

func (c *Client) onTopicNumeric(msg ircmsg.Message) {
	if len(msg.Params) < 3 {
		return
	}
	channel := c.getChannel(msg.Params[1])
	channel.Topic = msg.Params[2]
	if channel.Status == ChannelNamesPending {
		channel.Status = ChannelTopicPending
	}
}

func (c *Client) onTopicChange(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	name := msg.Params[0]
	channel := c.findChannel(name)
	if channel == nil {
		return
	}
	channel.Topic = msg.Params[1]
	if channel.Joined() {
		c.bridge.forwardTopic(c, name, msg.Nick(), channel.Topic)
	}
}

// onNamesEnd completes the join: only now is self-presence emitted,
// followed by the topic.
func (c *Client) onNamesEnd(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	name := msg.Params[1]
	channel := c.getChannel(name)
	channel.Status = ChannelJoined
	if channel.markSelfPresenceSent() {
		c.bridge.forwardSelfJoin(c, name)
		c.bridge.forwardTopic(c, name, "", channel.Topic)
	}
}

func (c *Client) onPrivmsg(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	target, body := msg.Params[0], msg.Params[1]
	sender := msg.Nick()
	if c.caps.IsChannelName(target) {
		c.bridge.forwardMUCMessage(c, target, sender, body)
		return
	}
	c.privateNicks[ircLower(sender)] = true
	c.bridge.forwardPrivateMessage(c, sender, body)
}

func (c *Client) onPart(msg ircmsg.Message) {
	if len(msg.Params) < 1 {
		return
	}
	name := msg.Params[0]
	channel := c.findChannel(name)
	if channel == nil {
		return
	}
	reason := ""
	if len(msg.Params) >= 2 {
		reason = msg.Params[1]
	}
	nick := msg.Nick()
	if channel.FindUser(nick) == nil {
		return
	}
	self := ircLower(nick) == ircLower(channel.SelfNick)
	channel.RemoveUser(nick)
	c.bridge.forwardUserLeave(c, name, nick, reason, self)
	if self {
		channel.resetJoin()
	}
}

// onQuit fans the departure out to every channel the user was in.
func (c *Client) onQuit(msg ircmsg.Message) {
	reason := ""
	if len(msg.Params) >= 1 {
		reason = msg.Params[0]
	}
	nick := msg.Nick()
	for _, channel := range c.channels {
		if channel.FindUser(nick) == nil {
			continue
		}
		channel.RemoveUser(nick)
		if channel.Joined() {
			c.bridge.forwardUserLeave(c, channel.Name, nick, reason, false)
		}
	}
}

func (c *Client) onNick(msg ircmsg.Message) {
	if len(msg.Params) < 1 {
		return
	}
	oldNick := msg.Nick()
	newNick := msg.Params[0]
	self := c.isSelf(oldNick)
	if self {
		c.currentNick = newNick
	}
	for _, channel := range c.channels {
		user := channel.RenameUser(oldNick, newNick)
		if user == nil {
			continue
		}
		if ircLower(channel.SelfNick) == ircLower(oldNick) {
			channel.SelfNick = newNick
		}
		if channel.Joined() {
			c.bridge.forwardNickChange(c, channel.Name, oldNick, newNick, self)
		}
	}
}

func (c *Client) onKick(msg ircmsg.Message) {
	if len(msg.Params) < 2 {
		return
	}
	name, target := msg.Params[0], msg.Params[1]
	reason := ""
	if len(msg.Params) >= 3 {
		reason = msg.Params[2]
	}
	channel := c.findChannel(name)
	if channel == nil {
		return
	}
	self := ircLower(target) == ircLower(channel.SelfNick)
	channel.RemoveUser(target)
	c.bridge.forwardKick(c, name, target, reason, msg.Nick(), self)
	if self {
		channel.resetJoin()
	}
}

func (c *Client) onMode(msg ircmsg.Message) {
	if len(msg.Params) < 1 {
		return
	}
	target := msg.Params[0]
	if c.caps.IsChannelName(target) {
		c.onChannelMode(target, msg)
		return
	}
	// a mode on our own user; surface it as a server message
	c.bridge.forwardServerMessage(c, "", "Mode "+strings.Join(msg.Params, " "))
}

func (c *Client) onChannelMode(name string, msg ircmsg.Message) {
	channel := c.findChannel(name)
	if channel == nil {
		return
	}
	changes := c.caps.ParseChannelModeChanges(msg.Params[1:])
	for _, change := range changes {
		if change.Membership {
			user := channel.FindUser(change.Arg)
			if user == nil {
				continue
			}
			if change.Add {
				user.Modes[change.Mode] = true
			} else {
				delete(user.Modes, change.Mode)
			}
			if channel.Joined() {
				self := ircLower(user.Nick) == ircLower(channel.SelfNick)
				c.bridge.forwardUserJoin(c, name, user, self)
			}
			continue
		}
		// class A modes are list operations and carry no channel state
		if strings.IndexByte(c.caps.ChanModesA, change.Mode) >= 0 {
			continue
		}
		if change.Add {
			channel.Modes[change.Mode] = true
		} else {
			delete(channel.Modes, change.Mode)
		}
	}
}

func (c *Client) onErroneousNickname(msg ircmsg.Message) {
	c.bridge.forwardNicknameError(c, "not-acceptable", "Erroneous nickname")
}

// onNicknameInUse mangles the nickname pre-welcome; after welcome the
// conflict is surfaced from every joined channel.
func (c *Client) onNicknameInUse(msg ircmsg.Message) {
	if !c.welcomed {
		c.currentNick = c.currentNick + "_"
		c.sendMessage("NICK", c.currentNick)
		return
	}
	c.bridge.forwardNicknameError(c, "conflict", "Nickname is already in use")
}

func (c *Client) onNickChangeTooFast(msg ircmsg.Message) {
	c.bridge.forwardNicknameError(c, "not-allowed", "Nick change too fast")
}

func (c *Client) onPing(msg ircmsg.Message) {
	if len(msg.Params) < 1 {
		return
	}
	c.sendMessage("PONG", msg.Params[len(msg.Params)-1])
}

func (c *Client) onPong(msg ircmsg.Message) {}

func (c *Client) onError(msg ircmsg.Message) {
	text := ""
	if len(msg.Params) >= 1 {
		text = msg.Params[0]
	}
	c.loop.CancelTimer(c.pingName)
	c.conn.Close()
	c.bridge.onClientClosed(c, "ERROR: "+text)
}
