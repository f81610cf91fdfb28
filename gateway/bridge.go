// released under the MIT license

package gateway

import (
	"time"

	"github.com/lep/biboumi/gateway/database"
	"github.com/lep/biboumi/gateway/eventloop"
	"github.com/lep/biboumi/gateway/logger"
)

// ComponentSender is the stanza sink on the component-protocol side.
// iid arguments are the composed `[local]%domain` node; owner is the
// bare component-side identity the stanza is addressed to.
type ComponentSender interface {
	SendMUCMessage(iid, nick, owner, body string)
	SendServerMessage(server, from, owner, body string)
	SendPrivateMessage(iid, owner, body string)
	SendUserJoin(iid, nick, affiliation, role, owner string, self bool)
	SendUserLeave(iid, nick, reason, owner string, self bool)
	SendNickChange(iid, oldNick, newNick, owner string)
	SendKick(iid, nick, reason, by, owner string, self bool)
	SendTopic(iid, nick, topic, owner string)
	SendPresenceError(iid, nick, owner, errorType, condition, text string)
	SendStanzaError(kind, node, owner, errorType, condition, text string)
	// SendGatewayMessage is a chat message from the gateway's own bare
	// address (the settings command surface).
	SendGatewayMessage(owner, body string)
	// archive replay: one forwarded history line, then the closing iq
	SendArchivedMessage(owner, node, queryID string, line database.ArchiveLine)
	SendArchiveFin(owner, node, iqID, queryID string, complete bool)
}

// Archiver records channel traffic and serves the windowed history
// fetch; satisfied by the buntdb store and the MySQL backend.
type Archiver interface {
	Record(server, channel, nick, body string) error
	Archive(server, channel string, limit int, start, end time.Time) ([]database.ArchiveLine, error)
}

// lines served for an archive query when no narrower cap applies
const defaultArchiveFetchLimit = 50

// ClientKey identifies one legacy connection: for any (user, server)
// pair at most one client exists at a time.
type ClientKey struct {
	Owner  string
	Server string
}

// Bridge owns the set of legacy clients, translates stanzas into legacy
// commands and legacy events into stanzas, and routes both directions
// by IID. Single-threaded: every method runs on the event loop.
type Bridge struct {
	loop      *eventloop.Loop
	log       *logger.Manager
	config    *Config
	component ComponentSender
	db        *database.Store
	archive   Archiver

	clients map[ClientKey]*Client
}

func NewBridge(loop *eventloop.Loop, log *logger.Manager, config *Config, component ComponentSender, db *database.Store, archive Archiver) *Bridge {
	return &Bridge{
		loop:      loop,
		log:       log,
		config:    config,
		component: component,
		db:        db,
		archive:   archive,
		clients:   make(map[ClientKey]*Client),
	}
}

func (b *Bridge) findClient(owner, server string) *Client {
	return b.clients[ClientKey{Owner: owner, Server: server}]
}

// getOrCreateClient lazily creates and starts the client for
// (owner, server); connections are re-established on demand, never
// restored from persistent state.
func (b *Bridge) getOrCreateClient(owner, server, nick string) *Client {
	key := ClientKey{Owner: owner, Server: server}
	if client := b.clients[key]; client != nil {
		return client
	}
	client := newClient(b, owner, server, nick, b.portLadder(owner, server))
	if b.db != nil {
		options := b.db.ServerOptions(owner, server)
		if options.Fingerprint != "" {
			client.handler.TrustedFingerprint = options.Fingerprint
		}
		if nick == "" && options.Nick != "" {
			client.currentNick = options.Nick
		}
		if options.Username != "" {
			client.username = options.Username
		}
		if options.Realname != "" {
			client.realname = options.Realname
		}
	}
	b.clients[key] = client
	b.log.Info("bridge", "starting client", owner, server)
	client.start()
	return client
}

// portLadder builds the candidate stack for a server: per-user stored
// options first, then the configured defaults (TLS ports before
// plaintext ports).
func (b *Bridge) portLadder(owner, server string) (ladder []PortCandidate) {
	tlsPorts := b.config.Gateway.TLSPorts
	plainPorts := b.config.Gateway.PlainPorts
	if b.db != nil {
		options := b.db.ServerOptions(owner, server)
		if len(options.TLSPorts) > 0 {
			tlsPorts = options.TLSPorts
		}
		if len(options.Ports) > 0 {
			plainPorts = options.Ports
		}
	}
	for _, port := range tlsPorts {
		ladder = append(ladder, PortCandidate{Port: port, TLS: true})
	}
	for _, port := range plainPorts {
		ladder = append(ladder, PortCandidate{Port: port, TLS: false})
	}
	return
}

func (b *Bridge) removeClient(c *Client) {
	delete(b.clients, ClientKey{Owner: c.owner, Server: c.hostname})
}

// ActiveClients reports how many legacy connections are alive.
func (b *Bridge) ActiveClients() int { return len(b.clients) }

// Shutdown quits every client and surfaces the departure to the
// component side.
func (b *Bridge) Shutdown(reason string) {
	for key, client := range b.clients {
		client.sendQuit(reason)
		for _, channel := range client.channels {
			if channel.Joined() {
				iid := channel.Name + "%" + client.hostname
				b.component.SendUserLeave(iid, channel.SelfNick, reason, client.owner, true)
			}
		}
		client.loop.CancelTimer(client.pingName)
		client.conn.Close()
		delete(b.clients, key)
	}
}

//
// component-side entry points (called by the stream connector)
//

// HandleJoin processes a presence-join addressed to node/nick. A join
// to the bare server enters the dummy channel, which carries
// server-level messages without any legacy-side traffic.
func (b *Bridge) HandleJoin(owner, node, nick string) {
	iid := ParseIID(node, b.chanTypes(owner, node))
	if iid.Type == IIDServer && iid.Server != "" {
		client := b.getOrCreateClient(owner, iid.Server, nick)
		dummy := client.dummyChannel
		dummy.SelfNick = nick
		dummy.Status = ChannelJoined
		if dummy.markSelfPresenceSent() {
			b.component.SendUserJoin(iid.Server, nick, "none", "participant", owner, true)
		}
		return
	}
	if iid.Type != IIDChannel || iid.Server == "" {
		b.component.SendPresenceError(node, nick, owner, "cancel", "item-not-found", "Invalid channel identifier")
		return
	}
	client := b.getOrCreateClient(owner, iid.Server, nick)
	if client.welcomed && nick != "" && !client.isSelf(nick) {
		client.changeNick(nick)
	}
	client.joinChannel(iid.Local)
}

// HandleLeave processes a presence-unavailable for node.
func (b *Bridge) HandleLeave(owner, node, nick, status string) {
	iid := ParseIID(node, b.chanTypes(owner, node))
	client := b.findClient(owner, iid.Server)
	if client == nil {
		// confirm the departure even without a live connection
		b.component.SendUserLeave(node, nick, "", owner, true)
		return
	}
	if iid.Type == IIDServer {
		client.dummyChannel.resetJoin()
		b.component.SendUserLeave(node, nick, status, owner, true)
		return
	}
	client.partChannel(iid.Local, status)
}

// HandleGroupchat processes a groupchat message (body and/or subject).
func (b *Bridge) HandleGroupchat(owner, node, body, subject string) {
	iid := ParseIID(node, b.chanTypes(owner, node))
	client := b.findClient(owner, iid.Server)
	if client == nil {
		b.component.SendStanzaError("message", node, owner, "cancel", "remote-server-not-found",
			(&NotConnectedError{Server: iid.Server}).Error())
		return
	}
	if subject != "" {
		client.setTopic(iid.Local, subject)
	}
	if body == "" {
		return
	}
	if err := client.sendChannelMessage(iid.Local, body); err != nil {
		b.component.SendStanzaError("message", node, owner, "cancel", "not-acceptable", err.Error())
		return
	}
	// reflect the message back to its author, as the legacy server
	// does not echo it
	b.component.SendMUCMessage(node, client.currentNick, owner, body)
	b.record(iid.Server, iid.Local, client.currentNick, body)
}

// HandleChat processes a private chat message. resource carries the
// in-room nickname when the message was addressed to a room occupant.
func (b *Bridge) HandleChat(owner, node, resource, body string) {
	iid := ParseIID(node, b.chanTypes(owner, node))
	client := b.findClient(owner, iid.Server)
	if client == nil {
		b.component.SendStanzaError("message", node, owner, "cancel", "remote-server-not-found",
			(&NotConnectedError{Server: iid.Server}).Error())
		return
	}
	switch {
	case iid.Type == IIDUser:
		client.sendPrivateMessage(iid.Local, body)
	case iid.Type == IIDChannel && resource != "":
		// a message to chan%server/Nick becomes one to nick%server
		client.sendPrivateMessage(resource, body)
	case iid.Type == IIDServer:
		// message to the bare server: send it as a raw legacy line
		client.sendRaw(body)
	}
}

// HandleNickChange processes a requested rename inside a joined room.
func (b *Bridge) HandleNickChange(owner, node, newNick string) {
	iid := ParseIID(node, b.chanTypes(owner, node))
	client := b.findClient(owner, iid.Server)
	if client == nil {
		return
	}
	client.changeNick(newNick)
}

// HandleArchiveQuery replays archived channel messages for a MAM
// query: each stored line in [start, end] is forwarded, then the query
// is closed. The effective per-channel history length caps the window.
func (b *Bridge) HandleArchiveQuery(owner, node, iqID, queryID string, start, end time.Time, max int) {
	iid := ParseIID(node, b.chanTypes(owner, node))
	if b.archive == nil || iid.Type != IIDChannel {
		b.component.SendStanzaError("iq", node, owner, "cancel", "feature-not-implemented", "")
		return
	}
	limit := max
	if b.db != nil {
		options := b.db.ChannelOptionsWithDefaults(owner, iid.Server, iid.Local)
		if options.MaxHistoryLength > 0 && (limit <= 0 || limit > options.MaxHistoryLength) {
			limit = options.MaxHistoryLength
		}
	}
	if limit <= 0 {
		limit = defaultArchiveFetchLimit
	}
	lines, err := b.archive.Archive(iid.Server, iid.Local, limit, start, end)
	if err != nil {
		b.log.Warning("database", "archive fetch failed", err.Error())
		b.component.SendStanzaError("iq", node, owner, "wait", "internal-server-error", "")
		return
	}
	for _, line := range lines {
		b.component.SendArchivedMessage(owner, node, queryID, line)
	}
	b.component.SendArchiveFin(owner, node, iqID, queryID, len(lines) < limit)
}

// HandleKick processes a muc#admin role=none request.
func (b *Bridge) HandleKick(owner, node, nick, reason string) {
	iid := ParseIID(node, b.chanTypes(owner, node))
	client := b.findClient(owner, iid.Server)
	if client == nil {
		return
	}
	client.kick(iid.Local, nick, reason)
}

// chanTypes picks the channel markers advertised by the server the
// node refers to, falling back to the defaults before any client
// exists for it.
func (b *Bridge) chanTypes(owner, node string) string {
	defaults := NewCapabilities()
	iid := ParseIID(node, defaults.ChanTypes)
	if client := b.findClient(owner, iid.Server); client != nil {
		return client.caps.ChanTypes
	}
	return defaults.ChanTypes
}

//
// legacy-side forwarding (called by clients)
//

func (b *Bridge) iidFor(c *Client, channelName string) string {
	return channelName + "%" + c.hostname
}

// modeToMUC maps the highest membership mode to MUC affiliation/role.
func modeToMUC(mode byte) (affiliation, role string) {
	switch mode {
	case 'q', 'a', 'o':
		return "admin", "moderator"
	case 'h':
		return "member", "moderator"
	case 'v':
		return "member", "participant"
	}
	return "none", "participant"
}

func (b *Bridge) forwardMUCMessage(c *Client, channelName, nick, body string) {
	b.component.SendMUCMessage(b.iidFor(c, channelName), nick, c.owner, body)
	b.record(c.hostname, channelName, nick, body)
}

func (b *Bridge) forwardServerMessage(c *Client, from, body string) {
	b.component.SendServerMessage(c.hostname, from, c.owner, body)
}

func (b *Bridge) forwardPrivateMessage(c *Client, nick, body string) {
	b.component.SendPrivateMessage(nick+"%"+c.hostname, c.owner, body)
}

func (b *Bridge) forwardUserJoin(c *Client, channelName string, user *ChannelUser, self bool) {
	affiliation, role := modeToMUC(user.HighestMode(&c.caps))
	b.component.SendUserJoin(b.iidFor(c, channelName), user.Nick, affiliation, role, c.owner, self)
}

func (b *Bridge) forwardSelfJoin(c *Client, channelName string) {
	channel := c.findChannel(channelName)
	if channel == nil {
		return
	}
	affiliation, role := "none", "participant"
	if self := channel.FindUser(channel.SelfNick); self != nil {
		affiliation, role = modeToMUC(self.HighestMode(&c.caps))
	}
	b.component.SendUserJoin(b.iidFor(c, channelName), channel.SelfNick, affiliation, role, c.owner, true)
}

func (b *Bridge) forwardTopic(c *Client, channelName, nick, topic string) {
	b.component.SendTopic(b.iidFor(c, channelName), nick, topic, c.owner)
}

func (b *Bridge) forwardUserLeave(c *Client, channelName, nick, reason string, self bool) {
	b.component.SendUserLeave(b.iidFor(c, channelName), nick, reason, c.owner, self)
}

func (b *Bridge) forwardNickChange(c *Client, channelName, oldNick, newNick string, self bool) {
	b.component.SendNickChange(b.iidFor(c, channelName), oldNick, newNick, c.owner)
}

func (b *Bridge) forwardKick(c *Client, channelName, target, reason, by string, self bool) {
	b.component.SendKick(b.iidFor(c, channelName), target, reason, by, c.owner, self)
}

// forwardNicknameError surfaces a nickname failure as a presence error
// from every joined channel, or from the server when none is joined.
func (b *Bridge) forwardNicknameError(c *Client, condition, text string) {
	sent := false
	for _, channel := range c.channels {
		if channel.Joined() {
			b.component.SendPresenceError(b.iidFor(c, channel.Name), c.currentNick, c.owner, "cancel", condition, text)
			sent = true
		}
	}
	if !sent {
		b.component.SendPresenceError(c.hostname, c.currentNick, c.owner, "cancel", condition, text)
	}
}

// onClientFailed ends a client whose connection attempts are exhausted.
func (b *Bridge) onClientFailed(c *Client, msg string) {
	b.log.Warning("bridge", "connection failed", c.owner, c.hostname, msg)
	for _, name := range c.channelsToJoin {
		b.component.SendPresenceError(b.iidFor(c, name), c.currentNick, c.owner, "cancel", "remote-server-not-found", msg)
	}
	for _, channel := range c.channels {
		b.component.SendPresenceError(b.iidFor(c, channel.Name), c.currentNick, c.owner, "cancel", "remote-server-not-found", msg)
	}
	b.removeClient(c)
}

// onClientClosed ends a client whose established connection terminated;
// every joined channel surfaces the departure.
func (b *Bridge) onClientClosed(c *Client, msg string) {
	b.log.Info("bridge", "connection closed", c.owner, c.hostname, msg)
	for _, channel := range c.channels {
		if channel.Joined() {
			b.component.SendUserLeave(b.iidFor(c, channel.Name), channel.SelfNick, msg, c.owner, true)
		}
	}
	b.removeClient(c)
}

func (b *Bridge) record(server, channelName, nick, body string) {
	if b.archive == nil {
		return
	}
	if err := b.archive.Record(server, channelName, nick, body); err != nil {
		b.log.Warning("database", "could not archive message", err.Error())
	}
}
