// released under the MIT license

// Package xmpp implements the component-protocol boundary: an XEP-0114
// stream to the component server, stanza parsing on a dedicated
// goroutine, and a stanza sink used by the bridge. Parsed stanzas are
// posted onto the event loop before they touch gateway state.
package xmpp

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lep/biboumi/gateway/database"
	"github.com/lep/biboumi/gateway/eventloop"
	"github.com/lep/biboumi/gateway/logger"
)

// GatewayHandler receives the decoded component traffic. All calls run
// on the event loop.
type GatewayHandler interface {
	HandleJoin(owner, node, nick string)
	HandleLeave(owner, node, nick, status string)
	HandleGroupchat(owner, node, body, subject string)
	HandleChat(owner, node, resource, body string)
	HandleGatewayChat(owner, body string)
	HandleKick(owner, node, nick, reason string)
	HandleArchiveQuery(owner, node, iqID, queryID string, start, end time.Time, max int)
}

// Component is one XEP-0114 session with the component server. It
// serves a single hostname and appears to the component network as the
// whole gateway.
type Component struct {
	Name   string // served hostname
	Secret string
	Addr   string // component server host:port

	Handler GatewayHandler
	// OnReady runs on the loop once the handshake is accepted
	OnReady func()
	// OnClosed runs on the loop when the stream dies; err may be nil on
	// an orderly close
	OnClosed func(err error)

	loop *eventloop.Loop
	log  *logger.Manager

	conn      net.Conn
	writeLock sync.Mutex

	closed bool
}

func NewComponent(loop *eventloop.Loop, log *logger.Manager, name, secret, addr string) *Component {
	return &Component{
		Name:   name,
		Secret: secret,
		Addr:   addr,
		loop:   loop,
		log:    log,
	}
}

// Start dials the component server, opens the stream and spawns the
// reader goroutine that performs the handshake and decodes stanzas.
func (c *Component) Start() error {
	conn, err := net.DialTimeout("tcp", c.Addr, 10*time.Second)
	if err != nil {
		return err
	}
	c.conn = conn

	header := fmt.Sprintf(
		"<?xml version='1.0'?><stream:stream xmlns='%s' xmlns:stream='%s' to='%s'>",
		NSComponentAccept, NSStreams, xmlEscape(c.Name))
	if err := c.writeRaw(header); err != nil {
		conn.Close()
		return err
	}

	go c.readLoop()
	return nil
}

// Close ends the stream; the reader goroutine notices and reports
// through OnClosed.
func (c *Component) Close() {
	if c.conn == nil {
		return
	}
	c.writeRaw("</stream:stream>")
	c.conn.Close()
}

func (c *Component) readLoop() {
	decoder := xml.NewDecoder(c.conn)

	streamID, err := c.awaitStreamHeader(decoder)
	if err != nil {
		c.dispatchClosed(err)
		return
	}

	// handshake: hex sha1 of stream id concatenated with the secret
	sum := sha1.Sum([]byte(streamID + c.Secret))
	if err := c.writeRaw("<handshake>" + hex.EncodeToString(sum[:]) + "</handshake>"); err != nil {
		c.dispatchClosed(err)
		return
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			c.dispatchClosed(err)
			return
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "handshake":
			decoder.Skip()
			c.log.Info("xmpp", "component handshake accepted for", c.Name)
			c.loop.Post(func() {
				if c.OnReady != nil {
					c.OnReady()
				}
			})
		case "message":
			var message Message
			if err := decoder.DecodeElement(&message, &start); err != nil {
				c.dispatchClosed(err)
				return
			}
			c.loop.Post(func() { c.routeMessage(&message) })
		case "presence":
			var presence Presence
			if err := decoder.DecodeElement(&presence, &start); err != nil {
				c.dispatchClosed(err)
				return
			}
			c.loop.Post(func() { c.routePresence(&presence) })
		case "iq":
			var iq IQ
			if err := decoder.DecodeElement(&iq, &start); err != nil {
				c.dispatchClosed(err)
				return
			}
			c.loop.Post(func() { c.routeIQ(&iq) })
		case "error":
			c.dispatchClosed(fmt.Errorf("stream error from server"))
			return
		default:
			decoder.Skip()
		}
	}
}

func (c *Component) awaitStreamHeader(decoder *xml.Decoder) (id string, err error) {
	for {
		token, err := decoder.Token()
		if err != nil {
			return "", err
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "stream" {
			return "", fmt.Errorf("unexpected stream open element <%s>", start.Name.Local)
		}
		for _, attr := range start.Attr {
			if attr.Name.Local == "id" {
				return attr.Value, nil
			}
		}
		return "", fmt.Errorf("stream header carries no id")
	}
}

func (c *Component) dispatchClosed(err error) {
	c.loop.Post(func() {
		if c.closed {
			return
		}
		c.closed = true
		if err != nil {
			c.log.Warning("xmpp", "component stream closed", err.Error())
		}
		if c.OnClosed != nil {
			c.OnClosed(err)
		}
	})
}

//
// inbound routing; runs on the loop
//

func (c *Component) routePresence(p *Presence) {
	from := ParseJID(p.From)
	to := ParseJID(p.To)
	if from.Domain == "" || to.Domain == "" {
		c.log.Warning("xmpp", "dropping presence without from or to")
		return
	}
	owner := from.Bare()
	switch p.Type {
	case "":
		c.Handler.HandleJoin(owner, to.Local, to.Resource)
	case "unavailable":
		c.Handler.HandleLeave(owner, to.Local, to.Resource, p.Status)
	}
}

func (c *Component) routeMessage(m *Message) {
	from := ParseJID(m.From)
	to := ParseJID(m.To)
	if from.Domain == "" || to.Domain == "" {
		return
	}
	owner := from.Bare()
	switch m.Type {
	case "groupchat":
		subject := ""
		if m.Subject != nil {
			subject = m.Subject.Text
		}
		c.Handler.HandleGroupchat(owner, to.Local, m.Body, subject)
	case "chat", "", "normal":
		if m.Body == "" {
			return
		}
		if to.Local == "" && to.Domain == c.Name {
			// addressed to the gateway itself: the settings surface
			c.Handler.HandleGatewayChat(owner, m.Body)
			return
		}
		c.Handler.HandleChat(owner, to.Local, to.Resource, m.Body)
	case "error":
		c.log.Debug("xmpp", "ignoring error message from", m.From)
	}
}

// parseStamp reads an RFC 3339 bound from a MAM form; the zero time
// disables the bound.
func parseStamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	stamp, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return stamp
}

func (c *Component) routeIQ(iq *IQ) {
	from := ParseJID(iq.From)
	to := ParseJID(iq.To)
	if iq.Type == "set" && iq.MAMQuery != nil {
		query := iq.MAMQuery
		start := parseStamp(query.Form.Value("start"))
		end := parseStamp(query.Form.Value("end"))
		max := 0
		if query.Set != nil {
			max = query.Set.Max
		}
		c.Handler.HandleArchiveQuery(from.Bare(), to.Local, iq.ID, query.QueryID, start, end, max)
		return
	}
	if iq.Type == "set" && iq.AdminQuery != nil {
		for _, item := range iq.AdminQuery.Items {
			if item.Nick != "" && item.Role == "none" {
				c.Handler.HandleKick(from.Bare(), to.Local, item.Nick, item.Reason)
				c.send(&IQ{From: iq.To, To: iq.From, Type: "result", ID: iq.ID})
				return
			}
		}
	}
	if iq.Type == "result" || iq.Type == "error" {
		return
	}
	c.send(&IQ{
		From: iq.To, To: iq.From, Type: "error", ID: iq.ID,
		Error: &StanzaError{Type: "cancel", Condition: "feature-not-implemented"},
	})
}

//
// outbound: the bridge's ComponentSender
//

func (c *Component) roomJID(iid string) string {
	return iid + "@" + c.Name
}

func (c *Component) occupantJID(iid, nick string) string {
	jid := c.roomJID(iid)
	if nick != "" {
		jid += "/" + nick
	}
	return jid
}

func (c *Component) SendMUCMessage(iid, nick, owner, body string) {
	c.send(&Message{From: c.occupantJID(iid, nick), To: owner, Type: "groupchat", Body: body})
}

func (c *Component) SendServerMessage(server, from, owner, body string) {
	c.send(&Message{From: c.occupantJID(server, from), To: owner, Type: "chat", Body: body})
}

func (c *Component) SendPrivateMessage(iid, owner, body string) {
	c.send(&Message{From: c.roomJID(iid), To: owner, Type: "chat", Body: body})
}

func (c *Component) SendUserJoin(iid, nick, affiliation, role, owner string, self bool) {
	payload := &MUCUser{Items: []MUCItem{{Affiliation: affiliation, Role: role}}}
	if self {
		payload.Statuses = []MUCStatus{{Code: StatusSelfPresence}}
	}
	c.send(&Presence{From: c.occupantJID(iid, nick), To: owner, MUCUser: payload})
}

func (c *Component) SendUserLeave(iid, nick, reason, owner string, self bool) {
	payload := &MUCUser{Items: []MUCItem{{Affiliation: "none", Role: "none"}}}
	if self {
		payload.Statuses = []MUCStatus{{Code: StatusSelfPresence}}
	}
	c.send(&Presence{
		From: c.occupantJID(iid, nick), To: owner, Type: "unavailable",
		Status: reason, MUCUser: payload,
	})
}

// SendNickChange is the two-presence rename: unavailable with status
// 303 and the new nick, then a fresh join presence.
func (c *Component) SendNickChange(iid, oldNick, newNick, owner string) {
	c.send(&Presence{
		From: c.occupantJID(iid, oldNick), To: owner, Type: "unavailable",
		MUCUser: &MUCUser{
			Items:    []MUCItem{{Nick: newNick}},
			Statuses: []MUCStatus{{Code: StatusNickChanged}},
		},
	})
	c.send(&Presence{
		From: c.occupantJID(iid, newNick), To: owner,
		MUCUser: &MUCUser{Items: []MUCItem{{Affiliation: "none", Role: "participant"}}},
	})
}

func (c *Component) SendKick(iid, nick, reason, by, owner string, self bool) {
	item := MUCItem{Affiliation: "none", Role: "none", Reason: reason}
	if by != "" {
		item.Actor = &MUCActor{Nick: by}
	}
	payload := &MUCUser{Items: []MUCItem{item}, Statuses: []MUCStatus{{Code: StatusKicked}}}
	if self {
		payload.Statuses = append(payload.Statuses, MUCStatus{Code: StatusSelfPresence})
	}
	c.send(&Presence{From: c.occupantJID(iid, nick), To: owner, Type: "unavailable", MUCUser: payload})
}

func (c *Component) SendTopic(iid, nick, topic, owner string) {
	c.send(&Message{
		From: c.occupantJID(iid, nick), To: owner, Type: "groupchat",
		Subject: &plainText{Text: topic},
	})
}

func (c *Component) SendPresenceError(iid, nick, owner, errorType, condition, text string) {
	c.send(&Presence{
		From: c.occupantJID(iid, nick), To: owner, Type: "error",
		Error: &StanzaError{Type: errorType, Condition: condition, Text: text},
	})
}

func (c *Component) SendGatewayMessage(owner, body string) {
	c.send(&Message{From: c.Name, To: owner, Type: "chat", Body: body})
}

// SendArchivedMessage replays one stored channel line as a forwarded
// message with its original timestamp.
func (c *Component) SendArchivedMessage(owner, node, queryID string, line database.ArchiveLine) {
	c.send(&Message{
		To: owner, From: c.roomJID(node),
		Result: &MAMResult{
			QueryID: queryID,
			ID:      line.ID,
			Forwarded: Forwarded{
				Delay: Delay{Stamp: line.Time.UTC().Format(time.RFC3339)},
				Message: Message{
					From: c.occupantJID(node, line.Nick),
					Type: "groupchat",
					Body: line.Body,
				},
			},
		},
	})
}

// SendArchiveFin closes an archive replay with the result iq.
func (c *Component) SendArchiveFin(owner, node, iqID, queryID string, complete bool) {
	c.send(&IQ{
		From: c.roomJID(node), To: owner, Type: "result", ID: iqID,
		Fin: &MAMFin{QueryID: queryID, Complete: complete},
	})
}

func (c *Component) SendStanzaError(kind, node, owner, errorType, condition, text string) {
	stanzaError := &StanzaError{Type: errorType, Condition: condition, Text: text}
	switch kind {
	case "presence":
		c.send(&Presence{From: c.roomJID(node), To: owner, Type: "error", Error: stanzaError})
	case "iq":
		c.send(&IQ{From: c.roomJID(node), To: owner, Type: "error", Error: stanzaError})
	default:
		c.send(&Message{From: c.roomJID(node), To: owner, Type: "error", Error: stanzaError})
	}
}

//
// wire output
//

func (c *Component) send(stanza interface{}) {
	raw, err := xml.Marshal(stanza)
	if err != nil {
		c.log.Error("xmpp", "could not marshal stanza", err.Error())
		return
	}
	if err := c.writeRaw(string(raw)); err != nil {
		c.log.Warning("xmpp", "could not write stanza", err.Error())
	}
}

func (c *Component) writeRaw(s string) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	_, err := c.conn.Write([]byte(s))
	return err
}

func xmlEscape(s string) string {
	var buf []byte
	if err := xml.EscapeText((*sliceWriter)(&buf), []byte(s)); err != nil {
		return s
	}
	return string(buf)
}

type sliceWriter []byte

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
