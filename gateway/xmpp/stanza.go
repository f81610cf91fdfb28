// released under the MIT license

package xmpp

import "encoding/xml"

// namespaces used on the component stream
const (
	NSComponentAccept = "jabber:component:accept"
	NSStreams         = "http://etherx.jabber.org/streams"
	NSStanzas         = "urn:ietf:params:xml:ns:xmpp-stanzas"
	NSMUC             = "http://jabber.org/protocol/muc"
	NSMUCUser         = "http://jabber.org/protocol/muc#user"
	NSMUCAdmin        = "http://jabber.org/protocol/muc#admin"
	NSMAM             = "urn:xmpp:mam:0"
	NSForward         = "urn:xmpp:forward:0"
	NSDelay           = "urn:xmpp:delay"
	NSRSM             = "http://jabber.org/protocol/rsm"
	NSDataForms       = "jabber:x:data"
)

// plainText is a child element whose only content is character data.
type plainText struct {
	Text string `xml:",chardata"`
}

// Message is a message stanza. Subject is a pointer so that an absent
// subject and an explicitly empty one stay distinguishable.
type Message struct {
	XMLName xml.Name     `xml:"message"`
	From    string       `xml:"from,attr,omitempty"`
	To      string       `xml:"to,attr,omitempty"`
	Type    string       `xml:"type,attr,omitempty"`
	ID      string       `xml:"id,attr,omitempty"`
	Body    string       `xml:"body,omitempty"`
	Subject *plainText   `xml:"subject,omitempty"`
	Result  *MAMResult   `xml:"urn:xmpp:mam:0 result,omitempty"`
	Error   *StanzaError `xml:"error,omitempty"`
}

// Presence is a presence stanza, with the muc and muc#user extension
// payloads the gateway uses.
type Presence struct {
	XMLName xml.Name     `xml:"presence"`
	From    string       `xml:"from,attr,omitempty"`
	To      string       `xml:"to,attr,omitempty"`
	Type    string       `xml:"type,attr,omitempty"`
	ID      string       `xml:"id,attr,omitempty"`
	Show    string       `xml:"show,omitempty"`
	Status  string       `xml:"status,omitempty"`
	MUC     *MUCJoin     `xml:"http://jabber.org/protocol/muc x,omitempty"`
	MUCUser *MUCUser     `xml:"http://jabber.org/protocol/muc#user x,omitempty"`
	Error   *StanzaError `xml:"error,omitempty"`
}

// IQ is an info/query stanza; only the muc#admin and MAM surfaces are
// modelled.
type IQ struct {
	XMLName    xml.Name     `xml:"iq"`
	From       string       `xml:"from,attr,omitempty"`
	To         string       `xml:"to,attr,omitempty"`
	Type       string       `xml:"type,attr,omitempty"`
	ID         string       `xml:"id,attr,omitempty"`
	AdminQuery *AdminQuery  `xml:"http://jabber.org/protocol/muc#admin query,omitempty"`
	MAMQuery   *MAMQuery    `xml:"urn:xmpp:mam:0 query,omitempty"`
	Fin        *MAMFin      `xml:"urn:xmpp:mam:0 fin,omitempty"`
	Error      *StanzaError `xml:"error,omitempty"`
}

// MUCJoin is the <x/> payload of a join request.
type MUCJoin struct {
	XMLName  xml.Name `xml:"http://jabber.org/protocol/muc x"`
	Password string   `xml:"password,omitempty"`
}

// MUCUser is the <x/> payload on occupant presence.
type MUCUser struct {
	XMLName  xml.Name    `xml:"http://jabber.org/protocol/muc#user x"`
	Items    []MUCItem   `xml:"item"`
	Statuses []MUCStatus `xml:"status"`
}

type MUCItem struct {
	Affiliation string    `xml:"affiliation,attr,omitempty"`
	Role        string    `xml:"role,attr,omitempty"`
	Nick        string    `xml:"nick,attr,omitempty"`
	JID         string    `xml:"jid,attr,omitempty"`
	Reason      string    `xml:"reason,omitempty"`
	Actor       *MUCActor `xml:"actor,omitempty"`
}

type MUCActor struct {
	Nick string `xml:"nick,attr,omitempty"`
}

type MUCStatus struct {
	Code int `xml:"code,attr"`
}

// well-known muc#user status codes
const (
	StatusSelfPresence = 110
	StatusNickChanged  = 303
	StatusKicked       = 307
)

// AdminQuery is the muc#admin <query/> payload.
type AdminQuery struct {
	XMLName xml.Name   `xml:"http://jabber.org/protocol/muc#admin query"`
	Items   []AdminItem `xml:"item"`
}

type AdminItem struct {
	Nick        string `xml:"nick,attr,omitempty"`
	Role        string `xml:"role,attr,omitempty"`
	Affiliation string `xml:"affiliation,attr,omitempty"`
	Reason      string `xml:"reason,omitempty"`
}

// MAMQuery is an inbound archive request: an optional data form with
// start/end bounds and an rsm set with the page size.
type MAMQuery struct {
	XMLName xml.Name  `xml:"urn:xmpp:mam:0 query"`
	QueryID string    `xml:"queryid,attr,omitempty"`
	Form    *DataForm `xml:"jabber:x:data x,omitempty"`
	Set     *RSMSet   `xml:"http://jabber.org/protocol/rsm set,omitempty"`
}

type DataForm struct {
	XMLName xml.Name    `xml:"jabber:x:data x"`
	Type    string      `xml:"type,attr,omitempty"`
	Fields  []FormField `xml:"field"`
}

type FormField struct {
	Var    string   `xml:"var,attr"`
	Values []string `xml:"value"`
}

// Value returns the field named v, or "".
func (form *DataForm) Value(v string) string {
	if form == nil {
		return ""
	}
	for _, field := range form.Fields {
		if field.Var == v && len(field.Values) > 0 {
			return field.Values[0]
		}
	}
	return ""
}

type RSMSet struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/rsm set"`
	Max     int      `xml:"max,omitempty"`
}

// MAMResult wraps one replayed line inside a carrier message.
type MAMResult struct {
	XMLName   xml.Name  `xml:"urn:xmpp:mam:0 result"`
	QueryID   string    `xml:"queryid,attr,omitempty"`
	ID        string    `xml:"id,attr"`
	Forwarded Forwarded `xml:"urn:xmpp:forward:0 forwarded"`
}

type Forwarded struct {
	XMLName xml.Name `xml:"urn:xmpp:forward:0 forwarded"`
	Delay   Delay    `xml:"urn:xmpp:delay delay"`
	Message Message  `xml:"message"`
}

type Delay struct {
	XMLName xml.Name `xml:"urn:xmpp:delay delay"`
	Stamp   string   `xml:"stamp,attr"`
}

// MAMFin closes an archive replay.
type MAMFin struct {
	XMLName  xml.Name `xml:"urn:xmpp:mam:0 fin"`
	QueryID  string   `xml:"queryid,attr,omitempty"`
	Complete bool     `xml:"complete,attr,omitempty"`
}

// StanzaError is a stanza-level error: a type attribute, a defined
// condition element in the stanzas namespace, and optional text.
type StanzaError struct {
	Type      string
	Condition string
	Text      string
}

func (e *StanzaError) MarshalXML(enc *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: "error"}
	start.Attr = []xml.Attr{{Name: xml.Name{Local: "type"}, Value: e.Type}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	condition := xml.StartElement{
		Name: xml.Name{Local: e.Condition},
		Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: NSStanzas}},
	}
	if err := enc.EncodeToken(condition); err != nil {
		return err
	}
	if err := enc.EncodeToken(condition.End()); err != nil {
		return err
	}
	if e.Text != "" {
		text := xml.StartElement{
			Name: xml.Name{Local: "text"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: NSStanzas}},
		}
		if err := enc.EncodeToken(text); err != nil {
			return err
		}
		if err := enc.EncodeToken(xml.CharData(e.Text)); err != nil {
			return err
		}
		if err := enc.EncodeToken(text.End()); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func (e *StanzaError) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		if attr.Name.Local == "type" {
			e.Type = attr.Value
		}
	}
	for {
		token, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "text" {
				var text plainText
				if err := dec.DecodeElement(&text, &t); err != nil {
					return err
				}
				e.Text = text.Text
			} else {
				e.Condition = t.Name.Local
				if err := dec.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			return nil
		}
	}
}
