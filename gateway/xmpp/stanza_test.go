// released under the MIT license

package xmpp

import (
	"encoding/xml"
	"strings"
	"testing"
)

func TestPresenceJoinDecodes(t *testing.T) {
	raw := `<presence from='user@example.com/res' to='#chan%irc.example.org@gw.example.com/Nick'>` +
		`<x xmlns='http://jabber.org/protocol/muc'><password>sekrit</password></x></presence>`
	var p Presence
	if err := xml.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatal(err)
	}
	if p.Type != "" || p.MUC == nil || p.MUC.Password != "sekrit" {
		t.Fatalf("bad decode: %+v", p)
	}
	to := ParseJID(p.To)
	if to.Local != "#chan%irc.example.org" || to.Resource != "Nick" {
		t.Fatalf("bad to: %+v", to)
	}
}

func TestPresenceWithMUCUserEncodes(t *testing.T) {
	p := &Presence{
		From: "#chan%irc.example.org@gw.example.com/alice",
		To:   "user@example.com",
		MUCUser: &MUCUser{
			Items:    []MUCItem{{Affiliation: "admin", Role: "moderator"}},
			Statuses: []MUCStatus{{Code: StatusSelfPresence}},
		},
	}
	raw, err := xml.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	s := string(raw)
	for _, want := range []string{
		`xmlns="http://jabber.org/protocol/muc#user"`,
		`affiliation="admin"`,
		`role="moderator"`,
		`code="110"`,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %q in %s", want, s)
		}
	}
}

func TestStanzaErrorRoundTrip(t *testing.T) {
	m := &Message{
		From: "gw.example.com", To: "user@example.com", Type: "error",
		Error: &StanzaError{Type: "cancel", Condition: "item-not-found", Text: "no such channel"},
	}
	raw, err := xml.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	s := string(raw)
	for _, want := range []string{
		`type="cancel"`,
		`<item-not-found xmlns="` + NSStanzas + `">`,
		`no such channel`,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %q in %s", want, s)
		}
	}

	var decoded Message
	if err := xml.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Error == nil || decoded.Error.Condition != "item-not-found" ||
		decoded.Error.Text != "no such channel" || decoded.Error.Type != "cancel" {
		t.Fatalf("bad error round trip: %+v", decoded.Error)
	}
}

func TestSubjectAbsencePreserved(t *testing.T) {
	withSubject := &Message{Type: "groupchat", Subject: &plainText{Text: ""}}
	raw, _ := xml.Marshal(withSubject)
	if !strings.Contains(string(raw), "<subject") {
		t.Fatalf("explicit empty subject must be emitted: %s", raw)
	}
	withoutSubject := &Message{Type: "groupchat", Body: "hi"}
	raw, _ = xml.Marshal(withoutSubject)
	if strings.Contains(string(raw), "<subject") {
		t.Fatalf("absent subject must stay absent: %s", raw)
	}
}
