// released under the MIT license

package xmpp

import "testing"

func TestParseJID(t *testing.T) {
	cases := []struct {
		in                      string
		local, domain, resource string
	}{
		{"user@example.com/resource", "user", "example.com", "resource"},
		{"user@example.com", "user", "example.com", ""},
		{"example.com", "", "example.com", ""},
		{"example.com/resource", "", "example.com", "resource"},
		{"#chan%irc.example.org@biboumi.example.com/Nick", "#chan%irc.example.org", "biboumi.example.com", "Nick"},
	}
	for _, c := range cases {
		jid := ParseJID(c.in)
		if jid.Local != c.local || jid.Domain != c.domain || jid.Resource != c.resource {
			t.Errorf("ParseJID(%q) = %+v", c.in, jid)
		}
	}
}

func TestBareAndString(t *testing.T) {
	jid := ParseJID("user@example.com/res")
	if jid.Bare() != "user@example.com" {
		t.Fatalf("bad bare: %q", jid.Bare())
	}
	if jid.String() != "user@example.com/res" {
		t.Fatalf("bad string: %q", jid.String())
	}
	domainOnly := ParseJID("example.com")
	if domainOnly.Bare() != "example.com" {
		t.Fatalf("bad domain-only bare: %q", domainOnly.Bare())
	}
}
