// released under the MIT license

package gateway

import "testing"

func TestParseIID(t *testing.T) {
	cases := []struct {
		in     string
		typ    IIDType
		local  string
		server string
	}{
		{"#chan%irc.example.com", IIDChannel, "#chan", "irc.example.com"},
		{"&chan%irc.example.com", IIDChannel, "&chan", "irc.example.com"},
		{"nick%irc.example.com", IIDUser, "nick", "irc.example.com"},
		{"%irc.example.com", IIDServer, "", "irc.example.com"},
		{"irc.example.com", IIDServer, "", "irc.example.com"},
		{"#chan%", IIDChannel, "#chan", ""},
	}
	for _, c := range cases {
		iid := ParseIID(c.in, "#&")
		if iid.Type != c.typ || iid.Local != c.local || iid.Server != c.server {
			t.Errorf("ParseIID(%q) = %+v, want type=%v local=%q server=%q",
				c.in, iid, c.typ, c.local, c.server)
		}
	}
}

func TestIIDString(t *testing.T) {
	iid := ParseIID("#chan%irc.example.com", "#&")
	if iid.String() != "#chan%irc.example.com" {
		t.Fatalf("round trip failed: %q", iid.String())
	}
	server := ParseIID("irc.example.com", "#&")
	if server.String() != "irc.example.com" {
		t.Fatalf("server iid round trip failed: %q", server.String())
	}
}

func TestParseIIDCustomChanTypes(t *testing.T) {
	iid := ParseIID("+chan%irc.example.com", "#&+")
	if iid.Type != IIDChannel {
		t.Fatalf("'+' should be a channel marker here, got %v", iid.Type)
	}
	iid = ParseIID("+chan%irc.example.com", "#&")
	if iid.Type != IIDUser {
		t.Fatalf("'+' should not be a channel marker here, got %v", iid.Type)
	}
}
