// released under the MIT license

package xmpp

import "strings"

// JID is a component-protocol address, localpart@domain/resource.
type JID struct {
	Local    string
	Domain   string
	Resource string
}

// ParseJID splits an address into its three parts. It does not
// validate against the full addressing rules; the gateway only needs
// the structural split.
func ParseJID(s string) (jid JID) {
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		jid.Resource = s[idx+1:]
		s = s[:idx]
	}
	if idx := strings.IndexByte(s, '@'); idx >= 0 {
		jid.Local = s[:idx]
		jid.Domain = s[idx+1:]
	} else {
		jid.Domain = s
	}
	return
}

// Bare returns the address without the resource.
func (jid JID) Bare() string {
	if jid.Local == "" {
		return jid.Domain
	}
	return jid.Local + "@" + jid.Domain
}

func (jid JID) String() string {
	s := jid.Bare()
	if jid.Resource != "" {
		s += "/" + jid.Resource
	}
	return s
}
