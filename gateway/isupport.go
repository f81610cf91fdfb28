// Copyright (c) 2016 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package gateway

import "strings"

// Capabilities is the per-server capability state accumulated from
// RPL_ISUPPORT (005) tokens: the four channel-mode classes, the channel
// type markers, and the membership prefix table.
type Capabilities struct {
	// channel modes by class, e.g. A listable-with-arg ... D flag-only
	ChanModesA string
	ChanModesB string
	ChanModesC string
	ChanModesD string

	// characters that mark a channel name ('#', '&', ...)
	ChanTypes string

	// membership prefix symbol -> mode letter ('@' -> 'o')
	PrefixToMode map[byte]byte
	// mode letters in descending privilege order ("ov")
	ModeOrder string
}

// NewCapabilities returns the RFC 1459 defaults assumed until the
// server advertises otherwise.
func NewCapabilities() Capabilities {
	caps := Capabilities{
		ChanModesA: "beI",
		ChanModesB: "k",
		ChanModesC: "l",
		ChanModesD: "imnpst",
		ChanTypes:  "#&",
	}
	caps.setPrefix("ov", "@+")
	return caps
}

func (caps *Capabilities) setPrefix(modes, symbols string) {
	caps.PrefixToMode = make(map[byte]byte, len(symbols))
	for i := 0; i < len(symbols); i++ {
		caps.PrefixToMode[symbols[i]] = modes[i]
	}
	caps.ModeOrder = modes
}

// ParseISupport reads one 005 parameter list. The leading target
// nickname and the trailing human-readable text are not tokens; the
// caller passes only the tokens. Recognized keys are CHANMODES,
// CHANTYPES and PREFIX; every other token is ignored.
func (caps *Capabilities) ParseISupport(tokens []string) {
	for _, token := range tokens {
		key, value := token, ""
		if idx := strings.IndexByte(token, '='); idx >= 0 {
			key, value = token[:idx], token[idx+1:]
		}
		switch key {
		case "CHANMODES":
			classes := strings.Split(value, ",")
			if len(classes) < 4 {
				continue
			}
			caps.ChanModesA = classes[0]
			caps.ChanModesB = classes[1]
			caps.ChanModesC = classes[2]
			caps.ChanModesD = classes[3]
		case "CHANTYPES":
			caps.ChanTypes = value
		case "PREFIX":
			// "(modes)symbols", both halves the same length
			if len(value) < 2 || value[0] != '(' {
				continue
			}
			closing := strings.IndexByte(value, ')')
			if closing < 0 {
				continue
			}
			modes := value[1:closing]
			symbols := value[closing+1:]
			if len(modes) != len(symbols) || len(modes) == 0 {
				continue
			}
			caps.setPrefix(modes, symbols)
		}
	}
}

// IsChannelName reports whether target starts with one of the server's
// channel type markers.
func (caps *Capabilities) IsChannelName(target string) bool {
	return len(target) > 0 && strings.ContainsRune(caps.ChanTypes, rune(target[0]))
}

// SplitMembershipPrefixes takes a NAMES token and returns the mode
// letters granted by its leading prefix symbols, then the bare nick.
func (caps *Capabilities) SplitMembershipPrefixes(token string) (modes []byte, nick string) {
	nick = token
	for len(nick) > 0 {
		mode, ok := caps.PrefixToMode[nick[0]]
		if !ok {
			break
		}
		modes = append(modes, mode)
		nick = nick[1:]
	}
	return
}
