// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package gateway

import "strings"

// ModeChange is a single parsed mode operation on a channel or on a
// member of it.
type ModeChange struct {
	Mode byte
	Add  bool
	// Arg is the consumed argument; for a membership mode it is the
	// target nickname.
	Arg string
	// Membership is true when Mode grants a channel-user privilege
	// (from the ISUPPORT PREFIX table) rather than a channel mode.
	Membership bool
}

// ParseChannelModeChanges interprets a MODE parameter list
// (mode string followed by its arguments) against the server's
// advertised capability classes:
// membership prefixes and classes A and B always consume an argument,
// class C only when adding, class D never. Unknown mode letters are
// treated as class D so a malformed burst cannot shift later arguments
// onto the wrong modes.
func (caps *Capabilities) ParseChannelModeChanges(params []string) (changes []ModeChange) {
	if len(params) == 0 {
		return
	}
	modeString := params[0]
	args := params[1:]
	add := true

	takeArg := func() string {
		if len(args) == 0 {
			return ""
		}
		arg := args[0]
		args = args[1:]
		return arg
	}

	for i := 0; i < len(modeString); i++ {
		mode := modeString[i]
		switch mode {
		case '+':
			add = true
			continue
		case '-':
			add = false
			continue
		}
		change := ModeChange{Mode: mode, Add: add}
		switch {
		case strings.IndexByte(caps.ModeOrder, mode) >= 0:
			change.Membership = true
			change.Arg = takeArg()
			if change.Arg == "" {
				continue
			}
		case strings.IndexByte(caps.ChanModesA, mode) >= 0,
			strings.IndexByte(caps.ChanModesB, mode) >= 0:
			change.Arg = takeArg()
		case strings.IndexByte(caps.ChanModesC, mode) >= 0:
			if add {
				change.Arg = takeArg()
			}
		default:
			// class D or unknown: no argument
		}
		changes = append(changes, change)
	}
	return
}
