// released under the MIT license

package gateway

import (
	"fmt"
	"strconv"
	"strings"
)

// The settings surface: chat messages sent to the gateway's own bare
// address carry get/set commands over the per-user persistent options.
// Targets are the usual identifiers: none for the global scope, a bare
// server host, or `#chan%server`.

const settingsHelp = `Commands:
get [target]                 show options (effective, for a channel)
set <key> <value>            set a global option
set <target> <key> <value>   set a server or channel option
Global and channel keys: max-history-length, encoding-in, encoding-out.
Server keys also: ports, tls-ports (comma-separated), fingerprint, nick, username, realname.`

// HandleGatewayChat runs one settings command and replies from the
// gateway's own address.
func (b *Bridge) HandleGatewayChat(owner, body string) {
	b.component.SendGatewayMessage(owner, b.runSettingsCommand(owner, strings.Fields(body)))
}

func (b *Bridge) runSettingsCommand(owner string, args []string) string {
	if b.db == nil {
		return "No datastore is configured"
	}
	if len(args) == 0 {
		return settingsHelp
	}
	switch strings.ToLower(args[0]) {
	case "get":
		target := ""
		if len(args) >= 2 {
			target = args[1]
		}
		return b.showOptions(owner, target)
	case "set":
		return b.setOption(owner, args[1:])
	default:
		return settingsHelp
	}
}

func (b *Bridge) showOptions(owner, target string) string {
	if target == "" {
		options := b.db.GlobalOptions(owner)
		return fmt.Sprintf("Global options: max-history-length=%d encoding-in=%q encoding-out=%q",
			options.MaxHistoryLength, options.EncodingIn, options.EncodingOut)
	}
	iid := ParseIID(target, b.chanTypes(owner, target))
	switch iid.Type {
	case IIDServer:
		options := b.db.ServerOptions(owner, iid.Server)
		return fmt.Sprintf("Options for %s: ports=%s tls-ports=%s fingerprint=%q nick=%q username=%q realname=%q max-history-length=%d encoding-in=%q encoding-out=%q",
			iid.Server, strings.Join(options.Ports, ","), strings.Join(options.TLSPorts, ","),
			options.Fingerprint, options.Nick, options.Username, options.Realname,
			options.MaxHistoryLength, options.EncodingIn, options.EncodingOut)
	case IIDChannel:
		// the effective values, scopes folded in
		options := b.db.ChannelOptionsWithDefaults(owner, iid.Server, iid.Local)
		return fmt.Sprintf("Effective options for %s: max-history-length=%d encoding-in=%q encoding-out=%q",
			target, options.MaxHistoryLength, options.EncodingIn, options.EncodingOut)
	}
	return "Unknown target " + target
}

func (b *Bridge) setOption(owner string, args []string) string {
	switch len(args) {
	case 2:
		return b.setGlobalOption(owner, strings.ToLower(args[0]), args[1])
	case 3:
		iid := ParseIID(args[0], b.chanTypes(owner, args[0]))
		key, value := strings.ToLower(args[1]), args[2]
		switch iid.Type {
		case IIDServer:
			return b.setServerOption(owner, iid.Server, key, value)
		case IIDChannel:
			return b.setChannelOption(owner, iid, key, value)
		}
		return "Unknown target " + args[0]
	}
	return settingsHelp
}

func (b *Bridge) setGlobalOption(owner, key, value string) string {
	options := b.db.GlobalOptions(owner)
	switch key {
	case "max-history-length":
		length, err := strconv.Atoi(value)
		if err != nil {
			return "max-history-length must be a number"
		}
		options.MaxHistoryLength = length
	case "encoding-in":
		options.EncodingIn = value
	case "encoding-out":
		options.EncodingOut = value
	default:
		return "Unknown global option " + key
	}
	if err := b.db.SetGlobalOptions(owner, options); err != nil {
		return "Could not save options: " + err.Error()
	}
	return "Option " + key + " set"
}

func (b *Bridge) setServerOption(owner, server, key, value string) string {
	options := b.db.ServerOptions(owner, server)
	switch key {
	case "ports":
		options.Ports = splitPorts(value)
	case "tls-ports":
		options.TLSPorts = splitPorts(value)
	case "fingerprint":
		options.Fingerprint = value
	case "nick":
		options.Nick = value
	case "username":
		options.Username = value
	case "realname":
		options.Realname = value
	case "max-history-length":
		length, err := strconv.Atoi(value)
		if err != nil {
			return "max-history-length must be a number"
		}
		options.MaxHistoryLength = length
	case "encoding-in":
		options.EncodingIn = value
	case "encoding-out":
		options.EncodingOut = value
	default:
		return "Unknown server option " + key
	}
	if err := b.db.SetServerOptions(owner, server, options); err != nil {
		return "Could not save options: " + err.Error()
	}
	// a live client picks the change up on its next connection; pins
	// apply immediately
	if client := b.findClient(owner, server); client != nil && key == "fingerprint" {
		client.handler.TrustedFingerprint = value
	}
	return "Option " + key + " set for " + server
}

func (b *Bridge) setChannelOption(owner string, iid IID, key, value string) string {
	options := b.db.ChannelOptions(owner, iid.Server, iid.Local)
	switch key {
	case "max-history-length":
		length, err := strconv.Atoi(value)
		if err != nil {
			return "max-history-length must be a number"
		}
		options.MaxHistoryLength = length
	case "encoding-in":
		options.EncodingIn = value
	case "encoding-out":
		options.EncodingOut = value
	default:
		return "Unknown channel option " + key
	}
	if err := b.db.SetChannelOptions(owner, iid.Server, iid.Local, options); err != nil {
		return "Could not save options: " + err.Error()
	}
	return "Option " + key + " set for " + iid.String()
}

func splitPorts(value string) (ports []string) {
	for _, port := range strings.Split(value, ",") {
		port = strings.TrimSpace(port)
		if port != "" {
			ports = append(ports, port)
		}
	}
	return
}
