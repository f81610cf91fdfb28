// released under the MIT license

package gateway

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lep/biboumi/gateway/database"
	"github.com/lep/biboumi/gateway/eventloop"
	"github.com/lep/biboumi/gateway/logger"
)

// newTestBridgeWithStore builds a bridge backed by a real datastore,
// which also serves as the archive.
func newTestBridgeWithStore(t *testing.T) (*Bridge, *fakeComponent, *database.Store) {
	t.Helper()
	logman, err := logger.NewManager(nil)
	if err != nil {
		t.Fatal(err)
	}
	store, err := database.Open(filepath.Join(t.TempDir(), "biboumi.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	config := &Config{}
	config.Gateway.TLSPorts = []string{"6697"}
	config.Gateway.PlainPorts = []string{"6667"}
	component := &fakeComponent{}
	bridge := NewBridge(eventloop.NewLoop(), logman, config, component, store, store)
	return bridge, component, store
}

func lastGatewayReply(t *testing.T, component *fakeComponent) string {
	t.Helper()
	replies := component.byMethod("gateway-message")
	if len(replies) == 0 {
		t.Fatal("no reply from the gateway")
	}
	return replies[len(replies)-1].args[0]
}

func TestSettingsSetAndGetGlobal(t *testing.T) {
	bridge, component, store := newTestBridgeWithStore(t)

	bridge.HandleGatewayChat(testOwner, "set max-history-length 40")
	if reply := lastGatewayReply(t, component); !strings.Contains(reply, "set") {
		t.Fatalf("bad reply: %q", reply)
	}
	if store.GlobalOptions(testOwner).MaxHistoryLength != 40 {
		t.Fatal("global option not persisted")
	}

	bridge.HandleGatewayChat(testOwner, "get")
	if reply := lastGatewayReply(t, component); !strings.Contains(reply, "max-history-length=40") {
		t.Fatalf("bad get reply: %q", reply)
	}
}

func TestSettingsServerOptions(t *testing.T) {
	bridge, component, store := newTestBridgeWithStore(t)

	bridge.HandleGatewayChat(testOwner, "set "+testServer+" tls-ports 6697,7000")
	bridge.HandleGatewayChat(testOwner, "set "+testServer+" fingerprint ab:cd:ef")

	options := store.ServerOptions(testOwner, testServer)
	if len(options.TLSPorts) != 2 || options.TLSPorts[1] != "7000" {
		t.Fatalf("tls-ports not persisted: %+v", options)
	}
	if options.Fingerprint != "ab:cd:ef" {
		t.Fatalf("fingerprint not persisted: %+v", options)
	}

	// the stored ladder is picked up by the next client
	ladder := bridge.portLadder(testOwner, testServer)
	if len(ladder) != 3 || ladder[1].Port != "7000" || !ladder[1].TLS {
		t.Fatalf("stored ports must feed the ladder: %+v", ladder)
	}

	bridge.HandleGatewayChat(testOwner, "get "+testServer)
	if reply := lastGatewayReply(t, component); !strings.Contains(reply, "tls-ports=6697,7000") {
		t.Fatalf("bad get reply: %q", reply)
	}
}

func TestSettingsChannelCascade(t *testing.T) {
	bridge, component, _ := newTestBridgeWithStore(t)
	channelTarget := "#a%" + testServer

	bridge.HandleGatewayChat(testOwner, "set encoding-in latin-1")
	bridge.HandleGatewayChat(testOwner, "set "+channelTarget+" max-history-length 10")

	// the channel get shows effective values, scopes folded in
	bridge.HandleGatewayChat(testOwner, "get "+channelTarget)
	reply := lastGatewayReply(t, component)
	if !strings.Contains(reply, "max-history-length=10") || !strings.Contains(reply, `encoding-in="latin-1"`) {
		t.Fatalf("cascade not applied: %q", reply)
	}
}

func TestSettingsUnknownCommandShowsHelp(t *testing.T) {
	bridge, component, _ := newTestBridgeWithStore(t)
	bridge.HandleGatewayChat(testOwner, "frobnicate")
	if reply := lastGatewayReply(t, component); !strings.Contains(reply, "Commands:") {
		t.Fatalf("expected help text, got %q", reply)
	}
}

func TestArchiveQueryReplaysHistory(t *testing.T) {
	bridge, component, _ := newTestBridgeWithStore(t)
	client, _ := newTestClient(t, bridge)
	joinTestChannel(t, client, "#a")

	client.feed(t, ":alice!a@h PRIVMSG #a :first")
	client.feed(t, ":alice!a@h PRIVMSG #a :second")

	bridge.HandleArchiveQuery(testOwner, "#a%"+testServer, "iq1", "q1", time.Time{}, time.Time{}, 0)

	replayed := component.byMethod("archived-message")
	if len(replayed) != 2 || replayed[0].args[3] != "first" || replayed[1].args[3] != "second" {
		t.Fatalf("bad replay: %+v", replayed)
	}
	fins := component.byMethod("archive-fin")
	if len(fins) != 1 || fins[0].args[1] != "iq1" || fins[0].args[2] != "q1" || !fins[0].self {
		t.Fatalf("bad fin: %+v", fins)
	}
}

func TestArchiveQueryHonorsChannelLimit(t *testing.T) {
	bridge, component, _ := newTestBridgeWithStore(t)
	client, _ := newTestClient(t, bridge)
	joinTestChannel(t, client, "#a")

	bridge.HandleGatewayChat(testOwner, "set #a%"+testServer+" max-history-length 1")
	client.feed(t, ":alice!a@h PRIVMSG #a :first")
	client.feed(t, ":alice!a@h PRIVMSG #a :second")

	bridge.HandleArchiveQuery(testOwner, "#a%"+testServer, "iq1", "q1", time.Time{}, time.Time{}, 0)
	replayed := component.byMethod("archived-message")
	if len(replayed) != 1 || replayed[0].args[3] != "second" {
		t.Fatalf("limit must keep only the newest line: %+v", replayed)
	}
}

func TestArchiveQueryWithoutArchive(t *testing.T) {
	bridge, component := newTestBridge(t)
	bridge.HandleArchiveQuery(testOwner, "#a%"+testServer, "iq1", "q1", time.Time{}, time.Time{}, 0)
	errors := component.byMethod("stanza-error")
	if len(errors) != 1 || errors[0].args[2] != "feature-not-implemented" {
		t.Fatalf("expected feature-not-implemented, got %+v", errors)
	}
}
