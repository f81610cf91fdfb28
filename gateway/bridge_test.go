// released under the MIT license

package gateway

import (
	"strings"
	"testing"
)

func TestGroupchatIsSentAndReflected(t *testing.T) {
	bridge, component := newTestBridge(t)
	client, conn := newTestClient(t, bridge)
	joinTestChannel(t, client, "#a")

	bridge.HandleGroupchat(testOwner, "#a%"+testServer, "hello\nworld", "")

	var privmsgs []string
	for _, line := range conn.lines {
		if strings.HasPrefix(line, "PRIVMSG ") {
			privmsgs = append(privmsgs, line)
		}
	}
	if len(privmsgs) != 2 {
		t.Fatalf("body must be split on newlines into PRIVMSGs, got %v", privmsgs)
	}

	reflected := component.byMethod("muc-message")
	if len(reflected) != 1 || reflected[0].args[1] != "nick" || reflected[0].args[2] != "hello\nworld" {
		t.Fatalf("the author must see one reflected message, got %+v", reflected)
	}
}

func TestGroupchatWithoutClientReportsError(t *testing.T) {
	bridge, component := newTestBridge(t)
	bridge.HandleGroupchat(testOwner, "#a%"+testServer, "hello", "")
	errors := component.byMethod("stanza-error")
	if len(errors) != 1 || errors[0].args[2] != "remote-server-not-found" {
		t.Fatalf("expected remote-server-not-found, got %+v", errors)
	}
}

func TestGroupchatToUnjoinedChannel(t *testing.T) {
	bridge, component := newTestBridge(t)
	client, _ := newTestClient(t, bridge)
	client.feed(t, ":irc.example.test 001 nick :Welcome")
	bridge.HandleGroupchat(testOwner, "#elsewhere%"+testServer, "hello", "")
	if len(component.byMethod("muc-message")) != 0 {
		t.Fatal("nothing must be reflected for an unjoined channel")
	}
	if len(component.byMethod("stanza-error")) != 1 {
		t.Fatal("the sender must get an error")
	}
}

func TestSubjectChangeBecomesTopic(t *testing.T) {
	bridge, _ := newTestBridge(t)
	client, conn := newTestClient(t, bridge)
	joinTestChannel(t, client, "#a")
	bridge.HandleGroupchat(testOwner, "#a%"+testServer, "", "new topic")
	if !conn.sent("TOPIC #a :new topic") {
		t.Fatalf("expected a TOPIC command, got %v", conn.lines)
	}
}

func TestPrivateChatRouting(t *testing.T) {
	bridge, _ := newTestBridge(t)
	client, conn := newTestClient(t, bridge)
	joinTestChannel(t, client, "#a")

	// direct nick%server addressing
	bridge.HandleChat(testOwner, "bob%"+testServer, "", "hi")
	if !conn.sent("PRIVMSG bob hi") {
		t.Fatalf("expected a private PRIVMSG, got %v", conn.lines)
	}
	if !client.privateNicks["bob"] {
		t.Fatal("bob must be tracked as a private conversation")
	}

	// in-room addressing chan%server/Nick routes to the nick
	bridge.HandleChat(testOwner, "#a%"+testServer, "Alice", "psst")
	if !conn.sent("PRIVMSG Alice psst") {
		t.Fatalf("expected a PRIVMSG to the occupant, got %v", conn.lines)
	}
}

func TestChatToServerIsRaw(t *testing.T) {
	bridge, _ := newTestBridge(t)
	client, conn := newTestClient(t, bridge)
	joinTestChannel(t, client, "#a")
	bridge.HandleChat(testOwner, testServer, "", "STATS u")
	if !conn.sent("STATS u") {
		t.Fatalf("expected the raw line on the wire, got %v", conn.lines)
	}
}

func TestInboundPrivmsgToUser(t *testing.T) {
	bridge, component := newTestBridge(t)
	client, _ := newTestClient(t, bridge)
	joinTestChannel(t, client, "#a")
	client.feed(t, ":alice!a@h PRIVMSG nick :hello you")
	messages := component.byMethod("private-message")
	if len(messages) != 1 || messages[0].args[0] != "alice%"+testServer {
		t.Fatalf("bad private routing: %+v", messages)
	}
	if !client.privateNicks["alice"] {
		t.Fatal("alice must join the private conversation set")
	}
}

func TestInboundChannelMessage(t *testing.T) {
	bridge, component := newTestBridge(t)
	client, _ := newTestClient(t, bridge)
	joinTestChannel(t, client, "#a")
	client.feed(t, ":alice!a@h PRIVMSG #a :hello all")
	messages := component.byMethod("muc-message")
	if len(messages) != 1 || messages[0].args[0] != "#a%"+testServer ||
		messages[0].args[1] != "alice" || messages[0].args[2] != "hello all" {
		t.Fatalf("bad channel message: %+v", messages)
	}
}

func TestLeaveWithoutClientConfirms(t *testing.T) {
	bridge, component := newTestBridge(t)
	bridge.HandleLeave(testOwner, "#a%"+testServer, "nick", "bye")
	leaves := component.byMethod("user-leave")
	if len(leaves) != 1 || !leaves[0].self {
		t.Fatalf("departure must be confirmed even without a connection, got %+v", leaves)
	}
}

func TestShutdownQuitsEverything(t *testing.T) {
	bridge, component := newTestBridge(t)
	client, conn := newTestClient(t, bridge)
	joinTestChannel(t, client, "#a")

	bridge.Shutdown("Gateway shutdown")
	if !conn.sent("QUIT :Gateway shutdown") && !conn.sent("QUIT Gateway shutdown") {
		t.Fatalf("expected a QUIT, got %v", conn.lines)
	}
	if !conn.closed {
		t.Fatal("the socket must be closed")
	}
	if bridge.ActiveClients() != 0 {
		t.Fatal("no client may survive shutdown")
	}
	leaves := component.byMethod("user-leave")
	if len(leaves) != 1 || !leaves[0].self {
		t.Fatalf("each joined channel surfaces the departure, got %+v", leaves)
	}
}

func TestKickRequest(t *testing.T) {
	bridge, _ := newTestBridge(t)
	client, conn := newTestClient(t, bridge)
	joinTestChannel(t, client, "#a")
	bridge.HandleKick(testOwner, "#a%"+testServer, "bob", "flooding")
	if !conn.sent("KICK #a bob flooding") {
		t.Fatalf("expected a KICK command, got %v", conn.lines)
	}
}

func TestJoinBareServerEntersDummyChannel(t *testing.T) {
	bridge, component := newTestBridge(t)
	bridge.HandleJoin(testOwner, testServer, "nick")
	client := bridge.findClient(testOwner, testServer)
	if client == nil || !client.dummyChannel.Joined() {
		t.Fatal("server join must enter the dummy channel")
	}
	joins := component.byMethod("user-join")
	if len(joins) != 1 || !joins[0].self || joins[0].args[0] != testServer {
		t.Fatalf("expected a self presence from the bare server, got %+v", joins)
	}
	// joining again must not re-emit self presence
	bridge.HandleJoin(testOwner, testServer, "nick")
	if len(component.byMethod("user-join")) != 1 {
		t.Fatal("dummy channel self-presence emitted twice")
	}
}

func TestConnectionCloseSurfacesLeaves(t *testing.T) {
	bridge, component := newTestBridge(t)
	client, _ := newTestClient(t, bridge)
	joinTestChannel(t, client, "#a")
	client.OnConnectionClose("Connection reset by peer")
	leaves := component.byMethod("user-leave")
	if len(leaves) != 1 || !leaves[0].self || leaves[0].args[2] != "Connection reset by peer" {
		t.Fatalf("bad close surfacing: %+v", leaves)
	}
	if bridge.ActiveClients() != 0 {
		t.Fatal("closed client must be removed")
	}
}
