// released under the MIT license

package gateway

import (
	"testing"

	"github.com/ergochat/irc-go/ircmsg"
)

func TestMessageParseAndSerialize(t *testing.T) {
	line := ":nick!u@h PRIVMSG #chan :hello world"
	msg, err := ircmsg.ParseLineStrict(line, false, maxLineLen)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Source != "nick!u@h" || msg.Command != "PRIVMSG" {
		t.Fatalf("bad parse: %+v", msg)
	}
	if len(msg.Params) != 2 || msg.Params[0] != "#chan" || msg.Params[1] != "hello world" {
		t.Fatalf("bad params: %v", msg.Params)
	}
	if nick := msg.Nick(); nick != "nick" {
		t.Fatalf("bad source nick: %q", nick)
	}

	out, err := msg.LineBytesStrict(false, maxLineLen)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != line+"\r\n" {
		t.Fatalf("round trip mismatch: %q", out)
	}
}

func TestSerializeForcesTrailingWhenNeeded(t *testing.T) {
	msg := ircmsg.MakeMessage(nil, "", "PRIVMSG", "#chan", "no spaces")
	out, err := msg.LineBytesStrict(true, maxLineLen)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "PRIVMSG #chan :no spaces\r\n" {
		t.Fatalf("trailing not emitted: %q", out)
	}
}
