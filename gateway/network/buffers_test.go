// released under the MIT license

package network

import (
	"reflect"
	"testing"
)

func TestOutBufferPartialSend(t *testing.T) {
	var out OutBuffer
	out.Append([]byte("AAA"))
	out.Append([]byte("BBBB"))
	out.Append([]byte("CC"))
	if out.Len() != 9 {
		t.Fatalf("expected 9 queued bytes, got %d", out.Len())
	}

	// a send that reports 5 bytes written leaves ["BB", "CC"]
	out.Advance(5)
	var got []string
	for _, chunk := range out.Batch(8) {
		got = append(got, string(chunk))
	}
	if !reflect.DeepEqual(got, []string{"BB", "CC"}) {
		t.Fatalf("expected [BB CC], got %v", got)
	}
	if out.Len() != 4 {
		t.Fatalf("expected 4 queued bytes, got %d", out.Len())
	}

	// the next flush completes
	out.Advance(4)
	if !out.Empty() || out.Len() != 0 {
		t.Fatalf("queue should be empty, has %d bytes", out.Len())
	}
}

func TestOutBufferBatchLimit(t *testing.T) {
	var out OutBuffer
	for i := 0; i < 12; i++ {
		out.Append([]byte{'x'})
	}
	if got := len(out.Batch(maxSendChunks)); got != maxSendChunks {
		t.Fatalf("expected %d chunks in batch, got %d", maxSendChunks, got)
	}
}

func TestOutBufferSubmissionOrderPreserved(t *testing.T) {
	var out OutBuffer
	out.Append([]byte("one "))
	out.Append([]byte("two "))
	out.Advance(2)
	out.Append([]byte("three"))
	var all []byte
	for _, chunk := range out.Batch(8) {
		all = append(all, chunk...)
	}
	if string(all) != "e two three" {
		t.Fatalf("order broken: %q", string(all))
	}
}

func TestInBufferLineExtraction(t *testing.T) {
	var in InBuffer
	in.Append([]byte(":nick!u@h PRIVMSG #chan :hel"))
	if _, ok := in.NextLine(); ok {
		t.Fatal("extracted a line from an incomplete frame")
	}
	in.Append([]byte("lo world\r\nPING :x\r\n"))

	line, ok := in.NextLine()
	if !ok || string(line) != ":nick!u@h PRIVMSG #chan :hello world" {
		t.Fatalf("bad first line: %q ok=%v", line, ok)
	}
	line, ok = in.NextLine()
	if !ok || string(line) != "PING :x" {
		t.Fatalf("bad second line: %q ok=%v", line, ok)
	}
	if _, ok = in.NextLine(); ok {
		t.Fatal("extracted a third line from an empty buffer")
	}
	if in.Len() != 0 {
		t.Fatalf("unconsumed bytes remain: %d", in.Len())
	}
}

func TestInBufferNoByteObservedTwice(t *testing.T) {
	var in InBuffer
	in.Append([]byte("a\r\nb\r\n"))
	first, _ := in.NextLine()
	second, _ := in.NextLine()
	if string(first) == string(second) {
		t.Fatalf("same bytes observed twice: %q", first)
	}
}
