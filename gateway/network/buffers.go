// released under the MIT license

package network

import "bytes"

// InBuffer accumulates inbound bytes; the protocol layer consumes
// complete CRLF frames from the head while partial frames stay buffered.
type InBuffer struct {
	data []byte
}

func (b *InBuffer) Append(data []byte) {
	b.data = append(b.data, data...)
}

// NextLine extracts one complete line, without its terminator, from the
// head of the buffer. Lines end at LF; a preceding CR is stripped.
func (b *InBuffer) NextLine() (line []byte, ok bool) {
	idx := bytes.IndexByte(b.data, '\n')
	if idx < 0 {
		return nil, false
	}
	line = b.data[:idx]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	b.data = b.data[idx+1:]
	return line, true
}

func (b *InBuffer) Len() int { return len(b.data) }

func (b *InBuffer) Clear() { b.data = nil }

// OutBuffer is an ordered queue of byte chunks awaiting a gathered
// write. A partial send leaves a residual slice at the head; submission
// order is never reordered.
type OutBuffer struct {
	chunks [][]byte
	bytes  int
}

func (b *OutBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	b.chunks = append(b.chunks, chunk)
	b.bytes += len(chunk)
}

// Batch returns up to max head chunks for one gathered send. The
// returned slices alias the queue; call Advance with the byte count
// actually sent before the next Batch.
func (b *OutBuffer) Batch(max int) [][]byte {
	n := len(b.chunks)
	if n > max {
		n = max
	}
	batch := make([][]byte, n)
	copy(batch, b.chunks[:n])
	return batch
}

// Advance drops n sent bytes from the head of the queue, splicing the
// first partially-sent chunk.
func (b *OutBuffer) Advance(n int) {
	if n <= 0 {
		return
	}
	if n > b.bytes {
		n = b.bytes
	}
	b.bytes -= n
	for n > 0 {
		head := b.chunks[0]
		if n >= len(head) {
			n -= len(head)
			b.chunks[0] = nil
			b.chunks = b.chunks[1:]
		} else {
			b.chunks[0] = head[n:]
			n = 0
		}
	}
}

func (b *OutBuffer) Empty() bool { return len(b.chunks) == 0 }

// Len returns the number of unsent bytes.
func (b *OutBuffer) Len() int { return b.bytes }

func (b *OutBuffer) Clear() {
	b.chunks = nil
	b.bytes = 0
}
