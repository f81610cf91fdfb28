// released under the MIT license

package eventloop

import (
	"container/heap"
	"time"
)

// timerQueue is a priority queue keyed by fire time; ties break on
// insertion sequence so same-instant events fire in insertion order.
// It is mutated only from the loop goroutine.
type timerQueue struct {
	entries timerHeap
	seq     uint64
}

type timerEntry struct {
	at   time.Time
	seq  uint64
	name string
	fn   func()
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timerEntry)) }

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

func (q *timerQueue) add(at time.Time, name string, fn func()) {
	q.seq++
	heap.Push(&q.entries, &timerEntry{at: at, seq: q.seq, name: name, fn: fn})
}

func (q *timerQueue) cancel(name string) {
	kept := q.entries[:0]
	for _, entry := range q.entries {
		if entry.name != name {
			kept = append(kept, entry)
		}
	}
	// clear the tail so dropped entries can be collected
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = kept
	heap.Init(&q.entries)
}

func (q *timerQueue) nextFireTime() (at time.Time, ok bool) {
	if len(q.entries) == 0 {
		return
	}
	return q.entries[0].at, true
}

// fireDue pops and runs every entry due at or before now. A callback may
// add or cancel further timers; additions scheduled in the past fire in
// this same pass.
func (q *timerQueue) fireDue(now time.Time) {
	for len(q.entries) > 0 && !q.entries[0].at.After(now) {
		entry := heap.Pop(&q.entries).(*timerEntry)
		entry.fn()
	}
}

func (q *timerQueue) len() int { return len(q.entries) }
