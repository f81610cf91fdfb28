// released under the MIT license

package eventloop

import (
	"testing"
	"time"
)

func TestPostOrdering(t *testing.T) {
	loop := NewLoop()
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		loop.Post(func() { got = append(got, i) })
	}
	loop.RunOnce(0)
	for i, v := range got {
		if v != i {
			t.Fatalf("callbacks ran out of order: %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 callbacks, got %d", len(got))
	}
}

func TestTimerInsertionOrderOnTies(t *testing.T) {
	var q timerQueue
	now := time.Now()
	var got []string
	q.add(now, "a", func() { got = append(got, "first") })
	q.add(now, "b", func() { got = append(got, "second") })
	q.add(now, "c", func() { got = append(got, "third") })
	q.fireDue(now)
	want := []string{"first", "second", "third"}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("same-time events fired out of insertion order: %v", got)
		}
	}
}

func TestCancelRemovesAllWithName(t *testing.T) {
	var q timerQueue
	now := time.Now()
	fired := 0
	q.add(now, "doomed", func() { fired++ })
	q.add(now, "kept", func() {})
	q.add(now.Add(time.Minute), "doomed", func() { fired++ })
	q.cancel("doomed")
	if q.len() != 1 {
		t.Fatalf("expected 1 remaining event, got %d", q.len())
	}
	q.fireDue(now.Add(time.Hour))
	if fired != 0 {
		t.Fatalf("cancelled event fired %d times", fired)
	}
}

func TestLoopTimerFires(t *testing.T) {
	loop := NewLoop()
	fired := false
	loop.AddTimer(time.Millisecond, "soon", func() { fired = true })
	deadline := time.Now().Add(time.Second)
	for !fired && time.Now().Before(deadline) {
		loop.RunOnce(10 * time.Millisecond)
	}
	if !fired {
		t.Fatal("timer never fired")
	}
	if loop.PendingTimers() != 0 {
		t.Fatalf("expected empty timer queue, got %d", loop.PendingTimers())
	}
}

func TestCancelFromLoop(t *testing.T) {
	loop := NewLoop()
	fired := false
	loop.AddTimer(5*time.Millisecond, "victim", func() { fired = true })
	loop.CancelTimer("victim")
	loop.RunOnce(20 * time.Millisecond)
	if fired {
		t.Fatal("cancelled timer fired")
	}
}
