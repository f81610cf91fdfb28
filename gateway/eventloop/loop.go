// released under the MIT license

// Package eventloop provides the single-threaded cooperative scheduler
// that the rest of the gateway runs on: a run queue of posted callbacks
// plus a monotonic timer queue. All protocol state is owned by the loop
// goroutine; I/O goroutines communicate with it exclusively through Post.
package eventloop

import (
	"sync"
	"sync/atomic"
	"time"
)

// Loop serializes callbacks. Everything posted with Post and every timer
// callback runs on the goroutine that called Run (or RunOnce), in post
// order for identical readiness.
type Loop struct {
	ops     chan func()
	timers  timerQueue
	wake    chan struct{}
	stopped atomic.Bool
	quit    chan struct{}
	once    sync.Once
}

const opQueueDepth = 1024

func NewLoop() *Loop {
	return &Loop{
		ops:  make(chan func(), opQueueDepth),
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

// Post enqueues fn to run on the loop goroutine. It may be called from
// any goroutine; it blocks only when the run queue is full, which gives
// reader goroutines natural backpressure.
func (loop *Loop) Post(fn func()) {
	if loop.stopped.Load() {
		return
	}
	select {
	case loop.ops <- fn:
	case <-loop.quit:
	}
}

// Stop makes Run return after the current callback. Idempotent.
func (loop *Loop) Stop() {
	loop.stopped.Store(true)
	loop.once.Do(func() { close(loop.quit) })
}

// Run drives the loop until Stop is called.
func (loop *Loop) Run() {
	for !loop.stopped.Load() {
		loop.RunOnce(time.Hour)
	}
}

// RunOnce blocks for at most max (or until the next timer is due), then
// runs all ready callbacks and fires all due timers. Timer callbacks
// with identical fire times run in insertion order.
func (loop *Loop) RunOnce(max time.Duration) {
	timeout := max
	if next, ok := loop.timers.nextFireTime(); ok {
		if until := time.Until(next); until < timeout {
			timeout = until
		}
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		select {
		case fn := <-loop.ops:
			timer.Stop()
			fn()
		case <-timer.C:
		case <-loop.quit:
			timer.Stop()
			return
		}
	}

	// drain whatever else became ready, without blocking again
	for {
		select {
		case fn := <-loop.ops:
			fn()
		default:
			loop.timers.fireDue(time.Now())
			return
		}
	}
}

// AddTimer schedules fn to run on the loop after d. Events sharing a
// name are cancelled together; the name need not be unique.
// Must be called from the loop goroutine.
func (loop *Loop) AddTimer(d time.Duration, name string, fn func()) {
	loop.timers.add(time.Now().Add(d), name, fn)
}

// CancelTimer removes every scheduled event with the given name. A
// cancelled event never fires. Must be called from the loop goroutine.
func (loop *Loop) CancelTimer(name string) {
	loop.timers.cancel(name)
}

// PendingTimers reports how many scheduled events are outstanding.
func (loop *Loop) PendingTimers() int {
	return loop.timers.len()
}
