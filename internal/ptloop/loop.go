// Package ptloop is flowtrace's event loop: a single-threaded,
// cooperative scheduler that owns every timer and every algorithm
// state transition. Other goroutines (the network package's blocking
// ICMP read, signal handlers) are never allowed to touch algorithm
// state directly — they post closures onto the loop's incoming queue
// and the loop's own goroutine is the only thing that ever runs them.
package ptloop

import (
	"container/heap"
	"context"
	"sync/atomic"
	"time"
)

const defaultQueueSize = 256

// Loop is flowtrace's event loop. Zero value is not usable; use New.
type Loop struct {
	timers     timerHeap
	incoming   chan func()
	terminated atomic.Bool
}

// New creates a Loop with the given incoming-event queue depth. A
// depth of 0 uses a sensible default.
func New(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Loop{incoming: make(chan func(), queueSize)}
}

// AddTimer arms fire to run after d, on the loop goroutine. Must be
// called either before Run starts or from within a callback already
// running on the loop goroutine (i.e. never directly from another
// goroutine — use Post for that).
func (l *Loop) AddTimer(d time.Duration, fire func()) *Timer {
	t := &timer{deadline: time.Now().Add(d), fire: fire, active: true}
	heap.Push(&l.timers, t)
	return &Timer{t: t}
}

// Post enqueues fn to run on the loop goroutine. Safe to call from
// any goroutine; this is the only sanctioned way for the network
// package's blocking-read pump (or anything else outside the loop) to
// reach algorithm state.
func (l *Loop) Post(fn func()) {
	select {
	case l.incoming <- fn:
	default:
		// Queue is saturated; drop rather than block the caller (the
		// caller is frequently the I/O pump goroutine, which must
		// keep servicing the socket).
	}
}

// Terminate requests the loop stop after finishing its current turn.
// Idempotent and safe to call from any goroutine, including from
// within a callback running on the loop itself.
func (l *Loop) Terminate() {
	l.terminated.Store(true)
}

// Terminated reports whether Terminate has been called.
func (l *Loop) Terminated() bool {
	return l.terminated.Load()
}

// Run drives the loop until Terminate is called, ctx is canceled, or
// an incoming callback panics (propagated to the caller, same as any
// other goroutine). Each turn: fire every timer whose deadline has
// passed, check for termination, then block until the next timer
// deadline or the next posted event.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if l.terminated.Load() {
			return nil
		}
		l.fireExpired()
		if l.terminated.Load() {
			return nil
		}

		var timerC <-chan time.Time
		var armed *time.Timer
		if l.timers.Len() > 0 {
			d := time.Until(l.timers[0].deadline)
			if d < 0 {
				d = 0
			}
			armed = time.NewTimer(d)
			timerC = armed.C
		}

		select {
		case <-ctx.Done():
			if armed != nil {
				armed.Stop()
			}
			l.Terminate()
			return ctx.Err()
		case fn := <-l.incoming:
			if armed != nil {
				armed.Stop()
			}
			fn()
		case <-timerC:
		}
	}
}

func (l *Loop) fireExpired() {
	now := time.Now()
	for l.timers.Len() > 0 && !l.timers[0].deadline.After(now) {
		t := heap.Pop(&l.timers).(*timer)
		if t.active {
			t.fire()
		}
	}
}

// Pending reports the number of timers still queued, including
// cancelled ones that have not yet been popped. Exposed for
// tests asserting in-flight accounting at the scheduler level.
func (l *Loop) Pending() int {
	return l.timers.Len()
}
