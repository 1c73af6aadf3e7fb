package ptloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTimersFireInDeadlineOrder(t *testing.T) {
	l := New(0)
	var order []int
	done := make(chan struct{})

	l.AddTimer(30*time.Millisecond, func() { order = append(order, 3) })
	l.AddTimer(10*time.Millisecond, func() { order = append(order, 1) })
	l.AddTimer(20*time.Millisecond, func() {
		order = append(order, 2)
		l.Terminate()
		close(done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("unexpected fire order: %v", order)
	}
}

func TestCanceledTimerDoesNotFire(t *testing.T) {
	l := New(0)
	fired := false
	h := l.AddTimer(5*time.Millisecond, func() { fired = true })
	h.Cancel()
	l.AddTimer(15*time.Millisecond, func() { l.Terminate() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	l.Run(ctx)

	if fired {
		t.Fatal("canceled timer fired")
	}
}

func TestPostFromAnotherGoroutineReachesLoop(t *testing.T) {
	l := New(0)
	var calls int32

	go func() {
		time.Sleep(5 * time.Millisecond)
		l.Post(func() {
			atomic.AddInt32(&calls, 1)
			l.Terminate()
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("want 1 call, got %d", calls)
	}
}

func TestNoCallbacksRunAfterTerminateReturns(t *testing.T) {
	l := New(4)
	var afterTerminate int32

	l.AddTimer(5*time.Millisecond, func() {
		l.Terminate()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Posting after Run has returned must never execute: nothing is
	// left draining the incoming channel.
	l.Post(func() { atomic.AddInt32(&afterTerminate, 1) })
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&afterTerminate) != 0 {
		t.Fatal("callback posted after Terminate should not have run")
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	l := New(0)
	l.Terminate()
	l.Terminate()
	if !l.Terminated() {
		t.Fatal("expected Terminated() true")
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	l := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("expected context.Canceled")
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
