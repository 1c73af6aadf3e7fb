package ptloop

import "time"

// timer is one armed deadline. Cancellation is lazy: Cancel just
// clears active, and fireExpired skips inactive entries it pops
// instead of searching the heap for them.
type timer struct {
	deadline time.Time
	fire     func()
	active   bool
	index    int
}

// Timer is a handle to an armed timer, returned by Loop.AddTimer.
type Timer struct {
	t *timer
}

// Cancel disarms the timer. Safe to call more than once, and safe to
// call after the timer has already fired.
func (h *Timer) Cancel() {
	if h != nil && h.t != nil {
		h.t.active = false
	}
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
