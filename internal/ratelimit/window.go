// Package ratelimit implements a rolling-window limiter: at most Limit
// acquisitions inside any Window-long interval.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window records one timestamp per acquisition and prunes stamps older than
// the window on every check. A slot is claimed at acquisition time, so
// concurrent callers never overshoot the limit.
type Window struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

func NewWindow(limit int, window time.Duration) *Window {
	w := &Window{now: time.Now}
	w.SetLimit(limit, window)
	return w
}

// SetLimit changes the limit and window at runtime. Existing stamps are kept.
func (w *Window) SetLimit(limit int, window time.Duration) {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	w.mu.Lock()
	w.limit = limit
	w.window = window
	w.mu.Unlock()
}

// reserve claims a slot and returns 0, or returns how long until the oldest
// stamp leaves the window.
func (w *Window) reserve() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)
	if len(w.stamps) < w.limit {
		w.stamps = append(w.stamps, now)
		return 0
	}
	wait := w.stamps[0].Add(w.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

func (w *Window) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// Allow claims a slot if one is free right now.
func (w *Window) Allow() bool { return w.reserve() == 0 }

// Wait blocks until a slot is claimed or ctx is done.
func (w *Window) Wait(ctx context.Context) error {
	for {
		d := w.reserve()
		if d == 0 {
			return nil
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// InUse reports how many slots are taken in the current window.
func (w *Window) InUse() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return len(w.stamps)
}
