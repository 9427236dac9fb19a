package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestWindowReserveWithFakeClock(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	w := NewWindow(5, time.Minute)
	w.now = clk.Now

	for i := 0; i < 5; i++ {
		if d := w.reserve(); d != 0 {
			t.Fatalf("call %d waited %v", i+1, d)
		}
		clk.Advance(time.Second)
	}
	// First stamp at t0, now t0+5s: the sixth call waits until t0+60s.
	if d := w.reserve(); d != 55*time.Second {
		t.Fatalf("sixth call wait = %v, want 55s", d)
	}

	clk.Advance(55 * time.Second)
	if d := w.reserve(); d != 0 {
		t.Fatalf("after window slide wait = %v, want 0", d)
	}
	if got := w.InUse(); got != 5 {
		t.Fatalf("InUse() = %d, want 5", got)
	}
}

func TestWindowWaitBlocksBeyondLimit(t *testing.T) {
	t.Parallel()

	const window = 150 * time.Millisecond
	w := NewWindow(5, window)
	ctx := context.Background()

	start := time.Now()
	times := make([]time.Duration, 0, 8)
	for i := 0; i < 8; i++ {
		if err := w.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		times = append(times, time.Since(start))
	}

	for i := 0; i < 5; i++ {
		if times[i] >= window {
			t.Fatalf("call %d blocked for %v", i+1, times[i])
		}
	}
	for i := 5; i < 8; i++ {
		if times[i] < window-10*time.Millisecond {
			t.Fatalf("call %d proceeded after %v, before the window elapsed", i+1, times[i])
		}
	}
}

func TestWindowConcurrentNeverOvershoots(t *testing.T) {
	t.Parallel()

	w := NewWindow(3, time.Hour)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if allowed != 3 {
		t.Fatalf("allowed = %d, want 3", allowed)
	}
}

func TestWindowWaitHonorsContext(t *testing.T) {
	t.Parallel()

	w := NewWindow(1, time.Hour)
	if !w.Allow() {
		t.Fatalf("first Allow() = false")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Wait(ctx); err == nil {
		t.Fatalf("Wait() returned nil on a full window")
	}
}
