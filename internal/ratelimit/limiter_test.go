package ratelimit

import (
	"context"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(capacity, rate int) (*Limiter, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return New(capacity, rate).WithClock(clk.now), clk
}

func TestAllow_BurstThenReject(t *testing.T) {
	l, _ := newTestLimiter(5, 5)
	for i := 0; i < 5; i++ {
		if !l.Allow("u1") {
			t.Fatalf("Allow() #%d = false, want true", i+1)
		}
	}
	if l.Allow("u1") {
		t.Error("6th Allow() in the same instant = true, want false")
	}
}

func TestAllow_PerUserBuckets(t *testing.T) {
	l, _ := newTestLimiter(1, 1)
	if !l.Allow("a") || !l.Allow("b") {
		t.Fatal("first frame for each user should pass")
	}
	if l.Allow("a") {
		t.Error("second frame for a should be rejected")
	}
}

func TestAllow_FloorSecondRefill(t *testing.T) {
	l, clk := newTestLimiter(5, 5)
	for i := 0; i < 5; i++ {
		l.Allow("u1")
	}

	clk.advance(999 * time.Millisecond)
	if l.Allow("u1") {
		t.Fatal("Allow() after 999ms = true, want false (no partial refill)")
	}

	// lastRefill 没有推进，再过 1ms 就满一秒。
	clk.advance(time.Millisecond)
	for i := 0; i < 5; i++ {
		if !l.Allow("u1") {
			t.Fatalf("Allow() #%d after refill = false, want true", i+1)
		}
	}
	if l.Allow("u1") {
		t.Error("refill must be capped at capacity")
	}
}

func TestAllow_CapAfterLongIdle(t *testing.T) {
	l, clk := newTestLimiter(3, 2)
	l.Allow("u1")
	clk.advance(time.Hour)
	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow("u1") {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("allowed after idle = %d, want 3", allowed)
	}
}

func TestNew_Defaults(t *testing.T) {
	l := New(0, -1)
	if l.capacity != DefaultCapacity || l.rate != DefaultRate {
		t.Errorf("New(0,-1) = capacity %d rate %d, want defaults", l.capacity, l.rate)
	}
}

func TestSweep(t *testing.T) {
	l, clk := newTestLimiter(5, 5)
	l.Allow("old")
	clk.advance(10 * time.Minute)
	l.Allow("new")

	if n := l.Sweep(5 * time.Minute); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if l.Len() != 1 {
		t.Errorf("Len() after sweep = %d, want 1", l.Len())
	}
}

func TestRunSweeper_StopsOnCancel(t *testing.T) {
	l := New(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.RunSweeper(ctx, time.Millisecond, time.Minute)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}
