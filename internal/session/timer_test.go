package session

import (
	"context"
	"testing"
	"time"
)

func TestCountdownTick(t *testing.T) {
	for _, start := range []int{1, 2, 5, 60} {
		c := NewCountdown(start)
		prev := c.Remaining()
		signals := 0
		signalAt := -1

		for i := 1; i <= start+10; i++ {
			if c.Tick() {
				signals++
				signalAt = i
			}
			got := c.Remaining()
			if got > prev {
				t.Fatalf("start=%d tick %d: remaining went up %d -> %d", start, i, prev, got)
			}
			if got < 0 {
				t.Fatalf("start=%d tick %d: remaining negative: %d", start, i, got)
			}
			prev = got
		}

		if signals != 1 {
			t.Fatalf("start=%d: expiry signalled %d times, want 1", start, signals)
		}
		if signalAt != start {
			t.Fatalf("start=%d: expiry at tick %d, want %d", start, signalAt, start)
		}
		if !c.IsExpired() {
			t.Fatalf("start=%d: not expired", start)
		}
	}
}

func TestCountdownSeededAtZero(t *testing.T) {
	c := NewCountdown(-3)
	if c.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", c.Remaining())
	}
	select {
	case <-c.Expired():
	default:
		t.Fatal("countdown seeded at zero should already be expired")
	}
	if c.Tick() {
		t.Fatal("Tick on an expired countdown must not signal")
	}
}

func TestCountdownRunStopsAfterExpiry(t *testing.T) {
	c := NewCountdown(2)
	ticks := make(chan time.Time)
	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), ticks)
		close(done)
	}()

	ticks <- time.Now()
	ticks <- time.Now()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after expiry")
	}
	select {
	case <-c.Expired():
	default:
		t.Fatal("Expired not closed")
	}

	// Nobody reads the tick source any more.
	select {
	case ticks <- time.Now():
		t.Fatal("Run still consuming ticks after expiry")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCountdownRunCancelled(t *testing.T) {
	c := NewCountdown(10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, make(chan time.Time))
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return on cancel")
	}
	if c.IsExpired() || c.Remaining() != 10 {
		t.Fatalf("cancel must not touch the countdown: expired=%v remaining=%d", c.IsExpired(), c.Remaining())
	}
}
