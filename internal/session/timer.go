package session

import (
	"context"
	"sync"
	"time"
)

// Countdown is a client-side read cache of a session's remaining time. It
// is seeded from the server's remaining_time_seconds and then extrapolated
// one tick at a time. It expires exactly once and is never re-armed.
type Countdown struct {
	mu        sync.Mutex
	remaining int
	expired   bool
	done      chan struct{}
}

// NewCountdown returns a countdown with seconds left. A non-positive value
// yields an already expired countdown.
func NewCountdown(seconds int) *Countdown {
	c := &Countdown{remaining: max(seconds, 0), done: make(chan struct{})}
	if c.remaining == 0 {
		c.expired = true
		close(c.done)
	}
	return c
}

// Tick decrements the remaining time by one second. It returns true only on
// the tick that reaches zero; every later tick is a no-op returning false.
func (c *Countdown) Tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.expired {
		return false
	}
	c.remaining--
	if c.remaining > 0 {
		return false
	}
	c.remaining = 0
	c.expired = true
	close(c.done)
	return true
}

// Remaining returns the seconds left, never negative.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// IsExpired reports whether the countdown has reached zero.
func (c *Countdown) IsExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// Expired is closed when the countdown reaches zero.
func (c *Countdown) Expired() <-chan struct{} {
	return c.done
}

// Run consumes ticks until the countdown expires or ctx is done. It stops
// reading from ticks immediately after expiry.
func (c *Countdown) Run(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			if c.Tick() {
				return
			}
		}
	}
}
