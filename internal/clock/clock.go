package clock

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time so strategy schedules and retry backoff run against
// wall time in production and against virtual time in backtests.
type Clock interface {
	// Now returns unix nanoseconds.
	Now() int64
	Sleep(ctx context.Context, d time.Duration) error
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() int64 {
	return time.Now().UnixNano()
}

func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sim is a virtual clock. Sleep advances time immediately so replayed
// schedules resolve without real waiting; Advance moves time forward to
// the timestamp of the event being replayed.
type Sim struct {
	mu  sync.Mutex
	now int64
}

// NewSim creates a virtual clock starting at the given unix-nano instant.
func NewSim(start int64) *Sim {
	return &Sim{now: start}
}

func (c *Sim) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Sim) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	c.mu.Lock()
	c.now += int64(d)
	c.mu.Unlock()
	return nil
}

// Advance moves the clock to ts if ts is later than the current instant.
func (c *Sim) Advance(ts int64) {
	c.mu.Lock()
	if ts > c.now {
		c.now = ts
	}
	c.mu.Unlock()
}
