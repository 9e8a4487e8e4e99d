package gate

import (
	"context"
	"sync"
	"time"
)

// Throttle enforces a minimum interval between marked events. Intervals are
// measured with the monotonic clock reading carried by time.Now.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewThrottle returns a throttle that has never fired.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// SetInterval changes the minimum interval. It applies to the next wait.
func (t *Throttle) SetInterval(d time.Duration) {
	t.mu.Lock()
	t.interval = d
	t.mu.Unlock()
}

// Interval returns the configured minimum interval.
func (t *Throttle) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// Remaining returns how long a caller would have to wait right now.
func (t *Throttle) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked()
}

func (t *Throttle) remainingLocked() time.Duration {
	if t.last.IsZero() {
		return 0
	}
	d := t.interval - time.Since(t.last)
	if d < 0 {
		return 0
	}
	return d
}

// Wait blocks until the interval since the last mark has elapsed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	for {
		d := t.Remaining()
		if d == 0 {
			return nil
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
}

// Take waits like Wait and marks the event in the same step, so concurrent
// callers are spaced out as well.
func (t *Throttle) Take(ctx context.Context) error {
	for {
		t.mu.Lock()
		d := t.remainingLocked()
		if d == 0 {
			t.last = time.Now()
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
}

// Mark records an event at the current time.
func (t *Throttle) Mark() {
	t.mu.Lock()
	t.last = time.Now()
	t.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
