// Package poll runs fixed-interval status checks against slow remote resources.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultInterval is the pause between two status checks.
const DefaultInterval = 30 * time.Second

// ErrTimeout is returned when a check has not finished before the deadline.
var ErrTimeout = errors.New("timed out")

// CheckFunc reports whether the polled resource reached its goal. A non-nil
// error stops polling immediately.
type CheckFunc func(ctx context.Context) (done bool, err error)

// Poller calls a CheckFunc on a fixed interval. There is no backoff and no
// jitter. A zero Timeout polls until the check finishes or ctx is cancelled.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
}

// New returns a Poller with the given interval and timeout. A non-positive
// interval falls back to DefaultInterval.
func New(interval, timeout time.Duration) Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return Poller{Interval: interval, Timeout: timeout}
}

// Until runs check immediately and then once per interval until it reports
// done, returns an error, the timeout elapses or ctx is cancelled.
func (p Poller) Until(ctx context.Context, check CheckFunc) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		wait := interval
		if p.Timeout > 0 {
			remaining := p.Timeout - time.Since(start)
			if remaining <= 0 {
				return fmt.Errorf("%w after %s (%d checks)", ErrTimeout, p.Timeout, attempt)
			}
			if remaining < wait {
				wait = remaining
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
