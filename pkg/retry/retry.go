// Package retry retries operations that fail with a busy session lock.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/hostelcast/livesession/pkg/apperr"
)

// Policy bounds the retries of Busy errors.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// Default retries three times after 50ms, 100ms and 200ms.
var Default = Policy{Attempts: 4, Base: 50 * time.Millisecond, Max: time.Second}

// Busy runs fn until it returns something other than a Busy error, the
// attempts run out, or ctx ends. Other errors are returned immediately.
func Busy(ctx context.Context, p Policy, fn func() error) error {
	return run(ctx, p, fn, func(err error) bool { return errors.Is(err, apperr.ErrBusy) })
}

// Do runs fn until it succeeds, the attempts run out, or ctx ends.
func Do(ctx context.Context, p Policy, fn func() error) error {
	return run(ctx, p, fn, func(error) bool { return true })
}

func run(ctx context.Context, p Policy, fn func() error, retryable func(error) bool) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			wait := p.Base << (attempt - 1)
			if p.Max > 0 && wait > p.Max {
				wait = p.Max
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
	}
	return err
}
