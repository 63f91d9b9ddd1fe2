// Package retry runs short bounded retries with exponential backoff and
// jitter. It is used for side-effect writes that must not stall a request
// for long, such as escalation records.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Policy bounds a retry loop. MaxDelay caps the per-attempt backoff; zero
// means uncapped.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Do calls fn up to attempts times, doubling baseDelay between tries.
func Do(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	return Policy{Attempts: attempts, BaseDelay: baseDelay}.Do(ctx, fn)
}

// Do runs fn until it succeeds, returns a *PermanentError, the attempts
// are used up, or ctx is done. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt >= attempts {
			return err
		}

		if sleep := jitter(delay); sleep > 0 {
			t := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}

		delay = p.next(delay)
	}
}

// next doubles d, capped at MaxDelay.
func (p Policy) next(d time.Duration) time.Duration {
	d *= 2
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// jitter spreads d by +-25%.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := int64(d / 4)
	if spread == 0 {
		return d
	}
	return d - time.Duration(spread) + time.Duration(rand.Int64N(2*spread+1))
}
