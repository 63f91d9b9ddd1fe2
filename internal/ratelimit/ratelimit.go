// Package ratelimit admits requests per governed system under a fixed-window
// limit. The window counter lives in a shared store so that every gateway
// replica sees the same count.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Defaults applied when the limiter is built with zero values.
const (
	DefaultWindow = time.Minute
	DefaultLimit  = 100
)

// ErrUnavailable is returned (wrapped) when the counter store cannot be
// reached. Callers must treat it as a denial.
var ErrUnavailable = errors.New("ratelimit: counter store unavailable")

// Counter atomically increments the counter for (systemID, windowStart) and
// returns the value after the increment. ttl bounds how long the store needs
// to retain the window.
type Counter interface {
	Incr(ctx context.Context, systemID string, windowStart time.Time, ttl time.Duration) (int64, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed     bool
	Count       int64
	Limit       int64
	Remaining   int64
	WindowStart time.Time
	ResetIn     time.Duration
}

// Limiter is a fixed-window admission limiter.
type Limiter struct {
	counter Counter
	window  time.Duration
	limit   int64
	now     func() time.Time
}

// New creates a limiter over counter. Non-positive window or limit fall back
// to the defaults.
func New(counter Counter, window time.Duration, limit int64) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Limiter{
		counter: counter,
		window:  window,
		limit:   limit,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Limit returns the configured default limit.
func (l *Limiter) Limit() int64 { return l.limit }

// Admit counts one request against systemID's current window. limit
// overrides the default when positive.
//
// The increment and the comparison happen on the value returned by a single
// atomic store operation, so concurrent callers can never admit more than
// limit requests in one window. Any store failure denies the request and
// returns an error wrapping ErrUnavailable.
func (l *Limiter) Admit(ctx context.Context, systemID string, limit int64) (Decision, error) {
	if limit <= 0 {
		limit = l.limit
	}
	now := l.now()
	start := now.Truncate(l.window)
	d := Decision{
		Limit:       limit,
		WindowStart: start,
		ResetIn:     start.Add(l.window).Sub(now),
	}

	count, err := l.counter.Incr(ctx, systemID, start, 2*l.window)
	if err != nil {
		rlStoreErrors.Inc()
		rlDecisions.WithLabelValues("unavailable").Inc()
		return d, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	d.Count = count
	d.Allowed = count <= limit
	if remaining := limit - count; remaining > 0 {
		d.Remaining = remaining
	}
	if d.Allowed {
		rlDecisions.WithLabelValues("allowed").Inc()
	} else {
		rlDecisions.WithLabelValues("limited").Inc()
	}
	return d, nil
}
