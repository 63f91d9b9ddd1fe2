package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// WindowStore is a Counter whose expired windows must be deleted explicitly.
// Redis expires keys on its own and does not need one.
type WindowStore interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically deletes windows older than two window lengths.
type Sweeper struct {
	store    WindowStore
	window   time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a sweeper for store. It runs once per window.
func NewSweeper(store WindowStore, window time.Duration, logger *slog.Logger) *Sweeper {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Sweeper{
		store:    store,
		window:   window,
		interval: window,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start runs the sweep loop until ctx is done or Stop is called. Call in a
// goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the loop to exit.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in rate limit sweeper", "panic", fmt.Sprint(r))
		}
	}()
	s.Sweep(ctx, time.Now())
}

// Sweep deletes every window that started before now minus two window
// lengths.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	n, err := s.store.DeleteBefore(ctx, now.Add(-2*s.window))
	if err != nil {
		s.logger.Warn("rate limit sweep failed", "error", err)
		return
	}
	if n > 0 {
		rlSweptWindows.Add(float64(n))
		s.logger.Debug("rate limit windows swept", "count", n)
	}
}
