package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fixedClock {
	return &fixedClock{t: time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)}
}

func TestNew_Defaults(t *testing.T) {
	l := New(NewMemoryCounter(), 0, 0)
	assert.Equal(t, DefaultWindow, l.Window())
	assert.Equal(t, int64(DefaultLimit), l.Limit())
}

func TestAdmit_FixedWindow(t *testing.T) {
	clock := newClock()
	l := New(NewMemoryCounter(), time.Minute, 3).WithClock(clock.Now)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := l.Admit(ctx, "sys-1", 0)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, int64(i), d.Count)
		assert.Equal(t, int64(3-i), d.Remaining)
	}

	d, err := l.Admit(ctx, "sys-1", 0)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)
	assert.Equal(t, 50*time.Second, d.ResetIn)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), d.WindowStart)

	// Other systems have their own window.
	d, err = l.Admit(ctx, "sys-2", 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Next window starts fresh.
	clock.Advance(50 * time.Second)
	d, err = l.Admit(ctx, "sys-1", 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Count)
}

func TestAdmit_PerSystemOverride(t *testing.T) {
	l := New(NewMemoryCounter(), time.Minute, 100).WithClock(newClock().Now)
	ctx := context.Background()

	d, err := l.Admit(ctx, "sys-1", 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Limit)

	d, err = l.Admit(ctx, "sys-1", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestAdmit_ConcurrentNeverExceedsLimit(t *testing.T) {
	const limit = 100
	const callers = 150

	l := New(NewMemoryCounter(), time.Minute, limit).WithClock(newClock().Now)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d, err := l.Admit(context.Background(), "sys-1", 0)
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(limit), admitted.Load())
}

type failingCounter struct{}

func (failingCounter) Incr(context.Context, string, time.Time, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestAdmit_FailsClosed(t *testing.T) {
	l := New(failingCounter{}, time.Minute, 10)

	d, err := l.Admit(context.Background(), "sys-1", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.False(t, d.Allowed)
}

func TestMemoryCounter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryCounter().Incr(ctx, "sys-1", time.Now(), time.Minute)
	assert.Error(t, err)
}

func TestSweeper_DeletesOldWindows(t *testing.T) {
	clock := newClock()
	counter := NewMemoryCounter()
	l := New(counter, time.Minute, 10).WithClock(clock.Now)
	ctx := context.Background()

	_, _ = l.Admit(ctx, "sys-1", 0)
	clock.Advance(time.Minute)
	_, _ = l.Admit(ctx, "sys-1", 0)
	clock.Advance(time.Minute)
	_, _ = l.Admit(ctx, "sys-1", 0)
	require.Equal(t, 3, counter.Len())

	s := NewSweeper(counter, time.Minute, testLogger())
	s.Sweep(ctx, clock.Now())

	// Windows at 12:01 and 12:02 are within two window lengths of 12:02:10.
	assert.Equal(t, 2, counter.Len())
}

func TestSweeper_StartStop(t *testing.T) {
	s := NewSweeper(NewMemoryCounter(), time.Minute, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, s.Running, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.False(t, s.Running())
}
