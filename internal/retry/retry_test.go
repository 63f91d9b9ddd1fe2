package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessOnRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("write conflict")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ReturnsLastError(t *testing.T) {
	var calls int
	err := Do(context.Background(), 3, 0, func() error {
		calls++
		return errors.New("attempt failed")
	})
	if err == nil || err.Error() != "attempt failed" {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentErrorStopsRetry(t *testing.T) {
	sentinel := errors.New("constraint violation")
	var calls int
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(sentinel)
	})
	if err != sentinel {
		t.Fatalf("expected unwrapped sentinel, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, 10, 100*time.Millisecond, func() error {
		calls.Add(1)
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c := calls.Load(); c > 2 {
		t.Fatalf("expected at most 2 calls, got %d", c)
	}
}

func TestDo_CancelledContextWithoutDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int
	err := Do(ctx, 5, 0, func() error {
		calls++
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	var calls int
	_ = Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return errors.New("fail")
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestPolicy_NextDelay(t *testing.T) {
	p := Policy{MaxDelay: 50 * time.Millisecond}
	if got := p.next(10 * time.Millisecond); got != 20*time.Millisecond {
		t.Fatalf("next(10ms) = %v, want 20ms", got)
	}
	if got := p.next(40 * time.Millisecond); got != 50*time.Millisecond {
		t.Fatalf("next(40ms) = %v, want cap 50ms", got)
	}
	uncapped := Policy{}
	if got := uncapped.next(time.Second); got != 2*time.Second {
		t.Fatalf("uncapped next(1s) = %v", got)
	}
}

func TestJitterStaysInRange(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 200; i++ {
		j := jitter(d)
		if j < 75*time.Millisecond || j > 125*time.Millisecond {
			t.Fatalf("jitter(%v) = %v out of range", d, j)
		}
	}
	if jitter(0) != 0 {
		t.Fatal("zero delay must not sleep")
	}
}

func TestPermanent(t *testing.T) {
	inner := errors.New("inner")
	if !errors.Is(Permanent(inner), inner) {
		t.Fatal("Permanent error should unwrap to inner error")
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}
