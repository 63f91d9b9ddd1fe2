package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowKey struct {
	systemID string
	start    int64
}

// MemoryCounter is an in-process Counter for development and tests. It is
// only correct for a single gateway replica.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[windowKey]int64
}

// NewMemoryCounter creates an empty in-process counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[windowKey]int64)}
}

// Incr implements Counter.
func (m *MemoryCounter) Incr(ctx context.Context, systemID string, windowStart time.Time, _ time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := windowKey{systemID: systemID, start: windowStart.UnixNano()}
	m.windows[k]++
	return m.windows[k], nil
}

// DeleteBefore drops windows that started before cutoff.
func (m *MemoryCounter) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := cutoff.UnixNano()
	var removed int64
	for k := range m.windows {
		if k.start < c {
			delete(m.windows, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of live windows.
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
