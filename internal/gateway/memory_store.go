package gateway

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory decision log for demo/development mode.
type MemoryStore struct {
	mu   sync.RWMutex
	logs []*RequestLog
}

// NewMemoryStore creates a new in-memory decision log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var _ LogStore = (*MemoryStore)(nil)

func (m *MemoryStore) CreateLog(_ context.Context, entry *RequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.logs = append(m.logs, &cp)
	return nil
}

// ListLogs returns the most recent entries for systemID, newest first.
func (m *MemoryStore) ListLogs(_ context.Context, systemID string, limit int) ([]*RequestLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*RequestLog
	for _, l := range m.logs {
		if l.SystemID == systemID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the total number of entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs)
}
