package escalation

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory escalation store for demo/development mode.
type MemoryStore struct {
	mu        sync.RWMutex
	reviews   []*ReviewItem
	incidents []*Incident
}

// NewMemoryStore creates an empty in-memory escalation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateReviewItem(_ context.Context, item *ReviewItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.reviews {
		if r.DedupeKey == item.DedupeKey && r.Status == StatusPending {
			return false, nil
		}
	}
	cp := *item
	m.reviews = append(m.reviews, &cp)
	return true, nil
}

func (m *MemoryStore) CreateIncident(_ context.Context, inc *Incident) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, i := range m.incidents {
		if i.DedupeKey == inc.DedupeKey && i.Status == StatusOpen {
			return false, nil
		}
	}
	cp := *inc
	m.incidents = append(m.incidents, &cp)
	return true, nil
}

// ReviewItems returns copies of all review items.
func (m *MemoryStore) ReviewItems() []*ReviewItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ReviewItem, len(m.reviews))
	for i, r := range m.reviews {
		cp := *r
		out[i] = &cp
	}
	return out
}

// Incidents returns copies of all incidents.
func (m *MemoryStore) Incidents() []*Incident {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Incident, len(m.incidents))
	for i, inc := range m.incidents {
		cp := *inc
		out[i] = &cp
	}
	return out
}

// Resolve marks every pending review item with the given dedupe key as
// resolved, so a later block raises a fresh one.
func (m *MemoryStore) Resolve(dedupeKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reviews {
		if r.DedupeKey == dedupeKey && r.Status == StatusPending {
			r.Status = "resolved"
		}
	}
}
