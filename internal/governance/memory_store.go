package governance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/govgate/internal/idgen"
)

// MemoryStore is an in-memory policy store for demo/development mode and
// tests.
type MemoryStore struct {
	mu          sync.RWMutex
	systems     map[string]*GovernedSystem
	assessments map[string][]*RiskAssessment // systemID → assessments
	bindings    []*PolicyBinding
	evaluations map[string][]*EvaluationRun // systemID → runs
	approvals   map[string][]*ApprovalRequest
}

// NewMemoryStore creates an empty in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		systems:     make(map[string]*GovernedSystem),
		assessments: make(map[string][]*RiskAssessment),
		evaluations: make(map[string][]*EvaluationRun),
		approvals:   make(map[string][]*ApprovalRequest),
	}
}

var _ Store = (*MemoryStore)(nil)

// PutSystem inserts or replaces a system.
func (m *MemoryStore) PutSystem(sys *GovernedSystem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sys
	if cp.Endpoint != nil {
		ep := *cp.Endpoint
		cp.Endpoint = &ep
	}
	m.systems[sys.ID] = &cp
}

// SystemIDs lists registered systems in ID order.
func (m *MemoryStore) SystemIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.systems))
	for id := range m.systems {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddRiskAssessment records an assessment.
func (m *MemoryStore) AddRiskAssessment(a *RiskAssessment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	if cp.ID == "" {
		cp.ID = idgen.WithPrefix("risk_")
	}
	if cp.AssessedAt.IsZero() {
		cp.AssessedAt = time.Now()
	}
	m.assessments[a.SystemID] = append(m.assessments[a.SystemID], &cp)
}

// AddBinding records a policy binding.
func (m *MemoryStore) AddBinding(b *PolicyBinding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	if cp.ID == "" {
		cp.ID = idgen.WithPrefix("pb_")
	}
	m.bindings = append(m.bindings, &cp)
}

// AddEvaluation records an evaluation run.
func (m *MemoryStore) AddEvaluation(r *EvaluationRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	if cp.ID == "" {
		cp.ID = idgen.WithPrefix("eval_")
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.evaluations[r.SystemID] = append(m.evaluations[r.SystemID], &cp)
}

// ApprovalRequests returns the approval requests for a system.
func (m *MemoryStore) ApprovalRequests(systemID string) []*ApprovalRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ApprovalRequest, 0, len(m.approvals[systemID]))
	for _, a := range m.approvals[systemID] {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

func (m *MemoryStore) GetSystem(_ context.Context, id string) (*GovernedSystem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sys, ok := m.systems[id]
	if !ok {
		return nil, ErrSystemNotFound
	}
	cp := *sys
	if sys.Endpoint != nil {
		ep := *sys.Endpoint
		cp.Endpoint = &ep
	}
	return &cp, nil
}

func (m *MemoryStore) LatestRiskAssessment(_ context.Context, systemID string) (*RiskAssessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *RiskAssessment
	for _, a := range m.assessments[systemID] {
		if latest == nil || !a.AssessedAt.Before(latest.AssessedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, ErrNoAssessment
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryStore) ActiveBindings(_ context.Context, tier RiskTier) ([]*PolicyBinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*PolicyBinding
	for _, b := range m.bindings {
		if b.Tier == tier && b.Active {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) RecentEvaluations(_ context.Context, systemID string, limit int) ([]*EvaluationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]*EvaluationRun, 0, len(m.evaluations[systemID]))
	for _, r := range m.evaluations[systemID] {
		cp := *r
		runs = append(runs, &cp)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (m *MemoryStore) LockSystem(_ context.Context, systemID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sys, ok := m.systems[systemID]
	if !ok {
		return false, ErrSystemNotFound
	}
	if sys.RegistryLocked {
		return false, nil
	}
	sys.RegistryLocked = true
	sys.LockReason = reason
	sys.DeploymentStatus = StatusBlocked
	sys.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) EnsureApprovalRequest(_ context.Context, systemID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.approvals[systemID] {
		if a.Status == ApprovalPending {
			return false, nil
		}
	}
	m.approvals[systemID] = append(m.approvals[systemID], &ApprovalRequest{
		ID:        idgen.WithPrefix("apr_"),
		SystemID:  systemID,
		Status:    ApprovalPending,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
	return true, nil
}
