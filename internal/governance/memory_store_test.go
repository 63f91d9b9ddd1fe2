package governance

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSystem(t *testing.T) {
	m := NewMemoryStore()
	m.PutSystem(&GovernedSystem{
		ID:               "sys-1",
		DeploymentStatus: StatusApproved,
		Endpoint:         &EndpointConfig{URL: "http://model.local"},
	})

	sys, err := m.GetSystem(context.Background(), "sys-1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, sys.DeploymentStatus)

	// Returned copies do not alias the stored record.
	sys.Endpoint.URL = "http://changed"
	again, _ := m.GetSystem(context.Background(), "sys-1")
	assert.Equal(t, "http://model.local", again.Endpoint.URL)

	_, err = m.GetSystem(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSystemNotFound)
}

func TestMemoryStore_LatestRiskAssessment(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, err := m.LatestRiskAssessment(ctx, "sys-1")
	assert.ErrorIs(t, err, ErrNoAssessment)

	now := time.Now()
	m.AddRiskAssessment(&RiskAssessment{SystemID: "sys-1", Tier: TierHigh, AssessedAt: now.Add(-time.Hour)})
	m.AddRiskAssessment(&RiskAssessment{SystemID: "sys-1", Tier: TierMedium, AssessedAt: now})
	m.AddRiskAssessment(&RiskAssessment{SystemID: "sys-1", Tier: TierCritical, AssessedAt: now.Add(-2 * time.Hour)})

	a, err := m.LatestRiskAssessment(ctx, "sys-1")
	require.NoError(t, err)
	assert.Equal(t, TierMedium, a.Tier)
}

func TestMemoryStore_ActiveBindings(t *testing.T) {
	m := NewMemoryStore()
	m.AddBinding(&PolicyBinding{Tier: TierHigh, Action: ActionApprovalRequired, Active: true, AutoEnforce: true})
	m.AddBinding(&PolicyBinding{Tier: TierHigh, Action: ActionHITLMandatory, Active: false})
	m.AddBinding(&PolicyBinding{Tier: TierLow, Action: ActionNotify, Active: true})

	got, err := m.ActiveBindings(context.Background(), TierHigh)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ActionApprovalRequired, got[0].Action)
}

func TestMemoryStore_RecentEvaluations(t *testing.T) {
	m := NewMemoryStore()
	base := time.Now()
	for i := 0; i < 12; i++ {
		m.AddEvaluation(&EvaluationRun{
			SystemID:   "sys-1",
			EngineType: "bias",
			Status:     EvalCompleted,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
	}

	runs, err := m.RecentEvaluations(context.Background(), "sys-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 10)
	assert.True(t, runs[0].CreatedAt.After(runs[9].CreatedAt), "newest first")
	assert.Equal(t, base.Add(11*time.Minute), runs[0].CreatedAt)
}

func TestMemoryStore_LockSystemConcurrentIsIdempotent(t *testing.T) {
	m := NewMemoryStore()
	m.PutSystem(&GovernedSystem{ID: "sys-1", DeploymentStatus: StatusDeployed})

	var transitions atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.LockSystem(context.Background(), "sys-1", "critical risk tier")
			if err == nil && ok {
				transitions.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), transitions.Load())
	sys, _ := m.GetSystem(context.Background(), "sys-1")
	assert.True(t, sys.RegistryLocked)
	assert.Equal(t, StatusBlocked, sys.DeploymentStatus)
	assert.Equal(t, "critical risk tier", sys.LockReason)

	_, err := m.LockSystem(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, ErrSystemNotFound)
}

func TestMemoryStore_EnsureApprovalRequest(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	created, err := m.EnsureApprovalRequest(ctx, "sys-1", "deployment approval required")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = m.EnsureApprovalRequest(ctx, "sys-1", "deployment approval required")
	require.NoError(t, err)
	assert.False(t, created)

	reqs := m.ApprovalRequests("sys-1")
	require.Len(t, reqs, 1)
	assert.Equal(t, ApprovalPending, reqs[0].Status)
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
systems:
  - id: support-bot
    name: Support Bot
    deploymentStatus: deployed
    rateLimit: 20
    endpoint:
      url: https://models.internal/v1/chat/completions
      credentialRef: SUPPORT_BOT_KEY
      format: openai
assessments:
  - systemId: support-bot
    riskTier: medium
    uriScore: 42
bindings:
  - riskTier: high
    actionType: approval_required
    description: High-risk systems need sign-off
    autoEnforce: true
    active: true
evaluations:
  - systemId: support-bot
    engineType: bias
    status: completed
    overallScore: 85
`), 0o600))

	m, err := LoadSeed(path)
	require.NoError(t, err)
	ctx := context.Background()

	sys, err := m.GetSystem(ctx, "support-bot")
	require.NoError(t, err)
	assert.Equal(t, StatusDeployed, sys.DeploymentStatus)
	assert.Equal(t, int64(20), sys.RateLimit)
	require.NotNil(t, sys.Endpoint)
	assert.Equal(t, "SUPPORT_BOT_KEY", sys.Endpoint.CredentialRef)

	a, err := m.LatestRiskAssessment(ctx, "support-bot")
	require.NoError(t, err)
	assert.Equal(t, TierMedium, a.Tier)

	runs, err := m.RecentEvaluations(ctx, "support-bot", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].OverallScore)
	assert.Equal(t, 85.0, *runs[0].OverallScore)

	bindings, err := m.ActiveBindings(ctx, TierHigh)
	require.NoError(t, err)
	assert.Len(t, bindings, 1)
}

func TestLoadSeed_RejectsUnknownSystem(t *testing.T) {
	seed := &Seed{Assessments: []RiskAssessment{{SystemID: "ghost", Tier: TierLow}}}
	_, err := seed.Apply(NewMemoryStore())
	assert.Error(t, err)

	seed = &Seed{
		Systems:     []GovernedSystem{{ID: "sys-1"}},
		Assessments: []RiskAssessment{{SystemID: "sys-1", Tier: "extreme"}},
	}
	_, err = seed.Apply(NewMemoryStore())
	assert.Error(t, err)
}

func TestTierAndStatusHelpers(t *testing.T) {
	assert.True(t, TierHigh.HighRisk())
	assert.True(t, TierCritical.HighRisk())
	assert.False(t, TierMedium.HighRisk())
	assert.True(t, StatusApproved.Cleared())
	assert.True(t, StatusDeployed.Cleared())
	assert.False(t, StatusPendingApproval.Cleared())
}

func TestMemoryStore_SystemIDs(t *testing.T) {
	m := NewMemoryStore()
	assert.Empty(t, m.SystemIDs())

	m.PutSystem(&GovernedSystem{ID: "zeta"})
	m.PutSystem(&GovernedSystem{ID: "alpha"})
	m.PutSystem(&GovernedSystem{ID: "alpha"})
	assert.Equal(t, []string{"alpha", "zeta"}, m.SystemIDs())
}
