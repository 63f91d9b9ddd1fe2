//go:build integration

package governance

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/govgate/internal/testutil"
)

func seedSystem(t *testing.T, db *sql.DB, id, status string) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO governed_systems (id, name, deployment_status, endpoint_url, endpoint_credential_ref, endpoint_format, rate_limit)
		VALUES ($1, $1, $2, 'http://model.local/v1/chat', 'MODEL_KEY', 'openai', 25)`, id, status)
	require.NoError(t, err)
}

func TestPostgresStore_Reads(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	seedSystem(t, db, "sys-pg", "deployed")
	now := time.Now().UTC()
	_, err := db.Exec(`INSERT INTO risk_assessments (id, system_id, risk_tier, uri_score, assessed_at) VALUES
		('r1', 'sys-pg', 'high', 70, $1), ('r2', 'sys-pg', 'medium', 40, $2)`, now.Add(-time.Hour), now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO policy_bindings (id, risk_tier, action_type, description, auto_enforce, active) VALUES
		('b1', 'medium', 'hitl_mandatory', 'review', true, true), ('b2', 'medium', 'notify', 'old', false, false)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO evaluation_runs (id, system_id, engine_type, overall_score, status, created_at) VALUES
		('e1', 'sys-pg', 'bias', 85, 'completed', $1), ('e2', 'sys-pg', 'toxicity', NULL, 'running', $2)`, now.Add(-time.Minute), now)
	require.NoError(t, err)

	sys, err := store.GetSystem(ctx, "sys-pg")
	require.NoError(t, err)
	assert.Equal(t, StatusDeployed, sys.DeploymentStatus)
	assert.Equal(t, int64(25), sys.RateLimit)
	require.NotNil(t, sys.Endpoint)
	assert.Equal(t, FormatOpenAI, sys.Endpoint.Format)

	_, err = store.GetSystem(ctx, "missing")
	assert.ErrorIs(t, err, ErrSystemNotFound)

	a, err := store.LatestRiskAssessment(ctx, "sys-pg")
	require.NoError(t, err)
	assert.Equal(t, TierMedium, a.Tier)

	bindings, err := store.ActiveBindings(ctx, TierMedium)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, ActionHITLMandatory, bindings[0].Action)

	runs, err := store.RecentEvaluations(ctx, "sys-pg", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, EvalRunning, runs[0].Status)
	assert.Nil(t, runs[0].OverallScore)
	require.NotNil(t, runs[1].OverallScore)
	assert.Equal(t, 85.0, *runs[1].OverallScore)
}

func TestPostgresStore_LockSystemConcurrent(t *testing.T) {
	db := testutil.PGContainer(t)
	store := NewPostgresStore(db)
	seedSystem(t, db, "sys-crit", "deployed")

	var transitions atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.LockSystem(context.Background(), "sys-crit", "critical risk tier")
			if err == nil && ok {
				transitions.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), transitions.Load())
	sys, err := store.GetSystem(context.Background(), "sys-crit")
	require.NoError(t, err)
	assert.True(t, sys.RegistryLocked)
	assert.Equal(t, StatusBlocked, sys.DeploymentStatus)
}

func TestPostgresStore_EnsureApprovalRequest(t *testing.T) {
	db := testutil.PGContainer(t)
	store := NewPostgresStore(db)
	seedSystem(t, db, "sys-apr", "pending_approval")
	ctx := context.Background()

	created, err := store.EnsureApprovalRequest(ctx, "sys-apr", "approval required")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.EnsureApprovalRequest(ctx, "sys-apr", "approval required")
	require.NoError(t, err)
	assert.False(t, created)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM approval_requests WHERE system_id = 'sys-apr'`).Scan(&n))
	assert.Equal(t, 1, n)
}
