//go:build integration

package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/govgate/internal/testutil"
)

func TestPostgresStore_LogRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	store := NewPostgresStore(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	allow := &RequestLog{
		ID: "rlog_1", TraceID: "t-1", SystemID: "sys-pg",
		Decision: DecisionAllow, Stage: StageComplete, StatusCode: 200, LatencyMs: 42,
		Scores:   map[string]float64{"input.privacy": 0, "output.security": 0.2},
		Provider: "configured", Model: "tuned-model",
		CreatedAt: base.Add(-time.Minute),
	}
	blocked := &RequestLog{
		ID: "rlog_2", TraceID: "t-2", SystemID: "sys-pg",
		Decision: DecisionPermanentBlock, Stage: StageLockCheck, StatusCode: 451,
		Reason: "manual hold", CreatedAt: base,
	}
	other := &RequestLog{
		ID: "rlog_3", TraceID: "t-3", SystemID: "sys-other",
		Decision: DecisionRateLimited, Stage: StageRateLimit, StatusCode: 429, CreatedAt: base,
	}
	for _, l := range []*RequestLog{allow, blocked, other} {
		require.NoError(t, store.CreateLog(ctx, l))
	}

	logs, err := store.ListLogs(ctx, "sys-pg", 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	assert.Equal(t, "rlog_2", logs[0].ID, "newest first")
	assert.Equal(t, DecisionPermanentBlock, logs[0].Decision)
	assert.Equal(t, "manual hold", logs[0].Reason)
	assert.Nil(t, logs[0].Scores)
	assert.Empty(t, logs[0].Provider)

	assert.Equal(t, allow.Scores, logs[1].Scores)
	assert.Equal(t, "configured", logs[1].Provider)
	assert.Equal(t, int64(42), logs[1].LatencyMs)
	assert.True(t, allow.CreatedAt.Equal(logs[1].CreatedAt))

	limited, err := store.ListLogs(ctx, "sys-pg", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// Duplicate ids are rejected; the log is append-only.
	assert.Error(t, store.CreateLog(ctx, allow))
}
