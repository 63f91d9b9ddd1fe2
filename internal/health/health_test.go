package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func TestRegistry_Empty(t *testing.T) {
	ready, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, ready)
	assert.Empty(t, statuses)
}

func TestRegistry_CriticalFailureNotReady(t *testing.T) {
	r := NewRegistry()
	r.Register("postgres", true, ok)
	r.Register("redis", true, func(context.Context) error { return errors.New("connection refused") })

	ready, statuses := r.CheckAll(context.Background())
	assert.False(t, ready)
	require.Len(t, statuses, 2)
	assert.Equal(t, "postgres", statuses[0].Name)
	assert.True(t, statuses[0].Healthy)
	assert.False(t, statuses[1].Healthy)
	assert.Equal(t, "connection refused", statuses[1].Detail)
}

func TestRegistry_NonCriticalFailureStaysReady(t *testing.T) {
	r := NewRegistry()
	r.Register("nats", false, func(context.Context) error { return errors.New("disconnected") })

	ready, statuses := r.CheckAll(context.Background())
	assert.True(t, ready)
	assert.False(t, statuses[0].Healthy)
}

func TestRegistry_CheckTimesOut(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	r.Register("slow", true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	ready, statuses := r.CheckAll(context.Background())
	assert.False(t, ready)
	assert.Contains(t, statuses[0].Detail, "deadline exceeded")
	assert.Less(t, time.Since(start), time.Second)
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	check := Redis(client)
	assert.NoError(t, check(context.Background()))

	mr.Close()
	assert.Error(t, check(context.Background()))
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
		label  string
	}{
		{"ready", nil, http.StatusOK, "ready"},
		{"not ready", errors.New("down"), http.StatusServiceUnavailable, "not_ready"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			reg.Register("postgres", true, func(context.Context) error { return tt.err })
			r := gin.New()
			r.GET("/health/ready", reg.Handler())

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.status, w.Code)
			var body struct {
				Status string   `json:"status"`
				Checks []Status `json:"checks"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.label, body.Status)
			assert.Len(t, body.Checks, 1)
		})
	}
}
