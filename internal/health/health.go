// Package health runs named dependency checks for the readiness probe.
// A gateway that cannot reach its policy store or rate-limit counter denies
// every request, so readiness reports those dependencies individually.
package health

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 2 * time.Second

// Status is one dependency's result.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
}

// Checker probes a dependency. A nil error means healthy.
type Checker func(ctx context.Context) error

// Registry holds named checkers.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name     string
	critical bool
	check    Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// WithTimeout overrides the per-check deadline.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a checker. Only critical checkers affect readiness; the
// rest are reported for visibility.
func (r *Registry) Register(name string, critical bool, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, critical: critical, check: check})
	r.mu.Unlock()
}

// CheckAll runs every checker concurrently. ready is false when any
// critical checker fails.
func (r *Registry) CheckAll(ctx context.Context) (ready bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	statuses = make([]Status, len(checkers))
	var wg sync.WaitGroup
	for i, nc := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			st := Status{Name: nc.name, Critical: nc.critical, Healthy: true}
			if err := nc.check(cctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			statuses[i] = st
		}()
	}
	wg.Wait()

	ready = true
	for _, st := range statuses {
		if st.Critical && !st.Healthy {
			ready = false
		}
	}
	return ready, statuses
}

// Handler serves the readiness result: 200 when ready, 503 otherwise.
func (r *Registry) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ready, statuses := r.CheckAll(c.Request.Context())
		status, label := http.StatusOK, "ready"
		if !ready {
			status, label = http.StatusServiceUnavailable, "not_ready"
		}
		c.JSON(status, gin.H{"status": label, "checks": statuses})
	}
}

// SQL checks a database connection pool.
func SQL(db *sql.DB) Checker {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

// Redis checks a Redis client.
func Redis(client *redis.Client) Checker {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// NATS checks that a NATS connection is up.
func NATS(conn *nats.Conn) Checker {
	return func(context.Context) error {
		if !conn.IsConnected() {
			return nats.ErrConnectionClosed
		}
		return nil
	}
}
