// Package metrics provides process-wide Prometheus instrumentation: HTTP
// traffic, connection pools and the /metrics endpoint. Gateway decision
// metrics live next to the code that records them.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "govgate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "govgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPInFlight tracks requests currently being served.
	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govgate", Name: "http_in_flight_requests",
		Help: "Number of HTTP requests currently being served.",
	})

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govgate", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govgate", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govgate", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govgate", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})

	RedisTotalConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govgate", Name: "redis_pool_connections",
		Help: "Connections in the Redis pool.",
	})
	RedisIdleConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govgate", Name: "redis_pool_idle_connections",
		Help: "Idle connections in the Redis pool.",
	})
	RedisPoolTimeouts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govgate", Name: "redis_pool_timeouts_total",
		Help: "Times a Redis connection could not be obtained in time.",
	})

	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govgate", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPInFlight,
		DBOpenConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		RedisTotalConns,
		RedisIdleConns,
		RedisPoolTimeouts,
		GoroutineCount,
	)
}

// PoolSources names the connection pools sampled by StartPoolCollector.
// Nil members are skipped.
type PoolSources struct {
	DB    *sql.DB
	Redis *redis.Client
}

// StartPoolCollector samples pool statistics and the goroutine count every
// interval until ctx is done. Run it in its own goroutine.
func StartPoolCollector(ctx context.Context, src PoolSources, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samplePools(src)
		}
	}
}

func samplePools(src PoolSources) {
	if src.DB != nil {
		stats := src.DB.Stats()
		DBOpenConnections.Set(float64(stats.OpenConnections))
		DBInUseConnections.Set(float64(stats.InUse))
		DBWaitCount.Set(float64(stats.WaitCount))
		DBWaitDuration.Set(stats.WaitDuration.Seconds())
	}
	if src.Redis != nil {
		stats := src.Redis.PoolStats()
		RedisTotalConns.Set(float64(stats.TotalConns))
		RedisIdleConns.Set(float64(stats.IdleConns))
		RedisPoolTimeouts.Set(float64(stats.Timeouts))
	}
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// Middleware records request counts and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		HTTPInFlight.Inc()
		defer HTTPInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler serves the Prometheus registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
