package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{422, "4xx"},
		{451, "4xx"},
		{502, "5xx"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusBucket(tt.code), "status %d", tt.code)
	}
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/systems/:id", func(c *gin.Context) {
		c.Status(http.StatusUnavailableForLegalReasons)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v1/systems/:id", "4xx"))
	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/systems/"+id, nil))
		require.Equal(t, http.StatusUnavailableForLegalReasons, w.Code)
	}
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v1/systems/:id", "4xx"))

	assert.Equal(t, 2.0, after-before, "ids collapse into one route label")
	assert.Equal(t, 0.0, testutil.ToFloat64(HTTPInFlight))
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "4xx"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "4xx"))
	assert.Equal(t, 1.0, after-before)
}

func TestSamplePools_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	require.NoError(t, client.Ping(t.Context()).Err())

	samplePools(PoolSources{Redis: client})

	assert.GreaterOrEqual(t, testutil.ToFloat64(RedisTotalConns), 1.0)
	assert.Greater(t, testutil.ToFloat64(GoroutineCount), 0.0)
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	GoroutineCount.Set(1)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	for _, name := range []string{"govgate_goroutines", "govgate_http_in_flight_requests", "govgate_db_open_connections"} {
		assert.True(t, strings.Contains(body, name), "missing %s", name)
	}
}
