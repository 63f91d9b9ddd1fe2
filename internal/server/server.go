// Package server wires the gateway's stores, pipeline and HTTP surface.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/mbd888/govgate/internal/auth"
	"github.com/mbd888/govgate/internal/circuitbreaker"
	"github.com/mbd888/govgate/internal/config"
	"github.com/mbd888/govgate/internal/escalation"
	"github.com/mbd888/govgate/internal/gateway"
	"github.com/mbd888/govgate/internal/governance"
	"github.com/mbd888/govgate/internal/health"
	"github.com/mbd888/govgate/internal/idgen"
	"github.com/mbd888/govgate/internal/invoker"
	"github.com/mbd888/govgate/internal/logging"
	"github.com/mbd888/govgate/internal/metrics"
	"github.com/mbd888/govgate/internal/ratelimit"
	"github.com/mbd888/govgate/internal/scanner"
	"github.com/mbd888/govgate/internal/security"
	"github.com/mbd888/govgate/internal/traces"
	"github.com/mbd888/govgate/internal/validation"
)

// Version is reported by /health.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg           *config.Config
	db            *sql.DB       // nil when running in memory
	redis         *redis.Client // nil without REDIS_URL
	nats          *escalation.NATSPublisher
	policies      governance.Store
	model         gateway.ModelInvoker
	gateway       *gateway.Service
	sweeper       *ratelimit.Sweeper
	health        *health.Registry
	keyring       *auth.Keyring
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	errLog        *slog.Logger
	drainDelay    time.Duration
	traceShutdown func(context.Context) error
	cancelRunCtx  context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithErrorLog sets the error channel for failures the gateway recovers from.
func WithErrorLog(logger *slog.Logger) Option {
	return func(s *Server) {
		s.errLog = logger
	}
}

// WithPolicyStore replaces the governance store (for testing).
func WithPolicyStore(store governance.Store) Option {
	return func(s *Server) {
		s.policies = store
	}
}

// WithModelInvoker replaces the model invoker (for testing).
func WithModelInvoker(inv gateway.ModelInvoker) Option {
	return func(s *Server) {
		s.model = inv
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// routing traffic before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a server. Storage follows configuration: DATABASE_URL selects
// PostgreSQL for every store, REDIS_URL moves the rate-limit counter to
// Redis, and without either everything lives in process memory.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		errLog:     logging.NewErrorChannel(os.Stderr),
		drainDelay: 5 * time.Second,
		health:     health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.traceShutdown = shutdown

	var (
		logs        gateway.LogStore
		escalations escalation.Store
		counter     ratelimit.Counter
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.health.Register("postgres", true, health.SQL(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		if s.policies == nil {
			s.policies = governance.NewPostgresStore(db)
		}
		logs = gateway.NewPostgresStore(db)
		escalations = escalation.NewPostgresStore(db)
		counter = ratelimit.NewPostgresCounter(db)
	} else {
		if s.policies == nil {
			policies, err := loadPolicies(cfg.GovernanceSeedFile)
			if err != nil {
				return nil, err
			}
			s.policies = policies
		}
		logs = gateway.NewMemoryStore()
		escalations = escalation.NewMemoryStore()
		counter = ratelimit.NewMemoryCounter()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if cfg.RedisURL != "" {
		client, err := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			s.closeStores()
			return nil, err
		}
		s.redis = client
		counter = ratelimit.NewRedisCounter(client)
		s.health.Register("redis", true, health.Redis(client))
		s.logger.Info("rate-limit counter in Redis")
	}
	if ws, ok := counter.(ratelimit.WindowStore); ok {
		s.sweeper = ratelimit.NewSweeper(ws, cfg.RateLimitWindow, s.logger)
	}

	emitter := escalation.NewEmitter(escalations, s.logger, s.errLog)
	if cfg.NATSURL != "" {
		pub, err := escalation.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			// Publication is best-effort; the durable record is the review item.
			s.logger.Warn("escalation events disabled", "error", err)
		} else {
			s.nats = pub
			emitter.WithPublisher(pub, cfg.EscalationSubject)
			s.health.Register("nats", false, health.NATS(pub.Conn()))
			s.logger.Info("escalation events enabled", "subject", cfg.EscalationSubject)
		}
	}

	rules := scanner.DefaultRules()
	if cfg.ScannerRulesFile != "" {
		if rules, err = scanner.LoadRules(cfg.ScannerRulesFile); err != nil {
			s.closeStores()
			return nil, err
		}
	}
	scan, err := scanner.New(rules)
	if err != nil {
		s.closeStores()
		return nil, err
	}

	if s.model == nil {
		s.model = s.newInvoker()
	}

	s.keyring, err = auth.NewKeyring(cfg.APIKeys)
	if err != nil {
		s.closeStores()
		return nil, err
	}
	if s.keyring.Enabled() {
		s.logger.Info("API authentication enabled")
	} else {
		s.logger.Warn("API authentication disabled (no GATEWAY_API_KEYS)")
	}

	limiter := ratelimit.New(counter, cfg.RateLimitWindow, int64(cfg.RateLimitMax))
	s.gateway = gateway.NewService(s.policies, limiter, scan, s.model, logs, emitter, s.logger).
		WithConfig(gateway.Config{
			EvalThreshold: cfg.EvalScoreThreshold,
			EvalHistory:   cfg.EvalHistoryLimit,
		}).
		WithErrorLog(s.errLog)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func (s *Server) newInvoker() *invoker.Invoker {
	var fallback invoker.Provider
	if s.cfg.DefaultProviderAPIKey != "" || s.cfg.DefaultProviderURL != "" {
		fallback = invoker.NewOpenAIProvider(invoker.ProviderDefault,
			s.cfg.DefaultProviderURL, s.cfg.DefaultProviderAPIKey, s.cfg.DefaultModel, nil)
	} else {
		s.logger.Warn("no default model provider configured; systems without an endpoint will fail upstream")
	}

	breaker := circuitbreaker.New(5, 30*time.Second)
	breaker.OnTransition(func(endpoint string, from, to circuitbreaker.State) {
		s.logger.Warn("model endpoint circuit changed", "endpoint", endpoint, "from", from.String(), "to", to.String())
	})

	return invoker.New(invoker.Config{
		Timeout:       s.cfg.ModelTimeout,
		DefaultModel:  s.cfg.DefaultModel,
		Fallback:      fallback,
		Breaker:       breaker,
		CheckEndpoint: security.NewEndpointValidator(s.cfg.AllowPrivateEndpoints).Validate,
	})
}

func loadPolicies(seedFile string) (*governance.MemoryStore, error) {
	if seedFile == "" {
		return governance.NewMemoryStore(), nil
	}
	return governance.LoadSeed(seedFile)
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if !idgen.ValidTraceID(requestID) {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if caller, ok := auth.GetCaller(c); ok {
			attrs = append(attrs, "caller", caller.Name)
		}

		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1", auth.Middleware(s.keyring))
	gateway.NewHandler(s.gateway).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse is the /health body.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ready, checks := s.health.CheckAll(c.Request.Context())

	status, httpStatus := "healthy", http.StatusOK
	if !ready {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessHandler fails while starting or draining, and whenever a
// dependency the pipeline needs is down; the gateway would only fail closed.
func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	s.health.Handler()(c)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run serves HTTP until ctx is cancelled or SIGINT/SIGTERM arrives, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Model calls are bounded by MODEL_TIMEOUT per attempt, twice with fallback.
		WriteTimeout: 2*s.cfg.ModelTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.sweeper != nil {
		go s.sweeper.Start(runCtx)
	}
	go metrics.StartPoolCollector(runCtx, metrics.PoolSources{DB: s.db, Redis: s.redis}, 15*time.Second)

	s.ready.Store(true)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown stops accepting traffic, lets in-flight requests finish their
// pipeline (including the decision log write) and closes every store.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}
	s.closeStores()

	s.logger.Info("server stopped")
	return shutdownErr
}

func (s *Server) closeStores() {
	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			s.logger.Error("nats close error", "error", err)
		}
		s.nats = nil
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
		s.redis = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
		s.db = nil
	}
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}
