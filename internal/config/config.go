// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port            string
	Env             string // "development", "staging", "production"
	LogLevel        string
	LogFormat       string // "text" or "json"
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Shared rate-limit counter store (optional)

	// GovernanceSeedFile loads systems, assessments, bindings and evaluations
	// from YAML when no database is configured.
	GovernanceSeedFile string

	// Rate limiting
	RateLimitWindow time.Duration
	RateLimitMax    int

	// Evaluation gate
	EvalScoreThreshold float64
	EvalHistoryLimit   int

	// Model invocation
	ModelTimeout          time.Duration
	DefaultProviderURL    string // Base URL for the OpenAI-compatible fallback provider
	DefaultProviderAPIKey string
	DefaultModel          string
	AllowPrivateEndpoints bool // Permit configured endpoints on private networks

	// Content safety
	ScannerRulesFile string

	// Escalation
	NATSURL           string
	EscalationSubject string

	// Security
	APIKeys []string // Accepted inbound API keys; empty disables auth (development only)

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultRateLimitWindow    = 60 * time.Second
	DefaultRateLimitMax       = 100
	DefaultEvalScoreThreshold = 70.0
	DefaultEvalHistoryLimit   = 10
	DefaultModelTimeout       = 30 * time.Second
	DefaultModel              = "gpt-4o-mini"
	DefaultEscalationSubject  = "governance.escalations"
	DefaultShutdownTimeout    = 15 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	apiKey := os.Getenv("DEFAULT_PROVIDER_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg := &Config{
		Port:                  getEnv("PORT", DefaultPort),
		Env:                   getEnv("ENV", DefaultEnv),
		LogLevel:              getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:             getEnv("LOG_FORMAT", DefaultLogFormat),
		ShutdownTimeout:       getEnvDuration("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
		CORSOrigins:           splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		GovernanceSeedFile:    os.Getenv("GOVERNANCE_SEED_FILE"),
		RateLimitWindow:       getEnvDuration("RATE_LIMIT_WINDOW", DefaultRateLimitWindow),
		RateLimitMax:          int(getEnvInt64("RATE_LIMIT_MAX", DefaultRateLimitMax)),
		EvalScoreThreshold:    getEnvFloat("EVAL_SCORE_THRESHOLD", DefaultEvalScoreThreshold),
		EvalHistoryLimit:      int(getEnvInt64("EVAL_HISTORY_LIMIT", DefaultEvalHistoryLimit)),
		ModelTimeout:          getEnvDuration("MODEL_TIMEOUT", DefaultModelTimeout),
		DefaultProviderURL:    os.Getenv("DEFAULT_PROVIDER_URL"),
		DefaultProviderAPIKey: apiKey,
		DefaultModel:          getEnv("DEFAULT_MODEL", DefaultModel),
		AllowPrivateEndpoints: getEnvBool("ALLOW_PRIVATE_ENDPOINTS", false),
		ScannerRulesFile:      os.Getenv("SCANNER_RULES_FILE"),
		NATSURL:               os.Getenv("NATS_URL"),
		EscalationSubject:     getEnv("ESCALATION_SUBJECT", DefaultEscalationSubject),
		APIKeys:               splitList(os.Getenv("GATEWAY_API_KEYS")),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	if c.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX must be positive")
	}
	if c.EvalScoreThreshold < 0 || c.EvalScoreThreshold > 100 {
		return fmt.Errorf("EVAL_SCORE_THRESHOLD must be between 0 and 100")
	}
	if c.EvalHistoryLimit <= 0 {
		return fmt.Errorf("EVAL_HISTORY_LIMIT must be positive")
	}
	if c.ModelTimeout <= 0 {
		return fmt.Errorf("MODEL_TIMEOUT must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}

	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if len(c.APIKeys) == 0 {
			return fmt.Errorf("GATEWAY_API_KEYS is required in production")
		}
		if c.GovernanceSeedFile != "" {
			return fmt.Errorf("GOVERNANCE_SEED_FILE is for development only")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
