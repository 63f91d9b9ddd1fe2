// Govgate - admission control gateway for governed AI systems
package main

import (
	"context"
	"os"

	"github.com/mbd888/govgate/internal/config"
	"github.com/mbd888/govgate/internal/logging"
	"github.com/mbd888/govgate/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting govgate",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Re-create with the configured level and format.
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"rate_limit_max", cfg.RateLimitMax,
		"rate_limit_window", cfg.RateLimitWindow.String(),
		"eval_threshold", cfg.EvalScoreThreshold,
	)

	srv, err := server.New(cfg,
		server.WithLogger(logger),
		server.WithErrorLog(logging.NewErrorChannel(os.Stderr)),
	)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
