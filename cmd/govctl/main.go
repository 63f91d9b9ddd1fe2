// Command govctl is the operator tool for the gateway: it dry-runs the
// content scanner, validates governance seed files and checks configuration.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbd888/govgate/internal/config"
	"github.com/mbd888/govgate/internal/governance"
	"github.com/mbd888/govgate/internal/scanner"
)

const appName = "govctl"

// Version is set by ldflags.
var Version = "dev"

// errBlocked makes `scan` exit non-zero on a blocking verdict, for CI use.
var errBlocked = errors.New("content blocked")

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Operator tooling for the governance gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(scanCmd(), seedCmd(), configCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	})
	return cmd
}

func scanCmd() *cobra.Command {
	var rulesFile string
	cmd := &cobra.Command{
		Use:   "scan [text]",
		Short: "Classify text with the content scanner",
		Long: `Runs the gateway's content scanner over the given text, or stdin when
no argument is given, and prints the result as JSON. Exits non-zero when
the verdict is BLOCK.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			if len(args) == 1 {
				text = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(data)
			}
			return runScan(cmd.OutOrStdout(), rulesFile, text)
		},
	}
	cmd.Flags().StringVar(&rulesFile, "rules", "", "YAML rules file (defaults to built-in rules)")
	return cmd
}

func runScan(w io.Writer, rulesFile, text string) error {
	rules := scanner.DefaultRules()
	if rulesFile != "" {
		var err error
		if rules, err = scanner.LoadRules(rulesFile); err != nil {
			return err
		}
	}
	s, err := scanner.New(rules)
	if err != nil {
		return err
	}

	res := s.Scan(text)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.Verdict == scanner.Block {
		return errBlocked
	}
	return nil
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Governance seed file tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Load a seed file and report what the gateway would see",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeedValidate(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	})
	return cmd
}

func runSeedValidate(ctx context.Context, w io.Writer, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := governance.LoadSeed(path)
	if err != nil {
		return err
	}
	for _, id := range store.SystemIDs() {
		sys, err := store.GetSystem(ctx, id)
		if err != nil {
			return err
		}
		tier := "none"
		if a, err := store.LatestRiskAssessment(ctx, id); err == nil {
			tier = string(a.Tier)
		}
		var flags []string
		if sys.RegistryLocked {
			flags = append(flags, "locked")
		}
		if sys.RequiresApproval {
			flags = append(flags, "requires-approval")
		}
		if sys.Endpoint != nil {
			flags = append(flags, "endpoint")
		}
		fmt.Fprintf(w, "%-24s status=%-12s tier=%-9s %s\n", id, sys.DeploymentStatus, tier, strings.Join(flags, ","))
	}
	return nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load configuration from the environment and report problems",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	})
	return cmd
}

func printConfig(w io.Writer, cfg *config.Config) {
	storage := "memory"
	if cfg.DatabaseURL != "" {
		storage = "postgres"
	}
	counter := storage
	if cfg.RedisURL != "" {
		counter = "redis"
	}
	fmt.Fprintf(w, "env:            %s\n", cfg.Env)
	fmt.Fprintf(w, "storage:        %s\n", storage)
	fmt.Fprintf(w, "rate counter:   %s (%d per %s)\n", counter, cfg.RateLimitMax, cfg.RateLimitWindow)
	fmt.Fprintf(w, "eval threshold: %.1f over %d runs\n", cfg.EvalScoreThreshold, cfg.EvalHistoryLimit)
	fmt.Fprintf(w, "auth:           %s\n", enabled(len(cfg.APIKeys) > 0))
	fmt.Fprintf(w, "escalation bus: %s\n", enabled(cfg.NATSURL != ""))
	fmt.Fprintf(w, "tracing:        %s\n", enabled(cfg.OTLPEndpoint != ""))
}

func enabled(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
