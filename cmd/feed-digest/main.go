package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ryosukesatoh/feed-digest/internal/config"
	"github.com/ryosukesatoh/feed-digest/internal/logging"
	"github.com/ryosukesatoh/feed-digest/internal/runner"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	flagConfig  string
	flagEnvFile string
)

var rootCmd = &cobra.Command{
	Use:   "feed-digest",
	Short: "Summarize new feed articles and push a digest",
	Long: `feed-digest polls the configured RSS/Atom feeds, skips articles it has
already processed, summarizes the new ones with an AI completion service and
delivers a digest to a webhook. Each invocation is one complete run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runCommand,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once (default)",
	RunE:  runCommand,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file (default: $FEED_DIGEST_CONFIG, ./config.yaml, XDG config dir)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "file with KEY=VALUE secrets, loaded when present")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "feed-digest: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig reads the .env file and the config, and builds the logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	if err := config.LoadEnvFile(flagEnvFile); err != nil {
		return nil, nil, err
	}
	path, err := config.ResolvePath(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.LogLevel)
	logger.Debug("config loaded", "path", path, "sources", len(cfg.EnabledSources()))
	return cfg, logger, nil
}

func runCommand(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	_, err = runOnce(cmd.Context(), cfg, logger)
	return err
}

// runOnce executes one pipeline run under a fresh run_id.
func runOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger) (runner.Report, error) {
	logger = logger.With("run_id", uuid.NewString())

	r, err := runner.NewFromConfig(cfg, logger)
	if err != nil {
		return runner.Report{}, err
	}
	defer func() {
		if err := r.Close(); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()

	rep, err := r.Run(ctx)
	if err != nil {
		switch {
		case errors.Is(err, runner.ErrNoData):
			logger.Error("run failed: no source could be fetched and there is no saved state", "error", err)
		case errors.Is(err, runner.ErrDelivery):
			logger.Error("run failed: digest was not delivered, articles stay pending", "error", err)
		default:
			logger.Error("run failed", "error", err)
		}
		return rep, err
	}

	s := rep.Stats
	logger.Info("run finished",
		"outcome", rep.Outcome,
		"fetched", s.Fetched,
		"new", s.New,
		"summarized", s.Summarized,
		"fallback", s.Fallback,
		"flagged", s.Flagged,
		"dropped", s.Dropped,
		"stale", s.Stale,
		"deferred", s.Deferred,
		"failed_sources", len(s.FailedSources),
		"recorded", rep.Recorded,
		"pruned", rep.Pruned,
		"duration", rep.Duration,
	)
	return rep, nil
}
