package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/ryosukesatoh/feed-digest/internal/config"
	"github.com/ryosukesatoh/feed-digest/internal/store"
)

var flagPruneOlderThan string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "feed-digest %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Stay running and trigger a run on the configured schedule",
	Long: `Run the pipeline on the cron expression in the config's schedule field,
in the configured timezone. A tick that arrives while the previous run is
still going is skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		cl := cronLogger{logger}
		c := cron.New(
			cron.WithLocation(cfg.Location()),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		)
		if _, err := c.AddFunc(cfg.Schedule, func() {
			runOnce(ctx, cfg, logger)
		}); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
		}

		c.Start()
		logger.Info("scheduler started", "schedule", cfg.Schedule, "timezone", cfg.Timezone)

		<-ctx.Done()
		logger.Info("shutting down, waiting for the current run")
		<-c.Stop().Done()
		logger.Info("shutdown complete")
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old entries from the seen-set",
	Long: `Delete seen-set entries first seen before the retention period.

Uses store.retention from config (default: 30d) unless overridden with --older-than.
Unlike the pruning done during a run, this does not know which articles are
still listed in a feed, so pruning them here lets them be notified again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		retention := cfg.RetentionDuration()
		if flagPruneOlderThan != "" {
			d, err := config.ParseRetention(flagPruneOlderThan)
			if err != nil {
				return fmt.Errorf("invalid --older-than value: %w", err)
			}
			retention = d
		}

		b, err := store.Open(cfg.Store)
		if err != nil {
			return err
		}
		defer b.Close()

		ctx := cmd.Context()
		set, err := store.Load(ctx, b)
		if err != nil {
			return fmt.Errorf("reading seen-set: %w", err)
		}
		removed := set.Prune(time.Now().Add(-retention), nil)
		if removed == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to prune.")
			return nil
		}
		if err := store.Save(ctx, b, set); err != nil {
			return fmt.Errorf("writing seen-set: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entries older than %s, %d left.\n", removed, formatDuration(retention), set.Len())
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show seen-set statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		b, err := store.Open(cfg.Store)
		if err != nil {
			return err
		}
		defer b.Close()

		set, err := store.Load(cmd.Context(), b)
		if err != nil {
			return fmt.Errorf("reading seen-set: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Store: %s (%s)\n", cfg.Store.Path, cfg.Store.Backend)
		fmt.Fprintf(out, "Entries: %s\n", humanize.Comma(int64(set.Len())))
		if fi, err := os.Stat(cfg.Store.Path); err == nil {
			fmt.Fprintf(out, "Size: %s\n", humanize.Bytes(uint64(fi.Size())))
		}
		if !set.Empty() {
			oldest, newest := set.Span()
			fmt.Fprintf(out, "Oldest: %s (%s)\n", oldest.In(cfg.Location()).Format("2006-01-02 15:04"), humanize.Time(oldest))
			fmt.Fprintf(out, "Newest: %s (%s)\n", newest.In(cfg.Location()).Format("2006-01-02 15:04"), humanize.Time(newest))
		}
		fmt.Fprintf(out, "Retention: %s\n", formatDuration(cfg.RetentionDuration()))
		return nil
	},
}

func init() {
	pruneCmd.Flags().StringVar(&flagPruneOlderThan, "older-than", "", "override retention period (e.g., 30d, 720h)")
}

func formatDuration(d time.Duration) string {
	if days := int(d.Hours() / 24); days > 0 && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return d.String()
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
