package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/cyp0633/caldora-purge/internal/config"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Purge the configured principal queue on a schedule",
		Long: `Run the purge over the principals listed in the config on the cron
schedule from the config, until interrupted.

Example:
  CALDORA_PURGE_PRINCIPALS=alice,bob caldora-purge watch --config purge.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.LoadConfig()
			if err != nil {
				return err
			}

			parentCtx := cmd.Context()
			if parentCtx == nil {
				parentCtx = context.Background()
			}
			ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, cmd.OutOrStdout(), rootOpts, cfg)
		},
	}
	return cmd
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

func runWatch(ctx context.Context, out io.Writer, opts *RootOptions, cfg *config.Config) error {
	logger := opts.Logger()
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid schedule", err)
	}

	c := cron.New(cron.WithLogger(cronLogger{logger: logger}))
	c.Schedule(schedule, cron.NewChain(cron.SkipIfStillRunning(cronLogger{logger: logger})).Then(cron.FuncJob(func() {
		tick(ctx, out, opts, cfg)
	})))

	logger.Info("watching principal queue",
		"schedule", cfg.Schedule,
		"principals", len(cfg.Principals),
		"next", schedule.Next(time.Now()).Format(time.RFC3339))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("watch stopped")
	return nil
}

// tick runs one scheduled purge. Failures are logged; the schedule goes on.
func tick(ctx context.Context, out io.Writer, opts *RootOptions, cfg *config.Config) {
	logger := opts.Logger()
	if len(cfg.Principals) == 0 {
		logger.Debug("principal queue is empty")
		return
	}
	if err := runPurge(ctx, out, opts, cfg, cfg.Principals, time.Time{}); err != nil {
		logger.Error("scheduled purge failed", "error", err, "exit_code", GetExitCode(err))
	}
}
