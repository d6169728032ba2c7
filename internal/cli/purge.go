package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/cyp0633/caldora-purge/internal/config"
	"github.com/cyp0633/caldora-purge/internal/lockhelper"
	"github.com/cyp0633/caldora-purge/purge"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	Completely  bool
	Proxies     bool
	Concurrency int
	Timeout     time.Duration
	Cutoff      string
	PastEvents  string
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge <uid>...",
		Short: "Purge principals from the calendar store",
		Long: `Purge every listed principal in its own transaction.

Flags override the config file, which overrides the built-in defaults.

Example:
  caldora-purge purge 6423F94A-6B76-4A3A-815B-D52CFD77935D
  caldora-purge purge --completely=false --proxies alice bob`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.LoadConfig()
			if err != nil {
				return err
			}
			if err := opts.apply(cmd, cfg); err != nil {
				return err
			}
			cutoff, err := parseCutoff(opts.Cutoff)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --cutoff", err)
			}
			return runPurge(cmd.Context(), cmd.OutOrStdout(), opts.RootOptions, cfg, args, cutoff)
		},
	}

	cmd.Flags().BoolVar(&opts.Completely, "completely", true, "delete the home instead of disabling it")
	cmd.Flags().BoolVar(&opts.Proxies, "proxies", false, "also remove proxy assignments")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "principals purged in parallel")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "stop starting new principals after this long")
	cmd.Flags().StringVar(&opts.Cutoff, "cutoff", "", "purge cutoff (RFC 3339 or YYYY-MM-DD, default now)")
	cmd.Flags().StringVar(&opts.PastEvents, "past-events", "", "retain|delete fully past meetings the principal organized")

	return cmd
}

// apply copies explicitly set flags over cfg.
func (o *PurgeOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("completely") {
		cfg.Completely = o.Completely
	}
	if flags.Changed("proxies") {
		cfg.Proxies = o.Proxies
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = o.Concurrency
	}
	if flags.Changed("timeout") {
		cfg.Timeout = o.Timeout
	}
	if flags.Changed("past-events") {
		cfg.PastEvents = o.PastEvents
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	}
	return nil
}

func parseCutoff(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", s)
	}
	return t, nil
}

func runPurge(ctx context.Context, out io.Writer, opts *RootOptions, cfg *config.Config, uids []string, cutoff time.Time) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := opts.Logger()

	mutex, err := lockhelper.Acquire(cfg.LockFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to acquire run lock", err)
	}
	defer func() {
		err = lockhelper.MutexUnlock(mutex, err)
	}()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Error("error closing resources", "error", closeErr)
		}
	}()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	res, err := rt.service.Purge(ctx, uids, purge.Options{
		Completely:  cfg.Completely,
		Proxies:     cfg.Proxies,
		Verbose:     opts.Verbose,
		Concurrency: cfg.Concurrency,
		Cutoff:      cutoff,
	})
	if res != nil {
		renderResult(out, res)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "purge failed", err)
	}
	if n := len(res.Ignored) + len(res.NotAttempted); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d principal(s) not purged", n))
	}
	return nil
}

func renderResult(w io.Writer, res *purge.Result) {
	fmt.Fprintf(w, "Objects changed: %d\n", res.Count)
	if len(res.Ignored) == 0 && len(res.NotAttempted) == 0 {
		return
	}
	t := newTable(w, table.Row{"UID", "Outcome", "Reason"})
	for _, ig := range res.Ignored {
		t.AppendRow(table.Row{ig.UID, "ignored", ig.Reason})
	}
	for _, uid := range res.NotAttempted {
		t.AppendRow(table.Row{uid, "not attempted", ""})
	}
	t.Render()
}
