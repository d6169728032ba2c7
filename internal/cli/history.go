package cli

import (
	"errors"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/cyp0633/caldora-purge/journal"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [uid]",
		Short: "List recorded purges",
		Long: `List the purge journal, oldest first. With a UID, show only the
latest entry for that principal.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.JournalPath == "" {
				return NewExitError(ExitCommandError, "no journal_path configured")
			}
			j, err := journal.Open(cfg.JournalPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open journal", err)
			}
			defer j.Close()
			return runHistory(cmd.OutOrStdout(), j, args)
		},
	}
	return cmd
}

func runHistory(out io.Writer, j *journal.Journal, args []string) error {
	var entries []journal.Entry
	if len(args) == 1 {
		e, err := j.Find(args[0])
		if errors.Is(err, journal.ErrNotFound) {
			return NewExitError(ExitFailure, "no purge recorded for "+args[0])
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		entries = append(entries, e)
	} else {
		all, err := j.List()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		entries = all
	}

	t := newTable(out, table.Row{"Purged at", "UID", "Status", "Objects", "Completely", "Reason"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.PurgedAt.Format(time.RFC3339),
			e.UID,
			string(e.Status),
			e.Count,
			e.Completely,
			e.Reason,
		})
	}
	t.Render()
	return nil
}
