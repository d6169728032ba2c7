package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/cyp0633/caldora-purge/recurrence"
	"github.com/cyp0633/caldora-purge/storage"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Principal  string
	Cutoff     string
	PastEvents string
	Instances  bool
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <file.ics>",
		Short: "Show what a purge would do to one calendar object",
		Long: `Run the recurrence decision for a single iCalendar file without
touching any store. When the object would be truncated, the truncated
calendar is printed after the decision.

Example:
  caldora-purge inspect --principal 6423F94A-6B76-4A3A-815B-D52CFD77935D standup.ics`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Principal, "principal", "", "UID or calendar user address of the purged principal (required)")
	cmd.Flags().StringVar(&opts.Cutoff, "cutoff", "", "purge cutoff (RFC 3339 or YYYY-MM-DD, default now)")
	cmd.Flags().StringVar(&opts.PastEvents, "past-events", "retain", "retain|delete fully past meetings the principal organized")
	cmd.Flags().BoolVar(&opts.Instances, "instances", false, "also list instances starting before the cutoff")
	_ = cmd.MarkFlagRequired("principal")

	return cmd
}

// calendarUserAddress turns a bare UID into its urn:uuid address.
func calendarUserAddress(principal string) string {
	principal = strings.TrimSpace(principal)
	lower := strings.ToLower(principal)
	if strings.HasPrefix(lower, "urn:") || strings.HasPrefix(lower, "mailto:") {
		return principal
	}
	return "urn:uuid:" + principal
}

func runInspect(out io.Writer, opts *InspectOptions, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read calendar file", err)
	}
	cal, err := storage.DecodeCalendar(string(data))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to parse calendar file", err)
	}
	cutoff, err := parseCutoff(opts.Cutoff)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --cutoff", err)
	}
	if cutoff.IsZero() {
		cutoff = time.Now().UTC()
	}
	policy, err := recurrence.ParsePastEventPolicy(opts.PastEvents)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --past-events", err)
	}

	engine := recurrence.NewEngineWithConfig(recurrence.EngineConfig{PastEventPolicy: policy})
	principal := calendarUserAddress(opts.Principal)
	d, err := engine.Decide(cal, cutoff, principal)
	if err != nil {
		return WrapExitError(ExitFailure, "calendar object rejected", err)
	}

	t := newTable(out, table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"UID", d.UID},
		{"Principal", principal},
		{"Cutoff", cutoff.Format(time.RFC3339)},
		{"Role", d.Role.String()},
		{"Action", d.Action.String()},
	})
	t.Render()

	if opts.Instances {
		instances, err := engine.Instances(cal, cutoff)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to expand instances", err)
		}
		it := newTable(out, table.Row{"#", "Instance start"})
		for i, inst := range instances {
			it.AppendRow(table.Row{i + 1, inst.UTC().Format(time.RFC3339)})
		}
		it.Render()
	}

	if truncated, ok := d.Calendar.Get(); ok {
		text, err := storage.EncodeCalendar(truncated)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to encode truncated calendar", err)
		}
		fmt.Fprint(out, text)
	}
	return nil
}
