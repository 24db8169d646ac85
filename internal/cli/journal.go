package cli

import (
	"fmt"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/inflight/internal/journal"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Area   string
	ID     string
	Kind   string
	Limit  int
	Counts bool
}

// JournalCounts is the --counts output.
type JournalCounts struct {
	Area   string               `json:"area,omitempty"`
	Counts map[journal.Kind]int `json:"counts"`
	Total  int                  `json:"total"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal [db]",
		Short: "Read the lifecycle journal",
		Long: `Print lifecycle events recorded by fetch or watch with --journal.

The database path defaults to $INFLIGHT_JOURNAL.

Examples:
  inflight journal ./inflight.db
  inflight journal ./inflight.db --area papers --kind swept
  inflight journal ./inflight.db --id 0190a5c2-... --format json
  inflight journal ./inflight.db --counts`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.Config.Journal
			if len(args) == 1 {
				path = args[0]
			}
			return runJournal(opts, path, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Area, "area", "", "only events for this area")
	cmd.Flags().StringVar(&opts.ID, "id", "", "only events for this operation id")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only events of this kind")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "print at most this many events")
	cmd.Flags().BoolVar(&opts.Counts, "counts", false, "print event counts per kind instead of events")

	return cmd
}

func runJournal(opts *JournalOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	if path == "" {
		return NewExitError(ExitCommandError, "no journal: pass a path or set INFLIGHT_JOURNAL")
	}
	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", path), err)
	}
	kind := journal.Kind(opts.Kind)
	if kind != "" && !slices.Contains(journal.Kinds, kind) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown kind %q: must be one of %v", opts.Kind, journal.Kinds))
	}
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
	}

	j, err := journal.Open(path)
	if err != nil {
		if formatter.JSON() {
			_ = formatter.Error(ErrCodeJournal, err.Error(), nil)
		}
		return WrapExitError(ExitCommandError, "open journal", err)
	}
	defer j.Close()

	ctx := cmd.Context()
	if opts.Counts {
		counts, err := j.CountByKind(ctx, opts.Area)
		if err != nil {
			return WrapExitError(ExitCommandError, "read journal", err)
		}
		return writeJournalCounts(formatter, JournalCounts{Area: opts.Area, Counts: counts})
	}

	events, err := j.ReadEvents(ctx, journal.Filter{
		Area:     opts.Area,
		RecordID: opts.ID,
		Kind:     kind,
		Limit:    opts.Limit,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "read journal", err)
	}
	formatter.VerboseLog("read %d events from %s", len(events), path)

	if formatter.JSON() {
		return formatter.Success(events)
	}
	if len(events) == 0 {
		fmt.Fprintln(formatter.Writer, "No events.")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tAT\tAREA\tKIND\tID\tREQUEST\tSTATE\tSTATUS\tERROR")
	for _, ev := range events {
		status := ""
		if ev.Status != 0 {
			status = fmt.Sprint(ev.Status)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s %s\t%s\t%s\t%s\n",
			ev.Seq, ev.At.Format(time.RFC3339), ev.Area, ev.Kind, ev.RecordID,
			ev.Method, ev.Endpoint, ev.State, status, ev.Error)
	}
	return tw.Flush()
}

func writeJournalCounts(f *OutputFormatter, c JournalCounts) error {
	for _, n := range c.Counts {
		c.Total += n
	}
	if f.JSON() {
		return f.Success(c)
	}
	for _, kind := range journal.Kinds {
		fmt.Fprintf(f.Writer, "%-10s %d\n", kind, c.Counts[kind])
	}
	fmt.Fprintf(f.Writer, "%-10s %d\n", "total", c.Total)
	return nil
}
