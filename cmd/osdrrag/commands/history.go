package commands

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/osdr-rag-go/internal/store"
)

// NewHistoryCmd constructs the `osdrrag history` command, which prints the
// most recent queries and rebuilds recorded in the history database.
func NewHistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent queries and rebuilds",
		Long: `Show the most recent queries and rebuilds, newest first.

The history database defaults to ~/.osdrrag/history.db and can be moved with
OSDRRAG_HISTORY_DB (set it to "disabled" to turn history off).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			hs := openHistory(slog.Default())
			if hs == nil {
				return fmt.Errorf("history: history store is disabled or unavailable")
			}
			defer hs.Close() //nolint:errcheck

			entries, err := hs.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			printHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Number of entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

// printHistory renders history entries as a table.
func printHistory(w io.Writer, entries []store.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no history yet")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tKIND\tCOUNT\tELAPSED\tFLAGS\tSUBJECT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.Kind, e.Count,
			e.Elapsed.Round(time.Millisecond), entryFlags(e), e.Subject)
	}
	_ = tw.Flush()
}

func entryFlags(e store.Entry) string {
	switch {
	case e.Degraded && e.Fallback:
		return "degraded,fallback"
	case e.Degraded:
		return "degraded"
	case e.Fallback:
		return "fallback"
	default:
		return "-"
	}
}
