package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/osdr-rag-go/internal/embedder"
	"github.com/54b3r/osdr-rag-go/internal/filter"
	"github.com/54b3r/osdr-rag-go/internal/retrieval"
	"github.com/54b3r/osdr-rag-go/internal/store"
	"github.com/54b3r/osdr-rag-go/internal/tracing"
)

// NewQueryCmd constructs the `osdrrag query` command, which runs one semantic
// query against the current snapshot and prints the summary and papers.
func NewQueryCmd() *cobra.Command {
	var (
		topK    int
		filters []string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Search the index and summarize the closest papers",
		Long: `Embed the query, retrieve the closest papers and summarize them.

Filters narrow the results by metadata field (substring, case-insensitive).
Repeat --filter to constrain several fields (AND) or to give one field
several alternatives (OR). Values are matched as typed, commas included. When
no retrieved paper matches the filters, the unfiltered results are returned
and flagged as a fallback.

Examples:
  osdrrag query "bone density loss in microgravity"
  osdrrag query --top-k 10 --filter program=ISS --filter program=Shuttle "plant growth"
  osdrrag query --filter year=2019 --json "radiation effects on mice"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("query: %w", err)
			}

			flush := tracing.Enable(log)
			defer flush()

			a, err := buildApp(ctx, log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer a.Close()

			text := strings.Join(args, " ")
			start := time.Now()
			resp, err := a.svc.Query(ctx, retrieval.Request{
				Query:   text,
				TopK:    topK,
				Filters: filter.FromPairs(filters),
			})
			if err != nil {
				return err
			}

			if a.history != nil {
				if err := a.history.RecordQuery(ctx, store.Query{
					Text:     text,
					BuildID:  resp.BuildID,
					Results:  len(resp.Papers),
					Fallback: resp.Fallback,
					Degraded: resp.Degraded,
					Elapsed:  time.Since(start),
				}); err != nil {
					log.Warn("history: record query failed", slog.Any("error", err))
				}
			}

			if asJSON {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printResponse(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", retrieval.DefaultTopK, "Number of papers to return")
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "Metadata filter as field=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON response")

	return cmd
}

// printResponse renders a query response for a terminal.
func printResponse(w io.Writer, resp *retrieval.Response) {
	if resp.Degraded {
		fmt.Fprintln(w, "warning: degraded response")
	}
	if resp.Fallback {
		fmt.Fprintln(w, "note: no paper matched the filters, showing unfiltered results")
	}
	fmt.Fprintf(w, "%s\n\n", resp.Summary)

	for i, p := range resp.Papers {
		fmt.Fprintf(w, "%d. %s [%s] (%s, %s) distance=%.4f\n", i+1, p.Meta.Title, p.ID, p.Meta.Program, p.Meta.Year, p.Score)
		if p.Meta.Link != "" {
			fmt.Fprintf(w, "   %s\n", p.Meta.Link)
		}
	}
}
