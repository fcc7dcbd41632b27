package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/osdr-rag-go/internal/embedder"
	"github.com/54b3r/osdr-rag-go/internal/retrieval"
	"github.com/54b3r/osdr-rag-go/internal/store"
)

// NewRebuildCmd constructs the `osdrrag rebuild` command, which collects the
// corpus, embeds it and writes a new snapshot.
func NewRebuildCmd() *cobra.Command {
	var (
		limit  int
		noCSV  bool
		noOSDR bool
		term   string
	)

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the paper index from the CSV file and the OSDR catalog",
		Long: `Collect papers from the local CSV file and the NASA OSDR catalog, embed
them and write a new snapshot (INDEX_PATH + META_PATH).

A failing source is logged and skipped; the rebuild only fails when no
source yields any paper. When QDRANT_HOST is set the new snapshot is also
published to Qdrant.

Relevant environment variables:
  CSV_PAPERS_PATH      Local papers CSV (default: data/papers.csv)
  OSDR_SEARCH_TERM     Catalog search term (default: space biology)
  CROSSLINK_THRESHOLD  Title similarity needed to link CSV and OSDR items (default: 0.6)
  EMBEDDING_PROVIDER   Embedding backend: ollama, openai, azure, gemini
  QDRANT_HOST          Optional Qdrant mirror

Examples:
  osdrrag rebuild
  osdrrag rebuild --no-osdr
  osdrrag rebuild --limit 200 --term microgravity`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			if noCSV && noOSDR {
				return fmt.Errorf("rebuild: --no-csv and --no-osdr leave nothing to index")
			}
			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}

			a, err := buildApp(ctx, log)
			if err != nil {
				return fmt.Errorf("rebuild: %w", err)
			}
			defer a.Close()

			start := time.Now()
			res, err := a.svc.Rebuild(ctx, retrieval.RebuildOptions{
				Limit:         limit,
				IncludeCSV:    !noCSV,
				IncludeRemote: !noOSDR,
				Term:          term,
			})
			if err != nil {
				return err
			}

			if a.history != nil {
				if err := a.history.RecordRebuild(ctx, store.Rebuild{
					BuildID: res.BuildID,
					Indexed: res.Indexed,
					Elapsed: time.Since(start),
				}); err != nil {
					log.Warn("history: record rebuild failed", slog.Any("error", err))
				}
			}

			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum CSV rows and OSDR results (default: 1000 from OSDR, all CSV rows)")
	cmd.Flags().BoolVar(&noCSV, "no-csv", false, "Skip the local papers CSV")
	cmd.Flags().BoolVar(&noOSDR, "no-osdr", false, "Skip the OSDR catalog")
	cmd.Flags().StringVarP(&term, "term", "t", "", "OSDR search term (overrides OSDR_SEARCH_TERM)")

	return cmd
}
