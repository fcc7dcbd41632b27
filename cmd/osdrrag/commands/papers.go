package commands

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/osdr-rag-go/internal/filter"
	"github.com/54b3r/osdr-rag-go/internal/index"
	"github.com/54b3r/osdr-rag-go/internal/osdr"
	"github.com/54b3r/osdr-rag-go/internal/retrieval"
)

// NewPapersCmd constructs the `osdrrag papers` command, which lists indexed
// papers matching optional metadata filters.
func NewPapersCmd() *cobra.Command {
	var (
		limit   int
		filters []string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "papers",
		Short: "List indexed papers",
		Long: `List indexed papers in index order, optionally filtered by metadata.

Examples:
  osdrrag papers --limit 20
  osdrrag papers --filter program=ISS --filter year=2019
  osdrrag papers --filter origin=osdr --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx, slog.Default())
			if err != nil {
				return fmt.Errorf("papers: %w", err)
			}
			defer a.Close()

			list, err := a.svc.ListItems(ctx, filter.FromPairs(filters), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), list)
			}
			printItems(cmd.OutOrStdout(), list)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", retrieval.DefaultListLimit, "Maximum papers to list")
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "Metadata filter as field=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

// NewPaperCmd constructs the `osdrrag paper` command, which prints one
// paper's metadata and, for OSDR studies, optionally its data files.
func NewPaperCmd() *cobra.Command {
	var files int

	cmd := &cobra.Command{
		Use:   "paper [id]",
		Short: "Show one indexed paper",
		Long: `Print the metadata of one indexed paper as JSON.

For OSDR studies, --files N also lists up to N data files of the study.

Examples:
  osdrrag paper csv-12
  osdrrag paper osdr-48 --files 5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx, slog.Default())
			if err != nil {
				return fmt.Errorf("paper: %w", err)
			}
			defer a.Close()

			it, err := a.svc.GetItem(ctx, args[0])
			if err != nil {
				return err
			}
			if files <= 0 {
				return printJSON(cmd.OutOrStdout(), it)
			}

			studyFiles, err := a.svc.StudyFiles(ctx, it.ID, files)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				index.Item
				Files []osdr.File `json:"files"`
			}{it, studyFiles})
		},
	}

	cmd.Flags().IntVar(&files, "files", 0, "List up to N OSDR study data files")

	return cmd
}

// printItems renders an item list as a table.
func printItems(w io.Writer, list *retrieval.ItemList) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROGRAM\tYEAR\tTITLE")
	for _, it := range list.Papers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.ID, it.Meta.Program, it.Meta.Year, it.Meta.Title)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "\n%d of %d matching papers\n", list.Returned, list.Total)
}
