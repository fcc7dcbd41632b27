package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// NewStatsCmd constructs the `osdrrag stats` command, which prints the size
// of the on-disk snapshot and its distinct programs and years.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print statistics about the current index snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx, slog.Default())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer a.Close()

			st, err := a.svc.Stats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}
