// Package commands defines all Cobra CLI commands for the osdrrag binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/osdr-rag-go/internal/audit"
	"github.com/54b3r/osdr-rag-go/internal/config"
	"github.com/54b3r/osdr-rag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "osdrrag",
		Short: "Semantic search and summaries over space biology research",
		Long: `osdrrag indexes space biology papers from a local CSV file and the NASA
Open Science Data Repository (OSDR), answers natural language queries with
the closest papers, and summarizes them with an LLM.

Run 'osdrrag rebuild' once to build the index, then 'osdrrag query' or
'osdrrag serve'. Model and embedding backends are selected with
MODEL_PROVIDER and EMBEDDING_PROVIDER, or a YAML config file
(~/.osdrrag/config.yaml). A .env file in the working directory is loaded first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			boot := logging.New()

			if err := config.LoadDotEnv(".env", boot); err != nil {
				return err
			}

			// Env vars always override YAML values.
			path, err := config.Load(configPath, boot)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// LOG_LEVEL and LOG_FORMAT may have come from the files just loaded.
			log := logging.New()
			slog.SetDefault(log)

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.osdrrag/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewRebuildCmd(),
		NewQueryCmd(),
		NewPapersCmd(),
		NewPaperCmd(),
		NewStatsCmd(),
		NewHistoryCmd(),
		NewSummarizeCmd(),
		NewVersionCmd(),
	)

	return root
}
