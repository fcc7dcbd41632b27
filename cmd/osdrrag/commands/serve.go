package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/osdr-rag-go/internal/config"
	"github.com/54b3r/osdr-rag-go/internal/embedder"
	"github.com/54b3r/osdr-rag-go/internal/logging"
	"github.com/54b3r/osdr-rag-go/internal/retrieval"
	"github.com/54b3r/osdr-rag-go/internal/server"
	"github.com/54b3r/osdr-rag-go/internal/tracing"
)

// NewServeCmd constructs the `osdrrag serve` command, which starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the osdrrag HTTP API server",
		Long: `Start the osdrrag HTTP API server.

The server loads the snapshot written by the last rebuild (if any) and
exposes query, rebuild, paper browsing, statistics, history, health,
readiness and Prometheus metrics endpoints under /api and /metrics.

Set OSDRRAG_API_KEY to require a Bearer token on query, rebuild and history.

Examples:
  osdrrag serve
  osdrrag serve --port 9090
  MODEL_PROVIDER=openai osdrrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if !cmd.Flags().Changed("host") {
				host = config.Env("OSDRRAG_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = config.EnvInt("OSDRRAG_PORT", port)
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			flush := tracing.Enable(log)
			defer flush()

			a, err := buildApp(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			if err := a.svc.LoadFromDisk(); err != nil {
				if !errors.Is(err, retrieval.ErrIndexNotBuilt) {
					return fmt.Errorf("serve: %w", err)
				}
				log.Warn("serve: no snapshot on disk, POST /api/rebuild before querying")
			}

			pingers := []server.Pinger{
				server.NewIndexPinger(a.svc.Ready),
				server.NewHTTPPinger("osdr", a.catalog.BaseURL()+"/", nil),
			}
			if embedder.Backend() == "ollama" {
				ollamaHost := config.Env("EMBEDDING_ENDPOINT", config.Env("OLLAMA_HOST", "http://localhost:11434"))
				pingers = append(pingers, server.NewHTTPPinger("ollama", strings.TrimRight(ollamaHost, "/")+"/api/tags", nil))
			}
			if a.mirror != nil {
				pingers = append(pingers, server.NewQdrantPinger(a.mirror.Client()))
			}

			srv, err := server.New(a.svc, &server.Config{
				Host:        host,
				Port:        port,
				Logger:      log,
				Pingers:     pingers,
				APIKey:      config.Env("OSDRRAG_API_KEY", ""),
				CORSOrigins: splitList(config.Env("OSDRRAG_CORS_ORIGINS", "")),
				History:     a.history,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			log.Info("serve starting",
				slog.String("provider", config.Env("MODEL_PROVIDER", "ollama")),
				slog.String("embedder", embedder.Backend()),
				slog.Bool("qdrant_mirror", a.mirror != nil),
				slog.Bool("history", a.history != nil),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: OSDRRAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env: OSDRRAG_PORT)")

	return cmd
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
