package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/54b3r/osdr-rag-go/internal/config"
	"github.com/54b3r/osdr-rag-go/internal/embedder"
	"github.com/54b3r/osdr-rag-go/internal/index"
	"github.com/54b3r/osdr-rag-go/internal/ingestion"
	"github.com/54b3r/osdr-rag-go/internal/osdr"
	"github.com/54b3r/osdr-rag-go/internal/provider"
	"github.com/54b3r/osdr-rag-go/internal/rag"
	"github.com/54b3r/osdr-rag-go/internal/retrieval"
	"github.com/54b3r/osdr-rag-go/internal/store"
	"github.com/54b3r/osdr-rag-go/internal/summarizer"
)

const (
	defaultIndexPath = "data/index.bin"
	defaultMetaPath  = "data/meta.json"
	defaultCSVPath   = "data/papers.csv"
)

// app bundles the components every command builds from the environment.
type app struct {
	svc        *retrieval.Service
	summarizer *summarizer.Summarizer
	catalog    *osdr.Client
	// mirror is nil unless QDRANT_HOST is set and the client could be created.
	mirror *rag.QdrantMirror
	// history is nil when OSDRRAG_HISTORY_DB=disabled or the store failed to open.
	history store.History

	closers []func()
}

// Close releases the mirror and history store.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// snapshotPaths resolves the snapshot file pair from INDEX_PATH and META_PATH.
func snapshotPaths() index.Paths {
	return index.Paths{
		Index: config.Env("INDEX_PATH", defaultIndexPath),
		Meta:  config.Env("META_PATH", defaultMetaPath),
	}
}

// buildApp wires the embedder, generator, summarizer, OSDR client, ingestion
// pipeline, optional Qdrant mirror and history store into a retrieval
// service. No network call is made here.
func buildApp(ctx context.Context, log *slog.Logger) (*app, error) {
	a := &app{}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	chatModel, providerCfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Debug("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
		slog.String("embedder", embedder.Backend()),
	)

	gen, err := provider.NewGenerator(&provider.GeneratorConfig{
		Model:           chatModel,
		MaxPromptTokens: config.EnvInt("MODEL_MAX_PROMPT_TOKENS", 0),
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}

	a.summarizer, err = summarizer.New(&summarizer.Config{
		Generator: gen,
		ChunkSize: config.EnvInt("SUMMARY_CHUNK_SIZE", 0),
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	a.catalog = osdr.New(&osdr.Config{
		BaseURL:   config.Env("OSDR_BASE_URL", ""),
		RateLimit: config.EnvFloat("OSDR_RATE_LIMIT", 0),
		Logger:    log,
	})

	pipe, err := ingestion.NewPipeline(&ingestion.Config{
		CSVPath:            config.Env("CSV_PAPERS_PATH", defaultCSVPath),
		Catalog:            a.catalog,
		RemoteTerm:         config.Env("OSDR_SEARCH_TERM", ""),
		CrossLinkThreshold: config.EnvFloat("CROSSLINK_THRESHOLD", 0),
		Logger:             log,
	})
	if err != nil {
		return nil, err
	}

	var publisher rag.Publisher
	if host := config.Env("QDRANT_HOST", ""); host != "" {
		mirror, err := rag.NewQdrantMirror(&rag.QdrantConfig{
			Host:       host,
			Port:       config.EnvInt("QDRANT_PORT", 0),
			Collection: config.Env("QDRANT_COLLECTION", ""),
			APIKey:     config.Env("QDRANT_API_KEY", ""),
			UseTLS:     config.EnvBool("QDRANT_TLS"),
			Logger:     log,
		})
		if err != nil {
			log.Warn("qdrant: mirror unavailable, snapshots will not be published", slog.Any("error", err))
		} else {
			a.mirror = mirror
			publisher = mirror
			a.closers = append(a.closers, func() { _ = mirror.Close() })
		}
	}

	if hs := openHistory(log); hs != nil {
		a.history = hs
		a.closers = append(a.closers, func() { _ = hs.Close() })
	}

	a.svc, err = retrieval.New(&retrieval.Config{
		Paths:          snapshotPaths(),
		Collector:      pipe,
		Embedder:       emb,
		Summarizer:     a.summarizer,
		Publisher:      publisher,
		Catalog:        a.catalog,
		EmbedBatchSize: embedder.BatchSize(),
		Logger:         log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// openHistory opens the history store. OSDRRAG_HISTORY_DB overrides the
// default path (~/.osdrrag/history.db); "disabled" turns history off. A store
// that fails to open is logged and skipped.
func openHistory(log *slog.Logger) store.History {
	dbPath := config.Env("OSDRRAG_HISTORY_DB", "")
	if dbPath == "disabled" {
		log.Debug("history: disabled via OSDRRAG_HISTORY_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	hs, err := store.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil
	}
	log.Debug("history: store opened", slog.String("path", dbPath))
	return hs
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
