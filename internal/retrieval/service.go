// Package retrieval is the orchestration layer of osdrrag. Service rebuilds
// the snapshot from the ingestion sources and answers semantic queries over
// it: embed, over-fetch, post-filter with a fallback to unfiltered results,
// assemble context, and summarize.
//
// Readers take the current snapshot from an index.Holder once per call and
// never lock. Rebuilds are serialized among themselves, build the new
// snapshot off to the side, persist it, and only then swap it in.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/54b3r/osdr-rag-go/internal/embedder"
	"github.com/54b3r/osdr-rag-go/internal/index"
	"github.com/54b3r/osdr-rag-go/internal/ingestion"
	"github.com/54b3r/osdr-rag-go/internal/rag"
)

var (
	// ErrIndexNotBuilt is returned when no snapshot is held in memory and
	// none can be loaded from disk. A rebuild is required.
	ErrIndexNotBuilt = errors.New("retrieval: index not built, run a rebuild first")

	// ErrGenerationDegraded marks a query whose results were found but whose
	// summary could not be generated.
	ErrGenerationDegraded = errors.New("retrieval: summary generation failed")

	// ErrEmptyQuery is returned for a blank query string.
	ErrEmptyQuery = errors.New("retrieval: query must not be empty")

	// ErrNotAStudy is returned when study files are requested for an item
	// that did not come from the OSDR catalog.
	ErrNotAStudy = errors.New("retrieval: item is not an OSDR study")
)

// Collector gathers the items of a rebuild. ingestion.Pipeline satisfies it.
type Collector interface {
	Collect(ctx context.Context, opts ingestion.Options) (*ingestion.Collection, error)
}

// Summarizer condenses text. summarizer.Summarizer satisfies it.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxLength int) (string, error)
}

// Config holds the collaborators of a Service.
type Config struct {
	// Paths locates the snapshot file pair.
	Paths index.Paths

	// Collector gathers items on rebuild.
	Collector Collector

	// Embedder embeds item texts and queries. It must be the same model for
	// both, or distances are meaningless.
	Embedder rag.Embedder

	// Summarizer produces the query summary.
	Summarizer Summarizer

	// Publisher, when set, receives every new snapshot after it is saved.
	Publisher rag.Publisher

	// Catalog, when set, serves study file listings.
	Catalog rag.Catalog

	// EmbedBatchSize is the number of texts per Embed call on rebuild.
	EmbedBatchSize int

	// Logger receives lifecycle and fallback events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Service implements rebuild, query and browse operations over the shared
// snapshot. It is safe for concurrent use.
type Service struct {
	cfg    *Config
	log    *slog.Logger
	holder index.Holder

	// rebuildMu serializes rebuilds; readers never take it.
	rebuildMu sync.Mutex
	// loadMu serializes lazy loads from disk.
	loadMu sync.Mutex
}

// New validates cfg and returns a Service. No snapshot is loaded until the
// first call that needs one, or until LoadFromDisk.
func New(cfg *Config) (*Service, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("retrieval: embedder must not be nil")
	}
	if cfg.Summarizer == nil {
		return nil, fmt.Errorf("retrieval: summarizer must not be nil")
	}
	if cfg.Paths.Index == "" || cfg.Paths.Meta == "" {
		return nil, fmt.Errorf("retrieval: snapshot paths must be set")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{cfg: cfg, log: cfg.Logger}, nil
}

// LoadFromDisk loads the persisted snapshot if none is held yet. It returns
// ErrIndexNotBuilt when nothing usable is on disk.
func (s *Service) LoadFromDisk() error {
	_, err := s.ensureLoaded()
	return err
}

// Ready reports whether a snapshot is held in memory.
func (s *Service) Ready() bool { return s.holder.Load() != nil }

// ensureLoaded returns the current snapshot, loading it from disk on first
// use. A concurrent rebuild that swaps first wins over the disk copy.
func (s *Service) ensureLoaded() (*index.Snapshot, error) {
	if snap := s.holder.Load(); snap != nil {
		return snap, nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if snap := s.holder.Load(); snap != nil {
		return snap, nil
	}

	snap, err := index.Load(s.cfg.Paths)
	switch {
	case errors.Is(err, index.ErrNoSnapshot):
		return nil, ErrIndexNotBuilt
	case err != nil:
		s.log.Warn("retrieval: snapshot on disk unusable", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrIndexNotBuilt, err)
	}

	if !s.holder.CompareAndSwap(nil, snap) {
		return s.holder.Load(), nil
	}
	s.log.Info("retrieval: snapshot loaded from disk",
		slog.String("build_id", snap.BuildID.String()),
		slog.Int("items", snap.Len()),
	)
	return snap, nil
}

// RebuildOptions select the sources of a rebuild.
type RebuildOptions struct {
	// Limit bounds CSV rows and the catalog page size.
	Limit int `json:"limit"`
	// IncludeCSV enables the local papers CSV.
	IncludeCSV bool `json:"include_csv"`
	// IncludeRemote enables the OSDR catalog.
	IncludeRemote bool `json:"include_osdr"`
	// Term overrides the catalog search term.
	Term string `json:"term,omitempty"`
}

// RebuildResult reports a completed rebuild.
type RebuildResult struct {
	Status    string                   `json:"status"`
	Indexed   int                      `json:"indexed"`
	BuildID   string                   `json:"build_id"`
	Sources   []ingestion.SourceReport `json:"sources"`
	Links     int                      `json:"cross_links"`
	Published bool                     `json:"published"`
	Elapsed   string                   `json:"elapsed"`
}

// Rebuild collects, embeds, indexes and persists a new snapshot, then swaps
// it in. The previous snapshot keeps serving until the swap; on any error it
// stays in place. Rebuilding twice from unchanged sources yields snapshots
// with the same items in the same order.
func (s *Service) Rebuild(ctx context.Context, opts RebuildOptions) (*RebuildResult, error) {
	if s.cfg.Collector == nil {
		return nil, fmt.Errorf("retrieval: no collector configured")
	}

	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	start := time.Now()
	coll, err := s.cfg.Collector.Collect(ctx, ingestion.Options{
		Limit:         opts.Limit,
		IncludeCSV:    opts.IncludeCSV,
		IncludeRemote: opts.IncludeRemote,
		RemoteTerm:    opts.Term,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: rebuild: %w", err)
	}

	texts := make([]string, len(coll.Items))
	for i, it := range coll.Items {
		texts[i] = it.SearchableText
	}
	vecs, err := embedder.EmbedAll(ctx, s.cfg.Embedder, texts, s.cfg.EmbedBatchSize, func(done int) {
		s.log.Debug("retrieval: embedding", slog.Int("done", done), slog.Int("total", len(texts)))
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: rebuild: %w", err)
	}

	flat, err := index.Build(vecs)
	if err != nil {
		return nil, fmt.Errorf("retrieval: rebuild: %w", err)
	}
	items, err := index.NewStore(coll.Items)
	if err != nil {
		return nil, fmt.Errorf("retrieval: rebuild: %w", err)
	}
	snap, err := index.NewSnapshot(flat, items)
	if err != nil {
		return nil, fmt.Errorf("retrieval: rebuild: %w", err)
	}
	if err := index.Save(s.cfg.Paths, snap); err != nil {
		return nil, fmt.Errorf("retrieval: rebuild: %w", err)
	}
	s.holder.Swap(snap)

	res := &RebuildResult{
		Status:  "ok",
		Indexed: snap.Len(),
		BuildID: snap.BuildID.String(),
		Sources: coll.Sources,
		Links:   coll.Links,
	}

	if s.cfg.Publisher != nil {
		if err := s.cfg.Publisher.Publish(ctx, snap); err != nil {
			s.log.Warn("retrieval: snapshot publication failed", slog.String("error", err.Error()))
		} else {
			res.Published = true
		}
	}

	res.Elapsed = time.Since(start).Round(time.Millisecond).String()
	s.log.Info("retrieval: rebuild complete",
		slog.String("build_id", res.BuildID),
		slog.Int("indexed", res.Indexed),
		slog.Int("dim", flat.Dim()),
		slog.String("elapsed", res.Elapsed),
	)
	return res, nil
}
