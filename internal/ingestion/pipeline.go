// Package ingestion turns the heterogeneous source records of osdrrag (rows
// of the local papers CSV and study hits from the OSDR catalog) into the
// uniform index.Item shape. It resolves field spellings, derives years,
// cross-links items of the two origins by title similarity, and isolates
// failing sources so a broken CSV or an unreachable catalog never aborts a
// rebuild on its own.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/osdr-rag-go/internal/index"
	"github.com/54b3r/osdr-rag-go/internal/rag"
)

var (
	// ErrEmptyCorpus is returned when no source produced a single item.
	ErrEmptyCorpus = errors.New("ingestion: no items to index")

	// ErrUpstreamFetchFailed marks a source that could not be read. It is
	// recorded in the source report and logged; it never fails Collect.
	ErrUpstreamFetchFailed = errors.New("ingestion: upstream fetch failed")
)

const (
	// DefaultRemoteTerm is the catalog search term used when none is given.
	DefaultRemoteTerm = "space biology"

	// DefaultRemoteSize is the catalog page size used when Limit is unset.
	DefaultRemoteSize = 1000

	// DefaultCrossLinkThreshold is the Jaccard similarity a title pair must
	// exceed to be cross-linked.
	DefaultCrossLinkThreshold = 0.6
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// CSVPath is the local papers CSV. Empty disables the CSV source.
	CSVPath string

	// Catalog is the remote study catalog. Nil disables the remote source.
	Catalog rag.Catalog

	// RemoteTerm is the default catalog search term.
	RemoteTerm string

	// CrossLinkThreshold is the title similarity above which items of the
	// two origins are linked. Must be in (0, 1]; defaults to 0.6.
	CrossLinkThreshold float64

	// Logger receives per-source progress and skipped records.
	Logger *slog.Logger
}

// Options select the sources of one collection run.
type Options struct {
	// Limit bounds the CSV rows read and the catalog page size. Zero or
	// negative reads every CSV row and requests DefaultRemoteSize hits.
	Limit int

	// IncludeCSV enables the local CSV source.
	IncludeCSV bool

	// IncludeRemote enables the OSDR catalog source.
	IncludeRemote bool

	// RemoteTerm overrides Config.RemoteTerm for this run.
	RemoteTerm string
}

// SourceReport summarizes what one source contributed.
type SourceReport struct {
	Name    string `json:"name"`
	Items   int    `json:"items"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// Collection is the ordered output of a run: CSV items first, then catalog
// items, each in source order.
type Collection struct {
	Items   []index.Item
	Sources []SourceReport
	// Links is the number of cross-origin title matches recorded.
	Links int
}

// Pipeline gathers items from the configured sources.
type Pipeline struct {
	cfg *Config
	log *slog.Logger
}

// NewPipeline constructs a Pipeline from cfg, filling defaults.
func NewPipeline(cfg *Config) (*Pipeline, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.RemoteTerm == "" {
		cfg.RemoteTerm = DefaultRemoteTerm
	}
	if cfg.CrossLinkThreshold == 0 {
		cfg.CrossLinkThreshold = DefaultCrossLinkThreshold
	}
	if cfg.CrossLinkThreshold < 0 || cfg.CrossLinkThreshold > 1 {
		return nil, fmt.Errorf("ingestion: cross-link threshold %v outside (0, 1]", cfg.CrossLinkThreshold)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, log: cfg.Logger}, nil
}

// Collect loads the selected sources concurrently and returns the merged,
// cross-linked items. A failing source contributes zero items; Collect only
// fails when the context ends or when no items remain (ErrEmptyCorpus).
func (p *Pipeline) Collect(ctx context.Context, opts Options) (*Collection, error) {
	var (
		csvItems, remoteItems   []index.Item
		csvReport, remoteReport *SourceReport
	)

	g, gctx := errgroup.WithContext(ctx)
	if opts.IncludeCSV {
		g.Go(func() error {
			csvItems, csvReport = p.loadCSV(gctx, opts.Limit)
			return nil
		})
	}
	if opts.IncludeRemote {
		g.Go(func() error {
			remoteItems, remoteReport = p.loadRemote(gctx, opts)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ingestion: collect cancelled: %w", err)
	}

	out := &Collection{Sources: []SourceReport{}}
	for _, r := range []*SourceReport{csvReport, remoteReport} {
		if r != nil {
			out.Sources = append(out.Sources, *r)
		}
	}

	if len(csvItems) > 0 && len(remoteItems) > 0 {
		out.Links = crossLink(csvItems, remoteItems, p.cfg.CrossLinkThreshold)
		p.log.Info("ingestion: cross-linked origins",
			slog.Int("csv", len(csvItems)),
			slog.Int("osdr", len(remoteItems)),
			slog.Int("links", out.Links),
		)
	}

	out.Items = append(csvItems, remoteItems...)
	if len(out.Items) == 0 {
		return out, ErrEmptyCorpus
	}
	return out, nil
}

// sourceFailed logs and records a source failure.
func (p *Pipeline) sourceFailed(rep *SourceReport, err error) {
	err = fmt.Errorf("%w: %s: %w", ErrUpstreamFetchFailed, rep.Name, err)
	rep.Error = err.Error()
	p.log.Warn("ingestion: source failed, continuing without it",
		slog.String("source", rep.Name),
		slog.String("error", err.Error()),
	)
}
