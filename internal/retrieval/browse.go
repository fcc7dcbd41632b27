package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/54b3r/osdr-rag-go/internal/filter"
	"github.com/54b3r/osdr-rag-go/internal/index"
	"github.com/54b3r/osdr-rag-go/internal/osdr"
)

// DefaultListLimit is the page size of ListItems when none is given.
const DefaultListLimit = 200

// GetItem returns the item with the given id, or index.ErrNotFound.
func (s *Service) GetItem(_ context.Context, id string) (index.Item, error) {
	snap, err := s.ensureLoaded()
	if err != nil {
		return index.Item{}, err
	}
	return snap.Items.Get(id)
}

// ItemList is a page of items matching a filter.
type ItemList struct {
	Papers   []index.Item `json:"papers"`
	Total    int          `json:"total"`
	Returned int          `json:"returned"`
}

// ListItems returns up to limit items (default 200) matching spec, in index
// order, with the total match count.
func (s *Service) ListItems(_ context.Context, spec filter.Spec, limit int) (*ItemList, error) {
	snap, err := s.ensureLoaded()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	items, total := snap.Items.List(spec.Metadata(), limit)
	return &ItemList{Papers: items, Total: total, Returned: len(items)}, nil
}

// Stats describes the current snapshot.
type Stats struct {
	TotalPapers int        `json:"total_papers"`
	Programs    []string   `json:"programs"`
	Years       []string   `json:"years"`
	BuildID     string     `json:"build_id,omitempty"`
	BuiltAt     *time.Time `json:"built_at,omitempty"`
}

// Stats reports corpus statistics. With no snapshot it returns zero values
// rather than an error.
func (s *Service) Stats(_ context.Context) (*Stats, error) {
	snap, err := s.ensureLoaded()
	if errors.Is(err, ErrIndexNotBuilt) {
		return &Stats{Programs: []string{}, Years: []string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	built := snap.BuiltAt
	return &Stats{
		TotalPapers: snap.Len(),
		Programs:    snap.Items.Programs(),
		Years:       snap.Items.Years(),
		BuildID:     snap.BuildID.String(),
		BuiltAt:     &built,
	}, nil
}

// StudyFiles lists the catalog files of an OSDR-origin item.
func (s *Service) StudyFiles(ctx context.Context, id string, limit int) ([]osdr.File, error) {
	it, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if it.Meta.Origin != index.OriginOSDR || it.Meta.OSDID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotAStudy, id)
	}
	if s.cfg.Catalog == nil {
		return nil, fmt.Errorf("retrieval: no catalog configured")
	}
	files, err := s.cfg.Catalog.StudyFiles(ctx, it.Meta.OSDID, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieval: study files for %s: %w", id, err)
	}
	return files, nil
}
