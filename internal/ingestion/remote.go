package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/54b3r/osdr-rag-go/internal/index"
	"github.com/54b3r/osdr-rag-go/internal/osdr"
)

// Catalog field spellings for the parts not normalized by osdr.Record.
var (
	remoteAbstractKeys = []string{"Study Description", "Description", "Study Summary"}
	remoteAuthorKeys   = []string{"Study Publication Author List", "Study Person", "Authors"}
	remoteDateKeys     = []string{"Study Public Release Date", "Study Release Date", "Date"}
)

// loadRemote searches the catalog and normalizes the hits. Duplicate
// accessions keep their first occurrence.
func (p *Pipeline) loadRemote(ctx context.Context, opts Options) ([]index.Item, *SourceReport) {
	rep := &SourceReport{Name: "osdr"}
	if p.cfg.Catalog == nil {
		p.sourceFailed(rep, errors.New("no catalog configured"))
		return nil, rep
	}

	term := opts.RemoteTerm
	if term == "" {
		term = p.cfg.RemoteTerm
	}
	size := opts.Limit
	if size <= 0 {
		size = DefaultRemoteSize
	}

	records, err := p.cfg.Catalog.Search(ctx, term, size)
	if err != nil {
		p.sourceFailed(rep, err)
		return nil, rep
	}

	seen := make(map[string]bool, len(records))
	items := make([]index.Item, 0, len(records))
	for _, rec := range records {
		if seen[rec.NumericID] {
			rep.Skipped++
			continue
		}
		seen[rec.NumericID] = true

		it, ok := remoteItem(rec)
		if !ok {
			rep.Skipped++
			p.log.Warn("ingestion: osdr study without text skipped", slog.String("osd_id", rec.NumericID))
			continue
		}
		items = append(items, it)
	}
	rep.Items = len(items)

	p.log.Info("ingestion: osdr loaded",
		slog.String("term", term),
		slog.Int("items", len(items)),
		slog.Int("skipped", rep.Skipped),
	)
	return items, rep
}

// remoteItem normalizes one catalog record.
func remoteItem(rec osdr.Record) (index.Item, bool) {
	title := strings.TrimSpace(rec.Title)
	abstract := firstString(rec.Source, remoteAbstractKeys)
	text := searchableText(title, abstract)
	if text == "" {
		return index.Item{}, false
	}

	date := firstString(rec.Source, remoteDateKeys)
	year := deriveYear(date)
	if year == "" {
		year = deriveYear(rec.MissionStart)
	}
	if date == "" && rec.MissionStart != "Unknown" {
		date = rec.MissionStart
	}

	program := rec.Program
	if program == "" {
		program = defaultProgram
	}

	id := "osdr-" + rec.NumericID
	return index.Item{
		ID: id,
		Meta: index.Metadata{
			Origin:       index.OriginOSDR,
			ID:           id,
			Title:        title,
			Authors:      firstString(rec.Source, remoteAuthorKeys),
			Program:      program,
			Date:         date,
			Year:         year,
			Link:         osdr.StudyURL(rec.NumericID),
			Abstract:     truncateRunes(abstract, abstractRunes),
			OSDID:        rec.NumericID,
			MissionStart: rec.MissionStart,
			MissionEnd:   rec.MissionEnd,
			Raw:          rec.Source,
		},
		TextPreview:    truncateRunes(text, previewRunes),
		SearchableText: text,
	}, true
}

// firstString returns the first non-blank stringified value among keys.
func firstString(src map[string]any, keys []string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(index.Stringify(src[k])); s != "" {
			return s
		}
	}
	return ""
}
