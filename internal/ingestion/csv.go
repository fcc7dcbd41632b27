package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/osdr-rag-go/internal/index"
)

// loadCSV reads the papers CSV. The first row is the header; row ids are
// csv-<n> with n the 0-based data row number.
func (p *Pipeline) loadCSV(ctx context.Context, limit int) ([]index.Item, *SourceReport) {
	rep := &SourceReport{Name: "csv"}
	if p.cfg.CSVPath == "" {
		p.sourceFailed(rep, errors.New("no CSV path configured"))
		return nil, rep
	}

	f, err := os.Open(p.cfg.CSVPath)
	if err != nil {
		p.sourceFailed(rep, err)
		return nil, rep
	}
	defer f.Close()

	items, skipped, err := p.readCSV(ctx, f, limit)
	rep.Items, rep.Skipped = len(items), skipped
	if err != nil {
		p.sourceFailed(rep, err)
		return nil, rep
	}

	p.log.Info("ingestion: csv loaded",
		slog.String("path", p.cfg.CSVPath),
		slog.Int("items", len(items)),
		slog.Int("skipped", skipped),
	)
	return items, rep
}

// readCSV parses r into items. Malformed rows and rows without text are
// skipped; only an unreadable header fails the source.
func (p *Pipeline) readCSV(ctx context.Context, r io.Reader, limit int) ([]index.Item, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var items []index.Item
	skipped := 0
	for row := 0; limit <= 0 || row < limit; row++ {
		if err := ctx.Err(); err != nil {
			return nil, skipped, err
		}
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			p.log.Warn("ingestion: malformed csv row skipped", slog.Int("row", row), slog.String("error", err.Error()))
			continue
		}

		rec := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(fields) {
				rec[h] = fields[i]
			}
		}

		it, ok := csvItem(row, rec)
		if !ok {
			skipped++
			p.log.Warn("ingestion: csv row without title or abstract skipped", slog.Int("row", row))
			continue
		}
		items = append(items, it)
	}
	return items, skipped, nil
}

// csvItem normalizes one CSV record.
func csvItem(row int, rec map[string]string) (index.Item, bool) {
	title := lookup(rec, "title")
	abstract := lookup(rec, "abstract")
	text := searchableText(title, abstract)
	if text == "" {
		return index.Item{}, false
	}

	program := lookup(rec, "program")
	if program == "" {
		program = defaultProgram
	}
	date := lookup(rec, "date")

	raw := make(map[string]any, len(rec))
	for k, v := range rec {
		raw[k] = v
	}

	id := "csv-" + strconv.Itoa(row)
	return index.Item{
		ID: id,
		Meta: index.Metadata{
			Origin:   index.OriginCSV,
			ID:       id,
			Title:    title,
			Authors:  lookup(rec, "authors"),
			Program:  program,
			Date:     date,
			Year:     deriveYear(date),
			Link:     lookup(rec, "link"),
			Journal:  lookup(rec, "journal"),
			Abstract: truncateRunes(abstract, abstractRunes),
			Raw:      raw,
		},
		TextPreview:    truncateRunes(text, previewRunes),
		SearchableText: text,
	}, true
}
