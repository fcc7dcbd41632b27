// Package summarizer condenses long text with a map-reduce pass over a
// generation backend: the input is split into fixed-size chunks, each chunk
// is summarized independently, and the partial summaries are synthesized
// into one final answer.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/osdr-rag-go/internal/rag"
)

const (
	// DefaultChunkSize is the chunk length in runes.
	DefaultChunkSize = 3000

	// DefaultMinLength is the minimum completion length requested per call.
	DefaultMinLength = 30

	// chunkMaxLength bounds each per-chunk summary.
	chunkMaxLength = 256
)

const (
	chunkPrompt = "Summarize clearly and concisely. Include titles, space program, dates and files if present.\n\n%s\n\nSummary:"
	finalPrompt = "Combine and synthesize the following summaries into one short clear summary (3-6 sentences):\n\n%s\nFinal summary:"
)

// Config configures a Summarizer.
type Config struct {
	// Generator produces every completion.
	Generator rag.Generator

	// ChunkSize is the chunk length in runes (default: 3000).
	ChunkSize int

	// MinLength is the minimum completion length requested (default: 30).
	MinLength int

	// Logger receives per-call diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Summarizer runs map-reduce summarization. It is safe for concurrent use
// when its Generator is.
type Summarizer struct {
	gen       rag.Generator
	chunkSize int
	minLength int
	log       *slog.Logger
}

// New validates cfg and returns a Summarizer.
func New(cfg *Config) (*Summarizer, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("summarizer: generator must not be nil")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultMinLength
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Summarizer{gen: cfg.Generator, chunkSize: cfg.ChunkSize, minLength: cfg.MinLength, log: cfg.Logger}, nil
}

// ChunkSize returns the configured chunk length in runes.
func (s *Summarizer) ChunkSize() int { return s.chunkSize }

// Summarize returns a summary of text bounded by maxLength tokens.
//
// Blank input returns "" without calling the generator. Text that fits in a
// single chunk takes exactly one call; otherwise one call per chunk is made
// followed by exactly one synthesis call over the joined partial summaries.
func (s *Summarizer) Summarize(ctx context.Context, text string, maxLength int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	chunks := Chunk(text, s.chunkSize)
	partials := make([]string, 0, len(chunks))
	for i, c := range chunks {
		out, err := s.gen.Generate(ctx, fmt.Sprintf(chunkPrompt, c), chunkMaxLength, s.minLength)
		if err != nil {
			return "", fmt.Errorf("summarizer: chunk %d/%d: %w", i+1, len(chunks), err)
		}
		partials = append(partials, strings.TrimSpace(out))
	}

	if len(partials) == 1 {
		return partials[0], nil
	}

	s.log.Debug("summarizer: synthesizing partial summaries", slog.Int("chunks", len(partials)))
	combined := strings.Join(partials, "\n\n")
	out, err := s.gen.Generate(ctx, fmt.Sprintf(finalPrompt, combined), maxLength, s.minLength)
	if err != nil {
		return "", fmt.Errorf("summarizer: synthesis: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Chunk splits text at fixed rune boundaries into pieces of at most size
// runes. It makes ceil(runes/size) pieces; empty text yields none.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return nil
	}

	chunks := make([]string, 0, (n+size-1)/size)
	start, count := 0, 0
	for pos := range text {
		if count == size {
			chunks = append(chunks, text[start:pos])
			start, count = pos, 0
		}
		count++
	}
	return append(chunks, text[start:])
}
