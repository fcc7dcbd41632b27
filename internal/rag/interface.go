// Package rag defines the contracts between the retrieval core and the
// external services it consumes: text embedding, text generation, and an
// optional vector mirror that receives each published snapshot. Concrete
// implementations live in the embedder and provider packages and in
// QdrantMirror so the retrieval layer never depends on a specific backend.
package rag

import (
	"context"

	"github.com/54b3r/osdr-rag-go/internal/index"
	"github.com/54b3r/osdr-rag-go/internal/osdr"
)

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice. Empty input yields
	// an empty result without contacting the backend.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces text from a prompt. Output is deterministic for a given
// prompt: implementations run the model with sampling disabled.
// Implementations must be safe to call from multiple goroutines.
type Generator interface {
	// Generate returns the model's completion for prompt, bounded by
	// maxLength tokens and asked to run to at least minLength tokens.
	// Over-long prompts are truncated by the implementation.
	Generate(ctx context.Context, prompt string, maxLength, minLength int) (string, error)
}

// Publisher receives every snapshot after it has been persisted locally.
// Publication failures never fail the rebuild that produced the snapshot.
type Publisher interface {
	// Publish replaces the published copy with snap.
	Publish(ctx context.Context, snap *index.Snapshot) error

	// Close releases any resources held by the publisher.
	Close() error
}

// Catalog is the remote study catalog. osdr.Client satisfies it.
type Catalog interface {
	// Search returns up to size study records matching term.
	Search(ctx context.Context, term string, size int) ([]osdr.Record, error)

	// StudyFiles lists up to limit files of the study with the given
	// numeric accession.
	StudyFiles(ctx context.Context, numericID string, limit int) ([]osdr.File, error)
}
