package embedder

import (
	"context"
	"fmt"

	"github.com/54b3r/osdr-rag-go/internal/rag"
)

// EmbedAll embeds texts in consecutive batches of at most size texts and
// returns the vectors in input order. progress, when non-nil, is called after
// each batch with the number of texts embedded so far.
func EmbedAll(ctx context.Context, e rag.Embedder, texts []string, size int, progress func(done int)) ([][]float32, error) {
	if size <= 0 {
		size = defaultBatchSize
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := e.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedder: batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder: batch %d-%d: expected %d vectors, got %d", start, end, end-start, len(vecs))
		}
		out = append(out, vecs...)
		if progress != nil {
			progress(end)
		}
	}
	return out, nil
}
