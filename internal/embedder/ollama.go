package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OllamaEmbedder calls the Ollama /api/embed endpoint. Long inputs are
// truncated server-side to the model context, so a long abstract never fails
// a rebuild. Safe for concurrent use.
type OllamaEmbedder struct {
	endpoint string
	model    string
	client   *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name (e.g. "nomic-embed-text").
	Model string
	// Timeout bounds one batch request (default: 60s).
	Timeout time.Duration
}

// NewOllamaEmbedder constructs an OllamaEmbedder from the given config.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaEmbedder{
		endpoint: strings.TrimRight(cfg.Host, "/") + "/api/embed",
		model:    cfg.Model,
		client:   &http.Client{Timeout: timeout},
	}
}

type ollamaEmbedRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	Truncate bool     `json:"truncate"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed returns one vector per text, in input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var result ollamaEmbedResponse
	err := postJSON(ctx, e.client, e.endpoint, nil,
		ollamaEmbedRequest{Model: e.model, Input: texts, Truncate: true},
		&result, ollamaError)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %s: %w", e.model, err)
	}
	if err := checkVectors(result.Embeddings, len(texts)); err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	return result.Embeddings, nil
}

func ollamaError(raw []byte) string {
	var body ollamaEmbedResponse
	if json.Unmarshal(raw, &body) == nil {
		return body.Error
	}
	return ""
}
