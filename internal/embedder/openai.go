// Package embedder turns paper text into dense vectors for the flat index.
// The OpenAI, Azure OpenAI and Ollama backends speak plain HTTP; the Gemini
// backend uses the genai SDK already required by the chat provider.
package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OpenAIEmbedder calls the OpenAI embeddings API, or an Azure OpenAI
// deployment of it. Safe for concurrent use.
type OpenAIEmbedder struct {
	endpoint   string
	header     http.Header
	model      string
	dimensions int
	client     *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com/openai".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model, or the deployment name on Azure.
	Model string
	// Dimensions is the desired vector length (0 = model default).
	Dimensions int
	// Azure enables Azure OpenAI mode (api-key header + api-version param).
	Azure bool
	// APIVersion is the Azure OpenAI API version. Ignored when Azure is false.
	APIVersion string
	// Timeout bounds one batch request (default: 30s).
	Timeout time.Duration
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder. The endpoint and auth
// header are resolved once here.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	base := strings.TrimRight(cfg.BaseURL, "/")
	header := http.Header{}

	endpoint := base + "/embeddings"
	if cfg.Azure {
		endpoint = base + "/deployments/" + url.PathEscape(cfg.Model) + "/embeddings?" +
			url.Values{"api-version": {cfg.APIVersion}}.Encode()
		header.Set("api-key", cfg.APIKey)
	} else {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIEmbedder{
		endpoint:   endpoint,
		header:     header,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed returns one vector per text, in input order. The API may return
// entries out of order; they are placed by their index field.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var result openaiEmbedResponse
	err := postJSON(ctx, e.client, e.endpoint, e.header,
		openaiEmbedRequest{Input: texts, Model: e.model, Dimensions: e.dimensions},
		&result, openaiError)
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}

	vecs := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai embedder: index %d out of range [0, %d)", d.Index, len(texts))
		}
		vecs[d.Index] = d.Embedding
	}
	if err := checkVectors(vecs, len(texts)); err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	return vecs, nil
}

func openaiError(raw []byte) string {
	var body openaiEmbedResponse
	if json.Unmarshal(raw, &body) == nil && body.Error != nil {
		return body.Error.Message
	}
	return ""
}
