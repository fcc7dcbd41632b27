package embedder

import (
	"fmt"

	"github.com/54b3r/osdr-rag-go/internal/config"
	"github.com/54b3r/osdr-rag-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	// defaultBatchSize is the number of texts sent per Embed call during a rebuild.
	defaultBatchSize = 64
)

// BatchSize returns EMBEDDING_BATCH_SIZE, or the default when unset or invalid.
func BatchSize() int {
	if n := config.EnvInt("EMBEDDING_BATCH_SIZE", defaultBatchSize); n > 0 {
		return n
	}
	return defaultBatchSize
}

// Backend resolves the effective embedding backend: EMBEDDING_PROVIDER, then
// MODEL_PROVIDER, then ollama.
func Backend() string {
	if b := config.Env("EMBEDDING_PROVIDER", ""); b != "" {
		return b
	}
	return config.Env("MODEL_PROVIDER", "ollama")
}

// NewFromEnv constructs a rag.Embedder using cascading defaults that inherit
// from the chat provider configuration when embedding-specific overrides are
// not set.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER, if unset inherits MODEL_PROVIDER (default: ollama)
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY overrides the inherited API key
//  5. EMBEDDING_ENDPOINT overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS requests a specific output size where supported
//
// The ark backend has no embedding endpoint here; set EMBEDDING_PROVIDER.
func NewFromEnv() (rag.Embedder, error) {
	backend := Backend()
	dims := config.EnvInt("EMBEDDING_DIMENSIONS", 0)

	switch backend {
	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  config.Env("EMBEDDING_ENDPOINT", config.Env("OLLAMA_HOST", "http://localhost:11434")),
			Model: config.Env("EMBEDDING_MODEL", defaultOllamaModel),
		}), nil

	case "openai":
		apiKey := config.Env("EMBEDDING_API_KEY", config.Env("OPENAI_API_KEY", ""))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    config.Env("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      config.Env("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
		}), nil

	case "azure":
		apiKey := config.Env("EMBEDDING_API_KEY", config.Env("AZURE_OPENAI_API_KEY", ""))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := config.Env("EMBEDDING_ENDPOINT", config.Env("AZURE_OPENAI_ENDPOINT", ""))
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint + "/openai",
			APIKey:     apiKey,
			Model:      config.Env("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
			Azure:      true,
			APIVersion: config.Env("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), nil

	case "gemini":
		apiKey := config.Env("EMBEDDING_API_KEY", config.Env("GOOGLE_API_KEY", ""))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
		return NewGeminiEmbedder(&GeminiConfig{
			APIKey:     apiKey,
			BaseURL:    config.Env("EMBEDDING_ENDPOINT", ""),
			Model:      config.Env("EMBEDDING_MODEL", defaultGeminiModel),
			Dimensions: dims,
		})

	case "ark":
		return nil, fmt.Errorf("embedder: ark has no embedding backend; set EMBEDDING_PROVIDER to ollama, openai, azure or gemini")

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid: ollama, openai, azure, gemini)", backend)
	}
}
