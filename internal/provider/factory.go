package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"

	"github.com/54b3r/osdr-rag-go/internal/config"
)

// ConfigFromEnv resolves a Config from environment variables.
//
// Environment variables:
//
//	MODEL_PROVIDER = ollama | openai | azure | ark | gemini (default: ollama)
//
//	Ollama: OLLAMA_HOST (default: http://localhost:11434), OLLAMA_MODEL (default: llama3)
//	OpenAI: OPENAI_API_KEY, OPENAI_MODEL (default: gpt-4o-mini)
//	Azure:  AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT,
//	        AZURE_OPENAI_API_VERSION (default: 2024-02-01)
//	Ark:    ARK_API_KEY, ARK_MODEL, ARK_BASE_URL (optional)
//	Gemini: GOOGLE_API_KEY, GEMINI_MODEL (default: gemini-1.5-flash)
func ConfigFromEnv() *Config {
	return &Config{
		Backend: Backend(config.Env("MODEL_PROVIDER", string(BackendOllama))),
		Ollama: ProviderOllama{
			Host:  config.Env("OLLAMA_HOST", "http://localhost:11434"),
			Model: config.Env("OLLAMA_MODEL", "llama3"),
		},
		OpenAI: ProviderOpenAI{
			APIKey: config.Env("OPENAI_API_KEY", ""),
			Model:  config.Env("OPENAI_MODEL", "gpt-4o-mini"),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     config.Env("AZURE_OPENAI_API_KEY", ""),
			Endpoint:   config.Env("AZURE_OPENAI_ENDPOINT", ""),
			Deployment: config.Env("AZURE_OPENAI_DEPLOYMENT", ""),
			APIVersion: config.Env("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		},
		Ark: ProviderArk{
			APIKey:  config.Env("ARK_API_KEY", ""),
			Model:   config.Env("ARK_MODEL", ""),
			BaseURL: config.Env("ARK_BASE_URL", ""),
		},
		Gemini: ProviderGemini{
			APIKey: config.Env("GOOGLE_API_KEY", ""),
			Model:  config.Env("GEMINI_MODEL", "gemini-1.5-flash"),
		},
	}
}

// NewFromEnv constructs a chat model from environment configuration.
func NewFromEnv(ctx context.Context) (model.BaseChatModel, *Config, error) {
	cfg := ConfigFromEnv()
	m, err := New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}

// New constructs a chat model from an explicit Config, delegating to the
// appropriate backend factory function. It validates the config first so
// callers get a clear error at startup rather than on the first request.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendOllama:
		return newOllama(ctx, cfg)
	case BackendOpenAI:
		return newOpenAI(ctx, cfg)
	case BackendAzure:
		return newAzure(ctx, cfg)
	case BackendArk:
		return newArk(ctx, cfg)
	case BackendGemini:
		return newGemini(ctx, cfg)
	default:
		return nil, fmt.Errorf("provider: unknown backend %q", cfg.Backend)
	}
}
