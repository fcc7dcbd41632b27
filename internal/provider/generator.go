package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/osdr-rag-go/internal/budget"
)

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("provider: model returned an empty completion")

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	// Model is the chat model that serves completions.
	Model model.BaseChatModel

	// Name labels the run in tracing callbacks (default: "osdrrag.generate").
	Name string

	// MaxPromptTokens caps the prompt size; longer prompts are truncated.
	// Defaults to budget.DefaultMaxPromptTokens.
	MaxPromptTokens int

	// Logger receives truncation and length diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Generator adapts a chat model to rag.Generator. Every call runs with
// temperature 0 so the same prompt always yields the same request.
type Generator struct {
	model     model.BaseChatModel
	name      string
	maxPrompt int
	log       *slog.Logger
}

// NewGenerator validates cfg and returns a Generator.
func NewGenerator(cfg *GeneratorConfig) (*Generator, error) {
	if cfg.Model == nil {
		return nil, fmt.Errorf("provider: generator requires a chat model")
	}
	if cfg.Name == "" {
		cfg.Name = "osdrrag.generate"
	}
	if cfg.MaxPromptTokens <= 0 {
		cfg.MaxPromptTokens = budget.DefaultMaxPromptTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Generator{model: cfg.Model, name: cfg.Name, maxPrompt: cfg.MaxPromptTokens, log: cfg.Logger}, nil
}

// Generate sends prompt as a single user message. maxLength bounds the
// completion in tokens; minLength is advisory because chat APIs expose no
// minimum, so a shorter answer is logged rather than rejected.
func (g *Generator) Generate(ctx context.Context, prompt string, maxLength, minLength int) (string, error) {
	prompt, truncated := budget.Truncate(prompt, g.maxPrompt)
	if truncated {
		g.log.Debug("provider: prompt truncated", slog.Int("max_tokens", g.maxPrompt))
	}

	msgs := []*schema.Message{schema.UserMessage(prompt)}
	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      g.name,
		Type:      "Generator",
		Component: components.ComponentOfChatModel,
	})

	opts := []model.Option{model.WithTemperature(0)}
	if maxLength > 0 {
		opts = append(opts, model.WithMaxTokens(maxLength))
	}

	out, err := g.model.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", fmt.Errorf("provider: generate: %w", err)
	}
	text := ""
	if out != nil {
		text = strings.TrimSpace(out.Content)
	}
	if text == "" {
		return "", ErrEmptyCompletion
	}

	if got := budget.Estimate(text); minLength > 0 && got < minLength {
		g.log.Debug("provider: completion shorter than requested minimum",
			slog.Int("min_tokens", minLength),
			slog.Int("estimated_tokens", got),
		)
	}
	g.log.Debug("provider: completion",
		slog.Int("prompt_tokens_est", budget.EstimateMessages(msgs)),
		slog.Int("max_tokens", maxLength),
	)
	return text, nil
}
