// Package model abstracts the language-model providers behind a single
// completion interface so the agent never touches SDK types directly.
package model

import (
	"context"
	"fmt"

	"github.com/hpfpv/genai-chatbot-bedrock-agents/internal/config"
)

// Client produces one text completion per call. Implementations are safe
// for concurrent use.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options carries the sampling parameters shared by every provider.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
}

func optionsFrom(cfg *config.Config) Options {
	return Options{
		Model:       cfg.Agent.Model,
		MaxTokens:   cfg.Agent.MaxTokens,
		Temperature: cfg.Agent.Temperature,
		TopP:        cfg.Agent.TopP,
	}
}

// New builds the provider selected by the config. The API key must already
// be resolved; picking it up from the environment happens at config load.
func New(cfg *config.Config) (Client, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("model: no API key configured")
	}
	opts := optionsFrom(cfg)
	switch cfg.Provider.Type {
	case "", "anthropic":
		return newAnthropicClient(cfg.Provider, opts), nil
	case "openai":
		return newOpenAIClient(cfg.Provider, opts), nil
	default:
		return nil, fmt.Errorf("model: unknown provider type %q", cfg.Provider.Type)
	}
}
