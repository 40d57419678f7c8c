// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm provides text-generation backends. Every agent in the
// engine talks to a model through the Generator interface so that
// providers can be swapped by configuration and replaced by mocks in tests.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Generator produces a completion for a system instruction and a user prompt.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// ErrMissingAPIKey is returned by New when the selected provider has no key.
var ErrMissingAPIKey = errors.New("llm: missing API key")

const defaultMaxTokens = 2048

// New builds the Generator selected by cfg, wrapped with transport retries.
func New(ctx context.Context, cfg types.GenerationConfig, logger *zap.Logger) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w for provider %q", ErrMissingAPIKey, cfg.Provider)
	}

	client := &http.Client{Timeout: cfg.Timeout}

	var gen Generator
	switch cfg.Provider {
	case "", "anthropic", "claude":
		gen = &ClaudeGenerator{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Client:    client,
		}
	case "genai", "gemini":
		g, err := NewGenAIGenerator(ctx, cfg.APIKey, cfg.Model, client)
		if err != nil {
			return nil, err
		}
		gen = g
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}

	return WithRetry(gen, cfg.MaxRetries, logger), nil
}
