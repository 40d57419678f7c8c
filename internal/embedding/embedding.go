// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package embedding turns query text into vectors for router similarity
// and acceptance-memory lookups.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Embedder produces a fixed-size vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrDimensionMismatch is returned when two vectors of different sizes are
// compared. It indicates that stored vectors came from a different model.
var ErrDimensionMismatch = errors.New("embedding: vector dimension mismatch")

// New builds the Embedder selected by cfg.
func New(ctx context.Context, cfg types.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "hash":
		return NewHashEmbedder(cfg.Dimensions), nil
	case "genai", "gemini":
		return NewGenAIEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Zero-magnitude vectors have similarity 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}
