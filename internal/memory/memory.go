// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package memory keeps an append-only record of documents accepted for
// past queries and turns it into a threshold bias for similar queries.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/embedding"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Repository is the durable backing of acceptance memory.
type Repository interface {
	InsertAcceptances(ctx context.Context, entries []types.AcceptanceEntry) error
	AcceptancesByHash(ctx context.Context, queryHash string, limit int) ([]types.AcceptanceMatch, error)
	AcceptancesBySimilarity(ctx context.Context, vec []float32, minSimilarity float64, limit int) ([]types.AcceptanceMatch, error)
}

// Memory implements bias lookup and acceptance recording.
type Memory struct {
	repo     Repository
	embedder embedding.Embedder
	cfg      types.RubricConfig
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Memory. embedder may be nil, in which case only exact
// normalized-query matches contribute bias.
func New(repo Repository, embedder embedding.Embedder, cfg types.RubricConfig, logger *zap.Logger) *Memory {
	def := types.DefaultRubric()
	if cfg.MaxMemoryBoost <= 0 {
		cfg.MaxMemoryBoost = def.MaxMemoryBoost
	}
	if cfg.MemorySimilarityFloor <= 0 {
		cfg.MemorySimilarityFloor = def.MemorySimilarityFloor
	}
	if cfg.MemoryDecayPerDay <= 0 {
		cfg.MemoryDecayPerDay = def.MemoryDecayPerDay
	}
	if cfg.MemoryLookupLimit <= 0 {
		cfg.MemoryLookupLimit = def.MemoryLookupLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{repo: repo, embedder: embedder, cfg: cfg, logger: logger, now: time.Now}
}

// NormalizeQuery lowercases q and collapses whitespace.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// HashQuery returns the hex SHA-256 of the normalized query.
func HashQuery(q string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(q)))
	return hex.EncodeToString(sum[:])
}

// BiasFor returns the threshold bias for query in [0, MaxMemoryBoost].
// Exact normalized matches are used when present; otherwise rows whose
// query embedding is at least MemorySimilarityFloor similar contribute.
// Each match contributes quality * similarity * exp(-decay * age_days) and
// the contributions are averaged.
func (m *Memory) BiasFor(ctx context.Context, query string) (float64, error) {
	matches, err := m.repo.AcceptancesByHash(ctx, HashQuery(query), m.cfg.MemoryLookupLimit)
	if err != nil {
		return 0, fmt.Errorf("exact acceptance lookup: %w", err)
	}

	if len(matches) == 0 && m.embedder != nil {
		vec, err := m.embedder.Embed(ctx, NormalizeQuery(query))
		if err != nil {
			m.logger.Warn("embedding query for memory lookup failed", zap.Error(err))
			return 0, nil
		}
		matches, err = m.repo.AcceptancesBySimilarity(ctx, vec, m.cfg.MemorySimilarityFloor, m.cfg.MemoryLookupLimit)
		if err != nil {
			return 0, fmt.Errorf("similar acceptance lookup: %w", err)
		}
	}

	bias := m.score(matches)
	m.logger.Debug("acceptance memory bias",
		zap.Int("matches", len(matches)),
		zap.Float64("bias", bias))
	return bias, nil
}

func (m *Memory) score(matches []types.AcceptanceMatch) float64 {
	if len(matches) == 0 {
		return 0
	}
	now := m.now()
	var sum float64
	for _, match := range matches {
		ageDays := math.Max(0, now.Sub(match.AcceptedAt).Hours()/24)
		sum += clamp01(match.QualityScore) * clamp01(match.Similarity) * math.Exp(-m.cfg.MemoryDecayPerDay*ageDays)
	}
	return math.Min(m.cfg.MaxMemoryBoost, math.Max(0, sum/float64(len(matches))))
}

// Record appends one entry per accepted document for query.
func (m *Memory) Record(ctx context.Context, query string, accepted []types.Acceptance) error {
	if len(accepted) == 0 {
		return nil
	}
	normalized := NormalizeQuery(query)
	hash := HashQuery(query)

	var vec []float32
	if m.embedder != nil {
		v, err := m.embedder.Embed(ctx, normalized)
		if err != nil {
			m.logger.Warn("embedding query for memory record failed", zap.Error(err))
		} else {
			vec = v
		}
	}

	now := m.now().UTC()
	entries := make([]types.AcceptanceEntry, 0, len(accepted))
	for _, a := range accepted {
		entries = append(entries, types.AcceptanceEntry{
			ID:              uuid.NewString(),
			QueryHash:       hash,
			NormalizedQuery: normalized,
			QueryEmbedding:  vec,
			DocumentID:      a.DocumentID,
			StudyType:       a.StudyType,
			QualityScore:    a.QualityScore,
			Iteration:       a.Iteration,
			AcceptedAt:      now,
		})
	}
	if err := m.repo.InsertAcceptances(ctx, entries); err != nil {
		return fmt.Errorf("recording acceptances: %w", err)
	}
	return nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
