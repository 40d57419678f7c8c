// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/internal/embedding"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// fakeRepo keeps entries in memory and computes similarity with the real
// cosine function.
type fakeRepo struct {
	entries []types.AcceptanceEntry
	err     error
}

func (f *fakeRepo) InsertAcceptances(_ context.Context, entries []types.AcceptanceEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entries...)
	return nil
}

func (f *fakeRepo) AcceptancesByHash(_ context.Context, hash string, limit int) ([]types.AcceptanceMatch, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []types.AcceptanceMatch
	for _, e := range f.entries {
		if e.QueryHash == hash && len(out) < limit {
			out = append(out, types.AcceptanceMatch{QualityScore: e.QualityScore, AcceptedAt: e.AcceptedAt, Similarity: 1})
		}
	}
	return out, nil
}

func (f *fakeRepo) AcceptancesBySimilarity(_ context.Context, vec []float32, floor float64, limit int) ([]types.AcceptanceMatch, error) {
	var out []types.AcceptanceMatch
	for _, e := range f.entries {
		if e.QueryEmbedding == nil {
			continue
		}
		sim, err := embedding.CosineSimilarity(vec, e.QueryEmbedding)
		if err != nil {
			return nil, err
		}
		if sim >= floor && len(out) < limit {
			out = append(out, types.AcceptanceMatch{QualityScore: e.QualityScore, AcceptedAt: e.AcceptedAt, Similarity: sim})
		}
	}
	return out, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMemory(repo Repository, emb embedding.Embedder) *Memory {
	m := New(repo, emb, types.RubricConfig{}, nil)
	m.now = func() time.Time { return fixedNow }
	return m
}

func TestNormalizeAndHash(t *testing.T) {
	assert.Equal(t, "metformin and mortality", NormalizeQuery("  Metformin   AND\tmortality "))
	assert.Equal(t, HashQuery("Metformin and mortality"), HashQuery(" metformin  AND mortality"))
	assert.NotEqual(t, HashQuery("metformin"), HashQuery("insulin"))
	assert.Len(t, HashQuery("x"), 64)
}

func TestBiasFor_NoHistory(t *testing.T) {
	m := newMemory(&fakeRepo{}, embedding.NewHashEmbedder(64))
	bias, err := m.BiasFor(context.Background(), "anything")
	require.NoError(t, err)
	assert.Zero(t, bias)
}

func TestBiasFor_ExactMatchDecaysWithAge(t *testing.T) {
	repo := &fakeRepo{}
	m := newMemory(repo, nil)
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, "Metformin mortality", []types.Acceptance{{DocumentID: "1", QualityScore: 0.1}}))
	bias, err := m.BiasFor(ctx, "metformin   MORTALITY")
	require.NoError(t, err)
	assert.InDelta(t, 0.1, bias, 1e-9)

	repo.entries[0].AcceptedAt = fixedNow.Add(-100 * 24 * time.Hour)
	bias, err = m.BiasFor(ctx, "metformin mortality")
	require.NoError(t, err)
	assert.InDelta(t, 0.1*math.Exp(-1), bias, 1e-9)
}

func TestBiasFor_CappedAtMaxBoost(t *testing.T) {
	repo := &fakeRepo{}
	m := newMemory(repo, nil)
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, "q", []types.Acceptance{{DocumentID: "1", QualityScore: 0.95}, {DocumentID: "2", QualityScore: 0.9}}))
	bias, err := m.BiasFor(ctx, "q")
	require.NoError(t, err)
	assert.InDelta(t, 0.15, bias, 1e-9)
}

func TestBiasFor_AlwaysWithinBounds(t *testing.T) {
	repo := &fakeRepo{entries: []types.AcceptanceEntry{
		{QueryHash: HashQuery("q"), QualityScore: 7, AcceptedAt: fixedNow.Add(48 * time.Hour)},
		{QueryHash: HashQuery("q"), QualityScore: -3, AcceptedAt: fixedNow},
		{QueryHash: HashQuery("q"), QualityScore: math.NaN(), AcceptedAt: fixedNow.Add(-time.Hour)},
	}}
	bias, err := newMemory(repo, nil).BiasFor(context.Background(), "q")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, bias, 0.0)
	assert.LessOrEqual(t, bias, 0.15)
}

func TestBiasFor_SimilarityFallback(t *testing.T) {
	repo := &fakeRepo{}
	emb := embedding.NewHashEmbedder(256)
	m := newMemory(repo, emb)
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, "metformin all cause mortality type 2 diabetes", []types.Acceptance{{DocumentID: "1", QualityScore: 0.1}}))
	require.NotNil(t, repo.entries[0].QueryEmbedding)

	near, err := m.BiasFor(ctx, "metformin all cause mortality in type 2 diabetes")
	require.NoError(t, err)
	assert.Greater(t, near, 0.0)
	assert.Less(t, near, 0.1)

	far, err := m.BiasFor(ctx, "retinopathy screening in premature infants")
	require.NoError(t, err)
	assert.Zero(t, far)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("quota exceeded")
}

func TestEmbeddingFailures(t *testing.T) {
	repo := &fakeRepo{}
	m := newMemory(repo, failingEmbedder{})
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, "q", []types.Acceptance{{DocumentID: "1", QualityScore: 0.2}}))
	require.Len(t, repo.entries, 1)
	assert.Nil(t, repo.entries[0].QueryEmbedding, "record survives without an embedding")

	bias, err := m.BiasFor(ctx, "q")
	require.NoError(t, err)
	assert.InDelta(t, 0.15, bias, 1e-9, "exact matches need no embedding")

	bias, err = m.BiasFor(ctx, "other")
	require.NoError(t, err)
	assert.Zero(t, bias)
}

func TestRecord(t *testing.T) {
	repo := &fakeRepo{}
	m := newMemory(repo, nil)

	require.NoError(t, m.Record(context.Background(), "Q", nil))
	assert.Empty(t, repo.entries)

	require.NoError(t, m.Record(context.Background(), " Q ", []types.Acceptance{
		{DocumentID: "1", StudyType: types.StudyRCT, QualityScore: 0.8, Iteration: 2},
	}))
	require.Len(t, repo.entries, 1)
	e := repo.entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "q", e.NormalizedQuery)
	assert.Equal(t, HashQuery("q"), e.QueryHash)
	assert.Equal(t, 2, e.Iteration)
	assert.Equal(t, fixedNow, e.AcceptedAt)

	repo.err = errors.New("disk full")
	assert.Error(t, m.Record(context.Background(), "Q", []types.Acceptance{{DocumentID: "2"}}))
}
