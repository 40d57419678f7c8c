// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/internal/embedding"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// openStores returns one store per available backend. Postgres runs only
// when EVIDENCE_ENGINE_TEST_POSTGRES_DSN points at a database with pgvector.
func openStores(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()
	stores := map[string]Store{}

	for _, driver := range []string{DriverMattn, DriverModernc} {
		s, err := OpenSQLite(ctx, driver, filepath.Join(t.TempDir(), "sub", "evidence.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		stores[driver] = s
	}

	if dsn := os.Getenv("EVIDENCE_ENGINE_TEST_POSTGRES_DSN"); dsn != "" {
		s, err := OpenPostgres(ctx, dsn, nil)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		stores[DriverPostgres] = s
	}
	return stores
}

func uniqueID(t *testing.T, prefix string) string {
	return prefix + "-" + t.Name() + "-" + time.Now().Format("150405.000000000")
}

func TestSessionLifecycle(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id := uniqueID(t, "s")
			now := time.Now().UTC().Truncate(time.Millisecond)

			missing, err := s.GetSession(ctx, id)
			require.NoError(t, err)
			assert.Nil(t, missing)

			sess := &types.SessionContext{
				ID:             id,
				OwnerID:        "owner-1",
				Title:          "Metformin",
				OriginalQuery:  "Does metformin reduce mortality?",
				QueryEmbedding: []float32{0.1, 0.2, 0.3},
				Documents: []types.ScoredDocument{
					types.Scored(types.Document{ID: "1", Title: "T1", Abstract: "A1", Year: 2020}, types.Grade{RelevanceScore: 0.9, MethodologyScore: 0.7, Recommendation: types.RecommendKeep}),
					types.Unscored(types.Document{ID: "2", Title: "T2", Abstract: "A2"}),
				},
				SynthesisSummary: "summary",
				TurnCount:        1,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			require.NoError(t, s.UpsertSession(ctx, sess))
			require.NoError(t, s.AppendMessages(ctx, id, []types.Message{
				{ID: id + "-m1", Role: types.RoleUser, Content: "Does metformin reduce mortality?", CreatedAt: now},
				{ID: id + "-m2", Role: types.RoleAssistant, Content: "review", Route: types.RouteFullGraph, CreatedAt: now},
			}))
			require.NoError(t, s.AppendMessages(ctx, id, []types.Message{
				{ID: id + "-m3", Role: types.RoleUser, Content: "what about these?", CreatedAt: now.Add(time.Second)},
			}))

			got, err := s.GetSession(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, sess.OriginalQuery, got.OriginalQuery)
			assert.Equal(t, sess.QueryEmbedding, got.QueryEmbedding)
			assert.Equal(t, sess.Documents, got.Documents)
			assert.Equal(t, 1, got.TurnCount)
			assert.True(t, now.Equal(got.CreatedAt))
			assert.Empty(t, got.Messages)

			msgs, err := s.Messages(ctx, id)
			require.NoError(t, err)
			require.Len(t, msgs, 3)
			assert.Equal(t, []string{id + "-m1", id + "-m2", id + "-m3"},
				[]string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
			assert.Equal(t, types.RouteFullGraph, msgs[1].Route)
			assert.True(t, now.Equal(msgs[0].CreatedAt))

			sess.TurnCount = 2
			sess.SynthesisSummary = "updated"
			require.NoError(t, s.UpsertSession(ctx, sess))
			got, err = s.GetSession(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, 2, got.TurnCount)
			assert.Equal(t, "updated", got.SynthesisSummary)

			list, err := s.ListSessions(ctx, "owner-1", 10, 0)
			require.NoError(t, err)
			require.NotEmpty(t, list)
			var found bool
			for _, l := range list {
				if l.ID == id {
					found = true
					assert.Equal(t, 3, l.MessageCount)
				}
			}
			assert.True(t, found)

			deleted, err := s.SoftDeleteSession(ctx, id)
			require.NoError(t, err)
			assert.True(t, deleted)
			deleted, err = s.SoftDeleteSession(ctx, id)
			require.NoError(t, err)
			assert.False(t, deleted, "second delete finds no live session")

			got, err = s.GetSession(ctx, id)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestListSessions_OrderAndOwner(t *testing.T) {
	stores := openStores(t)
	for _, name := range []string{DriverMattn, DriverModernc} {
		s := stores[name]
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			for i, owner := range []string{"a", "b", "a"} {
				require.NoError(t, s.UpsertSession(ctx, &types.SessionContext{
					ID:        string(rune('x' + i)),
					OwnerID:   owner,
					CreatedAt: base,
					UpdatedAt: base.Add(time.Duration(i) * time.Second),
				}))
			}

			all, err := s.ListSessions(ctx, "", 10, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"z", "y", "x"}, []string{all[0].ID, all[1].ID, all[2].ID})

			owned, err := s.ListSessions(ctx, "a", 10, 0)
			require.NoError(t, err)
			require.Len(t, owned, 2)

			page, err := s.ListSessions(ctx, "", 1, 1)
			require.NoError(t, err)
			require.Len(t, page, 1)
			assert.Equal(t, "y", page[0].ID)
		})
	}
}

func TestAcceptances(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			hash := uniqueID(t, "h")
			emb := embedding.NewHashEmbedder(16)
			vec, _ := emb.Embed(ctx, hash)
			old := time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Millisecond)
			recent := time.Now().UTC().Truncate(time.Millisecond)

			require.NoError(t, s.InsertAcceptances(ctx, []types.AcceptanceEntry{
				{ID: hash + "-1", QueryHash: hash, NormalizedQuery: "q", QueryEmbedding: vec, DocumentID: "1", QualityScore: 0.8, AcceptedAt: old},
				{ID: hash + "-2", QueryHash: hash, NormalizedQuery: "q", DocumentID: "2", QualityScore: 0.6, AcceptedAt: recent},
			}))

			byHash, err := s.AcceptancesByHash(ctx, hash, 10)
			require.NoError(t, err)
			require.Len(t, byHash, 2)
			assert.InDelta(t, 0.6, byHash[0].QualityScore, 1e-9, "newest first")
			assert.Equal(t, 1.0, byHash[0].Similarity)

			limited, err := s.AcceptancesByHash(ctx, hash, 1)
			require.NoError(t, err)
			assert.Len(t, limited, 1)

			similar, err := s.AcceptancesBySimilarity(ctx, vec, 0.99, 10)
			require.NoError(t, err)
			require.NotEmpty(t, similar)
			assert.InDelta(t, 1.0, similar[0].Similarity, 1e-5)
			assert.InDelta(t, 0.8, similar[0].QualityScore, 1e-9)
		})
	}
}

func TestAcceptancesBySimilarity_DimensionMismatch(t *testing.T) {
	stores := openStores(t)
	s := stores[DriverModernc]
	ctx := context.Background()

	require.NoError(t, s.InsertAcceptances(ctx, []types.AcceptanceEntry{
		{ID: "a", QueryHash: "h", NormalizedQuery: "q", QueryEmbedding: []float32{1, 0, 0}, DocumentID: "1", QualityScore: 0.5},
	}))
	_, err := s.AcceptancesBySimilarity(ctx, []float32{1, 0}, 0.5, 10)
	assert.ErrorIs(t, err, embedding.ErrDimensionMismatch)
}

func TestOpen(t *testing.T) {
	_, err := Open(context.Background(), types.DurableConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)

	s, err := Open(context.Background(), types.DurableConfig{Driver: DriverModernc, DSN: filepath.Join(t.TempDir(), "x.db")}, nil)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}
