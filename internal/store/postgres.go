// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// PostgresStore is the Postgres-backed Store. Query embeddings live in
// pgvector columns and similarity uses the cosine distance operator.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// OpenPostgres connects to dsn and ensures the schema and the vector
// extension exist.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	logger.Debug("durable store opened", zap.String("driver", DriverPostgres))
	return s, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			original_query TEXT NOT NULL DEFAULT '',
			query_embedding vector,
			documents JSONB NOT NULL DEFAULT '[]',
			synthesis_summary TEXT NOT NULL DEFAULT '',
			turn_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id, updated_at DESC)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			route TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE(session_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS acceptance_memory (
			id TEXT PRIMARY KEY,
			query_hash TEXT NOT NULL,
			normalized_query TEXT NOT NULL,
			query_embedding vector,
			document_id TEXT NOT NULL,
			study_type TEXT NOT NULL DEFAULT '',
			quality_score DOUBLE PRECISION NOT NULL,
			iteration INTEGER NOT NULL,
			accepted_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_acceptance_hash ON acceptance_memory(query_hash, accepted_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func toVector(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// UpsertSession implements Store.
func (s *PostgresStore) UpsertSession(ctx context.Context, sess *types.SessionContext) error {
	docs, err := json.Marshal(nonNilDocs(sess.Documents))
	if err != nil {
		return fmt.Errorf("encoding documents: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sessions (id, owner_id, title, original_query, query_embedding, documents,
			synthesis_summary, turn_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			title = EXCLUDED.title,
			original_query = EXCLUDED.original_query,
			query_embedding = EXCLUDED.query_embedding,
			documents = EXCLUDED.documents,
			synthesis_summary = EXCLUDED.synthesis_summary,
			turn_count = EXCLUDED.turn_count,
			updated_at = EXCLUDED.updated_at`,
		sess.ID, sess.OwnerID, sess.Title, sess.OriginalQuery, toVector(sess.QueryEmbedding), docs,
		sess.SynthesisSummary, sess.TurnCount, orNow(sess.CreatedAt), orNow(sess.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession implements Store.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*types.SessionContext, error) {
	var (
		sess types.SessionContext
		emb  *pgvector.Vector
		docs []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, original_query, query_embedding, documents,
			synthesis_summary, turn_count, created_at, updated_at
		FROM sessions WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&sess.ID, &sess.OwnerID, &sess.Title, &sess.OriginalQuery, &emb, &docs,
		&sess.SynthesisSummary, &sess.TurnCount, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}
	if emb != nil {
		sess.QueryEmbedding = emb.Slice()
	}
	if err := json.Unmarshal(docs, &sess.Documents); err != nil {
		return nil, fmt.Errorf("decoding documents of session %s: %w", id, err)
	}
	return &sess, nil
}

// Messages implements Store.
func (s *PostgresStore) Messages(ctx context.Context, sessionID string) ([]types.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, route, created_at
		FROM messages WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading messages of session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		var m types.Message
		var role, route string
		if err := rows.Scan(&m.ID, &role, &m.Content, &route, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = types.Role(role)
		m.Route = types.Route(route)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListSessions implements Store.
func (s *PostgresStore) ListSessions(ctx context.Context, ownerID string, limit, offset int) ([]types.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.owner_id, s.title, s.turn_count, s.updated_at,
			(SELECT count(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		WHERE s.deleted_at IS NULL AND ($1 = '' OR s.owner_id = $1)
		ORDER BY s.updated_at DESC, s.id
		LIMIT $2 OFFSET $3`, ownerID, limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []types.SessionSummary
	for rows.Next() {
		var sum types.SessionSummary
		if err := rows.Scan(&sum.ID, &sum.OwnerID, &sum.Title, &sum.TurnCount, &sum.UpdatedAt, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SoftDeleteSession implements Store.
func (s *PostgresStore) SoftDeleteSession(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("deleting session %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// AppendMessages implements Store.
func (s *PostgresStore) AppendMessages(ctx context.Context, sessionID string, msgs []types.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize appends per session.
	if _, err := tx.Exec(ctx, `SELECT 1 FROM sessions WHERE id = $1 FOR UPDATE`, sessionID); err != nil {
		return fmt.Errorf("locking session: %w", err)
	}
	var next int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = $1`, sessionID,
	).Scan(&next); err != nil {
		return fmt.Errorf("reading message sequence: %w", err)
	}

	batch := &pgx.Batch{}
	for _, m := range msgs {
		next++
		batch.Queue(`
			INSERT INTO messages (id, session_id, seq, role, content, route, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.ID, sessionID, next, string(m.Role), m.Content, string(m.Route), orNow(m.CreatedAt))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting messages: %w", err)
	}
	return tx.Commit(ctx)
}

// InsertAcceptances implements Store.
func (s *PostgresStore) InsertAcceptances(ctx context.Context, entries []types.AcceptanceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO acceptance_memory (id, query_hash, normalized_query, query_embedding,
				document_id, study_type, quality_score, iteration, accepted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.ID, e.QueryHash, e.NormalizedQuery, toVector(e.QueryEmbedding),
			e.DocumentID, e.StudyType, e.QualityScore, e.Iteration, orNow(e.AcceptedAt))
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting acceptances: %w", err)
	}
	return nil
}

// AcceptancesByHash implements Store.
func (s *PostgresStore) AcceptancesByHash(ctx context.Context, queryHash string, limit int) ([]types.AcceptanceMatch, error) {
	return s.queryMatches(ctx, `
		SELECT quality_score, accepted_at, 1.0::double precision FROM acceptance_memory
		WHERE query_hash = $1 ORDER BY accepted_at DESC LIMIT $2`, queryHash, positiveLimit(limit))
}

// AcceptancesBySimilarity implements Store. A dimension mismatch between
// vec and stored vectors is reported by Postgres and returned as an error.
func (s *PostgresStore) AcceptancesBySimilarity(ctx context.Context, vec []float32, minSimilarity float64, limit int) ([]types.AcceptanceMatch, error) {
	return s.queryMatches(ctx, `
		SELECT quality_score, accepted_at, 1 - (query_embedding <=> $1) AS similarity
		FROM acceptance_memory
		WHERE query_embedding IS NOT NULL AND 1 - (query_embedding <=> $1) >= $2
		ORDER BY query_embedding <=> $1
		LIMIT $3`, pgvector.NewVector(vec), minSimilarity, positiveLimit(limit))
}

func (s *PostgresStore) queryMatches(ctx context.Context, sql string, args ...any) ([]types.AcceptanceMatch, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying acceptances: %w", err)
	}
	defer rows.Close()

	var out []types.AcceptanceMatch
	for rows.Next() {
		var m types.AcceptanceMatch
		if err := rows.Scan(&m.QualityScore, &m.AcceptedAt, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scanning acceptance: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func positiveLimit(limit int) int {
	if limit <= 0 {
		return 1000
	}
	return limit
}
