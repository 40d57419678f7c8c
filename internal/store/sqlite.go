// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/pdiddy/evidence-engine/internal/embedding"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// SQLite driver names. DriverMattn needs cgo; DriverModernc is pure Go.
const (
	DriverMattn    = "sqlite3"
	DriverModernc  = "sqlite"
	DriverPostgres = "postgres"
)

// SQLiteStore is the SQLite-backed Store.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens or creates the database file at path and ensures the
// schema exists.
func OpenSQLite(ctx context.Context, driver, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if driver == "" {
		driver = DriverMattn
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, errors.New("store: empty SQLite path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	var dsn string
	switch driver {
	case DriverMattn:
		dsn = path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000"
	case DriverModernc:
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	default:
		return nil, fmt.Errorf("store: %q is not a SQLite driver", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	logger.Debug("durable store opened", zap.String("driver", driver), zap.String("path", path))
	return s, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			original_query TEXT NOT NULL DEFAULT '',
			query_embedding TEXT,
			documents TEXT NOT NULL DEFAULT '[]',
			synthesis_summary TEXT NOT NULL DEFAULT '',
			turn_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			deleted_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			route TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			UNIQUE(session_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS acceptance_memory (
			id TEXT PRIMARY KEY,
			query_hash TEXT NOT NULL,
			normalized_query TEXT NOT NULL,
			query_embedding TEXT,
			document_id TEXT NOT NULL,
			study_type TEXT NOT NULL DEFAULT '',
			quality_score REAL NOT NULL,
			iteration INTEGER NOT NULL,
			accepted_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_acceptance_hash ON acceptance_memory(query_hash, accepted_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// UpsertSession implements Store.
func (s *SQLiteStore) UpsertSession(ctx context.Context, sess *types.SessionContext) error {
	docs, err := json.Marshal(nonNilDocs(sess.Documents))
	if err != nil {
		return fmt.Errorf("encoding documents: %w", err)
	}
	emb, err := encodeVector(sess.QueryEmbedding)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, title, original_query, query_embedding, documents,
			synthesis_summary, turn_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			title = excluded.title,
			original_query = excluded.original_query,
			query_embedding = excluded.query_embedding,
			documents = excluded.documents,
			synthesis_summary = excluded.synthesis_summary,
			turn_count = excluded.turn_count,
			updated_at = excluded.updated_at`,
		sess.ID, sess.OwnerID, sess.Title, sess.OriginalQuery, emb, string(docs),
		sess.SynthesisSummary, sess.TurnCount, formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession implements Store.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*types.SessionContext, error) {
	var (
		sess                 types.SessionContext
		emb                  sql.NullString
		docs                 string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, original_query, query_embedding, documents,
			synthesis_summary, turn_count, created_at, updated_at
		FROM sessions WHERE id = ? AND deleted_at IS NULL`, id,
	).Scan(&sess.ID, &sess.OwnerID, &sess.Title, &sess.OriginalQuery, &emb, &docs,
		&sess.SynthesisSummary, &sess.TurnCount, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(docs), &sess.Documents); err != nil {
		return nil, fmt.Errorf("decoding documents of session %s: %w", id, err)
	}
	if sess.QueryEmbedding, err = decodeVector(emb); err != nil {
		return nil, err
	}
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updatedAt)
	return &sess, nil
}

// Messages implements Store.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, route, created_at
		FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading messages of session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		var m types.Message
		var role, route, created string
		if err := rows.Scan(&m.ID, &role, &m.Content, &route, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = types.Role(role)
		m.Route = types.Route(route)
		m.CreatedAt = parseTime(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListSessions implements Store.
func (s *SQLiteStore) ListSessions(ctx context.Context, ownerID string, limit, offset int) ([]types.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.owner_id, s.title, s.turn_count, s.updated_at,
			(SELECT count(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		WHERE s.deleted_at IS NULL AND (? = '' OR s.owner_id = ?)
		ORDER BY s.updated_at DESC, s.id
		LIMIT ? OFFSET ?`, ownerID, ownerID, limit, max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []types.SessionSummary
	for rows.Next() {
		var sum types.SessionSummary
		var updated string
		if err := rows.Scan(&sum.ID, &sum.OwnerID, &sum.Title, &sum.TurnCount, &updated, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sum.UpdatedAt = parseTime(updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SoftDeleteSession implements Store.
func (s *SQLiteStore) SoftDeleteSession(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(time.Now()), id)
	if err != nil {
		return false, fmt.Errorf("deleting session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AppendMessages implements Store.
func (s *SQLiteStore) AppendMessages(ctx context.Context, sessionID string, msgs []types.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&next); err != nil {
		return fmt.Errorf("reading message sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, session_id, seq, role, content, route, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing message insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		next++
		if _, err := stmt.ExecContext(ctx, m.ID, sessionID, next, string(m.Role), m.Content, string(m.Route), formatTime(m.CreatedAt)); err != nil {
			return fmt.Errorf("inserting message: %w", err)
		}
	}
	return tx.Commit()
}

// InsertAcceptances implements Store.
func (s *SQLiteStore) InsertAcceptances(ctx context.Context, entries []types.AcceptanceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO acceptance_memory (id, query_hash, normalized_query, query_embedding,
			document_id, study_type, quality_score, iteration, accepted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing acceptance insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		emb, err := encodeVector(e.QueryEmbedding)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.QueryHash, e.NormalizedQuery, emb,
			e.DocumentID, e.StudyType, e.QualityScore, e.Iteration, formatTime(e.AcceptedAt)); err != nil {
			return fmt.Errorf("inserting acceptance: %w", err)
		}
	}
	return tx.Commit()
}

// AcceptancesByHash implements Store. Newest rows come first.
func (s *SQLiteStore) AcceptancesByHash(ctx context.Context, queryHash string, limit int) ([]types.AcceptanceMatch, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT quality_score, accepted_at FROM acceptance_memory
		WHERE query_hash = ? ORDER BY accepted_at DESC LIMIT ?`, queryHash, limit)
	if err != nil {
		return nil, fmt.Errorf("querying acceptances: %w", err)
	}
	defer rows.Close()

	var out []types.AcceptanceMatch
	for rows.Next() {
		var m types.AcceptanceMatch
		var accepted string
		if err := rows.Scan(&m.QualityScore, &accepted); err != nil {
			return nil, fmt.Errorf("scanning acceptance: %w", err)
		}
		m.AcceptedAt = parseTime(accepted)
		m.Similarity = 1
		out = append(out, m)
	}
	return out, rows.Err()
}

// AcceptancesBySimilarity implements Store. SQLite has no vector index,
// so similarity is computed over every embedded row. A stored vector of a
// different size than vec fails the lookup.
func (s *SQLiteStore) AcceptancesBySimilarity(ctx context.Context, vec []float32, minSimilarity float64, limit int) ([]types.AcceptanceMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT quality_score, accepted_at, query_embedding FROM acceptance_memory
		WHERE query_embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("querying acceptances: %w", err)
	}
	defer rows.Close()

	var out []types.AcceptanceMatch
	for rows.Next() {
		var m types.AcceptanceMatch
		var accepted string
		var emb sql.NullString
		if err := rows.Scan(&m.QualityScore, &accepted, &emb); err != nil {
			return nil, fmt.Errorf("scanning acceptance: %w", err)
		}
		stored, err := decodeVector(emb)
		if err != nil {
			return nil, err
		}
		sim, err := embedding.CosineSimilarity(vec, stored)
		if err != nil {
			return nil, err
		}
		if sim < minSimilarity {
			continue
		}
		m.AcceptedAt = parseTime(accepted)
		m.Similarity = sim
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func encodeVector(v []float32) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding embedding: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeVector(s sql.NullString) ([]float32, error) {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return nil, fmt.Errorf("decoding embedding: %w", err)
	}
	return v, nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nonNilDocs(docs []types.ScoredDocument) []types.ScoredDocument {
	if docs == nil {
		return []types.ScoredDocument{}
	}
	return docs
}
