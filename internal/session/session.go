// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package session manages per-session context: a TTL cache in front of a
// durable store, with research turns rewriting context and read-only
// turns only extending its lifetime.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/cache"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Durable is the subset of the durable store the service needs.
type Durable interface {
	UpsertSession(ctx context.Context, s *types.SessionContext) error
	GetSession(ctx context.Context, id string) (*types.SessionContext, error)
	ListSessions(ctx context.Context, ownerID string, limit, offset int) ([]types.SessionSummary, error)
	SoftDeleteSession(ctx context.Context, id string) (bool, error)
	AppendMessages(ctx context.Context, sessionID string, msgs []types.Message) error
	Messages(ctx context.Context, sessionID string) ([]types.Message, error)
}

const (
	keyPrefix           = "session:"
	defaultTTL          = 60 * time.Minute
	defaultMaxDocuments = 15
	defaultSummaryChars = 1500
	titleChars          = 80
)

// Service reads and writes session context.
type Service struct {
	cache   cache.Store
	durable Durable
	cfg     types.SessionConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a Service. Zero-valued fields of cfg take defaults.
func NewService(c cache.Store, d Durable, cfg types.SessionConfig, logger *zap.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = defaultMaxDocuments
	}
	if cfg.SummaryChars <= 0 {
		cfg.SummaryChars = defaultSummaryChars
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cache: c, durable: d, cfg: cfg, logger: logger, now: time.Now}
}

// ResearchTurn carries the outcome of a full or augmented research turn.
type ResearchTurn struct {
	Route          types.Route
	Query          string
	QueryEmbedding []float32
	Documents      []types.ScoredDocument
	Synthesis      string
	Messages       []types.Message
}

// Get returns the session context without its message history, reading
// through the cache. A cache hit refreshes the expiry; a miss reconstructs
// from the durable store and repopulates the cache. Unknown or deleted
// sessions yield (nil, nil).
func (s *Service) Get(ctx context.Context, id string) (*types.SessionContext, error) {
	if id == "" {
		return nil, nil
	}
	if sess := s.fromCache(ctx, id); sess != nil {
		return sess, nil
	}

	sess, err := s.durable.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	if sess == nil {
		return nil, nil
	}
	s.populate(ctx, sess)
	s.logger.Debug("session reconstructed from durable store", zap.String("session_id", id))
	return sess, nil
}

// Load returns the session context together with its message history.
func (s *Service) Load(ctx context.Context, id string) (*types.SessionContext, error) {
	sess, err := s.Get(ctx, id)
	if err != nil || sess == nil {
		return sess, err
	}
	if sess.Messages, err = s.durable.Messages(ctx, id); err != nil {
		return nil, fmt.Errorf("loading messages of session %s: %w", id, err)
	}
	return sess, nil
}

// Create starts an empty session. An empty id is replaced with a new UUID.
func (s *Service) Create(ctx context.Context, id, ownerID string) (*types.SessionContext, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now().UTC()
	sess := &types.SessionContext{
		ID:        id,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.durable.UpsertSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	s.populate(ctx, sess)
	return sess, nil
}

// ApplyResearchTurn rewrites the session with a completed research turn.
// A full-graph turn, or the first turn of a session, replaces the anchor
// query and documents; an augmented turn merges new documents into the
// cached ones. The durable store is written before the cache.
func (s *Service) ApplyResearchTurn(ctx context.Context, sess *types.SessionContext, turn ResearchTurn) (*types.SessionContext, error) {
	next := *sess
	if turn.Route != types.RouteAugmented || !sess.HasContext() {
		next.OriginalQuery = turn.Query
		next.QueryEmbedding = turn.QueryEmbedding
		next.Documents = Merge(nil, turn.Documents, s.cfg.MaxDocuments)
	} else {
		next.Documents = Merge(sess.Documents, turn.Documents, s.cfg.MaxDocuments)
	}
	if next.Title == "" {
		next.Title = truncate(strings.Join(strings.Fields(turn.Query), " "), titleChars)
	}
	next.SynthesisSummary = truncate(turn.Synthesis, s.cfg.SummaryChars)
	next.TurnCount++
	next.UpdatedAt = s.now().UTC()
	next.Messages = nil

	if err := s.durable.UpsertSession(ctx, &next); err != nil {
		return nil, fmt.Errorf("saving session %s: %w", next.ID, err)
	}
	if err := s.durable.AppendMessages(ctx, next.ID, turn.Messages); err != nil {
		return nil, fmt.Errorf("saving messages of session %s: %w", next.ID, err)
	}
	s.populate(ctx, &next)
	return &next, nil
}

// RecordReadOnlyTurn appends messages for a turn that did not change the
// session context and refreshes the cache expiry. Cached content is not
// rewritten; message history lives only in the durable store.
func (s *Service) RecordReadOnlyTurn(ctx context.Context, sessionID string, msgs []types.Message) error {
	if err := s.durable.AppendMessages(ctx, sessionID, msgs); err != nil {
		return fmt.Errorf("saving messages of session %s: %w", sessionID, err)
	}
	s.Touch(ctx, sessionID)
	return nil
}

// Touch refreshes the cache expiry of a session and reports whether it
// was cached. Cache failures are logged and reported as not cached.
func (s *Service) Touch(ctx context.Context, id string) bool {
	found, err := s.cache.Touch(ctx, keyPrefix+id, s.cfg.TTL)
	if err != nil {
		s.logger.Warn("refreshing session expiry failed", zap.String("session_id", id), zap.Error(err))
		return false
	}
	return found
}

// Delete soft-deletes the session and evicts it from the cache. It
// reports whether a live session existed.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	found, err := s.durable.SoftDeleteSession(ctx, id)
	if err != nil {
		return false, fmt.Errorf("deleting session %s: %w", id, err)
	}
	if err := s.cache.Delete(ctx, keyPrefix+id); err != nil {
		s.logger.Warn("evicting deleted session failed", zap.String("session_id", id), zap.Error(err))
	}
	return found, nil
}

// List returns live sessions, most recently updated first.
func (s *Service) List(ctx context.Context, ownerID string, limit, offset int) ([]types.SessionSummary, error) {
	return s.durable.ListSessions(ctx, ownerID, limit, offset)
}

func (s *Service) fromCache(ctx context.Context, id string) *types.SessionContext {
	raw, ok, err := s.cache.Get(ctx, keyPrefix+id)
	if err != nil {
		s.logger.Warn("session cache read failed", zap.String("session_id", id), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var sess types.SessionContext
	if err := json.Unmarshal(raw, &sess); err != nil {
		s.logger.Warn("discarding unreadable cached session", zap.String("session_id", id), zap.Error(err))
		if err := s.cache.Delete(ctx, keyPrefix+id); err != nil {
			s.logger.Warn("evicting unreadable cached session failed", zap.String("session_id", id), zap.Error(err))
		}
		return nil
	}
	s.Touch(ctx, id)
	return &sess
}

func (s *Service) populate(ctx context.Context, sess *types.SessionContext) {
	entry := *sess
	entry.Messages = nil
	raw, err := json.Marshal(&entry)
	if err != nil {
		s.logger.Warn("encoding session for cache failed", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, keyPrefix+sess.ID, raw, s.cfg.TTL); err != nil {
		s.logger.Warn("session cache write failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

// MergeDocuments merges with the configured document cap.
func (s *Service) MergeDocuments(cached, fresh []types.ScoredDocument) []types.ScoredDocument {
	return Merge(cached, fresh, s.cfg.MaxDocuments)
}

// Merge combines cached and fresh documents. Identifiers are unique, with
// the first occurrence winning and cached documents taking precedence.
// Ungraded documents carry the neutral quality. The result is ordered by
// quality descending (stable) and capped at limit.
func Merge(cached, fresh []types.ScoredDocument, limit int) []types.ScoredDocument {
	seen := make(map[string]bool, len(cached)+len(fresh))
	out := make([]types.ScoredDocument, 0, len(cached)+len(fresh))
	for _, list := range [][]types.ScoredDocument{cached, fresh} {
		for _, d := range list {
			if d.ID == "" || seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			if !d.Graded {
				d.QualityScore = types.UngradedQuality
			}
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QualityScore > out[j].QualityScore })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// NewMessage builds a message stamped with a new identifier and the
// current time.
func NewMessage(role types.Role, content string, route types.Route) types.Message {
	return types.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Route:     route,
		CreatedAt: time.Now().UTC(),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
