// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store is the durable layer behind the session cache and the
// acceptance memory. Sessions are soft-deleted; acceptance rows are
// append-only.
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Store is implemented by every durable backend.
type Store interface {
	// UpsertSession writes session metadata and cached documents. Messages
	// are written separately with AppendMessages.
	UpsertSession(ctx context.Context, s *types.SessionContext) error

	// GetSession returns the live session without its messages, or nil
	// when the session does not exist or was deleted.
	GetSession(ctx context.Context, id string) (*types.SessionContext, error)

	// Messages returns a session's messages in arrival order.
	Messages(ctx context.Context, sessionID string) ([]types.Message, error)

	// ListSessions returns live sessions, most recently updated first.
	// An empty ownerID lists every owner.
	ListSessions(ctx context.Context, ownerID string, limit, offset int) ([]types.SessionSummary, error)

	// SoftDeleteSession marks a session deleted and reports whether a live
	// session was found.
	SoftDeleteSession(ctx context.Context, id string) (bool, error)

	// AppendMessages adds messages after any already stored for the session.
	AppendMessages(ctx context.Context, sessionID string, msgs []types.Message) error

	InsertAcceptances(ctx context.Context, entries []types.AcceptanceEntry) error
	AcceptancesByHash(ctx context.Context, queryHash string, limit int) ([]types.AcceptanceMatch, error)
	AcceptancesBySimilarity(ctx context.Context, vec []float32, minSimilarity float64, limit int) ([]types.AcceptanceMatch, error)

	Close() error
}

// Open connects to the backend named by cfg.Driver and ensures its schema.
func Open(ctx context.Context, cfg types.DurableConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "", DriverMattn, DriverModernc:
		return OpenSQLite(ctx, cfg.Driver, cfg.DSN, logger)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
