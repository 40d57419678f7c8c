// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Route is the execution path the router selects for a query.
type Route string

const (
	RouteFullGraph Route = "full_graph"
	RouteAugmented Route = "augmented_context"
	RouteContextQA Route = "context_qa"
)

// Valid reports whether r is a known route.
func (r Route) Valid() bool {
	switch r {
	case RouteFullGraph, RouteAugmented, RouteContextQA:
		return true
	}
	return false
}

// RouterDecision is the router's output for one query.
type RouterDecision struct {
	Route           Route   `json:"route" yaml:"route"`
	Reasoning       string  `json:"reasoning" yaml:"reasoning"`
	SimilarityScore float64 `json:"similarity_score" yaml:"similarity_score"`
	FollowUpFocus   string  `json:"follow_up_focus,omitempty" yaml:"follow_up_focus,omitempty"`
	IsNewSession    bool    `json:"is_new_session" yaml:"is_new_session"`
}

// Role identifies the author of a session message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's conversation history.
type Message struct {
	ID        string    `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Route     Route     `json:"route,omitempty" yaml:"route,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// SessionContext is the per-session state consulted by the router and
// the context-QA path. It is held in the session cache and reconstructed
// from the durable store on a cache miss.
type SessionContext struct {
	ID      string `json:"id" yaml:"id"`
	OwnerID string `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`

	// OriginalQuery anchors follow-up routing. Empty until the first
	// research turn completes.
	OriginalQuery  string    `json:"original_query" yaml:"original_query"`
	QueryEmbedding []float32 `json:"query_embedding,omitempty" yaml:"query_embedding,omitempty"`

	// Documents is ordered by QualityScore descending.
	Documents        []ScoredDocument `json:"documents" yaml:"documents"`
	SynthesisSummary string           `json:"synthesis_summary" yaml:"synthesis_summary"`
	TurnCount        int              `json:"turn_count" yaml:"turn_count"`

	// Messages is filled only when history is requested explicitly; the
	// cached context never carries it.
	Messages []Message `json:"messages,omitempty" yaml:"messages,omitempty"`

	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" yaml:"deleted_at,omitempty"`
}

// HasContext reports whether the session carries a prior research turn.
func (s *SessionContext) HasContext() bool {
	return s != nil && s.OriginalQuery != ""
}

// SessionSummary is a row in a session listing.
type SessionSummary struct {
	ID           string    `json:"id" yaml:"id"`
	OwnerID      string    `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	Title        string    `json:"title" yaml:"title"`
	TurnCount    int       `json:"turn_count" yaml:"turn_count"`
	MessageCount int       `json:"message_count" yaml:"message_count"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
}
