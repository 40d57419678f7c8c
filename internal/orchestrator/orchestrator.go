// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package orchestrator runs one conversational turn: load the session,
// route the query, execute the chosen path and persist the outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/crag"
	"github.com/pdiddy/evidence-engine/internal/embedding"
	"github.com/pdiddy/evidence-engine/internal/session"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Router classifies a query against its session.
type Router interface {
	Route(ctx context.Context, query string, sess *types.SessionContext) (types.RouterDecision, error)
}

// Researcher runs the full corrective retrieval loop.
type Researcher interface {
	Run(ctx context.Context, question string, opts crag.Options) (*crag.Result, error)
}

// Answerer answers from cached session documents.
type Answerer interface {
	Answer(ctx context.Context, query string, sess *types.SessionContext) string
}

// Deps are the collaborators an Engine drives. Embedder may be nil.
type Deps struct {
	Sessions    *session.Service
	Router      Router
	Researcher  Researcher
	Scout       crag.Scouter
	Synthesizer crag.Synthesizer
	Answerer    Answerer
	Embedder    embedding.Embedder
}

// Engine executes turns.
type Engine struct {
	Deps
	maxIterations int
	logger        *zap.Logger
	closers       []func() error
}

// New creates an Engine. maxIterations is the default pass budget for
// full research turns.
func New(d Deps, maxIterations int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{Deps: d, maxIterations: maxIterations, logger: logger}
}

// AskRequest is one user turn.
type AskRequest struct {
	Query     string `json:"query" yaml:"query"`
	SessionID string `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	OwnerID   string `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`

	// MaxIterations overrides the pass budget of a full research turn.
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
}

// AskResponse is the outcome of a turn.
type AskResponse struct {
	SessionID string               `json:"session_id" yaml:"session_id"`
	Decision  types.RouterDecision `json:"decision" yaml:"decision"`
	Answer    string               `json:"answer" yaml:"answer"`

	// Documents are the session documents after the turn.
	Documents []types.ScoredDocument `json:"documents,omitempty" yaml:"documents,omitempty"`

	// Research is set on full research turns.
	Research *crag.Result `json:"research,omitempty" yaml:"research,omitempty"`

	// Failed marks a research turn that could not produce a review. The
	// session context is left unchanged.
	Failed bool `json:"failed" yaml:"failed"`
}

// Ask executes one turn. Research failures are reported through
// AskResponse.Failed; errors are returned only for invalid requests and
// storage or routing failures.
func (e *Engine) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, errors.New("empty query")
	}

	sess, err := e.Sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	decision, err := e.Router.Route(ctx, query, sess)
	if err != nil {
		return nil, fmt.Errorf("routing query: %w", err)
	}
	if sess == nil {
		if sess, err = e.Sessions.Create(ctx, req.SessionID, req.OwnerID); err != nil {
			return nil, err
		}
		e.logger.Info("session created", zap.String("session_id", sess.ID))
	}

	e.logger.Info("turn routed",
		zap.String("session_id", sess.ID),
		zap.String("route", string(decision.Route)),
		zap.Bool("new_session", decision.IsNewSession))

	resp := &AskResponse{SessionID: sess.ID, Decision: decision}
	switch decision.Route {
	case types.RouteAugmented:
		err = e.augmented(ctx, query, sess, decision, resp)
	case types.RouteContextQA:
		err = e.contextQA(ctx, query, sess, resp)
	default:
		err = e.fullGraph(ctx, query, sess, req.MaxIterations, resp)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (e *Engine) fullGraph(ctx context.Context, query string, sess *types.SessionContext, budget int, resp *AskResponse) error {
	res, updated, err := e.research(ctx, query, sess, budget)
	if errors.Is(err, crag.ErrRunAborted) {
		return e.fail(ctx, query, sess, types.RouteFullGraph, resp)
	}
	if err != nil {
		return err
	}
	resp.Research = res
	resp.Answer = res.Synthesis
	resp.Documents = updated.Documents
	return nil
}

// research runs the loop for query and stores the outcome in sess as a
// full research turn.
func (e *Engine) research(ctx context.Context, query string, sess *types.SessionContext, budget int) (*crag.Result, *types.SessionContext, error) {
	if budget <= 0 {
		budget = e.maxIterations
	}
	res, err := e.Researcher.Run(ctx, query, crag.Options{MaxIterations: budget})
	if err != nil {
		return nil, nil, err
	}
	updated, err := e.Sessions.ApplyResearchTurn(ctx, sess, session.ResearchTurn{
		Route:          types.RouteFullGraph,
		Query:          query,
		QueryEmbedding: e.embed(ctx, query),
		Documents:      res.Documents,
		Synthesis:      res.Synthesis,
		Messages:       turnMessages(query, res.Synthesis, types.RouteFullGraph),
	})
	if err != nil {
		return nil, nil, err
	}
	return res, updated, nil
}

func (e *Engine) augmented(ctx context.Context, query string, sess *types.SessionContext, decision types.RouterDecision, resp *AskResponse) error {
	question, focus := query, ""
	if decision.FollowUpFocus != "" {
		question, focus = sess.OriginalQuery, decision.FollowUpFocus
	}
	found, err := e.Scout.Run(ctx, question, focus)
	if err != nil {
		e.logger.Error("augmented retrieval failed", zap.String("session_id", sess.ID), zap.Error(err))
		return e.fail(ctx, query, sess, types.RouteAugmented, resp)
	}

	fresh := make([]types.ScoredDocument, len(found.Documents))
	for i, d := range found.Documents {
		fresh[i] = types.Unscored(d)
	}
	merged := e.Sessions.MergeDocuments(sess.Documents, fresh)

	review, err := e.Synthesizer.Synthesize(ctx, query, merged)
	if err != nil {
		e.logger.Error("augmented synthesis failed", zap.String("session_id", sess.ID), zap.Error(err))
		return e.fail(ctx, query, sess, types.RouteAugmented, resp)
	}

	updated, err := e.Sessions.ApplyResearchTurn(ctx, sess, session.ResearchTurn{
		Route:     types.RouteAugmented,
		Query:     query,
		Documents: fresh,
		Synthesis: review,
		Messages:  turnMessages(query, review, types.RouteAugmented),
	})
	if err != nil {
		return err
	}
	resp.Answer = review
	resp.Documents = updated.Documents
	return nil
}

func (e *Engine) contextQA(ctx context.Context, query string, sess *types.SessionContext, resp *AskResponse) error {
	answer := e.Answerer.Answer(ctx, query, sess)
	if err := e.Sessions.RecordReadOnlyTurn(ctx, sess.ID, turnMessages(query, answer, types.RouteContextQA)); err != nil {
		return err
	}
	resp.Answer = answer
	resp.Documents = sess.Documents
	return nil
}

// fail records a research turn that produced no review without touching
// the session context.
func (e *Engine) fail(ctx context.Context, query string, sess *types.SessionContext, route types.Route, resp *AskResponse) error {
	resp.Failed = true
	resp.Answer = crag.AbortedMessage
	resp.Documents = sess.Documents
	return e.Sessions.RecordReadOnlyTurn(ctx, sess.ID, turnMessages(query, crag.AbortedMessage, route))
}

func (e *Engine) embed(ctx context.Context, query string) []float32 {
	if e.Embedder == nil {
		return nil
	}
	vec, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		e.logger.Warn("embedding research query failed", zap.Error(err))
		return nil
	}
	return vec
}

func turnMessages(query, answer string, route types.Route) []types.Message {
	return []types.Message{
		session.NewMessage(types.RoleUser, query, ""),
		session.NewMessage(types.RoleAssistant, answer, route),
	}
}

// RunCRAG runs a full research turn for question regardless of routing.
// With a session id the outcome is stored in that session, which is
// created when missing. Aborted runs return an error wrapping
// crag.ErrRunAborted.
func (e *Engine) RunCRAG(ctx context.Context, question, sessionID string, maxIterations int) (*crag.Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("empty question")
	}
	if sessionID == "" {
		if maxIterations <= 0 {
			maxIterations = e.maxIterations
		}
		return e.Researcher.Run(ctx, question, crag.Options{MaxIterations: maxIterations})
	}

	sess, err := e.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		if sess, err = e.Sessions.Create(ctx, sessionID, ""); err != nil {
			return nil, err
		}
	}
	res, _, err := e.research(ctx, question, sess, maxIterations)
	if errors.Is(err, crag.ErrRunAborted) {
		if recErr := e.fail(ctx, question, sess, types.RouteFullGraph, &AskResponse{}); recErr != nil {
			e.logger.Warn("recording aborted run failed", zap.String("session_id", sess.ID), zap.Error(recErr))
		}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RouteFollowup classifies query against a session without executing it.
func (e *Engine) RouteFollowup(ctx context.Context, query, sessionID string) (types.RouterDecision, error) {
	sess, err := e.Sessions.Get(ctx, sessionID)
	if err != nil {
		return types.RouterDecision{}, err
	}
	return e.Router.Route(ctx, strings.TrimSpace(query), sess)
}

// GetSession returns a session with its message history, or nil when it
// does not exist.
func (e *Engine) GetSession(ctx context.Context, id string) (*types.SessionContext, error) {
	return e.Sessions.Load(ctx, id)
}

// DeleteSession soft-deletes a session and reports whether it existed.
func (e *Engine) DeleteSession(ctx context.Context, id string) (bool, error) {
	return e.Sessions.Delete(ctx, id)
}

// ListSessions lists live sessions, most recent first.
func (e *Engine) ListSessions(ctx context.Context, ownerID string, limit, offset int) ([]types.SessionSummary, error) {
	return e.Sessions.List(ctx, ownerID, limit, offset)
}

// Close releases the stores opened by Open.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	return errors.Join(errs...)
}
