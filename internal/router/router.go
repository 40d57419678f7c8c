// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package router classifies a follow-up query against the session it
// belongs to: re-run the full research graph, augment the cached evidence
// with a targeted search, or answer from the cached evidence alone.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/embedding"
	"github.com/pdiddy/evidence-engine/internal/llm"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

const (
	defaultContextQAOverlap = 0.5
	defaultAugmentOverlap   = 0.2
	defaultReferenceOverlap = 0.3

	contextPapers       = 5
	contextTitleChars   = 80
	contextSummaryChars = 500
)

// Router decides the execution path for a query.
type Router struct {
	gen      llm.Generator
	embedder embedding.Embedder
	cfg      types.RouterConfig
	logger   *zap.Logger
}

// New creates a Router. gen may be nil, in which case ambiguous queries
// fall back to a full search. embedder may be nil, in which case the
// similarity signal is always 0.
func New(gen llm.Generator, embedder embedding.Embedder, cfg types.RouterConfig, logger *zap.Logger) *Router {
	if cfg.ContextQAOverlap <= 0 {
		cfg.ContextQAOverlap = defaultContextQAOverlap
	}
	if cfg.AugmentOverlap <= 0 {
		cfg.AugmentOverlap = defaultAugmentOverlap
	}
	if cfg.ReferenceOverlap <= 0 {
		cfg.ReferenceOverlap = defaultReferenceOverlap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{gen: gen, embedder: embedder, cfg: cfg, logger: logger}
}

// Signals are the inputs to the routing rules.
type Signals struct {
	Reference  ReferenceKind `json:"reference_type,omitempty"`
	Overlap    float64       `json:"keyword_overlap"`
	Similarity float64       `json:"embedding_similarity"`
	NewTopic   bool          `json:"new_topic"`
}

// Route classifies query. A nil session, or one without a prior research
// query, is a new session and always takes the full graph. The only error
// is a dimension mismatch between the query embedding and the stored one.
func (r *Router) Route(ctx context.Context, query string, sess *types.SessionContext) (types.RouterDecision, error) {
	if sess == nil || sess.OriginalQuery == "" {
		reason := "new session with no previous context"
		if sess != nil {
			reason = "session has no previous query"
		}
		r.logger.Info("router fast path", zap.String("route", string(types.RouteFullGraph)), zap.String("reason", reason))
		return types.RouterDecision{Route: types.RouteFullGraph, Reasoning: reason, IsNewSession: true}, nil
	}

	sim, err := r.similarity(ctx, query, sess.QueryEmbedding)
	if err != nil {
		return types.RouterDecision{}, err
	}
	sig := Signals{
		Reference:  DetectReference(query),
		Overlap:    KeywordOverlap(query, sess.OriginalQuery),
		Similarity: sim,
		NewTopic:   DetectNewTopic(query),
	}
	r.logger.Info("router signals",
		zap.String("reference_type", string(sig.Reference)),
		zap.Float64("keyword_overlap", sig.Overlap),
		zap.Float64("embedding_similarity", sig.Similarity),
		zap.Bool("new_topic", sig.NewTopic),
		zap.String("query", truncate(query, 60)),
		zap.String("original_query", truncate(sess.OriginalQuery, 60)))

	if d, ok := r.Decide(query, sig); ok {
		r.logger.Info("router decision", zap.String("route", string(d.Route)), zap.String("reasoning", d.Reasoning))
		return d, nil
	}
	return r.classify(ctx, query, sess, sig.Similarity), nil
}

// Decide applies the deterministic routing rules. It reports false when
// the signals are ambiguous and a model should classify the query.
func (r *Router) Decide(query string, sig Signals) (types.RouterDecision, bool) {
	d := types.RouterDecision{SimilarityScore: sig.Similarity}
	hasRef := sig.Reference != RefNone
	switch {
	case sig.Reference.Strong():
		d.Route = types.RouteContextQA
		d.Reasoning = fmt.Sprintf("query contains a %s reference to previous results", sig.Reference)
	case hasRef && sig.Overlap >= r.cfg.ReferenceOverlap:
		d.Route = types.RouteContextQA
		d.Reasoning = fmt.Sprintf("keyword overlap %.2f with a reference to previous results", sig.Overlap)
	case sig.NewTopic && sig.Overlap < r.cfg.AugmentOverlap:
		d.Route = types.RouteFullGraph
		d.Reasoning = "query appears to start a new topic"
	case !hasRef && sig.Overlap >= r.cfg.AugmentOverlap && sig.Overlap < r.cfg.ContextQAOverlap:
		d.Route = types.RouteAugmented
		d.FollowUpFocus = ExtractFocus(query)
		d.Reasoning = "related topic with a new focus"
		if d.FollowUpFocus != "" {
			d.Reasoning += ": " + d.FollowUpFocus
		}
	case sig.Overlap >= r.cfg.ContextQAOverlap:
		d.Route = types.RouteContextQA
		d.Reasoning = fmt.Sprintf("keyword overlap %.2f suggests a follow-up on the same evidence", sig.Overlap)
	case !hasRef && sig.Overlap < r.cfg.AugmentOverlap:
		d.Route = types.RouteFullGraph
		d.Reasoning = "low keyword overlap and no reference to previous results"
	default:
		return types.RouterDecision{}, false
	}
	return d, true
}

func (r *Router) similarity(ctx context.Context, query string, stored []float32) (float64, error) {
	if len(stored) == 0 || r.embedder == nil {
		return 0, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("embedding follow-up failed, similarity set to 0", zap.Error(err))
		return 0, nil
	}
	sim, err := embedding.CosineSimilarity(vec, stored)
	if err != nil {
		return 0, fmt.Errorf("comparing with session embedding: %w", err)
	}
	return clamp01(sim), nil
}

const routerSystem = `You are a query router for a medical literature review system.

You are given the user's PREVIOUS query with the papers it retrieved, and the user's CURRENT query. Decide the most efficient execution path.

Routes:
1. full_graph: a complete new literature search. Use for a different medical topic.
   Example: previous "diabetes treatments", current "What causes Alzheimer's?"
2. augmented_context: a targeted search merged with the cached papers. Use for a related topic that needs new, specific evidence.
   Example: previous "diabetes treatments", current "What about metformin side effects specifically?"
3. context_qa: answer from the cached papers only, without searching. Use for questions about the existing results.
   Examples: "What sample sizes did these studies use?", "Compare the methodologies of paper 1 and 2", "Which study had the best results?"

Return ONLY a JSON object:
{"route": "full_graph" | "augmented_context" | "context_qa", "reasoning": "brief explanation", "similarity_score": 0.0 to 1.0, "follow_up_focus": "specific entity to search" or null}`

type llmDecision struct {
	Route           types.Route `json:"route"`
	Reasoning       string      `json:"reasoning"`
	SimilarityScore *float64    `json:"similarity_score"`
	FollowUpFocus   *string     `json:"follow_up_focus"`
}

var errNoClassifier = errors.New("no classifier configured")

// classify asks the generation backend to route an ambiguous query. Any
// failure routes to the full graph.
func (r *Router) classify(ctx context.Context, query string, sess *types.SessionContext, sim float64) types.RouterDecision {
	d, err := r.classifyWithModel(ctx, query, sess, sim)
	if err != nil {
		r.logger.Warn("router classification failed, defaulting to full search", zap.Error(err))
		return types.RouterDecision{
			Route:           types.RouteFullGraph,
			Reasoning:       "classification failed, defaulting to a full search",
			SimilarityScore: sim,
		}
	}
	r.logger.Info("router model decision", zap.String("route", string(d.Route)), zap.String("reasoning", d.Reasoning))
	return d
}

func (r *Router) classifyWithModel(ctx context.Context, query string, sess *types.SessionContext, sim float64) (types.RouterDecision, error) {
	if r.gen == nil || r.cfg.DisableLLMFallback {
		return types.RouterDecision{}, errNoClassifier
	}
	user := fmt.Sprintf("## Previous Context\n%s\n\n## Current Query\n%s\n\nClassify this query and return your routing decision as JSON.",
		previousContext(sess), query)
	raw, err := r.gen.Generate(ctx, routerSystem, user)
	if err != nil {
		return types.RouterDecision{}, err
	}
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") || !strings.HasSuffix(raw, "}") {
		return types.RouterDecision{}, fmt.Errorf("classification is not a JSON object: %q", truncate(raw, 80))
	}
	var out llmDecision
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return types.RouterDecision{}, fmt.Errorf("decoding classification: %w", err)
	}
	if out.Route == "" {
		out.Route = types.RouteFullGraph
	}
	if !out.Route.Valid() {
		return types.RouterDecision{}, fmt.Errorf("unknown route %q", out.Route)
	}
	d := types.RouterDecision{Route: out.Route, Reasoning: out.Reasoning, SimilarityScore: sim}
	if d.Reasoning == "" {
		d.Reasoning = "model classification"
	}
	if out.SimilarityScore != nil {
		d.SimilarityScore = clamp01(*out.SimilarityScore)
	}
	if out.FollowUpFocus != nil {
		d.FollowUpFocus = strings.TrimSpace(*out.FollowUpFocus)
	}
	return d, nil
}

func previousContext(sess *types.SessionContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Previous Query: %q\n", sess.OriginalQuery)
	fmt.Fprintf(&b, "Turn Count: %d\n", sess.TurnCount)
	fmt.Fprintf(&b, "Papers Retrieved: %d\n\nRetrieved Papers:\n", len(sess.Documents))
	for i, d := range sess.Documents {
		if i == contextPapers {
			break
		}
		fmt.Fprintf(&b, "  - %s (PMID: %s)\n", truncate(d.Title, contextTitleChars), d.ID)
	}
	fmt.Fprintf(&b, "\nPrevious Synthesis Summary:\n%s", truncate(sess.SynthesisSummary, contextSummaryChars))
	return b.String()
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
