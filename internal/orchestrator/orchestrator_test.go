// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/internal/cache"
	"github.com/pdiddy/evidence-engine/internal/crag"
	"github.com/pdiddy/evidence-engine/internal/embedding"
	"github.com/pdiddy/evidence-engine/internal/scout"
	"github.com/pdiddy/evidence-engine/internal/session"
	"github.com/pdiddy/evidence-engine/internal/store"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// --- fakes ---

type fakeRouter struct {
	decision types.RouterDecision
	err      error
	seen     []*types.SessionContext
}

func (f *fakeRouter) Route(_ context.Context, _ string, sess *types.SessionContext) (types.RouterDecision, error) {
	f.seen = append(f.seen, sess)
	if f.err != nil {
		return types.RouterDecision{}, f.err
	}
	d := f.decision
	if sess == nil {
		d = types.RouterDecision{Route: types.RouteFullGraph, IsNewSession: true}
	}
	return d, nil
}

type fakeResearcher struct {
	result *crag.Result
	err    error
	opts   []crag.Options
}

func (f *fakeResearcher) Run(_ context.Context, question string, opts crag.Options) (*crag.Result, error) {
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	r.Question = question
	return &r, nil
}

type fakeScout struct {
	docs          []types.Document
	err           error
	question, aug string
}

func (f *fakeScout) Run(_ context.Context, question, augmentation string) (scout.Result, error) {
	f.question, f.aug = question, augmentation
	return scout.Result{Documents: f.docs}, f.err
}

type fakeSynth struct {
	docs []types.ScoredDocument
	err  error
}

func (f *fakeSynth) Synthesize(_ context.Context, _ string, docs []types.ScoredDocument) (string, error) {
	f.docs = docs
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("review of %d documents", len(docs)), nil
}

type fakeAnswerer struct{ calls int }

func (f *fakeAnswerer) Answer(_ context.Context, query string, sess *types.SessionContext) string {
	f.calls++
	return fmt.Sprintf("answer to %q from %d papers", query, len(sess.Documents))
}

type harness struct {
	engine     *Engine
	router     *fakeRouter
	researcher *fakeResearcher
	scout      *fakeScout
	synth      *fakeSynth
	answerer   *fakeAnswerer
}

func graded(id string, q float64) types.ScoredDocument {
	return types.ScoredDocument{Document: types.Document{ID: id, Title: "T" + id, Abstract: "A"}, Graded: true, QualityScore: q}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	kv, err := cache.OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	db, err := store.OpenSQLite(ctx, store.DriverModernc, filepath.Join(t.TempDir(), "e.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		router: &fakeRouter{},
		researcher: &fakeResearcher{result: &crag.Result{
			Decision:  types.DecisionSufficient,
			Documents: []types.ScoredDocument{graded("1", 0.8), graded("2", 0.6)},
			Synthesis: "1. Background ...",
		}},
		scout:    &fakeScout{},
		synth:    &fakeSynth{},
		answerer: &fakeAnswerer{},
	}
	h.engine = New(Deps{
		Sessions:    session.NewService(kv, db, types.SessionConfig{}, nil),
		Router:      h.router,
		Researcher:  h.researcher,
		Scout:       h.scout,
		Synthesizer: h.synth,
		Answerer:    h.answerer,
		Embedder:    embedding.NewHashEmbedder(16),
	}, 3, nil)
	return h
}

// startSession runs a first research turn and returns the session id.
func (h *harness) startSession(t *testing.T) string {
	t.Helper()
	resp, err := h.engine.Ask(context.Background(), AskRequest{Query: "treatments for Type 2 diabetes", OwnerID: "u1"})
	require.NoError(t, err)
	return resp.SessionID
}

// --- Ask ---

func TestAsk_NewSessionRunsFullResearch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.engine.Ask(ctx, AskRequest{Query: "  treatments for Type 2 diabetes ", OwnerID: "u1", MaxIterations: 2})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.True(t, resp.Decision.IsNewSession)
	assert.False(t, resp.Failed)
	assert.Equal(t, "1. Background ...", resp.Answer)
	require.NotNil(t, resp.Research)
	assert.Equal(t, "treatments for Type 2 diabetes", resp.Research.Question)
	assert.Equal(t, []crag.Options{{MaxIterations: 2}}, h.researcher.opts)

	sess, err := h.engine.GetSession(ctx, resp.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "treatments for Type 2 diabetes", sess.OriginalQuery)
	assert.Equal(t, "u1", sess.OwnerID)
	assert.Len(t, sess.QueryEmbedding, 16)
	assert.Equal(t, 1, sess.TurnCount)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, types.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, types.RouteFullGraph, sess.Messages[1].Route)
}

func TestAsk_DefaultBudget(t *testing.T) {
	h := newHarness(t)
	h.startSession(t)
	assert.Equal(t, []crag.Options{{MaxIterations: 3}}, h.researcher.opts)
}

func TestAsk_AbortedResearch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.researcher.err = fmt.Errorf("%w: critiquing: bad grade", crag.ErrRunAborted)

	resp, err := h.engine.Ask(ctx, AskRequest{Query: "metformin mortality", SessionID: "s-abort"})
	require.NoError(t, err)
	assert.True(t, resp.Failed)
	assert.Equal(t, crag.AbortedMessage, resp.Answer)
	assert.Equal(t, "s-abort", resp.SessionID)

	sess, err := h.engine.GetSession(ctx, "s-abort")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Empty(t, sess.OriginalQuery, "failed turns do not rewrite context")
	assert.Zero(t, sess.TurnCount)
	assert.Len(t, sess.Messages, 2)
}

func TestAsk_ResearchErrorIsReturned(t *testing.T) {
	h := newHarness(t)
	h.researcher.err = errors.New("disk full")
	_, err := h.engine.Ask(context.Background(), AskRequest{Query: "q"})
	assert.EqualError(t, err, "disk full")
}

func TestAsk_Augmented(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.startSession(t)

	h.router.decision = types.RouterDecision{Route: types.RouteAugmented, FollowUpFocus: "metformin side effects"}
	h.scout.docs = []types.Document{{ID: "9", Title: "T9", Abstract: "A"}, {ID: "1", Title: "dup", Abstract: "A"}}

	resp, err := h.engine.Ask(ctx, AskRequest{Query: "What about metformin side effects specifically?", SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, "treatments for Type 2 diabetes", h.scout.question)
	assert.Equal(t, "metformin side effects", h.scout.aug)

	require.Len(t, h.synth.docs, 3)
	assert.Equal(t, []string{"1", "2", "9"}, []string{h.synth.docs[0].ID, h.synth.docs[1].ID, h.synth.docs[2].ID})
	assert.Equal(t, "T1", h.synth.docs[0].Title, "cached copy wins")
	assert.False(t, h.synth.docs[2].Graded)
	assert.Equal(t, "review of 3 documents", resp.Answer)
	assert.Len(t, resp.Documents, 3)

	sess, err := h.engine.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "treatments for Type 2 diabetes", sess.OriginalQuery)
	assert.Equal(t, 2, sess.TurnCount)
	assert.Len(t, sess.Documents, 3)
	assert.Equal(t, "review of 3 documents", sess.SynthesisSummary)
}

func TestAsk_AugmentedWithoutFocus(t *testing.T) {
	h := newHarness(t)
	id := h.startSession(t)
	h.router.decision = types.RouterDecision{Route: types.RouteAugmented}

	_, err := h.engine.Ask(context.Background(), AskRequest{Query: "diabetes remission diets", SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, "diabetes remission diets", h.scout.question)
	assert.Empty(t, h.scout.aug)
}

func TestAsk_AugmentedSynthesisFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.startSession(t)
	h.router.decision = types.RouterDecision{Route: types.RouteAugmented, FollowUpFocus: "x"}
	h.synth.err = errors.New("backend down")

	resp, err := h.engine.Ask(ctx, AskRequest{Query: "What about x?", SessionID: id})
	require.NoError(t, err)
	assert.True(t, resp.Failed)

	sess, err := h.engine.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.TurnCount)
	assert.Len(t, sess.Documents, 2)
}

func TestAsk_ContextQA(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.startSession(t)
	h.router.decision = types.RouterDecision{Route: types.RouteContextQA}

	resp, err := h.engine.Ask(ctx, AskRequest{Query: "What sample sizes did these studies use?", SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, `answer to "What sample sizes did these studies use?" from 2 papers`, resp.Answer)
	assert.Equal(t, 1, h.answerer.calls)
	assert.Len(t, h.researcher.opts, 1, "no new research")

	sess, err := h.engine.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.TurnCount)
	assert.Len(t, sess.Messages, 4)
	assert.Equal(t, types.RouteContextQA, sess.Messages[3].Route)
}

func TestAsk_InvalidRequests(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Ask(context.Background(), AskRequest{Query: "   "})
	assert.Error(t, err)

	h.router.err = embedding.ErrDimensionMismatch
	_, err = h.engine.Ask(context.Background(), AskRequest{Query: "q"})
	assert.ErrorIs(t, err, embedding.ErrDimensionMismatch)
}

// --- core operations ---

func TestRunCRAG(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.engine.RunCRAG(ctx, "metformin mortality", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "1. Background ...", res.Synthesis)
	assert.Equal(t, 3, h.researcher.opts[0].MaxIterations)

	h.router.decision = types.RouterDecision{Route: types.RouteContextQA}
	res, err = h.engine.RunCRAG(ctx, "metformin mortality", "s-run", 1)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionSufficient, res.Decision)
	assert.Empty(t, h.router.seen, "run_crag bypasses routing")

	sess, err := h.engine.GetSession(ctx, "s-run")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "metformin mortality", sess.OriginalQuery)

	h.researcher.err = fmt.Errorf("%w: synthesizing: down", crag.ErrRunAborted)
	_, err = h.engine.RunCRAG(ctx, "metformin mortality", "s-run", 1)
	assert.ErrorIs(t, err, crag.ErrRunAborted)
	sess, err = h.engine.GetSession(ctx, "s-run")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 4)

	_, err = h.engine.RunCRAG(ctx, " ", "", 0)
	assert.Error(t, err)
}

func TestRouteFollowup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d, err := h.engine.RouteFollowup(ctx, "anything", "missing")
	require.NoError(t, err)
	assert.True(t, d.IsNewSession)
	assert.Nil(t, h.router.seen[0])

	id := h.startSession(t)
	h.router.decision = types.RouterDecision{Route: types.RouteContextQA, Reasoning: "deictic"}
	d, err = h.engine.RouteFollowup(ctx, "these studies?", id)
	require.NoError(t, err)
	assert.Equal(t, types.RouteContextQA, d.Route)
	last := h.router.seen[len(h.router.seen)-1]
	require.NotNil(t, last)
	assert.Equal(t, id, last.ID)
}

func TestSessionsLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.startSession(t)

	list, err := h.engine.ListSessions(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	found, err := h.engine.DeleteSession(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)

	sess, err := h.engine.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, sess)

	found, err = h.engine.DeleteSession(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)
}
