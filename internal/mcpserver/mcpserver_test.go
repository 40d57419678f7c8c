// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/evidence-engine/internal/crag"
	"github.com/pdiddy/evidence-engine/internal/orchestrator"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// --- fakes ---

type fakeEngine struct {
	asks     []orchestrator.AskRequest
	runs     []string
	budgets  []int
	sessions map[string]*types.SessionContext
	runErr   error
	routeErr error
}

func (f *fakeEngine) Ask(_ context.Context, req orchestrator.AskRequest) (*orchestrator.AskResponse, error) {
	f.asks = append(f.asks, req)
	return &orchestrator.AskResponse{
		SessionID: req.SessionID,
		Decision:  types.RouterDecision{Route: types.RouteContextQA},
		Answer:    "answer to " + req.Query,
	}, nil
}

func (f *fakeEngine) RunCRAG(_ context.Context, question, sessionID string, maxIterations int) (*crag.Result, error) {
	f.runs = append(f.runs, question+"|"+sessionID)
	f.budgets = append(f.budgets, maxIterations)
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &crag.Result{Question: question, Decision: types.DecisionSufficient, Synthesis: "review"}, nil
}

func (f *fakeEngine) RouteFollowup(_ context.Context, query, _ string) (types.RouterDecision, error) {
	if f.routeErr != nil {
		return types.RouterDecision{}, f.routeErr
	}
	return types.RouterDecision{Route: types.RouteAugmented, FollowUpFocus: query}, nil
}

func (f *fakeEngine) GetSession(_ context.Context, id string) (*types.SessionContext, error) {
	return f.sessions[id], nil
}

func (f *fakeEngine) DeleteSession(_ context.Context, id string) (bool, error) {
	if _, ok := f.sessions[id]; !ok {
		return false, nil
	}
	delete(f.sessions, id)
	return true, nil
}

func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// --- definitions ---

func TestDefinitions(t *testing.T) {
	tests := []struct {
		tool     mcp.Tool
		name     string
		required []string
	}{
		{RunCRAGDefinition(), "run_crag", []string{"question"}},
		{RouteFollowupDefinition(), "route_followup", []string{"query"}},
		{AskDefinition(), "ask", []string{"query"}},
		{GetSessionDefinition(), "get_session", []string{"session_id"}},
		{DeleteSessionDefinition(), "delete_session", []string{"session_id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.tool.Name)
			assert.ElementsMatch(t, tt.required, tt.tool.InputSchema.Required)
			for _, r := range tt.required {
				assert.Contains(t, tt.tool.InputSchema.Properties, r)
			}
		})
	}
}

func TestNew(t *testing.T) {
	require.NotNil(t, New(&fakeEngine{}, "test", nil))
}

// --- handlers ---

func TestRunCRAG(t *testing.T) {
	eng := &fakeEngine{}
	tools := NewTools(eng, nil)

	res, err := tools.RunCRAG(context.Background(), makeReq(map[string]any{
		"question":       "statins for primary prevention",
		"session_id":     "s1",
		"max_iterations": float64(2),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))

	var got crag.Result
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &got))
	assert.Equal(t, types.DecisionSufficient, got.Decision)
	assert.Equal(t, "review", got.Synthesis)
	assert.Equal(t, []string{"statins for primary prevention|s1"}, eng.runs)
	assert.Equal(t, []int{2}, eng.budgets)
}

func TestRunCRAG_Errors(t *testing.T) {
	t.Run("missing question", func(t *testing.T) {
		res, err := NewTools(&fakeEngine{}, nil).RunCRAG(context.Background(), makeReq(nil))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, resultText(res), "question")
	})

	t.Run("aborted run", func(t *testing.T) {
		eng := &fakeEngine{runErr: fmt.Errorf("%w: critiquing: bad json", crag.ErrRunAborted)}
		res, err := NewTools(eng, nil).RunCRAG(context.Background(), makeReq(map[string]any{"question": "q"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, crag.AbortedMessage, resultText(res))
		assert.Equal(t, []int{0}, eng.budgets)
	})

	t.Run("other failure", func(t *testing.T) {
		eng := &fakeEngine{runErr: errors.New("disk full")}
		res, err := NewTools(eng, nil).RunCRAG(context.Background(), makeReq(map[string]any{"question": "q"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, resultText(res), "disk full")
	})
}

func TestRouteFollowup(t *testing.T) {
	res, err := NewTools(&fakeEngine{}, nil).RouteFollowup(context.Background(),
		makeReq(map[string]any{"query": "dosing", "session_id": "s1"}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var got types.RouterDecision
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &got))
	assert.Equal(t, types.RouteAugmented, got.Route)
	assert.Equal(t, "dosing", got.FollowUpFocus)

	res, err = NewTools(&fakeEngine{routeErr: errors.New("boom")}, nil).RouteFollowup(context.Background(),
		makeReq(map[string]any{"query": "dosing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestAsk(t *testing.T) {
	eng := &fakeEngine{}
	res, err := NewTools(eng, nil).Ask(context.Background(), makeReq(map[string]any{
		"query":      "what about the first study?",
		"session_id": "s1",
		"owner_id":   "u1",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var got orchestrator.AskResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &got))
	assert.Equal(t, "answer to what about the first study?", got.Answer)
	require.Len(t, eng.asks, 1)
	assert.Equal(t, "u1", eng.asks[0].OwnerID)
	assert.Equal(t, 0, eng.asks[0].MaxIterations)

	res, err = NewTools(eng, nil).Ask(context.Background(), makeReq(map[string]any{"query": ""}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSessionTools(t *testing.T) {
	eng := &fakeEngine{sessions: map[string]*types.SessionContext{
		"s1": {ID: "s1", OriginalQuery: "statins", TurnCount: 1},
	}}
	tools := NewTools(eng, nil)
	ctx := context.Background()

	res, err := tools.GetSession(ctx, makeReq(map[string]any{"session_id": "s1"}))
	require.NoError(t, err)
	require.False(t, res.IsError)
	var got types.SessionContext
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &got))
	assert.Equal(t, "statins", got.OriginalQuery)

	res, err = tools.DeleteSession(ctx, makeReq(map[string]any{"session_id": "s1"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(res), "deleted")

	res, err = tools.GetSession(ctx, makeReq(map[string]any{"session_id": "s1"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "not found")

	res, err = tools.DeleteSession(ctx, makeReq(map[string]any{"session_id": "s1"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = tools.GetSession(ctx, makeReq(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
