// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package mcpserver exposes the engine's operations as MCP tools over stdio.
//
// Each tool has a Definition (the input schema) and a handler. Handlers
// report bad input and failed operations as tool errors so the calling
// agent can see them; only transport problems surface as Go errors.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/pdiddy/evidence-engine/internal/crag"
	"github.com/pdiddy/evidence-engine/internal/orchestrator"
	"github.com/pdiddy/evidence-engine/pkg/types"
)

// Name is the MCP server name advertised to clients.
const Name = "evidence-engine"

// Engine is the subset of the orchestrator the tools call.
type Engine interface {
	Ask(ctx context.Context, req orchestrator.AskRequest) (*orchestrator.AskResponse, error)
	RunCRAG(ctx context.Context, question, sessionID string, maxIterations int) (*crag.Result, error)
	RouteFollowup(ctx context.Context, query, sessionID string) (types.RouterDecision, error)
	GetSession(ctx context.Context, id string) (*types.SessionContext, error)
	DeleteSession(ctx context.Context, id string) (bool, error)
}

// Tools holds the tool handlers.
type Tools struct {
	engine Engine
	logger *zap.Logger
}

// NewTools creates the tool handlers over engine.
func NewTools(engine Engine, logger *zap.Logger) *Tools {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tools{engine: engine, logger: logger}
}

// New creates an MCP server with every tool registered.
func New(engine Engine, version string, logger *zap.Logger) *server.MCPServer {
	t := NewTools(engine, logger)
	s := server.NewMCPServer(
		Name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	t.Register(s)
	return s
}

// Register adds the tools to s.
func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(RunCRAGDefinition(), t.RunCRAG)
	s.AddTool(RouteFollowupDefinition(), t.RouteFollowup)
	s.AddTool(AskDefinition(), t.Ask)
	s.AddTool(GetSessionDefinition(), t.GetSession)
	s.AddTool(DeleteSessionDefinition(), t.DeleteSession)
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

const instructions = "Biomedical literature review over PubMed. Use ask for conversational " +
	"turns; it decides whether a follow-up needs new retrieval. Use run_crag to force a " +
	"full graded review and route_followup to preview routing without side effects."

// --- definitions ---

// RunCRAGDefinition describes the run_crag tool.
func RunCRAGDefinition() mcp.Tool {
	return mcp.NewTool("run_crag",
		mcp.WithDescription("Run a full corrective retrieval review for a question: "+
			"expand queries, retrieve from PubMed, grade evidence, loop until sufficient "+
			"or the iteration budget is spent, then synthesize a cited review."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Clinical or biomedical research question"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session to record the review in; omit for a one-off run"),
		),
		mcp.WithNumber("max_iterations",
			mcp.Description("Maximum retrieval passes (default 3)"),
		),
	)
}

// RouteFollowupDefinition describes the route_followup tool.
func RouteFollowupDefinition() mcp.Tool {
	return mcp.NewTool("route_followup",
		mcp.WithDescription("Classify a query against a session's cached context as "+
			"context_qa, augmented_context or full_graph without running it."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Follow-up query"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session whose context the query is compared with"),
		),
	)
}

// AskDefinition describes the ask tool.
func AskDefinition() mcp.Tool {
	return mcp.NewTool("ask",
		mcp.WithDescription("Answer one conversational turn. New topics run a full review, "+
			"close follow-ups extend or reuse the session's cached evidence."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("User query"),
		),
		mcp.WithString("session_id",
			mcp.Description("Existing or new session identifier"),
		),
		mcp.WithString("owner_id",
			mcp.Description("Owner recorded on newly created sessions"),
		),
		mcp.WithNumber("max_iterations",
			mcp.Description("Maximum retrieval passes for a full review"),
		),
	)
}

// GetSessionDefinition describes the get_session tool.
func GetSessionDefinition() mcp.Tool {
	return mcp.NewTool("get_session",
		mcp.WithDescription("Return a session's context, documents and message history."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session identifier"),
		),
	)
}

// DeleteSessionDefinition describes the delete_session tool.
func DeleteSessionDefinition() mcp.Tool {
	return mcp.NewTool("delete_session",
		mcp.WithDescription("Delete a session. Its history is retained durably but it "+
			"can no longer be resumed."),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session identifier"),
		),
	)
}

// --- handlers ---

// RunCRAG handles run_crag.
func (t *Tools) RunCRAG(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question := req.GetString("question", "")
	if question == "" {
		return mcp.NewToolResultError("'question' is required"), nil
	}
	res, err := t.engine.RunCRAG(ctx, question, req.GetString("session_id", ""), intArg(req, "max_iterations", 0))
	if err != nil {
		if errors.Is(err, crag.ErrRunAborted) {
			t.logger.Warn("run_crag aborted", zap.Error(err))
			return mcp.NewToolResultError(crag.AbortedMessage), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("review failed: %v", err)), nil
	}
	return jsonResult(res)
}

// RouteFollowup handles route_followup.
func (t *Tools) RouteFollowup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	decision, err := t.engine.RouteFollowup(ctx, query, req.GetString("session_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("routing failed: %v", err)), nil
	}
	return jsonResult(decision)
}

// Ask handles ask.
func (t *Tools) Ask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	resp, err := t.engine.Ask(ctx, orchestrator.AskRequest{
		Query:         query,
		SessionID:     req.GetString("session_id", ""),
		OwnerID:       req.GetString("owner_id", ""),
		MaxIterations: intArg(req, "max_iterations", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ask failed: %v", err)), nil
	}
	return jsonResult(resp)
}

// GetSession handles get_session.
func (t *Tools) GetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("session_id", "")
	if id == "" {
		return mcp.NewToolResultError("'session_id' is required"), nil
	}
	sess, err := t.engine.GetSession(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("loading session: %v", err)), nil
	}
	if sess == nil {
		return mcp.NewToolResultError(fmt.Sprintf("session %q not found", id)), nil
	}
	return jsonResult(sess)
}

// DeleteSession handles delete_session.
func (t *Tools) DeleteSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("session_id", "")
	if id == "" {
		return mcp.NewToolResultError("'session_id' is required"), nil
	}
	ok, err := t.engine.DeleteSession(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("deleting session: %v", err)), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("session %q not found", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Session %q deleted", id)), nil
}

// intArg extracts an integer argument; JSON numbers arrive as float64.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
