// Package mcp exposes the agent over the Model Context Protocol so
// other MCP clients can drive sessions through stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/qmt/internal/agent"
	"github.com/joescharf/qmt/internal/models"
)

// Server wraps the agent and surfaces its operations as MCP tools.
type Server struct {
	agent *agent.Agent
}

// NewServer creates the MCP server wrapper around a built agent.
func NewServer(ag *agent.Agent) *Server {
	return &Server{agent: ag}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("qmt", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.promptTool())
	srv.AddTool(s.newSessionTool())
	srv.AddTool(s.listSessionsTool())
	srv.AddTool(s.listMessagesTool())
	srv.AddTool(s.cancelTool())
	srv.AddTool(s.readFileTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// qmt_prompt
func (s *Server) promptTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("qmt_prompt",
		mcp.WithDescription("Run one prompt cycle on a session and return the assistant's reply. Creates a session in cwd when session_id is omitted."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("The user prompt text")),
		mcp.WithString("session_id", mcp.Description("Existing session to prompt")),
		mcp.WithString("cwd", mcp.Description("Working directory for a new session")),
	)
	return tool, s.handlePrompt
}

func (s *Server) handlePrompt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt, err := request.RequireString("prompt")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: prompt"), nil
	}

	sessionID := request.GetString("session_id", "")
	if sessionID == "" {
		sessionID, err = s.agent.NewSession(ctx, request.GetString("cwd", ""))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("create session: %v", err)), nil
		}
	}

	resp, err := s.agent.Prompt(ctx, sessionID, []models.MessagePart{models.TextPart(prompt)})
	if err != nil {
		if errors.Is(err, agent.ErrBusy) {
			return mcp.NewToolResultError(fmt.Sprintf("session %s is busy", sessionID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("prompt failed: %v", err)), nil
	}

	out := map[string]any{
		"session_id":  resp.SessionID,
		"text":        resp.Text,
		"stop_reason": resp.StopReason,
		"usage": map[string]int{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		},
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// qmt_new_session
func (s *Server) newSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("qmt_new_session",
		mcp.WithDescription("Create a new agent session rooted at the given directory and return its id."),
		mcp.WithString("cwd", mcp.Description("Working directory for the session (defaults to the server's cwd)")),
	)
	return tool, s.handleNewSession
}

func (s *Server) handleNewSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := s.agent.NewSession(ctx, request.GetString("cwd", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create session: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"session_id":%q}`, id)), nil
}

// qmt_list_sessions
func (s *Server) listSessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("qmt_list_sessions",
		mcp.WithDescription("List stored sessions, most recent first. Returns a JSON array with id, cwd, and timestamps."),
		mcp.WithNumber("limit", mcp.Description("Maximum sessions to return (default 20)")),
	)
	return tool, s.handleListSessions
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 20)
	sessions, err := s.agent.Store().ListSessions(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list sessions: %v", err)), nil
	}

	type sessionOut struct {
		ID        string    `json:"id"`
		Cwd       string    `json:"cwd"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
		ParentID  string    `json:"parent_id,omitempty"`
	}
	out := make([]sessionOut, len(sessions))
	for i, sess := range sessions {
		out[i] = sessionOut{
			ID:        sess.PublicID,
			Cwd:       sess.Cwd,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
			ParentID:  sess.ParentSessionID,
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// qmt_list_messages
func (s *Server) listMessagesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("qmt_list_messages",
		mcp.WithDescription("Return a session's messages in order as JSON."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to read")),
	)
	return tool, s.handleListMessages
}

func (s *Server) handleListMessages(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	messages, err := s.agent.ListMessages(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list messages: %v", err)), nil
	}

	type messageOut struct {
		ID        string               `json:"id"`
		Role      models.Role          `json:"role"`
		Parts     []models.MessagePart `json:"parts"`
		CreatedAt time.Time            `json:"created_at"`
	}
	out := make([]messageOut, len(messages))
	for i, m := range messages {
		out[i] = messageOut{ID: m.ID, Role: m.Role, Parts: m.Parts, CreatedAt: m.CreatedAt}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal messages: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// qmt_cancel
func (s *Server) cancelTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("qmt_cancel",
		mcp.WithDescription("Cancel the active prompt on a session, if any."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session to cancel")),
	)
	return tool, s.handleCancel
}

func (s *Server) handleCancel(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	s.agent.CancelSession(sessionID)
	return mcp.NewToolResultText(`{"cancelled":true}`), nil
}

// qmt_read_file
func (s *Server) readFileTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("qmt_read_file",
		mcp.WithDescription("Read a file relative to a session's working directory."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session whose workspace to read")),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path relative to the session cwd")),
		mcp.WithNumber("offset", mcp.Description("First line to return")),
		mcp.WithNumber("limit", mcp.Description("Maximum lines to return")),
	)
	return tool, s.handleReadFile
}

func (s *Server) handleReadFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}
	content, err := s.agent.ReadFile(ctx, sessionID, path, request.GetInt("offset", 0), request.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read file: %v", err)), nil
	}
	return mcp.NewToolResultText(content), nil
}
