// Package provider defines the chat backend contract the scheduler talks
// to, plus the Anthropic adapter and a scripted in-memory provider for
// tests. A provider is stateless; conversation history travels in the
// request.
package provider

import (
	"context"
	"encoding/json"

	"github.com/joescharf/qmt/internal/models"
)

// ToolSchema describes one tool exposed to the model.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ChatRequest carries one model turn: the system prompt, the full message
// history, and the effective tool set.
type ChatRequest struct {
	System    string
	Messages  []models.AgentMessage
	Tools     []ToolSchema
	Model     string
	MaxTokens int
	Params    map[string]any
}

// ChatResponse is the model's reply. Any of Text, Thinking, and ToolCalls
// may be empty; FinishReason is the backend's stop reason verbatim.
type ChatResponse struct {
	Text         string
	Thinking     string
	ToolCalls    []ToolCall
	Usage        models.Usage
	FinishReason string
}

// Provider is the chat backend contract.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Embedder is implemented by providers that can embed text.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// ToolLister is implemented by providers that surface their own tools to
// the registry.
type ToolLister interface {
	ListTools(ctx context.Context) ([]ToolSchema, error)
}
