package models

import (
	"encoding/json"
	"time"
)

// EventKind is the closed, wire-stable set of observable phases.
type EventKind string

const (
	EventSessionCreated         EventKind = "session_created"
	EventPromptReceived         EventKind = "prompt_received"
	EventUserMessageStored      EventKind = "user_message_stored"
	EventAssistantMessageStored EventKind = "assistant_message_stored"
	EventLLMRequestStart        EventKind = "llm_request_start"
	EventLLMRequestEnd          EventKind = "llm_request_end"
	EventToolCallStart          EventKind = "tool_call_start"
	EventToolCallEnd            EventKind = "tool_call_end"
	EventSnapshotStart          EventKind = "snapshot_start"
	EventSnapshotEnd            EventKind = "snapshot_end"
	EventCompactionStart        EventKind = "compaction_start"
	EventCompactionEnd          EventKind = "compaction_end"
	EventMiddlewareInjected     EventKind = "middleware_injected"
	EventMiddlewareStopped      EventKind = "middleware_stopped"
	EventCancelled              EventKind = "cancelled"
	EventError                  EventKind = "error"
)

// Durable reports whether events of this kind must be persisted to the
// journal before delivery is acknowledged. Volatile kinds (request/tool
// progress) may be coalesced in memory only.
func (k EventKind) Durable() bool {
	switch k {
	case EventSessionCreated, EventUserMessageStored, EventAssistantMessageStored,
		EventSnapshotStart, EventSnapshotEnd, EventCompactionStart, EventCompactionEnd,
		EventMiddlewareStopped, EventCancelled, EventError:
		return true
	}
	return false
}

// Usage carries provider token accounting for one request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AgentEvent is a tagged record describing one observable phase of agent
// execution. Seq is strictly monotonic per event bus. The JSON encoding is
// flat with a snake_cased "type" discriminator and omits unset payload
// fields.
type AgentEvent struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Kind      EventKind `json:"type"`

	// prompt_received, user_message_stored, assistant_message_stored,
	// middleware_injected
	Content string `json:"content,omitempty"`

	// llm_request_start / llm_request_end
	MessageCount int    `json:"message_count,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	ToolCalls    int    `json:"tool_calls,omitempty"`

	// tool_call_start / tool_call_end
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
	Result     string          `json:"result,omitempty"`

	// snapshot_start / snapshot_end
	Policy  string `json:"policy,omitempty"`
	Summary string `json:"summary,omitempty"`

	// compaction_start / compaction_end
	TokenEstimate int `json:"token_estimate,omitempty"`
	SummaryLen    int `json:"summary_len,omitempty"`

	// middleware_stopped, error
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}
