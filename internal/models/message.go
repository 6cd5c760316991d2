package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType discriminates the MessagePart union.
type PartType string

const (
	PartText       PartType = "text"
	PartToolUse    PartType = "tool_use"
	PartToolResult PartType = "tool_result"
	PartSnapshot   PartType = "snapshot"
	PartImage      PartType = "image"
)

// MessagePart is one element of a message body. Exactly the fields for the
// given Type are populated; the rest stay zero. A ToolResult part must
// reference an earlier ToolUse within the same session via CallID.
type MessagePart struct {
	Type PartType `json:"type"`

	// PartText
	Content string `json:"content,omitempty"`

	// PartToolUse / PartToolResult
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Result    string          `json:"result,omitempty"`

	// PartSnapshot
	RootHash    string `json:"root_hash,omitempty"`
	DiffSummary string `json:"diff_summary,omitempty"`

	// PartImage
	Mime     string `json:"mime,omitempty"`
	BytesRef string `json:"bytes_ref,omitempty"`
}

// TextPart builds a text part.
func TextPart(content string) MessagePart {
	return MessagePart{Type: PartText, Content: content}
}

// ToolUsePart builds a tool_use part.
func ToolUsePart(callID, name string, args json.RawMessage) MessagePart {
	return MessagePart{Type: PartToolUse, CallID: callID, Name: name, Arguments: args}
}

// ToolResultPart builds a tool_result part.
func ToolResultPart(callID string, isError bool, result string) MessagePart {
	return MessagePart{Type: PartToolResult, CallID: callID, IsError: isError, Result: result}
}

// SnapshotPart builds a snapshot part.
func SnapshotPart(rootHash, diffSummary string) MessagePart {
	return MessagePart{Type: PartSnapshot, RootHash: rootHash, DiffSummary: diffSummary}
}

// AgentMessage is one message within a session. Messages are append-only
// and ordered by (CreatedAt, ID); ULID ids make id order match time order.
type AgentMessage struct {
	ID              string
	SessionID       string
	Role            Role
	Parts           []MessagePart
	CreatedAt       time.Time
	ParentMessageID string
}

// Text concatenates all text parts of the message.
func (m *AgentMessage) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Content
		}
	}
	return out
}

// ToolUses returns all tool_use parts of the message.
func (m *AgentMessage) ToolUses() []MessagePart {
	var uses []MessagePart
	for _, p := range m.Parts {
		if p.Type == PartToolUse {
			uses = append(uses, p)
		}
	}
	return uses
}

// ValidateParts checks structural part invariants (part type known, tool
// parts carry a call id).
func (m *AgentMessage) ValidateParts() error {
	for i, p := range m.Parts {
		switch p.Type {
		case PartText, PartSnapshot, PartImage:
		case PartToolUse, PartToolResult:
			if p.CallID == "" {
				return fmt.Errorf("part %d: %s without call_id", i, p.Type)
			}
		default:
			return fmt.Errorf("part %d: unknown part type %q", i, p.Type)
		}
	}
	return nil
}
