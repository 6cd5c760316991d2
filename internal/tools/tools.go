// Package tools implements the tool registry and the built-in tool set.
// Built-ins, provider-surfaced tools, and MCP server tools share one
// interface; a policy gates which of them each LLM request may see.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Capability names a privilege a tool needs to run.
type Capability string

const (
	CapFilesystem Capability = "filesystem"
	CapNetwork    Capability = "network"
	CapProcess    Capability = "process"
	CapMCP        Capability = "mcp"
)

// ParseCapability maps a config string to a capability.
func ParseCapability(s string) (Capability, error) {
	switch Capability(s) {
	case CapFilesystem, CapNetwork, CapProcess, CapMCP:
		return Capability(s), nil
	default:
		return "", fmt.Errorf("unknown capability %q", s)
	}
}

// Variant tags where a tool comes from.
type Variant string

const (
	VariantBuiltIn  Variant = "builtin"
	VariantProvider Variant = "provider"
	VariantMCP      Variant = "mcp"
)

// Descriptor describes a tool to the registry and to the model.
type Descriptor struct {
	Name         string
	Description  string
	InputSchema  json.RawMessage
	Capabilities []Capability
	Variant      Variant
}

// Result is the outcome of one tool call. A tool failure is data, not an
// error: it travels back to the model as an error-flagged result and the
// cycle continues.
type Result struct {
	CallID  string
	Name    string
	IsError bool
	Content string
}

// Tool is the single tool contract for all variants.
type Tool interface {
	Descriptor() Descriptor
	Call(ctx context.Context, args json.RawMessage) (Result, error)
}

// PolicyMode selects which tool variants are visible.
type PolicyMode int

const (
	// All is the zero value: every registered tool is visible.
	All PolicyMode = iota
	BuiltInAndProvider
	BuiltInOnly
)

func (m PolicyMode) String() string {
	switch m {
	case BuiltInAndProvider:
		return "builtin_and_provider"
	case BuiltInOnly:
		return "builtin_only"
	default:
		return "all"
	}
}

// Policy gates the effective tool set. Deny wins over Allow; an empty
// Allow list admits every tool the mode permits. An empty Grants set
// grants every capability; a non-empty set blocks tools requiring a
// capability outside it.
type Policy struct {
	Mode   PolicyMode
	Allow  []string
	Deny   []string
	Grants []Capability
}

// Permits reports whether the policy admits the described tool.
func (p Policy) Permits(d Descriptor) bool {
	switch p.Mode {
	case BuiltInOnly:
		if d.Variant != VariantBuiltIn {
			return false
		}
	case BuiltInAndProvider:
		if d.Variant == VariantMCP {
			return false
		}
	}
	if !p.grantsAll(d.Capabilities) {
		return false
	}
	for _, name := range p.Deny {
		if name == d.Name {
			return false
		}
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, name := range p.Allow {
		if name == d.Name {
			return true
		}
	}
	return false
}

func (p Policy) grantsAll(required []Capability) bool {
	if len(p.Grants) == 0 {
		return true
	}
	for _, need := range required {
		granted := false
		for _, have := range p.Grants {
			if have == need {
				granted = true
				break
			}
		}
		if !granted {
			return false
		}
	}
	return true
}

// errResult builds an error-flagged result for a call.
func errResult(callID, name, msg string) Result {
	return Result{CallID: callID, Name: name, IsError: true, Content: msg}
}

// mustSchema marshals a schema literal, falling back to a permissive
// object schema on marshal failure.
func mustSchema(schema map[string]any) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// jsonContent renders a result payload for the model.
func jsonContent(v any) (string, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(payload), nil
}
