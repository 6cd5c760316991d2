package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// DelegateTool hands an objective to a child session. The call itself is
// intercepted by the delegation middleware; invoking it directly reports
// that no delegation runtime is attached.
type DelegateTool struct{}

func NewDelegateTool() *DelegateTool {
	return &DelegateTool{}
}

func (t *DelegateTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "delegate",
		Description: "Delegate an objective to a child agent session and wait for its outcome.",
		InputSchema: mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"objective": map[string]any{
					"type":        "string",
					"description": "What the child session should accomplish.",
				},
				"agent": map[string]any{
					"type":        "string",
					"description": "Named delegate to use (default: first configured).",
				},
			},
			"required": []string{"objective"},
		}),
		Capabilities: []Capability{},
		Variant:      VariantBuiltIn,
	}
}

func (t *DelegateTool) Call(_ context.Context, args json.RawMessage) (Result, error) {
	var input struct {
		Objective string `json:"objective"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return Result{}, fmt.Errorf("invalid parameters: %w", err)
	}
	return Result{}, fmt.Errorf("delegation is not available in this session")
}
