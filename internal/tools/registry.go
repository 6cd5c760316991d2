package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joescharf/qmt/internal/provider"
)

// Registry holds every known tool keyed by name. Schemas are compiled
// lazily and cached for argument validation.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	compiled map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		compiled: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(t Tool) error {
	d := t.Descriptor()
	if d.Name == "" {
		return fmt.Errorf("tool with empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[d.Name]; ok {
		return fmt.Errorf("tool %q already registered", d.Name)
	}
	r.tools[d.Name] = t
	return nil
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Effective returns the tools the policy admits, sorted by name. It is
// recomputed before every LLM request so policy changes apply on the
// next turn.
func (r *Registry) Effective(policy Policy) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Tool
	for _, t := range r.tools {
		if policy.Permits(t.Descriptor()) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Descriptor().Name < out[j].Descriptor().Name
	})
	return out
}

// Schemas renders the effective set as provider tool schemas.
func (r *Registry) Schemas(policy Policy) []provider.ToolSchema {
	effective := r.Effective(policy)
	out := make([]provider.ToolSchema, 0, len(effective))
	for _, t := range effective {
		d := t.Descriptor()
		out = append(out, provider.ToolSchema{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return out
}

// ValidateArgs checks args against the named tool's input schema.
func (r *Registry) ValidateArgs(name string, args json.RawMessage) error {
	schema, err := r.schemaFor(name)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	var v any
	raw := args
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("arguments do not match schema: %w", err)
	}
	return nil
}

func (r *Registry) schemaFor(name string) (*jsonschema.Schema, error) {
	r.mu.RLock()
	if s, ok := r.compiled[name]; ok {
		r.mu.RUnlock()
		return s, nil
	}
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}

	d := t.Descriptor()
	if len(d.InputSchema) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	url := "tool://" + name
	if err := compiler.AddResource(url, bytes.NewReader(d.InputSchema)); err != nil {
		return nil, fmt.Errorf("tool %q schema: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %q schema: %w", name, err)
	}

	r.mu.Lock()
	r.compiled[name] = schema
	r.mu.Unlock()
	return schema, nil
}

// Invoke validates args and calls the tool. Unknown tools, invalid
// arguments, and tool failures all come back as error-flagged results;
// the returned error is reserved for context cancellation.
func (r *Registry) Invoke(ctx context.Context, callID, name string, args json.RawMessage) (Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return errResult(callID, name, fmt.Sprintf("unknown tool %q", name)), nil
	}
	if err := r.ValidateArgs(name, args); err != nil {
		return errResult(callID, name, err.Error()), nil
	}
	res, err := t.Call(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return errResult(callID, name, err.Error()), nil
	}
	res.CallID = callID
	res.Name = name
	return res, nil
}
