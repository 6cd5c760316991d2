package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool is a configurable in-memory tool for registry tests.
type fakeTool struct {
	name    string
	variant Variant
	caps    []Capability
	schema  json.RawMessage
	call    func(ctx context.Context, args json.RawMessage) (Result, error)
}

func (f *fakeTool) Descriptor() Descriptor {
	return Descriptor{
		Name:         f.name,
		Description:  "fake tool",
		InputSchema:  f.schema,
		Capabilities: f.caps,
		Variant:      f.variant,
	}
}

func (f *fakeTool) Call(ctx context.Context, args json.RawMessage) (Result, error) {
	if f.call != nil {
		return f.call(ctx, args)
	}
	return Result{Content: "ok"}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "echo", variant: VariantBuiltIn}))

	_, ok := r.Get("echo")
	assert.True(t, ok)
	_, ok = r.Get("missing")
	assert.False(t, ok)

	err := r.Register(&fakeTool{name: "echo", variant: VariantBuiltIn})
	assert.ErrorContains(t, err, "already registered")

	err = r.Register(&fakeTool{name: "", variant: VariantBuiltIn})
	assert.Error(t, err)
}

func TestPolicy_Permits(t *testing.T) {
	builtin := Descriptor{Name: "read_file", Variant: VariantBuiltIn, Capabilities: []Capability{CapFilesystem}}
	prov := Descriptor{Name: "web_search", Variant: VariantProvider, Capabilities: []Capability{CapNetwork}}
	mcp := Descriptor{Name: "jira_create", Variant: VariantMCP, Capabilities: []Capability{CapMCP, CapNetwork}}

	tests := []struct {
		name   string
		policy Policy
		d      Descriptor
		want   bool
	}{
		{"zero policy admits builtin", Policy{}, builtin, true},
		{"zero policy admits provider", Policy{}, prov, true},
		{"zero policy admits mcp", Policy{}, mcp, true},
		{"builtin_only rejects provider", Policy{Mode: BuiltInOnly}, prov, false},
		{"builtin_only rejects mcp", Policy{Mode: BuiltInOnly}, mcp, false},
		{"builtin_only admits builtin", Policy{Mode: BuiltInOnly}, builtin, true},
		{"builtin_and_provider rejects mcp", Policy{Mode: BuiltInAndProvider}, mcp, false},
		{"builtin_and_provider admits provider", Policy{Mode: BuiltInAndProvider}, prov, true},
		{"deny wins", Policy{Deny: []string{"read_file"}}, builtin, false},
		{"allow list excludes others", Policy{Allow: []string{"web_search"}}, builtin, false},
		{"allow list admits named", Policy{Allow: []string{"web_search"}}, prov, true},
		{"deny beats allow", Policy{Allow: []string{"read_file"}, Deny: []string{"read_file"}}, builtin, false},
		{"empty grants admit all capabilities", Policy{Grants: nil}, mcp, true},
		{"granted capability admits", Policy{Grants: []Capability{CapFilesystem}}, builtin, true},
		{"missing grant blocks", Policy{Grants: []Capability{CapFilesystem}}, prov, false},
		{"all required grants needed", Policy{Grants: []Capability{CapNetwork}}, mcp, false},
		{"full grant set admits", Policy{Grants: []Capability{CapMCP, CapNetwork}}, mcp, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Permits(tt.d))
		})
	}
}

func TestRegistry_EffectiveSortedAndFiltered(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "zeta", variant: VariantBuiltIn}))
	require.NoError(t, r.Register(&fakeTool{name: "alpha", variant: VariantBuiltIn}))
	require.NoError(t, r.Register(&fakeTool{name: "mcp_tool", variant: VariantMCP}))

	effective := r.Effective(Policy{Mode: BuiltInOnly})
	require.Len(t, effective, 2)
	assert.Equal(t, "alpha", effective[0].Descriptor().Name)
	assert.Equal(t, "zeta", effective[1].Descriptor().Name)

	schemas := r.Schemas(Policy{})
	assert.Len(t, schemas, 3)
}

func TestRegistry_EffectiveHonorsCapabilityGrants(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "reader", variant: VariantBuiltIn, caps: []Capability{CapFilesystem}}))
	require.NoError(t, r.Register(&fakeTool{name: "fetcher", variant: VariantBuiltIn, caps: []Capability{CapNetwork}}))
	require.NoError(t, r.Register(&fakeTool{name: "runner", variant: VariantBuiltIn, caps: []Capability{CapProcess, CapFilesystem}}))

	effective := r.Effective(Policy{Grants: []Capability{CapFilesystem, CapProcess}})
	require.Len(t, effective, 2)
	assert.Equal(t, "reader", effective[0].Descriptor().Name)
	assert.Equal(t, "runner", effective[1].Descriptor().Name)
}

func TestParseCapability(t *testing.T) {
	for _, s := range []string{"filesystem", "network", "process", "mcp"} {
		c, err := ParseCapability(s)
		require.NoError(t, err)
		assert.Equal(t, Capability(s), c)
	}
	_, err := ParseCapability("telepathy")
	assert.ErrorContains(t, err, "unknown capability")
}

func TestRegistry_ValidateArgs(t *testing.T) {
	r := NewRegistry()
	schema := json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
	require.NoError(t, r.Register(&fakeTool{name: "read", variant: VariantBuiltIn, schema: schema}))
	require.NoError(t, r.Register(&fakeTool{name: "free", variant: VariantBuiltIn}))

	assert.NoError(t, r.ValidateArgs("read", json.RawMessage(`{"path":"a.txt"}`)))
	assert.ErrorContains(t, r.ValidateArgs("read", json.RawMessage(`{}`)), "do not match schema")
	assert.ErrorContains(t, r.ValidateArgs("read", json.RawMessage(`{"path"`)), "not valid JSON")
	assert.ErrorContains(t, r.ValidateArgs("missing", nil), "unknown tool")

	// No schema means no validation.
	assert.NoError(t, r.ValidateArgs("free", json.RawMessage(`{"anything":true}`)))
}

func TestRegistry_InvokeErrorsAreResults(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{
		name:    "failing",
		variant: VariantBuiltIn,
		call: func(_ context.Context, _ json.RawMessage) (Result, error) {
			return Result{}, fmt.Errorf("disk on fire")
		},
	}))

	res, err := r.Invoke(context.Background(), "c1", "failing", nil)
	require.NoError(t, err, "tool failure is data, not an error")
	assert.True(t, res.IsError)
	assert.Equal(t, "disk on fire", res.Content)
	assert.Equal(t, "c1", res.CallID)

	res, err = r.Invoke(context.Background(), "c2", "nope", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "unknown tool")
}

func TestRegistry_InvokeReturnsContextError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{
		name:    "blocking",
		variant: VariantBuiltIn,
		call: func(ctx context.Context, _ json.RawMessage) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Invoke(ctx, "c1", "blocking", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_InvokeStampsCallID(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeTool{name: "echo", variant: VariantBuiltIn}))

	res, err := r.Invoke(context.Background(), "call-42", "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "call-42", res.CallID)
	assert.Equal(t, "echo", res.Name)
	assert.False(t, res.IsError)
}
