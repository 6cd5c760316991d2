package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
provider = "anthropic"
model = "claude-sonnet-4-20250514"
max_tokens = 2048
system_prompt = "You work in {{cwd}}."
snapshot_policy = "full"
plan_mode = true
mutating_tools = ["write_file", "deploy"]

[tool_policy]
mode = "builtin"
deny = ["web_fetch"]
grants = ["filesystem", "process"]

[limits]
max_steps = 10
max_duration = "5m"

[[mcp_servers]]
name = "tickets"
command = "ticket-mcp"
args = ["--stdio"]
`)

	doc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", doc.Provider)
	assert.Equal(t, 2048, doc.MaxTokens)
	assert.True(t, doc.PlanMode)
	assert.Equal(t, []string{"write_file", "deploy"}, doc.MutatingTools)
	assert.Equal(t, "builtin", doc.ToolPolicy.Mode)
	assert.Equal(t, []string{"filesystem", "process"}, doc.ToolPolicy.Grants)
	assert.Equal(t, 10, doc.Limits.MaxSteps)
	assert.Equal(t, 5*time.Minute, doc.Limits.MaxDuration)
	require.Len(t, doc.MCPServers, 1)
	assert.Equal(t, "tickets", doc.MCPServers[0].Name)
}

func TestLoad_YAMLWithDelegates(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
provider: anthropic
model: claude-sonnet-4-20250514
planner:
  system_prompt: "Plan the work."
delegates:
  researcher:
    model: claude-haiku-3-5
    system_prompt: "Research thoroughly."
  coder:
    provider: anthropic
    system_prompt: "Write the code."
`)

	doc, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, doc.Planner)
	assert.Equal(t, "Plan the work.", doc.Planner.SystemPrompt)
	require.Len(t, doc.Delegates, 2)
	assert.Equal(t, "claude-haiku-3-5", doc.Delegates["researcher"].Model)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	valid := func() *Document {
		return &Document{Provider: "anthropic"}
	}

	tests := []struct {
		name    string
		mutate  func(*Document)
		wantErr string
	}{
		{"missing provider", func(d *Document) { d.Provider = "" }, "provider is required"},
		{"bad system prompt", func(d *Document) { d.SystemPrompt = "{{nope}}" }, "unknown template variables"},
		{"bad planner prompt", func(d *Document) {
			d.Planner = &PlannerDoc{SystemPrompt: "{{nope}}"}
		}, "planner:"},
		{"bad delegate prompt", func(d *Document) {
			d.Delegates = map[string]DelegateDoc{"r": {SystemPrompt: "{{nope}}"}}
		}, "delegate r:"},
		{"negative limits", func(d *Document) { d.Limits.MaxSteps = -1 }, "non-negative"},
		{"bad policy mode", func(d *Document) { d.ToolPolicy.Mode = "everything" }, "unknown tool policy mode"},
		{"bad capability grant", func(d *Document) { d.ToolPolicy.Grants = []string{"telepathy"} }, "unknown capability"},
		{"bad snapshot policy", func(d *Document) { d.SnapshotPolicy = "sometimes" }, "unknown snapshot policy"},
		{"mcp missing command", func(d *Document) {
			d.MCPServers = []MCPServerDoc{{Name: "tickets"}}
		}, "name and command are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := valid()
			tt.mutate(doc)
			err := Validate(doc)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	assert.NoError(t, Validate(valid()))
}

func TestBuild_UnknownProvider(t *testing.T) {
	_, err := Build(&Document{Provider: "mystery"}, nil)
	assert.ErrorContains(t, err, `unknown provider "mystery"`)
}

func TestBuild_ModeDetection(t *testing.T) {
	dir := t.TempDir()
	doc := &Document{
		Provider:    "anthropic",
		Model:       "claude-sonnet-4-20250514",
		DBPath:      filepath.Join(dir, "agent.db"),
		SnapshotDir: filepath.Join(dir, "snapshots"),
	}

	r, err := Build(doc, nil)
	require.NoError(t, err)
	defer r.Agent.Close()
	assert.Equal(t, ModeSingle, r.Mode)

	doc2 := &Document{
		Provider:    "anthropic",
		Model:       "claude-sonnet-4-20250514",
		DBPath:      filepath.Join(dir, "agent2.db"),
		SnapshotDir: filepath.Join(dir, "snapshots2"),
		Delegates: map[string]DelegateDoc{
			"researcher": {Model: "claude-haiku-3-5"},
		},
	}
	r2, err := Build(doc2, nil)
	require.NoError(t, err)
	defer r2.Agent.Close()
	assert.Equal(t, ModeQuorum, r2.Mode)
}

func TestBuild_IdempotentAgainstStore(t *testing.T) {
	dir := t.TempDir()
	doc := &Document{
		Provider:    "anthropic",
		Model:       "claude-sonnet-4-20250514",
		DBPath:      filepath.Join(dir, "agent.db"),
		SnapshotDir: filepath.Join(dir, "snapshots"),
	}

	r1, err := Build(doc, nil)
	require.NoError(t, err)
	id, err := r1.Agent.NewSession(context.Background(), dir)
	require.NoError(t, err)
	r1.Agent.Close()

	r2, err := Build(doc, nil)
	require.NoError(t, err)
	defer r2.Agent.Close()

	sessions, err := r2.Agent.Store().ListSessions(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, sessions, 1, "building never creates sessions")
	assert.Equal(t, id, sessions[0].PublicID)
}
