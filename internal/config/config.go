// Package config loads agent configuration documents and builds a
// runner from them. TOML, JSON, and YAML are accepted; viper detects
// the format from the file extension.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joescharf/qmt/internal/agent"
	"github.com/joescharf/qmt/internal/provider"
	"github.com/joescharf/qmt/internal/snapshot"
	"github.com/joescharf/qmt/internal/tools"
)

// Mode distinguishes a single agent from a planner-plus-delegates
// quorum.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeQuorum Mode = "quorum"
)

// Runner is the uniform handle FromConfig returns: the built agent plus
// the detected mode. Loading a config never creates sessions.
type Runner struct {
	Agent *agent.Agent
	Mode  Mode
}

// Document is the on-disk configuration shape.
type Document struct {
	Provider  string         `mapstructure:"provider"`
	APIKey    string         `mapstructure:"api_key"`
	BaseURL   string         `mapstructure:"base_url"`
	Model     string         `mapstructure:"model"`
	MaxTokens int            `mapstructure:"max_tokens"`
	Params    map[string]any `mapstructure:"params"`

	SystemPrompt string `mapstructure:"system_prompt"`

	DBPath         string `mapstructure:"db_path"`
	SnapshotDir    string `mapstructure:"snapshot_dir"`
	SnapshotPolicy string `mapstructure:"snapshot_policy"`

	PlanMode          bool     `mapstructure:"plan_mode"`
	MutatingTools     []string `mapstructure:"mutating_tools"`
	MaxFanOut         int      `mapstructure:"max_fan_out"`
	AutocompactTokens int      `mapstructure:"autocompact_tokens"`

	ToolPolicy ToolPolicyDoc  `mapstructure:"tool_policy"`
	Limits     LimitsDoc      `mapstructure:"limits"`
	MCPServers []MCPServerDoc `mapstructure:"mcp_servers"`

	Planner   *PlannerDoc            `mapstructure:"planner"`
	Delegates map[string]DelegateDoc `mapstructure:"delegates"`
}

type ToolPolicyDoc struct {
	Mode   string   `mapstructure:"mode"`
	Allow  []string `mapstructure:"allow"`
	Deny   []string `mapstructure:"deny"`
	Grants []string `mapstructure:"grants"`
}

type LimitsDoc struct {
	MaxSteps     int           `mapstructure:"max_steps"`
	MaxToolCalls int           `mapstructure:"max_tool_calls"`
	MaxDuration  time.Duration `mapstructure:"max_duration"`
	MaxTokens    int           `mapstructure:"max_tokens"`
}

type MCPServerDoc struct {
	Name    string   `mapstructure:"name"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Env     []string `mapstructure:"env"`
}

type PlannerDoc struct {
	SystemPrompt string `mapstructure:"system_prompt"`
	Model        string `mapstructure:"model"`
}

type DelegateDoc struct {
	Provider     string `mapstructure:"provider"`
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// FromConfig reads the document at path and builds a runner. Loading is
// idempotent against the store: construction never creates sessions.
func FromConfig(path string) (*Runner, error) {
	return FromConfigWithLogger(path, nil)
}

// FromConfigWithLogger is FromConfig with an explicit logger.
func FromConfigWithLogger(path string, logger *slog.Logger) (*Runner, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return Build(doc, logger)
}

// Load reads and validates the document at path.
func Load(path string) (*Document, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := Validate(&doc); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &doc, nil
}

// Validate checks the document before anything is built.
func Validate(doc *Document) error {
	if doc.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if err := agent.ValidateTemplate(doc.SystemPrompt); err != nil {
		return err
	}
	if doc.Planner != nil {
		if err := agent.ValidateTemplate(doc.Planner.SystemPrompt); err != nil {
			return fmt.Errorf("planner: %w", err)
		}
	}
	for name, d := range doc.Delegates {
		if err := agent.ValidateTemplate(d.SystemPrompt); err != nil {
			return fmt.Errorf("delegate %s: %w", name, err)
		}
	}
	if doc.Limits.MaxSteps < 0 || doc.Limits.MaxToolCalls < 0 ||
		doc.Limits.MaxTokens < 0 || doc.Limits.MaxDuration < 0 {
		return fmt.Errorf("limits must be non-negative")
	}
	if _, err := parsePolicyMode(doc.ToolPolicy.Mode); err != nil {
		return err
	}
	for _, g := range doc.ToolPolicy.Grants {
		if _, err := tools.ParseCapability(g); err != nil {
			return fmt.Errorf("tool_policy: %w", err)
		}
	}
	if _, err := parseSnapshotPolicy(doc.SnapshotPolicy); err != nil {
		return err
	}
	for i, srv := range doc.MCPServers {
		if srv.Name == "" || srv.Command == "" {
			return fmt.Errorf("mcp_servers[%d]: name and command are required", i)
		}
	}
	return nil
}

// Build constructs the agent from a validated document.
func Build(doc *Document, logger *slog.Logger) (*Runner, error) {
	mode := ModeSingle
	if len(doc.Delegates) > 0 {
		mode = ModeQuorum
	}

	prov, err := buildProvider(doc.Provider, doc.APIKey, doc.BaseURL, doc.Model)
	if err != nil {
		return nil, err
	}

	var b *agent.Builder
	if mode == ModeQuorum {
		b = agent.Multi()
		if doc.Planner != nil {
			b.Planner(doc.Planner.SystemPrompt)
		}
		for name, d := range doc.Delegates {
			dprovName := d.Provider
			if dprovName == "" {
				dprovName = doc.Provider
			}
			dprov := prov
			if d.Provider != "" || d.APIKey != "" || d.BaseURL != "" {
				dprov, err = buildProvider(dprovName, firstNonEmpty(d.APIKey, doc.APIKey), firstNonEmpty(d.BaseURL, doc.BaseURL), d.Model)
				if err != nil {
					return nil, fmt.Errorf("delegate %s: %w", name, err)
				}
			}
			b.Delegate(name, agent.DelegateSpec{
				Provider:     dprov,
				Model:        d.Model,
				SystemPrompt: d.SystemPrompt,
			})
		}
	} else {
		b = agent.Single()
	}

	b.Provider(prov).
		Model(doc.Model).
		MaxTokens(doc.MaxTokens).
		Params(doc.Params).
		SystemPrompt(doc.SystemPrompt).
		PlanMode(doc.PlanMode).
		MutatingTools(doc.MutatingTools).
		MaxFanOut(doc.MaxFanOut).
		AutocompactAt(doc.AutocompactTokens)

	if logger != nil {
		b.Logger(logger)
	}
	if doc.DBPath != "" {
		b.DBPath(doc.DBPath)
	}
	if doc.SnapshotDir != "" {
		b.SnapshotDir(doc.SnapshotDir)
	}

	policyMode, _ := parsePolicyMode(doc.ToolPolicy.Mode)
	var grants []tools.Capability
	for _, g := range doc.ToolPolicy.Grants {
		if c, err := tools.ParseCapability(g); err == nil {
			grants = append(grants, c)
		}
	}
	b.ToolPolicy(tools.Policy{
		Mode:   policyMode,
		Allow:  doc.ToolPolicy.Allow,
		Deny:   doc.ToolPolicy.Deny,
		Grants: grants,
	})

	snapPolicy, _ := parseSnapshotPolicy(doc.SnapshotPolicy)
	b.SnapshotPolicy(snapPolicy)

	b.Limits(agent.Limits{
		MaxSteps:     doc.Limits.MaxSteps,
		MaxToolCalls: doc.Limits.MaxToolCalls,
		MaxDuration:  doc.Limits.MaxDuration,
		MaxTokens:    doc.Limits.MaxTokens,
	})

	for _, srv := range doc.MCPServers {
		env := make(map[string]string, len(srv.Env))
		for _, kv := range srv.Env {
			k, v, _ := strings.Cut(kv, "=")
			env[k] = v
		}
		b.MCPServer(tools.MCPServer{
			Name:    srv.Name,
			Command: srv.Command,
			Args:    srv.Args,
			Env:     env,
		})
	}

	ag, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &Runner{Agent: ag, Mode: mode}, nil
}

func buildProvider(name, apiKey, baseURL, model string) (provider.Provider, error) {
	switch name {
	case "anthropic":
		return provider.NewAnthropic(provider.AnthropicConfig{
			APIKey:       apiKey,
			BaseURL:      baseURL,
			DefaultModel: model,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func parsePolicyMode(s string) (tools.PolicyMode, error) {
	switch s {
	case "", "all":
		return tools.All, nil
	case "builtin":
		return tools.BuiltInOnly, nil
	case "builtin_provider":
		return tools.BuiltInAndProvider, nil
	default:
		return 0, fmt.Errorf("unknown tool policy mode %q", s)
	}
}

func parseSnapshotPolicy(s string) (snapshot.Policy, error) {
	switch s {
	case "", "off":
		return snapshot.PolicyOff, nil
	case "metadata":
		return snapshot.PolicyMetadata, nil
	case "full":
		return snapshot.PolicyFull, nil
	default:
		return 0, fmt.Errorf("unknown snapshot policy %q", s)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
