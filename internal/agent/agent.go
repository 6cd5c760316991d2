// Package agent wires the execution core together: the public builder
// surface, the per-session actor, and the prompt-cycle scheduler.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"

	"github.com/joescharf/qmt/internal/bus"
	"github.com/joescharf/qmt/internal/models"
	"github.com/joescharf/qmt/internal/provider"
	"github.com/joescharf/qmt/internal/snapshot"
	"github.com/joescharf/qmt/internal/store"
	"github.com/joescharf/qmt/internal/tools"
	"github.com/joescharf/qmt/internal/workspace"
)

// ErrBusy is returned when a session already has an active prompt.
var ErrBusy = errors.New("session busy: a prompt is already active")

// ErrClosed is returned after the agent has been shut down.
var ErrClosed = errors.New("agent is closed")

// DelegateSpec configures one named delegate for multi-agent operation.
type DelegateSpec struct {
	Provider     provider.Provider
	Model        string
	SystemPrompt string
}

// PromptResponse is the outcome of one prompt cycle.
type PromptResponse struct {
	SessionID  string
	Text       string
	StopReason string
	Usage      models.Usage
}

// Limits configures the cycle budgets enforced by the limits middleware.
type Limits struct {
	MaxSteps     int
	MaxToolCalls int
	MaxDuration  time.Duration
	MaxTokens    int
}

// Agent is the public execution surface. One Agent owns the store, the
// event bus, the snapshot backend, and a lazily created actor per
// session.
type Agent struct {
	logger   *slog.Logger
	store    store.Store
	ownStore bool
	bus      *bus.Bus

	provider   provider.Provider
	model      string
	maxTokens  int
	params     map[string]any
	systemTmpl string

	extraTools []tools.Tool
	mcpClients []mcpclient.MCPClient
	dispatcher *tools.Dispatcher
	toolPolicy tools.Policy

	snapshots  snapshot.Backend
	snapPolicy snapshot.Policy
	workspaces *workspace.Manager

	limits    Limits
	planMode  bool
	highWater int

	delegates     map[string]DelegateSpec
	delegateOrder []string
	plannerPrompt string

	mu             sync.Mutex
	llmConfigID    string
	actors         map[string]*actor
	defaultSession string
	closed         bool
}

// Builder assembles an Agent. Use Single or Multi to start one.
type Builder struct {
	multi bool
	err   error

	prov       provider.Provider
	model      string
	maxTokens  int
	params     map[string]any
	systemTmpl string

	logger *slog.Logger
	st     store.Store
	dbPath string

	snapPolicy snapshot.Policy
	snapDir    string

	toolPolicy tools.Policy
	mutating   []string
	maxFanOut  int
	mcpServers []tools.MCPServer
	extraTools []tools.Tool

	limits    Limits
	planMode  bool
	highWater int

	delegates     map[string]DelegateSpec
	delegateOrder []string
	plannerPrompt string
}

// Single starts a builder for an agent with one provider and no
// delegation.
func Single() *Builder {
	return &Builder{delegates: map[string]DelegateSpec{}}
}

// Multi starts a builder for a multi-agent quorum: a planner plus named
// delegates reachable through the delegate tool.
func Multi() *Builder {
	return &Builder{multi: true, delegates: map[string]DelegateSpec{}}
}

func (b *Builder) Provider(p provider.Provider) *Builder { b.prov = p; return b }
func (b *Builder) Model(model string) *Builder           { b.model = model; return b }
func (b *Builder) MaxTokens(n int) *Builder              { b.maxTokens = n; return b }
func (b *Builder) Params(p map[string]any) *Builder      { b.params = p; return b }
func (b *Builder) Logger(l *slog.Logger) *Builder        { b.logger = l; return b }
func (b *Builder) Store(s store.Store) *Builder          { b.st = s; return b }
func (b *Builder) DBPath(path string) *Builder           { b.dbPath = path; return b }
func (b *Builder) SnapshotDir(dir string) *Builder       { b.snapDir = dir; return b }
func (b *Builder) ToolPolicy(p tools.Policy) *Builder    { b.toolPolicy = p; return b }
func (b *Builder) MutatingTools(names []string) *Builder { b.mutating = names; return b }
func (b *Builder) MaxFanOut(n int) *Builder              { b.maxFanOut = n; return b }
func (b *Builder) PlanMode(on bool) *Builder             { b.planMode = on; return b }
func (b *Builder) Limits(l Limits) *Builder              { b.limits = l; return b }
func (b *Builder) AutocompactAt(tokens int) *Builder     { b.highWater = tokens; return b }

// SnapshotPolicy selects Off, Metadata, or Full snapshot bracketing.
func (b *Builder) SnapshotPolicy(p snapshot.Policy) *Builder { b.snapPolicy = p; return b }

// SystemPrompt sets the system prompt template. Validation happens at
// Build; values resolve at session creation.
func (b *Builder) SystemPrompt(tmpl string) *Builder { b.systemTmpl = tmpl; return b }

// MCPServer registers a stdio MCP server whose tools join the registry
// under mcp__<server>__<tool>.
func (b *Builder) MCPServer(s tools.MCPServer) *Builder {
	b.mcpServers = append(b.mcpServers, s)
	return b
}

// Tool registers an additional tool alongside the built-ins.
func (b *Builder) Tool(t tools.Tool) *Builder {
	b.extraTools = append(b.extraTools, t)
	return b
}

// Planner sets the planner system prompt for a multi-agent quorum.
func (b *Builder) Planner(systemPrompt string) *Builder {
	if !b.multi {
		b.err = errors.New("Planner requires a Multi builder")
		return b
	}
	b.plannerPrompt = systemPrompt
	return b
}

// Delegate registers a named delegate for a multi-agent quorum.
func (b *Builder) Delegate(name string, spec DelegateSpec) *Builder {
	if !b.multi {
		b.err = errors.New("Delegate requires a Multi builder")
		return b
	}
	if _, dup := b.delegates[name]; !dup {
		b.delegateOrder = append(b.delegateOrder, name)
	}
	b.delegates[name] = spec
	return b
}

// DefaultDBPath is where the agent database lives unless overridden.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".qmt", "agent.db")
}

// DefaultSnapshotDir is where snapshots live unless overridden.
func DefaultSnapshotDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".qmt", "snapshots")
}

// Build validates the configuration and assembles the agent. Building
// opens the store and connects MCP servers but never creates sessions.
func (b *Builder) Build() (*Agent, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.prov == nil {
		return nil, errors.New("a provider is required")
	}
	if err := ValidateTemplate(b.systemTmpl); err != nil {
		return nil, err
	}
	if b.multi && b.plannerPrompt != "" {
		if err := ValidateTemplate(b.plannerPrompt); err != nil {
			return nil, fmt.Errorf("planner prompt: %w", err)
		}
	}
	for name, spec := range b.delegates {
		if spec.Provider == nil {
			return nil, fmt.Errorf("delegate %s: a provider is required", name)
		}
		if err := ValidateTemplate(spec.SystemPrompt); err != nil {
			return nil, fmt.Errorf("delegate %s: %w", name, err)
		}
	}
	if err := validateLimits(b.limits); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	st := b.st
	ownStore := false
	if st == nil {
		dbPath := b.dbPath
		if dbPath == "" {
			dbPath = DefaultDBPath()
		}
		sqlStore, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			return nil, err
		}
		st = sqlStore
		ownStore = true
	}
	if err := st.Migrate(context.Background()); err != nil {
		if ownStore {
			_ = st.Close()
		}
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	snapDir := b.snapDir
	if snapDir == "" {
		snapDir = DefaultSnapshotDir()
	}
	snapBackend, err := snapshot.NewMerkleStore(snapDir, true)
	if err != nil {
		if ownStore {
			_ = st.Close()
		}
		return nil, fmt.Errorf("snapshot backend: %w", err)
	}

	ag := &Agent{
		logger:     logger,
		store:      st,
		ownStore:   ownStore,
		bus:        bus.New(logger, 0),
		provider:   b.prov,
		model:      b.model,
		maxTokens:  b.maxTokens,
		params:     b.params,
		systemTmpl: b.systemTmpl,
		dispatcher: tools.NewDispatcher(b.mutating, b.maxFanOut),
		toolPolicy: b.toolPolicy,
		snapshots:  snapBackend,
		snapPolicy: b.snapPolicy,
		workspaces: workspace.NewManager(0, 0),
		limits:     b.limits,
		planMode:   b.planMode,
		highWater:  b.highWater,
		delegates:  b.delegates,

		delegateOrder: b.delegateOrder,
		plannerPrompt: b.plannerPrompt,
		actors:        make(map[string]*actor),
	}
	if b.multi && b.plannerPrompt != "" {
		ag.systemTmpl = b.plannerPrompt
	}

	ag.extraTools = append(ag.extraTools, b.extraTools...)
	if err := ag.connectMCP(b.mcpServers); err != nil {
		ag.Close()
		return nil, err
	}
	ag.adoptProviderTools()

	return ag, nil
}

func validateLimits(l Limits) error {
	if l.MaxSteps < 0 || l.MaxToolCalls < 0 || l.MaxTokens < 0 || l.MaxDuration < 0 {
		return errors.New("limits must be non-negative")
	}
	return nil
}

func (ag *Agent) connectMCP(servers []tools.MCPServer) error {
	for _, srv := range servers {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		proxies, client, err := tools.ConnectMCP(ctx, srv)
		cancel()
		if err != nil {
			return err
		}
		ag.mcpClients = append(ag.mcpClients, client)
		ag.extraTools = append(ag.extraTools, proxies...)
		ag.logger.Info("mcp server connected", "server", srv.Name, "tools", len(proxies))
	}
	return nil
}

// adoptProviderTools surfaces the provider's native tools in the
// registry so the policy can gate them. They execute provider-side.
func (ag *Agent) adoptProviderTools() {
	lister, ok := ag.provider.(provider.ToolLister)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	schemas, err := lister.ListTools(ctx)
	if err != nil {
		ag.logger.Warn("provider tool listing failed", "provider", ag.provider.Name(), "error", err)
		return
	}
	for _, schema := range schemas {
		ag.extraTools = append(ag.extraTools, providerTool{schema: schema})
	}
}

// providerTool is a registry entry for a provider-native tool. Calls are
// answered by the provider itself; a direct invocation is an error
// result.
type providerTool struct {
	schema provider.ToolSchema
}

func (t providerTool) Descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        t.schema.Name,
		Description: t.schema.Description,
		InputSchema: t.schema.InputSchema,
		Variant:     tools.VariantProvider,
	}
}

func (t providerTool) Call(_ context.Context, _ json.RawMessage) (tools.Result, error) {
	return tools.Result{}, fmt.Errorf("tool %s executes on the provider side", t.schema.Name)
}

// NewSession creates a session rooted at cwd and returns its public id.
func (ag *Agent) NewSession(ctx context.Context, cwd string) (string, error) {
	return ag.newSession(ctx, cwd, "", "")
}

func (ag *Agent) newSession(ctx context.Context, cwd, parentID, forkPoint string) (string, error) {
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve cwd: %w", err)
		}
		cwd = wd
	}
	configID, err := ag.ensureLLMConfig(ctx)
	if err != nil {
		return "", err
	}

	sess := &models.Session{
		Cwd:             cwd,
		LLMConfigID:     configID,
		ParentSessionID: parentID,
		ForkPoint:       forkPoint,
	}
	if err := ag.store.CreateSession(ctx, sess); err != nil {
		return "", err
	}
	ag.emit(ctx, models.AgentEvent{SessionID: sess.PublicID, Kind: models.EventSessionCreated})
	return sess.PublicID, nil
}

func (ag *Agent) ensureLLMConfig(ctx context.Context) (string, error) {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	if ag.llmConfigID != "" {
		return ag.llmConfigID, nil
	}
	cfg := &models.LLMConfig{
		Provider: ag.provider.Name(),
		Model:    ag.model,
		Params:   ag.params,
	}
	if err := ag.store.CreateLLMConfig(ctx, cfg); err != nil {
		return "", err
	}
	ag.llmConfigID = cfg.ID
	return cfg.ID, nil
}

// Chat is the one-shot surface: it creates (or reuses) a default session
// in the current directory and prompts it with text.
func (ag *Agent) Chat(ctx context.Context, text string) (string, error) {
	ag.mu.Lock()
	sessionID := ag.defaultSession
	ag.mu.Unlock()

	if sessionID == "" {
		id, err := ag.NewSession(ctx, "")
		if err != nil {
			return "", err
		}
		ag.mu.Lock()
		if ag.defaultSession == "" {
			ag.defaultSession = id
		}
		sessionID = ag.defaultSession
		ag.mu.Unlock()
	}

	resp, err := ag.Prompt(ctx, sessionID, []models.MessagePart{models.TextPart(text)})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Prompt runs one cycle on the session. A second prompt while one is
// active fails fast with ErrBusy.
func (ag *Agent) Prompt(ctx context.Context, sessionID string, parts []models.MessagePart) (*PromptResponse, error) {
	a, err := ag.actorFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return a.Prompt(ctx, parts)
}

// CancelSession trips the session's active cycle, if any.
func (ag *Agent) CancelSession(sessionID string) {
	ag.mu.Lock()
	a := ag.actors[sessionID]
	ag.mu.Unlock()
	if a != nil {
		a.Cancel()
	}
}

// SetModel switches the model used for the session's next cycles.
func (ag *Agent) SetModel(ctx context.Context, sessionID, model string) error {
	a, err := ag.actorFor(ctx, sessionID)
	if err != nil {
		return err
	}
	a.SetModel(model)
	return nil
}

// SetToolPolicy replaces the session's tool policy; it takes effect at
// the next LLM request.
func (ag *Agent) SetToolPolicy(ctx context.Context, sessionID string, p tools.Policy) error {
	a, err := ag.actorFor(ctx, sessionID)
	if err != nil {
		return err
	}
	a.SetToolPolicy(p)
	return nil
}

// GetFileIndex returns the cached workspace index for the session's cwd.
func (ag *Agent) GetFileIndex(ctx context.Context, sessionID string) (*workspace.Index, error) {
	a, err := ag.actorFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return a.GetFileIndex(ctx)
}

// ReadFile reads a file relative to the session's cwd.
func (ag *Agent) ReadFile(ctx context.Context, sessionID, path string, offset, limit int) (string, error) {
	a, err := ag.actorFor(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return a.ReadFile(ctx, path, offset, limit)
}

// ListMessages returns the session's messages in order.
func (ag *Agent) ListMessages(ctx context.Context, sessionID string) ([]*models.AgentMessage, error) {
	return ag.store.ListMessages(ctx, sessionID)
}

// SubscribeEvents returns a bounded event receiver plus its cancel.
func (ag *Agent) SubscribeEvents() (<-chan models.AgentEvent, func()) {
	return ag.bus.Subscribe()
}

// Events returns the session's journaled events in seq order.
func (ag *Agent) Events(ctx context.Context, sessionID string, fromSeq, toSeq uint64) ([]*models.AgentEvent, error) {
	return ag.store.LoadSessionStream(ctx, sessionID, fromSeq, toSeq)
}

// Store exposes the underlying store for read-only callers (CLI).
func (ag *Agent) Store() store.Store { return ag.store }

// Close shuts the agent down: the bus stops delivering, MCP clients
// disconnect, and the store closes if the agent opened it.
func (ag *Agent) Close() {
	ag.mu.Lock()
	if ag.closed {
		ag.mu.Unlock()
		return
	}
	ag.closed = true
	actors := ag.actors
	ag.actors = make(map[string]*actor)
	ag.mu.Unlock()

	for _, a := range actors {
		a.Close()
	}
	ag.bus.Shutdown()
	ag.workspaces.Close()
	for _, c := range ag.mcpClients {
		_ = c.Close()
	}
	if ag.ownStore {
		_ = ag.store.Close()
	}
}

// actorFor returns (lazily creating) the actor owning the session.
func (ag *Agent) actorFor(ctx context.Context, sessionID string) (*actor, error) {
	ag.mu.Lock()
	if ag.closed {
		ag.mu.Unlock()
		return nil, ErrClosed
	}
	if a, ok := ag.actors[sessionID]; ok {
		ag.mu.Unlock()
		return a, nil
	}
	ag.mu.Unlock()

	sess, err := ag.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ag.mu.Lock()
	defer ag.mu.Unlock()
	if ag.closed {
		return nil, ErrClosed
	}
	if a, ok := ag.actors[sessionID]; ok {
		return a, nil
	}
	a := ag.newActor(ctx, sess, ag.provider, ag.systemTmpl, ag.model)
	ag.actors[sessionID] = a
	return a, nil
}

// emit publishes the event and, for durable kinds, appends it to the
// journal before returning.
func (ag *Agent) emit(ctx context.Context, ev models.AgentEvent) models.AgentEvent {
	stamped := ag.bus.Publish(ev)
	if stamped.Kind.Durable() {
		if err := ag.store.AppendEvent(ctx, &stamped); err != nil {
			ag.logger.Error("journal append failed", "kind", stamped.Kind, "session_id", stamped.SessionID, "error", err)
		}
	}
	return stamped
}
