package agent

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joescharf/qmt/internal/middleware"
	"github.com/joescharf/qmt/internal/models"
	"github.com/joescharf/qmt/internal/provider"
	"github.com/joescharf/qmt/internal/tools"
	"github.com/joescharf/qmt/internal/workspace"
)

const readFileMaxBytes = 256 * 1024

type promptMsg struct {
	ctx   context.Context
	parts []models.MessagePart
	reply chan promptOutcome
}

type promptOutcome struct {
	resp *PromptResponse
	err  error
}

// actor owns one session: its registry, its middleware stack, and a
// mailbox serializing prompt cycles. Queries bypass the mailbox.
type actor struct {
	ag   *Agent
	sess *models.Session

	provider     provider.Provider
	systemPrompt string

	registry   *tools.Registry
	resolver   tools.Resolver
	driver     *middleware.Driver
	limits     *middleware.Limits
	compact    *middleware.Autocompact
	delegation *middleware.Delegation

	mailbox chan promptMsg
	quit    chan struct{}
	once    sync.Once

	mu          sync.Mutex
	model       string
	policy      tools.Policy
	busy        bool
	cancelCycle context.CancelFunc
}

func (ag *Agent) newActor(ctx context.Context, sess *models.Session, prov provider.Provider, systemTmpl, model string) *actor {
	a := &actor{
		ag:       ag,
		sess:     sess,
		provider: prov,
		model:    model,
		policy:   ag.toolPolicy,
		resolver: tools.Resolver{Root: sess.Cwd},
		mailbox:  make(chan promptMsg, 1),
		quit:     make(chan struct{}),
	}

	// Builtins already includes the delegate tool; without delegates the
	// delegation middleware simply never parks on it.
	a.registry = tools.NewRegistry()
	for _, t := range tools.Builtins(sess.Cwd) {
		if err := a.registry.Register(t); err != nil {
			ag.logger.Warn("builtin registration failed", "error", err)
		}
	}
	for _, t := range ag.extraTools {
		if err := a.registry.Register(t); err != nil {
			ag.logger.Warn("tool registration failed", "tool", t.Descriptor().Name, "error", err)
		}
	}

	var idx *workspace.Index
	if systemTmpl != "" && strings.Contains(systemTmpl, "git_tree") {
		if built, err := ag.workspaces.GetOrCreate(ctx, sess.Cwd); err == nil {
			idx = built
		}
	}
	a.systemPrompt = resolveTemplate(systemTmpl, sess.Cwd, prov.Name(), model, sess.PublicID, idx)

	a.limits = &middleware.Limits{
		MaxSteps:     ag.limits.MaxSteps,
		MaxToolCalls: ag.limits.MaxToolCalls,
		MaxDuration:  ag.limits.MaxDuration,
		MaxTokens:    ag.limits.MaxTokens,
	}
	mws := []middleware.Middleware{a.limits}
	if ag.highWater > 0 {
		a.compact = &middleware.Autocompact{HighWater: ag.highWater}
		mws = append(mws, a.compact)
	}
	if ag.planMode {
		mws = append(mws, &middleware.PlanMode{IsMutating: ag.dispatcher.IsMutating})
	}
	mws = append(mws, &middleware.DedupeToolCalls{})
	if len(ag.delegates) > 0 {
		a.delegation = &middleware.Delegation{Spawner: &agentSpawner{ag: ag}}
		mws = append(mws, a.delegation)
	}
	mws = append(mws, &middleware.TaskAutoComplete{
		Store:  ag.store,
		Logger: ag.logger,
		ActiveTaskID: func() string {
			s, err := ag.store.GetSession(context.Background(), sess.PublicID)
			if err != nil {
				return ""
			}
			return s.ActiveTaskID
		},
	})
	a.driver = middleware.NewDriver(mws...)

	go a.run()
	return a
}

func (a *actor) run() {
	for {
		select {
		case <-a.quit:
			return
		case msg := <-a.mailbox:
			resp, err := a.ag.runCycle(msg.ctx, a, msg.parts)
			a.mu.Lock()
			a.busy = false
			a.cancelCycle = nil
			a.mu.Unlock()
			msg.reply <- promptOutcome{resp: resp, err: err}
		}
	}
}

// Prompt runs one cycle. A prompt while another is active fails fast.
func (a *actor) Prompt(ctx context.Context, parts []models.MessagePart) (*PromptResponse, error) {
	a.mu.Lock()
	if a.busy {
		a.mu.Unlock()
		return nil, ErrBusy
	}
	a.busy = true
	cycleCtx, cancel := context.WithCancel(ctx)
	a.cancelCycle = cancel
	a.mu.Unlock()
	defer cancel()

	msg := promptMsg{ctx: cycleCtx, parts: parts, reply: make(chan promptOutcome, 1)}
	select {
	case a.mailbox <- msg:
	case <-a.quit:
		a.mu.Lock()
		a.busy = false
		a.cancelCycle = nil
		a.mu.Unlock()
		return nil, ErrClosed
	}

	select {
	case out := <-msg.reply:
		return out.resp, out.err
	case <-a.quit:
		cancel()
		out := <-msg.reply
		return out.resp, out.err
	}
}

// Cancel trips the active cycle's context, if any. The scheduler winds
// down within the grace period and emits Cancelled last.
func (a *actor) Cancel() {
	a.mu.Lock()
	cancel := a.cancelCycle
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *actor) SetModel(model string) {
	a.mu.Lock()
	a.model = model
	a.mu.Unlock()
}

func (a *actor) SetToolPolicy(p tools.Policy) {
	a.mu.Lock()
	a.policy = p
	a.mu.Unlock()
}

func (a *actor) currentModel() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

func (a *actor) currentPolicy() tools.Policy {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.policy
}

// GetFileIndex returns the shared cached index for the session root.
func (a *actor) GetFileIndex(ctx context.Context) (*workspace.Index, error) {
	return a.ag.workspaces.GetOrCreate(ctx, a.sess.Cwd)
}

// ReadFile reads path relative to the session root, optionally sliced
// to a line window.
func (a *actor) ReadFile(_ context.Context, path string, offset, limit int) (string, error) {
	abs, err := a.resolver.Resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	if len(data) > readFileMaxBytes {
		return "", fmt.Errorf("%s exceeds the %d byte read limit", path, readFileMaxBytes)
	}
	if offset <= 0 && limit <= 0 {
		return string(data), nil
	}
	lines := strings.Split(string(data), "\n")
	if offset > 0 {
		if offset >= len(lines) {
			return "", nil
		}
		lines = lines[offset:]
	}
	if limit > 0 && limit < len(lines) {
		lines = lines[:limit]
	}
	return strings.Join(lines, "\n"), nil
}

func (a *actor) Close() {
	a.once.Do(func() { close(a.quit) })
}
