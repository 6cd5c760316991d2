// Package middleware implements the execution state machine that policies
// fold over. The scheduler feeds each cycle phase through a Driver; a
// middleware may pass the state on unchanged, rewrite it, or steer the
// cycle into Wait, Done, or Aborted.
package middleware

import (
	"time"

	"github.com/joescharf/qmt/internal/models"
	"github.com/joescharf/qmt/internal/provider"
	"github.com/joescharf/qmt/internal/tools"
)

// Context is the per-cycle view middlewares operate on.
type Context struct {
	SessionID string
	CycleID   string
	Messages  []models.AgentMessage

	Steps     int
	ToolCalls int
	StartedAt time.Time
	Usage     models.Usage

	injections []string
}

// Inject queues a synthetic reminder for the next turn. The scheduler
// drains injections before the LLM request and journals each one.
func (c *Context) Inject(text string) {
	c.injections = append(c.injections, text)
}

// DrainInjections returns and clears queued injections.
func (c *Context) DrainInjections() []string {
	out := c.injections
	c.injections = nil
	return out
}

// State is the closed execution state sum.
type State interface {
	Kind() string
}

// BeforeTurn precedes an LLM request.
type BeforeTurn struct {
	Ctx *Context
}

// AfterLLMResponse carries the parsed provider response.
type AfterLLMResponse struct {
	Ctx      *Context
	Response *provider.ChatResponse
}

// BeforeToolCall carries one pending call. A middleware may set Blocked
// to veto the call or Replay to short-circuit it with a prior result;
// either way the call is never dispatched.
type BeforeToolCall struct {
	Ctx     *Context
	Call    tools.Call
	Blocked *tools.Result
	Replay  *tools.Result
}

// AfterToolBatch carries every result of the cycle's current batch.
type AfterToolBatch struct {
	Ctx     *Context
	Results []tools.Result
}

// WaitReason names why a cycle is parked.
type WaitReason string

const (
	WaitCompactionPending WaitReason = "compaction_pending"
	// WaitUserApprovalNeeded is reserved for embedder middlewares that
	// gate calls on out-of-band approval. The built-in scheduler has no
	// resolver for it and aborts a cycle parked on it.
	WaitUserApprovalNeeded WaitReason = "user_approval_needed"
	WaitRateLimited        WaitReason = "rate_limited"
	WaitDelegationPending  WaitReason = "delegation_pending"
)

// Wait parks the cycle until the scheduler resolves the reason.
type Wait struct {
	Ctx      *Context
	Reason   WaitReason
	Deadline time.Time

	// CallID is set for UserApprovalNeeded and DelegationPending.
	CallID string
	// TokenEstimate is set for CompactionPending.
	TokenEstimate int
}

// Done ends the loop cleanly.
type Done struct {
	Reason string
	Detail string
}

// Aborted ends the loop with an error.
type Aborted struct {
	Cause error
}

func (BeforeTurn) Kind() string       { return "before_turn" }
func (AfterLLMResponse) Kind() string { return "after_llm_response" }
func (BeforeToolCall) Kind() string   { return "before_tool_call" }
func (AfterToolBatch) Kind() string   { return "after_tool_batch" }
func (Wait) Kind() string             { return "wait" }
func (Done) Kind() string             { return "done" }
func (Aborted) Kind() string          { return "aborted" }

// DoneLimitReached is the Done reason emitted by the Limits middleware.
const DoneLimitReached = "LimitReached"

// terminal reports whether the state exits the loop.
func terminal(s State) bool {
	switch s.(type) {
	case Done, Aborted:
		return true
	}
	return false
}
