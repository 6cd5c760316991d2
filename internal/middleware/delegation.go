package middleware

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/joescharf/qmt/internal/tools"
)

// Spawner creates a child session for a delegated objective.
type Spawner interface {
	SpawnChild(ctx context.Context, parentSessionID, objective, agentName string) (childSessionID string, err error)
}

// PendingDelegation is the delegation the cycle is parked on.
type PendingDelegation struct {
	Call           tools.Call
	ChildSessionID string
	Objective      string
}

// Delegation intercepts delegate tool calls: it creates the child
// session and parks the cycle until the scheduler has driven the child
// to a terminal state and resolved the call with its outcome.
type Delegation struct {
	Spawner Spawner

	pending *PendingDelegation
}

func (d *Delegation) Name() string { return "delegation" }

func (d *Delegation) Reset() { d.pending = nil }

// Pending returns the delegation the cycle is parked on, if any.
func (d *Delegation) Pending() *PendingDelegation { return d.pending }

// Resolve clears the pending delegation after the scheduler finished it.
func (d *Delegation) Resolve() { d.pending = nil }

func (d *Delegation) NextState(s State) (State, error) {
	btc, ok := s.(BeforeToolCall)
	if !ok {
		return s, nil
	}
	if btc.Call.Name != "delegate" || btc.Blocked != nil || btc.Replay != nil {
		return s, nil
	}
	if d.Spawner == nil {
		blocked := tools.Result{
			CallID:  btc.Call.ID,
			Name:    btc.Call.Name,
			IsError: true,
			Content: "delegation is not configured for this agent",
		}
		btc.Blocked = &blocked
		return btc, nil
	}

	var args struct {
		Objective string `json:"objective"`
		Agent     string `json:"agent"`
	}
	if err := json.Unmarshal(btc.Call.Arguments, &args); err != nil || args.Objective == "" {
		blocked := tools.Result{
			CallID:  btc.Call.ID,
			Name:    btc.Call.Name,
			IsError: true,
			Content: "delegate requires an objective",
		}
		btc.Blocked = &blocked
		return btc, nil
	}

	childID, err := d.Spawner.SpawnChild(context.Background(), btc.Ctx.SessionID, args.Objective, args.Agent)
	if err != nil {
		return nil, fmt.Errorf("spawn child session: %w", err)
	}
	d.pending = &PendingDelegation{
		Call:           btc.Call,
		ChildSessionID: childID,
		Objective:      args.Objective,
	}
	return Wait{Ctx: btc.Ctx, Reason: WaitDelegationPending, CallID: btc.Call.ID}, nil
}
