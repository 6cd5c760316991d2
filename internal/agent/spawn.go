package agent

import (
	"context"
	"fmt"

	"github.com/joescharf/qmt/internal/models"
)

// agentSpawner creates child sessions for delegated objectives and
// pre-binds their actors to the delegate's provider and prompt.
type agentSpawner struct {
	ag *Agent
}

func (s *agentSpawner) SpawnChild(ctx context.Context, parentSessionID, objective, agentName string) (string, error) {
	ag := s.ag

	spec, name, err := ag.delegateSpec(agentName)
	if err != nil {
		return "", err
	}

	parent, err := ag.store.GetSession(ctx, parentSessionID)
	if err != nil {
		return "", fmt.Errorf("parent session: %w", err)
	}

	childID, err := ag.newSession(ctx, parent.Cwd, parentSessionID, "")
	if err != nil {
		return "", fmt.Errorf("child session: %w", err)
	}

	delegation := &models.Delegation{
		ParentSessionID: parentSessionID,
		ChildSessionID:  childID,
		Objective:       objective,
		Status:          models.DelegationPending,
	}
	if err := ag.store.CreateDelegation(ctx, delegation); err != nil {
		return "", fmt.Errorf("delegation record: %w", err)
	}

	child, err := ag.store.GetSession(ctx, childID)
	if err != nil {
		return "", err
	}
	model := spec.Model
	if model == "" {
		model = ag.model
	}

	ag.mu.Lock()
	if ag.closed {
		ag.mu.Unlock()
		return "", ErrClosed
	}
	ag.actors[childID] = ag.newActor(ctx, child, spec.Provider, spec.SystemPrompt, model)
	ag.mu.Unlock()

	ag.logger.Info("delegation spawned", "parent_session_id", parentSessionID, "child_session_id", childID, "delegate", name)
	return childID, nil
}

// delegateSpec resolves a delegate by name; an empty name selects the
// first registered delegate.
func (ag *Agent) delegateSpec(name string) (DelegateSpec, string, error) {
	if name == "" {
		if len(ag.delegateOrder) == 0 {
			return DelegateSpec{}, "", fmt.Errorf("no delegates configured")
		}
		name = ag.delegateOrder[0]
	}
	spec, ok := ag.delegates[name]
	if !ok {
		return DelegateSpec{}, "", fmt.Errorf("unknown delegate %q", name)
	}
	return spec, name, nil
}
