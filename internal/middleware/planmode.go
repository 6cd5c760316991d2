package middleware

import (
	"fmt"

	"github.com/joescharf/qmt/internal/tools"
)

// DefaultPlanReminder is injected at every turn while plan mode is on.
const DefaultPlanReminder = "Plan mode is active: propose changes, do not modify the workspace."

// PlanMode injects a per-turn reminder and blocks mutating tools with a
// synthetic error result.
type PlanMode struct {
	Reminder   string
	IsMutating func(name string) bool
}

func (p *PlanMode) Name() string { return "plan_mode" }

func (p *PlanMode) Reset() {}

func (p *PlanMode) NextState(s State) (State, error) {
	switch st := s.(type) {
	case BeforeTurn:
		reminder := p.Reminder
		if reminder == "" {
			reminder = DefaultPlanReminder
		}
		st.Ctx.Inject(reminder)
		return st, nil
	case BeforeToolCall:
		if st.Blocked != nil || st.Replay != nil {
			return st, nil
		}
		if p.IsMutating != nil && p.IsMutating(st.Call.Name) {
			blocked := tools.Result{
				CallID:  st.Call.ID,
				Name:    st.Call.Name,
				IsError: true,
				Content: fmt.Sprintf("%s is blocked while plan mode is active", st.Call.Name),
			}
			st.Blocked = &blocked
			return st, nil
		}
	}
	return s, nil
}
