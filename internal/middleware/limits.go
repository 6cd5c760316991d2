package middleware

import (
	"fmt"
	"time"
)

// Limits terminates a cycle when a configured budget is crossed. Zero
// values disable the corresponding check.
type Limits struct {
	MaxSteps     int
	MaxToolCalls int
	MaxDuration  time.Duration
	MaxTokens    int
}

func (l *Limits) Name() string { return "limits" }

func (l *Limits) Reset() {}

func (l *Limits) NextState(s State) (State, error) {
	bt, ok := s.(BeforeTurn)
	if !ok {
		return s, nil
	}
	ctx := bt.Ctx

	if l.MaxSteps > 0 && ctx.Steps >= l.MaxSteps {
		return Done{Reason: DoneLimitReached, Detail: fmt.Sprintf("max_steps (%d) reached", l.MaxSteps)}, nil
	}
	if l.MaxToolCalls > 0 && ctx.ToolCalls >= l.MaxToolCalls {
		return Done{Reason: DoneLimitReached, Detail: fmt.Sprintf("max_tool_calls (%d) reached", l.MaxToolCalls)}, nil
	}
	if l.MaxDuration > 0 && time.Since(ctx.StartedAt) >= l.MaxDuration {
		return Done{Reason: DoneLimitReached, Detail: fmt.Sprintf("max_duration (%s) reached", l.MaxDuration)}, nil
	}
	if l.MaxTokens > 0 && ctx.Usage.InputTokens+ctx.Usage.OutputTokens >= l.MaxTokens {
		return Done{Reason: DoneLimitReached, Detail: fmt.Sprintf("max_tokens (%d) reached", l.MaxTokens)}, nil
	}
	return s, nil
}
