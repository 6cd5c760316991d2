package middleware

import (
	"github.com/joescharf/qmt/internal/models"
)

// charsPerToken is the rough character-to-token ratio used for window
// estimation.
const charsPerToken = 4

// EstimateTokens approximates the token footprint of a message history.
func EstimateTokens(messages []models.AgentMessage) int {
	chars := 0
	for _, m := range messages {
		for _, p := range m.Parts {
			chars += len(p.Content) + len(p.Name) + len(p.Arguments) + len(p.Result)
		}
	}
	return chars / charsPerToken
}

// Autocompact parks the cycle for summarization once the estimated token
// footprint reaches the high-water mark. The scheduler performs the
// summarization, replaces the history prefix, and calls MarkCompacted
// before resuming so one cycle compacts at most once.
type Autocompact struct {
	HighWater int

	compacted bool
}

func (a *Autocompact) Name() string { return "autocompact" }

func (a *Autocompact) Reset() { a.compacted = false }

// MarkCompacted records that this cycle's history was already compacted.
func (a *Autocompact) MarkCompacted() { a.compacted = true }

func (a *Autocompact) NextState(s State) (State, error) {
	bt, ok := s.(BeforeTurn)
	if !ok {
		return s, nil
	}
	if a.HighWater <= 0 || a.compacted {
		return s, nil
	}
	estimate := EstimateTokens(bt.Ctx.Messages)
	if estimate < a.HighWater {
		return s, nil
	}
	return Wait{Ctx: bt.Ctx, Reason: WaitCompactionPending, TokenEstimate: estimate}, nil
}
