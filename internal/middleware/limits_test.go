package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qmt/internal/models"
)

func TestLimits_ZeroValuesDisabled(t *testing.T) {
	l := &Limits{}
	ctx := &Context{Steps: 1000, ToolCalls: 1000, StartedAt: time.Now().Add(-time.Hour)}

	out, err := l.NextState(BeforeTurn{Ctx: ctx})
	require.NoError(t, err)
	assert.Equal(t, "before_turn", out.Kind())
}

func TestLimits_MaxSteps(t *testing.T) {
	l := &Limits{MaxSteps: 3}

	out, err := l.NextState(BeforeTurn{Ctx: &Context{Steps: 2}})
	require.NoError(t, err)
	assert.Equal(t, "before_turn", out.Kind())

	out, err = l.NextState(BeforeTurn{Ctx: &Context{Steps: 3}})
	require.NoError(t, err)
	done, ok := out.(Done)
	require.True(t, ok)
	assert.Equal(t, DoneLimitReached, done.Reason)
	assert.Equal(t, "max_steps (3) reached", done.Detail)
}

func TestLimits_MaxToolCalls(t *testing.T) {
	l := &Limits{MaxToolCalls: 5}

	out, err := l.NextState(BeforeTurn{Ctx: &Context{ToolCalls: 5}})
	require.NoError(t, err)
	done, ok := out.(Done)
	require.True(t, ok)
	assert.Contains(t, done.Detail, "max_tool_calls")
}

func TestLimits_MaxDuration(t *testing.T) {
	l := &Limits{MaxDuration: time.Minute}

	out, err := l.NextState(BeforeTurn{Ctx: &Context{StartedAt: time.Now().Add(-2 * time.Minute)}})
	require.NoError(t, err)
	done, ok := out.(Done)
	require.True(t, ok)
	assert.Contains(t, done.Detail, "max_duration")
}

func TestLimits_MaxTokens(t *testing.T) {
	l := &Limits{MaxTokens: 100}

	ctx := &Context{Usage: models.Usage{InputTokens: 60, OutputTokens: 40}}
	out, err := l.NextState(BeforeTurn{Ctx: ctx})
	require.NoError(t, err)
	done, ok := out.(Done)
	require.True(t, ok)
	assert.Contains(t, done.Detail, "max_tokens")
}

func TestLimits_IgnoresOtherStates(t *testing.T) {
	l := &Limits{MaxSteps: 1}

	out, err := l.NextState(AfterToolBatch{Ctx: &Context{Steps: 10}})
	require.NoError(t, err)
	assert.Equal(t, "after_tool_batch", out.Kind())
}
