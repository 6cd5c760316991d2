package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qmt/internal/tools"
)

func TestPlanMode_InjectsReminderEveryTurn(t *testing.T) {
	p := &PlanMode{}
	ctx := &Context{}

	for i := 0; i < 2; i++ {
		_, err := p.NextState(BeforeTurn{Ctx: ctx})
		require.NoError(t, err)
	}
	injected := ctx.DrainInjections()
	require.Len(t, injected, 2)
	assert.Equal(t, DefaultPlanReminder, injected[0])
}

func TestPlanMode_CustomReminder(t *testing.T) {
	p := &PlanMode{Reminder: "read-only session"}
	ctx := &Context{}

	_, err := p.NextState(BeforeTurn{Ctx: ctx})
	require.NoError(t, err)
	assert.Equal(t, []string{"read-only session"}, ctx.DrainInjections())
}

func TestPlanMode_BlocksMutatingCalls(t *testing.T) {
	p := &PlanMode{IsMutating: func(name string) bool { return name == "write_file" }}

	out, err := p.NextState(BeforeToolCall{Ctx: &Context{}, Call: tools.Call{ID: "c1", Name: "write_file"}})
	require.NoError(t, err)
	btc := out.(BeforeToolCall)
	require.NotNil(t, btc.Blocked)
	assert.True(t, btc.Blocked.IsError)
	assert.Contains(t, btc.Blocked.Content, "plan mode is active")
	assert.Equal(t, "c1", btc.Blocked.CallID)
}

func TestPlanMode_AllowsReadOnlyCalls(t *testing.T) {
	p := &PlanMode{IsMutating: func(name string) bool { return name == "write_file" }}

	out, err := p.NextState(BeforeToolCall{Ctx: &Context{}, Call: tools.Call{ID: "c1", Name: "read_file"}})
	require.NoError(t, err)
	assert.Nil(t, out.(BeforeToolCall).Blocked)
}

func TestPlanMode_RespectsPriorVerdict(t *testing.T) {
	p := &PlanMode{IsMutating: func(string) bool { return true }}
	replay := &tools.Result{CallID: "c1", Content: "cached"}

	out, err := p.NextState(BeforeToolCall{Ctx: &Context{}, Call: tools.Call{ID: "c1", Name: "write_file"}, Replay: replay})
	require.NoError(t, err)
	btc := out.(BeforeToolCall)
	assert.Nil(t, btc.Blocked, "an already settled call is left alone")
	assert.Same(t, replay, btc.Replay)
}
