package middleware

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qmt/internal/tools"
)

func TestDedupe_ReplaysIdenticalCall(t *testing.T) {
	d := &DedupeToolCalls{}
	d.Reset()
	ctx := &Context{}

	first := tools.Call{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.txt"}`)}
	out, err := d.NextState(BeforeToolCall{Ctx: ctx, Call: first})
	require.NoError(t, err)
	btc := out.(BeforeToolCall)
	assert.Nil(t, btc.Replay, "first call dispatches normally")

	_, err = d.NextState(AfterToolBatch{Ctx: ctx, Results: []tools.Result{
		{CallID: "c1", Name: "read_file", Content: "file body"},
	}})
	require.NoError(t, err)

	repeat := tools.Call{ID: "c2", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.txt"}`)}
	out, err = d.NextState(BeforeToolCall{Ctx: ctx, Call: repeat})
	require.NoError(t, err)
	btc = out.(BeforeToolCall)
	require.NotNil(t, btc.Replay)
	assert.Equal(t, "c2", btc.Replay.CallID, "replay adopts the new call id")
	assert.Equal(t, "file body", btc.Replay.Content)
}

func TestDedupe_KeyIgnoresJSONFormatting(t *testing.T) {
	a := tools.Call{Name: "grep", Arguments: json.RawMessage(`{"q":"x","dir":"src"}`)}
	b := tools.Call{Name: "grep", Arguments: json.RawMessage(`{ "dir" : "src", "q" : "x" }`)}
	assert.Equal(t, callKey(a), callKey(b))

	c := tools.Call{Name: "grep", Arguments: json.RawMessage(`{"q":"y","dir":"src"}`)}
	assert.NotEqual(t, callKey(a), callKey(c))

	d := tools.Call{Name: "find", Arguments: json.RawMessage(`{"q":"x","dir":"src"}`)}
	assert.NotEqual(t, callKey(a), callKey(d), "name is part of the key")
}

func TestDedupe_DifferentArgsDispatch(t *testing.T) {
	d := &DedupeToolCalls{}
	d.Reset()
	ctx := &Context{}

	_, err := d.NextState(BeforeToolCall{Ctx: ctx, Call: tools.Call{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.txt"}`)}})
	require.NoError(t, err)
	_, err = d.NextState(AfterToolBatch{Ctx: ctx, Results: []tools.Result{{CallID: "c1", Content: "a"}}})
	require.NoError(t, err)

	out, err := d.NextState(BeforeToolCall{Ctx: ctx, Call: tools.Call{ID: "c2", Name: "read_file", Arguments: json.RawMessage(`{"path":"b.txt"}`)}})
	require.NoError(t, err)
	assert.Nil(t, out.(BeforeToolCall).Replay)
}

func TestDedupe_ResetClearsHistory(t *testing.T) {
	d := &DedupeToolCalls{}
	d.Reset()
	ctx := &Context{}
	call := tools.Call{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.txt"}`)}

	_, err := d.NextState(BeforeToolCall{Ctx: ctx, Call: call})
	require.NoError(t, err)
	_, err = d.NextState(AfterToolBatch{Ctx: ctx, Results: []tools.Result{{CallID: "c1", Content: "a"}}})
	require.NoError(t, err)

	d.Reset()
	call.ID = "c2"
	out, err := d.NextState(BeforeToolCall{Ctx: ctx, Call: call})
	require.NoError(t, err)
	assert.Nil(t, out.(BeforeToolCall).Replay, "a new cycle starts clean")
}

func TestDedupe_LeavesBlockedCallsAlone(t *testing.T) {
	d := &DedupeToolCalls{}
	d.Reset()
	ctx := &Context{}
	call := tools.Call{ID: "c1", Name: "write_file", Arguments: json.RawMessage(`{}`)}

	_, err := d.NextState(BeforeToolCall{Ctx: ctx, Call: call})
	require.NoError(t, err)
	_, err = d.NextState(AfterToolBatch{Ctx: ctx, Results: []tools.Result{{CallID: "c1", Content: "done"}}})
	require.NoError(t, err)

	blocked := &tools.Result{CallID: "c2", IsError: true, Content: "vetoed"}
	call.ID = "c2"
	out, err := d.NextState(BeforeToolCall{Ctx: ctx, Call: call, Blocked: blocked})
	require.NoError(t, err)
	btc := out.(BeforeToolCall)
	assert.Nil(t, btc.Replay, "blocked calls are not replayed")
	assert.Same(t, blocked, btc.Blocked)
}
