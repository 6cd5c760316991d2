package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"rate limit marker", errors.New("rate_limit exceeded"), true},
		{"timeout marker", errors.New("request timeout"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"dns failure", errors.New("dial tcp: lookup api: no such host"), true},
		{"auth failure", errors.New("invalid x-api-key"), false},
		{"validation failure", errors.New("max_tokens must be positive"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transient(tt.err))
		})
	}
}

func TestChatWithRetry_RetriesTransient(t *testing.T) {
	calls := 0
	got, err := chatWithRetry(context.Background(), 5, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection refused")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestChatWithRetry_StopsOnPermanent(t *testing.T) {
	calls := 0
	_, err := chatWithRetry(context.Background(), 5, func() (string, error) {
		calls++
		return "", errors.New("invalid request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestChatWithRetry_HonorsMaxTries(t *testing.T) {
	calls := 0
	_, err := chatWithRetry(context.Background(), 2, func() (string, error) {
		calls++
		return "", errors.New("timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestScripted_ConsumesInOrder(t *testing.T) {
	p := NewScripted(
		ScriptedResponse{Response: ChatResponse{Text: "first"}},
		ScriptedResponse{Err: errors.New("boom")},
		ScriptedResponse{Response: ChatResponse{Text: "third"}},
	)

	resp, err := p.Chat(context.Background(), ChatRequest{Model: "scripted"})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Text)

	_, err = p.Chat(context.Background(), ChatRequest{})
	assert.EqualError(t, err, "boom")

	resp, err = p.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "third", resp.Text)

	_, err = p.Chat(context.Background(), ChatRequest{})
	assert.ErrorContains(t, err, "script exhausted")

	assert.Equal(t, 4, p.Calls())
	assert.Equal(t, "scripted", p.Requests()[0].Model)
}
