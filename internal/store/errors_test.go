package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"locked", errors.New("database table is locked (6) (SQLITE_LOCKED)"), true},
		{"wrapped busy", backend("append event", errors.New("database is locked")), true},
		{"constraint", errors.New("UNIQUE constraint failed: events.seq"), false},
		{"not found", notFound("get session", "s1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestRetryTransient_RetriesOnce(t *testing.T) {
	calls := 0
	err := retryTransient(context.Background(), func() error {
		calls++
		if calls == 1 {
			return backend("append message", errors.New("database is locked (5) (SQLITE_BUSY)"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryTransient_SecondFailureSurfaces(t *testing.T) {
	calls := 0
	busy := backend("append message", errors.New("database is locked (5) (SQLITE_BUSY)"))
	err := retryTransient(context.Background(), func() error {
		calls++
		return busy
	})
	assert.Equal(t, 2, calls, "exactly one retry")
	assert.True(t, IsBackend(err))
}

func TestRetryTransient_PermanentFailsImmediately(t *testing.T) {
	calls := 0
	err := retryTransient(context.Background(), func() error {
		calls++
		return backend("append message", errors.New("disk I/O error"))
	})
	assert.Equal(t, 1, calls)
	assert.True(t, IsBackend(err))
}

func TestRetryTransient_CancelledContextSkipsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retryTransient(ctx, func() error {
		calls++
		return backend("append message", errors.New("database is locked"))
	})
	assert.Equal(t, 1, calls)
	assert.True(t, IsBackend(err))
}
