package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qmt/internal/models"
)

type fakePlannerStore struct {
	task    *models.Task
	taskErr error

	closed  int64
	entries []*models.ProgressEntry
}

func (f *fakePlannerStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	if f.taskErr != nil {
		return nil, f.taskErr
	}
	return f.task, nil
}

func (f *fakePlannerStore) CloseTaskArtifacts(_ context.Context, taskID string) (int64, error) {
	return f.closed, nil
}

func (f *fakePlannerStore) CreateProgressEntry(_ context.Context, p *models.ProgressEntry) error {
	f.entries = append(f.entries, p)
	return nil
}

func TestTaskAutoComplete_RecordsCompletion(t *testing.T) {
	store := &fakePlannerStore{
		task:   &models.Task{ID: "task-1", Title: "ship it", Status: models.TaskDone},
		closed: 3,
	}
	mw := &TaskAutoComplete{Store: store, ActiveTaskID: func() string { return "task-1" }}
	mw.Reset()

	out, err := mw.NextState(AfterToolBatch{Ctx: &Context{SessionID: "s1"}})
	require.NoError(t, err)
	assert.Equal(t, "after_tool_batch", out.Kind())

	require.Len(t, store.entries, 1)
	assert.Equal(t, "s1", store.entries[0].SessionID)
	assert.Contains(t, store.entries[0].Note, `task "ship it" completed`)
	assert.Contains(t, store.entries[0].Note, "3 artifacts closed")
}

func TestTaskAutoComplete_HandlesEachTaskOnce(t *testing.T) {
	store := &fakePlannerStore{task: &models.Task{ID: "task-1", Title: "x", Status: models.TaskDone}}
	mw := &TaskAutoComplete{Store: store, ActiveTaskID: func() string { return "task-1" }}
	mw.Reset()

	for i := 0; i < 3; i++ {
		_, err := mw.NextState(AfterToolBatch{Ctx: &Context{SessionID: "s1"}})
		require.NoError(t, err)
	}
	assert.Len(t, store.entries, 1)
}

func TestTaskAutoComplete_SkipsUnfinishedTask(t *testing.T) {
	store := &fakePlannerStore{task: &models.Task{ID: "task-1", Status: models.TaskInProgress}}
	mw := &TaskAutoComplete{Store: store, ActiveTaskID: func() string { return "task-1" }}
	mw.Reset()

	_, err := mw.NextState(AfterToolBatch{Ctx: &Context{SessionID: "s1"}})
	require.NoError(t, err)
	assert.Empty(t, store.entries)
}

func TestTaskAutoComplete_StoreFailureIsNotFatal(t *testing.T) {
	store := &fakePlannerStore{taskErr: errors.New("db gone")}
	mw := &TaskAutoComplete{Store: store, ActiveTaskID: func() string { return "task-1" }}
	mw.Reset()

	out, err := mw.NextState(AfterToolBatch{Ctx: &Context{SessionID: "s1"}})
	require.NoError(t, err)
	assert.Equal(t, "after_tool_batch", out.Kind())
}

func TestTaskAutoComplete_NoActiveTask(t *testing.T) {
	store := &fakePlannerStore{task: &models.Task{ID: "task-1", Status: models.TaskDone}}
	mw := &TaskAutoComplete{Store: store, ActiveTaskID: func() string { return "" }}
	mw.Reset()

	_, err := mw.NextState(AfterToolBatch{Ctx: &Context{SessionID: "s1"}})
	require.NoError(t, err)
	assert.Empty(t, store.entries)
}
