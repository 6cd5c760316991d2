package middleware

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joescharf/qmt/internal/models"
)

// PlannerStore is the store slice TaskAutoComplete needs.
type PlannerStore interface {
	GetTask(ctx context.Context, id string) (*models.Task, error)
	CloseTaskArtifacts(ctx context.Context, taskID string) (int64, error)
	CreateProgressEntry(ctx context.Context, p *models.ProgressEntry) error
}

// TaskAutoComplete watches the session's active task. Once the planner
// marks it done, open artifacts are closed and a progress entry records
// the completion. Store failures are logged, not fatal.
type TaskAutoComplete struct {
	Store        PlannerStore
	Logger       *slog.Logger
	ActiveTaskID func() string

	handled map[string]bool
}

func (t *TaskAutoComplete) Name() string { return "task_auto_complete" }

func (t *TaskAutoComplete) Reset() {
	if t.handled == nil {
		t.handled = make(map[string]bool)
	}
}

func (t *TaskAutoComplete) NextState(s State) (State, error) {
	atb, ok := s.(AfterToolBatch)
	if !ok {
		return s, nil
	}
	if t.Store == nil || t.ActiveTaskID == nil {
		return s, nil
	}
	taskID := t.ActiveTaskID()
	if taskID == "" || t.handled[taskID] {
		return s, nil
	}

	ctx := context.Background()
	task, err := t.Store.GetTask(ctx, taskID)
	if err != nil {
		t.log().Warn("task lookup failed", "task_id", taskID, "error", err)
		return s, nil
	}
	if task.Status != models.TaskDone {
		return s, nil
	}

	closed, err := t.Store.CloseTaskArtifacts(ctx, taskID)
	if err != nil {
		t.log().Warn("close artifacts failed", "task_id", taskID, "error", err)
		return s, nil
	}
	entry := &models.ProgressEntry{
		SessionID: atb.Ctx.SessionID,
		Note:      fmt.Sprintf("task %q completed, %d artifacts closed", task.Title, closed),
		Status:    string(models.TaskDone),
	}
	if err := t.Store.CreateProgressEntry(ctx, entry); err != nil {
		t.log().Warn("progress entry failed", "task_id", taskID, "error", err)
	}
	t.handled[taskID] = true
	return s, nil
}

func (t *TaskAutoComplete) log() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}
