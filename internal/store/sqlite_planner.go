package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/joescharf/qmt/internal/models"
)

// Planner entity persistence. All of these are append-only except status
// columns.

func (s *SQLiteStore) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = newULID()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = models.TaskPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, session_id, title, detail, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Title, t.Detail, string(t.Status), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return backend("create task", err)
	}
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t := &models.Task{}
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, title, detail, status, created_at, updated_at FROM tasks WHERE id = ?`, id,
	).Scan(&t.ID, &t.SessionID, &t.Title, &t.Detail, &status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("get task", id)
	}
	if err != nil {
		return nil, backend("get task", err)
	}
	t.Status = models.TaskStatus(status)
	return t, nil
}

func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return backend("update task status", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound("update task status", id)
	}
	return nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, sessionID string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, title, detail, status, created_at, updated_at
		FROM tasks WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, backend("list tasks", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*models.Task
	for rows.Next() {
		t := &models.Task{}
		var status string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Title, &t.Detail, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, backend("scan task", err)
		}
		t.Status = models.TaskStatus(status)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) CreateArtifact(ctx context.Context, a *models.Artifact) error {
	if a.ID == "" {
		a.ID = newULID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = models.ArtifactOpen
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, session_id, task_id, kind, path, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.TaskID, a.Kind, a.Path, string(a.Status), a.CreatedAt)
	if err != nil {
		return backend("create artifact", err)
	}
	return nil
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, sessionID string) ([]*models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, task_id, kind, path, status, created_at
		FROM artifacts WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, backend("list artifacts", err)
	}
	defer func() { _ = rows.Close() }()

	var arts []*models.Artifact
	for rows.Next() {
		a := &models.Artifact{}
		var status string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.TaskID, &a.Kind, &a.Path, &status, &a.CreatedAt); err != nil {
			return nil, backend("scan artifact", err)
		}
		a.Status = models.ArtifactStatus(status)
		arts = append(arts, a)
	}
	return arts, rows.Err()
}

// CloseTaskArtifacts marks all open artifacts of a task closed and returns
// the number of artifacts affected.
func (s *SQLiteStore) CloseTaskArtifacts(ctx context.Context, taskID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET status = ? WHERE task_id = ? AND status = ?`,
		string(models.ArtifactClosed), taskID, string(models.ArtifactOpen))
	if err != nil {
		return 0, backend("close task artifacts", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) CreateDecision(ctx context.Context, d *models.Decision) error {
	if d.ID == "" {
		d.ID = newULID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, session_id, summary, rationale, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.SessionID, d.Summary, d.Rationale, d.Status, d.CreatedAt)
	if err != nil {
		return backend("create decision", err)
	}
	return nil
}

func (s *SQLiteStore) CreateAlternative(ctx context.Context, a *models.Alternative) error {
	if a.ID == "" {
		a.ID = newULID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alternatives (id, session_id, decision_id, summary, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.DecisionID, a.Summary, a.Status, a.CreatedAt)
	if err != nil {
		return backend("create alternative", err)
	}
	return nil
}

func (s *SQLiteStore) CreateProgressEntry(ctx context.Context, p *models.ProgressEntry) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress_entries (id, session_id, note, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.Note, p.Status, p.CreatedAt)
	if err != nil {
		return backend("create progress entry", err)
	}
	return nil
}

func (s *SQLiteStore) ListProgressEntries(ctx context.Context, sessionID string) ([]*models.ProgressEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, note, status, created_at
		FROM progress_entries WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, backend("list progress entries", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.ProgressEntry
	for rows.Next() {
		p := &models.ProgressEntry{}
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Note, &p.Status, &p.CreatedAt); err != nil {
			return nil, backend("scan progress entry", err)
		}
		entries = append(entries, p)
	}
	return entries, rows.Err()
}
