package models

import "time"

// TaskStatus is the lifecycle state of a planner task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

// Task is a planner-visible unit of work tied to a session. Append-only
// except Status.
type Task struct {
	ID        string
	SessionID string
	Title     string
	Detail    string
	Status    TaskStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ArtifactStatus is the lifecycle state of an artifact.
type ArtifactStatus string

const (
	ArtifactOpen   ArtifactStatus = "open"
	ArtifactClosed ArtifactStatus = "closed"
)

// Artifact is a planner-visible output associated with a task.
type Artifact struct {
	ID        string
	SessionID string
	TaskID    string
	Kind      string
	Path      string
	Status    ArtifactStatus
	CreatedAt time.Time
}

// Decision records a choice the planner committed to.
type Decision struct {
	ID        string
	SessionID string
	Summary   string
	Rationale string
	Status    string
	CreatedAt time.Time
}

// Alternative records an option that was considered for a decision.
type Alternative struct {
	ID         string
	SessionID  string
	DecisionID string
	Summary    string
	Status     string
	CreatedAt  time.Time
}

// ProgressEntry is an append-only progress note for a session.
type ProgressEntry struct {
	ID        string
	SessionID string
	Note      string
	Status    string
	CreatedAt time.Time
}
