package store

import (
	"context"

	"github.com/joescharf/qmt/internal/models"
)

// Store defines the persistence interface for qmt: sessions, messages, LLM
// configs, planner entities, and the per-session event journal. One durable
// SQLite file backs everything (default $HOME/.qmt/agent.db).
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, publicID string) (*models.Session, error)
	ListSessions(ctx context.Context, limit int) ([]*models.Session, error)
	DeleteSession(ctx context.Context, publicID string) error
	UpdateSessionPointers(ctx context.Context, publicID string, activeTaskID, currentSnapshot *string) error

	// LLM configs (immutable after creation)
	CreateLLMConfig(ctx context.Context, c *models.LLMConfig) error
	GetLLMConfig(ctx context.Context, id string) (*models.LLMConfig, error)

	// Messages
	AppendMessage(ctx context.Context, m *models.AgentMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]*models.AgentMessage, error)
	// LogExchange writes the user messages and the assistant response in a
	// single transaction and advances the session's updated_at.
	LogExchange(ctx context.Context, sessionID string, userMsgs []*models.AgentMessage, assistant *models.AgentMessage) error

	// Intent snapshots
	CreateIntentSnapshot(ctx context.Context, s *models.IntentSnapshot) error
	ListIntentSnapshots(ctx context.Context, sessionID string) ([]*models.IntentSnapshot, error)

	// Delegations
	CreateDelegation(ctx context.Context, d *models.Delegation) error
	UpdateDelegationStatus(ctx context.Context, id string, status models.DelegationStatus) error
	ListDelegations(ctx context.Context, parentSessionID string) ([]*models.Delegation, error)

	// Planner entities
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus) error
	ListTasks(ctx context.Context, sessionID string) ([]*models.Task, error)
	CreateArtifact(ctx context.Context, a *models.Artifact) error
	ListArtifacts(ctx context.Context, sessionID string) ([]*models.Artifact, error)
	CloseTaskArtifacts(ctx context.Context, taskID string) (int64, error)
	CreateDecision(ctx context.Context, d *models.Decision) error
	CreateAlternative(ctx context.Context, a *models.Alternative) error
	CreateProgressEntry(ctx context.Context, p *models.ProgressEntry) error
	ListProgressEntries(ctx context.Context, sessionID string) ([]*models.ProgressEntry, error)

	// Event journal
	AppendEvent(ctx context.Context, ev *models.AgentEvent) error
	LoadSessionStream(ctx context.Context, sessionID string, fromSeq, toSeq uint64) ([]*models.AgentEvent, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
