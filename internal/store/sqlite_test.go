package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qmt/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(t *testing.T, s *SQLiteStore) *models.Session {
	t.Helper()
	sess := &models.Session{Cwd: t.TempDir()}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Sessions ---

func TestSessionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &models.Session{Cwd: "/tmp/work"}
	err := s.CreateSession(ctx, sess)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.PublicID)
	assert.False(t, sess.CreatedAt.IsZero())

	got, err := s.GetSession(ctx, sess.PublicID)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/work", got.Cwd)

	sessions, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	err = s.DeleteSession(ctx, sess.PublicID)
	require.NoError(t, err)

	_, err = s.GetSession(ctx, sess.PublicID)
	assert.True(t, IsNotFound(err))
}

func TestCreateSession_ParentMustExist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &models.Session{Cwd: "/tmp", ParentSessionID: "no-such-parent"}
	err := s.CreateSession(ctx, sess)
	assert.Error(t, err)
}

func TestUpdateSessionPointers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	task := "task-1"
	snap := "abc123"
	require.NoError(t, s.UpdateSessionPointers(ctx, sess.PublicID, &task, nil))
	require.NoError(t, s.UpdateSessionPointers(ctx, sess.PublicID, nil, &snap))

	got, err := s.GetSession(ctx, sess.PublicID)
	require.NoError(t, err)
	assert.Equal(t, "task-1", got.ActiveTaskID)
	assert.Equal(t, "abc123", got.CurrentSnapshot)

	err = s.UpdateSessionPointers(ctx, "missing", &task, nil)
	assert.True(t, IsNotFound(err))
}

// --- LLM configs ---

func TestLLMConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg := &models.LLMConfig{
		Provider: "anthropic",
		Model:    "claude-sonnet-4-20250514",
		Params:   map[string]any{"temperature": 0.2},
	}
	require.NoError(t, s.CreateLLMConfig(ctx, cfg))
	require.NotEmpty(t, cfg.ID)

	got, err := s.GetLLMConfig(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", got.Provider)
	assert.Equal(t, 0.2, got.Params["temperature"])
}

// --- Messages ---

func TestAppendMessage_OrderAndParts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	first := &models.AgentMessage{
		SessionID: sess.PublicID,
		Role:      models.RoleUser,
		Parts:     []models.MessagePart{models.TextPart("hello")},
	}
	require.NoError(t, s.AppendMessage(ctx, first))

	second := &models.AgentMessage{
		SessionID: sess.PublicID,
		Role:      models.RoleAssistant,
		Parts: []models.MessagePart{
			models.ToolUsePart("call_1", "read_file", []byte(`{"path":"a.txt"}`)),
		},
	}
	require.NoError(t, s.AppendMessage(ctx, second))

	third := &models.AgentMessage{
		SessionID: sess.PublicID,
		Role:      models.RoleTool,
		Parts:     []models.MessagePart{models.ToolResultPart("call_1", false, "contents")},
	}
	require.NoError(t, s.AppendMessage(ctx, third))

	msgs, err := s.ListMessages(ctx, sess.PublicID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Text())
	assert.Equal(t, "call_1", msgs[1].Parts[0].CallID)
	assert.Equal(t, models.PartToolResult, msgs[2].Parts[0].Type)
}

func TestAppendMessage_RejectsInvalidParts(t *testing.T) {
	s := newTestStore(t)
	sess := newTestSession(t, s)

	msg := &models.AgentMessage{
		SessionID: sess.PublicID,
		Role:      models.RoleAssistant,
		Parts:     []models.MessagePart{{Type: models.PartToolUse}}, // no call id
	}
	err := s.AppendMessage(context.Background(), msg)
	assert.Error(t, err)
}

func TestLogExchange_Atomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	user := &models.AgentMessage{Role: models.RoleUser, Parts: []models.MessagePart{models.TextPart("q")}}
	assistant := &models.AgentMessage{Role: models.RoleAssistant, Parts: []models.MessagePart{models.TextPart("a")}}
	require.NoError(t, s.LogExchange(ctx, sess.PublicID, []*models.AgentMessage{user}, assistant))

	msgs, err := s.ListMessages(ctx, sess.PublicID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
}

// --- Intent snapshots ---

func TestIntentSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	require.NoError(t, s.CreateIntentSnapshot(ctx, &models.IntentSnapshot{
		SessionID: sess.PublicID,
		Label:     "pre-cycle-call",
	}))
	require.NoError(t, s.CreateIntentSnapshot(ctx, &models.IntentSnapshot{
		SessionID: sess.PublicID,
		Label:     "post-cycle-call",
		RootHash:  "deadbeef",
	}))

	snaps, err := s.ListIntentSnapshots(ctx, sess.PublicID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Empty(t, snaps[0].RootHash, "metadata-only rows keep an empty root hash")
	assert.Equal(t, "deadbeef", snaps[1].RootHash)
}

// --- Delegations ---

func TestDelegationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	parent := newTestSession(t, s)
	child := &models.Session{Cwd: parent.Cwd, ParentSessionID: parent.PublicID}
	require.NoError(t, s.CreateSession(ctx, child))

	d := &models.Delegation{
		ParentSessionID: parent.PublicID,
		ChildSessionID:  child.PublicID,
		Objective:       "summarize the repo",
	}
	require.NoError(t, s.CreateDelegation(ctx, d))
	assert.Equal(t, models.DelegationPending, d.Status)

	require.NoError(t, s.UpdateDelegationStatus(ctx, d.ID, models.DelegationSucceeded))

	dels, err := s.ListDelegations(ctx, parent.PublicID)
	require.NoError(t, err)
	require.Len(t, dels, 1)
	assert.Equal(t, models.DelegationSucceeded, dels[0].Status)
	assert.Equal(t, child.PublicID, dels[0].ChildSessionID)
}

// --- Planner entities ---

func TestTaskLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	task := &models.Task{SessionID: sess.PublicID, Title: "write docs"}
	require.NoError(t, s.CreateTask(ctx, task))
	assert.Equal(t, models.TaskPending, task.Status)
	require.NotEmpty(t, task.ID)

	require.NoError(t, s.UpdateTaskStatus(ctx, task.ID, models.TaskDone))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskDone, got.Status)
	assert.Equal(t, "write docs", got.Title)

	tasks, err := s.ListTasks(ctx, sess.PublicID)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	err = s.UpdateTaskStatus(ctx, "missing", models.TaskDone)
	assert.True(t, IsNotFound(err))
}

func TestCloseTaskArtifacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	task := &models.Task{SessionID: sess.PublicID, Title: "t"}
	require.NoError(t, s.CreateTask(ctx, task))

	for i := 0; i < 2; i++ {
		require.NoError(t, s.CreateArtifact(ctx, &models.Artifact{
			SessionID: sess.PublicID,
			TaskID:    task.ID,
			Kind:      "file",
			Path:      "out.txt",
		}))
	}
	require.NoError(t, s.CreateArtifact(ctx, &models.Artifact{
		SessionID: sess.PublicID,
		TaskID:    task.ID,
		Kind:      "file",
		Path:      "done.txt",
		Status:    models.ArtifactClosed,
	}))

	closed, err := s.CloseTaskArtifacts(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), closed, "only open artifacts are affected")

	arts, err := s.ListArtifacts(ctx, sess.PublicID)
	require.NoError(t, err)
	require.Len(t, arts, 3)
	for _, a := range arts {
		assert.Equal(t, models.ArtifactClosed, a.Status)
	}
}

func TestProgressEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	require.NoError(t, s.CreateProgressEntry(ctx, &models.ProgressEntry{
		SessionID: sess.PublicID,
		Note:      "started work",
		Status:    "in_progress",
	}))
	require.NoError(t, s.CreateProgressEntry(ctx, &models.ProgressEntry{
		SessionID: sess.PublicID,
		Note:      "finished",
		Status:    "done",
	}))

	entries, err := s.ListProgressEntries(ctx, sess.PublicID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "started work", entries[0].Note)
	assert.Equal(t, "finished", entries[1].Note)
}

// --- Event journal ---

func TestJournalAppendAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	for seq := uint64(1); seq <= 5; seq++ {
		ev := &models.AgentEvent{
			Seq:       seq,
			SessionID: sess.PublicID,
			Kind:      models.EventUserMessageStored,
			Content:   "m",
		}
		require.NoError(t, s.AppendEvent(ctx, ev))
	}

	all, err := s.LoadSessionStream(ctx, sess.PublicID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, ev := range all {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}

	window, err := s.LoadSessionStream(ctx, sess.PublicID, 2, 4)
	require.NoError(t, err)
	require.Len(t, window, 3)
	assert.Equal(t, uint64(2), window[0].Seq)
	assert.Equal(t, uint64(4), window[2].Seq)
}

func TestJournalRoundTripsEventPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := newTestSession(t, s)

	ev := &models.AgentEvent{
		Seq:       7,
		SessionID: sess.PublicID,
		Kind:      models.EventSnapshotEnd,
		Summary:   "+2 files, 1 modified",
	}
	require.NoError(t, s.AppendEvent(ctx, ev))

	got, err := s.LoadSessionStream(ctx, sess.PublicID, 7, 7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.EventSnapshotEnd, got[0].Kind)
	assert.Equal(t, "+2 files, 1 modified", got[0].Summary)
}
