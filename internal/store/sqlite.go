package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/qmt/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from concurrent session actors.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// NewID generates a new entity id.
func NewID() string { return newULID() }

// Migrate runs all embedded SQL migration files in order. It is idempotent
// and safe to run at every startup.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.PublicID == "" {
		sess.PublicID = newULID()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	if sess.ParentSessionID != "" {
		if _, err := s.GetSession(ctx, sess.ParentSessionID); err != nil {
			return conflict("create session", fmt.Errorf("parent session %s: %w", sess.ParentSessionID, err))
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (public_id, cwd, created_at, updated_at, llm_config_id, active_task_id, current_snapshot, parent_session_id, fork_point)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.PublicID, sess.Cwd, sess.CreatedAt, sess.UpdatedAt, sess.LLMConfigID,
		sess.ActiveTaskID, sess.CurrentSnapshot, sess.ParentSessionID, sess.ForkPoint,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "PRIMARY") {
			return conflict("create session", err)
		}
		return backend("create session", err)
	}
	return nil
}

const sessionCols = `public_id, cwd, created_at, updated_at, llm_config_id, active_task_id, current_snapshot, parent_session_id, fork_point`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	sess := &models.Session{}
	err := row.Scan(&sess.PublicID, &sess.Cwd, &sess.CreatedAt, &sess.UpdatedAt,
		&sess.LLMConfigID, &sess.ActiveTaskID, &sess.CurrentSnapshot, &sess.ParentSessionID, &sess.ForkPoint)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, publicID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE public_id = ?`, publicID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, notFound("get session", publicID)
	}
	if err != nil {
		return nil, backend("get session", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	q := `SELECT ` + sessionCols + ` FROM sessions ORDER BY updated_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, backend("list sessions", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, backend("scan session", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, publicID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE public_id = ?`, publicID)
	if err != nil {
		return backend("delete session", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound("delete session", publicID)
	}
	return nil
}

// UpdateSessionPointers updates the active task and/or current snapshot
// pointers. Nil arguments leave the corresponding pointer untouched.
func (s *SQLiteStore) UpdateSessionPointers(ctx context.Context, publicID string, activeTaskID, currentSnapshot *string) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}
	if activeTaskID != nil {
		sets = append(sets, "active_task_id = ?")
		args = append(args, *activeTaskID)
	}
	if currentSnapshot != nil {
		sets = append(sets, "current_snapshot = ?")
		args = append(args, *currentSnapshot)
	}
	args = append(args, publicID)

	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET `+strings.Join(sets, ", ")+` WHERE public_id = ?`, args...)
	if err != nil {
		return backend("update session pointers", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound("update session pointers", publicID)
	}
	return nil
}

// --- LLM configs ---

func (s *SQLiteStore) CreateLLMConfig(ctx context.Context, c *models.LLMConfig) error {
	if c.ID == "" {
		c.ID = newULID()
	}
	params := c.Params
	if params == nil {
		params = map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return codec("create llm config", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO llm_configs (id, provider, model, params) VALUES (?, ?, ?, ?)`,
		c.ID, c.Provider, c.Model, string(data))
	if err != nil {
		return backend("create llm config", err)
	}
	return nil
}

func (s *SQLiteStore) GetLLMConfig(ctx context.Context, id string) (*models.LLMConfig, error) {
	c := &models.LLMConfig{}
	var params string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, provider, model, params FROM llm_configs WHERE id = ?`, id,
	).Scan(&c.ID, &c.Provider, &c.Model, &params)
	if err == sql.ErrNoRows {
		return nil, notFound("get llm config", id)
	}
	if err != nil {
		return nil, backend("get llm config", err)
	}
	if err := json.Unmarshal([]byte(params), &c.Params); err != nil {
		return nil, codec("get llm config", err)
	}
	return c, nil
}

// --- Messages ---

func (s *SQLiteStore) insertMessage(ctx context.Context, tx *sql.Tx, m *models.AgentMessage) error {
	if m.ID == "" {
		m.ID = newULID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if err := m.ValidateParts(); err != nil {
		return codec("append message", err)
	}
	parts, err := json.Marshal(m.Parts)
	if err != nil {
		return codec("append message", err)
	}

	exec := s.db.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err = exec(ctx,
		`INSERT INTO messages (id, session_id, role, parts, created_at, parent_message_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, string(m.Role), string(parts), m.CreatedAt, m.ParentMessageID)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return notFound("append message", m.SessionID)
		}
		return backend("append message", err)
	}
	return nil
}

func (s *SQLiteStore) touchSession(ctx context.Context, tx *sql.Tx, sessionID string) error {
	exec := s.db.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `UPDATE sessions SET updated_at = ? WHERE public_id = ?`,
		time.Now().UTC(), sessionID)
	if err != nil {
		return backend("touch session", err)
	}
	return nil
}

// AppendMessage persists one message and advances the session's
// updated_at in a single transaction. A transient backend failure is
// retried once; the rollback makes the rerun safe.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m *models.AgentMessage) error {
	return retryTransient(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return backend("append message", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := s.insertMessage(ctx, tx, m); err != nil {
			return err
		}
		if err := s.touchSession(ctx, tx, m.SessionID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return backend("append message", err)
		}
		return nil
	})
}

func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*models.AgentMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, parts, created_at, parent_message_id
		FROM messages WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, backend("list messages", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []*models.AgentMessage
	for rows.Next() {
		m := &models.AgentMessage{}
		var role, parts string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &parts, &m.CreatedAt, &m.ParentMessageID); err != nil {
			return nil, backend("scan message", err)
		}
		m.Role = models.Role(role)
		if err := json.Unmarshal([]byte(parts), &m.Parts); err != nil {
			return nil, codec("decode message parts", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LogExchange writes user messages and the assistant response atomically.
// The assistant message is stored after all user messages so (created_at,
// id) ordering holds within the transaction. Transient failures retry
// once.
func (s *SQLiteStore) LogExchange(ctx context.Context, sessionID string, userMsgs []*models.AgentMessage, assistant *models.AgentMessage) error {
	return retryTransient(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return backend("log exchange", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, m := range userMsgs {
			m.SessionID = sessionID
			if err := s.insertMessage(ctx, tx, m); err != nil {
				return err
			}
		}
		if assistant != nil {
			assistant.SessionID = sessionID
			if err := s.insertMessage(ctx, tx, assistant); err != nil {
				return err
			}
		}
		if err := s.touchSession(ctx, tx, sessionID); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return backend("log exchange", err)
		}
		return nil
	})
}

// --- Intent snapshots ---

func (s *SQLiteStore) CreateIntentSnapshot(ctx context.Context, snap *models.IntentSnapshot) error {
	if snap.ID == "" {
		snap.ID = newULID()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO intent_snapshots (id, session_id, label, root_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.SessionID, snap.Label, snap.RootHash, snap.CreatedAt)
	if err != nil {
		return backend("create intent snapshot", err)
	}
	return nil
}

func (s *SQLiteStore) ListIntentSnapshots(ctx context.Context, sessionID string) ([]*models.IntentSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, label, root_hash, created_at
		FROM intent_snapshots WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, backend("list intent snapshots", err)
	}
	defer func() { _ = rows.Close() }()

	var snaps []*models.IntentSnapshot
	for rows.Next() {
		snap := &models.IntentSnapshot{}
		if err := rows.Scan(&snap.ID, &snap.SessionID, &snap.Label, &snap.RootHash, &snap.CreatedAt); err != nil {
			return nil, backend("scan intent snapshot", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// --- Delegations ---

func (s *SQLiteStore) CreateDelegation(ctx context.Context, d *models.Delegation) error {
	if d.ID == "" {
		d.ID = newULID()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = models.DelegationPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delegations (id, parent_session_id, child_session_id, objective, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ParentSessionID, d.ChildSessionID, d.Objective, string(d.Status), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return conflict("create delegation", err)
		}
		return backend("create delegation", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateDelegationStatus(ctx context.Context, id string, status models.DelegationStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE delegations SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return backend("update delegation status", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound("update delegation status", id)
	}
	return nil
}

func (s *SQLiteStore) ListDelegations(ctx context.Context, parentSessionID string) ([]*models.Delegation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_session_id, child_session_id, objective, status, created_at, updated_at
		FROM delegations WHERE parent_session_id = ? ORDER BY created_at, id`, parentSessionID)
	if err != nil {
		return nil, backend("list delegations", err)
	}
	defer func() { _ = rows.Close() }()

	var dels []*models.Delegation
	for rows.Next() {
		d := &models.Delegation{}
		var status string
		if err := rows.Scan(&d.ID, &d.ParentSessionID, &d.ChildSessionID, &d.Objective, &status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, backend("scan delegation", err)
		}
		d.Status = models.DelegationStatus(status)
		dels = append(dels, d)
	}
	return dels, rows.Err()
}
