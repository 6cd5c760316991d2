package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/joescharf/qmt/internal/models"
)

// AppendEvent persists one event into the append-only journal. The event's
// bus sequence becomes the journal row key, so per-session ordering in the
// journal matches the order the bus stamped. A transient backend failure
// retries the insert once.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *models.AgentEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return codec("append event", err)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return retryTransient(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO events (seq, session_id, created_at, payload) VALUES (?, ?, ?, ?)`,
			ev.Seq, ev.SessionID, ts, string(payload))
		if err != nil {
			return backend("append event", err)
		}
		return nil
	})
}

// LoadSessionStream returns the session's journaled events in seq order.
// fromSeq/toSeq bound the range when non-zero; toSeq is inclusive.
func (s *SQLiteStore) LoadSessionStream(ctx context.Context, sessionID string, fromSeq, toSeq uint64) ([]*models.AgentEvent, error) {
	q := `SELECT payload FROM events WHERE session_id = ?`
	args := []any{sessionID}
	if fromSeq > 0 {
		q += ` AND seq >= ?`
		args = append(args, fromSeq)
	}
	if toSeq > 0 {
		q += ` AND seq <= ?`
		args = append(args, toSeq)
	}
	q += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, backend("load session stream", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*models.AgentEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, backend("scan event", err)
		}
		ev := &models.AgentEvent{}
		if err := json.Unmarshal([]byte(payload), ev); err != nil {
			return nil, codec("decode event", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
