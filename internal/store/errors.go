package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies storage failures for the scheduler's propagation
// policy: Backend errors are fatal to the current cycle but never to the
// session; NotFound and Conflict surface to the caller; Codec indicates a
// corrupt or unreadable row.
type ErrorKind string

const (
	KindNotFound ErrorKind = "not_found"
	KindCodec    ErrorKind = "codec"
	KindBackend  ErrorKind = "backend"
	KindConflict ErrorKind = "conflict"
)

// SessionError wraps a storage failure with its taxonomy kind and the
// operation that produced it.
type SessionError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a SessionError of kind NotFound.
func IsNotFound(err error) bool { return errKind(err) == KindNotFound }

// IsBackend reports whether err is a SessionError of kind Backend.
func IsBackend(err error) bool { return errKind(err) == KindBackend }

// IsConflict reports whether err is a SessionError of kind Conflict.
func IsConflict(err error) bool { return errKind(err) == KindConflict }

func errKind(err error) ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func notFound(op, id string) error {
	return &SessionError{Kind: KindNotFound, Op: op, Err: fmt.Errorf("not found: %s", id)}
}

func backend(op string, err error) error {
	return &SessionError{Kind: KindBackend, Op: op, Err: err}
}

func codec(op string, err error) error {
	return &SessionError{Kind: KindCodec, Op: op, Err: err}
}

func conflict(op string, err error) error {
	return &SessionError{Kind: KindConflict, Op: op, Err: err}
}

// transientRetryDelay spaces the second attempt of a transient write.
const transientRetryDelay = 50 * time.Millisecond

// isTransient reports whether err looks like a momentary SQLite
// condition (busy or locked) rather than a permanent backend failure.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// retryTransient runs fn and retries it exactly once when the first
// attempt fails with a transient backend error. fn must be safe to
// rerun: either a single statement or a rolled-back transaction.
func retryTransient(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !isTransient(err) {
		return err
	}
	select {
	case <-ctx.Done():
		return err
	case <-time.After(transientRetryDelay):
	}
	return fn()
}
