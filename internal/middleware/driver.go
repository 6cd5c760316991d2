package middleware

import "fmt"

// Middleware advances one execution state. NextState must return either
// the same state kind (possibly annotated), or one of Wait, Done, and
// Aborted. Reset is called at cycle start.
type Middleware interface {
	Name() string
	Reset()
	NextState(s State) (State, error)
}

// Error reports an illegal state transition by a middleware.
type Error struct {
	Middleware string
	Expected   string
	Actual     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("middleware %s: invalid transition: expected %s, got %s", e.Middleware, e.Expected, e.Actual)
}

// Driver folds states through a middleware list in registration order.
type Driver struct {
	middlewares []Middleware
}

// NewDriver composes middlewares into a single stage.
func NewDriver(mws ...Middleware) *Driver {
	return &Driver{middlewares: mws}
}

// Reset resets every middleware; the scheduler calls it at cycle start.
func (d *Driver) Reset() {
	for _, mw := range d.middlewares {
		mw.Reset()
	}
}

// Apply folds s through the list. Folding stops early once a middleware
// steers into Wait or a terminal state; later middlewares never see a
// state they could not legally advance.
func (d *Driver) Apply(s State) (State, error) {
	for _, mw := range d.middlewares {
		next, err := mw.NextState(s)
		if err != nil {
			return nil, fmt.Errorf("middleware %s: %w", mw.Name(), err)
		}
		if next == nil {
			continue
		}
		if !legalTransition(s, next) {
			return nil, &Error{Middleware: mw.Name(), Expected: s.Kind(), Actual: next.Kind()}
		}
		s = next
		if terminal(s) {
			return s, nil
		}
		if _, ok := s.(Wait); ok {
			return s, nil
		}
	}
	return s, nil
}

// legalTransition checks the allowed edges: stay in kind, or move to
// Wait, Done, or Aborted.
func legalTransition(from, to State) bool {
	if to.Kind() == from.Kind() {
		return true
	}
	switch to.(type) {
	case Wait, Done, Aborted:
		return true
	}
	return false
}
