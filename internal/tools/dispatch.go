package tools

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Call is one tool invocation requested by the model.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// DefaultMutating is the default set of tools that change the workspace.
var DefaultMutating = []string{"apply_patch", "write_file", "delete_file"}

// DefaultMaxFanOut bounds parallel tool execution per batch.
const DefaultMaxFanOut = 4

// Dispatcher executes tool call batches. Independent calls run in
// parallel up to MaxFanOut; calls to mutating tools run alone, in the
// order the model requested them.
type Dispatcher struct {
	mutating map[string]bool
	sem      *semaphore.Weighted
}

// NewDispatcher creates a dispatcher. Nil mutating selects the default
// set; maxFanOut <= 0 selects the default bound.
func NewDispatcher(mutating []string, maxFanOut int) *Dispatcher {
	if mutating == nil {
		mutating = DefaultMutating
	}
	if maxFanOut <= 0 {
		maxFanOut = DefaultMaxFanOut
	}
	set := make(map[string]bool, len(mutating))
	for _, name := range mutating {
		set[name] = true
	}
	return &Dispatcher{
		mutating: set,
		sem:      semaphore.NewWeighted(int64(maxFanOut)),
	}
}

// IsMutating reports whether the named tool is in the mutating set.
func (d *Dispatcher) IsMutating(name string) bool {
	return d.mutating[name]
}

// Dispatch runs the batch through run, returning results positionally
// aligned with calls. Consecutive non-mutating calls run concurrently;
// each mutating call is a barrier: the preceding batch drains first and
// the call runs alone.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []Call, run func(ctx context.Context, call Call) Result) []Result {
	results := make([]Result, len(calls))

	var wg sync.WaitGroup
	flush := func() { wg.Wait() }

	for i, call := range calls {
		if ctx.Err() != nil {
			flush()
			for j := i; j < len(calls); j++ {
				results[j] = errResult(calls[j].ID, calls[j].Name, "cancelled")
			}
			return results
		}
		if d.mutating[call.Name] {
			flush()
			results[i] = run(ctx, call)
			continue
		}
		if err := d.sem.Acquire(ctx, 1); err != nil {
			results[i] = errResult(call.ID, call.Name, "cancelled")
			continue
		}
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			defer d.sem.Release(1)
			results[i] = run(ctx, call)
		}(i, call)
	}
	flush()
	return results
}
