package provider

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedResponse configures one model turn in a scripted sequence.
type ScriptedResponse struct {
	Response ChatResponse
	Err      error
}

// Scripted is a deterministic provider for loop tests. Each Chat call
// consumes the next scripted response; an exhausted script is an error.
type Scripted struct {
	mu        sync.Mutex
	index     int
	requests  []ChatRequest
	responses []ScriptedResponse
}

var _ Provider = (*Scripted)(nil)

// NewScripted builds a scripted provider from the given turns.
func NewScripted(responses ...ScriptedResponse) *Scripted {
	cloned := make([]ScriptedResponse, len(responses))
	copy(cloned, responses)
	return &Scripted{responses: cloned}
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) ListModels(_ context.Context) ([]string, error) {
	return []string{"scripted"}, nil
}

func (s *Scripted) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if s.index >= len(s.responses) {
		return nil, fmt.Errorf("script exhausted at step %d", s.index+1)
	}
	current := s.responses[s.index]
	s.index++
	if current.Err != nil {
		return nil, current.Err
	}
	resp := current.Response
	return &resp, nil
}

// Requests returns a copy of every ChatRequest seen so far, in order.
func (s *Scripted) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// Calls reports how many Chat calls have been made.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
