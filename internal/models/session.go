package models

import "time"

// Session is a persistent conversation with identity, working directory,
// and history. Sessions form a DAG through ParentSessionID (delegations
// and forks); back-edges are never mutated in place.
type Session struct {
	PublicID        string
	Cwd             string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LLMConfigID     string
	ActiveTaskID    string
	CurrentSnapshot string
	ParentSessionID string
	ForkPoint       string
}

// LLMConfig records the exact provider configuration that produced a reply.
// Immutable after creation.
type LLMConfig struct {
	ID       string
	Provider string
	Model    string
	Params   map[string]any
}

// IntentSnapshot is a labeled pointer into the snapshot backend, recording
// workspace state at a cycle boundary. Under the Metadata snapshot policy
// the label is recorded with an empty RootHash.
type IntentSnapshot struct {
	ID        string
	SessionID string
	Label     string
	RootHash  string
	CreatedAt time.Time
}

// DelegationStatus is the lifecycle state of a delegation.
type DelegationStatus string

const (
	DelegationPending   DelegationStatus = "pending"
	DelegationRunning   DelegationStatus = "running"
	DelegationSucceeded DelegationStatus = "succeeded"
	DelegationFailed    DelegationStatus = "failed"
	DelegationCancelled DelegationStatus = "cancelled"
)

// Delegation is a child session spawned to satisfy a planner tool call.
// ChildSessionID is unique per delegation.
type Delegation struct {
	ID              string
	ParentSessionID string
	ChildSessionID  string
	Objective       string
	Status          DelegationStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
