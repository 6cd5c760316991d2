// Package snapshot provides content-addressed workspace snapshots. A
// snapshot hashes every file under a root and derives a Merkle-style root
// hash from the sorted (path, file hash) list, so two snapshots with equal
// ids are identical trees.
package snapshot

import (
	"context"
	"fmt"
	"time"
)

// ID identifies a snapshot; it is the hex root hash of the tree.
type ID string

// Policy controls whether mutating tool calls are bracketed with snapshots.
type Policy int

const (
	// PolicyOff records nothing.
	PolicyOff Policy = iota
	// PolicyMetadata records labels into the store without walking the tree.
	PolicyMetadata
	// PolicyFull captures content-addressed snapshots.
	PolicyFull
)

func (p Policy) String() string {
	switch p {
	case PolicyMetadata:
		return "metadata"
	case PolicyFull:
		return "full"
	default:
		return "off"
	}
}

// Summary reports counts of added, removed, and modified files between two
// snapshots.
type Summary struct {
	Added    int
	Removed  int
	Modified int
}

// String renders the summary in the journal/event format. An empty diff is
// reported as "No changes".
func (s Summary) String() string {
	if s.Added == 0 && s.Removed == 0 && s.Modified == 0 {
		return "No changes"
	}
	out := ""
	if s.Added > 0 {
		out += fmt.Sprintf("+%d files", s.Added)
	}
	if s.Removed > 0 {
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("-%d files", s.Removed)
	}
	if s.Modified > 0 {
		if out != "" {
			out += ", "
		}
		out += fmt.Sprintf("%d modified", s.Modified)
	}
	return out
}

// GCPolicy controls garbage collection. Snapshots carrying a label in
// KeepLabels are always retained; unlabeled snapshots older than MaxAge are
// released. Zero MaxAge keeps everything not explicitly unreferenced.
type GCPolicy struct {
	KeepLabels []string
	MaxAge     time.Duration
}

// GCResult reports what a GC pass removed.
type GCResult struct {
	ManifestsRemoved int
	BlobsRemoved     int
}

// Backend is the snapshot backend contract used by the scheduler.
type Backend interface {
	// Snapshot captures the tree rooted at root under the given label.
	Snapshot(ctx context.Context, root, label string) (ID, error)
	// Restore rebuilds the tree for id at root (contents and structure;
	// mode bits best-effort).
	Restore(ctx context.Context, id ID, root string) error
	// Diff summarizes the change between two snapshots.
	Diff(ctx context.Context, a, b ID) (Summary, error)
	// GC releases snapshots and blobs per the policy.
	GC(ctx context.Context, policy GCPolicy) (GCResult, error)
}
