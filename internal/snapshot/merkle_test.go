package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *MerkleStore {
	t.Helper()
	m, err := NewMerkleStore(filepath.Join(t.TempDir(), "snapshots"), false)
	require.NoError(t, err)
	return m
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func TestSnapshot_DeterministicID(t *testing.T) {
	m := newTestBackend(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")
	writeFile(t, root, "sub/b.txt", "beta")

	first, err := m.Snapshot(ctx, root, "one")
	require.NoError(t, err)
	second, err := m.Snapshot(ctx, root, "two")
	require.NoError(t, err)

	assert.Equal(t, first, second, "unchanged tree must hash to the same id")

	man, err := m.loadManifest(first)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one", "two"}, man.Labels, "relabels accumulate on the shared manifest")
}

func TestSnapshot_ContentChangesID(t *testing.T) {
	m := newTestBackend(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha")

	before, err := m.Snapshot(ctx, root, "")
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "alpha2")
	after, err := m.Snapshot(ctx, root, "")
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestRestore_RoundTrip(t *testing.T) {
	m := newTestBackend(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, root, "keep.txt", "original")
	writeFile(t, root, "dir/nested.txt", "nested")

	id, err := m.Snapshot(ctx, root, "pre")
	require.NoError(t, err)

	// Mutate the tree: modify, add, remove.
	writeFile(t, root, "keep.txt", "changed")
	writeFile(t, root, "extra.txt", "new file")
	require.NoError(t, os.Remove(filepath.Join(root, "dir", "nested.txt")))

	require.NoError(t, m.Restore(ctx, id, root))

	data, err := os.ReadFile(filepath.Join(root, "keep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	data, err = os.ReadFile(filepath.Join(root, "dir", "nested.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data))

	_, err = os.Stat(filepath.Join(root, "extra.txt"))
	assert.True(t, os.IsNotExist(err), "untracked file should be removed by restore")

	// The restored tree hashes back to the original id.
	again, err := m.Snapshot(ctx, root, "")
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestDiff(t *testing.T) {
	m := newTestBackend(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "b.txt", "b")

	before, err := m.Snapshot(ctx, root, "")
	require.NoError(t, err)

	self, err := m.Diff(ctx, before, before)
	require.NoError(t, err)
	assert.Equal(t, "No changes", self.String())

	writeFile(t, root, "a.txt", "a-changed")
	writeFile(t, root, "c.txt", "c")
	require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))

	after, err := m.Snapshot(ctx, root, "")
	require.NoError(t, err)

	forward, err := m.Diff(ctx, before, after)
	require.NoError(t, err)
	assert.Equal(t, Summary{Added: 1, Removed: 1, Modified: 1}, forward)
	assert.Equal(t, "+1 files, -1 files, 1 modified", forward.String())

	// Reversing the arguments swaps added and removed.
	backward, err := m.Diff(ctx, after, before)
	require.NoError(t, err)
	assert.Equal(t, Summary{Added: 1, Removed: 1, Modified: 1}, backward)
}

func TestSnapshot_HonorsGitignore(t *testing.T) {
	m := newTestBackend(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, root, ".gitignore", "*.log\n")
	writeFile(t, root, "app.log", "ignored")
	writeFile(t, root, "main.go", "package main")

	id, err := m.Snapshot(ctx, root, "")
	require.NoError(t, err)

	man, err := m.loadManifest(id)
	require.NoError(t, err)
	for _, f := range man.Files {
		assert.NotEqual(t, "app.log", f.Path)
	}
}

func TestSnapshot_SkipHidden(t *testing.T) {
	m, err := NewMerkleStore(filepath.Join(t.TempDir(), "snapshots"), true)
	require.NoError(t, err)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, root, ".env", "secret")
	writeFile(t, root, "visible.txt", "data")

	id, err := m.Snapshot(ctx, root, "")
	require.NoError(t, err)

	man, err := m.loadManifest(id)
	require.NoError(t, err)
	require.Len(t, man.Files, 1)
	assert.Equal(t, "visible.txt", man.Files[0].Path)
}

func TestGC_KeepsLabelledRemovesRest(t *testing.T) {
	m := newTestBackend(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, root, "a.txt", "v1")
	keepID, err := m.Snapshot(ctx, root, "keep-me")
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "v2")
	dropID, err := m.Snapshot(ctx, root, "drop-me")
	require.NoError(t, err)

	res, err := m.GC(ctx, GCPolicy{KeepLabels: []string{"keep-me"}, MaxAge: time.Nanosecond})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ManifestsRemoved)
	assert.GreaterOrEqual(t, res.BlobsRemoved, 1)

	_, err = m.loadManifest(keepID)
	assert.NoError(t, err)
	_, err = m.loadManifest(dropID)
	assert.Error(t, err)
}

func TestGC_NoPolicyIsNoOp(t *testing.T) {
	m := newTestBackend(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, root, "a.txt", "v1")
	id, err := m.Snapshot(ctx, root, "")
	require.NoError(t, err)

	res, err := m.GC(ctx, GCPolicy{})
	require.NoError(t, err)
	assert.Zero(t, res.ManifestsRemoved)
	assert.Zero(t, res.BlobsRemoved)

	_, err = m.loadManifest(id)
	assert.NoError(t, err)
}
