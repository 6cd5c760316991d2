package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MerkleStore is the canonical Backend: per-file SHA-256 blobs in a
// content-addressed store plus a manifest per root hash.
type MerkleStore struct {
	baseDir    string
	skipHidden bool

	mu sync.Mutex // serializes manifest/label mutation
}

// manifestFile is one entry of a snapshot manifest. Mode is kept for
// restore but excluded from the root hash, so trees differing only in mode
// bits share an id.
type manifestFile struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Mode uint32 `json:"mode"`
}

type manifest struct {
	ID        ID             `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Labels    []string       `json:"labels"`
	Files     []manifestFile `json:"files"`
}

// NewMerkleStore creates a snapshot store rooted at baseDir (default
// $HOME/.qmt/snapshots when baseDir is empty). skipHidden excludes dotfiles
// from capture; .gitignore rules are always honored and .git is always
// skipped.
func NewMerkleStore(baseDir string, skipHidden bool) (*MerkleStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		baseDir = filepath.Join(home, ".qmt", "snapshots")
	}
	for _, sub := range []string{"blobs", "manifests"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	return &MerkleStore{baseDir: baseDir, skipHidden: skipHidden}, nil
}

// Snapshot walks root, stores file blobs, and writes (or relabels) the
// manifest keyed by the tree's root hash.
func (m *MerkleStore) Snapshot(ctx context.Context, root, label string) (ID, error) {
	var files []manifestFile
	stack := newIgnoreStack(root, m.skipHidden)
	if err := m.walk(ctx, root, "", stack, &files); err != nil {
		return "", err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	h := sha256.New()
	for _, f := range files {
		fmt.Fprintf(h, "%s\x00%s\n", f.Path, f.Hash)
	}
	id := ID(hex.EncodeToString(h.Sum(nil)))

	m.mu.Lock()
	defer m.mu.Unlock()

	man, err := m.loadManifest(id)
	if err == nil {
		// Identical tree already captured; just attach the new label.
		if label != "" && !contains(man.Labels, label) {
			man.Labels = append(man.Labels, label)
			if err := m.saveManifest(man); err != nil {
				return "", err
			}
		}
		return id, nil
	}

	man = &manifest{ID: id, CreatedAt: time.Now().UTC(), Files: files}
	if label != "" {
		man.Labels = []string{label}
	}
	if err := m.saveManifest(man); err != nil {
		return "", err
	}
	return id, nil
}

func (m *MerkleStore) walk(ctx context.Context, rootFS, rel string, stack *ignoreStack, out *[]manifestFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(rootFS, filepath.FromSlash(rel))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		childRel := entry.Name()
		if rel != "" {
			childRel = path.Join(rel, entry.Name())
		}
		if stack.excluded(childRel, entry.IsDir()) {
			continue
		}
		if entry.IsDir() {
			child := &ignoreStack{skipHidden: stack.skipHidden, sets: stack.sets}
			child.push(rootFS, childRel)
			if err := m.walk(ctx, rootFS, childRel, child, out); err != nil {
				return err
			}
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", childRel, err)
		}
		hash, err := m.storeBlob(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		*out = append(*out, manifestFile{Path: childRel, Hash: hash, Mode: uint32(info.Mode().Perm())})
	}
	return nil
}

// storeBlob hashes the file and copies it into the CAS if absent.
func (m *MerkleStore) storeBlob(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", p, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", p, err)
	}
	hash := hex.EncodeToString(h.Sum(nil))

	dst := m.blobPath(hash)
	if _, err := os.Stat(dst); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind %s: %w", p, err)
	}
	tmp := dst + ".tmp"
	w, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return hash, nil
}

// Restore rebuilds the manifest's tree at root: files in the manifest are
// written out, tracked files absent from the manifest are removed.
func (m *MerkleStore) Restore(ctx context.Context, id ID, root string) error {
	man, err := m.loadManifest(id)
	if err != nil {
		return err
	}

	want := make(map[string]manifestFile, len(man.Files))
	for _, f := range man.Files {
		want[f.Path] = f
	}

	// Remove files the snapshot does not contain. Ignored files are left
	// alone since they were never captured.
	var current []manifestFile
	stack := newIgnoreStack(root, m.skipHidden)
	if err := m.walkPaths(ctx, root, "", stack, &current); err == nil {
		for _, f := range current {
			if _, ok := want[f.Path]; !ok {
				_ = os.Remove(filepath.Join(root, filepath.FromSlash(f.Path)))
			}
		}
	}

	for _, f := range man.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := filepath.Join(root, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return fmt.Errorf("restore mkdir: %w", err)
		}
		data, err := os.ReadFile(m.blobPath(f.Hash))
		if err != nil {
			return fmt.Errorf("read blob %s: %w", f.Hash, err)
		}
		mode := os.FileMode(f.Mode)
		if mode == 0 {
			mode = 0644
		}
		if err := os.WriteFile(dst, data, mode); err != nil {
			return fmt.Errorf("restore %s: %w", f.Path, err)
		}
	}
	return nil
}

// walkPaths is like walk but only collects paths, without storing blobs.
func (m *MerkleStore) walkPaths(ctx context.Context, rootFS, rel string, stack *ignoreStack, out *[]manifestFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(rootFS, filepath.FromSlash(rel))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		childRel := entry.Name()
		if rel != "" {
			childRel = path.Join(rel, entry.Name())
		}
		if stack.excluded(childRel, entry.IsDir()) {
			continue
		}
		if entry.IsDir() {
			child := &ignoreStack{skipHidden: stack.skipHidden, sets: stack.sets}
			child.push(rootFS, childRel)
			if err := m.walkPaths(ctx, rootFS, childRel, child, out); err != nil {
				return err
			}
			continue
		}
		if entry.Type().IsRegular() {
			*out = append(*out, manifestFile{Path: childRel})
		}
	}
	return nil
}

// Diff compares two snapshots by path and file hash.
func (m *MerkleStore) Diff(ctx context.Context, a, b ID) (Summary, error) {
	manA, err := m.loadManifest(a)
	if err != nil {
		return Summary{}, err
	}
	manB, err := m.loadManifest(b)
	if err != nil {
		return Summary{}, err
	}

	hashesA := make(map[string]string, len(manA.Files))
	for _, f := range manA.Files {
		hashesA[f.Path] = f.Hash
	}

	var sum Summary
	seen := make(map[string]bool, len(manB.Files))
	for _, f := range manB.Files {
		seen[f.Path] = true
		old, ok := hashesA[f.Path]
		switch {
		case !ok:
			sum.Added++
		case old != f.Hash:
			sum.Modified++
		}
	}
	for p := range hashesA {
		if !seen[p] {
			sum.Removed++
		}
	}
	return sum, nil
}

// GC removes manifests not retained by the policy, then sweeps blobs no
// remaining manifest references.
func (m *MerkleStore) GC(ctx context.Context, policy GCPolicy) (GCResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keep := make(map[string]bool, len(policy.KeepLabels))
	for _, l := range policy.KeepLabels {
		keep[l] = true
	}

	manifestsDir := filepath.Join(m.baseDir, "manifests")
	entries, err := os.ReadDir(manifestsDir)
	if err != nil {
		return GCResult{}, fmt.Errorf("read manifests: %w", err)
	}

	var result GCResult
	live := make(map[string]bool)
	cutoff := time.Time{}
	if policy.MaxAge > 0 {
		cutoff = time.Now().UTC().Add(-policy.MaxAge)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := ID(strings.TrimSuffix(entry.Name(), ".json"))
		man, err := m.loadManifest(id)
		if err != nil {
			continue
		}
		retain := false
		for _, l := range man.Labels {
			if keep[l] {
				retain = true
				break
			}
		}
		if !retain && !cutoff.IsZero() && man.CreatedAt.After(cutoff) {
			retain = true
		}
		if !retain && cutoff.IsZero() && len(policy.KeepLabels) == 0 {
			// Nothing requested: no-op pass.
			retain = true
		}
		if retain {
			for _, f := range man.Files {
				live[f.Hash] = true
			}
			continue
		}
		if err := os.Remove(filepath.Join(manifestsDir, entry.Name())); err == nil {
			result.ManifestsRemoved++
		}
	}

	blobsDir := filepath.Join(m.baseDir, "blobs")
	_ = filepath.WalkDir(blobsDir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !live[filepath.Base(p)] {
			if os.Remove(p) == nil {
				result.BlobsRemoved++
			}
		}
		return nil
	})

	return result, nil
}

func (m *MerkleStore) blobPath(hash string) string {
	return filepath.Join(m.baseDir, "blobs", hash[:2], hash)
}

func (m *MerkleStore) manifestPath(id ID) string {
	return filepath.Join(m.baseDir, "manifests", string(id)+".json")
}

func (m *MerkleStore) loadManifest(id ID) (*manifest, error) {
	data, err := os.ReadFile(m.manifestPath(id))
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}
	man := &manifest{}
	if err := json.Unmarshal(data, man); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", id, err)
	}
	return man, nil
}

func (m *MerkleStore) saveManifest(man *manifest) error {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp := m.manifestPath(man.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, m.manifestPath(man.ID)); err != nil {
		return fmt.Errorf("commit manifest: %w", err)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
