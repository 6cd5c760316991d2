package tools

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_RelativeStaysInside(t *testing.T) {
	root := t.TempDir()
	r := Resolver{Root: root}

	got, err := r.Resolve("sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sub", "file.txt"), got)
}

func TestResolver_RejectsEscape(t *testing.T) {
	r := Resolver{Root: t.TempDir()}

	for _, p := range []string{
		"../outside.txt",
		"../../etc/passwd",
		"sub/../../outside.txt",
	} {
		_, err := r.Resolve(p)
		assert.ErrorContains(t, err, "escapes workspace", "path %q", p)
	}
}

func TestResolver_AbsoluteInsideRootAllowed(t *testing.T) {
	root := t.TempDir()
	r := Resolver{Root: root}

	inside := filepath.Join(root, "a.txt")
	got, err := r.Resolve(inside)
	require.NoError(t, err)
	assert.Equal(t, inside, got)

	_, err = r.Resolve("/definitely/not/in/root")
	assert.Error(t, err)
}

func TestResolver_EmptyPath(t *testing.T) {
	r := Resolver{Root: t.TempDir()}
	_, err := r.Resolve("   ")
	assert.ErrorContains(t, err, "path is required")
}

func TestResolver_DotRootCurrentDir(t *testing.T) {
	r := Resolver{}
	got, err := r.Resolve("file.txt")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))
}
