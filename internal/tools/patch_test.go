package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPatchTool_ModifiesFile(t *testing.T) {
	root := t.TempDir()
	original := "package main\n\nfunc main() {\n\tprintln(\"old\")\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte(original), 0644))
	tool := NewApplyPatchTool(root)

	patch := `--- a/main.go
+++ b/main.go
@@ -4,1 +4,1 @@
-	println("old")
+	println("new")
`
	args, err := json.Marshal(map[string]string{"patch": patch})
	require.NoError(t, err)

	res, err := tool.Call(context.Background(), args)
	require.NoError(t, err)
	assert.Contains(t, res.Content, `"lines_added": 1`)
	assert.Contains(t, res.Content, `"lines_removed": 1`)

	data, err := os.ReadFile(filepath.Join(root, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() {\n\tprintln(\"new\")\n}\n", string(data))
}

func TestApplyPatchTool_ContextMismatch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("actual content\n"), 0644))
	tool := NewApplyPatchTool(root)

	patch := `--- a/a.txt
+++ b/a.txt
@@ -1,1 +1,1 @@
-expected content
+replacement
`
	args, _ := json.Marshal(map[string]string{"patch": patch})
	_, err := tool.Call(context.Background(), args)
	assert.ErrorContains(t, err, "mismatch")
}

func TestApplyPatchTool_RejectsMalformedPatch(t *testing.T) {
	tool := NewApplyPatchTool(t.TempDir())

	for name, patch := range map[string]string{
		"empty":           "   ",
		"no file headers": "@@ -1,1 +1,1 @@\n-a\n+b\n",
		"missing plus":    "--- a/x.txt\n@@ -1 +1 @@\n",
	} {
		t.Run(name, func(t *testing.T) {
			args, _ := json.Marshal(map[string]string{"patch": patch})
			_, err := tool.Call(context.Background(), args)
			assert.Error(t, err)
		})
	}
}

func TestParseUnifiedDiff_MultipleFiles(t *testing.T) {
	patch := `--- a/one.txt
+++ b/one.txt
@@ -1,1 +1,1 @@
-old one
+new one
--- a/two.txt
+++ b/two.txt
@@ -1,1 +1,1 @@
-old two
+new two
`
	patches, err := parseUnifiedDiff(patch)
	require.NoError(t, err)
	require.Len(t, patches, 2)
	assert.Equal(t, "one.txt", patches[0].path)
	assert.Equal(t, "two.txt", patches[1].path)
	require.Len(t, patches[0].hunks, 1)
	assert.Equal(t, 1, patches[0].hunks[0].oldStart)
}

func TestApplyFilePatch_InsertOnly(t *testing.T) {
	fp := filePatch{
		path: "x.txt",
		hunks: []hunk{{
			oldStart: 1,
			lines:    []string{" first", "+inserted", " second"},
		}},
	}
	out, added, removed, err := applyFilePatch("first\nsecond\n", fp)
	require.NoError(t, err)
	assert.Equal(t, "first\ninserted\nsecond\n", out)
	assert.Equal(t, 1, added)
	assert.Equal(t, 0, removed)
}
