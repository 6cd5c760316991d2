package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/qmt/internal/workspace"
)

func TestValidateTemplate(t *testing.T) {
	assert.NoError(t, ValidateTemplate(""))
	assert.NoError(t, ValidateTemplate("no variables at all"))
	assert.NoError(t, ValidateTemplate("cwd={{cwd}} model={{ model }} date={{date}}"))

	err := ValidateTemplate("hello {{nickname}} on {{platforn}}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown template variables: nickname, platforn")
}

func TestResolveTemplate_SubstitutesValues(t *testing.T) {
	got := resolveTemplate(
		"dir={{cwd}} provider={{provider}} model={{model}} session={{agent_id}} mesh={{has_mesh}}",
		"/work/repo", "scripted", "scripted-1", "sess-42", nil,
	)
	assert.Equal(t, "dir=/work/repo provider=scripted model=scripted-1 session=sess-42 mesh=false", got)
}

func TestResolveTemplate_EmptyTemplate(t *testing.T) {
	assert.Empty(t, resolveTemplate("", "/work", "p", "m", "s", nil))
}

func TestResolveTemplate_DateFormats(t *testing.T) {
	got := resolveTemplate("today is {{date}}", "/work", "p", "m", "s", nil)
	assert.Contains(t, got, time.Now().Format("2006-01-02"))
}

func TestResolveTemplate_GitTree(t *testing.T) {
	idx := &workspace.Index{Files: []string{"main.go", "internal/core.go"}}
	got := resolveTemplate("{{git_tree}}", "/work", "p", "m", "s", idx)
	assert.Contains(t, got, "main.go")
	assert.Contains(t, got, "core.go")

	// Without an index the variable resolves to nothing.
	got = resolveTemplate("[{{git_tree}}]", "/work", "p", "m", "s", nil)
	assert.Equal(t, "[]", got)
}
