package agent

import (
	"fmt"
	"os"
	"os/user"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joescharf/qmt/internal/git"
	"github.com/joescharf/qmt/internal/workspace"
)

// templateVars is the fixed variable set system prompts may reference.
// Unknown variables fail validation at config load.
var templateVars = map[string]bool{
	"cwd": true, "is_git": true, "git_tree": true,
	"date": true, "datetime": true, "timezone": true,
	"platform": true, "os_version": true, "arch": true,
	"hostname": true, "username": true, "shell": true,
	"home_dir": true, "locale": true,
	"provider": true, "model": true, "agent_id": true, "has_mesh": true,
}

var templateRef = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

// ValidateTemplate checks that a system prompt references only known
// variables.
func ValidateTemplate(tmpl string) error {
	var unknown []string
	for _, m := range templateRef.FindAllStringSubmatch(tmpl, -1) {
		if !templateVars[m[1]] {
			unknown = append(unknown, m[1])
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown template variables: %s", strings.Join(unknown, ", "))
	}
	return nil
}

const gitTreeMaxEntries = 200

// resolveTemplate substitutes every variable with its value. Values are
// resolved once, at session creation.
func resolveTemplate(tmpl, cwd, providerName, model, agentID string, idx *workspace.Index) string {
	if tmpl == "" {
		return ""
	}

	now := time.Now()
	hostname, _ := os.Hostname()
	username := ""
	home := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
		home = u.HomeDir
	}
	shell := os.Getenv("SHELL")
	locale := os.Getenv("LANG")
	tz, _ := now.Zone()

	isGit := false
	if _, err := git.NewClient().RepoRoot(cwd); err == nil {
		isGit = true
	}
	tree := ""
	if idx != nil {
		tree = idx.Tree(gitTreeMaxEntries)
	}

	values := map[string]string{
		"cwd":        cwd,
		"is_git":     strconv.FormatBool(isGit),
		"git_tree":   tree,
		"date":       now.Format("2006-01-02"),
		"datetime":   now.Format(time.RFC3339),
		"timezone":   tz,
		"platform":   runtime.GOOS,
		"os_version": osVersion(),
		"arch":       runtime.GOARCH,
		"hostname":   hostname,
		"username":   username,
		"shell":      shell,
		"home_dir":   home,
		"locale":     locale,
		"provider":   providerName,
		"model":      model,
		"agent_id":   agentID,
		"has_mesh":   "false",
	}

	return templateRef.ReplaceAllStringFunc(tmpl, func(ref string) string {
		name := templateRef.FindStringSubmatch(ref)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return ref
	})
}

func osVersion() string {
	if data, err := os.ReadFile("/proc/sys/kernel/osrelease"); err == nil {
		return strings.TrimSpace(string(data))
	}
	return runtime.GOOS
}
