package snapshot

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ignoreRule is one parsed .gitignore pattern.
type ignoreRule struct {
	pattern string
	negate  bool
	dirOnly bool
	rooted  bool
}

// ignoreSet holds the rules that apply beneath one directory.
type ignoreSet struct {
	base  string // slash path relative to the walk root, "" for the root
	rules []ignoreRule
}

// parseIgnoreFile reads .gitignore-style rules from the file at p. Missing
// files yield an empty set.
func parseIgnoreFile(p, base string) *ignoreSet {
	f, err := os.Open(p)
	if err != nil {
		return &ignoreSet{base: base}
	}
	defer func() { _ = f.Close() }()

	set := &ignoreSet{base: base}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule := ignoreRule{}
		if strings.HasPrefix(line, "!") {
			rule.negate = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			rule.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			rule.rooted = true
			line = line[1:]
		} else if strings.Contains(line, "/") {
			// A slash anywhere in the pattern anchors it to the base.
			rule.rooted = true
		}
		rule.pattern = line
		set.rules = append(set.rules, rule)
	}
	return set
}

// match reports whether rel (slash path relative to the walk root) is
// excluded by this set. Later rules win, matching git semantics.
func (s *ignoreSet) match(rel string, isDir bool) (ignored, decided bool) {
	local := rel
	if s.base != "" {
		if !strings.HasPrefix(rel, s.base+"/") {
			return false, false
		}
		local = strings.TrimPrefix(rel, s.base+"/")
	}
	for _, rule := range s.rules {
		if rule.dirOnly && !isDir {
			// Directory patterns still exclude files beneath the directory;
			// that case is handled by matching the parent during the walk.
			continue
		}
		if rule.matches(local) {
			ignored = !rule.negate
			decided = true
		}
	}
	return ignored, decided
}

func (r ignoreRule) matches(local string) bool {
	if r.rooted {
		if ok, _ := path.Match(r.pattern, local); ok {
			return true
		}
		return strings.HasPrefix(local, r.pattern+"/")
	}
	// Unrooted patterns match any path segment.
	base := path.Base(local)
	if ok, _ := path.Match(r.pattern, base); ok {
		return true
	}
	for _, seg := range strings.Split(path.Dir(local), "/") {
		if ok, _ := path.Match(r.pattern, seg); ok {
			return true
		}
	}
	return false
}

// ignoreStack accumulates ignore sets from the root downward.
type ignoreStack struct {
	sets         []*ignoreSet
	skipHidden   bool
	walkRootName string
}

func newIgnoreStack(root string, skipHidden bool) *ignoreStack {
	st := &ignoreStack{skipHidden: skipHidden, walkRootName: filepath.Base(root)}
	st.sets = append(st.sets, parseIgnoreFile(filepath.Join(root, ".gitignore"), ""))
	return st
}

// push parses the .gitignore inside dir (slash path relative to root).
func (st *ignoreStack) push(rootFS, dir string) {
	if dir == "" {
		return
	}
	st.sets = append(st.sets, parseIgnoreFile(filepath.Join(rootFS, filepath.FromSlash(dir), ".gitignore"), dir))
}

// excluded reports whether rel should be skipped.
func (st *ignoreStack) excluded(rel string, isDir bool) bool {
	name := path.Base(rel)
	if name == ".git" {
		return true
	}
	if st.skipHidden && strings.HasPrefix(name, ".") && name != ".gitignore" {
		return true
	}
	ignored := false
	for _, set := range st.sets {
		if ig, decided := set.match(rel, isDir); decided {
			ignored = ig
		}
	}
	return ignored
}
