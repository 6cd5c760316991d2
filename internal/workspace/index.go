// Package workspace maintains cached per-workspace indices: the file tree
// plus a function index for Go sources. Index construction is CPU-bound and
// runs at most once per root at a time.
package workspace

import (
	"bufio"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FunctionInfo locates one top-level function or method in the workspace.
type FunctionInfo struct {
	Name     string
	Receiver string
	File     string
	Line     int
}

// Index is an immutable snapshot of a workspace's shape.
type Index struct {
	Root       string
	Language   string
	ModulePath string
	Files      []string
	Functions  []FunctionInfo
	BuiltAt    time.Time
}

// BuildIndex scans the tree rooted at root. Hidden directories, vendor
// trees, and .git are skipped.
func BuildIndex(root string) (*Index, error) {
	idx := &Index{
		Root:     root,
		Language: DetectLanguage(root),
		BuiltAt:  time.Now().UTC(),
	}
	if idx.Language == "go" {
		if mod, err := modulePath(root); err == nil {
			idx.ModulePath = mod
		}
	}

	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p == root {
				return nil
			}
			if name == ".git" || name == "vendor" || name == "node_modules" || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		idx.Files = append(idx.Files, rel)
		if strings.HasSuffix(name, ".go") {
			idx.Functions = append(idx.Functions, scanGoFile(p, rel)...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", root, err)
	}

	sort.Strings(idx.Files)
	sort.Slice(idx.Functions, func(i, j int) bool {
		if idx.Functions[i].File != idx.Functions[j].File {
			return idx.Functions[i].File < idx.Functions[j].File
		}
		return idx.Functions[i].Line < idx.Functions[j].Line
	})
	return idx, nil
}

// scanGoFile extracts top-level functions and methods. Parse errors yield
// an empty result; a broken file should not fail the whole index.
func scanGoFile(p, rel string) []FunctionInfo {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, p, nil, parser.SkipObjectResolution)
	if err != nil {
		return nil
	}
	var funcs []FunctionInfo
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		info := FunctionInfo{
			Name: fd.Name.Name,
			File: rel,
			Line: fset.Position(fd.Pos()).Line,
		}
		if fd.Recv != nil && len(fd.Recv.List) > 0 {
			info.Receiver = receiverName(fd.Recv.List[0].Type)
		}
		funcs = append(funcs, info)
	}
	return funcs
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.IndexExpr:
		return receiverName(t.X)
	case *ast.IndexListExpr:
		return receiverName(t.X)
	}
	return ""
}

// modulePath reads the module line from go.mod.
func modulePath(root string) (string, error) {
	f, err := os.Open(filepath.Join(root, "go.mod"))
	if err != nil {
		return "", fmt.Errorf("open go.mod: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "module ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "module ")), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read go.mod: %w", err)
	}
	return "", fmt.Errorf("module line not found")
}

// DetectLanguage guesses the primary language of a workspace from its
// build manifests.
func DetectLanguage(root string) string {
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
		return "go"
	}
	if _, err := os.Stat(filepath.Join(root, "package.json")); err == nil {
		return "javascript"
	}
	if _, err := os.Stat(filepath.Join(root, "Cargo.toml")); err == nil {
		return "rust"
	}
	if _, err := os.Stat(filepath.Join(root, "pyproject.toml")); err == nil {
		return "python"
	}
	if _, err := os.Stat(filepath.Join(root, "requirements.txt")); err == nil {
		return "python"
	}
	return ""
}

// Tree renders the file list as an indented tree, capped at maxEntries
// lines (0 = no cap). Used by the system-prompt git_tree variable.
func (idx *Index) Tree(maxEntries int) string {
	var b strings.Builder
	for i, f := range idx.Files {
		if maxEntries > 0 && i >= maxEntries {
			fmt.Fprintf(&b, "... (%d more)\n", len(idx.Files)-maxEntries)
			break
		}
		depth := strings.Count(f, "/")
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(path.Base(f))
		b.WriteString("\n")
	}
	return b.String()
}
