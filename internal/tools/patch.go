package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ApplyPatchTool applies unified diffs to workspace files.
type ApplyPatchTool struct {
	resolver Resolver
}

func NewApplyPatchTool(workspace string) *ApplyPatchTool {
	return &ApplyPatchTool{resolver: Resolver{Root: workspace}}
}

func (t *ApplyPatchTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "apply_patch",
		Description: "Apply a unified diff patch to one or more files in the workspace.",
		InputSchema: mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"patch": map[string]any{
					"type":        "string",
					"description": "Unified diff patch (---/+++ headers required).",
				},
			},
			"required": []string{"patch"},
		}),
		Capabilities: []Capability{CapFilesystem},
		Variant:      VariantBuiltIn,
	}
}

func (t *ApplyPatchTool) Call(_ context.Context, args json.RawMessage) (Result, error) {
	var input struct {
		Patch string `json:"patch"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return Result{}, fmt.Errorf("invalid parameters: %w", err)
	}
	if strings.TrimSpace(input.Patch) == "" {
		return Result{}, fmt.Errorf("patch is required")
	}

	patches, err := parseUnifiedDiff(input.Patch)
	if err != nil {
		return Result{}, err
	}

	applied := make([]map[string]any, 0, len(patches))
	for _, fp := range patches {
		resolved, err := t.resolver.Resolve(fp.path)
		if err != nil {
			return Result{}, err
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return Result{}, fmt.Errorf("read file: %w", err)
		}
		updated, added, removed, err := applyFilePatch(string(data), fp)
		if err != nil {
			return Result{}, fmt.Errorf("apply patch to %s: %w", fp.path, err)
		}
		if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
			return Result{}, fmt.Errorf("write file: %w", err)
		}
		applied = append(applied, map[string]any{
			"path":          fp.path,
			"hunks":         len(fp.hunks),
			"lines_added":   added,
			"lines_removed": removed,
		})
	}

	content, err := jsonContent(map[string]any{"applied": applied})
	if err != nil {
		return Result{}, err
	}
	return Result{Content: content}, nil
}

type filePatch struct {
	path  string
	hunks []hunk
}

type hunk struct {
	oldStart int
	lines    []string
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

func parseUnifiedDiff(patch string) ([]filePatch, error) {
	lines := strings.Split(patch, "\n")
	var patches []filePatch
	var current *filePatch
	var currentHunk *hunk

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "diff ") || strings.HasPrefix(line, "index "):
			continue
		case strings.HasPrefix(line, "--- "):
			if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
				return nil, fmt.Errorf("invalid patch: missing +++ header")
			}
			newPath := strings.TrimSpace(strings.TrimPrefix(lines[i+1], "+++ "))
			newPath = strings.TrimPrefix(strings.TrimPrefix(newPath, "b/"), "a/")
			patches = append(patches, filePatch{path: newPath})
			current = &patches[len(patches)-1]
			currentHunk = nil
			i++
		case strings.HasPrefix(line, "@@ "):
			if current == nil {
				return nil, fmt.Errorf("invalid patch: hunk without file header")
			}
			match := hunkHeader.FindStringSubmatch(line)
			if match == nil {
				return nil, fmt.Errorf("invalid patch: malformed hunk header")
			}
			oldStart, _ := strconv.Atoi(match[1])
			current.hunks = append(current.hunks, hunk{oldStart: oldStart})
			currentHunk = &current.hunks[len(current.hunks)-1]
		default:
			if currentHunk == nil || line == "" || line == "\\ No newline at end of file" {
				continue
			}
			switch line[:1] {
			case " ", "+", "-":
				currentHunk.lines = append(currentHunk.lines, line)
			default:
				return nil, fmt.Errorf("invalid patch line: %s", line)
			}
		}
	}

	if len(patches) == 0 {
		return nil, fmt.Errorf("invalid patch: no file headers found")
	}
	return patches, nil
}

func applyFilePatch(content string, fp filePatch) (out string, added, removed int, err error) {
	hadTrailing := strings.HasSuffix(content, "\n")
	trimmed := strings.TrimSuffix(content, "\n")
	var lines []string
	if trimmed != "" {
		lines = strings.Split(trimmed, "\n")
	}

	for _, h := range fp.hunks {
		idx := h.oldStart - 1
		if idx < 0 {
			idx = 0
		}
		for _, line := range h.lines {
			prefix, text := line[:1], ""
			if len(line) > 1 {
				text = line[1:]
			}
			switch prefix {
			case " ":
				if idx >= len(lines) || lines[idx] != text {
					return "", 0, 0, fmt.Errorf("context mismatch at line %d", idx+1)
				}
				idx++
			case "-":
				if idx >= len(lines) || lines[idx] != text {
					return "", 0, 0, fmt.Errorf("delete mismatch at line %d", idx+1)
				}
				lines = append(lines[:idx], lines[idx+1:]...)
				removed++
			case "+":
				lines = append(lines[:idx], append([]string{text}, lines[idx:]...)...)
				idx++
				added++
			}
		}
	}

	out = strings.Join(lines, "\n")
	if hadTrailing {
		out += "\n"
	}
	return out, added, removed, nil
}
