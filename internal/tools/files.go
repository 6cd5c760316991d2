package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxReadBytes = 256 * 1024

// ReadFileTool reads file contents from the workspace.
type ReadFileTool struct {
	resolver Resolver
}

func NewReadFileTool(workspace string) *ReadFileTool {
	return &ReadFileTool{resolver: Resolver{Root: workspace}}
}

func (t *ReadFileTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "read_file",
		Description: "Read a file from the workspace, optionally a line range.",
		InputSchema: mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to read (relative to workspace).",
				},
				"offset": map[string]any{
					"type":        "integer",
					"description": "First line to return, 1-based (default 1).",
					"minimum":     1,
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of lines to return.",
					"minimum":     1,
				},
			},
			"required": []string{"path"},
		}),
		Capabilities: []Capability{CapFilesystem},
		Variant:      VariantBuiltIn,
	}
}

func (t *ReadFileTool) Call(_ context.Context, args json.RawMessage) (Result, error) {
	var input struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return Result{}, fmt.Errorf("invalid parameters: %w", err)
	}
	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return Result{}, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Result{}, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxReadBytes {
		data = data[:maxReadBytes]
	}

	content := string(data)
	if input.Offset > 0 || input.Limit > 0 {
		lines := strings.Split(content, "\n")
		start := input.Offset - 1
		if start < 0 {
			start = 0
		}
		if start > len(lines) {
			start = len(lines)
		}
		end := len(lines)
		if input.Limit > 0 && start+input.Limit < end {
			end = start + input.Limit
		}
		content = strings.Join(lines[start:end], "\n")
	}
	return Result{Content: content}, nil
}

// WriteFileTool writes file contents within the workspace.
type WriteFileTool struct {
	resolver Resolver
}

func NewWriteFileTool(workspace string) *WriteFileTool {
	return &WriteFileTool{resolver: Resolver{Root: workspace}}
}

func (t *WriteFileTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "write_file",
		Description: "Write content to a file in the workspace (overwrites by default).",
		InputSchema: mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to write (relative to workspace).",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "File contents to write.",
				},
				"append": map[string]any{
					"type":        "boolean",
					"description": "Append instead of overwrite (default: false).",
				},
			},
			"required": []string{"path", "content"},
		}),
		Capabilities: []Capability{CapFilesystem},
		Variant:      VariantBuiltIn,
	}
}

func (t *WriteFileTool) Call(_ context.Context, args json.RawMessage) (Result, error) {
	var input struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Append  bool   `json:"append"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return Result{}, fmt.Errorf("invalid parameters: %w", err)
	}
	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Result{}, fmt.Errorf("create directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if input.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("open file: %w", err)
	}
	n, err := f.WriteString(input.Content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Result{}, fmt.Errorf("write file: %w", err)
	}

	content, err := jsonContent(map[string]any{
		"path":          input.Path,
		"bytes_written": n,
		"append":        input.Append,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Content: content}, nil
}

// DeleteFileTool removes a file from the workspace.
type DeleteFileTool struct {
	resolver Resolver
}

func NewDeleteFileTool(workspace string) *DeleteFileTool {
	return &DeleteFileTool{resolver: Resolver{Root: workspace}}
}

func (t *DeleteFileTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "delete_file",
		Description: "Delete a file in the workspace.",
		InputSchema: mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to delete (relative to workspace).",
				},
			},
			"required": []string{"path"},
		}),
		Capabilities: []Capability{CapFilesystem},
		Variant:      VariantBuiltIn,
	}
}

func (t *DeleteFileTool) Call(_ context.Context, args json.RawMessage) (Result, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return Result{}, fmt.Errorf("invalid parameters: %w", err)
	}
	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return Result{}, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return Result{}, fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("%s is a directory", input.Path)
	}
	if err := os.Remove(resolved); err != nil {
		return Result{}, fmt.Errorf("delete: %w", err)
	}
	content, err := jsonContent(map[string]any{"path": input.Path, "deleted": true})
	if err != nil {
		return Result{}, err
	}
	return Result{Content: content}, nil
}

// ListDirTool lists directory entries in the workspace.
type ListDirTool struct {
	resolver Resolver
}

func NewListDirTool(workspace string) *ListDirTool {
	return &ListDirTool{resolver: Resolver{Root: workspace}}
}

func (t *ListDirTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "list_dir",
		Description: "List entries of a workspace directory.",
		InputSchema: mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Directory to list (default: workspace root).",
				},
			},
		}),
		Capabilities: []Capability{CapFilesystem},
		Variant:      VariantBuiltIn,
	}
}

func (t *ListDirTool) Call(_ context.Context, args json.RawMessage) (Result, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return Result{}, fmt.Errorf("invalid parameters: %w", err)
	}
	if input.Path == "" {
		input.Path = "."
	}
	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return Result{}, err
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return Result{}, fmt.Errorf("read dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	content, err := jsonContent(map[string]any{"path": input.Path, "entries": names})
	if err != nil {
		return Result{}, err
	}
	return Result{Content: content}, nil
}
