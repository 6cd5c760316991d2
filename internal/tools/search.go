package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const defaultSearchLimit = 100

// SearchTextTool searches file contents under the workspace with a
// regular expression.
type SearchTextTool struct {
	resolver Resolver
}

func NewSearchTextTool(workspace string) *SearchTextTool {
	return &SearchTextTool{resolver: Resolver{Root: workspace}}
}

func (t *SearchTextTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "search_text",
		Description: "Search workspace files for a regular expression and return matching lines.",
		InputSchema: mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Go regular expression to search for.",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Directory to search (default: workspace root).",
				},
				"max_results": map[string]any{
					"type":        "integer",
					"description": "Maximum matches to return (default 100).",
					"minimum":     1,
				},
			},
			"required": []string{"pattern"},
		}),
		Capabilities: []Capability{CapFilesystem},
		Variant:      VariantBuiltIn,
	}
}

func (t *SearchTextTool) Call(ctx context.Context, args json.RawMessage) (Result, error) {
	var input struct {
		Pattern    string `json:"pattern"`
		Path       string `json:"path"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return Result{}, fmt.Errorf("invalid parameters: %w", err)
	}
	re, err := regexp.Compile(input.Pattern)
	if err != nil {
		return Result{}, fmt.Errorf("invalid pattern: %w", err)
	}
	if input.Path == "" {
		input.Path = "."
	}
	root, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return Result{}, err
	}
	limit := input.MaxResults
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	type match struct {
		File string `json:"file"`
		Line int    `json:"line"`
		Text string `json:"text"`
	}
	var matches []match

	err = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := d.Name()
		if d.IsDir() {
			if name == ".git" || name == "vendor" || name == "node_modules" || (strings.HasPrefix(name, ".") && p != root) {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= limit {
			return filepath.SkipAll
		}

		data, err := os.ReadFile(p)
		if err != nil || bytes.IndexByte(data, 0) >= 0 {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Text()
			if re.MatchString(line) {
				matches = append(matches, match{File: filepath.ToSlash(rel), Line: lineNo, Text: line})
				if len(matches) >= limit {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	content, err := jsonContent(map[string]any{
		"pattern": input.Pattern,
		"matches": matches,
		"count":   len(matches),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Content: content}, nil
}
