package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const defaultShellTimeout = 60 * time.Second

// ShellTool runs shell commands inside the workspace.
type ShellTool struct {
	resolver Resolver
}

// NewShellTool creates a shell tool rooted at the workspace.
func NewShellTool(workspace string) *ShellTool {
	return &ShellTool{resolver: Resolver{Root: workspace}}
}

func (t *ShellTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "shell",
		Description: "Run a shell command in the workspace and return its output and exit code.",
		InputSchema: mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to execute.",
				},
				"cwd": map[string]any{
					"type":        "string",
					"description": "Working directory (relative to workspace).",
				},
				"timeout_seconds": map[string]any{
					"type":        "integer",
					"description": "Timeout in seconds (default 60).",
					"minimum":     0,
				},
			},
			"required": []string{"command"},
		}),
		Capabilities: []Capability{CapProcess},
		Variant:      VariantBuiltIn,
	}
}

func (t *ShellTool) Call(ctx context.Context, args json.RawMessage) (Result, error) {
	var input struct {
		Command        string `json:"command"`
		Cwd            string `json:"cwd"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return Result{}, fmt.Errorf("invalid parameters: %w", err)
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return Result{}, fmt.Errorf("command is required")
	}

	dir := t.resolver.Root
	if input.Cwd != "" {
		resolved, err := t.resolver.Resolve(input.Cwd)
		if err != nil {
			return Result{}, err
		}
		dir = resolved
	}

	timeout := defaultShellTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if runCtx.Err() == context.DeadlineExceeded {
			return Result{IsError: true, Content: fmt.Sprintf("command timed out after %s", timeout)}, nil
		} else {
			return Result{}, fmt.Errorf("run command: %w", runErr)
		}
	}

	content, err := jsonContent(map[string]any{
		"exit_code": exitCode,
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{IsError: exitCode != 0, Content: content}, nil
}
