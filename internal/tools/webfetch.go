package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultFetchTimeout  = 30 * time.Second
	defaultFetchMaxBytes = 512 * 1024
)

// WebFetchTool fetches a URL and returns the response body as text.
type WebFetchTool struct {
	client *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{client: &http.Client{Timeout: defaultFetchTimeout}}
}

func (t *WebFetchTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "web_fetch",
		Description: "Fetch a URL over HTTP(S) and return the response body.",
		InputSchema: mustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "URL to fetch (http or https).",
				},
				"max_bytes": map[string]any{
					"type":        "integer",
					"description": "Truncate the body after this many bytes.",
					"minimum":     1,
				},
			},
			"required": []string{"url"},
		}),
		Capabilities: []Capability{CapNetwork},
		Variant:      VariantBuiltIn,
	}
}

func (t *WebFetchTool) Call(ctx context.Context, args json.RawMessage) (Result, error) {
	var input struct {
		URL      string `json:"url"`
		MaxBytes int64  `json:"max_bytes"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return Result{}, fmt.Errorf("invalid parameters: %w", err)
	}
	if !strings.HasPrefix(input.URL, "http://") && !strings.HasPrefix(input.URL, "https://") {
		return Result{}, fmt.Errorf("url must be http or https")
	}
	maxBytes := input.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultFetchMaxBytes
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, input.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read body: %w", err)
	}

	content, err := jsonContent(map[string]any{
		"url":         input.URL,
		"status":      resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":        string(body),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{IsError: resp.StatusCode >= 400, Content: content}, nil
}
