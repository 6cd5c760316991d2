package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/qmt/internal/models"
)

const (
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultMaxTokens      = 4096
)

// Anthropic adapts the Anthropic Messages API to the Provider contract.
type Anthropic struct {
	api          *anthropic.Client
	defaultModel string
	maxTries     uint
}

// AnthropicConfig configures the adapter. APIKey falls back to the SDK's
// environment lookup when empty.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTries     uint
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := cfg.DefaultModel
	if model == "" {
		model = defaultAnthropicModel
	}
	tries := cfg.MaxTries
	if tries == 0 {
		tries = 4
	}
	return &Anthropic{api: &client, defaultModel: model, maxTries: tries}
}

func (a *Anthropic) Name() string { return "anthropic" }

// ListModels returns the models this adapter is known to work with.
func (a *Anthropic) ListModels(_ context.Context) ([]string, error) {
	return []string{
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
	}, nil
}

// Chat sends the full history plus tool set and returns the model's reply.
// Transport failures are retried; a malformed response is not.
func (a *Anthropic) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := chatWithRetry(ctx, a.maxTries, func() (*anthropic.Message, error) {
		return a.api.Messages.New(ctx, params)
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	resp := &ChatResponse{
		FinishReason: string(msg.StopReason),
		Usage: models.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "thinking":
			resp.Thinking += block.AsThinking().Thinking
		case "tool_use":
			toolUse := block.AsToolUse()
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: json.RawMessage(toolUse.Input),
			})
		}
	}
	return resp, nil
}

func (a *Anthropic) buildParams(req ChatRequest) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if v, ok := floatParam(req.Params, "temperature"); ok {
		params.Temperature = anthropic.Float(v)
	}
	if v, ok := floatParam(req.Params, "top_p"); ok {
		params.TopP = anthropic.Float(v)
	}
	if v, ok := floatParam(req.Params, "top_k"); ok {
		params.TopK = anthropic.Int(int64(v))
	}
	return params, nil
}

// convertMessages maps message parts onto Anthropic content blocks. Role
// tool maps to a user message; snapshot and image parts are internal
// journal markers and are not sent to the model.
func convertMessages(messages []models.AgentMessage) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		for _, part := range msg.Parts {
			switch part.Type {
			case models.PartText:
				if part.Content != "" {
					content = append(content, anthropic.NewTextBlock(part.Content))
				}
			case models.PartToolUse:
				var input map[string]any
				if len(part.Arguments) > 0 {
					if err := json.Unmarshal(part.Arguments, &input); err != nil {
						return nil, fmt.Errorf("tool call %s arguments: %w", part.CallID, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(part.CallID, input, part.Name))
			case models.PartToolResult:
				content = append(content, anthropic.NewToolResultBlock(part.CallID, part.Result, part.IsError))
			}
		}
		if len(content) == 0 {
			continue
		}
		if msg.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out, nil
}

func convertTools(tools []ToolSchema) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		out = append(out, param)
	}
	return out, nil
}

func floatParam(params map[string]any, key string) (float64, bool) {
	raw, ok := params[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
