package llm

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/zanbei/agentx/errors"
	"github.com/zanbei/agentx/session"
)

// AnthropicClient is a client for the Anthropic API.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicClient creates a new AnthropicClient.
func NewAnthropicClient(modelName string, st AnthropicSettings, p Policy, maxTokens int) *AnthropicClient {
	options := []option.RequestOption{
		option.WithAPIKey(st.APIKey),
		option.WithRequestTimeout(p.ReadTimeout),
	}
	if p.MaxAttempts > 0 {
		options = append(options, option.WithMaxRetries(p.MaxAttempts-1))
	}
	if st.BaseURL != "" {
		options = append(options, option.WithBaseURL(st.BaseURL))
	}
	client := anthropic.NewClient(options...)

	return &AnthropicClient{
		client:    &client,
		model:     modelName,
		maxTokens: maxTokens,
	}
}

// Converse sends one turn to the Anthropic API.
func (a *AnthropicClient) Converse(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.maxTokens
	}
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessagesToAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}
	for _, toolParam := range convertToolsToAnthropicTools(req.Tools) {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to Anthropic")
	}

	return processAnthropicResponse(resp)
}

// convertMessagesToAnthropicMessages converts our internal message format to Anthropic's format.
func convertMessagesToAnthropicMessages(messages []session.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, c := range msg.Content {
			switch {
			case c.ToolUse != nil:
				input := c.ToolUse.Input
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ToolUse.ToolUseID, input, c.ToolUse.Name))
			case c.ToolResult != nil:
				blocks = append(blocks, anthropic.NewToolResultBlock(
					c.ToolResult.ToolUseID, c.ToolResult.Text(), c.ToolResult.Status == session.StatusError))
			case c.Text != "":
				blocks = append(blocks, anthropic.NewTextBlock(c.Text))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == session.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// convertToolsToAnthropicTools converts tool specs to Anthropic's tool format.
func convertToolsToAnthropicTools(specs []ToolSpec) []anthropic.ToolParam {
	var out []anthropic.ToolParam
	for _, s := range specs {
		schema := anthropic.ToolInputSchemaParam{Properties: s.InputSchema["properties"]}
		if req, ok := s.InputSchema["required"].([]any); ok {
			for _, r := range req {
				if name, ok := r.(string); ok {
					schema.Required = append(schema.Required, name)
				}
			}
		}
		out = append(out, anthropic.ToolParam{
			Name:        s.Name,
			Description: anthropic.String(s.Description),
			InputSchema: schema,
		})
	}
	return out
}

// processAnthropicResponse converts an Anthropic API response into one assistant turn.
func processAnthropicResponse(resp *anthropic.Message) (*Response, error) {
	msg := session.Message{Role: session.RoleAssistant}
	for _, content := range resp.Content {
		switch c := content.AsAny().(type) {
		case anthropic.TextBlock:
			msg.Content = append(msg.Content, session.ContentBlock{Text: c.Text})
		case anthropic.ToolUseBlock:
			var args map[string]any
			if len(c.Input) > 0 {
				if err := json.Unmarshal(c.Input, &args); err != nil {
					return nil, errors.Wrapf(err, "failed to unmarshal tool call input")
				}
			}
			msg.Content = append(msg.Content, session.ContentBlock{ToolUse: newToolUse(c.ID, c.Name, args)})
		}
	}

	return &Response{
		Message:    msg,
		StopReason: stopReason(string(resp.StopReason), msg),
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}
