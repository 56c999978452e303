package llm

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog/log"
	"github.com/zanbei/agentx/errors"
	"github.com/zanbei/agentx/session"
)

// OpenAIClient is a client for OpenAI-compatible Chat Completion APIs. Any
// server speaking the protocol can be targeted through base_url.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAIClient creates a new OpenAIClient. A missing key or base URL is
// not an error here; the first call fails instead.
func NewOpenAIClient(modelName string, st OpenAISettings, p Policy, maxTokens int) *OpenAIClient {
	options := []option.RequestOption{
		option.WithRequestTimeout(p.ReadTimeout),
	}
	if p.MaxAttempts > 0 {
		options = append(options, option.WithMaxRetries(p.MaxAttempts-1))
	}
	if st.APIKey != "" {
		options = append(options, option.WithAPIKey(st.APIKey))
	}
	if st.BaseURL != "" {
		options = append(options, option.WithBaseURL(st.BaseURL))
	}

	// The v2 SDK uses functional options for configuration.
	c := openai.NewClient(options...)
	// The &c is required, do not replace and just use c
	return &OpenAIClient{client: &c, model: modelName, maxTokens: maxTokens}
}

// Converse sends a chat request and converts the response into one assistant turn.
func (o *OpenAIClient) Converse(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: convertMessagesToOpenaiContent(req.System, req.Messages),
		Tools:    convertToolsToOpenAITools(req.Tools),
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = o.maxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message to OpenAI")
	}

	return processOpenaiResponse(resp)
}

// processOpenaiResponse converts an OpenAI API response into one assistant turn.
func processOpenaiResponse(resp *openai.ChatCompletion) (*Response, error) {
	out := &Response{
		Message:    session.Message{Role: session.RoleAssistant},
		StopReason: StopEndTurn,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.Message.Content != "" {
		out.Message.Content = append(out.Message.Content, session.ContentBlock{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		var toolArgs map[string]any
		if tc.Function.Arguments != "" {
			// Arguments are a JSON string; we expect it to be a flat map of arguments.
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &toolArgs); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal function call arguments from OpenAI")
			}
		}
		out.Message.Content = append(out.Message.Content, session.ContentBlock{
			ToolUse: newToolUse(tc.ID, tc.Function.Name, toolArgs),
		})
	}
	out.StopReason = stopReason(choice.FinishReason, out.Message)
	return out, nil
}

// convertMessagesToOpenaiContent converts our internal message format to OpenAI's.
// Tool results become one tool-role message each.
func convertMessagesToOpenaiContent(system string, messages []session.Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		chatMessages = append(chatMessages, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case session.RoleAssistant:
			assistantMessage := openai.ChatCompletionMessage{
				Role:    "assistant",
				Content: msg.Text(),
			}
			for _, tu := range msg.ToolUses() {
				argsBytes, err := json.Marshal(tu.Input)
				if err != nil {
					log.Warn().Err(err).Str("tool", tu.Name).Msg("Could not marshal tool call arguments, skipping call in history")
					continue
				}
				assistantMessage.ToolCalls = append(assistantMessage.ToolCalls, openai.ChatCompletionMessageToolCallUnion{
					ID:   tu.ToolUseID,
					Type: "function",
					Function: openai.ChatCompletionMessageFunctionToolCallFunction{
						Name:      tu.Name,
						Arguments: string(argsBytes),
					},
				})
			}
			chatMessages = append(chatMessages, assistantMessage.ToParam())
		default:
			for _, tr := range msg.ToolResults() {
				chatMessages = append(chatMessages, openai.ToolMessage(tr.Text(), tr.ToolUseID))
			}
			if text := msg.Text(); text != "" {
				chatMessages = append(chatMessages, openai.UserMessage(text))
			}
		}
	}
	return chatMessages
}

// convertToolsToOpenAITools converts tool specs to the OpenAI Tool format.
func convertToolsToOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	var openAITools []openai.ChatCompletionToolUnionParam
	for _, s := range specs {
		toolParam := openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        s.Name,
			Description: openai.String(s.Description),
			Parameters:  openai.FunctionParameters(s.InputSchema),
		})
		openAITools = append(openAITools, toolParam)
	}
	return openAITools
}
