package llm

import (
	"context"
	"encoding/json"
	"net"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/oklog/ulid/v2"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
	"github.com/zanbei/agentx/session"
)

type modelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient is a client for the Anthropic models on AWS Bedrock.
type BedrockClient struct {
	client    modelInvoker
	modelID   string
	region    string
	maxTokens int
}

// NewBedrockClient creates a new BedrockClient. Region comes from settings,
// then AWS_REGION, then AWS_DEFAULT_REGION. BEDROCK_ENDPOINT_URL overrides the
// service endpoint. Credentials follow the default AWS chain unless the build
// environment carries static keys.
func NewBedrockClient(ctx context.Context, modelID string, st BedrockSettings, env definition.Env, p Policy, maxTokens int) (*BedrockClient, error) {
	region := st.Region
	if region == "" {
		region = env.Lookup("AWS_REGION", "AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = DefaultBedrockRegion
	}
	endpoint := st.Endpoint
	if endpoint == "" {
		endpoint = env.Get("BEDROCK_ENDPOINT_URL")
	}

	httpClient := awshttp.NewBuildableClient().
		WithTimeout(p.ReadTimeout).
		WithDialerOptions(func(d *net.Dialer) { d.Timeout = p.ConnectTimeout })
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(httpClient),
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) { o.MaxAttempts = p.MaxAttempts })
		}),
	}
	if key, secret := env["AWS_ACCESS_KEY_ID"], env["AWS_SECRET_ACCESS_KEY"]; key != "" && secret != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, env["AWS_SESSION_TOKEN"])))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &BedrockClient{
		client:    client,
		modelID:   modelID,
		region:    region,
		maxTokens: maxTokens,
	}, nil
}

// Region reports the region the client was built for.
func (b *BedrockClient) Region() string { return b.region }

// Converse sends one turn to the Anthropic model via AWS Bedrock.
func (b *BedrockClient) Converse(ctx context.Context, req Request) (*Response, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = b.maxTokens
	}
	requestBody, err := createAnthropicRequest(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to invoke Bedrock model")
	}

	return processBedrockResponse(resp.Body)
}

// convertMessagesToAnthropicFormat converts our internal message format to
// the Anthropic messages format used on Bedrock.
func convertMessagesToAnthropicFormat(messages []session.Message) []map[string]any {
	var out []map[string]any
	for _, msg := range messages {
		var content []map[string]any
		for _, c := range msg.Content {
			switch {
			case c.ToolUse != nil:
				input := c.ToolUse.Input
				if input == nil {
					input = map[string]any{}
				}
				content = append(content, map[string]any{
					"type":  "tool_use",
					"id":    c.ToolUse.ToolUseID,
					"name":  c.ToolUse.Name,
					"input": input,
				})
			case c.ToolResult != nil:
				content = append(content, map[string]any{
					"type":        "tool_result",
					"tool_use_id": c.ToolResult.ToolUseID,
					"content": []map[string]any{
						{"type": "text", "text": c.ToolResult.Text()},
					},
					"is_error": c.ToolResult.Status == session.StatusError,
				})
			case c.Text != "":
				content = append(content, map[string]any{"type": "text", "text": c.Text})
			}
		}
		if len(content) == 0 {
			continue
		}
		out = append(out, map[string]any{"role": msg.Role, "content": content})
	}
	return out
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(req Request) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	request := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens,
		"messages":          convertMessagesToAnthropicFormat(req.Messages),
	}
	if req.System != "" {
		request["system"] = req.System
	}
	if len(req.Tools) > 0 {
		var ts []map[string]any
		for _, t := range req.Tools {
			ts = append(ts, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.InputSchema,
			})
		}
		request["tools"] = ts
	}
	return json.Marshal(request)
}

type bedrockResponse struct {
	Content []struct {
		Type  string         `json:"type"`
		Text  string         `json:"text"`
		ID    string         `json:"id"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error any `json:"error"`
}

// processBedrockResponse converts a Bedrock API response into one assistant turn.
func processBedrockResponse(body []byte) (*Response, error) {
	var response bedrockResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal Bedrock response")
	}
	if response.Error != nil {
		return nil, errors.New("Bedrock API error: %v", response.Error)
	}

	msg := session.Message{Role: session.RoleAssistant}
	for _, item := range response.Content {
		switch item.Type {
		case "text":
			msg.Content = append(msg.Content, session.ContentBlock{Text: item.Text})
		case "tool_use":
			msg.Content = append(msg.Content, session.ContentBlock{ToolUse: newToolUse(item.ID, item.Name, item.Input)})
		}
	}

	return &Response{
		Message:    msg,
		StopReason: stopReason(response.StopReason, msg),
		Usage: Usage{
			InputTokens:  response.Usage.InputTokens,
			OutputTokens: response.Usage.OutputTokens,
			TotalTokens:  response.Usage.InputTokens + response.Usage.OutputTokens,
		},
	}, nil
}

// newToolUse builds a tool-use block, minting an id when the model gave none.
func newToolUse(id, name string, input map[string]any) *session.ToolUse {
	if id == "" {
		id = "tooluse_" + ulid.Make().String()
	}
	if input == nil {
		input = map[string]any{}
	}
	return &session.ToolUse{ToolUseID: id, Name: name, Input: input}
}

// stopReason maps provider stop reasons onto the loop's. A message that
// requests tools always stops for tool use.
func stopReason(raw string, msg session.Message) StopReason {
	if len(msg.ToolUses()) > 0 {
		return StopToolUse
	}
	switch raw {
	case "tool_use", "tool_calls":
		return StopToolUse
	case "max_tokens", "length":
		return StopMaxTokens
	default:
		return StopEndTurn
	}
}
