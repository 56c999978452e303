package llm

import (
	"context"
	"sync"

	"github.com/zanbei/agentx/errors"
	"github.com/zanbei/agentx/session"
	"github.com/zanbei/agentx/tools"
)

// StopReason tells the reasoning loop why the model ended its turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// ToolSpec is the model-facing description of one tool.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Specs describes ts for the model.
func Specs(ts []tools.Tool) []ToolSpec {
	out := make([]ToolSpec, 0, len(ts))
	for _, t := range ts {
		schema := t.InputSchema()
		if len(schema) == 0 {
			schema = tools.ObjectSchema()
		}
		out = append(out, ToolSpec{Name: t.Name(), Description: t.Description(), InputSchema: schema})
	}
	return out
}

type Request struct {
	System    string
	Messages  []session.Message
	Tools     []ToolSpec
	MaxTokens int
}

type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Response is one complete assistant turn.
type Response struct {
	Message    session.Message
	StopReason StopReason
	Usage      Usage
}

// Client is the interface for interacting with a Large Language Model.
type Client interface {
	Converse(ctx context.Context, req Request) (*Response, error)
}

// MockClient replays scripted responses in order. It is used by tests and by
// the "mock" provider.
type MockClient struct {
	mu        sync.Mutex
	Responses []*Response
	// Requests records every request received.
	Requests []Request
}

func (m *MockClient) Converse(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if len(m.Responses) == 0 {
		if len(req.Messages) == 0 {
			return nil, errors.New("mock client: no messages")
		}
		last := req.Messages[len(req.Messages)-1]
		return &Response{
			Message:    session.AssistantText("I am a mock LLM. You said: '" + last.Text() + "'."),
			StopReason: StopEndTurn,
		}, nil
	}
	resp := m.Responses[0]
	m.Responses = m.Responses[1:]
	return resp, nil
}
