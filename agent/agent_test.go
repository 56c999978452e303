package agent

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zanbei/agentx/llm"
	"github.com/zanbei/agentx/session"
	"github.com/zanbei/agentx/tools"
)

type failingClient struct{ err error }

func (f failingClient) Converse(context.Context, llm.Request) (*llm.Response, error) {
	return nil, f.err
}

type closeCounter struct{ n int }

func (c *closeCounter) Close() error { c.n++; return nil }

func toolTurn(id, name string, input map[string]any) *llm.Response {
	return &llm.Response{
		Message: session.Message{Role: session.RoleAssistant, Content: []session.ContentBlock{
			{ToolUse: &session.ToolUse{ToolUseID: id, Name: name, Input: input}},
		}},
		StopReason: llm.StopToolUse,
	}
}

func textTurn(text string) *llm.Response {
	return &llm.Response{Message: session.AssistantText(text), StopReason: llm.StopEndTurn, Usage: llm.Usage{InputTokens: 4, OutputTokens: 2}}
}

func collect(t *testing.T, a *Agent, query string) ([]Event, error) {
	t.Helper()
	var evs []Event
	for ev, err := range a.RunStreaming(context.Background(), query) {
		if err != nil {
			return evs, err
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

func roleBearing(evs []Event) []session.Message {
	var out []session.Message
	for _, ev := range evs {
		if IsRoleBearing(ev) {
			out = append(out, ev.(MessageEvent).Message)
		}
	}
	return out
}

func TestRunTextOnly(t *testing.T) {
	mock := &llm.MockClient{Responses: []*llm.Response{textTurn("hello there")}}
	a := New(mock, Config{Name: "greeter", SystemPrompt: "be kind"})

	evs, err := collect(t, a, "hi")
	require.NoError(t, err)

	assert.Equal(t, InitEvent{InitEventLoop: true}, evs[0])
	assert.Equal(t, InitEvent{Start: true}, evs[1])
	assert.Equal(t, InitEvent{StartEventLoop: true}, evs[2])

	msgs := roleBearing(evs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello there", msgs[0].Text())

	last, ok := evs[len(evs)-1].(ResultEvent)
	require.True(t, ok)
	assert.Equal(t, "end_turn", last.StopReason)
	assert.Equal(t, 1, last.Metrics.CycleCount)

	var sawText bool
	for _, ev := range evs {
		if te, ok := ev.(TextEvent); ok {
			sawText = true
			assert.Equal(t, "hello there", te.Data)
			assert.Same(t, a, te.Agent)
		}
	}
	assert.True(t, sawText)
	assert.Equal(t, "be kind", mock.Requests[0].System)
}

func TestRunExecutesTools(t *testing.T) {
	mock := &llm.MockClient{Responses: []*llm.Response{
		toolTurn("t1", "calculator", map[string]any{"expression": "2+2"}),
		textTurn("The answer is 4"),
	}}
	a := New(mock, Config{Tools: []tools.Tool{&tools.CalculatorTool{}}})

	evs, err := collect(t, a, "2+2")
	require.NoError(t, err)

	msgs := roleBearing(evs)
	require.Len(t, msgs, 3)
	assert.Equal(t, session.RoleAssistant, msgs[0].Role)
	results := msgs[1].ToolResults()
	require.Len(t, results, 1)
	assert.Equal(t, session.StatusSuccess, results[0].Status)
	assert.Equal(t, "4", results[0].Text())
	assert.Equal(t, "The answer is 4", msgs[2].Text())

	require.Len(t, mock.Requests, 2)
	assert.Len(t, mock.Requests[1].Messages, 3)
	assert.Equal(t, "calculator", mock.Requests[0].Tools[0].Name)

	var toolEvents int
	for _, ev := range evs {
		if tu, ok := ev.(ToolUseEvent); ok {
			toolEvents++
			assert.Equal(t, "t1", tu.ToolUse.ToolUseID)
		}
	}
	assert.Equal(t, 1, toolEvents)

	res := evs[len(evs)-1].(ResultEvent)
	assert.Equal(t, 1, res.Metrics.ToolStats["calculator"].SuccessCount)
	assert.Equal(t, 2, res.Metrics.CycleCount)
}

func TestToolFailuresBecomeErrorResults(t *testing.T) {
	tests := []struct {
		name  string
		turn  *llm.Response
		wants string
	}{
		{"unknown tool", toolTurn("t1", "missing", nil), "unknown tool"},
		{"invalid arguments", toolTurn("t2", "calculator", map[string]any{"expression": 7}), "invalid arguments"},
		{"execution error", toolTurn("t3", "calculator", map[string]any{"expression": "1 +"}), "failed to evaluate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &llm.MockClient{Responses: []*llm.Response{tt.turn, textTurn("sorry")}}
			a := New(mock, Config{Tools: []tools.Tool{&tools.CalculatorTool{}}})

			evs, err := collect(t, a, "go")
			require.NoError(t, err)
			results := roleBearing(evs)[1].ToolResults()
			require.Len(t, results, 1)
			assert.Equal(t, session.StatusError, results[0].Status)
			assert.Contains(t, results[0].Text(), tt.wants)
		})
	}
}

func TestRunStopsAtMaxCycles(t *testing.T) {
	loop := toolTurn("t", "calculator", map[string]any{"expression": "1"})
	mock := &llm.MockClient{Responses: []*llm.Response{loop, loop, loop}}
	a := New(mock, Config{Tools: []tools.Tool{&tools.CalculatorTool{}}, MaxCycles: 2})

	_, err := collect(t, a, "spin")
	assert.ErrorContains(t, err, "after 2 cycles")
	assert.Len(t, mock.Requests, 2)
}

func TestRunModelError(t *testing.T) {
	a := New(failingClient{err: errors.New("no credentials")}, Config{})
	out, err := a.Run(context.Background(), "hi")
	assert.Empty(t, out)
	assert.ErrorContains(t, err, "no credentials")
}

func TestRunReturnsFinalText(t *testing.T) {
	a := New(&llm.MockClient{Responses: []*llm.Response{textTurn("done")}}, Config{})
	out, err := a.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Len(t, a.Messages(), 2)
}

func TestConsumerCanStopEarly(t *testing.T) {
	mock := &llm.MockClient{Responses: []*llm.Response{textTurn("unused")}}
	a := New(mock, Config{})
	n := 0
	for range a.RunStreaming(context.Background(), "hi") {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
	assert.Empty(t, mock.Requests)
}

func TestCloseReleasesOnce(t *testing.T) {
	c := &closeCounter{}
	a := New(&llm.MockClient{}, Config{Closers: []io.Closer{c}})
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, c.n)
}
