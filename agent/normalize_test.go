package agent

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zanbei/agentx/session"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNormalizeDropsHandles(t *testing.T) {
	id := uuid.New()
	parent := uuid.New()
	_, span := noop.NewTracerProvider().Tracer("t").Start(t.Context(), "cycle")
	ev := TextEvent{Data: "hi", LoopState: LoopState{
		Agent:         &Agent{},
		CycleID:       id,
		ParentCycleID: &parent,
		Span:          span,
		Trace:         &CycleTrace{Name: "c"},
		Metrics:       LoopMetrics{Traces: []*CycleTrace{{Name: "c"}}},
	}}

	out := Normalize(ev)
	for _, k := range []string{"agent", "event_loop_cycle_span", "event_loop_cycle_trace"} {
		assert.NotContains(t, out, k)
	}
	assert.Equal(t, id.String(), out["event_loop_cycle_id"])
	assert.Equal(t, parent.String(), out["event_loop_parent_cycle_id"])
	assert.NotContains(t, out["event_loop_metrics"], "traces")
	assert.Equal(t, "hi", out["data"])

	_, err := json.Marshal(out)
	require.NoError(t, err)
}

func TestNormalizeMap(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{
			name: "nested drop",
			in:   map[string]any{"outer": map[string]any{"agent": 1, "keep": "x"}},
			want: map[string]any{"outer": map[string]any{"keep": "x"}},
		},
		{
			name: "maps inside lists",
			in:   map[string]any{"items": []any{map[string]any{"traces": []any{1}, "n": 1}, "s"}},
			want: map[string]any{"items": []any{map[string]any{"n": 1}, "s"}},
		},
		{
			name: "nil ids are omitted",
			in:   map[string]any{"event_loop_parent_cycle_id": nil, "event_loop_cycle_id": "abc"},
			want: map[string]any{"event_loop_cycle_id": "abc"},
		},
		{
			name: "unencodable values become strings",
			in:   map[string]any{"ch": make(chan int), "nan": math.NaN()},
			want: nil,
		},
		{
			name: "typed values are flattened",
			in:   map[string]any{"msg": session.UserText("hey")},
			want: map[string]any{"msg": map[string]any{"role": "user", "content": []any{map[string]any{"text": "hey"}}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeMap(tt.in)
			if tt.want != nil {
				assert.Equal(t, tt.want, got)
			} else {
				assert.IsType(t, "", got["ch"])
				assert.Equal(t, "NaN", got["nan"])
			}
			assert.Equal(t, got, NormalizeMap(got))
		})
	}
}

func TestNormalizeIsIdempotentForEveryVariant(t *testing.T) {
	tu := &session.ToolUse{ToolUseID: "t1", Name: "calc", Input: map[string]any{"expression": "1+1"}}
	msg := session.Message{Role: session.RoleAssistant, Content: []session.ContentBlock{{Text: "a"}, {ToolUse: tu}}}
	state := LoopState{Agent: &Agent{}, CycleID: uuid.New(), Metrics: LoopMetrics{ToolStats: map[string]ToolStats{"calc": {CallCount: 1}}}}

	events := []Event{
		InitEvent{InitEventLoop: true},
		StreamEvent{MessageStart: &MessageStart{Role: "assistant"}},
		StreamEvent{ContentBlockStart: &ContentBlockStart{ToolUse: tu}},
		StreamEvent{ContentBlockDelta: &ContentBlockDelta{Text: "a"}},
		StreamEvent{ContentBlockDelta: &ContentBlockDelta{ToolUseInput: `{"x":1}`}},
		StreamEvent{ContentBlockStop: &ContentBlockStop{Index: 1}},
		StreamEvent{MessageStop: &MessageStop{StopReason: "end_turn"}},
		StreamEvent{Metadata: &Metadata{InputTokens: 1, OutputTokens: 2}},
		TextEvent{Data: "a", LoopState: state},
		ToolUseEvent{ToolUse: *tu, LoopState: state},
		MessageEvent{Message: msg},
		ResultEvent{StopReason: "end_turn", Message: msg},
	}
	for _, ev := range events {
		once := Normalize(ev)
		assert.Equal(t, once, NormalizeMap(once))
		_, err := json.Marshal(once)
		assert.NoError(t, err)
	}
}

func TestRoleBearing(t *testing.T) {
	assert.True(t, IsRoleBearing(MessageEvent{Message: session.UserText("x")}))
	assert.False(t, IsRoleBearing(MessageEvent{}))
	assert.False(t, IsRoleBearing(StreamEvent{MessageStart: &MessageStart{Role: "assistant"}}))
	assert.False(t, IsRoleBearing(ResultEvent{Message: session.AssistantText("x")}))

	out := Normalize(MessageEvent{Message: session.AssistantText("done")})
	assert.Equal(t, "assistant", out["message"].(map[string]any)["role"])
}
