package agent

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/zanbei/agentx/session"
	"go.opentelemetry.io/otel/trace"
)

// Event is one item of the reasoning loop's output. The set of variants is
// closed: InitEvent, StreamEvent, TextEvent, ToolUseEvent, MessageEvent and
// ResultEvent.
type Event interface {
	// Fields returns the raw shape of the event, including process-local
	// handles such as the agent, spans and traces. Use Normalize for the wire
	// form.
	Fields() map[string]any
	event()
}

// InitEvent marks loop start-up. Exactly one flag is set per event.
type InitEvent struct {
	InitEventLoop  bool
	Start          bool
	StartEventLoop bool
}

func (e InitEvent) Fields() map[string]any {
	m := map[string]any{}
	if e.InitEventLoop {
		m["init_event_loop"] = true
	}
	if e.Start {
		m["start"] = true
	}
	if e.StartEventLoop {
		m["start_event_loop"] = true
	}
	return m
}

type MessageStart struct {
	Role string
}

type ContentBlockStart struct {
	Index   int
	ToolUse *session.ToolUse
}

// ContentBlockDelta carries either a text fragment or a fragment of a tool's
// JSON input.
type ContentBlockDelta struct {
	Index        int
	Text         string
	ToolUseInput string
}

type ContentBlockStop struct {
	Index int
}

type MessageStop struct {
	StopReason string
}

type Metadata struct {
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
}

// StreamEvent wraps one model stream item. Exactly one field is set.
type StreamEvent struct {
	MessageStart      *MessageStart
	ContentBlockStart *ContentBlockStart
	ContentBlockDelta *ContentBlockDelta
	ContentBlockStop  *ContentBlockStop
	MessageStop       *MessageStop
	Metadata          *Metadata
}

func (e StreamEvent) Fields() map[string]any {
	inner := map[string]any{}
	switch {
	case e.MessageStart != nil:
		inner["messageStart"] = map[string]any{"role": e.MessageStart.Role}
	case e.ContentBlockStart != nil:
		start := map[string]any{}
		if tu := e.ContentBlockStart.ToolUse; tu != nil {
			start["toolUse"] = map[string]any{"name": tu.Name, "toolUseId": tu.ToolUseID}
		}
		inner["contentBlockStart"] = map[string]any{
			"start":             start,
			"contentBlockIndex": e.ContentBlockStart.Index,
		}
	case e.ContentBlockDelta != nil:
		delta := map[string]any{}
		if e.ContentBlockDelta.ToolUseInput != "" {
			delta["toolUse"] = map[string]any{"input": e.ContentBlockDelta.ToolUseInput}
		} else {
			delta["text"] = e.ContentBlockDelta.Text
		}
		inner["contentBlockDelta"] = map[string]any{
			"delta":             delta,
			"contentBlockIndex": e.ContentBlockDelta.Index,
		}
	case e.ContentBlockStop != nil:
		inner["contentBlockStop"] = map[string]any{"contentBlockIndex": e.ContentBlockStop.Index}
	case e.MessageStop != nil:
		inner["messageStop"] = map[string]any{"stopReason": e.MessageStop.StopReason}
	case e.Metadata != nil:
		inner["metadata"] = map[string]any{
			"usage": map[string]any{
				"inputTokens":  e.Metadata.InputTokens,
				"outputTokens": e.Metadata.OutputTokens,
				"totalTokens":  e.Metadata.InputTokens + e.Metadata.OutputTokens,
			},
			"metrics": map[string]any{"latencyMs": e.Metadata.LatencyMs},
		}
	}
	return map[string]any{"event": inner}
}

// CycleTrace records the timing of one loop cycle and the tool calls inside it.
type CycleTrace struct {
	Name     string
	Start    time.Time
	End      time.Time
	Children []*CycleTrace
}

// ToolStats accumulates calls of one tool within a run.
type ToolStats struct {
	CallCount    int
	SuccessCount int
	ErrorCount   int
	TotalTime    time.Duration
}

// LoopMetrics is the running summary of a loop, copied into every loop event.
type LoopMetrics struct {
	CycleCount     int
	ToolStats      map[string]ToolStats
	CycleDurations []time.Duration
	Traces         []*CycleTrace
	InputTokens    int
	OutputTokens   int
}

func (m *LoopMetrics) snapshot() LoopMetrics {
	out := *m
	out.ToolStats = make(map[string]ToolStats, len(m.ToolStats))
	for k, v := range m.ToolStats {
		out.ToolStats[k] = v
	}
	out.CycleDurations = append([]time.Duration(nil), m.CycleDurations...)
	out.Traces = append([]*CycleTrace(nil), m.Traces...)
	return out
}

func (m LoopMetrics) fields() map[string]any {
	tools := map[string]any{}
	for name, s := range m.ToolStats {
		tools[name] = map[string]any{
			"call_count":    s.CallCount,
			"success_count": s.SuccessCount,
			"error_count":   s.ErrorCount,
			"total_time":    s.TotalTime.Seconds(),
		}
	}
	durations := make([]any, len(m.CycleDurations))
	for i, d := range m.CycleDurations {
		durations[i] = d.Seconds()
	}
	traces := make([]any, len(m.Traces))
	for i, t := range m.Traces {
		traces[i] = t
	}
	return map[string]any{
		"cycle_count":     m.CycleCount,
		"tool_metrics":    tools,
		"cycle_durations": durations,
		"traces":          traces,
		"accumulated_usage": map[string]any{
			"inputTokens":  m.InputTokens,
			"outputTokens": m.OutputTokens,
			"totalTokens":  m.InputTokens + m.OutputTokens,
		},
	}
}

// LoopState is carried by text and tool-use events.
type LoopState struct {
	Agent         *Agent
	CycleID       uuid.UUID
	ParentCycleID *uuid.UUID
	Span          trace.Span
	Trace         *CycleTrace
	RequestState  map[string]any
	Metrics       LoopMetrics
}

func (s LoopState) fields(m map[string]any) map[string]any {
	m["agent"] = s.Agent
	m["event_loop_cycle_id"] = s.CycleID
	if s.ParentCycleID != nil {
		m["event_loop_parent_cycle_id"] = *s.ParentCycleID
	}
	m["event_loop_cycle_span"] = s.Span
	m["event_loop_cycle_trace"] = s.Trace
	rs := s.RequestState
	if rs == nil {
		rs = map[string]any{}
	}
	m["request_state"] = rs
	m["event_loop_metrics"] = s.Metrics.fields()
	return m
}

// TextEvent carries one generated text fragment.
type TextEvent struct {
	Data string
	LoopState
}

func (e TextEvent) Fields() map[string]any {
	return e.LoopState.fields(map[string]any{
		"data":  e.Data,
		"delta": map[string]any{"text": e.Data},
	})
}

// ToolUseEvent reports the tool invocation currently being streamed.
type ToolUseEvent struct {
	ToolUse session.ToolUse
	LoopState
}

func (e ToolUseEvent) Fields() map[string]any {
	input, _ := json.Marshal(e.ToolUse.Input)
	return e.LoopState.fields(map[string]any{
		"delta": map[string]any{"toolUse": map[string]any{"input": string(input)}},
		"current_tool_use": map[string]any{
			"toolUseId": e.ToolUse.ToolUseID,
			"name":      e.ToolUse.Name,
			"input":     e.ToolUse.Input,
		},
	})
}

// MessageEvent carries a finalized message. It is the only role-bearing
// variant.
type MessageEvent struct {
	Message session.Message
}

func (e MessageEvent) Fields() map[string]any {
	return map[string]any{"message": messageFields(e.Message)}
}

// ResultEvent is the last event of a successful run.
type ResultEvent struct {
	StopReason string
	Message    session.Message
	Metrics    LoopMetrics
}

func (e ResultEvent) Fields() map[string]any {
	return map[string]any{
		"result": map[string]any{
			"stop_reason": e.StopReason,
			"message":     messageFields(e.Message),
			"metrics":     e.Metrics.fields(),
		},
	}
}

// Text returns the final assistant text.
func (e ResultEvent) Text() string { return e.Message.Text() }

func (InitEvent) event()    {}
func (StreamEvent) event()  {}
func (TextEvent) event()    {}
func (ToolUseEvent) event() {}
func (MessageEvent) event() {}
func (ResultEvent) event()  {}

// IsRoleBearing reports whether e carries a finalized message with a role.
func IsRoleBearing(e Event) bool {
	me, ok := e.(MessageEvent)
	return ok && me.Message.Role != ""
}

func messageFields(m session.Message) map[string]any {
	content := make([]any, 0, len(m.Content))
	for _, c := range m.Content {
		block := map[string]any{}
		switch {
		case c.ToolUse != nil:
			input := c.ToolUse.Input
			if input == nil {
				input = map[string]any{}
			}
			block["toolUse"] = map[string]any{
				"toolUseId": c.ToolUse.ToolUseID,
				"name":      c.ToolUse.Name,
				"input":     input,
			}
		case c.ToolResult != nil:
			parts := make([]any, len(c.ToolResult.Content))
			for i, p := range c.ToolResult.Content {
				parts[i] = map[string]any{"text": p.Text}
			}
			block["toolResult"] = map[string]any{
				"toolUseId": c.ToolResult.ToolUseID,
				"status":    c.ToolResult.Status,
				"content":   parts,
			}
		default:
			block["text"] = c.Text
		}
		content = append(content, block)
	}
	return map[string]any{"role": m.Role, "content": content}
}
