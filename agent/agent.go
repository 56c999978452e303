package agent

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zanbei/agentx/errors"
	"github.com/zanbei/agentx/llm"
	"github.com/zanbei/agentx/metrics"
	"github.com/zanbei/agentx/session"
	"github.com/zanbei/agentx/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxCycles = 20

var tracer = otel.Tracer("github.com/zanbei/agentx/agent")

// Config describes one runnable agent.
type Config struct {
	Name         string
	SystemPrompt string
	Tools        []tools.Tool
	MaxCycles    int
	MaxTokens    int
	// Closers are released by Close, e.g. remote tool sessions.
	Closers []io.Closer
}

// Agent runs the reasoning loop: call the model, execute requested tools,
// feed results back, until the model ends its turn.
type Agent struct {
	Name         string
	SystemPrompt string
	Tools        []tools.Tool

	model     llm.Client
	maxCycles int
	maxTokens int

	mu       sync.Mutex
	messages []session.Message
	closers  []io.Closer
	closed   bool
}

func New(model llm.Client, cfg Config) *Agent {
	maxCycles := cfg.MaxCycles
	if maxCycles <= 0 {
		maxCycles = DefaultMaxCycles
	}
	return &Agent{
		Name:         cfg.Name,
		SystemPrompt: cfg.SystemPrompt,
		Tools:        cfg.Tools,
		model:        model,
		maxCycles:    maxCycles,
		maxTokens:    cfg.MaxTokens,
		closers:      cfg.Closers,
	}
}

// Messages returns a copy of the conversation so far. It blocks while a run
// is in progress.
func (a *Agent) Messages() []session.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]session.Message(nil), a.messages...)
}

// Run drives the loop to completion and returns the final assistant text.
func (a *Agent) Run(ctx context.Context, query string) (string, error) {
	var final string
	for ev, err := range a.RunStreaming(ctx, query) {
		if err != nil {
			return "", err
		}
		if r, ok := ev.(ResultEvent); ok {
			final = r.Text()
		}
	}
	return final, nil
}

// RunStreaming returns the loop's events in order. The sequence ends after a
// ResultEvent, or after yielding a terminal error. Runs on one agent are
// serialized.
func (a *Agent) RunStreaming(ctx context.Context, query string) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		a.mu.Lock()
		defer a.mu.Unlock()

		a.messages = append(a.messages, session.UserText(query))
		for _, ev := range []InitEvent{{InitEventLoop: true}, {Start: true}} {
			if !yield(ev, nil) {
				return
			}
		}

		lm := &LoopMetrics{ToolStats: map[string]ToolStats{}}
		requestState := map[string]any{}
		for range a.maxCycles {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			done, ok := a.cycle(ctx, lm, requestState, yield)
			if !ok || done {
				return
			}
		}
		yield(nil, errors.New("reasoning loop stopped after %d cycles without a final answer", a.maxCycles))
	}
}

// cycle runs one model call and any tool calls it requests. done is true once
// a ResultEvent was yielded; ok is false when the consumer stopped or an error
// was yielded.
func (a *Agent) cycle(ctx context.Context, lm *LoopMetrics, requestState map[string]any, yield func(Event, error) bool) (done, ok bool) {
	cycleID := uuid.New()
	ctx, span := tracer.Start(ctx, "event_loop_cycle", trace.WithAttributes(
		attribute.String("agent.name", a.Name),
		attribute.String("event_loop.cycle_id", cycleID.String()),
	))
	defer span.End()

	metrics.LoopCycles.Inc()
	ct := &CycleTrace{Name: "Cycle " + cycleID.String(), Start: time.Now()}
	lm.CycleCount++
	lm.Traces = append(lm.Traces, ct)

	if !yield(InitEvent{StartEventLoop: true}, nil) {
		return false, false
	}

	started := time.Now()
	resp, err := a.model.Converse(ctx, llm.Request{
		System:    a.SystemPrompt,
		Messages:  a.messages,
		Tools:     llm.Specs(a.Tools),
		MaxTokens: a.maxTokens,
	})
	metrics.ModelDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.ModelCalls.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		yield(nil, errors.Wrapf(err, "model call failed"))
		return false, false
	}
	metrics.ModelCalls.WithLabelValues("success").Inc()
	metrics.ModelTokens.WithLabelValues("input").Add(float64(resp.Usage.InputTokens))
	metrics.ModelTokens.WithLabelValues("output").Add(float64(resp.Usage.OutputTokens))
	lm.InputTokens += resp.Usage.InputTokens
	lm.OutputTokens += resp.Usage.OutputTokens

	state := func() LoopState {
		return LoopState{
			Agent:        a,
			CycleID:      cycleID,
			Span:         span,
			Trace:        ct,
			RequestState: requestState,
			Metrics:      lm.snapshot(),
		}
	}
	for _, ev := range streamEvents(resp, time.Since(started), state) {
		if !yield(ev, nil) {
			return false, false
		}
	}

	a.messages = append(a.messages, resp.Message)
	if !yield(MessageEvent{Message: resp.Message}, nil) {
		return false, false
	}

	if resp.StopReason != llm.StopToolUse {
		ct.End = time.Now()
		lm.CycleDurations = append(lm.CycleDurations, ct.End.Sub(ct.Start))
		return true, yield(ResultEvent{StopReason: string(resp.StopReason), Message: resp.Message, Metrics: lm.snapshot()}, nil)
	}

	var results []session.ToolResult
	for _, tu := range resp.Message.ToolUses() {
		results = append(results, a.executeTool(ctx, tu, lm, ct))
	}
	toolMsg := session.ToolResultMessage(results...)
	a.messages = append(a.messages, toolMsg)

	ct.End = time.Now()
	lm.CycleDurations = append(lm.CycleDurations, ct.End.Sub(ct.Start))
	if !yield(MessageEvent{Message: toolMsg}, nil) {
		return false, false
	}
	return false, true
}

// streamEvents expands one model turn into the stream items a streaming
// provider would have produced.
func streamEvents(resp *llm.Response, latency time.Duration, state func() LoopState) []Event {
	evs := []Event{StreamEvent{MessageStart: &MessageStart{Role: resp.Message.Role}}}
	for i, c := range resp.Message.Content {
		switch {
		case c.ToolUse != nil:
			input, _ := json.Marshal(c.ToolUse.Input)
			evs = append(evs,
				StreamEvent{ContentBlockStart: &ContentBlockStart{Index: i, ToolUse: c.ToolUse}},
				StreamEvent{ContentBlockDelta: &ContentBlockDelta{Index: i, ToolUseInput: string(input)}},
				ToolUseEvent{ToolUse: *c.ToolUse, LoopState: state()},
				StreamEvent{ContentBlockStop: &ContentBlockStop{Index: i}},
			)
		case c.Text != "":
			evs = append(evs,
				StreamEvent{ContentBlockDelta: &ContentBlockDelta{Index: i, Text: c.Text}},
				TextEvent{Data: c.Text, LoopState: state()},
				StreamEvent{ContentBlockStop: &ContentBlockStop{Index: i}},
			)
		}
	}
	return append(evs,
		StreamEvent{MessageStop: &MessageStop{StopReason: string(resp.StopReason)}},
		StreamEvent{Metadata: &Metadata{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			LatencyMs:    latency.Milliseconds(),
		}},
	)
}

// executeTool runs one requested tool. Every failure is reported back to the
// model as an error result rather than ending the run.
func (a *Agent) executeTool(ctx context.Context, tu session.ToolUse, lm *LoopMetrics, ct *CycleTrace) session.ToolResult {
	ctx, span := tracer.Start(ctx, "execute_tool", trace.WithAttributes(
		attribute.String("tool.name", tu.Name),
		attribute.String("tool.use_id", tu.ToolUseID),
	))
	defer span.End()

	child := &CycleTrace{Name: "Tool: " + tu.Name, Start: time.Now()}
	ct.Children = append(ct.Children, child)

	out, err := a.callTool(ctx, tu)
	child.End = time.Now()

	stats := lm.ToolStats[tu.Name]
	stats.CallCount++
	stats.TotalTime += child.End.Sub(child.Start)
	defer func() { lm.ToolStats[tu.Name] = stats }()

	if err != nil {
		stats.ErrorCount++
		metrics.ToolCalls.WithLabelValues(tu.Name, session.StatusError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Str("tool", tu.Name).Str("agent", a.Name).Msg("Tool execution failed")
		return session.NewToolResult(tu.ToolUseID, session.StatusError, "Error: "+err.Error())
	}
	stats.SuccessCount++
	metrics.ToolCalls.WithLabelValues(tu.Name, session.StatusSuccess).Inc()
	return session.NewToolResult(tu.ToolUseID, session.StatusSuccess, out)
}

func (a *Agent) callTool(ctx context.Context, tu session.ToolUse) (string, error) {
	var tool tools.Tool
	for _, t := range a.Tools {
		if t.Name() == tu.Name {
			tool = t
			break
		}
	}
	if tool == nil {
		return "", errors.New("unknown tool %q", tu.Name)
	}
	if err := tools.Validate(tool.InputSchema(), tu.Input); err != nil {
		return "", err
	}
	args := tu.Input
	if args == nil {
		args = map[string]any{}
	}
	return tool.Execute(ctx, args)
}

// Close releases resources opened for this agent. It is safe to call more
// than once.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
