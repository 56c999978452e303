// Package pipeline runs a stored agent against one user message and turns
// its events into a persisted, ordered transcript. The same sequence backs
// live delivery (SSE, WebSocket) and fire-and-forget background runs.
package pipeline

import (
	"context"
	"encoding/json"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/zanbei/agentx/agent"
	"github.com/zanbei/agentx/builder"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
	"github.com/zanbei/agentx/metrics"
	"github.com/zanbei/agentx/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ModeLive       = "live"
	ModeBackground = "background"
)

var tracer = otel.Tracer("github.com/zanbei/agentx/pipeline")

// AgentBuilder builds a runnable agent from a definition. *builder.Builder
// implements it.
type AgentBuilder interface {
	Build(ctx context.Context, def *definition.Agent, opts ...builder.BuildOption) (*agent.Agent, error)
}

type Executor struct {
	agents  store.AgentStore
	chats   store.ChatStore
	builder AgentBuilder
	wg      sync.WaitGroup
}

func NewExecutor(agents store.AgentStore, chats store.ChatStore, b AgentBuilder) *Executor {
	return &Executor{agents: agents, chats: chats, builder: b}
}

// NewChatID returns a fresh 32 character hex id.
func NewChatID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// StartChat allocates a chat id and, when record is set, writes the chat
// record before anything runs.
func (e *Executor) StartChat(ctx context.Context, agentID, userMessage string, record bool) (string, error) {
	chatID := NewChatID()
	if !record {
		return chatID, nil
	}
	err := e.chats.PutChatRecord(ctx, &store.ChatRecord{
		ID:          chatID,
		AgentID:     agentID,
		UserMessage: userMessage,
		CreateTime:  time.Now(),
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to record chat")
	}
	return chatID, nil
}

// Execute loads and builds the agent, then yields its events in order. When
// persist is set, every role-bearing event is stored as the next response
// of chatID, numbered from 0, before it is yielded. A missing agent is the
// first and only item. Any error ends the sequence. The agent is closed when
// the sequence ends or the consumer stops.
func (e *Executor) Execute(ctx context.Context, agentID, userMessage, chatID string, persist bool) iter.Seq2[agent.Event, error] {
	return func(yield func(agent.Event, error) bool) {
		ctx, span := tracer.Start(ctx, "execute_agent", trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("chat.id", chatID),
		))
		defer span.End()
		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}

		def, err := e.agents.GetAgent(ctx, agentID)
		if err != nil {
			fail(err)
			return
		}
		a, err := e.builder.Build(ctx, def)
		if err != nil {
			fail(err)
			return
		}
		defer func() {
			if err := a.Close(); err != nil {
				log.Warn().Err(err).Str("agent_id", agentID).Msg("Failed to release agent resources")
			}
		}()

		respNo := 0
		for ev, err := range a.RunStreaming(ctx, userMessage) {
			if err != nil {
				fail(err)
				return
			}
			if persist && agent.IsRoleBearing(ev) {
				if err := e.persist(ctx, chatID, respNo, ev); err != nil {
					fail(err)
					return
				}
				respNo++
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (e *Executor) persist(ctx context.Context, chatID string, respNo int, ev agent.Event) error {
	content, err := json.Marshal(agent.Normalize(ev))
	if err != nil {
		return errors.Wrapf(err, "failed to encode event")
	}
	err = e.chats.PutChatResponse(ctx, &store.ChatResponse{
		ChatID:     chatID,
		RespNo:     respNo,
		Content:    string(content),
		CreateTime: time.Now(),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to persist response %d of chat %s", respNo, chatID)
	}
	metrics.PersistedResponses.Inc()
	return nil
}

// Stream forwards every event to sink as it is produced. A sink error stops
// the run; responses already persisted stay.
func (e *Executor) Stream(ctx context.Context, sink Sink, agentID, userMessage, chatID string, persist bool) error {
	for ev, err := range e.Execute(ctx, agentID, userMessage, chatID, persist) {
		if err != nil {
			metrics.Executions.WithLabelValues(ModeLive, "error").Inc()
			return err
		}
		if err := sink.Send(ev); err != nil {
			metrics.Executions.WithLabelValues(ModeLive, "disconnected").Inc()
			return errors.Wrapf(err, "failed to deliver event")
		}
	}
	metrics.Executions.WithLabelValues(ModeLive, "success").Inc()
	return nil
}

// Background drains the sequence on its own goroutine. The run ignores
// cancellation of ctx; Wait blocks until every background run has ended.
func (e *Executor) Background(ctx context.Context, agentID, userMessage, chatID string, persist bool) {
	ctx = context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		started := time.Now()
		events := 0
		for _, err := range e.Execute(ctx, agentID, userMessage, chatID, persist) {
			if err != nil {
				metrics.Executions.WithLabelValues(ModeBackground, "error").Inc()
				log.Error().Err(err).Str("agent_id", agentID).Str("chat_id", chatID).Msg("Background execution failed")
				return
			}
			events++
		}
		metrics.Executions.WithLabelValues(ModeBackground, "success").Inc()
		log.Info().
			Str("agent_id", agentID).
			Str("chat_id", chatID).
			Int("events", events).
			Dur("duration", time.Since(started)).
			Msg("Background execution completed")
	}()
}

// Wait blocks until all background runs finish or ctx is done.
func (e *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
