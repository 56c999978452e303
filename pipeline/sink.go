package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/zanbei/agentx/agent"
	"github.com/zanbei/agentx/errors"
)

// Sink receives events during a live run.
type Sink interface {
	Send(ev agent.Event) error
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(ev agent.Event) error

func (f SinkFunc) Send(ev agent.Event) error { return f(ev) }

// WriteSSE writes ev as one server-sent event frame, "data: <json>\n\n",
// and flushes when w supports it.
func WriteSSE(w io.Writer, ev agent.Event) error {
	b, err := json.Marshal(agent.Normalize(ev))
	if err != nil {
		return errors.Wrapf(err, "failed to encode event")
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// SSESink streams events to an HTTP response.
type SSESink struct {
	W io.Writer
}

func (s SSESink) Send(ev agent.Event) error { return WriteSSE(s.W, ev) }

// SetSSEHeaders prepares w for an event stream.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// WriteJSONFrame writes ev as one WebSocket text message.
func WriteJSONFrame(conn *websocket.Conn, ev agent.Event) error {
	return conn.WriteJSON(agent.Normalize(ev))
}

// WebSocketSink streams events over a WebSocket connection.
type WebSocketSink struct {
	Conn *websocket.Conn
}

func (s WebSocketSink) Send(ev agent.Event) error { return WriteJSONFrame(s.Conn, ev) }
