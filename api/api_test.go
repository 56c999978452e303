package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zanbei/agentx/builder"
	"github.com/zanbei/agentx/catalog"
	"github.com/zanbei/agentx/config"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/llm"
	"github.com/zanbei/agentx/pipeline"
	"github.com/zanbei/agentx/session"
	"github.com/zanbei/agentx/store"
	"github.com/zanbei/agentx/tools"
)

type scriptedSelector struct{}

func (scriptedSelector) Select(_ context.Context, provider definition.Provider, modelID string, _ map[string]any, _ definition.Env) (*llm.Handle, error) {
	return &llm.Handle{Client: &llm.MockClient{Responses: []*llm.Response{
		{
			Message: session.Message{Role: session.RoleAssistant, Content: []session.ContentBlock{
				{ToolUse: &session.ToolUse{ToolUseID: "t1", Name: "calculator", Input: map[string]any{"expression": "2+2"}}},
			}},
			StopReason: llm.StopToolUse,
		},
		{Message: session.AssistantText("2+2 is 4"), StopReason: llm.StopEndTurn},
	}}, Provider: provider, ModelID: modelID}, nil
}

type testServer struct {
	handler http.Handler
	store   *store.MemoryStore
	exec    *pipeline.Executor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	registry := tools.NewBuiltinRegistry(&config.Default().Tools)
	b := builder.New(st, registry, scriptedSelector{}, builder.WithMCPServers(st))
	exec := pipeline.NewExecutor(st, st, b)
	h := NewRouter(nil, Deps{
		Store:    st,
		Catalog:  catalog.New(registry, st, st),
		Executor: exec,
	})
	return &testServer{handler: h, store: st, exec: exec}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func (s *testServer) createCalcAgent(t *testing.T) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/agent/createOrUpdate", map[string]any{
		"name":  "calc",
		"tools": []map[string]any{{"name": "calculator", "type": "native"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var a definition.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	return a.ID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentx_http_requests_total")
}

func TestAgentRoutes(t *testing.T) {
	s := newTestServer(t)
	id := s.createCalcAgent(t)
	assert.Regexp(t, `^[0-9a-f]{32}$`, id)

	rec := s.do(t, http.MethodGet, "/agent/get/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[definition.Agent](t, rec)
	assert.Equal(t, definition.AgentPlain, got.AgentType)
	assert.Equal(t, definition.DefaultModelID, got.ModelID)
	require.Len(t, got.Tools, 1)

	rec = s.do(t, http.MethodPost, "/agent/createOrUpdate", map[string]any{"id": id, "name": "calc2"})
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[definition.Agent](t, s.do(t, http.MethodGet, "/agent/get/"+id, nil))
	assert.Equal(t, "calc2", got.Name)
	assert.Empty(t, got.Tools)

	list := decode[[]definition.Agent](t, s.do(t, http.MethodGet, "/agent/list", nil))
	assert.Len(t, list, 1)

	rec = s.do(t, http.MethodDelete, "/agent/delete/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/agent/get/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/agent/createOrUpdate", map[string]any{"display_name": "no name"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestToolList(t *testing.T) {
	s := newTestServer(t)
	s.createCalcAgent(t)
	rec := s.do(t, http.MethodPost, "/mcp/createOrUpdate", map[string]any{"name": "remote", "host": "http://localhost:9/mcp"})
	require.Equal(t, http.StatusOK, rec.Code)

	bindings := decode[[]definition.ToolBinding](t, s.do(t, http.MethodGet, "/agent/tool_list", nil))
	types := map[definition.ToolType]int{}
	for _, b := range bindings {
		types[b.Type]++
	}
	assert.Positive(t, types[definition.ToolNative])
	assert.Equal(t, 1, types[definition.ToolAgent])
	assert.Equal(t, 1, types[definition.ToolMCP])
}

func TestMCPServerRoutes(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/mcp/createOrUpdate", map[string]any{"name": "remote", "host": "http://localhost:9/mcp", "desc": "d"})
	require.Equal(t, http.StatusOK, rec.Code)
	srv := decode[definition.MCPServer](t, rec)
	require.NotEmpty(t, srv.ID)

	got := decode[definition.MCPServer](t, s.do(t, http.MethodGet, "/mcp/get/"+srv.ID, nil))
	assert.Equal(t, "http://localhost:9/mcp", got.Host)
	assert.Len(t, decode[[]definition.MCPServer](t, s.do(t, http.MethodGet, "/mcp/list", nil)), 1)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/mcp/delete/"+srv.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/mcp/get/"+srv.ID, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/mcp/createOrUpdate", map[string]any{"name": "x"}).Code)
}

func TestStreamChat(t *testing.T) {
	s := newTestServer(t)
	id := s.createCalcAgent(t)

	rec := s.do(t, http.MethodPost, "/agent/stream_chat", map[string]any{"agent_id": id, "user_message": "2+2"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	chatID := rec.Header().Get("X-Chat-Id")
	require.NotEmpty(t, chatID)

	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	require.NotEmpty(t, frames)
	for _, f := range frames {
		require.True(t, strings.HasPrefix(f, "data: "), f)
		assert.True(t, json.Valid([]byte(strings.TrimPrefix(f, "data: "))), f)
	}
	assert.Contains(t, rec.Body.String(), "2+2 is 4")

	record := decode[store.ChatRecord](t, s.do(t, http.MethodGet, "/chat/get_chat?chat_id="+chatID, nil))
	assert.Equal(t, "2+2", record.UserMessage)

	resps := decode[[]store.ChatResponse](t, s.do(t, http.MethodGet, "/chat/list_chat_responses?chat_id="+chatID, nil))
	require.Len(t, resps, 3)
	for i, r := range resps {
		assert.Equal(t, i, r.RespNo)
	}
}

func TestStreamChatRejectsBadRequests(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"missing agent id", map[string]any{"user_message": "hi"}, http.StatusBadRequest},
		{"missing message", map[string]any{"agent_id": "a"}, http.StatusBadRequest},
		{"unknown agent", map[string]any{"agent_id": "nope", "user_message": "hi"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.do(t, http.MethodPost, "/agent/stream_chat", tt.body).Code)
		})
	}
}

func TestStreamChatWithoutRecord(t *testing.T) {
	s := newTestServer(t)
	id := s.createCalcAgent(t)

	rec := s.do(t, http.MethodPost, "/agent/stream_chat", map[string]any{"agent_id": id, "user_message": "2+2", "chat_record_enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	chatID := rec.Header().Get("X-Chat-Id")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/chat/get_chat?chat_id="+chatID, nil).Code)
	assert.Empty(t, decode[[]store.ChatResponse](t, s.do(t, http.MethodGet, "/chat/list_chat_responses?chat_id="+chatID, nil)))
}

func TestAsyncChat(t *testing.T) {
	s := newTestServer(t)
	id := s.createCalcAgent(t)

	rec := s.do(t, http.MethodPost, "/agent/async_chat", map[string]any{"agent_id": id, "user_message": "2+2"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "processing", body["status"])
	chatID := body["chat_id"]
	require.NotEmpty(t, chatID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.exec.Wait(ctx))

	resps := decode[[]store.ChatResponse](t, s.do(t, http.MethodGet, "/chat/list_chat_responses?chat_id="+chatID, nil))
	assert.Len(t, resps, 3)

	records := decode[[]store.ChatRecord](t, s.do(t, http.MethodGet, "/chat/list_record", nil))
	require.Len(t, records, 1)
	assert.Equal(t, chatID, records[0].ID)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/chat/del_chat?chat_id="+chatID, nil).Code)
	assert.Empty(t, decode[[]store.ChatResponse](t, s.do(t, http.MethodGet, "/chat/list_chat_responses?chat_id="+chatID, nil)))
}

func TestChatRoutesRequireChatID(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/chat/get_chat", "/chat/list_chat_responses"} {
		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, path, nil).Code, path)
	}
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodDelete, "/chat/del_chat", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/chat/list_record?limit=ten", nil).Code)
}

func TestSchedule(t *testing.T) {
	s := newTestServer(t)
	id := s.createCalcAgent(t)

	rec := s.do(t, http.MethodPost, "/schedule/validate", map[string]string{"cron_expression": "0 9 ? * MON-FRI"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cron(0 9 ? * MON-FRI *)", decode[map[string]any](t, rec)["schedule_expression"])

	rec = s.do(t, http.MethodPost, "/schedule/validate", map[string]string{"cron_expression": "0 9 * * *"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["valid"])

	rec = s.do(t, http.MethodPost, "/schedule/trigger", map[string]string{"agent_id": id, "schedule_id": "s1", "user_message": "2+2"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "s1", body["schedule_id"])

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.exec.Wait(ctx))
	resps, err := s.store.ListChatResponses(ctx, body["chat_id"])
	require.NoError(t, err)
	assert.Len(t, resps, 3)

	rec = s.do(t, http.MethodPost, "/schedule/trigger", map[string]string{"agent_id": id})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleCRUD(t *testing.T) {
	s := newTestServer(t)
	id := s.createCalcAgent(t)

	rec := s.do(t, http.MethodPost, "/schedule/create", map[string]string{"agentId": id, "cronExpression": "0 9 ? * MON-FRI"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	created := decode[store.Schedule](t, rec)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, id, created.AgentID)
	assert.NotEmpty(t, created.AgentName)
	assert.Equal(t, "ENABLED", created.Status)
	assert.Equal(t, "[Scheduled Task] Execute scheduled task for agent "+id, created.UserMessage)

	rec = s.do(t, http.MethodPut, "/schedule/update/"+created.ID, map[string]string{"agentId": id, "cronExpression": "30 6 1 * ?", "user_message": "2+2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[store.Schedule](t, rec)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "30 6 1 * ?", updated.CronExpression)
	assert.Equal(t, "2+2", updated.UserMessage)
	assert.True(t, updated.CreatedAt.Equal(created.CreatedAt))
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	rec = s.do(t, http.MethodGet, "/schedule/list", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]store.Schedule](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "30 6 1 * ?", list[0].CronExpression)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"create without cron", http.MethodPost, "/schedule/create", map[string]string{"agentId": id}, http.StatusBadRequest},
		{"create with bad cron", http.MethodPost, "/schedule/create", map[string]string{"agentId": id, "cronExpression": "0 9 * * *"}, http.StatusBadRequest},
		{"create for unknown agent", http.MethodPost, "/schedule/create", map[string]string{"agentId": "ghost", "cronExpression": "0 9 ? * *"}, http.StatusNotFound},
		{"update unknown schedule", http.MethodPut, "/schedule/update/nope", map[string]string{"agentId": id, "cronExpression": "0 9 ? * *"}, http.StatusNotFound},
		{"delete unknown schedule", http.MethodDelete, "/schedule/delete/nope", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.do(t, tt.method, tt.path, tt.body).Code)
		})
	}

	rec = s.do(t, http.MethodDelete, "/schedule/delete/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["message"], created.ID)
	rec = s.do(t, http.MethodGet, "/schedule/list", nil)
	assert.Empty(t, decode[[]store.Schedule](t, rec))
}

func TestWebSocketChat(t *testing.T) {
	s := newTestServer(t)
	id := s.createCalcAgent(t)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/agent/ws_chat", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]string{"agent_id": id, "user_message": "2+2"}))

	var frames []map[string]any
	for {
		var f map[string]any
		if err := conn.ReadJSON(&f); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
		frames = append(frames, f)
	}
	require.NotEmpty(t, frames)
	chatID, _ := frames[0]["chat_id"].(string)
	require.NotEmpty(t, chatID)

	var sawAnswer bool
	for _, f := range frames[1:] {
		b, _ := json.Marshal(f)
		if strings.Contains(string(b), "2+2 is 4") {
			sawAnswer = true
		}
	}
	assert.True(t, sawAnswer)

	resps, err := s.store.ListChatResponses(context.Background(), chatID)
	require.NoError(t, err)
	assert.Len(t, resps, 3)
}

func TestWebSocketChatRejectsBadRequest(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/agent/ws_chat", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]string{"agent_id": "a"}))

	var f map[string]string
	require.NoError(t, conn.ReadJSON(&f))
	assert.Contains(t, f["error"], "required")
}

func TestWebSocketChatUnknownAgent(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/agent/ws_chat", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]string{"agent_id": "ghost", "user_message": "hi"}))

	var f map[string]string
	require.NoError(t, conn.ReadJSON(&f))
	assert.Contains(t, f["error"], "not found")
	assert.Empty(t, f["chat_id"])

	records, err := s.store.ListChatRecords(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRequestLoggerKeepsFlusher(t *testing.T) {
	var flushable bool
	h := requestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.True(t, flushable)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
