package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/zanbei/agentx/catalog"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
	"github.com/zanbei/agentx/pipeline"
	"github.com/zanbei/agentx/schedule"
	"github.com/zanbei/agentx/store"
)

type handlers struct {
	store   store.Store
	catalog *catalog.Catalog
	exec    *pipeline.Executor
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// chatRequest is the body of stream_chat, async_chat and the first
// ws_chat frame. Chat records are kept unless explicitly disabled.
type chatRequest struct {
	AgentID           string `json:"agent_id"`
	UserMessage       string `json:"user_message"`
	ChatRecordEnabled *bool  `json:"chat_record_enabled,omitempty"`
}

func (c chatRequest) validate() error {
	if c.AgentID == "" || c.UserMessage == "" {
		return errors.New("agent_id and user_message are required")
	}
	return nil
}

func (c chatRequest) record() bool {
	return c.ChatRecordEnabled == nil || *c.ChatRecordEnabled
}

// --- Agents ---

func (h *handlers) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.ListAgents(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.GetAgent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (h *handlers) deleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteAgent(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// putAgent replaces the definition with the same id, or creates one under a
// fresh id when none is given.
func (h *handlers) putAgent(w http.ResponseWriter, r *http.Request) {
	var def definition.Agent
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if def.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	ctx := r.Context()
	if def.ID == "" {
		def.ID = pipeline.NewChatID()
	} else if err := h.store.DeleteAgent(ctx, def.ID); err != nil && !errors.IsNotFound(err) {
		respondStoreError(w, err)
		return
	}
	def.ApplyDefaults()
	if err := h.store.PutAgent(ctx, &def); err != nil {
		respondStoreError(w, err)
		return
	}
	log.Info().Str("agent_id", def.ID).Str("name", def.Name).Msg("Agent saved")
	respondJSON(w, http.StatusOK, &def)
}

func (h *handlers) toolList(w http.ResponseWriter, r *http.Request) {
	bindings, err := h.catalog.List(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, bindings)
}

// --- Execution ---

// streamChat runs the agent live and writes every event as an SSE frame.
// Failures after the stream has started end it; they are logged, not sent.
func (h *handlers) streamChat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if _, err := h.store.GetAgent(ctx, req.AgentID); err != nil {
		respondStoreError(w, err)
		return
	}
	chatID, err := h.exec.StartChat(ctx, req.AgentID, req.UserMessage, req.record())
	if err != nil {
		respondStoreError(w, err)
		return
	}

	pipeline.SetSSEHeaders(w)
	w.Header().Set("X-Chat-Id", chatID)
	w.WriteHeader(http.StatusOK)
	if err := h.exec.Stream(ctx, pipeline.SSESink{W: w}, req.AgentID, req.UserMessage, chatID, req.record()); err != nil {
		log.Warn().Err(err).Str("agent_id", req.AgentID).Str("chat_id", chatID).Msg("Stream ended early")
	}
}

func (h *handlers) asyncChat(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}
	h.startBackground(w, r, req.AgentID, req.UserMessage, req.record(), nil)
}

// startBackground records the chat, starts the run detached from the
// request and answers immediately.
func (h *handlers) startBackground(w http.ResponseWriter, r *http.Request, agentID, userMessage string, record bool, extra map[string]string) {
	ctx := r.Context()
	if _, err := h.store.GetAgent(ctx, agentID); err != nil {
		respondStoreError(w, err)
		return
	}
	chatID, err := h.exec.StartChat(ctx, agentID, userMessage, record)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	h.exec.Background(ctx, agentID, userMessage, chatID, record)

	resp := map[string]string{
		"status":  "processing",
		"chat_id": chatID,
		"message": "Agent execution started in background",
	}
	for k, v := range extra {
		resp[k] = v
	}
	respondJSON(w, http.StatusOK, resp)
}

// wsChat upgrades the connection. The first text frame carries the chat
// request; every event is then sent as its own JSON frame.
func (h *handlers) wsChat(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	var req chatRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeWSError(conn, "invalid request: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeWSError(conn, err.Error())
		return
	}
	ctx := r.Context()
	if _, err := h.store.GetAgent(ctx, req.AgentID); err != nil {
		writeWSError(conn, err.Error())
		return
	}
	chatID, err := h.exec.StartChat(ctx, req.AgentID, req.UserMessage, req.record())
	if err != nil {
		writeWSError(conn, err.Error())
		return
	}
	if err := conn.WriteJSON(map[string]string{"chat_id": chatID}); err != nil {
		return
	}
	if err := h.exec.Stream(ctx, pipeline.WebSocketSink{Conn: conn}, req.AgentID, req.UserMessage, chatID, req.record()); err != nil {
		log.Warn().Err(err).Str("agent_id", req.AgentID).Str("chat_id", chatID).Msg("WebSocket stream ended early")
		writeWSError(conn, err.Error())
		return
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
}

func writeWSError(conn *websocket.Conn, msg string) {
	conn.WriteJSON(map[string]string{"error": msg})
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""))
}

// --- MCP servers ---

func (h *handlers) listMCPServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.store.ListMCPServers(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, servers)
}

func (h *handlers) getMCPServer(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.GetMCPServer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

func (h *handlers) deleteMCPServer(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteMCPServer(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *handlers) putMCPServer(w http.ResponseWriter, r *http.Request) {
	var s definition.MCPServer
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if s.Name == "" || s.Host == "" {
		respondError(w, http.StatusBadRequest, "name and host are required")
		return
	}
	ctx := r.Context()
	if s.ID == "" {
		s.ID = pipeline.NewChatID()
	} else if err := h.store.DeleteMCPServer(ctx, s.ID); err != nil && !errors.IsNotFound(err) {
		respondStoreError(w, err)
		return
	}
	if err := h.store.PutMCPServer(ctx, &s); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, &s)
}

// --- Chats ---

func (h *handlers) listChatRecords(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultRecordLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	records, err := h.store.ListChatRecords(r.Context(), limit)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *handlers) getChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	rec, err := h.store.GetChatRecord(r.Context(), chatID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (h *handlers) listChatResponses(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	resps, err := h.store.ListChatResponses(r.Context(), chatID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resps)
}

func (h *handlers) deleteChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteChat(r.Context(), chatID); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// --- Schedules ---

func (h *handlers) listSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListSchedules(r.Context())
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *handlers) createSchedule(w http.ResponseWriter, r *http.Request) {
	req, agentName, ok := h.decodeScheduleRequest(w, r)
	if !ok {
		return
	}
	now := time.Now().UTC()
	sc := &store.Schedule{
		ID:             strings.ReplaceAll(uuid.NewString(), "-", ""),
		AgentID:        req.AgentID,
		AgentName:      agentName,
		CronExpression: req.CronExpression,
		Status:         schedule.StatusEnabled,
		UserMessage:    req.Message(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.store.PutSchedule(r.Context(), sc); err != nil {
		respondStoreError(w, err)
		return
	}
	log.Info().Str("schedule_id", sc.ID).Str("agent_id", sc.AgentID).Str("cron", sc.CronExpression).Msg("Schedule created")
	respondJSON(w, http.StatusOK, sc)
}

func (h *handlers) updateSchedule(w http.ResponseWriter, r *http.Request) {
	existing, err := h.store.GetSchedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	req, agentName, ok := h.decodeScheduleRequest(w, r)
	if !ok {
		return
	}
	sc := *existing
	sc.AgentID = req.AgentID
	sc.AgentName = agentName
	sc.CronExpression = req.CronExpression
	sc.UserMessage = req.Message()
	sc.UpdatedAt = time.Now().UTC()
	if sc.Status == "" {
		sc.Status = schedule.StatusEnabled
	}
	if err := h.store.PutSchedule(r.Context(), &sc); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sc)
}

func (h *handlers) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.GetSchedule(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	if err := h.store.DeleteSchedule(r.Context(), id); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Schedule " + id + " deleted successfully"})
}

// decodeScheduleRequest reads and validates a create or update body and
// resolves the agent's display name.
func (h *handlers) decodeScheduleRequest(w http.ResponseWriter, r *http.Request) (schedule.Request, string, bool) {
	var req schedule.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, "", false
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return req, "", false
	}
	a, err := h.store.GetAgent(r.Context(), req.AgentID)
	if err != nil {
		respondStoreError(w, err)
		return req, "", false
	}
	name := a.DisplayName
	if name == "" {
		name = a.Name
	}
	return req, name, true
}

func (h *handlers) triggerSchedule(w http.ResponseWriter, r *http.Request) {
	var t schedule.Trigger
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := t.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Info().Str("agent_id", t.AgentID).Str("schedule_id", t.ScheduleID).Msg("Schedule fired")
	h.startBackground(w, r, t.AgentID, t.UserMessage, true, map[string]string{"schedule_id": t.ScheduleID})
}

func (h *handlers) validateSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CronExpression string `json:"cron_expression"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	expr, err := schedule.ToScheduleExpression(body.CronExpression)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"valid": true, "schedule_expression": expr})
}

// --- Helpers ---

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}

func chatIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("chat_id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "chat_id is required")
		return "", false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondStoreError maps missing entities to 404 and everything else to 500.
func respondStoreError(w http.ResponseWriter, err error) {
	if errors.IsNotFound(err) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	log.Error().Err(err).Msg("Request failed")
	respondError(w, http.StatusInternalServerError, err.Error())
}
