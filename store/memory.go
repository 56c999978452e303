package store

import (
	"context"
	"sort"
	"sync"

	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
)

// MemoryStore keeps everything in maps. Used for local runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	agents    map[string]definition.Agent
	servers   map[string]definition.MCPServer
	records   map[string]ChatRecord
	responses map[string]map[int]ChatResponse // key: chat id -> resp_no
	schedules map[string]Schedule
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:    make(map[string]definition.Agent),
		servers:   make(map[string]definition.MCPServer),
		records:   make(map[string]ChatRecord),
		responses: make(map[string]map[int]ChatResponse),
		schedules: make(map[string]Schedule),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) GetAgent(_ context.Context, id string) (*definition.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, errors.NotFound("agent", id)
	}
	return a.Clone(), nil
}

func (m *MemoryStore) PutAgent(_ context.Context, a *definition.Agent) error {
	if a.ID == "" {
		return errors.New("agent id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = *a.Clone()
	return nil
}

func (m *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, id)
	return nil
}

func (m *MemoryStore) ListAgents(_ context.Context) ([]definition.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]definition.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, *a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) FindAgentsByField(ctx context.Context, field, value string, limit int) ([]definition.Agent, error) {
	if !validField(field) {
		return nil, errors.New("field %q is not searchable", field)
	}
	all, _ := m.ListAgents(ctx)
	var out []definition.Agent
	for _, a := range all {
		if limit > 0 && len(out) >= limit {
			break
		}
		if v, _ := a.Field(field); v == value {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetMCPServer(_ context.Context, id string) (*definition.MCPServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	if !ok {
		return nil, errors.NotFound("mcp server", id)
	}
	return &s, nil
}

func (m *MemoryStore) PutMCPServer(_ context.Context, s *definition.MCPServer) error {
	if s.ID == "" {
		return errors.New("mcp server id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[s.ID] = *s
	return nil
}

func (m *MemoryStore) DeleteMCPServer(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.servers, id)
	return nil
}

func (m *MemoryStore) ListMCPServers(_ context.Context) ([]definition.MCPServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]definition.MCPServer, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) PutChatRecord(_ context.Context, r *ChatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = *r
	return nil
}

func (m *MemoryStore) GetChatRecord(_ context.Context, id string) (*ChatRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, errors.NotFound("chat record", id)
	}
	return &r, nil
}

func (m *MemoryStore) ListChatRecords(_ context.Context, limit int) ([]ChatRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChatRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreateTime.After(out[j].CreateTime) })
	if n := recordLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemoryStore) PutChatResponse(_ context.Context, r *ChatResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byNo, ok := m.responses[r.ChatID]
	if !ok {
		byNo = make(map[int]ChatResponse)
		m.responses[r.ChatID] = byNo
	}
	byNo[r.RespNo] = *r
	return nil
}

func (m *MemoryStore) ListChatResponses(_ context.Context, chatID string) ([]ChatResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ChatResponse, 0, len(m.responses[chatID]))
	for _, r := range m.responses[chatID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RespNo < out[j].RespNo })
	return out, nil
}

func (m *MemoryStore) DeleteChat(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, chatID)
	delete(m.responses, chatID)
	return nil
}

func (m *MemoryStore) GetSchedule(_ context.Context, id string) (*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, errors.NotFound("schedule", id)
	}
	return &s, nil
}

func (m *MemoryStore) PutSchedule(_ context.Context, s *Schedule) error {
	if s.ID == "" {
		return errors.New("schedule id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = *s
	return nil
}

func (m *MemoryStore) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

func (m *MemoryStore) ListSchedules(_ context.Context) ([]Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
