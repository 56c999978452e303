// Package store persists agent definitions, registered MCP servers, chat
// transcripts and schedules. Every backend (memory, SQL, DynamoDB) implements Store.
package store

import (
	"context"
	"time"

	"github.com/zanbei/agentx/definition"
)

// DefaultRecordLimit bounds ListChatRecords when the caller passes zero.
const DefaultRecordLimit = 100

// ChatRecord is written once per turn, before the agent runs.
type ChatRecord struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agent_id"`
	UserMessage string    `json:"user_message"`
	CreateTime  time.Time `json:"create_time"`
}

// ChatResponse is one persisted event of a turn. RespNo counts from zero in
// emission order.
type ChatResponse struct {
	ChatID     string    `json:"id"`
	RespNo     int       `json:"resp_no"`
	Content    string    `json:"content"`
	CreateTime time.Time `json:"create_time"`
}

// Schedule registers a cron timer for an agent. Firing it is up to an
// external scheduler, which posts a trigger back to the service.
type Schedule struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agentId"`
	AgentName      string    `json:"agentName"`
	CronExpression string    `json:"cronExpression"`
	Status         string    `json:"status"`
	UserMessage    string    `json:"user_message"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type AgentStore interface {
	GetAgent(ctx context.Context, id string) (*definition.Agent, error)
	// PutAgent inserts or fully replaces the definition with the same id.
	PutAgent(ctx context.Context, a *definition.Agent) error
	DeleteAgent(ctx context.Context, id string) error
	ListAgents(ctx context.Context) ([]definition.Agent, error)
	// FindAgentsByField returns up to limit agents whose field equals value.
	FindAgentsByField(ctx context.Context, field, value string, limit int) ([]definition.Agent, error)
}

type MCPStore interface {
	GetMCPServer(ctx context.Context, id string) (*definition.MCPServer, error)
	PutMCPServer(ctx context.Context, s *definition.MCPServer) error
	DeleteMCPServer(ctx context.Context, id string) error
	ListMCPServers(ctx context.Context) ([]definition.MCPServer, error)
}

type ChatStore interface {
	PutChatRecord(ctx context.Context, r *ChatRecord) error
	GetChatRecord(ctx context.Context, id string) (*ChatRecord, error)
	// ListChatRecords returns the most recent records first.
	ListChatRecords(ctx context.Context, limit int) ([]ChatRecord, error)
	PutChatResponse(ctx context.Context, r *ChatResponse) error
	// ListChatResponses returns responses ordered by RespNo. A chat with no
	// responses yields an empty slice, not an error.
	ListChatResponses(ctx context.Context, chatID string) ([]ChatResponse, error)
	// DeleteChat removes the record first, then its responses. Calling it
	// again after a partial failure finishes the job.
	DeleteChat(ctx context.Context, chatID string) error
}

type ScheduleStore interface {
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	// PutSchedule inserts or fully replaces the schedule with the same id.
	PutSchedule(ctx context.Context, s *Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	// ListSchedules returns schedules ordered by id.
	ListSchedules(ctx context.Context) ([]Schedule, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	AgentStore
	MCPStore
	ChatStore
	ScheduleStore

	Close() error
}

func validField(field string) bool {
	for _, f := range definition.SearchableFields {
		if f == field {
			return true
		}
	}
	return false
}

func recordLimit(limit int) int {
	if limit <= 0 || limit > DefaultRecordLimit {
		return DefaultRecordLimit
	}
	return limit
}
