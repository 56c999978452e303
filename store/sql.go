package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
)

// timeLayout is fixed width so create_time sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Statements run one by one; mysql rejects multi-statement Exec by default.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS agents (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    display_name VARCHAR(255) NOT NULL,
    description TEXT NOT NULL,
    agent_type VARCHAR(32) NOT NULL,
    model_provider VARCHAR(32) NOT NULL,
    model_id VARCHAR(255) NOT NULL,
    sys_prompt TEXT NOT NULL,
    tools TEXT NOT NULL,
    envs TEXT NOT NULL,
    extras TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS mcp_servers (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT NOT NULL,
    host TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS chat_records (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    agent_id VARCHAR(64) NOT NULL,
    user_message TEXT NOT NULL,
    create_time VARCHAR(40) NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS chat_responses (
    chat_id VARCHAR(64) NOT NULL,
    resp_no INTEGER NOT NULL,
    content TEXT NOT NULL,
    create_time VARCHAR(40) NOT NULL,
    PRIMARY KEY (chat_id, resp_no)
)`,
	`CREATE TABLE IF NOT EXISTS schedules (
    id VARCHAR(64) NOT NULL PRIMARY KEY,
    agent_id VARCHAR(64) NOT NULL,
    agent_name VARCHAR(255) NOT NULL,
    cron_expression VARCHAR(255) NOT NULL,
    status VARCHAR(32) NOT NULL,
    user_message TEXT NOT NULL,
    created_at VARCHAR(40) NOT NULL,
    updated_at VARCHAR(40) NOT NULL
)`,
}

const agentColumns = `id, name, display_name, description, agent_type, model_provider, model_id, sys_prompt, tools, envs, extras`

const scheduleColumns = `id, agent_id, agent_name, cron_expression, status, user_message, created_at, updated_at`

// SQLStore implements Store on database/sql. It supports sqlite3, postgres
// and mysql.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQL opens the database and creates the tables if needed.
func OpenSQL(ctx context.Context, driver, dsn string, maxConns int) (*SQLStore, error) {
	switch driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return nil, errors.New("unsupported sql driver: %s (supported: sqlite3, postgres, mysql)", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database")
	}
	// SQLite allows one writer at a time; a single connection avoids
	// "database is locked".
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to ping database")
	}
	return NewSQLStore(ctx, db, driver)
}

// NewSQLStore wraps an open connection.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	s := &SQLStore{db: db, dialect: dialect}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, errors.Wrapf(err, "failed to initialize schema")
		}
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*definition.Agent, error) {
	var (
		a             definition.Agent
		tools, extras string
	)
	err := row.Scan(&a.ID, &a.Name, &a.DisplayName, &a.Description, &a.AgentType,
		&a.ModelProvider, &a.ModelID, &a.SystemPrompt, &tools, &a.Envs, &extras)
	if err != nil {
		return nil, err
	}
	var raw []string
	if err := json.Unmarshal([]byte(tools), &raw); err != nil {
		return nil, errors.Wrapf(err, "agent %s has malformed tools column", a.ID)
	}
	if a.Tools, err = definition.DecodeTools(raw); err != nil {
		return nil, err
	}
	if extras != "" && extras != "null" {
		if err := json.Unmarshal([]byte(extras), &a.Extras); err != nil {
			return nil, errors.Wrapf(err, "agent %s has malformed extras column", a.ID)
		}
	}
	return &a, nil
}

func (s *SQLStore) GetAgent(ctx context.Context, id string) (*definition.Agent, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+agentColumns+` FROM agents WHERE id = ?`), id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("agent", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get agent %s", id)
	}
	return a, nil
}

// PutAgent deletes then inserts inside one transaction.
func (s *SQLStore) PutAgent(ctx context.Context, a *definition.Agent) error {
	if a.ID == "" {
		return errors.New("agent id is required")
	}
	raw, err := definition.EncodeTools(a.Tools)
	if err != nil {
		return err
	}
	tools, err := json.Marshal(raw)
	if err != nil {
		return errors.Wrapf(err, "failed to encode tools")
	}
	extras, err := json.Marshal(a.Extras)
	if err != nil {
		return errors.Wrapf(err, "failed to encode extras")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM agents WHERE id = ?`), a.ID); err != nil {
		return errors.Wrapf(err, "failed to replace agent %s", a.ID)
	}
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.Name, a.DisplayName, a.Description, string(a.AgentType), string(a.ModelProvider),
		a.ModelID, a.SystemPrompt, string(tools), a.Envs, string(extras))
	if err != nil {
		return errors.Wrapf(err, "failed to insert agent %s", a.ID)
	}
	return errors.Wrapf(tx.Commit(), "failed to commit agent %s", a.ID)
}

func (s *SQLStore) DeleteAgent(ctx context.Context, id string) error {
	return errors.Wrapf(s.exec(ctx, `DELETE FROM agents WHERE id = ?`, id), "failed to delete agent %s", id)
}

func (s *SQLStore) ListAgents(ctx context.Context) ([]definition.Agent, error) {
	return s.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY id`)
}

func (s *SQLStore) FindAgentsByField(ctx context.Context, field, value string, limit int) ([]definition.Agent, error) {
	if !validField(field) {
		return nil, errors.New("field %q is not searchable", field)
	}
	// field is one of the fixed column names checked above.
	query := `SELECT ` + agentColumns + ` FROM agents WHERE ` + field + ` = ? ORDER BY id`
	args := []any{value}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryAgents(ctx, query, args...)
}

func (s *SQLStore) queryAgents(ctx context.Context, query string, args ...any) ([]definition.Agent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query agents")
	}
	defer rows.Close()

	out := []definition.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan agent")
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetMCPServer(ctx context.Context, id string) (*definition.MCPServer, error) {
	var m definition.MCPServer
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, description, host FROM mcp_servers WHERE id = ?`), id).
		Scan(&m.ID, &m.Name, &m.Description, &m.Host)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("mcp server", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get mcp server %s", id)
	}
	return &m, nil
}

func (s *SQLStore) PutMCPServer(ctx context.Context, m *definition.MCPServer) error {
	if m.ID == "" {
		return errors.New("mcp server id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM mcp_servers WHERE id = ?`), m.ID); err != nil {
		return errors.Wrapf(err, "failed to replace mcp server %s", m.ID)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO mcp_servers (id, name, description, host) VALUES (?, ?, ?, ?)`),
		m.ID, m.Name, m.Description, m.Host); err != nil {
		return errors.Wrapf(err, "failed to insert mcp server %s", m.ID)
	}
	return errors.Wrapf(tx.Commit(), "failed to commit mcp server %s", m.ID)
}

func (s *SQLStore) DeleteMCPServer(ctx context.Context, id string) error {
	return errors.Wrapf(s.exec(ctx, `DELETE FROM mcp_servers WHERE id = ?`, id), "failed to delete mcp server %s", id)
}

func (s *SQLStore) ListMCPServers(ctx context.Context) ([]definition.MCPServer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, host FROM mcp_servers ORDER BY id`)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query mcp servers")
	}
	defer rows.Close()

	out := []definition.MCPServer{}
	for rows.Next() {
		var m definition.MCPServer
		if err := rows.Scan(&m.ID, &m.Name, &m.Description, &m.Host); err != nil {
			return nil, errors.Wrapf(err, "failed to scan mcp server")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) PutChatRecord(ctx context.Context, r *ChatRecord) error {
	err := s.exec(ctx, `INSERT INTO chat_records (id, agent_id, user_message, create_time) VALUES (?, ?, ?, ?)`,
		r.ID, r.AgentID, r.UserMessage, formatTime(r.CreateTime))
	return errors.Wrapf(err, "failed to insert chat record %s", r.ID)
}

func (s *SQLStore) GetChatRecord(ctx context.Context, id string) (*ChatRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, agent_id, user_message, create_time FROM chat_records WHERE id = ?`), id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("chat record", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get chat record %s", id)
	}
	return r, nil
}

func (s *SQLStore) ListChatRecords(ctx context.Context, limit int) ([]ChatRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, agent_id, user_message, create_time FROM chat_records ORDER BY create_time DESC LIMIT ?`), recordLimit(limit))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query chat records")
	}
	defer rows.Close()

	out := []ChatRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan chat record")
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRecord(row rowScanner) (*ChatRecord, error) {
	var (
		r  ChatRecord
		ts string
	)
	if err := row.Scan(&r.ID, &r.AgentID, &r.UserMessage, &ts); err != nil {
		return nil, err
	}
	r.CreateTime = parseTime(ts)
	return &r, nil
}

func (s *SQLStore) PutChatResponse(ctx context.Context, r *ChatResponse) error {
	err := s.exec(ctx, `INSERT INTO chat_responses (chat_id, resp_no, content, create_time) VALUES (?, ?, ?, ?)`,
		r.ChatID, r.RespNo, r.Content, formatTime(r.CreateTime))
	return errors.Wrapf(err, "failed to insert chat response %s/%d", r.ChatID, r.RespNo)
}

func (s *SQLStore) ListChatResponses(ctx context.Context, chatID string) ([]ChatResponse, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT chat_id, resp_no, content, create_time FROM chat_responses WHERE chat_id = ? ORDER BY resp_no`), chatID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query chat responses")
	}
	defer rows.Close()

	out := []ChatResponse{}
	for rows.Next() {
		var (
			r  ChatResponse
			ts string
		)
		if err := rows.Scan(&r.ChatID, &r.RespNo, &r.Content, &ts); err != nil {
			return nil, errors.Wrapf(err, "failed to scan chat response")
		}
		r.CreateTime = parseTime(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteChat(ctx context.Context, chatID string) error {
	if err := s.exec(ctx, `DELETE FROM chat_records WHERE id = ?`, chatID); err != nil {
		return errors.Wrapf(err, "failed to delete chat record %s", chatID)
	}
	return errors.Wrapf(s.exec(ctx, `DELETE FROM chat_responses WHERE chat_id = ?`, chatID),
		"failed to delete chat responses %s", chatID)
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var (
		sc               Schedule
		created, updated string
	)
	if err := row.Scan(&sc.ID, &sc.AgentID, &sc.AgentName, &sc.CronExpression, &sc.Status, &sc.UserMessage, &created, &updated); err != nil {
		return nil, err
	}
	sc.CreatedAt = parseTime(created)
	sc.UpdatedAt = parseTime(updated)
	return &sc, nil
}

func (s *SQLStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`), id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("schedule", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule %s", id)
	}
	return sc, nil
}

func (s *SQLStore) PutSchedule(ctx context.Context, sc *Schedule) error {
	if sc.ID == "" {
		return errors.New("schedule id is required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM schedules WHERE id = ?`), sc.ID); err != nil {
		return errors.Wrapf(err, "failed to replace schedule %s", sc.ID)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schedules (`+scheduleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		sc.ID, sc.AgentID, sc.AgentName, sc.CronExpression, sc.Status, sc.UserMessage,
		formatTime(sc.CreatedAt), formatTime(sc.UpdatedAt)); err != nil {
		return errors.Wrapf(err, "failed to insert schedule %s", sc.ID)
	}
	return errors.Wrapf(tx.Commit(), "failed to commit schedule %s", sc.ID)
}

func (s *SQLStore) DeleteSchedule(ctx context.Context, id string) error {
	return errors.Wrapf(s.exec(ctx, `DELETE FROM schedules WHERE id = ?`, id), "failed to delete schedule %s", id)
}

func (s *SQLStore) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY id`)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query schedules")
	}
	defer rows.Close()

	out := []Schedule{}
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to scan schedule")
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
