package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zanbei/agentx/config"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlStore, err := OpenSQL(context.Background(), "sqlite3", ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func sampleAgent(id, name string) *definition.Agent {
	return &definition.Agent{
		ID:            id,
		Name:          name,
		DisplayName:   "Agent " + name,
		AgentType:     definition.AgentPlain,
		ModelProvider: definition.ProviderOpenAI,
		ModelID:       "gpt-4o",
		SystemPrompt:  "be brief",
		Tools: []definition.ToolBinding{
			{Name: "calculator", DisplayName: "calculator", Category: "Utilities", Type: definition.ToolNative},
			{Name: "helper", DisplayName: "helper", Type: definition.ToolAgent, AgentID: "other"},
		},
		Envs:   "A=1",
		Extras: map[string]any{"base_url": "http://localhost:4000"},
	}
}

func TestAgentCRUD(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.GetAgent(ctx, "a1")
			assert.True(t, errors.IsNotFound(err))

			require.NoError(t, s.PutAgent(ctx, sampleAgent("a1", "math")))
			got, err := s.GetAgent(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, sampleAgent("a1", "math"), got)

			updated := sampleAgent("a1", "math2")
			updated.Tools = nil
			require.NoError(t, s.PutAgent(ctx, updated))
			got, err = s.GetAgent(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, "math2", got.Name)
			assert.Empty(t, got.Tools)

			require.NoError(t, s.PutAgent(ctx, sampleAgent("a2", "math2")))
			require.NoError(t, s.PutAgent(ctx, sampleAgent("a3", "writer")))

			all, err := s.ListAgents(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 3)

			found, err := s.FindAgentsByField(ctx, "name", "math2", 10)
			require.NoError(t, err)
			assert.Len(t, found, 2)

			found, err = s.FindAgentsByField(ctx, "name", "math2", 1)
			require.NoError(t, err)
			assert.Len(t, found, 1)

			_, err = s.FindAgentsByField(ctx, "sys_prompt", "x", 1)
			assert.Error(t, err)

			require.NoError(t, s.DeleteAgent(ctx, "a1"))
			_, err = s.GetAgent(ctx, "a1")
			assert.True(t, errors.IsNotFound(err))
		})
	}
}

func TestAgentCopiesAreIndependent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := sampleAgent("a1", "math")
			require.NoError(t, s.PutAgent(ctx, in))

			// Mutating the caller's value after Put must not reach the store.
			in.Tools[0].Name = "changed"
			in.Extras["base_url"] = "http://elsewhere"

			got, err := s.GetAgent(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, sampleAgent("a1", "math"), got)

			// Nor must mutating a value returned by Get or List.
			got.Tools = append(got.Tools[:0], definition.ToolBinding{Name: "other"})
			got.Extras["api_key"] = "leak"
			all, err := s.ListAgents(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			all[0].Extras["region"] = "leak"

			again, err := s.GetAgent(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, sampleAgent("a1", "math"), again)
		})
	}
}

func TestMCPServerCRUD(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			srv := &definition.MCPServer{ID: "m1", Name: "tools", Description: "builtin", Host: "http://localhost:8001/mcp"}
			require.NoError(t, s.PutMCPServer(ctx, srv))
			require.NoError(t, s.PutMCPServer(ctx, srv))

			got, err := s.GetMCPServer(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, srv, got)

			list, err := s.ListMCPServers(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			require.NoError(t, s.DeleteMCPServer(ctx, "m1"))
			_, err = s.GetMCPServer(ctx, "m1")
			assert.True(t, errors.IsNotFound(err))
		})
	}
}

func TestScheduleCRUD(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.GetSchedule(ctx, "s1")
			assert.True(t, errors.IsNotFound(err))
			assert.Error(t, s.PutSchedule(ctx, &Schedule{}))

			created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
			in := &Schedule{ID: "s1", AgentID: "a1", AgentName: "Math", CronExpression: "0 9 ? * MON", Status: "ENABLED", UserMessage: "go", CreatedAt: created, UpdatedAt: created}
			require.NoError(t, s.PutSchedule(ctx, in))
			got, err := s.GetSchedule(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, in, got)

			in.CronExpression = "30 6 1 * ?"
			in.UpdatedAt = created.Add(time.Hour)
			require.NoError(t, s.PutSchedule(ctx, in))
			require.NoError(t, s.PutSchedule(ctx, &Schedule{ID: "s0", AgentID: "a2", CreatedAt: created, UpdatedAt: created}))

			all, err := s.ListSchedules(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "s0", all[0].ID)
			assert.Equal(t, "30 6 1 * ?", all[1].CronExpression)
			assert.True(t, all[1].UpdatedAt.Equal(created.Add(time.Hour)))

			require.NoError(t, s.DeleteSchedule(ctx, "s1"))
			_, err = s.GetSchedule(ctx, "s1")
			assert.True(t, errors.IsNotFound(err))
		})
	}
}

func TestChatTranscript(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
			for i := range 3 {
				require.NoError(t, s.PutChatRecord(ctx, &ChatRecord{
					ID:          fmt.Sprintf("c%d", i),
					AgentID:     "a1",
					UserMessage: "hi",
					CreateTime:  base.Add(time.Duration(i) * time.Minute),
				}))
			}
			records, err := s.ListChatRecords(ctx, 0)
			require.NoError(t, err)
			require.Len(t, records, 3)
			assert.Equal(t, "c2", records[0].ID)
			assert.Equal(t, "c0", records[2].ID)

			records, err = s.ListChatRecords(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, records, 2)

			rec, err := s.GetChatRecord(ctx, "c1")
			require.NoError(t, err)
			assert.True(t, rec.CreateTime.Equal(base.Add(time.Minute)))

			for _, no := range []int{2, 0, 1} {
				require.NoError(t, s.PutChatResponse(ctx, &ChatResponse{ChatID: "c1", RespNo: no, Content: fmt.Sprintf(`{"n":%d}`, no)}))
			}
			resps, err := s.ListChatResponses(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, resps, 3)
			for i, r := range resps {
				assert.Equal(t, i, r.RespNo)
			}

			none, err := s.ListChatResponses(ctx, "c0")
			require.NoError(t, err)
			assert.NotNil(t, none)
			assert.Empty(t, none)

			require.NoError(t, s.DeleteChat(ctx, "c1"))
			require.NoError(t, s.DeleteChat(ctx, "c1"))
			_, err = s.GetChatRecord(ctx, "c1")
			assert.True(t, errors.IsNotFound(err))
			resps, err = s.ListChatResponses(ctx, "c1")
			require.NoError(t, err)
			assert.Empty(t, resps)
		})
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{dialect: "postgres"}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	lite := &SQLStore{dialect: "sqlite3"}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "cassandra"})
	assert.ErrorContains(t, err, "unknown store driver")

	_, err = Open(context.Background(), config.StoreConfig{Driver: "postgres"})
	assert.ErrorContains(t, err, "requires a dsn")

	s, err := Open(context.Background(), config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}
