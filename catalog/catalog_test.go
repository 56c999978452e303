package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zanbei/agentx/config"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/store"
	"github.com/zanbei/agentx/tools"
)

func TestList(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.PutAgent(ctx, &definition.Agent{ID: "a1", Name: "researcher", Description: "digs", AgentType: definition.AgentPlain}))
	require.NoError(t, st.PutAgent(ctx, &definition.Agent{ID: "a2", Name: "boss", AgentType: definition.AgentOrchestrator}))
	require.NoError(t, st.PutMCPServer(ctx, &definition.MCPServer{ID: "m1", Name: "weather", Description: "forecasts", Host: "http://weather/mcp"}))

	registry := tools.NewBuiltinRegistry(&config.Default().Tools)
	got, err := New(registry, st, st).List(ctx)
	require.NoError(t, err)

	builtins := len(registry.Descriptors())
	require.Len(t, got, builtins+2)
	assert.Equal(t, "calculator", got[0].Name)
	assert.Equal(t, definition.ToolNative, got[0].Type)
	assert.Equal(t, "math.Calculator.evaluate", got[builtins-1].Name)

	assert.Equal(t, definition.ToolBinding{
		Name: "researcher", DisplayName: "researcher", Category: CategoryAgent,
		Description: "digs", Type: definition.ToolAgent, AgentID: "a1",
	}, got[builtins])
	assert.Equal(t, definition.ToolBinding{
		Name: "weather", DisplayName: "weather", Category: CategoryMCP,
		Description: "forecasts", Type: definition.ToolMCP, ServerURL: "http://weather/mcp",
	}, got[builtins+1])
}
