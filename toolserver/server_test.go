package toolserver

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zanbei/agentx/config"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/tools"
	"github.com/zanbei/agentx/tools/mcp"
)

func TestServerPublishesSingleKeyTools(t *testing.T) {
	srv, err := New(tools.NewBuiltinRegistry(&config.Default().Tools), definition.Env{}, "test")
	require.NoError(t, err)
	assert.Contains(t, srv.ToolNames(), "calculator")
	assert.NotContains(t, srv.ToolNames(), "now")
	assert.NotContains(t, srv.ToolNames(), "evaluate")

	ts := httptest.NewServer(srv)
	defer ts.Close()

	client, err := mcp.Connect(context.Background(), ts.URL+EndpointPath)
	require.NoError(t, err)
	defer client.Close()

	remote := client.Tools()
	assert.ElementsMatch(t, srv.ToolNames(), tools.Names(remote))

	var calc tools.Tool
	for _, tl := range remote {
		if tl.Name() == "calculator" {
			calc = tl
		}
	}
	require.NotNil(t, calc)
	assert.Contains(t, calc.InputSchema()["properties"], "expression")

	out, err := calc.Execute(context.Background(), map[string]any{"expression": "6*7"})
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	_, err = calc.Execute(context.Background(), map[string]any{"expression": "1 +"})
	assert.Error(t, err)
}
