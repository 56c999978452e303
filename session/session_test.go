package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageAccessors(t *testing.T) {
	m := Message{Role: RoleAssistant, Content: []ContentBlock{
		{Text: "let me "},
		{Text: "check"},
		{ToolUse: &ToolUse{ToolUseID: "t1", Name: "calculator", Input: map[string]any{"expression": "2+2"}}},
	}}
	assert.Equal(t, "let me check", m.Text())
	require.Len(t, m.ToolUses(), 1)
	assert.Equal(t, "calculator", m.ToolUses()[0].Name)
	assert.Empty(t, m.ToolResults())
}

func TestToolResultMessage(t *testing.T) {
	m := ToolResultMessage(NewToolResult("t1", StatusSuccess, "4"), NewToolResult("t2", StatusError, "boom"))
	assert.Equal(t, RoleUser, m.Role)
	results := m.ToolResults()
	require.Len(t, results, 2)
	assert.Equal(t, "4", results[0].Text())
	assert.Equal(t, StatusError, results[1].Status)
}

func TestWireShape(t *testing.T) {
	b, err := json.Marshal(ToolResultMessage(NewToolResult("t1", StatusSuccess, "4")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[{"toolResult":{"toolUseId":"t1","status":"success","content":[{"text":"4"}]}}]}`, string(b))
}
