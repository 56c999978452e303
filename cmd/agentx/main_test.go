package main

import (
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	cli := &CLI{}
	parser, err := kong.New(cli, kong.Name("agentx"))
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	require.NoError(t, err)
	return cli, kctx
}

func TestParseCommands(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		command string
	}{
		{"serve", []string{"serve", "--addr", ":9000"}, "serve"},
		{"toolserver", []string{"toolserver"}, "toolserver"},
		{"chat", []string{"chat", "a1", "what", "is", "2+2"}, "chat"},
		{"version", []string{"version"}, "version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, kctx := parse(t, tt.args...)
			assert.Equal(t, tt.command, strings.Fields(kctx.Command())[0])
		})
	}
}

func TestChatFlags(t *testing.T) {
	cli, _ := parse(t, "chat", "a1", "hello", "there", "--no-record", "--tool-verbosity", "all")
	assert.Equal(t, "a1", cli.Chat.AgentID)
	assert.Equal(t, []string{"hello", "there"}, cli.Chat.Message)
	assert.False(t, cli.Chat.Record)
	assert.Equal(t, "all", cli.Chat.ToolVerbosity)

	cli, _ = parse(t, "chat", "a1")
	assert.True(t, cli.Chat.Record)
	assert.Equal(t, "info", cli.Chat.ToolVerbosity)
}

func TestToolServerDefaults(t *testing.T) {
	cli, _ := parse(t, "-c", "/tmp/agentx.yaml", "toolserver")
	assert.Equal(t, ":8090", cli.ToolServer.Addr)
	assert.Equal(t, "/tmp/agentx.yaml", cli.Config)
}
