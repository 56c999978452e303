package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"github.com/zanbei/agentx/errors"
	"github.com/zanbei/agentx/tools"
)

// StartupTimeout bounds connection and tool discovery against one server.
const StartupTimeout = 60 * time.Second

// Client manages the session with a single streamable-HTTP MCP server.
type Client struct {
	URL    string
	conn   *mcpsdk.ClientSession
	cancel context.CancelFunc
	tools  []*Tool
}

// Connect opens a session against url and discovers the tools it serves.
// Startup is bounded by StartupTimeout and by ctx; the session itself lives
// until Close.
func Connect(ctx context.Context, url string) (*Client, error) {
	sessionCtx, cancelSession := context.WithCancel(context.WithoutCancel(ctx))
	timer := time.AfterFunc(StartupTimeout, cancelSession)
	stop := context.AfterFunc(ctx, cancelSession)

	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "agentx", Version: "v1.0.0"}, nil)
	conn, err := mcpClient.Connect(sessionCtx, &mcpsdk.StreamableClientTransport{Endpoint: url}, nil)
	timer.Stop()
	stop()
	if err != nil {
		cancelSession()
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", url)
	}
	client := &Client{URL: url, conn: conn, cancel: cancelSession}

	listCtx, cancelList := context.WithTimeout(ctx, StartupTimeout)
	defer cancelList()
	params := &mcpsdk.ListToolsParams{}
	for {
		toolList, err := conn.ListTools(listCtx, params)
		if err != nil {
			client.Close()
			return nil, errors.Wrapf(err, "failed to list tools from MCP server '%s'", url)
		}
		for _, t := range toolList.Tools {
			client.tools = append(client.tools, &Tool{
				toolName:    t.Name,
				description: t.Description,
				schema:      schemaMap(t.InputSchema),
				client:      client,
			})
		}
		if toolList.NextCursor == "" {
			break
		}
		params.Cursor = toolList.NextCursor
	}

	log.Info().Str("url", url).Int("tools", len(client.tools)).Msg("Initialized MCP client")
	return client, nil
}

// Tools returns the discovered tools in server order.
func (c *Client) Tools() []tools.Tool {
	out := make([]tools.Tool, len(c.tools))
	for i, t := range c.tools {
		out[i] = t
	}
	return out
}

// Close ends the session.
func (c *Client) Close() error {
	if c.cancel != nil {
		defer c.cancel()
	}
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Tool is a tool served by a remote MCP server.
type Tool struct {
	toolName    string
	description string
	schema      map[string]any
	client      *Client
}

func (t *Tool) Name() string                { return t.toolName }
func (t *Tool) Description() string         { return t.description }
func (t *Tool) InputSchema() map[string]any { return t.schema }

// Execute calls the tool on the server and joins its text content. A result
// flagged as an error is returned as an error.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	result, err := t.client.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.toolName,
		Arguments: args,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.toolName)
	}
	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return "", errors.New("tool '%s' failed: %s", t.toolName, sb.String())
	}
	return sb.String(), nil
}

func schemaMap(schema any) map[string]any {
	if schema == nil {
		return tools.ObjectSchema()
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return tools.ObjectSchema()
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return tools.ObjectSchema()
	}
	return m
}
