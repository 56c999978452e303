// Package toolserver publishes the single-key built-in tools over MCP
// streamable HTTP so that mcp bindings have a first-party server to point at.
package toolserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
	"github.com/zanbei/agentx/metrics"
	"github.com/zanbei/agentx/tools"
)

const (
	Name         = "agentx-builtin-tools"
	EndpointPath = "/mcp"
)

// Server wraps an MCP server holding one tool per registry capability.
type Server struct {
	mcp   *server.MCPServer
	http  *server.StreamableHTTPServer
	names []string
}

// New instantiates every single-key capability of registry with env and
// registers it. Class methods are not published.
func New(registry *tools.Registry, env definition.Env, version string) (*Server, error) {
	s := &Server{mcp: server.NewMCPServer(Name, version, server.WithToolCapabilities(false))}
	for _, d := range registry.Descriptors() {
		if strings.Contains(d.Key, ".") {
			continue
		}
		t, err := registry.Resolve(d.Key, env)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to build tool %s", d.Key)
		}
		schema, err := json.Marshal(t.InputSchema())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode schema of %s", d.Key)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(t.Name(), t.Description(), schema), handler(t))
		s.names = append(s.names, t.Name())
	}
	s.http = server.NewStreamableHTTPServer(s.mcp, server.WithEndpointPath(EndpointPath))
	return s, nil
}

// ToolNames lists the published tools in registration order.
func (s *Server) ToolNames() []string { return s.names }

// ServeHTTP makes the server mountable on any router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.http.ServeHTTP(w, r)
}

// Start listens on addr and serves EndpointPath until Shutdown.
func (s *Server) Start(addr string) error {
	log.Info().Str("addr", addr).Str("path", EndpointPath).Strs("tools", s.names).Msg("Tool server listening")
	return s.http.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func handler(t tools.Tool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		if err := tools.Validate(t.InputSchema(), args); err != nil {
			metrics.ToolCalls.WithLabelValues(t.Name(), "error").Inc()
			return mcp.NewToolResultError(err.Error()), nil
		}
		out, err := t.Execute(ctx, args)
		if err != nil {
			metrics.ToolCalls.WithLabelValues(t.Name(), "error").Inc()
			return mcp.NewToolResultError(err.Error()), nil
		}
		metrics.ToolCalls.WithLabelValues(t.Name(), "success").Inc()
		return mcp.NewToolResultText(out), nil
	}
}
