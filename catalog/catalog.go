// Package catalog lists every tool an agent definition may bind: the
// built-in capabilities, plain agents exposed as tools, and registered MCP
// servers.
package catalog

import (
	"context"

	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
	"github.com/zanbei/agentx/store"
	"github.com/zanbei/agentx/tools"
	"golang.org/x/sync/errgroup"
)

const (
	CategoryAgent = "Agent"
	CategoryMCP   = "Mcp"
)

type Catalog struct {
	registry *tools.Registry
	agents   store.AgentStore
	servers  store.MCPStore
}

func New(registry *tools.Registry, agents store.AgentStore, servers store.MCPStore) *Catalog {
	return &Catalog{registry: registry, agents: agents, servers: servers}
}

// List returns built-ins in registration order, then plain agents, then MCP
// servers.
func (c *Catalog) List(ctx context.Context) ([]definition.ToolBinding, error) {
	var (
		agents  []definition.Agent
		servers []definition.MCPServer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		agents, err = c.agents.ListAgents(gctx)
		return errors.Wrapf(err, "failed to list agents")
	})
	g.Go(func() error {
		var err error
		servers, err = c.servers.ListMCPServers(gctx)
		return errors.Wrapf(err, "failed to list mcp servers")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []definition.ToolBinding
	for _, d := range c.registry.Descriptors() {
		out = append(out, definition.ToolBinding{
			Name:        d.Key,
			DisplayName: d.Key,
			Category:    d.Category,
			Description: d.Description,
			Type:        definition.ToolNative,
		})
	}
	for _, a := range agents {
		if a.AgentType != definition.AgentPlain {
			continue
		}
		out = append(out, definition.ToolBinding{
			Name:        a.Name,
			DisplayName: a.Name,
			Category:    CategoryAgent,
			Description: a.Description,
			Type:        definition.ToolAgent,
			AgentID:     a.ID,
		})
	}
	for _, s := range servers {
		out = append(out, definition.ToolBinding{
			Name:        s.Name,
			DisplayName: s.Name,
			Category:    CategoryMCP,
			Description: s.Description,
			Type:        definition.ToolMCP,
			ServerURL:   s.Host,
		})
	}
	return out, nil
}
