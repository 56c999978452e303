package builder

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
	"github.com/zanbei/agentx/metrics"
	"github.com/zanbei/agentx/tools"
	"github.com/zanbei/agentx/tools/mcp"
)

// ResolveContext is the per-build state threaded through resolution.
type ResolveContext struct {
	// Depth is 0 for a top-level build and grows by one per sub-agent.
	Depth int
	// Ancestors holds the ids of every definition being built on this path.
	Ancestors map[string]bool
	Env       definition.Env
	// Callables serve bindings of type callable, by name.
	Callables map[string]tools.Tool
	// Sessions collects remote sessions opened while resolving. The built
	// agent closes them.
	Sessions *[]io.Closer
}

// Resolve maps bindings to tools in order. A binding that cannot be resolved
// is logged and skipped; it never affects the other bindings.
func (b *Builder) Resolve(ctx context.Context, bindings []definition.ToolBinding, rc ResolveContext) []tools.Tool {
	out := make([]tools.Tool, 0, len(bindings))
	for _, binding := range bindings {
		resolved, err := b.resolveOne(ctx, binding, rc)
		if err != nil {
			typ := string(binding.Type)
			if typ == "" {
				typ = string(definition.ToolNative)
			}
			metrics.UnresolvedBindings.WithLabelValues(typ).Inc()
			log.Warn().Err(err).Str("binding", binding.Name).Str("type", typ).Msg("Skipping tool binding")
			continue
		}
		out = append(out, resolved...)
	}
	return out
}

func (b *Builder) resolveOne(ctx context.Context, binding definition.ToolBinding, rc ResolveContext) ([]tools.Tool, error) {
	switch binding.Type {
	case definition.ToolNative, "":
		t, err := b.registry.Resolve(binding.Name, rc.Env)
		if err != nil {
			return nil, err
		}
		return []tools.Tool{t}, nil
	case definition.ToolAgent:
		t, err := b.resolveSubAgent(ctx, binding, rc)
		if err != nil || t == nil {
			return nil, err
		}
		return []tools.Tool{t}, nil
	case definition.ToolMCP:
		return b.resolveMCP(ctx, binding, rc)
	case definition.ToolCallable:
		t, ok := rc.Callables[binding.Name]
		if !ok {
			return nil, errors.UnresolvedBinding(binding.Name, string(binding.Type), "no callable supplied under this name")
		}
		return []tools.Tool{t}, nil
	default:
		return nil, errors.UnresolvedBinding(binding.Name, string(binding.Type), "unknown binding type")
	}
}

// resolveSubAgent wraps a plain definition as a tool. Other agent types are
// omitted without a diagnostic.
func (b *Builder) resolveSubAgent(ctx context.Context, binding definition.ToolBinding, rc ResolveContext) (tools.Tool, error) {
	typ := string(definition.ToolAgent)
	if binding.AgentID == "" {
		return nil, errors.UnresolvedBinding(binding.Name, typ, "agent_id is required")
	}
	if err := b.checkLineage(binding.Name, binding.AgentID, rc); err != nil {
		return nil, err
	}

	def, err := b.agents.GetAgent(ctx, binding.AgentID)
	if err != nil {
		return nil, errors.UnresolvedBinding(binding.Name, typ, "load agent %s: %v", binding.AgentID, err)
	}
	if def.AgentType != definition.AgentPlain {
		log.Debug().Str("agent_id", def.ID).Str("agent_type", string(def.AgentType)).Msg("Only plain agents are exposed as tools")
		return nil, nil
	}

	ancestors := make(map[string]bool, len(rc.Ancestors))
	for id := range rc.Ancestors {
		ancestors[id] = true
	}
	return &subAgentTool{
		builder:     b,
		agentID:     def.ID,
		name:        def.Name,
		description: subAgentDescription(def),
		depth:       rc.Depth + 1,
		ancestors:   ancestors,
		callables:   rc.Callables,
	}, nil
}

// checkLineage rejects self and mutual references and chains deeper than
// the configured maximum.
func (b *Builder) checkLineage(name, agentID string, rc ResolveContext) error {
	typ := string(definition.ToolAgent)
	if rc.Ancestors[agentID] {
		return errors.UnresolvedBinding(name, typ, "agent %s is already being built on this path", agentID)
	}
	if rc.Depth >= b.maxDepth {
		return errors.UnresolvedBinding(name, typ, "sub-agent depth limit %d reached", b.maxDepth)
	}
	return nil
}

func (b *Builder) resolveMCP(ctx context.Context, binding definition.ToolBinding, rc ResolveContext) ([]tools.Tool, error) {
	typ := string(definition.ToolMCP)
	url := binding.ServerURL
	if url == "" && binding.Name != "" && b.servers != nil {
		servers, err := b.servers.ListMCPServers(ctx)
		if err != nil {
			return nil, errors.UnresolvedBinding(binding.Name, typ, "list mcp servers: %v", err)
		}
		for _, s := range servers {
			if s.Name == binding.Name {
				url = s.Host
				break
			}
		}
	}
	if url == "" {
		return nil, errors.UnresolvedBinding(binding.Name, typ, "mcp_server_url is required")
	}

	client, err := mcp.Connect(ctx, url)
	if err != nil {
		return nil, errors.UnresolvedBinding(binding.Name, typ, "%v", err)
	}
	if rc.Sessions != nil {
		*rc.Sessions = append(*rc.Sessions, client)
	}
	return client.Tools(), nil
}
