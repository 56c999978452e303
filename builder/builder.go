// Package builder turns a stored agent definition into a runnable agent:
// it parses the definition's environment overrides, resolves its tool
// bindings, selects its model backend and combines them with the system
// prompt. Nothing is cached; every call rebuilds from the definition.
package builder

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/zanbei/agentx/agent"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
	"github.com/zanbei/agentx/llm"
	"github.com/zanbei/agentx/store"
	"github.com/zanbei/agentx/tools"
)

const DefaultMaxDepth = 5

// ModelSelector picks a model client for a definition. *llm.Selector
// implements it.
type ModelSelector interface {
	Select(ctx context.Context, provider definition.Provider, modelID string, extras map[string]any, env definition.Env) (*llm.Handle, error)
}

type Builder struct {
	agents    store.AgentStore
	servers   store.MCPStore
	registry  *tools.Registry
	models    ModelSelector
	maxDepth  int
	maxCycles int
}

type Option func(*Builder)

// WithMaxDepth bounds how deep sub-agents may nest.
func WithMaxDepth(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxDepth = n
		}
	}
}

// WithMaxCycles bounds the reasoning loop of every built agent.
func WithMaxCycles(n int) Option {
	return func(b *Builder) { b.maxCycles = n }
}

// WithMCPServers lets mcp bindings without a URL refer to a registered
// server by name.
func WithMCPServers(s store.MCPStore) Option {
	return func(b *Builder) { b.servers = s }
}

func New(agents store.AgentStore, registry *tools.Registry, models ModelSelector, opts ...Option) *Builder {
	b := &Builder{
		agents:   agents,
		registry: registry,
		models:   models,
		maxDepth: DefaultMaxDepth,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

type buildOptions struct {
	depth     int
	ancestors map[string]bool
	callables map[string]tools.Tool
}

type BuildOption func(*buildOptions)

// WithCallables supplies the tools served to bindings of type callable.
func WithCallables(c map[string]tools.Tool) BuildOption {
	return func(o *buildOptions) { o.callables = c }
}

func withLineage(depth int, ancestors map[string]bool) BuildOption {
	return func(o *buildOptions) {
		o.depth = depth
		o.ancestors = ancestors
	}
}

// Build assembles def into an agent. Unresolvable tool bindings are skipped;
// only a model selection failure fails the build. The caller must Close the
// returned agent.
func (b *Builder) Build(ctx context.Context, def *definition.Agent, opts ...BuildOption) (*agent.Agent, error) {
	o := buildOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	ancestors := make(map[string]bool, len(o.ancestors)+1)
	for id := range o.ancestors {
		ancestors[id] = true
	}
	if def.ID != "" {
		ancestors[def.ID] = true
	}

	var sessions []io.Closer
	rc := ResolveContext{
		Depth:     o.depth,
		Ancestors: ancestors,
		Env:       def.Env(),
		Callables: o.callables,
		Sessions:  &sessions,
	}
	resolved := b.Resolve(ctx, def.Tools, rc)

	handle, err := b.models.Select(ctx, def.ModelProvider, def.ModelID, def.Extras, rc.Env)
	if err != nil {
		for _, s := range sessions {
			s.Close()
		}
		return nil, errors.Wrapf(err, "failed to select model for agent %s", def.ID)
	}

	prompt := def.SystemPrompt
	if prompt == "" {
		prompt = definition.DefaultSystemPrompt
	}
	log.Debug().
		Str("agent_id", def.ID).
		Str("provider", string(handle.Provider)).
		Str("model", handle.ModelID).
		Strs("tools", tools.Names(resolved)).
		Int("depth", o.depth).
		Msg("Built agent")

	return agent.New(handle.Client, agent.Config{
		Name:         def.Name,
		SystemPrompt: prompt,
		Tools:        resolved,
		MaxCycles:    b.maxCycles,
		Closers:      sessions,
	}), nil
}

// BuildByID loads the definition and builds it.
func (b *Builder) BuildByID(ctx context.Context, id string, opts ...BuildOption) (*agent.Agent, error) {
	def, err := b.agents.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	return b.Build(ctx, def, opts...)
}
