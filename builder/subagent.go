package builder

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/zanbei/agentx/definition"
	"github.com/zanbei/agentx/errors"
	"github.com/zanbei/agentx/tools"
)

type subAgentArgs struct {
	Query string `json:"query" jsonschema:"required" jsonschema_description:"The request to hand to the agent"`
}

// subAgentTool runs another stored agent to completion. The definition is
// loaded and built again on every call.
type subAgentTool struct {
	builder     *Builder
	agentID     string
	name        string
	description string
	depth       int
	ancestors   map[string]bool
	callables   map[string]tools.Tool
}

func (t *subAgentTool) Name() string                { return t.name }
func (t *subAgentTool) Description() string         { return t.description }
func (t *subAgentTool) InputSchema() map[string]any { return tools.SchemaFor[subAgentArgs]() }

func (t *subAgentTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", errors.New("query is required")
	}
	rc := ResolveContext{Depth: t.depth - 1, Ancestors: t.ancestors}
	if err := t.builder.checkLineage(t.name, t.agentID, rc); err != nil {
		return "", err
	}

	a, err := t.builder.BuildByID(ctx, t.agentID, withLineage(t.depth, t.ancestors), WithCallables(t.callables))
	if err != nil {
		return "", errors.Wrapf(err, "failed to build sub-agent '%s'", t.agentID)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Str("agent_id", t.agentID).Msg("Failed to release sub-agent resources")
		}
	}()

	log.Debug().Str("agent_id", t.agentID).Int("depth", t.depth).Msg("Invoking sub-agent")
	return a.Run(ctx, query)
}

func subAgentDescription(def *definition.Agent) string {
	if def.Description != "" {
		return def.Description
	}
	if def.DisplayName != "" {
		return def.DisplayName
	}
	return def.Name
}
