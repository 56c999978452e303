package tools

import (
	"github.com/zanbei/agentx/config"
	"github.com/zanbei/agentx/definition"
)

const (
	CategoryUtilities = "Utilities"
	CategoryFileOps   = "FileOps"
	CategoryWeb       = "Web & Network"
)

// NewBuiltinRegistry registers the built-in capabilities governed by cfg.
func NewBuiltinRegistry(cfg *config.ToolsConfig) *Registry {
	r := NewRegistry()
	fsAccess := cfg.FilesystemAccess

	r.Register(Descriptor{Key: "calculator", Category: CategoryUtilities,
		Description: "Perform calculations and mathematical operations"},
		func(definition.Env) (Tool, error) { return &CalculatorTool{}, nil })
	r.Register(Descriptor{Key: "current_time", Category: CategoryUtilities,
		Description: "Get the current time and date"},
		func(env definition.Env) (Tool, error) {
			return &CurrentTimeTool{defaultTimezone: env.Get("DEFAULT_TIMEZONE")}, nil
		})
	r.Register(Descriptor{Key: "editor", Category: CategoryFileOps,
		Description: "File editing operations like line edits, search, and replace"},
		func(definition.Env) (Tool, error) { return &EditorTool{fsAccess: &fsAccess}, nil })
	r.Register(Descriptor{Key: "file_read", Category: CategoryFileOps,
		Description: "Read and parse files"},
		func(definition.Env) (Tool, error) { return &ReadFileTool{fsAccess: &fsAccess}, nil })
	r.Register(Descriptor{Key: "file_write", Category: CategoryFileOps,
		Description: "Create and modify files"},
		func(definition.Env) (Tool, error) { return &WriteFileTool{fsAccess: &fsAccess}, nil })
	r.Register(Descriptor{Key: "http_request", Category: CategoryWeb,
		Description: "Make API calls, fetch web data, and call local HTTP servers"},
		func(env definition.Env) (Tool, error) {
			return NewHTTPRequestTool(cfg.HTTPTimeout, cfg.MaxResponseBytes, env.Get("HTTP_REQUEST_AUTH_TOKEN")), nil
		})
	r.Register(Descriptor{Key: "shell", Category: CategoryUtilities,
		Description: "Execute allowlisted shell commands"},
		func(env definition.Env) (Tool, error) {
			return &ShellTool{allowedCommands: cfg.AllowedCommands, env: env}, nil
		})

	r.RegisterClass("clock.Clock", func(env definition.Env) (map[string]Tool, error) {
		return map[string]Tool{
			"now": &CurrentTimeTool{name: "now", defaultTimezone: env.Get("DEFAULT_TIMEZONE")},
		}, nil
	}, Descriptor{Key: "now", Category: CategoryUtilities, Description: "Current time from a clock instance"})
	r.RegisterClass("math.Calculator", func(definition.Env) (map[string]Tool, error) {
		return map[string]Tool{"evaluate": &CalculatorTool{name: "evaluate"}}, nil
	}, Descriptor{Key: "evaluate", Category: CategoryUtilities, Description: "Evaluate an arithmetic expression"})

	return r
}
