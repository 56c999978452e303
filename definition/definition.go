// Package definition holds the declarative records that describe an agent:
// its prompt, model selection, tool bindings and environment overrides, plus
// independently registered remote tool servers.
package definition

import (
	"encoding/json"

	"github.com/zanbei/agentx/errors"
)

const (
	DefaultModelID      = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"
	DefaultSystemPrompt = "You are a helpful assistant."
)

type AgentType string

const (
	AgentPlain        AgentType = "plain"
	AgentOrchestrator AgentType = "orchestrator"
)

// Provider selects the model backend family.
type Provider string

const (
	ProviderBedrock   Provider = "bedrock" // managed cloud
	ProviderOpenAI    Provider = "openai"  // openai-compatible
	ProviderAnthropic Provider = "anthropic"
	ProviderLiteLLM   Provider = "litellm"
	ProviderOllama    Provider = "ollama" // local
	ProviderCustom    Provider = "custom"
)

// ToolType tags how a ToolBinding is resolved.
type ToolType string

const (
	ToolNative   ToolType = "native"
	ToolMCP      ToolType = "mcp"
	ToolAgent    ToolType = "agent"
	ToolCallable ToolType = "callable"
)

// UnmarshalText accepts the legacy spellings written by older clients.
func (t *ToolType) UnmarshalText(b []byte) error {
	switch s := string(b); s {
	case "native", "strands", "":
		*t = ToolNative
	case "mcp":
		*t = ToolMCP
	case "agent":
		*t = ToolAgent
	case "callable", "python":
		*t = ToolCallable
	default:
		return errors.New("unknown tool type %q", s)
	}
	return nil
}

// ToolBinding is a declarative reference to one capability an agent may invoke.
type ToolBinding struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"display_name,omitempty"`
	Category    string         `json:"category"`
	Description string         `json:"desc"`
	Type        ToolType       `json:"type"`
	ServerURL   string         `json:"mcp_server_url,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Agent is the persisted definition of one agent.
type Agent struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	DisplayName   string         `json:"display_name"`
	Description   string         `json:"description"`
	AgentType     AgentType      `json:"agent_type"`
	ModelProvider Provider       `json:"model_provider"`
	ModelID       string         `json:"model_id"`
	SystemPrompt  string         `json:"sys_prompt"`
	Tools         []ToolBinding  `json:"tools"`
	Envs          string         `json:"envs"`
	Extras        map[string]any `json:"extras,omitempty"`
}

// ApplyDefaults fills the fields an incoming request may leave empty.
func (a *Agent) ApplyDefaults() {
	if a.AgentType == "" {
		a.AgentType = AgentPlain
	}
	if a.ModelProvider == "" {
		a.ModelProvider = ProviderBedrock
	}
	if a.ModelID == "" {
		a.ModelID = DefaultModelID
	}
	if a.SystemPrompt == "" {
		a.SystemPrompt = DefaultSystemPrompt
	}
	if a.Tools == nil {
		a.Tools = []ToolBinding{}
	}
}

// Clone returns a copy that shares no slices or maps with a.
func (a *Agent) Clone() *Agent {
	c := *a
	if a.Tools != nil {
		c.Tools = make([]ToolBinding, len(a.Tools))
		for i, t := range a.Tools {
			t.Extra = cloneMap(t.Extra)
			c.Tools[i] = t
		}
	}
	c.Extras = cloneMap(a.Extras)
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Env parses the agent's environment overrides.
func (a *Agent) Env() Env {
	return ParseEnv(a.Envs)
}

// MCPServer is a remote tool server reachable over MCP streamable HTTP.
type MCPServer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"desc"`
	Host        string `json:"host"`
}

// EncodeTools renders each binding as its own JSON document, the flat form
// the stores persist.
func EncodeTools(ts []ToolBinding) ([]string, error) {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		b, err := json.Marshal(t)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode tool binding %q", t.Name)
		}
		out = append(out, string(b))
	}
	return out, nil
}

// DecodeTools is the inverse of EncodeTools.
func DecodeTools(raw []string) ([]ToolBinding, error) {
	out := make([]ToolBinding, 0, len(raw))
	for _, r := range raw {
		var t ToolBinding
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, errors.Wrapf(err, "failed to decode tool binding")
		}
		if t.DisplayName == "" {
			t.DisplayName = t.Name
		}
		out = append(out, t)
	}
	return out, nil
}

// SearchableFields lists the agent attributes FindAgentsByField accepts.
var SearchableFields = []string{"name", "display_name", "agent_type", "model_provider", "model_id"}

// Field returns the value of a searchable attribute.
func (a *Agent) Field(name string) (string, bool) {
	switch name {
	case "name":
		return a.Name, true
	case "display_name":
		return a.DisplayName, true
	case "agent_type":
		return string(a.AgentType), true
	case "model_provider":
		return string(a.ModelProvider), true
	case "model_id":
		return a.ModelID, true
	}
	return "", false
}
