package session

import "strings"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn. Tool results travel as user messages.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock holds exactly one of its fields.
type ContentBlock struct {
	Text       string      `json:"text,omitempty"`
	ToolUse    *ToolUse    `json:"toolUse,omitempty"`
	ToolResult *ToolResult `json:"toolResult,omitempty"`
}

type ToolUse struct {
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type ToolResult struct {
	ToolUseID string              `json:"toolUseId"`
	Status    string              `json:"status"`
	Content   []ToolResultContent `json:"content"`
}

type ToolResultContent struct {
	Text string `json:"text"`
}

// UserText builds a plain user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{{Text: text}}}
}

// AssistantText builds a plain assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentBlock{{Text: text}}}
}

// ToolResultMessage wraps tool results in the user turn that answers them.
func ToolResultMessage(results ...ToolResult) Message {
	m := Message{Role: RoleUser}
	for i := range results {
		m.Content = append(m.Content, ContentBlock{ToolResult: &results[i]})
	}
	return m
}

// NewToolResult builds a single-text tool result.
func NewToolResult(id, status, text string) ToolResult {
	return ToolResult{ToolUseID: id, Status: status, Content: []ToolResultContent{{Text: text}}}
}

// Text concatenates the text blocks of the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, c := range m.Content {
		sb.WriteString(c.Text)
	}
	return sb.String()
}

// ToolUses returns the tool invocations requested by the message.
func (m Message) ToolUses() []ToolUse {
	var out []ToolUse
	for _, c := range m.Content {
		if c.ToolUse != nil {
			out = append(out, *c.ToolUse)
		}
	}
	return out
}

// ToolResults returns the tool results carried by the message.
func (m Message) ToolResults() []ToolResult {
	var out []ToolResult
	for _, c := range m.Content {
		if c.ToolResult != nil {
			out = append(out, *c.ToolResult)
		}
	}
	return out
}

// Text joins the text parts of a tool result.
func (r ToolResult) Text() string {
	var sb strings.Builder
	for _, c := range r.Content {
		sb.WriteString(c.Text)
	}
	return sb.String()
}
