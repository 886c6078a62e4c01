package agentrun

import (
	"encoding/json"
	"strings"

	"github.com/npratt/coachrun/internal/events"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message is one entry of the conversation transcript, in AG-UI shape.
type Message struct {
	ID         string     `json:"id"`
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string     `json:"toolCallId,omitempty"`
}

// ToolCall is a tool invocation attached to an assistant message.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// IsAssistantRole reports whether role denotes the agent ("assistant" or "ai").
func IsAssistantRole(role string) bool {
	r := strings.ToLower(role)
	return r == RoleAssistant || r == "ai"
}

// IsAssistant reports whether the message was authored by the agent.
func (m Message) IsAssistant() bool {
	return IsAssistantRole(m.Role)
}

type toolBlock struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Renderable returns the display text of the message: its content followed
// by one fenced JSON block per named tool call.
func (m Message) Renderable() string {
	var blocks []string
	for _, tc := range m.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		data, err := json.MarshalIndent(toolBlock{
			Name:      tc.Function.Name,
			Arguments: events.ParseToolArgs(tc.Function.Arguments),
		}, "", "  ")
		if err != nil {
			continue
		}
		blocks = append(blocks, "```json\n"+string(data)+"\n```")
	}

	if len(blocks) == 0 {
		return m.Content
	}
	joined := strings.Join(blocks, "\n\n")
	if strings.TrimSpace(m.Content) != "" {
		return m.Content + "\n\n" + joined
	}
	return joined
}

// LastAssistant returns the last agent-authored message, if any.
func LastAssistant(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsAssistant() {
			return msgs[i], true
		}
	}
	return Message{}, false
}

// AssistantSignature identifies the last assistant message as
// "<id>::<rendered content>", or "" when there is none. Comparing
// signatures before and after a run tells whether the run added a reply.
func AssistantSignature(msgs []Message) string {
	m, ok := LastAssistant(msgs)
	if !ok {
		return ""
	}
	return m.ID + "::" + strings.TrimSpace(m.Renderable())
}
