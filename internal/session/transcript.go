package session

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/npratt/coachrun/internal/agentrun"
	"github.com/npratt/coachrun/internal/events"
)

// Transcript is the conversation as the agent sees it. It is assembled
// from the caller's own messages and the agent's streamed events, and is
// sent in full with every run.
type Transcript struct {
	mu        sync.RWMutex
	messages  []agentrun.Message
	toolNames map[string]string
}

// NewTranscript creates a transcript seeded with msgs.
func NewTranscript(msgs ...agentrun.Message) *Transcript {
	return &Transcript{
		messages:  slices.Clone(msgs),
		toolNames: make(map[string]string),
	}
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []agentrun.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneMessages(t.messages)
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Append adds messages, assigning ids to those without one.
func (t *Transcript) Append(msgs ...agentrun.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		t.messages = append(t.messages, m)
	}
}

// AppendUser adds a user message and returns it.
func (t *Transcript) AppendUser(text string) agentrun.Message {
	m := agentrun.Message{ID: uuid.NewString(), Role: agentrun.RoleUser, Content: text}
	t.Append(m)
	return m
}

// Replace swaps the whole transcript.
func (t *Transcript) Replace(msgs []agentrun.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = cloneMessages(msgs)
}

// ToolName returns the name recorded for a tool call id.
func (t *Transcript) ToolName(toolCallID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.toolNames[toolCallID]
}

// Apply folds one protocol event into the transcript.
func (t *Transcript) Apply(ev *events.AgentEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.EventType {
	case events.EventTextMessageStart:
		role := ev.Role
		if role == "" {
			role = agentrun.RoleAssistant
		}
		if t.indexLocked(ev.MessageID) < 0 {
			t.messages = append(t.messages, agentrun.Message{ID: ev.MessageID, Role: role})
		}

	case events.EventTextMessageContent:
		if i := t.indexLocked(ev.MessageID); i >= 0 {
			t.messages[i].Content += ev.Delta
		}

	case events.EventToolCallStart:
		if ev.ToolCallID != "" {
			t.toolNames[ev.ToolCallID] = ev.ToolName
		}
		parent := ev.ParentMessageID
		if parent == "" {
			parent = ev.ToolCallID
		}
		i := t.indexLocked(parent)
		if i < 0 {
			t.messages = append(t.messages, agentrun.Message{ID: parent, Role: agentrun.RoleAssistant})
			i = len(t.messages) - 1
		}
		call := agentrun.ToolCall{
			ID:       ev.ToolCallID,
			Type:     "function",
			Function: agentrun.FunctionCall{Name: ev.ToolName},
		}
		if ev.ToolArgs != nil {
			call.Function.Arguments = argsString(ev.ToolArgs)
		}
		t.messages[i].ToolCalls = append(t.messages[i].ToolCalls, call)

	case events.EventToolCallArgs:
		if call := t.toolCallLocked(ev.ToolCallID); call != nil {
			call.Function.Arguments += ev.Delta
		}

	case events.EventToolCallResult:
		id := ev.MessageID
		if id == "" {
			id = uuid.NewString()
		}
		t.messages = append(t.messages, agentrun.Message{
			ID:         id,
			Role:       agentrun.RoleTool,
			Content:    ev.Content,
			ToolCallID: ev.ToolCallID,
		})

	case events.EventMessagesSnapshot:
		if msgs, err := decodeMessages(ev.Messages); err == nil {
			t.messages = msgs
		}
	}
}

func (t *Transcript) indexLocked(id string) int {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Transcript) toolCallLocked(id string) *agentrun.ToolCall {
	for i := len(t.messages) - 1; i >= 0; i-- {
		calls := t.messages[i].ToolCalls
		for j := range calls {
			if calls[j].ID == id {
				return &calls[j]
			}
		}
	}
	return nil
}

// Since returns the messages whose ids are not in before.
func Since(before, after []agentrun.Message) []agentrun.Message {
	seen := make(map[string]bool, len(before))
	for _, m := range before {
		seen[m.ID] = true
	}
	var added []agentrun.Message
	for _, m := range after {
		if !seen[m.ID] {
			added = append(added, m)
		}
	}
	return added
}

func cloneMessages(msgs []agentrun.Message) []agentrun.Message {
	if msgs == nil {
		return nil
	}
	out := slices.Clone(msgs)
	for i := range out {
		out[i].ToolCalls = slices.Clone(out[i].ToolCalls)
	}
	return out
}

func decodeMessages(raw []any) ([]agentrun.Message, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var msgs []agentrun.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func argsString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
