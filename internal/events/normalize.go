package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UnknownToolName names a tool call whose start event carried no name.
const UnknownToolName = "unknown_tool"

// ErrMissingType is returned when a payload has no event type discriminator.
var ErrMissingType = errors.New("event has no type")

// DecodeAgentEvent decodes one protocol event payload and normalizes it.
// Unknown event types decode successfully so callers can forward them.
func DecodeAgentEvent(data []byte) (*AgentEvent, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode agent event: %w", err)
	}
	ev := Normalize(payload)
	if ev.EventType == "" {
		return nil, ErrMissingType
	}
	return ev, nil
}

// Normalize folds a loosely typed protocol payload into an AgentEvent.
// It accepts the field aliases seen across agent backends:
//
//	type | eventType
//	toolCallName | name | toolCall.name
//	toolCallArgs | args | toolCall.arguments
//	message (RUN_ERROR) | rawEvent.error
func Normalize(payload map[string]any) *AgentEvent {
	ev := &AgentEvent{
		BaseEvent: BaseEvent{
			EventType: EventType(firstString(payload, "type", "eventType")),
			Time:      eventTime(payload),
			Src:       SourceAgent,
		},
	}
	if payload == nil {
		return ev
	}

	toolCall, _ := payload["toolCall"].(map[string]any)

	ev.RunID = firstString(payload, "runId")
	ev.ThreadID = firstString(payload, "threadId")
	ev.MessageID = firstString(payload, "messageId")
	ev.ParentMessageID = firstString(payload, "parentMessageId")
	ev.Role = firstString(payload, "role")
	ev.Delta = firstString(payload, "delta")
	ev.ToolCallID = firstString(payload, "toolCallId")
	if ev.ToolCallID == "" && toolCall != nil {
		ev.ToolCallID = firstString(toolCall, "id")
	}
	ev.ToolName = firstString(payload, "toolCallName", "name")
	if ev.ToolName == "" && toolCall != nil {
		ev.ToolName = firstString(toolCall, "name")
	}
	ev.ToolArgs = firstValue(payload, "toolCallArgs", "args")
	if ev.ToolArgs == nil && toolCall != nil {
		ev.ToolArgs = toolCall["arguments"]
	}
	ev.Content = contentString(payload["content"])
	ev.Code = firstString(payload, "code")
	ev.Result = payload["result"]
	if msgs, ok := payload["messages"].([]any); ok {
		ev.Messages = msgs
	}

	if ev.EventType == EventRunError {
		ev.ErrorText = strings.TrimSpace(firstString(payload, "message"))
	}
	if ev.ErrorText == "" {
		if raw, ok := payload["rawEvent"].(map[string]any); ok {
			ev.ErrorText = strings.TrimSpace(firstString(raw, "error"))
		}
	}

	switch ev.EventType {
	case EventRaw, EventCustom:
		ev.Raw = payload
	case EventToolCallStart:
		if ev.ToolName == "" {
			ev.ToolName = UnknownToolName
		}
	}
	return ev
}

// ParseToolArgs turns tool arguments into an object. JSON strings are
// decoded; anything that is not an object is wrapped under "raw".
func ParseToolArgs(args any) map[string]any {
	switch v := args.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return v
	case string:
		var parsed map[string]any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil && parsed != nil {
			return parsed
		}
		return map[string]any{"raw": v}
	default:
		return map[string]any{"raw": v}
	}
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstValue(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func contentString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprint(c)
		}
		return string(data)
	}
}

// eventTime reads the optional millisecond timestamp, defaulting to now.
func eventTime(m map[string]any) time.Time {
	if ms, ok := m["timestamp"].(float64); ok && ms > 0 {
		return time.UnixMilli(int64(ms))
	}
	return time.Now()
}
