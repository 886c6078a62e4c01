package coach

import (
	"encoding/json"
	"strings"

	"github.com/npratt/coachrun/internal/agentrun"
)

// maxExtractDepth bounds recursion into nested result objects.
const maxExtractDepth = 4

var (
	directKeys = []string{"response", "content", "text", "output", "message"}
	nestedKeys = []string{"result", "data", "output"}
)

// ExtractAssistant digs an assistant answer out of an opaque run result.
// It tries, in order: a non-empty string result; a non-empty string under
// a direct key; the last assistant entry of a "messages" array at the top
// level or under "output" or "data"; then the same search inside the
// nested "result", "data" and "output" objects.
func ExtractAssistant(result any) (string, bool) {
	return extract(result, 0)
}

func extract(v any, depth int) (string, bool) {
	if depth > maxExtractDepth || v == nil {
		return "", false
	}

	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		return s, s != ""
	case map[string]any:
		for _, key := range directKeys {
			if s, ok := val[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), true
			}
		}

		if s, ok := fromMessages(val["messages"]); ok {
			return s, true
		}
		for _, key := range []string{"output", "data"} {
			if inner, ok := val[key].(map[string]any); ok {
				if s, ok := fromMessages(inner["messages"]); ok {
					return s, true
				}
			}
		}

		for _, key := range nestedKeys {
			if s, ok := extract(val[key], depth+1); ok {
				return s, true
			}
		}
	}
	return "", false
}

// fromMessages returns the rendered content of the last assistant entry
// with non-empty content.
func fromMessages(v any) (string, bool) {
	items, ok := v.([]any)
	if !ok {
		return "", false
	}
	for i := len(items) - 1; i >= 0; i-- {
		obj, ok := items[i].(map[string]any)
		if !ok {
			continue
		}
		role, _ := obj["role"].(string)
		if !agentrun.IsAssistantRole(role) {
			continue
		}
		if s := strings.TrimSpace(messageFromMap(obj).Renderable()); s != "" {
			return s, true
		}
	}
	return "", false
}

// messageFromMap converts a loosely typed message object.
func messageFromMap(obj map[string]any) agentrun.Message {
	m := agentrun.Message{}
	m.ID, _ = obj["id"].(string)
	m.Role, _ = obj["role"].(string)

	switch c := obj["content"].(type) {
	case nil:
	case string:
		m.Content = c
	default:
		if data, err := json.Marshal(c); err == nil {
			m.Content = string(data)
		}
	}

	calls, _ := obj["toolCalls"].([]any)
	for _, raw := range calls {
		call, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		fn, ok := call["function"].(map[string]any)
		if !ok {
			continue
		}
		tc := agentrun.ToolCall{Type: "function"}
		tc.ID, _ = call["id"].(string)
		tc.Function.Name, _ = fn["name"].(string)
		switch args := fn["arguments"].(type) {
		case string:
			tc.Function.Arguments = args
		case nil:
		default:
			if data, err := json.Marshal(args); err == nil {
				tc.Function.Arguments = string(data)
			}
		}
		m.ToolCalls = append(m.ToolCalls, tc)
	}
	return m
}
