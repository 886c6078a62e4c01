package mockagent

import (
	"encoding/json"
	"strings"
)

// Reply returns the assistant text a scenario produces for input.
func Reply(sc Scenario, input string) string {
	if sc.Reply == "" {
		return input
	}
	return expand(sc.Reply, input)
}

// Events builds the AG-UI events a scenario streams for one run.
func Events(sc Scenario, threadID, runID, input string) []map[string]any {
	evs := []map[string]any{{"type": "RUN_STARTED", "threadId": threadID, "runId": runID}}
	if sc.Hang {
		return evs
	}

	for i, tool := range sc.Tools {
		id := toolCallID(runID, i)
		evs = append(evs,
			map[string]any{"type": "TOOL_CALL_START", "toolCallId": id, "toolCallName": tool.Name},
			map[string]any{"type": "TOOL_CALL_ARGS", "toolCallId": id, "delta": toolArgs(tool.Args, input)},
			map[string]any{"type": "TOOL_CALL_END", "toolCallId": id},
			map[string]any{"type": "TOOL_CALL_RESULT", "toolCallId": id, "messageId": id + "-result", "content": expand(tool.Result, input)},
		)
	}

	if sc.InlineError != "" {
		evs = append(evs, map[string]any{
			"type":     "RAW",
			"event":    map[string]any{},
			"rawEvent": map[string]any{"error": expand(sc.InlineError, input)},
		})
	}

	if sc.Error != "" {
		return append(evs, map[string]any{"type": "RUN_ERROR", "message": expand(sc.Error, input)})
	}

	finished := map[string]any{"type": "RUN_FINISHED", "threadId": threadID, "runId": runID}
	if sc.ResultOnly {
		finished["result"] = map[string]any{"response": Reply(sc, input)}
		return append(evs, finished)
	}

	msgID := runID + "-reply"
	evs = append(evs, map[string]any{"type": "TEXT_MESSAGE_START", "messageId": msgID, "role": "assistant"})
	for _, chunk := range strings.SplitAfter(Reply(sc, input), " ") {
		if chunk == "" {
			continue
		}
		evs = append(evs, map[string]any{"type": "TEXT_MESSAGE_CONTENT", "messageId": msgID, "delta": chunk})
	}
	evs = append(evs, map[string]any{"type": "TEXT_MESSAGE_END", "messageId": msgID})
	if sc.Result != nil {
		finished["result"] = sc.Result
	}
	return append(evs, finished)
}

func toolCallID(runID string, i int) string {
	return runID + "-tool-" + string(rune('a'+i%26))
}

func toolArgs(args map[string]any, input string) string {
	expanded := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			v = expand(s, input)
		}
		expanded[k] = v
	}
	data, err := json.Marshal(expanded)
	if err != nil {
		return "{}"
	}
	return string(data)
}
