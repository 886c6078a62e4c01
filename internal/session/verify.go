package session

import (
	"fmt"

	"github.com/npratt/coachrun/internal/events"
)

// ProtocolError is a violation of the AG-UI event ordering rules.
type ProtocolError struct {
	EventType events.EventType
	Reason    string
}

func (e *ProtocolError) Error() string {
	return "AGUIError: " + e.Reason
}

func protocolErrorf(t events.EventType, format string, args ...any) *ProtocolError {
	return &ProtocolError{EventType: t, Reason: fmt.Sprintf(format, args...)}
}

// Verifier checks that one run's events arrive in a legal order. A Verifier
// is used for a single attempt and is not safe for concurrent use.
type Verifier struct {
	started   bool
	terminal  events.EventType
	messages  map[string]bool
	toolCalls map[string]bool
}

// NewVerifier returns a Verifier expecting RUN_STARTED first.
func NewVerifier() *Verifier {
	return &Verifier{
		messages:  make(map[string]bool),
		toolCalls: make(map[string]bool),
	}
}

// Finished reports whether a terminal event has been seen.
func (v *Verifier) Finished() bool {
	return v.terminal != ""
}

// Check validates ev against the events seen so far.
func (v *Verifier) Check(ev *events.AgentEvent) error {
	t := ev.EventType

	if v.terminal != "" {
		return protocolErrorf(t, "Cannot send event type '%s': The run has already %s with '%s'.",
			t, terminalVerb(v.terminal), v.terminal)
	}

	if !v.started {
		switch t {
		case events.EventRunStarted:
			v.started = true
			return nil
		case events.EventRunError:
			v.terminal = t
			return nil
		default:
			return protocolErrorf(t, "First event must be 'RUN_STARTED', got '%s'.", t)
		}
	}

	switch t {
	case events.EventRunStarted:
		return protocolErrorf(t, "Cannot send 'RUN_STARTED' while a run is still active.")

	case events.EventTextMessageStart:
		if v.messages[ev.MessageID] {
			return protocolErrorf(t, "Cannot send 'TEXT_MESSAGE_START' event: A text message with ID '%s' is already in progress.", ev.MessageID)
		}
		v.messages[ev.MessageID] = true

	case events.EventTextMessageContent:
		if !v.messages[ev.MessageID] {
			return protocolErrorf(t, "Cannot send 'TEXT_MESSAGE_CONTENT' event: No active text message found with ID '%s'.", ev.MessageID)
		}

	case events.EventTextMessageEnd:
		if !v.messages[ev.MessageID] {
			return protocolErrorf(t, "Cannot send 'TEXT_MESSAGE_END' event: No active text message found with ID '%s'.", ev.MessageID)
		}
		delete(v.messages, ev.MessageID)

	case events.EventToolCallStart:
		if v.toolCalls[ev.ToolCallID] {
			return protocolErrorf(t, "Cannot send 'TOOL_CALL_START' event: A tool call with ID '%s' is already in progress.", ev.ToolCallID)
		}
		v.toolCalls[ev.ToolCallID] = true

	case events.EventToolCallArgs:
		if !v.toolCalls[ev.ToolCallID] {
			return protocolErrorf(t, "Cannot send 'TOOL_CALL_ARGS' event: No active tool call found with ID '%s'.", ev.ToolCallID)
		}

	case events.EventToolCallEnd:
		if !v.toolCalls[ev.ToolCallID] {
			return protocolErrorf(t, "Cannot send 'TOOL_CALL_END' event: No active tool call found with ID '%s'.", ev.ToolCallID)
		}
		delete(v.toolCalls, ev.ToolCallID)

	case events.EventRunFinished:
		v.terminal = t

	case events.EventRunError:
		v.terminal = t
	}
	return nil
}

// Close validates the end of the stream.
func (v *Verifier) Close() error {
	if v.terminal != "" {
		return nil
	}
	if !v.started {
		return protocolErrorf("", "Stream ended before 'RUN_STARTED'.")
	}
	return protocolErrorf("", "Stream ended without 'RUN_FINISHED' or 'RUN_ERROR'.")
}

func terminalVerb(t events.EventType) string {
	if t == events.EventRunError {
		return "errored"
	}
	return "finished"
}
