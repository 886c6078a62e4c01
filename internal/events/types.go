// Package events defines the event taxonomy shared by the agent session, the
// activity tracker and the sinks that record runs. Agent events mirror the
// AG-UI protocol; orchestrator events describe attempts and run outcomes.
package events

import "time"

// EventType identifies the category and nature of an event.
type EventType string

// AG-UI protocol events, as sent by the agent endpoint.
const (
	EventRunStarted  EventType = "RUN_STARTED"
	EventRunFinished EventType = "RUN_FINISHED"
	EventRunError    EventType = "RUN_ERROR"

	EventStepStarted  EventType = "STEP_STARTED"
	EventStepFinished EventType = "STEP_FINISHED"

	EventTextMessageStart   EventType = "TEXT_MESSAGE_START"
	EventTextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	EventTextMessageEnd     EventType = "TEXT_MESSAGE_END"

	EventToolCallStart  EventType = "TOOL_CALL_START"
	EventToolCallArgs   EventType = "TOOL_CALL_ARGS"
	EventToolCallEnd    EventType = "TOOL_CALL_END"
	EventToolCallResult EventType = "TOOL_CALL_RESULT"

	EventMessagesSnapshot EventType = "MESSAGES_SNAPSHOT"
	EventStateSnapshot    EventType = "STATE_SNAPSHOT"
	EventStateDelta       EventType = "STATE_DELTA"
	EventRaw              EventType = "RAW"
	EventCustom           EventType = "CUSTOM"
)

// Orchestrator events.
const (
	EventAttemptStart  EventType = "attempt.start"
	EventAttemptFailed EventType = "attempt.failed"
	EventRunOutcome    EventType = "run.outcome"
	EventNotice        EventType = "notice"

	EventParseError EventType = "error.parse"
)

// Source constants identify the origin of events.
const (
	SourceAgent    = "agent"
	SourceInternal = "coachrun"
)

// agentTypes lists the protocol event types this version understands.
var agentTypes = map[EventType]bool{
	EventRunStarted: true, EventRunFinished: true, EventRunError: true,
	EventStepStarted: true, EventStepFinished: true,
	EventTextMessageStart: true, EventTextMessageContent: true, EventTextMessageEnd: true,
	EventToolCallStart: true, EventToolCallArgs: true, EventToolCallEnd: true, EventToolCallResult: true,
	EventMessagesSnapshot: true, EventStateSnapshot: true, EventStateDelta: true,
	EventRaw: true, EventCustom: true,
}

// IsAgentType reports whether t is a protocol event type known to this build.
func IsAgentType(t EventType) bool {
	return agentTypes[t]
}

// Event is the base interface for all events in the system.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	Source() string
}

// BaseEvent provides the common fields for all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
	Time      time.Time `json:"timestamp"`
	Src       string    `json:"source"`
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.Time
}

// Source returns the origin of the event.
func (e BaseEvent) Source() string {
	return e.Src
}

// AgentEvent is one protocol event after payload normalization. Alternate
// field spellings used by different agent backends are folded into a
// single field each, so consumers never branch on payload shape.
type AgentEvent struct {
	BaseEvent
	RunID           string `json:"run_id,omitempty"`
	ThreadID        string `json:"thread_id,omitempty"`
	MessageID       string `json:"message_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	Role            string `json:"role,omitempty"`
	Delta           string `json:"delta,omitempty"`
	ToolCallID      string `json:"tool_call_id,omitempty"`
	ToolName        string `json:"tool_name,omitempty"`
	ToolArgs        any    `json:"tool_args,omitempty"`
	Content         string `json:"content,omitempty"`
	ErrorText       string `json:"error,omitempty"`
	Code            string `json:"code,omitempty"`
	Result          any    `json:"result,omitempty"`
	Messages        []any  `json:"messages,omitempty"`

	// Raw is the undecoded payload, kept for RAW and CUSTOM events.
	Raw map[string]any `json:"raw,omitempty"`
}

// AttemptStartEvent is emitted before each attempt of a run.
type AttemptStartEvent struct {
	BaseEvent
	RunID    string        `json:"run_id"`
	ThreadID string        `json:"thread_id,omitempty"`
	Attempt  int           `json:"attempt"`
	Budget   time.Duration `json:"budget"`
}

// AttemptFailedEvent is emitted when an attempt fails.
type AttemptFailedEvent struct {
	BaseEvent
	RunID    string        `json:"run_id"`
	Attempt  int           `json:"attempt"`
	Kind     string        `json:"kind"`
	Message  string        `json:"message"`
	Retrying bool          `json:"retrying"`
	Delay    time.Duration `json:"delay,omitempty"`
}

// RunOutcomeEvent is emitted once per logical run, after the last attempt.
type RunOutcomeEvent struct {
	BaseEvent
	RunID      string `json:"run_id"`
	ThreadID   string `json:"thread_id,omitempty"`
	Attempts   int    `json:"attempts"`
	Success    bool   `json:"success"`
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// NoticeEvent carries a user-facing notification, such as a toast.
type NoticeEvent struct {
	BaseEvent
	RunID    string `json:"run_id,omitempty"`
	Severity string `json:"severity"` // "error", "warning", "info"
	Message  string `json:"message"`
}

// Severity levels for NoticeEvent.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// ParseErrorEvent is emitted when a stream line cannot be decoded.
type ParseErrorEvent struct {
	BaseEvent
	Line  string `json:"line"`
	Error string `json:"error"`
}

// NewInternalEvent creates a BaseEvent with the internal source and current timestamp.
func NewInternalEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Time:      time.Now(),
		Src:       SourceInternal,
	}
}

// NewAgentEvent creates a BaseEvent with the agent source and current timestamp.
func NewAgentEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Time:      time.Now(),
		Src:       SourceAgent,
	}
}
