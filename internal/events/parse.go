package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// internalEvents maps the coachrun-generated event types to constructors
// of their concrete structs.
var internalEvents = map[EventType]func() Event{
	EventAttemptStart:  func() Event { return &AttemptStartEvent{} },
	EventAttemptFailed: func() Event { return &AttemptFailedEvent{} },
	EventRunOutcome:    func() Event { return &RunOutcomeEvent{} },
	EventNotice:        func() Event { return &NoticeEvent{} },
	EventParseError:    func() Event { return &ParseErrorEvent{} },
}

// ParseEvent decodes one line of the event log. Unknown types yield a nil
// event and no error so newer logs stay readable.
func ParseEvent(line []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return nil, err
	}

	var ev Event
	if mk, ok := internalEvents[head.Type]; ok {
		ev = mk()
	} else if IsAgentType(head.Type) {
		ev = &AgentEvent{}
	} else {
		slog.Debug("unknown event type", "type", head.Type)
		return nil, nil
	}

	if err := json.Unmarshal(line, ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Type, err)
	}
	return ev, nil
}

// GetRunID returns the run an event belongs to, or "" when it has none.
func GetRunID(ev Event) string {
	switch e := ev.(type) {
	case *AgentEvent:
		return e.RunID
	case *AttemptStartEvent:
		return e.RunID
	case *AttemptFailedEvent:
		return e.RunID
	case *RunOutcomeEvent:
		return e.RunID
	case *NoticeEvent:
		return e.RunID
	}
	return ""
}
