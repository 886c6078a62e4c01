package events

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

const (
	maxTextLength     = 200
	maxToolInput      = 100
	truncateIndicator = "..."
)

// Format converts an event to a human-readable string for display.
// Returns empty string for nil or unknown event types.
func Format(event Event) string {
	if event == nil {
		return ""
	}

	switch e := event.(type) {
	case *AgentEvent:
		return formatAgent(e)
	case *AttemptStartEvent:
		return fmt.Sprintf("attempt %d started: %s (budget %s)", e.Attempt+1, SafeString(e.RunID), e.Budget)
	case *AttemptFailedEvent:
		return formatAttemptFailed(e)
	case *RunOutcomeEvent:
		return formatRunOutcome(e)
	case *NoticeEvent:
		severity := SafeString(e.Severity)
		if severity == "" {
			severity = SeverityInfo
		}
		return fmt.Sprintf("%s: %s", strings.ToUpper(severity), Truncate(e.Message, 100))
	case *ParseErrorEvent:
		return fmt.Sprintf("PARSE ERROR: %s", Truncate(e.Error, 100))
	default:
		return ""
	}
}

// FormatWithTimestamp formats an event with a timestamp prefix.
func FormatWithTimestamp(event Event) string {
	if event == nil {
		return ""
	}
	ts := event.Timestamp().Format("15:04:05")
	detail := Format(event)
	if detail == "" {
		return fmt.Sprintf("[%s] %s", ts, event.Type())
	}
	return fmt.Sprintf("[%s] %s", ts, detail)
}

func formatAgent(e *AgentEvent) string {
	switch e.EventType {
	case EventRunStarted:
		return fmt.Sprintf("run started: %s", SafeString(e.RunID))
	case EventRunFinished:
		return fmt.Sprintf("run finished: %s", SafeString(e.RunID))
	case EventRunError:
		return fmt.Sprintf("run error: %s", Truncate(e.ErrorText, 100))
	case EventTextMessageStart:
		return "message started"
	case EventTextMessageContent:
		return Truncate(e.Delta, maxTextLength)
	case EventTextMessageEnd:
		return "message ended"
	case EventToolCallStart:
		if detail := FormatToolArgs(e.ToolArgs); detail != "" {
			return fmt.Sprintf("tool: %s %s", SafeString(e.ToolName), detail)
		}
		return fmt.Sprintf("tool: %s", SafeString(e.ToolName))
	case EventToolCallEnd, EventToolCallResult:
		if e.ToolName != "" {
			return fmt.Sprintf("tool done: %s", SafeString(e.ToolName))
		}
		return "tool done"
	case EventMessagesSnapshot:
		return fmt.Sprintf("messages snapshot: %d messages", len(e.Messages))
	}
	if e.ErrorText != "" {
		return fmt.Sprintf("%s: %s", e.EventType, Truncate(e.ErrorText, 100))
	}
	return ""
}

func formatAttemptFailed(e *AttemptFailedEvent) string {
	msg := fmt.Sprintf("attempt %d failed (%s): %s", e.Attempt+1, SafeString(e.Kind), Truncate(e.Message, 100))
	if e.Retrying {
		return fmt.Sprintf("%s, retrying in %s", msg, e.Delay.Round(100*time.Millisecond))
	}
	return msg
}

func formatRunOutcome(e *RunOutcomeEvent) string {
	if e.Success {
		return fmt.Sprintf("[+] run %s succeeded after %d attempt(s), %dms", SafeString(e.RunID), e.Attempts, e.DurationMs)
	}
	return fmt.Sprintf("[x] run %s failed (%s) after %d attempt(s)", SafeString(e.RunID), SafeString(e.Kind), e.Attempts)
}

// FormatToolArgs renders tool arguments compactly, one key=value per field
// in key order. Returns empty string when there is nothing to show.
func FormatToolArgs(args any) string {
	m := ParseToolArgs(args)
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return Truncate(strings.Join(parts, " "), maxToolInput)
}

// Truncate sanitizes s and shortens it to maxLen display cells, ending
// with an ellipsis when cut.
func Truncate(s string, maxLen int) string {
	s = SafeString(s)
	if ansi.StringWidth(s) <= maxLen {
		return s
	}
	if maxLen <= len(truncateIndicator) {
		return truncateIndicator
	}
	return ansi.Truncate(s, maxLen, truncateIndicator)
}

// SafeString makes backend text safe for a single display line: escape
// sequences are removed, control characters become spaces, and runs of
// whitespace collapse to one space.
func SafeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, ansi.Strip(s))
	return strings.Join(strings.Fields(s), " ")
}
