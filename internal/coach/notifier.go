package coach

import (
	"context"
	"log/slog"

	"github.com/npratt/coachrun/internal/events"
)

// Toasts raised by the conversation.
const (
	ToastBackendError = "AG-UI returned an error from backend."
	ToastRunFailed    = "Agent run failed."
	ToastWeeklyReview = "Failed to generate weekly review"
)

// Notifier surfaces short user-facing notices.
type Notifier interface {
	Notify(runID, severity, message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(runID, severity, message string)

// Notify calls f.
func (f NotifierFunc) Notify(runID, severity, message string) {
	f(runID, severity, message)
}

// RouterNotifier publishes notices as events.
type RouterNotifier struct {
	Router *events.Router
}

// Notify emits a NoticeEvent.
func (n RouterNotifier) Notify(runID, severity, message string) {
	n.Router.Emit(&events.NoticeEvent{
		BaseEvent: events.NewInternalEvent(events.EventNotice),
		RunID:     runID,
		Severity:  severity,
		Message:   message,
	})
}

// LogNotifier writes notices to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the notice at a level matching its severity.
func (n LogNotifier) Notify(runID, severity, message string) {
	level := slog.LevelInfo
	switch severity {
	case events.SeverityError:
		level = slog.LevelError
	case events.SeverityWarning:
		level = slog.LevelWarn
	}
	n.Logger.Log(context.Background(), level, "notice", "run_id", runID, "message", message)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string, string) {}
