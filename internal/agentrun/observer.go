package agentrun

import (
	"log/slog"
	"time"

	"github.com/npratt/coachrun/internal/events"
	"github.com/npratt/coachrun/internal/runerr"
)

// Outcome summarizes a logical run after its last attempt.
type Outcome struct {
	// RunID is the id of the first attempt; FinalRunID that of the last.
	RunID      string
	FinalRunID string
	ThreadID   string
	Attempts   int
	Err        *runerr.Error
	Duration   time.Duration
}

// Success reports whether the run produced a result.
func (o Outcome) Success() bool {
	return o.Err == nil
}

// Observer receives attempt lifecycle notifications from the Driver.
// Calls happen on the driver's goroutine and must not block.
type Observer interface {
	AttemptStarted(a RunAttempt)
	AttemptFailed(a RunAttempt, err *runerr.Error, retryIn time.Duration, willRetry bool)
	RunFinished(o Outcome)
}

// Observers fans notifications out to several observers in order.
type Observers []Observer

// AttemptStarted implements Observer.
func (obs Observers) AttemptStarted(a RunAttempt) {
	for _, o := range obs {
		o.AttemptStarted(a)
	}
}

// AttemptFailed implements Observer.
func (obs Observers) AttemptFailed(a RunAttempt, err *runerr.Error, retryIn time.Duration, willRetry bool) {
	for _, o := range obs {
		o.AttemptFailed(a, err, retryIn, willRetry)
	}
}

// RunFinished implements Observer.
func (obs Observers) RunFinished(out Outcome) {
	for _, o := range obs {
		o.RunFinished(out)
	}
}

type nopObserver struct{}

func (nopObserver) AttemptStarted(RunAttempt) {}

func (nopObserver) AttemptFailed(RunAttempt, *runerr.Error, time.Duration, bool) {}

func (nopObserver) RunFinished(Outcome) {}

// LogObserver writes attempt lifecycle to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

// AttemptStarted implements Observer.
func (l LogObserver) AttemptStarted(a RunAttempt) {
	l.Logger.Debug("attempt started",
		"run_id", a.RunID,
		"attempt", a.Number+1,
		"budget", a.Deadline,
	)
}

// AttemptFailed implements Observer.
func (l LogObserver) AttemptFailed(a RunAttempt, err *runerr.Error, retryIn time.Duration, willRetry bool) {
	if willRetry {
		l.Logger.Warn("attempt failed, retrying",
			"run_id", a.RunID,
			"attempt", a.Number+1,
			"kind", err.Kind,
			"error", err.Original,
			"retry_in", retryIn,
		)
		return
	}
	l.Logger.Error("attempt failed",
		"run_id", a.RunID,
		"attempt", a.Number+1,
		"kind", err.Kind,
		"retryable", err.Retryable(),
		"error", err.Original,
	)
}

// RunFinished implements Observer.
func (l LogObserver) RunFinished(o Outcome) {
	if o.Success() {
		l.Logger.Info("run finished",
			"run_id", o.RunID,
			"final_run_id", o.FinalRunID,
			"attempts", o.Attempts,
			"duration", o.Duration,
		)
		return
	}
	l.Logger.Error("run failed",
		"run_id", o.RunID,
		"attempts", o.Attempts,
		"kind", o.Err.Kind,
		"message", o.Err.Message,
	)
}

// EventObserver publishes attempt lifecycle as events on a router, which
// feeds the log and history sinks.
type EventObserver struct {
	Router *events.Router
}

// AttemptStarted implements Observer.
func (e EventObserver) AttemptStarted(a RunAttempt) {
	e.Router.Emit(&events.AttemptStartEvent{
		BaseEvent: events.NewInternalEvent(events.EventAttemptStart),
		RunID:     a.RunID,
		ThreadID:  a.ThreadID(),
		Attempt:   a.Number,
		Budget:    a.Deadline,
	})
}

// AttemptFailed implements Observer.
func (e EventObserver) AttemptFailed(a RunAttempt, err *runerr.Error, retryIn time.Duration, willRetry bool) {
	e.Router.Emit(&events.AttemptFailedEvent{
		BaseEvent: events.NewInternalEvent(events.EventAttemptFailed),
		RunID:     a.RunID,
		Attempt:   a.Number,
		Kind:      err.Kind.String(),
		Message:   originalText(err),
		Retrying:  willRetry,
		Delay:     retryIn,
	})
}

// RunFinished implements Observer.
func (e EventObserver) RunFinished(o Outcome) {
	ev := &events.RunOutcomeEvent{
		BaseEvent:  events.NewInternalEvent(events.EventRunOutcome),
		RunID:      o.RunID,
		ThreadID:   o.ThreadID,
		Attempts:   o.Attempts,
		Success:    o.Success(),
		DurationMs: o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		ev.Kind = o.Err.Kind.String()
		ev.Error = originalText(o.Err)
	}
	e.Router.Emit(ev)
}

// originalText prefers the raw cause over the classified message, which is
// generic per kind.
func originalText(err *runerr.Error) string {
	if cause := err.Unwrap(); cause != nil {
		return cause.Error()
	}
	if s, ok := err.Original.(string); ok && s != "" {
		return s
	}
	return err.Message
}
