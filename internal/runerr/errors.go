// Package runerr classifies failures of agent runs into a closed set of
// kinds that drive both retry decisions and user-facing messages.
package runerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the category of a failed agent run.
type Kind string

// Error kinds. The set is closed: Classify always returns one of these.
const (
	KindNetwork  Kind = "network"
	KindTimeout  Kind = "timeout"
	KindAuth     Kind = "auth"
	KindServer   Kind = "server"
	KindProtocol Kind = "protocol"
	KindAborted  Kind = "aborted"
	KindUnknown  Kind = "unknown"
)

// Kinds lists every kind in classification order.
var Kinds = []Kind{KindAborted, KindNetwork, KindTimeout, KindAuth, KindServer, KindProtocol, KindUnknown}

// Retryable reports whether failures of this kind are worth another attempt.
// Auth and aborted are terminal; unknown is retried opportunistically.
func (k Kind) Retryable() bool {
	switch k {
	case KindAuth, KindAborted:
		return false
	default:
		return true
	}
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// Error is a classified run failure.
type Error struct {
	Kind     Kind
	Message  string
	Original any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "agent run error: <nil>"
	}
	return fmt.Sprintf("agent run %s error: %s", e.Kind, e.Message)
}

// Unwrap returns the original error when it is one.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	if err, ok := e.Original.(error); ok {
		return err
	}
	return nil
}

// Retryable is derived from Kind and never stored separately.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind == kind
	}
	return false
}

// KindOf returns the kind of a classified error, or KindUnknown.
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindUnknown
}

// Timeout is implemented by errors that represent an elapsed deadline.
type Timeout interface {
	Timeout() bool
}

// Fixed messages per kind. Unknown uses the error text instead.
const (
	msgAborted      = "Request was cancelled."
	msgNetwork      = "Network error. Please check your connection."
	msgStreamRead   = "Failed to read response stream."
	msgTimeout      = "Request timed out. The AI may be processing a complex request."
	msgAuth         = "Authentication failed. Please log in again."
	msgServer       = "Server error. Please try again in a moment."
	msgProtocol     = "Communication protocol error with AI backend."
	msgUnknownEmpty = "An unexpected error occurred."
)

var (
	networkMarkers  = []string{"failed to fetch", "networkerror", "network error", "net::err", "connection refused"}
	timeoutMarkers  = []string{"timeout", "timed out"}
	authMarkers     = []string{"401", "unauthorized", "invalid token"}
	serverMarkers   = []string{"http 5", "500", "502", "503", "504"}
	protocolMarkers = []string{"aguierror", "run_started", "run_finished", "text_message_start", "text_message_end", "tool_call_start"}
	streamMarkers   = []string{"getreader", "read response stream"}
)

// Classify maps any value to a classified error. It never panics and
// returns an existing *Error unchanged. Rules are evaluated in order and
// the first match wins, since the categories overlap textually.
func Classify(v any) *Error {
	if v == nil {
		return &Error{Kind: KindUnknown, Message: msgUnknownEmpty}
	}

	err, isErr := v.(error)
	if isErr {
		var rerr *Error
		if errors.As(err, &rerr) && rerr != nil {
			return rerr
		}
	}

	msg := textOf(v)
	lower := strings.ToLower(msg)

	switch {
	case isErr && errors.Is(err, context.Canceled), strings.Contains(lower, "abort"):
		return newError(KindAborted, msgAborted, v)
	case containsAny(lower, networkMarkers):
		return newError(KindNetwork, msgNetwork, v)
	case isErr && isTimeout(err), containsAny(lower, timeoutMarkers):
		return newError(KindTimeout, msgTimeout, v)
	case containsAny(lower, authMarkers):
		return newError(KindAuth, msgAuth, v)
	case containsAny(lower, serverMarkers):
		return newError(KindServer, msgServer, v)
	case containsAny(lower, protocolMarkers):
		return newError(KindProtocol, msgProtocol, v)
	case containsAny(lower, streamMarkers):
		return newError(KindNetwork, msgStreamRead, v)
	}

	if strings.TrimSpace(msg) == "" {
		msg = msgUnknownEmpty
	}
	return newError(KindUnknown, msg, v)
}

func newError(kind Kind, message string, original any) *Error {
	return &Error{Kind: kind, Message: message, Original: original}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t Timeout
	return errors.As(err, &t) && t.Timeout()
}

// textOf renders v the way it would print, recovering from broken
// Error/String methods so classification stays total.
func textOf(v any) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = fmt.Sprintf("%T", v)
		}
	}()

	switch x := v.(type) {
	case error:
		return x.Error()
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
