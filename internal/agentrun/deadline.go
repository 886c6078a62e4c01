package agentrun

import (
	"context"
	"fmt"
	"math"
	"time"
)

// TimeoutError reports that an operation did not settle within its budget.
type TimeoutError struct {
	Label  string
	Budget time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %ds", e.Label, int64(math.Round(e.Budget.Seconds())))
}

// Timeout marks the error as an elapsed deadline for classifiers.
func (e *TimeoutError) Timeout() bool {
	return true
}

// WithDeadline runs op and returns whichever happens first: op settling or
// the budget elapsing. op runs under a child context that is cancelled when
// the guard gives up, and a result that arrives late is discarded.
// If the parent context ends first, its error is returned.
func WithDeadline[T any](ctx context.Context, budget time.Duration, label string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	// Buffered so a late op never blocks after the guard returns.
	done := make(chan outcome, 1)

	go func() {
		val, err := op(opCtx)
		done <- outcome{val: val, err: err}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.val, out.err
	case <-timer.C:
		return zero, &TimeoutError{Label: label, Budget: budget}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
