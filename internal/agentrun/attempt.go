// Package agentrun drives a single conversational run against an agent
// endpoint: each attempt runs under a deadline, failures are classified,
// and transient ones are retried with exponential backoff under a fresh
// run id.
package agentrun

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Session runs one attempt of an agent run. Implementations must honor ctx
// cancellation; the driver cancels it when the attempt's deadline elapses.
type Session interface {
	Run(ctx context.Context, opts RunOptions) (*RunResult, error)
}

// SessionFunc adapts a function to the Session interface.
type SessionFunc func(ctx context.Context, opts RunOptions) (*RunResult, error)

// Run calls f.
func (f SessionFunc) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	return f(ctx, opts)
}

// RunOptions are the per-run inputs sent to the agent endpoint.
type RunOptions struct {
	RunID          string
	ThreadID       string
	Tools          []map[string]any
	Context        []map[string]any
	State          map[string]any
	ForwardedProps map[string]any
}

// Clone returns a copy that shares no slices or maps with o.
func (o RunOptions) Clone() RunOptions {
	o.Tools = cloneObjects(o.Tools)
	o.Context = cloneObjects(o.Context)
	o.State = maps.Clone(o.State)
	o.ForwardedProps = maps.Clone(o.ForwardedProps)
	return o
}

// WithRunID returns a copy of o with a different run id.
func (o RunOptions) WithRunID(id string) RunOptions {
	c := o.Clone()
	c.RunID = id
	return c
}

func cloneObjects(in []map[string]any) []map[string]any {
	if in == nil {
		return nil
	}
	out := slices.Clone(in)
	for i := range out {
		out[i] = maps.Clone(out[i])
	}
	return out
}

// RunResult is what a successful attempt returns.
type RunResult struct {
	RunID string
	// Result is the opaque payload of RUN_FINISHED, if any.
	Result any
	// NewMessages are the transcript messages produced by this run.
	NewMessages []Message
}

// RunAttempt describes one try of a run. It is built fresh for every
// attempt and never mutated.
type RunAttempt struct {
	RunID    string
	Number   int
	Deadline time.Duration
	options  RunOptions
}

func newAttempt(number int, deadline time.Duration, base RunOptions, runID string) RunAttempt {
	return RunAttempt{
		RunID:    runID,
		Number:   number,
		Deadline: deadline,
		options:  base.WithRunID(runID),
	}
}

// Options returns a private copy of the attempt's run options.
func (a RunAttempt) Options() RunOptions {
	return a.options.Clone()
}

// ThreadID returns the conversation thread of the attempt.
func (a RunAttempt) ThreadID() string {
	return a.options.ThreadID
}

// Label names the attempt in timeout errors, 1-based.
func (a RunAttempt) Label() string {
	return fmt.Sprintf("attempt %d", a.Number+1)
}
