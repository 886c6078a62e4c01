// Package session is the client side of an AG-UI agent endpoint. A Client
// posts the conversation transcript, reads the server-sent event stream,
// verifies event ordering, folds events back into the transcript and
// publishes every event on the router.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/npratt/coachrun/internal/agentrun"
	"github.com/npratt/coachrun/internal/events"
	"github.com/npratt/coachrun/internal/httpkit"
)

// DefaultEndpoint is the agent run endpoint of a local coach backend.
const DefaultEndpoint = "http://localhost:8080/agui/run"

// RunError is a RUN_ERROR reported by the agent.
type RunError struct {
	Message string
	Code    string
}

func (e *RunError) Error() string {
	if e.Message == "" {
		return "agent run failed"
	}
	return e.Message
}

// Client runs agent attempts over HTTP. It implements agentrun.Session.
// Runs are serialized: an attempt abandoned by its deadline finishes
// unwinding before the next one starts.
type Client struct {
	endpoint   string
	http       *http.Client
	router     *events.Router
	transcript *Transcript
	hook       func(*events.AgentEvent)
	logger     *slog.Logger

	runMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. It must not set a request
// timeout shorter than a run.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRouter publishes every decoded event on r.
func WithRouter(r *events.Router) Option {
	return func(c *Client) {
		c.router = r
	}
}

// WithTranscript shares an existing transcript.
func WithTranscript(t *Transcript) Option {
	return func(c *Client) {
		c.transcript = t
	}
}

// WithEventHook calls fn synchronously for every event, before it is
// published.
func WithEventHook(fn func(*events.AgentEvent)) Option {
	return func(c *Client) {
		c.hook = fn
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client for the run endpoint.
func New(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: endpoint,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpkit.NewClient(httpkit.WithTimeout(0))
	}
	if c.transcript == nil {
		c.transcript = NewTranscript()
	}
	return c
}

// Endpoint returns the run endpoint.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Transcript returns the conversation transcript.
func (c *Client) Transcript() *Transcript {
	return c.transcript
}

// runInput is the AG-UI RunAgentInput body.
type runInput struct {
	ThreadID       string             `json:"threadId"`
	RunID          string             `json:"runId"`
	Messages       []agentrun.Message `json:"messages"`
	Tools          []map[string]any   `json:"tools"`
	Context        []map[string]any   `json:"context"`
	State          map[string]any     `json:"state"`
	ForwardedProps map[string]any     `json:"forwardedProps"`
}

func newRunInput(opts agentrun.RunOptions, msgs []agentrun.Message) runInput {
	in := runInput{
		ThreadID:       opts.ThreadID,
		RunID:          opts.RunID,
		Messages:       msgs,
		Tools:          opts.Tools,
		Context:        opts.Context,
		State:          opts.State,
		ForwardedProps: opts.ForwardedProps,
	}
	if in.Messages == nil {
		in.Messages = []agentrun.Message{}
	}
	if in.Tools == nil {
		in.Tools = []map[string]any{}
	}
	if in.Context == nil {
		in.Context = []map[string]any{}
	}
	if in.State == nil {
		in.State = map[string]any{}
	}
	if in.ForwardedProps == nil {
		in.ForwardedProps = map[string]any{}
	}
	return in
}

// Run performs one attempt. On failure the transcript is restored to its
// state before the attempt so a retry resends the same conversation.
func (c *Client) Run(ctx context.Context, opts agentrun.RunOptions) (*agentrun.RunResult, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	before := c.transcript.Messages()
	result, err := c.run(ctx, opts, before)
	if err != nil {
		c.transcript.Replace(before)
		return nil, err
	}
	return result, nil
}

func (c *Client) run(ctx context.Context, opts agentrun.RunOptions, before []agentrun.Message) (*agentrun.RunResult, error) {
	body, err := json.Marshal(newRunInput(opts, before))
	if err != nil {
		return nil, fmt.Errorf("encode run input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("posting run", "run_id", opts.RunID, "thread_id", opts.ThreadID, "messages", len(before))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpkit.StatusError(resp)
	}

	verifier := NewVerifier()
	var finished any

	parser := NewParser(resp.Body, c.router)
	err = parser.Parse(func(ev *events.AgentEvent) error {
		if err := verifier.Check(ev); err != nil {
			return err
		}
		c.enrich(ev, opts)
		c.transcript.Apply(ev)
		if c.hook != nil {
			c.hook(ev)
		}
		if c.router != nil {
			c.router.Emit(ev)
		}

		switch ev.EventType {
		case events.EventRunFinished:
			finished = ev.Result
		case events.EventRunError:
			return &RunError{Message: ev.ErrorText, Code: ev.Code}
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if err := verifier.Close(); err != nil {
		return nil, err
	}

	return &agentrun.RunResult{
		RunID:       opts.RunID,
		Result:      finished,
		NewMessages: Since(before, c.transcript.Messages()),
	}, nil
}

// enrich fills what AG-UI leaves implicit: the run id on events that do
// not repeat it, and the tool name on events that carry only the call id.
func (c *Client) enrich(ev *events.AgentEvent, opts agentrun.RunOptions) {
	if ev.RunID == "" {
		ev.RunID = opts.RunID
	}
	if ev.ThreadID == "" {
		ev.ThreadID = opts.ThreadID
	}
	switch ev.EventType {
	case events.EventToolCallArgs, events.EventToolCallEnd, events.EventToolCallResult:
		if ev.ToolName == "" && ev.ToolCallID != "" {
			ev.ToolName = c.transcript.ToolName(ev.ToolCallID)
		}
	}
}
