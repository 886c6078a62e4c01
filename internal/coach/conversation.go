// Package coach is the conversation controller: it sends user messages to
// the agent with retry, keeps the activity tracker informed, turns backend
// error events into transcript notes and toasts, and recovers replies that
// arrive only in the run result.
package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/npratt/coachrun/internal/agentrun"
	"github.com/npratt/coachrun/internal/coachapi"
	"github.com/npratt/coachrun/internal/events"
	"github.com/npratt/coachrun/internal/runerr"
	"github.com/npratt/coachrun/internal/session"
)

// FallbackGreeting opens a conversation when the backend cannot.
const FallbackGreeting = "Welcome to AI Coach. You don't need to figure everything out at once; we can start with a two-minute action."

// WeeklyReviewPrompt is the user message recorded for a weekly review.
const WeeklyReviewPrompt = "Start Weekly Review"

// unknownRunID keys backend errors that arrive without a run id.
const unknownRunID = "unknown-run"

// ErrEmptyMessage is returned when Send is given only whitespace.
var ErrEmptyMessage = errors.New("message is empty")

// ErrNoAPI is returned by operations that need the coach REST API when
// none is configured.
var ErrNoAPI = errors.New("coach api not configured")

// Runner runs a session with retry.
type Runner interface {
	RunWithRetry(ctx context.Context, s agentrun.Session, opts agentrun.RunOptions) (*agentrun.RunResult, error)
}

// Tracker is the part of the activity tracker the conversation drives.
// Protocol events and explicit marks reach it from the sending goroutine
// in the order they happen.
type Tracker interface {
	ProcessEvent(ev events.Event)
	MarkRunStart()
	MarkRunError()
	Reset()
}

type nopTracker struct{}

func (nopTracker) ProcessEvent(events.Event) {}
func (nopTracker) MarkRunStart()             {}
func (nopTracker) MarkRunError()             {}
func (nopTracker) Reset()                    {}

// Reply is the outcome of a successful Send.
type Reply struct {
	RunID string
	// Message is the last assistant message after the run.
	Message agentrun.Message
	// Text is the rendered reply.
	Text string
	// Recovered is set when the reply came from the run result rather than
	// from streamed messages.
	Recovered bool
	// Notices are transcript notes added for backend errors during the run.
	Notices []agentrun.Message
	// MemoryHits are the memories the coach used, when lookup is enabled.
	MemoryHits []string
}

// Conversation is one chat thread with the coach. Sends are serialized.
type Conversation struct {
	threadID   string
	client     *session.Client
	runner     Runner
	tracker    Tracker
	notifier   Notifier
	api        coachapi.Client
	lookupHits bool
	logger     *slog.Logger

	endpoint   string
	httpClient *http.Client
	router     *events.Router
	capacity   int

	sendMu sync.Mutex

	mu      sync.Mutex
	seen    *signatureSet
	pending []agentrun.Message
	// tracking is set while a Send owns the tracker. Events from an
	// abandoned attempt that arrive after the run settled are not applied.
	tracking bool
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithThreadID sets the conversation thread; by default a new one is made.
func WithThreadID(id string) Option {
	return func(c *Conversation) {
		c.threadID = id
	}
}

// WithRunner replaces the retry driver.
func WithRunner(r Runner) Option {
	return func(c *Conversation) {
		c.runner = r
	}
}

// WithTracker attaches the activity tracker.
func WithTracker(t Tracker) Option {
	return func(c *Conversation) {
		c.tracker = t
	}
}

// WithNotifier sets where toasts go.
func WithNotifier(n Notifier) Option {
	return func(c *Conversation) {
		c.notifier = n
	}
}

// WithAPI attaches the coach REST client used for bootstrap, memory hits
// and weekly reviews.
func WithAPI(api coachapi.Client) Option {
	return func(c *Conversation) {
		c.api = api
	}
}

// WithMemoryHitLookup fetches memory hits after each new reply.
func WithMemoryHitLookup() Option {
	return func(c *Conversation) {
		c.lookupHits = true
	}
}

// WithHTTPClient sets the HTTP client of the agent session.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Conversation) {
		c.httpClient = hc
	}
}

// WithRouter publishes session events on r.
func WithRouter(r *events.Router) Option {
	return func(c *Conversation) {
		c.router = r
	}
}

// WithDedupeCapacity bounds the remembered error signatures.
func WithDedupeCapacity(n int) Option {
	return func(c *Conversation) {
		c.capacity = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conversation) {
		c.logger = logger
	}
}

// New creates a Conversation against the agent run endpoint.
func New(endpoint string, opts ...Option) *Conversation {
	c := &Conversation{
		endpoint: endpoint,
		tracker:  nopTracker{},
		notifier: nopNotifier{},
		logger:   slog.Default(),
		capacity: DefaultDedupeCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.threadID == "" {
		c.threadID = "thread-" + uuid.NewString()
	}
	if c.runner == nil {
		c.runner = agentrun.NewDriver()
	}
	c.seen = newSignatureSet(c.capacity)

	sessionOpts := []session.Option{
		session.WithEventHook(c.handleEvent),
		session.WithLogger(c.logger),
	}
	if c.httpClient != nil {
		sessionOpts = append(sessionOpts, session.WithHTTPClient(c.httpClient))
	}
	if c.router != nil {
		sessionOpts = append(sessionOpts, session.WithRouter(c.router))
	}
	c.client = session.New(c.endpoint, sessionOpts...)
	return c
}

// ThreadID returns the conversation thread.
func (c *Conversation) ThreadID() string {
	return c.threadID
}

// Messages returns the transcript.
func (c *Conversation) Messages() []agentrun.Message {
	return c.client.Transcript().Messages()
}

// Session returns the underlying agent session.
func (c *Conversation) Session() *session.Client {
	return c.client
}

// Bootstrap seeds an empty transcript from the stored history, or else
// from the coach's greeting, or else from FallbackGreeting. A history
// failure leaves the transcript empty. It returns the seeded messages.
func (c *Conversation) Bootstrap(ctx context.Context) ([]agentrun.Message, error) {
	tr := c.client.Transcript()
	if tr.Len() > 0 {
		return tr.Messages(), nil
	}
	if c.api == nil {
		return nil, ErrNoAPI
	}

	history, err := c.api.History(ctx)
	if err != nil {
		c.logger.Warn("failed to load history", "error", err)
		return nil, err
	}

	if len(history) > 0 {
		msgs := make([]agentrun.Message, 0, len(history))
		for i, h := range history {
			msgs = append(msgs, agentrun.Message{
				ID:      fmt.Sprintf("hist-%d", i),
				Role:    strings.ToLower(h.Role),
				Content: h.Content,
			})
		}
		tr.Replace(msgs)
		return tr.Messages(), nil
	}

	greeting, err := c.api.Greeting(ctx)
	msg := agentrun.Message{ID: "greeting-" + uuid.NewString(), Role: agentrun.RoleAssistant, Content: greeting}
	if err != nil {
		c.logger.Warn("failed to fetch greeting", "error", err)
		msg = agentrun.Message{ID: "fallback-greeting-" + uuid.NewString(), Role: agentrun.RoleAssistant, Content: FallbackGreeting}
	}
	tr.Replace([]agentrun.Message{msg})
	return tr.Messages(), nil
}

// Send adds text as a user message and runs the agent with retry. On
// failure the tracker is marked, a toast is raised, and the classified
// error is returned.
func (c *Conversation) Send(ctx context.Context, text string) (*Reply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	tr := c.client.Transcript()
	tr.AppendUser(text)
	c.tracker.MarkRunStart()
	c.setTracking(true)

	before := agentrun.AssistantSignature(tr.Messages())
	runID := agentrun.NewRunID()
	c.logger.Debug("sending message", "run_id", runID, "thread_id", c.threadID)

	result, err := c.runner.RunWithRetry(ctx, c.client, agentrun.RunOptions{
		RunID:    runID,
		ThreadID: c.threadID,
	})
	c.setTracking(false)
	notices := c.flushPending()

	if err != nil {
		classified := runerr.Classify(err)
		c.logger.Error("agent run failed", "run_id", runID, "kind", classified.Kind, "error", classified.Message)
		c.notifier.Notify(runID, events.SeverityError, runerr.ToastMessage(classified))
		c.tracker.MarkRunError()
		return nil, classified
	}

	reply := &Reply{RunID: result.RunID, Notices: notices}
	msgs := tr.Messages()
	if agentrun.AssistantSignature(msgs) == before {
		if recovered, ok := ExtractAssistant(result.Result); ok {
			var current string
			if last, ok := agentrun.LastAssistant(msgs); ok {
				current = strings.TrimSpace(last.Renderable())
			}
			if recovered != current {
				tr.Append(agentrun.Message{
					ID:      "result-" + uuid.NewString(),
					Role:    agentrun.RoleAssistant,
					Content: recovered,
				})
				reply.Recovered = true
				msgs = tr.Messages()
			}
		}
	}

	if last, ok := agentrun.LastAssistant(msgs); ok {
		reply.Message = last
		reply.Text = last.Renderable()
		if c.lookupHits && agentrun.AssistantSignature(msgs) != before {
			reply.MemoryHits = c.memoryHits(ctx)
		}
	}
	return reply, nil
}

// WeeklyReview asks the coach for this week's review and records the
// exchange in the transcript.
func (c *Conversation) WeeklyReview(ctx context.Context) (*Reply, error) {
	if c.api == nil {
		return nil, ErrNoAPI
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	tr := c.client.Transcript()
	tr.AppendUser(WeeklyReviewPrompt)
	c.tracker.MarkRunStart()

	text, err := c.api.GenerateWeeklyReview(ctx)
	if err != nil {
		c.logger.Error("failed to generate weekly review", "error", err)
		c.notifier.Notify("", events.SeverityError, ToastWeeklyReview)
		c.tracker.MarkRunError()
		return nil, err
	}
	c.tracker.Reset()

	msg := agentrun.Message{ID: "weekly-" + uuid.NewString(), Role: agentrun.RoleAssistant, Content: text}
	tr.Append(msg)

	reply := &Reply{Message: msg, Text: text}
	if c.lookupHits {
		reply.MemoryHits = c.memoryHits(ctx)
	}
	return reply, nil
}

func (c *Conversation) memoryHits(ctx context.Context) []string {
	if c.api == nil {
		return nil
	}
	hits, err := c.api.MemoryHits(ctx)
	if err != nil {
		c.logger.Warn("failed to load memory hits", "error", err)
		return nil
	}
	return hits.Hits
}

func (c *Conversation) setTracking(on bool) {
	c.mu.Lock()
	c.tracking = on
	c.mu.Unlock()
}

// handleEvent runs on the session goroutine for every protocol event. It
// feeds the tracker, and turns backend error events into a transcript note
// and a toast, once per run and error text.
func (c *Conversation) handleEvent(ev *events.AgentEvent) {
	c.mu.Lock()
	if c.tracking {
		c.tracker.ProcessEvent(ev)
	}
	c.mu.Unlock()

	if ev.ErrorText == "" {
		return
	}
	runID := ev.RunID
	if runID == "" {
		runID = unknownRunID
	}

	c.mu.Lock()
	fresh := c.seen.Add(runID + "::" + ev.ErrorText)
	if fresh {
		c.pending = append(c.pending, agentrun.Message{
			ID:      "error-" + uuid.NewString(),
			Role:    agentrun.RoleAssistant,
			Content: runerr.TranscriptMessage(ev.ErrorText),
		})
	}
	c.mu.Unlock()

	if !fresh {
		return
	}
	toast := ToastBackendError
	if ev.EventType == events.EventRunError {
		toast = ToastRunFailed
	}
	c.logger.Warn("backend error event", "run_id", runID, "type", ev.EventType, "error", ev.ErrorText)
	c.notifier.Notify(runID, events.SeverityError, toast)
}

// flushPending moves queued error notes into the transcript. They are held
// back during the run because a failed attempt rolls the transcript back.
func (c *Conversation) flushPending() []agentrun.Message {
	c.mu.Lock()
	notes := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(notes) > 0 {
		c.client.Transcript().Append(notes...)
	}
	return notes
}
