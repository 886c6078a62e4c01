// Package activity derives a coarse progress signal for an agent run from
// its protocol event stream: a phase, the timeline of tool calls and the
// time elapsed since the run started.
package activity

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/npratt/coachrun/internal/events"
)

// Phase is the coarse stage of a run.
type Phase string

// Phases of a run. Idle is both the initial state and the state restored
// after a finished or failed run is torn down.
const (
	PhaseIdle          Phase = "idle"
	PhaseConnecting    Phase = "connecting"
	PhaseThinking      Phase = "thinking"
	PhaseToolCalling   Phase = "tool_calling"
	PhaseReadingMemory Phase = "reading_memory"
	PhaseGenerating    Phase = "generating"
	PhaseDone          Phase = "done"
	PhaseError         Phase = "error"
)

// Phases lists every phase.
var Phases = []Phase{
	PhaseIdle, PhaseConnecting, PhaseThinking, PhaseToolCalling,
	PhaseReadingMemory, PhaseGenerating, PhaseDone, PhaseError,
}

// Active reports whether elapsed time is ticking in this phase.
func (p Phase) Active() bool {
	switch p {
	case PhaseIdle, PhaseDone, PhaseError:
		return false
	default:
		return true
	}
}

// ToolStatus is the state of one tool call.
type ToolStatus string

// Tool call statuses.
const (
	ToolRunning ToolStatus = "running"
	ToolDone    ToolStatus = "done"
)

// ToolCall is one entry in the tool timeline, in call order.
type ToolCall struct {
	Name   string
	Status ToolStatus
	Args   map[string]any
}

// Activity is a snapshot of the tracker's projection.
type Activity struct {
	Phase     Phase
	ToolCalls []ToolCall
	Elapsed   time.Duration
}

func (a Activity) clone() Activity {
	if a.ToolCalls != nil {
		a.ToolCalls = slices.Clone(a.ToolCalls)
		for i := range a.ToolCalls {
			a.ToolCalls[i].Args = maps.Clone(a.ToolCalls[i].Args)
		}
	}
	return a
}

func (a Activity) isZero() bool {
	return a.Phase == PhaseIdle && len(a.ToolCalls) == 0 && a.Elapsed == 0
}

// ToolMatcher decides whether a tool reads the coach's memory.
type ToolMatcher func(toolName string) bool

// DefaultMemoryTokens are the name fragments of memory-reading tools.
var DefaultMemoryTokens = []string{"memory", "search", "recall"}

// TokenMatcher matches tool names containing any of the tokens,
// ignoring case.
func TokenMatcher(tokens ...string) ToolMatcher {
	lowered := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok = strings.ToLower(strings.TrimSpace(tok)); tok != "" {
			lowered = append(lowered, tok)
		}
	}
	return func(name string) bool {
		name = strings.ToLower(name)
		for _, tok := range lowered {
			if strings.Contains(name, tok) {
				return true
			}
		}
		return false
	}
}

// Default timings.
const (
	DefaultTickInterval    = time.Second
	DefaultDoneResetDelay  = 1500 * time.Millisecond
	DefaultErrorResetDelay = 3 * time.Second
)

// Tracker applies protocol events to the activity projection. It is safe
// for concurrent use: timers fire on their own goroutines, so all state is
// guarded by mu, and delayed resets carry the generation of the run that
// scheduled them so they never clobber a newer run.
type Tracker struct {
	tickInterval    time.Duration
	doneResetDelay  time.Duration
	errorResetDelay time.Duration
	isMemoryTool    ToolMatcher
	now             func() time.Time
	logger          *slog.Logger

	mu         sync.Mutex
	state      Activity
	start      time.Time
	generation uint64
	tickStop   chan struct{}
	resetTimer *time.Timer
	subs       []chan Activity
	closed     bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTickInterval sets how often elapsed time is refreshed.
func WithTickInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.tickInterval = d
		}
	}
}

// WithDoneResetDelay sets how long a finished run stays visible.
func WithDoneResetDelay(d time.Duration) Option {
	return func(t *Tracker) {
		t.doneResetDelay = d
	}
}

// WithErrorResetDelay sets how long a failed run stays visible.
func WithErrorResetDelay(d time.Duration) Option {
	return func(t *Tracker) {
		t.errorResetDelay = d
	}
}

// WithToolMatcher replaces the memory-tool classification.
func WithToolMatcher(m ToolMatcher) Option {
	return func(t *Tracker) {
		if m != nil {
			t.isMemoryTool = m
		}
	}
}

// WithClock replaces the clock used for elapsed time.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithLogger sets the logger for phase transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// New creates an idle Tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		tickInterval:    DefaultTickInterval,
		doneResetDelay:  DefaultDoneResetDelay,
		errorResetDelay: DefaultErrorResetDelay,
		isMemoryTool:    TokenMatcher(DefaultMemoryTokens...),
		now:             time.Now,
		logger:          slog.Default(),
		state:           Activity{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Activity returns a snapshot of the current projection.
func (t *Tracker) Activity() Activity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.clone()
}

// Subscribe returns a channel that receives a snapshot after every change.
// Delivery never blocks the tracker: a slow reader sees the latest snapshot
// and misses intermediate ones. The returned func unsubscribes and closes
// the channel.
func (t *Tracker) Subscribe() (<-chan Activity, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Activity, 1)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	t.subs = append(t.subs, ch)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, sub := range t.subs {
				if sub == ch {
					t.subs = append(t.subs[:i], t.subs[i+1:]...)
					close(ch)
					return
				}
			}
		})
	}
}

// Run applies events from ch in arrival order until ctx is done or ch is
// closed. It is the single consumer the tracker expects.
func (t *Tracker) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			t.ProcessEvent(ev)
		}
	}
}

// ProcessEvent applies one event. Events that are not protocol events, and
// protocol events the tracker does not know, are ignored.
func (t *Tracker) ProcessEvent(ev events.Event) {
	agentEv, ok := ev.(*events.AgentEvent)
	if !ok || agentEv == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch agentEv.EventType {
	case events.EventRunStarted:
		t.cancelResetLocked()
		if t.start.IsZero() {
			t.start = t.now()
		}
		t.startTickingLocked()
		t.setPhaseLocked(PhaseThinking)

	case events.EventToolCallStart:
		name := agentEv.ToolName
		if name == "" {
			name = events.UnknownToolName
		}
		var args map[string]any
		if agentEv.ToolArgs != nil {
			args = events.ParseToolArgs(agentEv.ToolArgs)
		}
		t.state.ToolCalls = append(t.state.ToolCalls, ToolCall{Name: name, Status: ToolRunning, Args: args})
		if t.isMemoryTool(name) {
			t.setPhaseLocked(PhaseReadingMemory)
		} else {
			t.setPhaseLocked(PhaseToolCalling)
		}

	case events.EventToolCallEnd, events.EventToolCallResult:
		if agentEv.ToolName != "" {
			t.completeToolLocked(agentEv.ToolName)
		}
		t.setPhaseLocked(PhaseThinking)

	case events.EventTextMessageStart, events.EventTextMessageContent:
		t.setPhaseLocked(PhaseGenerating)

	case events.EventRunFinished:
		t.stopTickingLocked()
		t.setPhaseLocked(PhaseDone)
		t.scheduleResetLocked(t.doneResetDelay)

	case events.EventRunError:
		t.stopTickingLocked()
		t.setPhaseLocked(PhaseError)
	}
}

// MarkRunStart begins a new run: connecting, no tool calls, zero elapsed.
func (t *Tracker) MarkRunStart() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelResetLocked()
	t.start = t.now()
	t.state = Activity{Phase: PhaseConnecting}
	t.startTickingLocked()
	t.logger.Debug("activity phase", "phase", PhaseConnecting)
	t.publishLocked()
}

// MarkRunError moves to error and tears down after the error reset delay.
func (t *Tracker) MarkRunError() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopTickingLocked()
	t.setPhaseLocked(PhaseError)
	t.scheduleResetLocked(t.errorResetDelay)
}

// Reset returns to the zeroed idle projection immediately.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

// Close stops timers and closes all subscriber channels.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	t.cancelResetLocked()
	t.stopTickingLocked()
	for _, ch := range t.subs {
		close(ch)
	}
	t.subs = nil
}

func (t *Tracker) resetLocked() {
	t.cancelResetLocked()
	t.stopTickingLocked()
	t.start = time.Time{}
	if t.state.isZero() {
		return
	}
	t.state = Activity{Phase: PhaseIdle}
	t.logger.Debug("activity phase", "phase", PhaseIdle)
	t.publishLocked()
}

func (t *Tracker) setPhaseLocked(p Phase) {
	t.state.Elapsed = t.elapsedLocked()
	if t.state.Phase != p {
		t.logger.Debug("activity phase", "phase", p, "elapsed", t.state.Elapsed)
	}
	t.state.Phase = p
	t.publishLocked()
}

// completeToolLocked marks the earliest running call with this name done.
func (t *Tracker) completeToolLocked(name string) {
	for i := range t.state.ToolCalls {
		tc := &t.state.ToolCalls[i]
		if tc.Name == name && tc.Status == ToolRunning {
			tc.Status = ToolDone
			return
		}
	}
}

func (t *Tracker) elapsedLocked() time.Duration {
	if t.start.IsZero() {
		return 0
	}
	return t.now().Sub(t.start)
}

// scheduleResetLocked tears the run down after d unless a newer run or
// an explicit reset intervenes first.
func (t *Tracker) scheduleResetLocked(d time.Duration) {
	t.cancelResetLocked()
	gen := t.generation
	t.resetTimer = time.AfterFunc(d, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.generation != gen || t.closed {
			return
		}
		t.resetLocked()
	})
}

// cancelResetLocked drops any pending reset and starts a new generation.
func (t *Tracker) cancelResetLocked() {
	t.generation++
	if t.resetTimer != nil {
		t.resetTimer.Stop()
		t.resetTimer = nil
	}
}

func (t *Tracker) startTickingLocked() {
	if t.tickStop != nil || t.closed {
		return
	}
	stop := make(chan struct{})
	t.tickStop = stop
	go t.tick(stop)
}

func (t *Tracker) stopTickingLocked() {
	if t.tickStop != nil {
		close(t.tickStop)
		t.tickStop = nil
	}
}

func (t *Tracker) tick(stop <-chan struct{}) {
	ticker := time.NewTicker(t.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			select {
			case <-stop:
				t.mu.Unlock()
				return
			default:
			}
			t.state.Elapsed = t.elapsedLocked()
			t.publishLocked()
			t.mu.Unlock()
		}
	}
}

// publishLocked hands the latest snapshot to every subscriber, replacing
// any snapshot the subscriber has not read yet.
func (t *Tracker) publishLocked() {
	if len(t.subs) == 0 {
		return
	}
	snap := t.state.clone()
	for _, ch := range t.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
