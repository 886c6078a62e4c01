package activity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npratt/coachrun/internal/events"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func agent(typ events.EventType, mutate ...func(*events.AgentEvent)) *events.AgentEvent {
	ev := &events.AgentEvent{BaseEvent: events.NewAgentEvent(typ)}
	for _, m := range mutate {
		m(ev)
	}
	return ev
}

func tool(name string) func(*events.AgentEvent) {
	return func(ev *events.AgentEvent) { ev.ToolName = name }
}

func newTestTracker(clock *fakeClock, opts ...Option) *Tracker {
	base := []Option{
		WithClock(clock.Now),
		WithTickInterval(time.Hour),
		WithDoneResetDelay(time.Hour),
		WithErrorResetDelay(time.Hour),
	}
	return New(append(base, opts...)...)
}

func TestTrackerMemoryToolScenario(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock, WithDoneResetDelay(20*time.Millisecond))
	defer tr.Close()

	tr.MarkRunStart()
	assert.Equal(t, PhaseConnecting, tr.Activity().Phase)

	steps := []struct {
		ev    *events.AgentEvent
		phase Phase
	}{
		{agent(events.EventRunStarted), PhaseThinking},
		{agent(events.EventToolCallStart, tool("search_memory")), PhaseReadingMemory},
		{agent(events.EventToolCallEnd, tool("search_memory")), PhaseThinking},
		{agent(events.EventTextMessageStart), PhaseGenerating},
		{agent(events.EventTextMessageContent, func(ev *events.AgentEvent) { ev.Delta = "Hi" }), PhaseGenerating},
		{agent(events.EventTextMessageEnd), PhaseGenerating},
		{agent(events.EventRunFinished), PhaseDone},
	}
	for _, step := range steps {
		clock.Advance(100 * time.Millisecond)
		tr.ProcessEvent(step.ev)
		assert.Equal(t, step.phase, tr.Activity().Phase, "after %s", step.ev.EventType)
	}

	got := tr.Activity()
	require.Len(t, got.ToolCalls, 1)
	assert.Equal(t, ToolCall{Name: "search_memory", Status: ToolDone}, got.ToolCalls[0])
	assert.Equal(t, 700*time.Millisecond, got.Elapsed)

	assert.Eventually(t, func() bool {
		return tr.Activity().Phase == PhaseIdle
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, Activity{Phase: PhaseIdle}, tr.Activity())
}

func TestTrackerToolCallingPhase(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	defer tr.Close()

	tr.ProcessEvent(agent(events.EventRunStarted))
	tr.ProcessEvent(agent(events.EventToolCallStart, tool("create_habit"), func(ev *events.AgentEvent) {
		ev.ToolArgs = `{"title":"read"}`
	}))

	got := tr.Activity()
	assert.Equal(t, PhaseToolCalling, got.Phase)
	require.Len(t, got.ToolCalls, 1)
	assert.Equal(t, ToolRunning, got.ToolCalls[0].Status)
	assert.Equal(t, map[string]any{"title": "read"}, got.ToolCalls[0].Args)
}

func TestTrackerUnnamedToolStart(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	defer tr.Close()

	tr.ProcessEvent(agent(events.EventToolCallStart))
	got := tr.Activity()
	require.Len(t, got.ToolCalls, 1)
	assert.Equal(t, events.UnknownToolName, got.ToolCalls[0].Name)
}

func TestTrackerCompletesEarliestRunningCall(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	defer tr.Close()

	tr.ProcessEvent(agent(events.EventToolCallStart, tool("recall")))
	tr.ProcessEvent(agent(events.EventToolCallStart, tool("recall")))
	tr.ProcessEvent(agent(events.EventToolCallResult, tool("recall")))

	got := tr.Activity()
	require.Len(t, got.ToolCalls, 2)
	assert.Equal(t, ToolDone, got.ToolCalls[0].Status)
	assert.Equal(t, ToolRunning, got.ToolCalls[1].Status)
	assert.Equal(t, PhaseThinking, got.Phase)
}

func TestTrackerIgnoresUnknownEvents(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock)
	defer tr.Close()

	tr.MarkRunStart()
	tr.ProcessEvent(agent(events.EventToolCallStart, tool("lookup")))
	before := tr.Activity()

	clock.Advance(time.Second)
	tr.ProcessEvent(agent(events.EventStateSnapshot))
	tr.ProcessEvent(agent(events.EventType("SOMETHING_NEW")))
	tr.ProcessEvent(events.NewInternalEvent(events.EventNotice))
	tr.ProcessEvent(nil)

	assert.Equal(t, before, tr.Activity())
}

func TestTrackerResetIsIdempotent(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	defer tr.Close()

	tr.MarkRunStart()
	tr.ProcessEvent(agent(events.EventToolCallStart, tool("recall")))

	tr.Reset()
	first := tr.Activity()
	tr.Reset()
	assert.Equal(t, first, tr.Activity())
	assert.Equal(t, Activity{Phase: PhaseIdle}, first)
}

func TestTrackerRunErrorEventStopsWithoutReset(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock, WithErrorResetDelay(5*time.Millisecond), WithDoneResetDelay(5*time.Millisecond))
	defer tr.Close()

	tr.MarkRunStart()
	clock.Advance(2 * time.Second)
	tr.ProcessEvent(agent(events.EventRunError))

	time.Sleep(30 * time.Millisecond)
	got := tr.Activity()
	assert.Equal(t, PhaseError, got.Phase)
	assert.Equal(t, 2*time.Second, got.Elapsed)
}

func TestTrackerMarkRunErrorResets(t *testing.T) {
	tr := newTestTracker(newFakeClock(), WithErrorResetDelay(20*time.Millisecond))
	defer tr.Close()

	tr.MarkRunStart()
	tr.MarkRunError()
	assert.Equal(t, PhaseError, tr.Activity().Phase)

	assert.Eventually(t, func() bool {
		return tr.Activity().Phase == PhaseIdle
	}, time.Second, 5*time.Millisecond)
}

func TestTrackerStaleResetDoesNotClobberNewRun(t *testing.T) {
	tr := newTestTracker(newFakeClock(), WithDoneResetDelay(30*time.Millisecond))
	defer tr.Close()

	tr.MarkRunStart()
	tr.ProcessEvent(agent(events.EventRunFinished))
	assert.Equal(t, PhaseDone, tr.Activity().Phase)

	tr.MarkRunStart()
	tr.ProcessEvent(agent(events.EventRunStarted))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, PhaseThinking, tr.Activity().Phase)
}

func TestTrackerTicksElapsed(t *testing.T) {
	clock := newFakeClock()
	tr := newTestTracker(clock, WithTickInterval(5*time.Millisecond))
	defer tr.Close()

	tr.MarkRunStart()
	clock.Advance(3 * time.Second)

	assert.Eventually(t, func() bool {
		return tr.Activity().Elapsed == 3*time.Second
	}, time.Second, 5*time.Millisecond)
}

func TestTrackerSubscribeLatestWins(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	defer tr.Close()

	ch, unsubscribe := tr.Subscribe()
	defer unsubscribe()

	tr.MarkRunStart()
	tr.ProcessEvent(agent(events.EventRunStarted))
	tr.ProcessEvent(agent(events.EventTextMessageStart))

	select {
	case snap := <-ch:
		assert.Equal(t, PhaseGenerating, snap.Phase)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
	select {
	case snap := <-ch:
		t.Fatalf("unexpected extra snapshot: %+v", snap)
	default:
	}
}

func TestTrackerSnapshotsAreCopies(t *testing.T) {
	tr := newTestTracker(newFakeClock())
	defer tr.Close()

	tr.ProcessEvent(agent(events.EventToolCallStart, tool("recall")))
	snap := tr.Activity()
	snap.ToolCalls[0].Status = ToolDone

	assert.Equal(t, ToolRunning, tr.Activity().ToolCalls[0].Status)
}

func TestTrackerRunConsumesRouter(t *testing.T) {
	router := events.NewRouter(10)
	defer router.Close()
	tr := newTestTracker(newFakeClock())
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ch := router.SubscribeNamed("activity", events.TrackerBufferSize)
	go func() {
		tr.Run(ctx, ch)
		close(done)
	}()

	router.Emit(agent(events.EventRunStarted))
	router.Emit(agent(events.EventToolCallStart, tool("memory_lookup")))

	assert.Eventually(t, func() bool {
		return tr.Activity().Phase == PhaseReadingMemory
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestTokenMatcher(t *testing.T) {
	m := TokenMatcher(DefaultMemoryTokens...)
	assert.True(t, m("search_memory"))
	assert.True(t, m("RecallGoals"))
	assert.True(t, m("web_search"))
	assert.False(t, m("create_habit"))

	custom := TokenMatcher("journal", " ")
	assert.True(t, custom("read_journal"))
	assert.False(t, custom("search_memory"))
}

func TestPhaseActive(t *testing.T) {
	for _, p := range Phases {
		want := p != PhaseIdle && p != PhaseDone && p != PhaseError
		assert.Equal(t, want, p.Active(), "phase %s", p)
	}
}
