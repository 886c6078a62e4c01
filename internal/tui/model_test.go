package tui

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/exp/teatest"

	"github.com/npratt/coachrun/internal/activity"
)

func TestModelRendersActivity(t *testing.T) {
	updates := make(chan activity.Activity, 4)
	tm := teatest.NewTestModel(t, newModel(updates, nil), teatest.WithInitialTermSize(100, 5))

	updates <- activity.Activity{
		Phase:     activity.PhaseReadingMemory,
		Elapsed:   2 * time.Second,
		ToolCalls: []activity.ToolCall{{Name: "search_memory", Status: activity.ToolRunning}},
	}

	teatest.WaitFor(t, tm.Output(), func(b []byte) bool {
		return bytes.Contains(b, []byte("Reading memory...")) && bytes.Contains(b, []byte("search_memory"))
	}, teatest.WithDuration(3*time.Second))

	close(updates)
	fm := tm.FinalModel(t, teatest.WithFinalTimeout(3*time.Second))
	m, ok := fm.(model)
	if !ok {
		t.Fatalf("expected model, got %T", fm)
	}
	if !m.quitting {
		t.Error("expected model to quit when updates close")
	}
	if m.activity.Phase != activity.PhaseReadingMemory {
		t.Errorf("expected reading_memory, got %s", m.activity.Phase)
	}
}

func TestModelCtrlCInterrupts(t *testing.T) {
	updates := make(chan activity.Activity)
	interrupted := false
	tm := teatest.NewTestModel(t, newModel(updates, func() { interrupted = true }),
		teatest.WithInitialTermSize(80, 5))

	tm.Send(tea.KeyMsg{Type: tea.KeyCtrlC})
	tm.WaitFinished(t, teatest.WithFinalTimeout(3*time.Second))

	if !interrupted {
		t.Error("interrupt callback was not invoked")
	}
}

func TestModelView(t *testing.T) {
	m := newModel(nil, nil)
	if got := m.View(); got != "" {
		t.Errorf("expected empty view while idle, got %q", got)
	}

	next, _ := m.Update(activityMsg(activity.Activity{Phase: activity.PhaseDone, Elapsed: 4 * time.Second}))
	view := next.(model).View()
	if !strings.Contains(view, "Done") || !strings.Contains(view, "4s") {
		t.Errorf("unexpected done view: %q", view)
	}

	next, _ = next.Update(tea.WindowSizeMsg{Width: 8, Height: 2})
	next, _ = next.Update(activityMsg(activity.Activity{Phase: activity.PhaseGenerating, Elapsed: time.Minute}))
	if view := strings.TrimSuffix(next.(model).View(), "\n"); ansi.StringWidth(view) > 8 {
		t.Errorf("expected view truncated to 8 cells, got %q", view)
	}
}

func TestIndicatorInteractiveExitsWhenUpdatesClose(t *testing.T) {
	updates := make(chan activity.Activity)
	var out bytes.Buffer
	ind := New(updates,
		WithOutput(&out),
		WithInput(strings.NewReader("")),
		WithInteractive(true),
	)
	if ind.in == nil || ind.out != io.Writer(&out) {
		t.Fatal("options not applied")
	}
	close(updates)
	if err := ind.Run(t.Context()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
