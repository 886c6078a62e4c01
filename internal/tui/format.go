package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/npratt/coachrun/internal/activity"
)

var phaseLabels = map[activity.Phase]string{
	activity.PhaseIdle:          "Idle",
	activity.PhaseConnecting:    "Connecting...",
	activity.PhaseThinking:      "Thinking...",
	activity.PhaseToolCalling:   "Using tools...",
	activity.PhaseReadingMemory: "Reading memory...",
	activity.PhaseGenerating:    "Writing reply...",
	activity.PhaseDone:          "Done",
	activity.PhaseError:         "Failed",
}

// PhaseLabel returns the display label for a phase.
func PhaseLabel(p activity.Phase) string {
	if label, ok := phaseLabels[p]; ok {
		return label
	}
	return string(p)
}

// FormatElapsed renders d as whole seconds, or minutes and seconds past a
// minute.
func FormatElapsed(d time.Duration) string {
	secs := int(d / time.Second)
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm%02ds", secs/60, secs%60)
}

// FormatTools renders the tool timeline, marking finished calls.
func FormatTools(calls []activity.ToolCall) string {
	parts := make([]string, 0, len(calls))
	for _, c := range calls {
		mark := "…"
		if c.Status == activity.ToolDone {
			mark = "✓"
		}
		parts = append(parts, c.Name+" "+mark)
	}
	return strings.Join(parts, ", ")
}

// FormatActivity renders a snapshot as a single plain line.
func FormatActivity(a activity.Activity) string {
	line := PhaseLabel(a.Phase)
	if a.Elapsed > 0 {
		line += " " + FormatElapsed(a.Elapsed)
	}
	if tools := FormatTools(a.ToolCalls); tools != "" {
		line += " [" + tools + "]"
	}
	return line
}

// truncateLine cuts a styled line to width cells.
func truncateLine(s string, width int) string {
	return ansi.Truncate(s, width, "…")
}
