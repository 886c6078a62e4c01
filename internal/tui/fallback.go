package tui

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"golang.org/x/term"

	"github.com/npratt/coachrun/internal/activity"
)

// IsInteractive returns true if both stdout and stdin are TTYs.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

// runSimple prints one timestamped line per change of phase or tool
// timeline. Elapsed-only ticks are skipped.
func (i *Indicator) runSimple(ctx context.Context) error {
	var last activity.Activity
	printed := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case a, ok := <-i.updates:
			if !ok {
				return nil
			}
			if printed && !changed(last, a) {
				continue
			}
			last, printed = a, true
			if a.Phase == activity.PhaseIdle {
				continue
			}
			timestamp := time.Now().Format("15:04:05")
			fmt.Fprintf(i.out, "%s %s\n", timestamp, FormatActivity(a))
		}
	}
}

func changed(prev, next activity.Activity) bool {
	if prev.Phase != next.Phase {
		return true
	}
	return !slices.EqualFunc(prev.ToolCalls, next.ToolCalls, func(a, b activity.ToolCall) bool {
		return a.Name == b.Name && a.Status == b.Status
	})
}
