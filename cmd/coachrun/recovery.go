package main

import (
	"github.com/npratt/coachrun/internal/events"
	"github.com/npratt/coachrun/internal/runerr"
)

// interruptedError is recorded for runs that were still running when the
// previous process exited.
const interruptedError = "run interrupted (coachrun restart)"

// normalizeHistoryForRecovery marks runs left in the running state as
// failed so run statistics stay consistent across restarts.
func normalizeHistoryForRecovery(state *events.State) {
	for _, h := range state.Runs {
		if h.Status != events.RunRunning {
			continue
		}
		h.Status = events.RunFailed
		h.LastErrorKind = runerr.KindAborted.String()
		h.LastError = interruptedError
		state.TotalRuns++
		state.Failed++
		state.FailureKind[h.LastErrorKind]++
	}
}
