// Package replan detects stale plans from consecutive-failure streaks.
//
// A stale-plan signal is an escalation, not a task failure: the loop halts
// and waits for an external re-planning step instead of burning further
// attempts on a plan that keeps failing.
package replan

import (
	"fmt"
	"time"

	"orbiter/internal/graph"
)

// Signal is an escalation requesting a re-planning checkpoint.
type Signal struct {
	TaskID string
	Reason string
}

// Detector tracks consecutive failures against two thresholds: a streak on
// the same task and a global streak across any tasks. State lives in the
// graph document so streaks survive restarts.
type Detector struct {
	sameTaskThreshold int
	globalThreshold   int
}

// NewDetector creates a Detector with the given thresholds. Thresholds
// below 1 are clamped to 1.
func NewDetector(sameTaskThreshold, globalThreshold int) *Detector {
	if sameTaskThreshold < 1 {
		sameTaskThreshold = 1
	}
	if globalThreshold < 1 {
		globalThreshold = 1
	}
	return &Detector{
		sameTaskThreshold: sameTaskThreshold,
		globalThreshold:   globalThreshold,
	}
}

// RecordFailure updates the streaks after a failed attempt and returns a
// Signal if either threshold is reached. The signal fires as soon as the
// threshold is hit, before any further execution attempt.
func (d *Detector) RecordFailure(state *graph.RetryState, taskID string) *Signal {
	if state.CurrentTaskID == taskID {
		state.CurrentTaskRetryStreak++
	} else {
		state.CurrentTaskID = taskID
		state.CurrentTaskRetryStreak = 1
	}
	state.ConsecutiveRetries++

	var reason string
	switch {
	case state.CurrentTaskRetryStreak >= d.sameTaskThreshold:
		reason = fmt.Sprintf("task %s failed %d consecutive attempts (threshold %d)",
			taskID, state.CurrentTaskRetryStreak, d.sameTaskThreshold)
	case state.ConsecutiveRetries >= d.globalThreshold:
		reason = fmt.Sprintf("%d consecutive failures across tasks (threshold %d)",
			state.ConsecutiveRetries, d.globalThreshold)
	default:
		return nil
	}

	now := time.Now().UTC()
	state.LastReplanAt = &now
	state.LastReplanReason = reason
	return &Signal{TaskID: taskID, Reason: reason}
}

// RecordPass resets both streaks after any successful attempt.
func (d *Detector) RecordPass(state *graph.RetryState) {
	state.ConsecutiveRetries = 0
	state.CurrentTaskRetryStreak = 0
	state.CurrentTaskID = ""
}
