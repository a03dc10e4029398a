// Package gamification holds the pure rules behind achievement progress and
// leveling. Nothing here touches storage; the service layer loads state, runs
// it through these functions and persists the result.
package gamification

import "time"

// Progress is a user's standing on one achievement.
type Progress struct {
	Progress      int
	Completed     bool
	DateCompleted *time.Time
}

// Transition is the outcome of applying one progress report.
type Transition struct {
	Progress

	// JustCompleted is true only on the report that first crosses
	// maxProgress. XP and badge rewards hang off this flag, so they are
	// paid at most once per (user, achievement).
	JustCompleted bool
}

// Advance applies a reported progress value to state.
//
// The reported value is clamped to maxProgress but not to the previous
// value, so progress may go down. Completion is sticky: once Completed is
// set it stays set (with its original DateCompleted) even if progress later
// drops below maxProgress.
func Advance(state Progress, maxProgress, reported int, now time.Time) Transition {
	next := state
	next.Progress = min(reported, maxProgress)

	reached := next.Progress >= maxProgress
	if reached && !state.Completed {
		completedAt := now
		next.Completed = true
		next.DateCompleted = &completedAt
		return Transition{Progress: next, JustCompleted: true}
	}
	return Transition{Progress: next}
}
