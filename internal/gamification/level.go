package gamification

import (
	"slices"

	"github.com/sakif/mentor-app/internal/model"
)

// LevelTable is the XP ladder ordered by ascending level.
type LevelTable []model.Level

// NewLevelTable copies levels and sorts the copy by level number.
func NewLevelTable(levels []model.Level) LevelTable {
	t := slices.Clone(levels)
	slices.SortFunc(t, func(a, b model.Level) int { return a.Level - b.Level })
	return LevelTable(t)
}

// Next returns the level row directly above current, if the table has one.
func (t LevelTable) Next(current int) (model.Level, bool) {
	i, found := slices.BinarySearchFunc(t, current+1, func(l model.Level, target int) int {
		return l.Level - target
	})
	if !found {
		return model.Level{}, false
	}
	return t[i], true
}

// NextXPRequired returns the XP needed for the level after current, or nil
// when current is the top of the ladder.
func (t LevelTable) NextXPRequired(current int) *int {
	next, ok := t.Next(current)
	if !ok {
		return nil
	}
	xp := next.XPRequired
	return &xp
}

// ApplyXP adds award to xp and checks the level above once.
//
// At most one level is gained per award even when the new total clears
// several thresholds; the remaining levels are picked up by later awards.
func (t LevelTable) ApplyXP(level, xp, award int) (newLevel, newXP int, leveledUp bool) {
	newLevel, newXP = level, xp+award
	if next, ok := t.Next(level); ok && newXP >= next.XPRequired {
		newLevel = next.Level
		leveledUp = true
	}
	return newLevel, newXP, leveledUp
}
