// Package game holds the pure reward arithmetic: the XP/level curve and the
// streak rules. Nothing here touches storage; the reward engine feeds these
// functions and persists the results.
package game

import (
	"time"

	"github.com/habitquest/service/internal/app/domain/habit"
)

// MaxLevel caps the linear level curve.
const MaxLevel = 1000

// XPForDifficulty returns the XP awarded for completing a habit of the given
// difficulty. Unknown difficulties are a caller contract violation and are
// rejected upstream by ParseDifficulty; the zero return here is deliberate.
func XPForDifficulty(d habit.Difficulty) int {
	switch d {
	case habit.DifficultyEasy:
		return 5
	case habit.DifficultyMedium:
		return 10
	case habit.DifficultyHard:
		return 20
	}
	return 0
}

// XPRequiredForLevel returns the cumulative XP threshold for a level.
// The curve is linear: level L requires (L-1)*100 XP. Levels above MaxLevel
// clamp to the MaxLevel threshold. Levels below 1 are degenerate input and
// return 100, the increment toward level 2.
func XPRequiredForLevel(level int) int {
	if level < 1 {
		return 100
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return (level - 1) * 100
}

// LevelFromTotalXP returns the highest level whose threshold is at or below
// totalXP. Zero or negative XP is level 1; anything at or past the MaxLevel
// threshold is MaxLevel.
func LevelFromTotalXP(totalXP int) int {
	if totalXP <= 0 {
		return 1
	}
	level := totalXP/100 + 1
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// XPWithinLevel returns the progress inside the current level for a total.
func XPWithinLevel(totalXP int) int {
	if totalXP < 0 {
		return 0
	}
	return totalXP - XPRequiredForLevel(LevelFromTotalXP(totalXP))
}

// NextStreak computes the streak value for a completion happening at now,
// given the habit's current streak and its most recent completion strictly
// before today. Calendar days are UTC midnight-to-midnight: a completion
// yesterday extends the streak, anything older (or no history) restarts it.
func NextStreak(currentStreak int, lastCompletion *time.Time, now time.Time) int {
	if lastCompletion == nil {
		return 1
	}
	today := toUTCDate(now)
	last := toUTCDate(*lastCompletion)
	if last.Equal(today.AddDate(0, 0, -1)) {
		return currentStreak + 1
	}
	return 1
}

func toUTCDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
