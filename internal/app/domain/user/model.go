package user

import "time"

// User is an authenticated owner of habits. Level, XP, and TotalXP are kept
// consistent by the reward engine: Level is always derived from TotalXP, and
// XP is the progress within the current level.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Level        int       `json:"level"`
	XP           int       `json:"xp"`
	TotalXP      int       `json:"total_xp"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile is the user projection returned by the profile endpoint.
type Profile struct {
	ID                   string    `json:"id"`
	Username             string    `json:"username"`
	Email                string    `json:"email"`
	Level                int       `json:"level"`
	XP                   int       `json:"xp"`
	TotalXP              int       `json:"total_xp"`
	XPToNextLevel        int       `json:"xp_to_next_level"`
	XPRequiredForNext    int       `json:"xp_required_for_next_level"`
	ActiveHabitsCount    int       `json:"active_habits_count"`
	TotalCompletions     int       `json:"total_completions"`
	LongestStreak        int       `json:"longest_streak"`
	CurrentActiveStreaks int       `json:"current_active_streaks"`
	CreatedAt            time.Time `json:"created_at"`
}

// Stats summarises completion activity over a trailing period.
type Stats struct {
	TotalCompletions         int            `json:"total_completions"`
	CompletionRate           float64        `json:"completion_rate"`
	AverageCompletionsPerDay float64        `json:"average_completions_per_day"`
	LongestStreakInPeriod    int            `json:"longest_streak_in_period"`
	DailyCompletions         map[string]int `json:"daily_completions"`
	PeriodStart              time.Time      `json:"period_start"`
	PeriodEnd                time.Time      `json:"period_end"`
}
