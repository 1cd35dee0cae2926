package habit

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is how often a habit is meant to be completed.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Difficulty determines the XP value of a completion.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseFrequency normalizes and validates a frequency value.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToLower(strings.TrimSpace(s))); f {
	case FrequencyDaily, FrequencyWeekly:
		return f, nil
	default:
		return "", fmt.Errorf("invalid habit frequency %q", s)
	}
}

// ParseDifficulty normalizes and validates a difficulty value.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	default:
		return "", fmt.Errorf("invalid habit difficulty %q", s)
	}
}

// Habit belongs to exactly one user. IsActive false means soft-deleted;
// the record and its completion history survive until a permanent delete.
type Habit struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Frequency       Frequency  `json:"frequency"`
	Difficulty      Difficulty `json:"difficulty"`
	IsActive        bool       `json:"is_active"`
	CurrentStreak   int        `json:"current_streak"`
	BestStreak      int        `json:"best_streak"`
	LastCompletedAt *time.Time `json:"last_completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// CompletionLog records one completion of a habit. At most one log exists per
// habit per UTC calendar day.
type CompletionLog struct {
	ID          string    `json:"id"`
	HabitID     string    `json:"habit_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// View is the habit projection returned to API clients.
type View struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Frequency        Frequency  `json:"frequency"`
	Difficulty       Difficulty `json:"difficulty"`
	IsActive         bool       `json:"is_active"`
	CurrentStreak    int        `json:"current_streak"`
	BestStreak       int        `json:"best_streak"`
	LastCompletedAt  *time.Time `json:"last_completed_at,omitempty"`
	CanCompleteToday bool       `json:"can_complete_today"`
	CreatedAt        time.Time  `json:"created_at"`
}

// AsView builds the API projection of a habit.
func (h Habit) AsView(canCompleteToday bool) View {
	return View{
		ID:               h.ID,
		Title:            h.Title,
		Description:      h.Description,
		Frequency:        h.Frequency,
		Difficulty:       h.Difficulty,
		IsActive:         h.IsActive,
		CurrentStreak:    max(0, h.CurrentStreak),
		BestStreak:       max(0, h.BestStreak),
		LastCompletedAt:  h.LastCompletedAt,
		CanCompleteToday: canCompleteToday,
		CreatedAt:        h.CreatedAt,
	}
}
