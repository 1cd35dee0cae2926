// Package users serves user profiles and completion statistics.
package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/habitquest/service/internal/app/domain/user"
	"github.com/habitquest/service/internal/app/game"
	"github.com/habitquest/service/internal/app/storage"
	errs "github.com/habitquest/service/internal/errors"
	"github.com/habitquest/service/pkg/logger"
)

const (
	defaultStatsDays = 30
	maxStatsDays     = 365
)

// Service reads user profiles and aggregates completion stats.
type Service struct {
	store storage.Store
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a users service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Profile assembles the user's profile with habit and progression summaries.
func (s *Service) Profile(ctx context.Context, userID string) (user.Profile, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return user.Profile{}, errs.NotFound("User not found")
	}
	if err != nil {
		return user.Profile{}, errs.Internal("loading user", err)
	}

	habits, err := s.store.ListHabits(ctx, userID, true)
	if err != nil {
		return user.Profile{}, errs.Internal("listing habits", err)
	}

	var (
		activeCount   int
		longestStreak int
		activeStreaks int
		allIDs        = make([]string, 0, len(habits))
	)
	for _, h := range habits {
		allIDs = append(allIDs, h.ID)
		if h.BestStreak > longestStreak {
			longestStreak = h.BestStreak
		}
		if h.IsActive {
			activeCount++
			if h.CurrentStreak > 0 {
				activeStreaks++
			}
		}
	}

	totalCompletions, err := s.store.CountCompletions(ctx, allIDs)
	if err != nil {
		return user.Profile{}, errs.Internal("counting completions", err)
	}

	requiredForNext := game.XPRequiredForLevel(u.Level + 1)
	toNext := requiredForNext - u.TotalXP
	if u.Level >= game.MaxLevel || toNext < 0 {
		toNext = 0
	}

	return user.Profile{
		ID:                   u.ID,
		Username:             u.Username,
		Email:                u.Email,
		Level:                u.Level,
		XP:                   u.XP,
		TotalXP:              u.TotalXP,
		XPToNextLevel:        toNext,
		XPRequiredForNext:    requiredForNext,
		ActiveHabitsCount:    activeCount,
		TotalCompletions:     totalCompletions,
		LongestStreak:        longestStreak,
		CurrentActiveStreaks: activeStreaks,
		CreatedAt:            u.CreatedAt,
	}, nil
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// UpdateUsername renames the user. The rules mirror registration: 3 to 50
// characters from the restricted charset, unique case-insensitively.
func (s *Service) UpdateUsername(ctx context.Context, userID, username string) (user.Profile, error) {
	username = strings.TrimSpace(username)
	switch {
	case username == "":
		return user.Profile{}, errs.Validation("Username is required")
	case len(username) < 3 || len(username) > 50:
		return user.Profile{}, errs.Validation("Username must be between 3 and 50 characters")
	case !usernamePattern.MatchString(username):
		return user.Profile{}, errs.Validation("Username can only contain letters, numbers, hyphens, and underscores")
	}

	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return user.Profile{}, errs.NotFound("User not found")
	}
	if err != nil {
		return user.Profile{}, errs.Internal("loading user", err)
	}

	if !strings.EqualFold(u.Username, username) {
		if taken, err := s.store.UsernameExists(ctx, username); err != nil {
			return user.Profile{}, errs.Internal("checking username", err)
		} else if taken {
			return user.Profile{}, errs.BusinessRule("This username is already taken")
		}
	}

	u.Username = username
	if _, err := s.store.UpdateUser(ctx, u); err != nil {
		return user.Profile{}, errs.Internal("updating user", err)
	}

	s.log.WithField("user_id", userID).WithField("username", username).Info("username updated")
	return s.Profile(ctx, userID)
}

// Stats aggregates completion activity over the trailing days window. days
// outside [1, 365] is rejected; zero falls back to the 30 day default.
func (s *Service) Stats(ctx context.Context, userID string, days int) (user.Stats, error) {
	if days == 0 {
		days = defaultStatsDays
	}
	if days < 1 || days > maxStatsDays {
		return user.Stats{}, errs.Validation(fmt.Sprintf("Days must be between 1 and %d", maxStatsDays))
	}

	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.Stats{}, errs.NotFound("User not found")
		}
		return user.Stats{}, errs.Internal("loading user", err)
	}

	habits, err := s.store.ListHabits(ctx, userID, true)
	if err != nil {
		return user.Stats{}, errs.Internal("listing habits", err)
	}

	now := s.now()
	// The window covers the trailing N UTC calendar days including today.
	end := toUTCDate(now).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)

	ids := make([]string, 0, len(habits))
	activeCount := 0
	for _, h := range habits {
		ids = append(ids, h.ID)
		if h.IsActive {
			activeCount++
		}
	}

	logs, err := s.store.ListCompletionsInRange(ctx, ids, start, end)
	if err != nil {
		return user.Stats{}, errs.Internal("listing completions", err)
	}

	daily := make(map[string]int)
	for _, l := range logs {
		daily[l.CompletedAt.UTC().Format("2006-01-02")]++
	}

	total := len(logs)
	rate := 0.0
	if activeCount > 0 {
		rate = float64(total) / float64(activeCount*days)
		if rate > 1 {
			rate = 1
		}
	}

	return user.Stats{
		TotalCompletions:         total,
		CompletionRate:           rate,
		AverageCompletionsPerDay: float64(total) / float64(days),
		LongestStreakInPeriod:    longestDailyRun(daily, start, days),
		DailyCompletions:         daily,
		PeriodStart:              start,
		PeriodEnd:                end.AddDate(0, 0, -1),
	}, nil
}

// longestDailyRun finds the longest stretch of consecutive days inside the
// window that each have at least one completion.
func longestDailyRun(daily map[string]int, start time.Time, days int) int {
	longest, current := 0, 0
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i).Format("2006-01-02")
		if daily[day] > 0 {
			current++
			if current > longest {
				longest = current
			}
		} else {
			current = 0
		}
	}
	return longest
}

func toUTCDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
