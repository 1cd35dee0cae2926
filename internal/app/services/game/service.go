// Package game implements the reward engine: completing a habit awards XP,
// advances the level, and updates the streak, all inside one transaction.
package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/habitquest/service/internal/app/domain/habit"
	gamemath "github.com/habitquest/service/internal/app/game"
	"github.com/habitquest/service/internal/app/storage"
	errs "github.com/habitquest/service/internal/errors"
	"github.com/habitquest/service/pkg/logger"
)

// Reward is the outcome of a completion attempt. Success false with a Message
// covers the expected rejections; transport errors surface separately.
type Reward struct {
	Success      bool        `json:"success"`
	Message      string      `json:"message"`
	XPGained     int         `json:"xp_gained"`
	LeveledUp    bool        `json:"leveled_up"`
	NewLevel     int         `json:"new_level"`
	NewXP        int         `json:"new_xp"`
	NewTotalXP   int         `json:"new_total_xp"`
	NewStreak    int         `json:"new_streak"`
	UpdatedHabit *habit.View `json:"updated_habit,omitempty"`
}

// Service applies habit completions.
type Service struct {
	store storage.Store
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a reward engine service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("game")
	}
	return &Service{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// CompleteHabit records a completion for the user's habit. Expected rejections
// come back as Reward{Success: false}; a non-nil error means the attempt
// could not be processed at all.
func (s *Service) CompleteHabit(ctx context.Context, userID, habitID string) (Reward, error) {
	if uuid.Validate(userID) != nil {
		return rejected("Invalid user ID"), nil
	}
	if uuid.Validate(habitID) != nil {
		return rejected("Invalid habit ID"), nil
	}

	var reward Reward
	err := s.store.InTransaction(ctx, func(tx storage.Store) error {
		var err error
		reward, err = s.complete(ctx, tx, userID, habitID)
		if err != nil || !reward.Success {
			return rollbackOn(err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errRejected) {
		return Reward{}, errs.Internal("completing habit", err)
	}

	if reward.Success {
		s.log.WithField("user_id", userID).
			WithField("habit_id", habitID).
			WithField("xp_gained", reward.XPGained).
			WithField("new_streak", reward.NewStreak).
			Info("habit completed")
	}
	return reward, nil
}

// CanCompleteToday reports whether the habit still has a completion available
// for the current UTC day. Blank ids and query failures read as false.
func (s *Service) CanCompleteToday(ctx context.Context, habitID string) bool {
	if uuid.Validate(habitID) != nil {
		return false
	}
	done, err := s.store.CompletedOn(ctx, habitID, s.now())
	if err != nil {
		return false
	}
	return !done
}

// errRejected aborts the transaction for an expected rejection without
// surfacing an error to the caller.
var errRejected = errors.New("completion rejected")

func rollbackOn(err error) error {
	if err != nil {
		return err
	}
	return errRejected
}

func rejected(message string) Reward {
	return Reward{Success: false, Message: message}
}

func (s *Service) complete(ctx context.Context, tx storage.Store, userID, habitID string) (Reward, error) {
	now := s.now()

	h, err := tx.GetHabitForUser(ctx, habitID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return rejected("Habit not found or inactive"), nil
	}
	if err != nil {
		return Reward{}, err
	}
	if !h.IsActive {
		return rejected("Habit not found or inactive"), nil
	}

	done, err := tx.CompletedOn(ctx, h.ID, now)
	if err != nil {
		return Reward{}, err
	}
	if done {
		return rejected("Habit already completed today"), nil
	}

	u, err := tx.GetUser(ctx, userID)
	if err != nil {
		return Reward{}, err
	}

	xpGained := gamemath.XPForDifficulty(h.Difficulty)
	newTotal := u.TotalXP + xpGained
	newLevel := gamemath.LevelFromTotalXP(newTotal)
	leveledUp := newLevel > u.Level

	u.TotalXP = newTotal
	u.Level = newLevel
	u.XP = gamemath.XPWithinLevel(newTotal)

	// The streak continues from the last logged completion before today, not
	// from the habit row's display timestamp.
	last, err := tx.LastCompletionBefore(ctx, h.ID, now)
	if err != nil {
		return Reward{}, err
	}
	var lastDone *time.Time
	if last != nil {
		lastDone = &last.CompletedAt
	}
	newStreak := gamemath.NextStreak(h.CurrentStreak, lastDone, now)
	h.CurrentStreak = newStreak
	h.BestStreak = max(h.BestStreak, newStreak)
	completedAt := now
	h.LastCompletedAt = &completedAt

	if _, err := tx.CreateCompletion(ctx, habit.CompletionLog{HabitID: h.ID, CompletedAt: now}); err != nil {
		// The unique day index closes the race between CompletedOn and insert.
		if errors.Is(err, storage.ErrDuplicateCompletion) {
			return rejected("Habit already completed today"), nil
		}
		return Reward{}, err
	}
	if _, err := tx.UpdateUser(ctx, u); err != nil {
		return Reward{}, err
	}
	updated, err := tx.UpdateHabit(ctx, h)
	if err != nil {
		return Reward{}, err
	}

	message := fmt.Sprintf("You completed '%s' and earned %d XP!", h.Title, xpGained)
	if leveledUp {
		message = fmt.Sprintf("%s You reached level %d!", message, newLevel)
	}

	view := updated.AsView(false)
	return Reward{
		Success:      true,
		Message:      message,
		XPGained:     xpGained,
		LeveledUp:    leveledUp,
		NewLevel:     newLevel,
		NewXP:        u.XP,
		NewTotalXP:   newTotal,
		NewStreak:    newStreak,
		UpdatedHabit: &view,
	}, nil
}
