// Package storage defines the persistence interfaces consumed by the service
// layer. Implementations live in the memory and postgres subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/habitquest/service/internal/app/domain/habit"
	"github.com/habitquest/service/internal/app/domain/user"
)

// ErrNotFound is wrapped by implementations when a record does not exist or
// is not visible to the requesting owner.
var ErrNotFound = errors.New("not found")

// ErrDuplicateCompletion is returned when inserting a completion log for a
// habit that already has one on the same UTC calendar day. The postgres store
// surfaces it from the (habit_id, day) unique index; the memory store checks
// explicitly.
var ErrDuplicateCompletion = errors.New("completion already recorded for this day")

// UserStore persists user records.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
}

// HabitStore persists habit records. All lookups are scoped to an owner; a
// habit owned by someone else behaves exactly like a missing habit.
type HabitStore interface {
	CreateHabit(ctx context.Context, h habit.Habit) (habit.Habit, error)
	UpdateHabit(ctx context.Context, h habit.Habit) (habit.Habit, error)
	GetHabitForUser(ctx context.Context, habitID, userID string) (habit.Habit, error)
	ListHabits(ctx context.Context, userID string, includeInactive bool) ([]habit.Habit, error)
	ListInactiveHabits(ctx context.Context, userID string) ([]habit.Habit, error)
	GetHabitsByIDs(ctx context.Context, userID string, habitIDs []string) ([]habit.Habit, error)
	CountActiveHabits(ctx context.Context, userID string) (int, error)
	// TitleExists reports a case-insensitive title collision among the owner's
	// active habits, ignoring excludeHabitID when non-empty.
	TitleExists(ctx context.Context, userID, title, excludeHabitID string) (bool, error)
	DeleteHabits(ctx context.Context, habitIDs []string) (int, error)
}

// CompletionStore persists completion logs.
type CompletionStore interface {
	CreateCompletion(ctx context.Context, log habit.CompletionLog) (habit.CompletionLog, error)
	// CompletedOn reports whether the habit has a log on the UTC calendar day
	// containing the given instant.
	CompletedOn(ctx context.Context, habitID string, day time.Time) (bool, error)
	// LastCompletionBefore returns the most recent log strictly before the UTC
	// calendar day containing the given instant, or nil.
	LastCompletionBefore(ctx context.Context, habitID string, day time.Time) (*habit.CompletionLog, error)
	ListCompletionsInRange(ctx context.Context, habitIDs []string, from, to time.Time) ([]habit.CompletionLog, error)
	CountCompletions(ctx context.Context, habitIDs []string) (int, error)
	DeleteCompletionsForHabits(ctx context.Context, habitIDs []string) (int, error)
}

// Store composes the persistence interfaces with a transaction runner. fn
// receives a Store bound to the transaction; returning an error rolls back
// every write made through it.
type Store interface {
	UserStore
	HabitStore
	CompletionStore
	InTransaction(ctx context.Context, fn func(Store) error) error
}
