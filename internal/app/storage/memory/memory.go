// Package memory provides a thread-safe in-memory implementation of the
// storage interfaces. It is intended for tests, prototyping, and running the
// server without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/habitquest/service/internal/app/domain/habit"
	"github.com/habitquest/service/internal/app/domain/user"
	"github.com/habitquest/service/internal/app/storage"
)

// Store keeps all records in maps behind a single mutex. Transactions clone
// the dataset, apply writes to the clone, and swap it back in on success, so
// a failed transaction leaves no trace.
type Store struct {
	mu   sync.RWMutex
	data *dataset
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{data: newDataset()}
}

type dataset struct {
	users       map[string]user.User
	habits      map[string]habit.Habit
	completions map[string]habit.CompletionLog
}

func newDataset() *dataset {
	return &dataset{
		users:       make(map[string]user.User),
		habits:      make(map[string]habit.Habit),
		completions: make(map[string]habit.CompletionLog),
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for id, u := range d.users {
		c.users[id] = u
	}
	for id, h := range d.habits {
		c.habits[id] = h
	}
	for id, l := range d.completions {
		c.completions[id] = l
	}
	return c
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.createUser(u)
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.updateUser(u)
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getUser(id)
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getUserByEmail(email)
}

func (s *Store) EmailExists(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.emailExists(email), nil
}

func (s *Store) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.usernameExists(username), nil
}

// HabitStore implementation ---------------------------------------------------

func (s *Store) CreateHabit(_ context.Context, h habit.Habit) (habit.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.createHabit(h)
}

func (s *Store) UpdateHabit(_ context.Context, h habit.Habit) (habit.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.updateHabit(h)
}

func (s *Store) GetHabitForUser(_ context.Context, habitID, userID string) (habit.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getHabitForUser(habitID, userID)
}

func (s *Store) ListHabits(_ context.Context, userID string, includeInactive bool) ([]habit.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listHabits(userID, includeInactive), nil
}

func (s *Store) ListInactiveHabits(_ context.Context, userID string) ([]habit.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listInactiveHabits(userID), nil
}

func (s *Store) GetHabitsByIDs(_ context.Context, userID string, habitIDs []string) ([]habit.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getHabitsByIDs(userID, habitIDs), nil
}

func (s *Store) CountActiveHabits(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.countActiveHabits(userID), nil
}

func (s *Store) TitleExists(_ context.Context, userID, title, excludeHabitID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.titleExists(userID, title, excludeHabitID), nil
}

func (s *Store) DeleteHabits(_ context.Context, habitIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.deleteHabits(habitIDs), nil
}

// CompletionStore implementation ----------------------------------------------

func (s *Store) CreateCompletion(_ context.Context, log habit.CompletionLog) (habit.CompletionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.createCompletion(log)
}

func (s *Store) CompletedOn(_ context.Context, habitID string, day time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.completedOn(habitID, day), nil
}

func (s *Store) LastCompletionBefore(_ context.Context, habitID string, day time.Time) (*habit.CompletionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.lastCompletionBefore(habitID, day), nil
}

func (s *Store) ListCompletionsInRange(_ context.Context, habitIDs []string, from, to time.Time) ([]habit.CompletionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listCompletionsInRange(habitIDs, from, to), nil
}

func (s *Store) CountCompletions(_ context.Context, habitIDs []string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.countCompletions(habitIDs), nil
}

func (s *Store) DeleteCompletionsForHabits(_ context.Context, habitIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.deleteCompletionsForHabits(habitIDs), nil
}

// InTransaction runs fn against a clone of the dataset under the write lock.
// The clone replaces the live dataset only when fn succeeds.
func (s *Store) InTransaction(_ context.Context, fn func(storage.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.data.clone()
	if err := fn(&txStore{data: working}); err != nil {
		return err
	}
	s.data = working
	return nil
}

// txStore serves a single transaction. The outer store holds the write lock
// for the whole transaction, so no further locking is needed here.
type txStore struct {
	data *dataset
}

func (t *txStore) CreateUser(_ context.Context, u user.User) (user.User, error) {
	return t.data.createUser(u)
}

func (t *txStore) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	return t.data.updateUser(u)
}

func (t *txStore) GetUser(_ context.Context, id string) (user.User, error) {
	return t.data.getUser(id)
}

func (t *txStore) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	return t.data.getUserByEmail(email)
}

func (t *txStore) EmailExists(_ context.Context, email string) (bool, error) {
	return t.data.emailExists(email), nil
}

func (t *txStore) UsernameExists(_ context.Context, username string) (bool, error) {
	return t.data.usernameExists(username), nil
}

func (t *txStore) CreateHabit(_ context.Context, h habit.Habit) (habit.Habit, error) {
	return t.data.createHabit(h)
}

func (t *txStore) UpdateHabit(_ context.Context, h habit.Habit) (habit.Habit, error) {
	return t.data.updateHabit(h)
}

func (t *txStore) GetHabitForUser(_ context.Context, habitID, userID string) (habit.Habit, error) {
	return t.data.getHabitForUser(habitID, userID)
}

func (t *txStore) ListHabits(_ context.Context, userID string, includeInactive bool) ([]habit.Habit, error) {
	return t.data.listHabits(userID, includeInactive), nil
}

func (t *txStore) ListInactiveHabits(_ context.Context, userID string) ([]habit.Habit, error) {
	return t.data.listInactiveHabits(userID), nil
}

func (t *txStore) GetHabitsByIDs(_ context.Context, userID string, habitIDs []string) ([]habit.Habit, error) {
	return t.data.getHabitsByIDs(userID, habitIDs), nil
}

func (t *txStore) CountActiveHabits(_ context.Context, userID string) (int, error) {
	return t.data.countActiveHabits(userID), nil
}

func (t *txStore) TitleExists(_ context.Context, userID, title, excludeHabitID string) (bool, error) {
	return t.data.titleExists(userID, title, excludeHabitID), nil
}

func (t *txStore) DeleteHabits(_ context.Context, habitIDs []string) (int, error) {
	return t.data.deleteHabits(habitIDs), nil
}

func (t *txStore) CreateCompletion(_ context.Context, log habit.CompletionLog) (habit.CompletionLog, error) {
	return t.data.createCompletion(log)
}

func (t *txStore) CompletedOn(_ context.Context, habitID string, day time.Time) (bool, error) {
	return t.data.completedOn(habitID, day), nil
}

func (t *txStore) LastCompletionBefore(_ context.Context, habitID string, day time.Time) (*habit.CompletionLog, error) {
	return t.data.lastCompletionBefore(habitID, day), nil
}

func (t *txStore) ListCompletionsInRange(_ context.Context, habitIDs []string, from, to time.Time) ([]habit.CompletionLog, error) {
	return t.data.listCompletionsInRange(habitIDs, from, to), nil
}

func (t *txStore) CountCompletions(_ context.Context, habitIDs []string) (int, error) {
	return t.data.countCompletions(habitIDs), nil
}

func (t *txStore) DeleteCompletionsForHabits(_ context.Context, habitIDs []string) (int, error) {
	return t.data.deleteCompletionsForHabits(habitIDs), nil
}

// Nested transactions join the enclosing one: the same working dataset is
// reused, and an inner error aborts the whole transaction.
func (t *txStore) InTransaction(_ context.Context, fn func(storage.Store) error) error {
	return fn(t)
}

// dataset operations ----------------------------------------------------------

func (d *dataset) createUser(u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	} else if _, exists := d.users[u.ID]; exists {
		return user.User{}, fmt.Errorf("user %s already exists", u.ID)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	d.users[u.ID] = u
	return u, nil
}

func (d *dataset) updateUser(u user.User) (user.User, error) {
	original, ok := d.users[u.ID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}
	u.CreatedAt = original.CreatedAt
	d.users[u.ID] = u
	return u, nil
}

func (d *dataset) getUser(id string) (user.User, error) {
	u, ok := d.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (d *dataset) getUserByEmail(email string) (user.User, error) {
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return user.User{}, fmt.Errorf("user with email %s: %w", email, storage.ErrNotFound)
}

func (d *dataset) emailExists(email string) bool {
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (d *dataset) usernameExists(username string) bool {
	for _, u := range d.users {
		if strings.EqualFold(u.Username, username) {
			return true
		}
	}
	return false
}

func (d *dataset) createHabit(h habit.Habit) (habit.Habit, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	} else if _, exists := d.habits[h.ID]; exists {
		return habit.Habit{}, fmt.Errorf("habit %s already exists", h.ID)
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	d.habits[h.ID] = h
	return h, nil
}

func (d *dataset) updateHabit(h habit.Habit) (habit.Habit, error) {
	original, ok := d.habits[h.ID]
	if !ok {
		return habit.Habit{}, fmt.Errorf("habit %s: %w", h.ID, storage.ErrNotFound)
	}
	h.UserID = original.UserID
	h.CreatedAt = original.CreatedAt
	d.habits[h.ID] = h
	return h, nil
}

func (d *dataset) getHabitForUser(habitID, userID string) (habit.Habit, error) {
	h, ok := d.habits[habitID]
	if !ok || h.UserID != userID {
		return habit.Habit{}, fmt.Errorf("habit %s: %w", habitID, storage.ErrNotFound)
	}
	return h, nil
}

func (d *dataset) listHabits(userID string, includeInactive bool) []habit.Habit {
	result := make([]habit.Habit, 0)
	for _, h := range d.habits {
		if h.UserID != userID {
			continue
		}
		if !includeInactive && !h.IsActive {
			continue
		}
		result = append(result, h)
	}
	sortHabits(result)
	return result
}

func (d *dataset) listInactiveHabits(userID string) []habit.Habit {
	result := make([]habit.Habit, 0)
	for _, h := range d.habits {
		if h.UserID == userID && !h.IsActive {
			result = append(result, h)
		}
	}
	sortHabits(result)
	return result
}

func (d *dataset) getHabitsByIDs(userID string, habitIDs []string) []habit.Habit {
	result := make([]habit.Habit, 0, len(habitIDs))
	seen := make(map[string]bool, len(habitIDs))
	for _, id := range habitIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if h, ok := d.habits[id]; ok && h.UserID == userID {
			result = append(result, h)
		}
	}
	return result
}

func (d *dataset) countActiveHabits(userID string) int {
	count := 0
	for _, h := range d.habits {
		if h.UserID == userID && h.IsActive {
			count++
		}
	}
	return count
}

func (d *dataset) titleExists(userID, title, excludeHabitID string) bool {
	want := strings.TrimSpace(title)
	for _, h := range d.habits {
		if h.UserID != userID || !h.IsActive || h.ID == excludeHabitID {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(h.Title), want) {
			return true
		}
	}
	return false
}

func (d *dataset) deleteHabits(habitIDs []string) int {
	deleted := 0
	for _, id := range habitIDs {
		if _, ok := d.habits[id]; ok {
			delete(d.habits, id)
			deleted++
		}
	}
	return deleted
}

func (d *dataset) createCompletion(log habit.CompletionLog) (habit.CompletionLog, error) {
	if log.CompletedAt.IsZero() {
		log.CompletedAt = time.Now().UTC()
	}
	if d.completedOn(log.HabitID, log.CompletedAt) {
		return habit.CompletionLog{}, storage.ErrDuplicateCompletion
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	d.completions[log.ID] = log
	return log, nil
}

func (d *dataset) completedOn(habitID string, day time.Time) bool {
	want := toUTCDate(day)
	for _, l := range d.completions {
		if l.HabitID == habitID && toUTCDate(l.CompletedAt).Equal(want) {
			return true
		}
	}
	return false
}

func (d *dataset) lastCompletionBefore(habitID string, day time.Time) *habit.CompletionLog {
	cutoff := toUTCDate(day)
	var latest *habit.CompletionLog
	for _, l := range d.completions {
		if l.HabitID != habitID || !toUTCDate(l.CompletedAt).Before(cutoff) {
			continue
		}
		if latest == nil || l.CompletedAt.After(latest.CompletedAt) {
			cp := l
			latest = &cp
		}
	}
	return latest
}

func (d *dataset) listCompletionsInRange(habitIDs []string, from, to time.Time) []habit.CompletionLog {
	ids := make(map[string]bool, len(habitIDs))
	for _, id := range habitIDs {
		ids[id] = true
	}
	result := make([]habit.CompletionLog, 0)
	for _, l := range d.completions {
		if !ids[l.HabitID] {
			continue
		}
		if l.CompletedAt.Before(from) || !l.CompletedAt.Before(to) {
			continue
		}
		result = append(result, l)
	}
	return result
}

func (d *dataset) countCompletions(habitIDs []string) int {
	ids := make(map[string]bool, len(habitIDs))
	for _, id := range habitIDs {
		ids[id] = true
	}
	count := 0
	for _, l := range d.completions {
		if ids[l.HabitID] {
			count++
		}
	}
	return count
}

func (d *dataset) deleteCompletionsForHabits(habitIDs []string) int {
	ids := make(map[string]bool, len(habitIDs))
	for _, id := range habitIDs {
		ids[id] = true
	}
	deleted := 0
	for logID, l := range d.completions {
		if ids[l.HabitID] {
			delete(d.completions, logID)
			deleted++
		}
	}
	return deleted
}

// sortHabits orders newest first, matching the postgres ORDER BY created_at DESC.
func sortHabits(habits []habit.Habit) {
	sort.Slice(habits, func(i, j int) bool {
		return habits[i].CreatedAt.After(habits[j].CreatedAt)
	})
}

func toUTCDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
