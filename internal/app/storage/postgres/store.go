// Package postgres implements the storage interfaces backed by PostgreSQL
// through database/sql and the lib/pq driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/habitquest/service/internal/app/domain/habit"
	"github.com/habitquest/service/internal/app/domain/user"
	"github.com/habitquest/service/internal/app/storage"
)

// querier is the subset of *sql.DB and *sql.Tx the store needs. Store methods
// run against it, so one implementation serves both direct and transactional
// access.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements storage.Store backed by PostgreSQL. A Store created by New
// runs against the database handle; InTransaction hands the callback a Store
// bound to a transaction.
type Store struct {
	db *sql.DB // nil when bound to a transaction
	q  querier
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// uniqueViolation is the postgres error code raised by unique index conflicts.
const uniqueViolation = "23505"

const completionDayIndex = "uq_habit_completions_day"

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, level, xp, total_xp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Level, u.XP, u.TotalXP, u.CreatedAt)
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE users
		SET username = $2, email = $3, password_hash = $4, level = $5, xp = $6, total_xp = $7
		WHERE id = $1
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Level, u.XP, u.TotalXP)
	if err != nil {
		return user.User{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, notFound("user", u.ID)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, level, xp, total_xp, created_at
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, level, xp, total_xp, created_at
		FROM users
		WHERE lower(email) = lower($1)
	`, email)
	return scanUser(row, email)
}

func scanUser(row *sql.Row, key string) (user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Level, &u.XP, &u.TotalXP, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return user.User{}, notFound("user", key)
	}
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = lower($1))
	`, email).Scan(&exists)
	return exists, err
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE lower(username) = lower($1))
	`, username).Scan(&exists)
	return exists, err
}

// --- HabitStore -------------------------------------------------------------

const habitColumns = `id, user_id, title, description, frequency, difficulty,
	is_active, current_streak, best_streak, last_completed_at, created_at`

func (s *Store) CreateHabit(ctx context.Context, h habit.Habit) (habit.Habit, error) {
	if h.UserID == "" {
		return habit.Habit{}, errors.New("user_id required")
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO habits (id, user_id, title, description, frequency, difficulty,
			is_active, current_streak, best_streak, last_completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, h.ID, h.UserID, h.Title, h.Description, h.Frequency, h.Difficulty,
		h.IsActive, h.CurrentStreak, h.BestStreak, toNullTime(h.LastCompletedAt), h.CreatedAt)
	if err != nil {
		return habit.Habit{}, err
	}
	return h, nil
}

func (s *Store) UpdateHabit(ctx context.Context, h habit.Habit) (habit.Habit, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE habits
		SET title = $2, description = $3, frequency = $4, difficulty = $5,
			is_active = $6, current_streak = $7, best_streak = $8, last_completed_at = $9
		WHERE id = $1
	`, h.ID, h.Title, h.Description, h.Frequency, h.Difficulty,
		h.IsActive, h.CurrentStreak, h.BestStreak, toNullTime(h.LastCompletedAt))
	if err != nil {
		return habit.Habit{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return habit.Habit{}, notFound("habit", h.ID)
	}
	return h, nil
}

func (s *Store) GetHabitForUser(ctx context.Context, habitID, userID string) (habit.Habit, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+habitColumns+`
		FROM habits
		WHERE id = $1 AND user_id = $2
	`, habitID, userID)

	h, err := scanHabit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return habit.Habit{}, notFound("habit", habitID)
	}
	if err != nil {
		return habit.Habit{}, err
	}
	return h, nil
}

func (s *Store) ListHabits(ctx context.Context, userID string, includeInactive bool) ([]habit.Habit, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+habitColumns+`
		FROM habits
		WHERE user_id = $1 AND (is_active OR $2)
		ORDER BY created_at DESC
	`, userID, includeInactive)
	if err != nil {
		return nil, err
	}
	return collectHabits(rows)
}

func (s *Store) ListInactiveHabits(ctx context.Context, userID string) ([]habit.Habit, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+habitColumns+`
		FROM habits
		WHERE user_id = $1 AND NOT is_active
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectHabits(rows)
}

func (s *Store) GetHabitsByIDs(ctx context.Context, userID string, habitIDs []string) ([]habit.Habit, error) {
	if len(habitIDs) == 0 {
		return []habit.Habit{}, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+habitColumns+`
		FROM habits
		WHERE user_id = $1 AND id = ANY($2)
	`, userID, pq.Array(habitIDs))
	if err != nil {
		return nil, err
	}
	return collectHabits(rows)
}

func (s *Store) CountActiveHabits(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT count(*) FROM habits WHERE user_id = $1 AND is_active
	`, userID).Scan(&count)
	return count, err
}

func (s *Store) TitleExists(ctx context.Context, userID, title, excludeHabitID string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM habits
			WHERE user_id = $1 AND is_active
			  AND lower(trim(title)) = lower(trim($2))
			  AND ($3 = '' OR id <> $3)
		)
	`, userID, title, excludeHabitID).Scan(&exists)
	return exists, err
}

func (s *Store) DeleteHabits(ctx context.Context, habitIDs []string) (int, error) {
	if len(habitIDs) == 0 {
		return 0, nil
	}
	result, err := s.q.ExecContext(ctx, `
		DELETE FROM habits WHERE id = ANY($1)
	`, pq.Array(habitIDs))
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func scanHabit(row *sql.Row) (habit.Habit, error) {
	var (
		h             habit.Habit
		lastCompleted sql.NullTime
	)
	err := row.Scan(&h.ID, &h.UserID, &h.Title, &h.Description, &h.Frequency, &h.Difficulty,
		&h.IsActive, &h.CurrentStreak, &h.BestStreak, &lastCompleted, &h.CreatedAt)
	if err != nil {
		return habit.Habit{}, err
	}
	h.LastCompletedAt = fromNullTime(lastCompleted)
	return h, nil
}

func collectHabits(rows *sql.Rows) ([]habit.Habit, error) {
	defer rows.Close()

	result := make([]habit.Habit, 0)
	for rows.Next() {
		var (
			h             habit.Habit
			lastCompleted sql.NullTime
		)
		if err := rows.Scan(&h.ID, &h.UserID, &h.Title, &h.Description, &h.Frequency, &h.Difficulty,
			&h.IsActive, &h.CurrentStreak, &h.BestStreak, &lastCompleted, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.LastCompletedAt = fromNullTime(lastCompleted)
		result = append(result, h)
	}
	return result, rows.Err()
}

// --- CompletionStore --------------------------------------------------------

func (s *Store) CreateCompletion(ctx context.Context, log habit.CompletionLog) (habit.CompletionLog, error) {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CompletedAt.IsZero() {
		log.CompletedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO habit_completions (id, habit_id, completed_at)
		VALUES ($1, $2, $3)
	`, log.ID, log.HabitID, log.CompletedAt)
	if isCompletionDayConflict(err) {
		return habit.CompletionLog{}, storage.ErrDuplicateCompletion
	}
	if err != nil {
		return habit.CompletionLog{}, err
	}
	return log, nil
}

func isCompletionDayConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return string(pqErr.Code) == uniqueViolation && pqErr.Constraint == completionDayIndex
}

func (s *Store) CompletedOn(ctx context.Context, habitID string, day time.Time) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM habit_completions
			WHERE habit_id = $1
			  AND (completed_at AT TIME ZONE 'UTC')::date = ($2 AT TIME ZONE 'UTC')::date
		)
	`, habitID, day.UTC()).Scan(&exists)
	return exists, err
}

func (s *Store) LastCompletionBefore(ctx context.Context, habitID string, day time.Time) (*habit.CompletionLog, error) {
	var log habit.CompletionLog
	err := s.q.QueryRowContext(ctx, `
		SELECT id, habit_id, completed_at
		FROM habit_completions
		WHERE habit_id = $1
		  AND (completed_at AT TIME ZONE 'UTC')::date < ($2 AT TIME ZONE 'UTC')::date
		ORDER BY completed_at DESC
		LIMIT 1
	`, habitID, day.UTC()).Scan(&log.ID, &log.HabitID, &log.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

func (s *Store) ListCompletionsInRange(ctx context.Context, habitIDs []string, from, to time.Time) ([]habit.CompletionLog, error) {
	if len(habitIDs) == 0 {
		return []habit.CompletionLog{}, nil
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, habit_id, completed_at
		FROM habit_completions
		WHERE habit_id = ANY($1) AND completed_at >= $2 AND completed_at < $3
		ORDER BY completed_at
	`, pq.Array(habitIDs), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]habit.CompletionLog, 0)
	for rows.Next() {
		var log habit.CompletionLog
		if err := rows.Scan(&log.ID, &log.HabitID, &log.CompletedAt); err != nil {
			return nil, err
		}
		result = append(result, log)
	}
	return result, rows.Err()
}

func (s *Store) CountCompletions(ctx context.Context, habitIDs []string) (int, error) {
	if len(habitIDs) == 0 {
		return 0, nil
	}
	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT count(*) FROM habit_completions WHERE habit_id = ANY($1)
	`, pq.Array(habitIDs)).Scan(&count)
	return count, err
}

func (s *Store) DeleteCompletionsForHabits(ctx context.Context, habitIDs []string) (int, error) {
	if len(habitIDs) == 0 {
		return 0, nil
	}
	result, err := s.q.ExecContext(ctx, `
		DELETE FROM habit_completions WHERE habit_id = ANY($1)
	`, pq.Array(habitIDs))
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// --- transactions -----------------------------------------------------------

// InTransaction runs fn with a Store bound to a database transaction. A Store
// already inside a transaction reuses it, so nested calls join the outer
// transaction.
func (s *Store) InTransaction(ctx context.Context, fn func(storage.Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&Store{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
