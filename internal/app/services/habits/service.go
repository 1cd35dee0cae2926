// Package habits manages the habit lifecycle: creation, updates, soft and
// permanent deletion, restoration, and the bulk variants of each.
package habits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/habitquest/service/internal/app/domain/habit"
	"github.com/habitquest/service/internal/app/storage"
	errs "github.com/habitquest/service/internal/errors"
	"github.com/habitquest/service/pkg/logger"
)

const (
	// MaxHabitsPerUser caps the number of active habits per user. Soft-deleted
	// habits do not count against it.
	MaxHabitsPerUser = 100

	// maxBulkSize caps how many habits a single bulk request may touch.
	maxBulkSize = 50

	maxTitleLen       = 200
	maxDescriptionLen = 1000

	// confirmationToken must be supplied, case-insensitively, to authorize a
	// permanent delete.
	confirmationToken = "DELETE"
)

// Service implements the habit lifecycle operations.
type Service struct {
	store storage.Store
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a habit lifecycle service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("habits")
	}
	return &Service{store: store, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// CreateInput is the payload for creating a habit.
type CreateInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Frequency   string `json:"frequency"`
	Difficulty  string `json:"difficulty"`
}

// UpdateInput is the payload for updating a habit. Nil fields keep their
// current value, so a request may change any subset.
type UpdateInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Frequency   *string `json:"frequency"`
	Difficulty  *string `json:"difficulty"`
}

// Create validates the input and stores a new active habit.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (habit.View, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return habit.View{}, errs.Validation("Habit title is required")
	}
	if len(title) > maxTitleLen {
		return habit.View{}, errs.Validation(fmt.Sprintf("Habit title cannot exceed %d characters", maxTitleLen))
	}
	description := strings.TrimSpace(in.Description)
	if len(description) > maxDescriptionLen {
		return habit.View{}, errs.Validation(fmt.Sprintf("Habit description cannot exceed %d characters", maxDescriptionLen))
	}
	frequency, err := habit.ParseFrequency(in.Frequency)
	if err != nil {
		return habit.View{}, errs.Validation("Invalid habit frequency")
	}
	difficulty, err := habit.ParseDifficulty(in.Difficulty)
	if err != nil {
		return habit.View{}, errs.Validation("Invalid habit difficulty")
	}

	count, err := s.store.CountActiveHabits(ctx, userID)
	if err != nil {
		return habit.View{}, errs.Internal("counting habits", err)
	}
	if count >= MaxHabitsPerUser {
		return habit.View{}, errs.BusinessRule(fmt.Sprintf("Maximum number of habits (%d) reached", MaxHabitsPerUser))
	}

	if taken, err := s.store.TitleExists(ctx, userID, title, ""); err != nil {
		return habit.View{}, errs.Internal("checking title", err)
	} else if taken {
		return habit.View{}, errs.BusinessRule("A habit with this title already exists")
	}

	created, err := s.store.CreateHabit(ctx, habit.Habit{
		UserID:      userID,
		Title:       title,
		Description: description,
		Frequency:   frequency,
		Difficulty:  difficulty,
		IsActive:    true,
	})
	if err != nil {
		return habit.View{}, errs.Internal("creating habit", err)
	}

	s.log.WithField("user_id", userID).WithField("habit_id", created.ID).Info("habit created")
	return created.AsView(true), nil
}

// Update changes an active habit's fields. Fields left nil in the input keep
// their current value; inactive habits must be restored before they can be
// edited. A request that changes nothing is a no-op.
func (s *Service) Update(ctx context.Context, userID, habitID string, in UpdateInput) (habit.View, error) {
	if uuid.Validate(habitID) != nil {
		return habit.View{}, errs.Validation("Invalid habit ID")
	}

	h, err := s.getOwned(ctx, userID, habitID)
	if err != nil {
		return habit.View{}, err
	}
	if !h.IsActive {
		return habit.View{}, errs.BusinessRule("Cannot update inactive habit")
	}

	changed := false
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return habit.View{}, errs.Validation("Habit title cannot be empty")
		}
		if len(title) > maxTitleLen {
			return habit.View{}, errs.Validation(fmt.Sprintf("Habit title cannot exceed %d characters", maxTitleLen))
		}
		if !strings.EqualFold(strings.TrimSpace(h.Title), title) {
			if taken, err := s.store.TitleExists(ctx, userID, title, h.ID); err != nil {
				return habit.View{}, errs.Internal("checking title", err)
			} else if taken {
				return habit.View{}, errs.BusinessRule("A habit with this title already exists")
			}
		}
		if title != h.Title {
			h.Title = title
			changed = true
		}
	}
	if in.Description != nil {
		description := strings.TrimSpace(*in.Description)
		if len(description) > maxDescriptionLen {
			return habit.View{}, errs.Validation(fmt.Sprintf("Habit description cannot exceed %d characters", maxDescriptionLen))
		}
		if description != h.Description {
			h.Description = description
			changed = true
		}
	}
	if in.Frequency != nil {
		frequency, err := habit.ParseFrequency(*in.Frequency)
		if err != nil {
			return habit.View{}, errs.Validation("Invalid habit frequency")
		}
		if frequency != h.Frequency {
			h.Frequency = frequency
			changed = true
		}
	}
	if in.Difficulty != nil {
		difficulty, err := habit.ParseDifficulty(*in.Difficulty)
		if err != nil {
			return habit.View{}, errs.Validation("Invalid habit difficulty")
		}
		if difficulty != h.Difficulty {
			h.Difficulty = difficulty
			changed = true
		}
	}

	if !changed {
		return s.view(ctx, h)
	}

	updated, err := s.store.UpdateHabit(ctx, h)
	if err != nil {
		return habit.View{}, errs.Internal("updating habit", err)
	}
	return s.view(ctx, updated)
}

// Get returns one of the user's habits.
func (s *Service) Get(ctx context.Context, userID, habitID string) (habit.View, error) {
	if uuid.Validate(habitID) != nil {
		return habit.View{}, errs.Validation("Invalid habit ID")
	}
	h, err := s.getOwned(ctx, userID, habitID)
	if err != nil {
		return habit.View{}, err
	}
	return s.view(ctx, h)
}

// List returns the user's habits, newest first. Soft-deleted habits are
// included only when includeInactive is set.
func (s *Service) List(ctx context.Context, userID string, includeInactive bool) ([]habit.View, error) {
	list, err := s.store.ListHabits(ctx, userID, includeInactive)
	if err != nil {
		return nil, errs.Internal("listing habits", err)
	}
	return s.views(ctx, list)
}

// ListDeleted returns the user's soft-deleted habits.
func (s *Service) ListDeleted(ctx context.Context, userID string) ([]habit.View, error) {
	list, err := s.store.ListInactiveHabits(ctx, userID)
	if err != nil {
		return nil, errs.Internal("listing deleted habits", err)
	}
	return s.views(ctx, list)
}

// SoftDelete deactivates a habit, keeping its history and streaks.
func (s *Service) SoftDelete(ctx context.Context, userID, habitID string) error {
	if uuid.Validate(habitID) != nil {
		return errs.Validation("Invalid habit ID")
	}
	h, err := s.getOwned(ctx, userID, habitID)
	if err != nil {
		return err
	}
	if !h.IsActive {
		return errs.BusinessRule("Habit is already deleted")
	}

	h.IsActive = false
	if _, err := s.store.UpdateHabit(ctx, h); err != nil {
		return errs.Internal("deleting habit", err)
	}
	s.log.WithField("user_id", userID).WithField("habit_id", habitID).Info("habit soft deleted")
	return nil
}

// Restore reactivates a soft-deleted habit, subject to the active habit cap.
func (s *Service) Restore(ctx context.Context, userID, habitID string) error {
	if uuid.Validate(habitID) != nil {
		return errs.Validation("Invalid habit ID")
	}
	h, err := s.getOwned(ctx, userID, habitID)
	if err != nil {
		return err
	}
	if h.IsActive {
		return errs.BusinessRule("Habit is already active")
	}

	count, err := s.store.CountActiveHabits(ctx, userID)
	if err != nil {
		return errs.Internal("counting habits", err)
	}
	if count >= MaxHabitsPerUser {
		return errs.BusinessRule(fmt.Sprintf("Maximum number of habits (%d) reached", MaxHabitsPerUser))
	}

	h.IsActive = true
	if _, err := s.store.UpdateHabit(ctx, h); err != nil {
		return errs.Internal("restoring habit", err)
	}
	s.log.WithField("user_id", userID).WithField("habit_id", habitID).Info("habit restored")
	return nil
}

// PermanentDeleteResult summarises a permanent delete.
type PermanentDeleteResult struct {
	Message            string `json:"message"`
	DeletedCompletions int    `json:"deleted_completions"`
}

// PermanentDelete removes a habit and all its completion logs. The caller
// must confirm with the DELETE token; works on active and soft-deleted
// habits alike.
func (s *Service) PermanentDelete(ctx context.Context, userID, habitID, confirmation string) (PermanentDeleteResult, error) {
	if uuid.Validate(habitID) != nil {
		return PermanentDeleteResult{}, errs.Validation("Invalid habit ID")
	}
	if !confirmed(confirmation) {
		return PermanentDeleteResult{}, errs.Validation("Permanent deletion must be confirmed with 'DELETE'")
	}

	var deletedCompletions int
	err := s.store.InTransaction(ctx, func(tx storage.Store) error {
		h, err := tx.GetHabitForUser(ctx, habitID, userID)
		if err != nil {
			return err
		}

		deletedCompletions, err = tx.DeleteCompletionsForHabits(ctx, []string{h.ID})
		if err != nil {
			return err
		}
		_, err = tx.DeleteHabits(ctx, []string{h.ID})
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return PermanentDeleteResult{}, errs.NotFound("Habit not found")
	}
	if err != nil {
		return PermanentDeleteResult{}, errs.Internal("permanently deleting habit", err)
	}

	s.log.WithField("user_id", userID).
		WithField("habit_id", habitID).
		WithField("deleted_completions", deletedCompletions).
		Info("habit permanently deleted")
	return PermanentDeleteResult{
		Message:            "Habit permanently deleted",
		DeletedCompletions: deletedCompletions,
	}, nil
}

// BulkDeleteInput selects habits for bulk deletion.
type BulkDeleteInput struct {
	HabitIDs         []string `json:"habit_ids"`
	IsPermanent      bool     `json:"is_permanent"`
	ConfirmationText string   `json:"confirmation_text"`
}

// BulkDeleteResult reports a bulk delete. NotFound lists the requested IDs
// that did not resolve to one of the user's habits.
type BulkDeleteResult struct {
	Message            string   `json:"message"`
	DeactivatedHabits  int      `json:"deactivated_habits,omitempty"`
	DeletedHabits      int      `json:"deleted_habits,omitempty"`
	DeletedCompletions int      `json:"deleted_completions,omitempty"`
	NotFound           []string `json:"not_found"`
}

// BulkDelete soft-deletes or permanently deletes up to maxBulkSize habits.
// IDs that do not belong to the user are skipped and reported, so a partial
// match still succeeds.
func (s *Service) BulkDelete(ctx context.Context, userID string, in BulkDeleteInput) (BulkDeleteResult, error) {
	if err := validateBulkIDs(in.HabitIDs, "delete"); err != nil {
		return BulkDeleteResult{}, err
	}
	if in.IsPermanent && !confirmed(in.ConfirmationText) {
		return BulkDeleteResult{}, errs.Validation("Permanent bulk deletion must be confirmed with 'DELETE'")
	}

	var result BulkDeleteResult
	err := s.store.InTransaction(ctx, func(tx storage.Store) error {
		habits, err := tx.GetHabitsByIDs(ctx, userID, in.HabitIDs)
		if err != nil {
			return err
		}
		if len(habits) == 0 {
			return storage.ErrNotFound
		}
		result.NotFound = missingIDs(in.HabitIDs, habits)

		if in.IsPermanent {
			ids := habitIDs(habits)
			result.DeletedCompletions, err = tx.DeleteCompletionsForHabits(ctx, ids)
			if err != nil {
				return err
			}
			result.DeletedHabits, err = tx.DeleteHabits(ctx, ids)
			if err != nil {
				return err
			}
			result.Message = fmt.Sprintf("Successfully deleted %d habits permanently", result.DeletedHabits)
			return nil
		}

		for _, h := range habits {
			h.IsActive = false
			if _, err := tx.UpdateHabit(ctx, h); err != nil {
				return err
			}
		}
		result.DeactivatedHabits = len(habits)
		result.Message = fmt.Sprintf("Successfully deactivated %d habits", len(habits))
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return BulkDeleteResult{}, errs.NotFound("No habits found to delete")
	}
	if err != nil {
		return BulkDeleteResult{}, errs.Internal("bulk deleting habits", err)
	}

	s.log.WithField("user_id", userID).
		WithField("permanent", in.IsPermanent).
		WithField("requested", len(in.HabitIDs)).
		WithField("not_found", len(result.NotFound)).
		Info("habits bulk deleted")
	return result, nil
}

// BulkRestoreResult reports a bulk restore.
type BulkRestoreResult struct {
	Message        string `json:"message"`
	RestoredHabits int    `json:"restored_habits"`
}

// BulkRestore reactivates up to maxBulkSize soft-deleted habits. The whole
// request is rejected when restoring would push the user over the active
// habit cap.
func (s *Service) BulkRestore(ctx context.Context, userID string, ids []string) (BulkRestoreResult, error) {
	if err := validateBulkIDs(ids, "restore"); err != nil {
		return BulkRestoreResult{}, err
	}

	var restored int
	err := s.store.InTransaction(ctx, func(tx storage.Store) error {
		count, err := tx.CountActiveHabits(ctx, userID)
		if err != nil {
			return err
		}

		habits, err := tx.GetHabitsByIDs(ctx, userID, ids)
		if err != nil {
			return err
		}
		toRestore := make([]habit.Habit, 0, len(habits))
		for _, h := range habits {
			if !h.IsActive {
				toRestore = append(toRestore, h)
			}
		}

		if count+len(toRestore) > MaxHabitsPerUser {
			return errCapExceeded
		}

		for _, h := range toRestore {
			h.IsActive = true
			if _, err := tx.UpdateHabit(ctx, h); err != nil {
				return err
			}
		}
		restored = len(toRestore)
		return nil
	})
	if errors.Is(err, errCapExceeded) {
		return BulkRestoreResult{}, errs.BusinessRule(fmt.Sprintf("Restoring these habits would exceed the maximum limit of %d active habits", MaxHabitsPerUser))
	}
	if err != nil {
		return BulkRestoreResult{}, errs.Internal("bulk restoring habits", err)
	}

	s.log.WithField("user_id", userID).WithField("restored", restored).Info("habits bulk restored")
	return BulkRestoreResult{
		Message:        fmt.Sprintf("Successfully restored %d habits", restored),
		RestoredHabits: restored,
	}, nil
}

var errCapExceeded = errors.New("active habit cap exceeded")

func (s *Service) getOwned(ctx context.Context, userID, habitID string) (habit.Habit, error) {
	h, err := s.store.GetHabitForUser(ctx, habitID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return habit.Habit{}, errs.NotFound("Habit not found")
	}
	if err != nil {
		return habit.Habit{}, errs.Internal("loading habit", err)
	}
	return h, nil
}

// view computes CanCompleteToday for one habit. Inactive habits can never be
// completed.
func (s *Service) view(ctx context.Context, h habit.Habit) (habit.View, error) {
	if !h.IsActive {
		return h.AsView(false), nil
	}
	done, err := s.store.CompletedOn(ctx, h.ID, s.now())
	if err != nil {
		return habit.View{}, errs.Internal("checking completion", err)
	}
	return h.AsView(!done), nil
}

func (s *Service) views(ctx context.Context, habits []habit.Habit) ([]habit.View, error) {
	result := make([]habit.View, 0, len(habits))
	for _, h := range habits {
		v, err := s.view(ctx, h)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

func confirmed(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), confirmationToken)
}

func validateBulkIDs(ids []string, verb string) error {
	if len(ids) == 0 {
		return errs.Validation("At least one habit ID is required")
	}
	if len(ids) > maxBulkSize {
		return errs.Validation(fmt.Sprintf("Cannot %s more than %d habits at once", verb, maxBulkSize))
	}
	for _, id := range ids {
		if uuid.Validate(id) != nil {
			return errs.Validation("All habit IDs must be valid")
		}
	}
	return nil
}

func missingIDs(requested []string, found []habit.Habit) []string {
	present := make(map[string]bool, len(found))
	for _, h := range found {
		present[h.ID] = true
	}
	missing := make([]string, 0)
	for _, id := range requested {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

func habitIDs(habits []habit.Habit) []string {
	ids := make([]string, 0, len(habits))
	for _, h := range habits {
		ids = append(ids, h.ID)
	}
	return ids
}
