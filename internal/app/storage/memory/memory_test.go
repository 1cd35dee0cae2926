package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/habitquest/service/internal/app/domain/habit"
	"github.com/habitquest/service/internal/app/domain/user"
	"github.com/habitquest/service/internal/app/storage"
)

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	created, err := s.CreateUser(ctx, user.User{Username: "alice", Email: "alice@example.com", Level: 1})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated user ID")
	}
	if created.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}

	got, err := s.GetUser(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Username != "alice" {
		t.Fatalf("unexpected username %q", got.Username)
	}

	byEmail, err := s.GetUserByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if byEmail.ID != created.ID {
		t.Fatalf("email lookup returned wrong user %s", byEmail.ID)
	}

	if ok, _ := s.EmailExists(ctx, "alice@example.com"); !ok {
		t.Fatal("expected email to exist")
	}
	if ok, _ := s.UsernameExists(ctx, "ALICE"); !ok {
		t.Fatal("expected username lookup to be case-insensitive")
	}

	created.TotalXP = 150
	if _, err := s.UpdateUser(ctx, created); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	got, _ = s.GetUser(ctx, created.ID)
	if got.TotalXP != 150 {
		t.Fatalf("expected TotalXP 150, got %d", got.TotalXP)
	}

	if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHabitOwnershipScoping(t *testing.T) {
	ctx := context.Background()
	s := New()

	owner, _ := s.CreateUser(ctx, user.User{Username: "owner", Email: "owner@example.com"})
	other, _ := s.CreateUser(ctx, user.User{Username: "other", Email: "other@example.com"})

	h, err := s.CreateHabit(ctx, habit.Habit{UserID: owner.ID, Title: "Read", IsActive: true})
	if err != nil {
		t.Fatalf("CreateHabit: %v", err)
	}

	if _, err := s.GetHabitForUser(ctx, h.ID, owner.ID); err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
	if _, err := s.GetHabitForUser(ctx, h.ID, other.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}

	got, _ := s.GetHabitsByIDs(ctx, other.ID, []string{h.ID})
	if len(got) != 0 {
		t.Fatalf("expected no habits for foreign owner, got %d", len(got))
	}
}

func TestListHabitsFiltersInactive(t *testing.T) {
	ctx := context.Background()
	s := New()

	u, _ := s.CreateUser(ctx, user.User{Username: "u", Email: "u@example.com"})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.CreateHabit(ctx, habit.Habit{UserID: u.ID, Title: "older", IsActive: true, CreatedAt: base})
	s.CreateHabit(ctx, habit.Habit{UserID: u.ID, Title: "newer", IsActive: true, CreatedAt: base.Add(time.Hour)})
	s.CreateHabit(ctx, habit.Habit{UserID: u.ID, Title: "gone", IsActive: false, CreatedAt: base.Add(2 * time.Hour)})

	active, _ := s.ListHabits(ctx, u.ID, false)
	if len(active) != 2 {
		t.Fatalf("expected 2 active habits, got %d", len(active))
	}
	if active[0].Title != "newer" {
		t.Fatalf("expected newest first, got %q", active[0].Title)
	}

	all, _ := s.ListHabits(ctx, u.ID, true)
	if len(all) != 3 {
		t.Fatalf("expected 3 habits, got %d", len(all))
	}

	inactive, _ := s.ListInactiveHabits(ctx, u.ID)
	if len(inactive) != 1 || inactive[0].Title != "gone" {
		t.Fatalf("unexpected inactive list %+v", inactive)
	}

	if n, _ := s.CountActiveHabits(ctx, u.ID); n != 2 {
		t.Fatalf("expected 2 active, got %d", n)
	}
}

func TestTitleExists(t *testing.T) {
	ctx := context.Background()
	s := New()

	u, _ := s.CreateUser(ctx, user.User{Username: "u", Email: "u@example.com"})
	h, _ := s.CreateHabit(ctx, habit.Habit{UserID: u.ID, Title: "Morning Run", IsActive: true})
	s.CreateHabit(ctx, habit.Habit{UserID: u.ID, Title: "Deleted Habit", IsActive: false})

	if ok, _ := s.TitleExists(ctx, u.ID, "  morning run ", ""); !ok {
		t.Fatal("expected case-insensitive trimmed match")
	}
	if ok, _ := s.TitleExists(ctx, u.ID, "Morning Run", h.ID); ok {
		t.Fatal("expected exclusion of the habit itself")
	}
	if ok, _ := s.TitleExists(ctx, u.ID, "Deleted Habit", ""); ok {
		t.Fatal("inactive habits must not count as collisions")
	}
	if ok, _ := s.TitleExists(ctx, "someone-else", "Morning Run", ""); ok {
		t.Fatal("titles are scoped per owner")
	}
}

func TestCompletionDayUniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()

	u, _ := s.CreateUser(ctx, user.User{Username: "u", Email: "u@example.com"})
	h, _ := s.CreateHabit(ctx, habit.Habit{UserID: u.ID, Title: "Read", IsActive: true})

	morning := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	if _, err := s.CreateCompletion(ctx, habit.CompletionLog{HabitID: h.ID, CompletedAt: morning}); err != nil {
		t.Fatalf("CreateCompletion: %v", err)
	}

	evening := morning.Add(10 * time.Hour)
	if _, err := s.CreateCompletion(ctx, habit.CompletionLog{HabitID: h.ID, CompletedAt: evening}); !errors.Is(err, storage.ErrDuplicateCompletion) {
		t.Fatalf("expected ErrDuplicateCompletion, got %v", err)
	}

	if ok, _ := s.CompletedOn(ctx, h.ID, evening); !ok {
		t.Fatal("expected CompletedOn true for same day")
	}
	nextDay := morning.AddDate(0, 0, 1)
	if ok, _ := s.CompletedOn(ctx, h.ID, nextDay); ok {
		t.Fatal("expected CompletedOn false for next day")
	}

	last, _ := s.LastCompletionBefore(ctx, h.ID, nextDay)
	if last == nil || !last.CompletedAt.Equal(morning) {
		t.Fatalf("unexpected last completion %+v", last)
	}
	if last, _ := s.LastCompletionBefore(ctx, h.ID, morning); last != nil {
		t.Fatalf("expected nil before first completion, got %+v", last)
	}
}

func TestCompletionRangeAndCleanup(t *testing.T) {
	ctx := context.Background()
	s := New()

	u, _ := s.CreateUser(ctx, user.User{Username: "u", Email: "u@example.com"})
	h1, _ := s.CreateHabit(ctx, habit.Habit{UserID: u.ID, Title: "a", IsActive: true})
	h2, _ := s.CreateHabit(ctx, habit.Habit{UserID: u.ID, Title: "b", IsActive: true})

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for day := 0; day < 5; day++ {
		s.CreateCompletion(ctx, habit.CompletionLog{HabitID: h1.ID, CompletedAt: base.AddDate(0, 0, day)})
	}
	s.CreateCompletion(ctx, habit.CompletionLog{HabitID: h2.ID, CompletedAt: base})

	from := base.AddDate(0, 0, 1).Truncate(24 * time.Hour)
	to := base.AddDate(0, 0, 4).Truncate(24 * time.Hour)
	logs, _ := s.ListCompletionsInRange(ctx, []string{h1.ID}, from, to)
	if len(logs) != 3 {
		t.Fatalf("expected 3 logs in range, got %d", len(logs))
	}

	if n, _ := s.CountCompletions(ctx, []string{h1.ID, h2.ID}); n != 6 {
		t.Fatalf("expected 6 completions, got %d", n)
	}

	deleted, _ := s.DeleteCompletionsForHabits(ctx, []string{h1.ID})
	if deleted != 5 {
		t.Fatalf("expected 5 deleted logs, got %d", deleted)
	}
	if n, _ := s.DeleteHabits(ctx, []string{h1.ID, "missing"}); n != 1 {
		t.Fatalf("expected 1 deleted habit, got %d", n)
	}
}

func TestInTransactionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()

	u, _ := s.CreateUser(ctx, user.User{Username: "u", Email: "u@example.com", Level: 1})

	boom := errors.New("boom")
	err := s.InTransaction(ctx, func(tx storage.Store) error {
		u.TotalXP = 500
		if _, err := tx.UpdateUser(ctx, u); err != nil {
			t.Fatalf("UpdateUser in tx: %v", err)
		}
		if _, err := tx.CreateHabit(ctx, habit.Habit{UserID: u.ID, Title: "ghost", IsActive: true}); err != nil {
			t.Fatalf("CreateHabit in tx: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := s.GetUser(ctx, u.ID)
	if got.TotalXP != 0 {
		t.Fatalf("rollback failed: TotalXP %d", got.TotalXP)
	}
	if n, _ := s.CountActiveHabits(ctx, u.ID); n != 0 {
		t.Fatalf("rollback failed: %d habits survived", n)
	}
}

func TestInTransactionCommits(t *testing.T) {
	ctx := context.Background()
	s := New()

	u, _ := s.CreateUser(ctx, user.User{Username: "u", Email: "u@example.com", Level: 1})

	err := s.InTransaction(ctx, func(tx storage.Store) error {
		u.TotalXP = 120
		u.Level = 2
		_, err := tx.UpdateUser(ctx, u)
		return err
	})
	if err != nil {
		t.Fatalf("InTransaction: %v", err)
	}

	got, _ := s.GetUser(ctx, u.ID)
	if got.Level != 2 || got.TotalXP != 120 {
		t.Fatalf("commit lost: level %d totalXP %d", got.Level, got.TotalXP)
	}
}
