package game

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/habitquest/service/internal/app/domain/habit"
	"github.com/habitquest/service/internal/app/domain/user"
	"github.com/habitquest/service/internal/app/storage/memory"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T) (*Service, *memory.Store, user.User, habit.Habit) {
	t.Helper()
	store := memory.New()
	svc := New(store, nil)
	svc.now = fixedNow

	ctx := context.Background()
	u, err := store.CreateUser(ctx, user.User{
		ID:       "3f6f4ac3-79c5-4b1e-9ce8-91b38a9efab1",
		Username: "tester",
		Email:    "tester@example.com",
		Level:    1,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	h, err := store.CreateHabit(ctx, habit.Habit{
		ID:         "6d1b9986-3f38-4f1f-9f1d-0f6f5f1d2a42",
		UserID:     u.ID,
		Title:      "Test Habit",
		Frequency:  habit.FrequencyDaily,
		Difficulty: habit.DifficultyMedium,
		IsActive:   true,
	})
	if err != nil {
		t.Fatalf("create habit: %v", err)
	}
	return svc, store, u, h
}

func TestCompleteHabitInvalidIDs(t *testing.T) {
	ctx := context.Background()
	svc, _, u, h := newFixture(t)

	reward, err := svc.CompleteHabit(ctx, "not-a-uuid", h.ID)
	if err != nil || reward.Success {
		t.Fatalf("expected rejection, got %+v, %v", reward, err)
	}
	if reward.Message != "Invalid user ID" {
		t.Fatalf("unexpected message %q", reward.Message)
	}

	reward, err = svc.CompleteHabit(ctx, u.ID, "not-a-uuid")
	if err != nil || reward.Success {
		t.Fatalf("expected rejection, got %+v, %v", reward, err)
	}
	if reward.Message != "Invalid habit ID" {
		t.Fatalf("unexpected message %q", reward.Message)
	}
}

func TestCompleteHabitNotFoundOrInactive(t *testing.T) {
	ctx := context.Background()
	svc, store, u, h := newFixture(t)

	reward, err := svc.CompleteHabit(ctx, u.ID, "ab0e7a51-9e5c-4f3e-8f68-df9f3b3d9a00")
	if err != nil {
		t.Fatalf("CompleteHabit: %v", err)
	}
	if reward.Success || reward.Message != "Habit not found or inactive" {
		t.Fatalf("unexpected reward %+v", reward)
	}

	h.IsActive = false
	if _, err := store.UpdateHabit(ctx, h); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	reward, err = svc.CompleteHabit(ctx, u.ID, h.ID)
	if err != nil {
		t.Fatalf("CompleteHabit: %v", err)
	}
	if reward.Success || reward.Message != "Habit not found or inactive" {
		t.Fatalf("unexpected reward %+v", reward)
	}
}

func TestCompleteHabitAwardsXP(t *testing.T) {
	ctx := context.Background()
	svc, store, u, h := newFixture(t)

	reward, err := svc.CompleteHabit(ctx, u.ID, h.ID)
	if err != nil {
		t.Fatalf("CompleteHabit: %v", err)
	}
	if !reward.Success {
		t.Fatalf("expected success, got %+v", reward)
	}
	if reward.XPGained != 10 || reward.NewTotalXP != 10 || reward.NewLevel != 1 || reward.NewStreak != 1 {
		t.Fatalf("unexpected reward %+v", reward)
	}
	if reward.LeveledUp {
		t.Fatal("10 XP must not level up a fresh user")
	}
	if reward.UpdatedHabit == nil || reward.UpdatedHabit.CanCompleteToday {
		t.Fatalf("unexpected updated habit %+v", reward.UpdatedHabit)
	}

	got, _ := store.GetUser(ctx, u.ID)
	if got.TotalXP != 10 || got.XP != 10 || got.Level != 1 {
		t.Fatalf("user not persisted: %+v", got)
	}
	gotHabit, _ := store.GetHabitForUser(ctx, h.ID, u.ID)
	if gotHabit.CurrentStreak != 1 || gotHabit.BestStreak != 1 {
		t.Fatalf("habit not persisted: %+v", gotHabit)
	}
	if gotHabit.LastCompletedAt == nil || !gotHabit.LastCompletedAt.Equal(fixedNow()) {
		t.Fatalf("last completed not recorded: %+v", gotHabit.LastCompletedAt)
	}
}

func TestCompleteHabitLevelUp(t *testing.T) {
	ctx := context.Background()
	svc, store, u, h := newFixture(t)

	u.XP = 90
	u.TotalXP = 90
	if _, err := store.UpdateUser(ctx, u); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	reward, err := svc.CompleteHabit(ctx, u.ID, h.ID)
	if err != nil {
		t.Fatalf("CompleteHabit: %v", err)
	}
	if !reward.Success || !reward.LeveledUp {
		t.Fatalf("expected level up, got %+v", reward)
	}
	if reward.NewLevel != 2 || reward.NewTotalXP != 100 || reward.NewXP != 0 {
		t.Fatalf("unexpected reward %+v", reward)
	}
	if !strings.Contains(reward.Message, "reached level 2") {
		t.Fatalf("message %q missing level up", reward.Message)
	}
}

func TestCompleteHabitAlreadyCompletedToday(t *testing.T) {
	ctx := context.Background()
	svc, store, u, h := newFixture(t)

	if _, err := svc.CompleteHabit(ctx, u.ID, h.ID); err != nil {
		t.Fatalf("first completion: %v", err)
	}

	reward, err := svc.CompleteHabit(ctx, u.ID, h.ID)
	if err != nil {
		t.Fatalf("CompleteHabit: %v", err)
	}
	if reward.Success || reward.Message != "Habit already completed today" {
		t.Fatalf("unexpected reward %+v", reward)
	}

	got, _ := store.GetUser(ctx, u.ID)
	if got.TotalXP != 10 {
		t.Fatalf("rejected completion must not change XP, got %d", got.TotalXP)
	}
}

func TestCompleteHabitStreakContinues(t *testing.T) {
	ctx := context.Background()
	svc, store, u, h := newFixture(t)

	yesterday := fixedNow().AddDate(0, 0, -1)
	if _, err := store.CreateCompletion(ctx, habit.CompletionLog{HabitID: h.ID, CompletedAt: yesterday}); err != nil {
		t.Fatalf("seed completion: %v", err)
	}
	h.CurrentStreak = 5
	h.BestStreak = 8
	h.LastCompletedAt = &yesterday
	if _, err := store.UpdateHabit(ctx, h); err != nil {
		t.Fatalf("seed habit: %v", err)
	}

	reward, err := svc.CompleteHabit(ctx, u.ID, h.ID)
	if err != nil {
		t.Fatalf("CompleteHabit: %v", err)
	}
	if reward.NewStreak != 6 {
		t.Fatalf("expected streak 6, got %d", reward.NewStreak)
	}
	got, _ := store.GetHabitForUser(ctx, h.ID, u.ID)
	if got.BestStreak != 8 {
		t.Fatalf("best streak must keep its record, got %d", got.BestStreak)
	}
}

func TestCompleteHabitStreakResetsAfterGap(t *testing.T) {
	ctx := context.Background()
	svc, store, u, h := newFixture(t)

	old := fixedNow().AddDate(0, 0, -3)
	if _, err := store.CreateCompletion(ctx, habit.CompletionLog{HabitID: h.ID, CompletedAt: old}); err != nil {
		t.Fatalf("seed completion: %v", err)
	}
	h.CurrentStreak = 5
	h.BestStreak = 5
	h.LastCompletedAt = &old
	if _, err := store.UpdateHabit(ctx, h); err != nil {
		t.Fatalf("seed habit: %v", err)
	}

	reward, err := svc.CompleteHabit(ctx, u.ID, h.ID)
	if err != nil {
		t.Fatalf("CompleteHabit: %v", err)
	}
	if reward.NewStreak != 1 {
		t.Fatalf("expected streak reset, got %d", reward.NewStreak)
	}
	got, _ := store.GetHabitForUser(ctx, h.ID, u.ID)
	if got.BestStreak != 5 {
		t.Fatalf("best streak must survive a reset, got %d", got.BestStreak)
	}
}

func TestCompleteHabitStreakFollowsCompletionLog(t *testing.T) {
	ctx := context.Background()
	svc, store, u, h := newFixture(t)

	// Yesterday's completion log drives the streak even when the habit row
	// carries no last-completed timestamp.
	yesterday := fixedNow().AddDate(0, 0, -1)
	if _, err := store.CreateCompletion(ctx, habit.CompletionLog{HabitID: h.ID, CompletedAt: yesterday}); err != nil {
		t.Fatalf("seed completion: %v", err)
	}
	h.CurrentStreak = 3
	if _, err := store.UpdateHabit(ctx, h); err != nil {
		t.Fatalf("seed habit: %v", err)
	}

	reward, err := svc.CompleteHabit(ctx, u.ID, h.ID)
	if err != nil {
		t.Fatalf("CompleteHabit: %v", err)
	}
	if reward.NewStreak != 4 {
		t.Fatalf("expected streak 4 from yesterday's log, got %d", reward.NewStreak)
	}
}

func TestCanCompleteToday(t *testing.T) {
	ctx := context.Background()
	svc, _, u, h := newFixture(t)

	if !svc.CanCompleteToday(ctx, h.ID) {
		t.Fatal("fresh habit must be completable")
	}
	if svc.CanCompleteToday(ctx, "not-a-uuid") {
		t.Fatal("invalid id must read as not completable")
	}

	if _, err := svc.CompleteHabit(ctx, u.ID, h.ID); err != nil {
		t.Fatalf("CompleteHabit: %v", err)
	}
	if svc.CanCompleteToday(ctx, h.ID) {
		t.Fatal("completed habit must not be completable again today")
	}
}
