package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sakif/mentor-app/internal/apperror"
	"github.com/sakif/mentor-app/internal/model"
)

func newTestGamificationService(t *testing.T) (*GamificationService, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewGamificationService(store, logger), store
}

func intPtr(n int) *int { return &n }

// =========================================================================
// UpdateProgress TESTS
// =========================================================================

func TestUpdateProgress_Validation(t *testing.T) {
	svc, store := newTestGamificationService(t)
	user := store.addUser("val", model.RoleStudent, 0)

	tests := []struct {
		name          string
		achievementID string
		progress      *int
	}{
		{"missing progress", "ach-missing", nil},
		{"negative progress", "ach-missing", intPtr(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Validation happens before the achievement lookup, so an
			// unknown achievement still reports a validation error.
			_, err := svc.UpdateProgress(context.Background(), user.ID, tt.achievementID, tt.progress)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("UpdateProgress() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestUpdateProgress_AchievementNotFound(t *testing.T) {
	svc, store := newTestGamificationService(t)
	user := store.addUser("nf", model.RoleStudent, 0)

	_, err := svc.UpdateProgress(context.Background(), user.ID, "nope", intPtr(1))
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdateProgress() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateProgress_ScenarioA(t *testing.T) {
	svc, store := newTestGamificationService(t)
	ctx := context.Background()
	user := store.addUser("alice", model.RoleStudent, 0)
	a := store.addAchievement(5, 50, "")

	steps := []struct {
		reported      int
		wantProgress  int
		wantCompleted bool
		wantXP        int
	}{
		{3, 3, false, 0},
		{5, 5, true, 50},
		{5, 5, true, 0},
	}

	for i, step := range steps {
		res, err := svc.UpdateProgress(ctx, user.ID, a.ID, intPtr(step.reported))
		if err != nil {
			t.Fatalf("step %d: UpdateProgress() error = %v", i, err)
		}
		if res.Progress != step.wantProgress || res.Completed != step.wantCompleted || res.XPAwarded != step.wantXP {
			t.Errorf("step %d: got {progress:%d completed:%v xpAwarded:%d}, want {%d %v %d}",
				i, res.Progress, res.Completed, res.XPAwarded,
				step.wantProgress, step.wantCompleted, step.wantXP)
		}
	}

	if got := store.user(user.ID).XP; got != 50 {
		t.Errorf("user XP = %d, want 50", got)
	}
}

func TestUpdateProgress_ClampsToMax(t *testing.T) {
	svc, store := newTestGamificationService(t)
	user := store.addUser("clamp", model.RoleStudent, 0)
	a := store.addAchievement(5, 10, "")

	res, err := svc.UpdateProgress(context.Background(), user.ID, a.ID, intPtr(42))
	if err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
	if res.Progress != 5 || !res.Completed {
		t.Errorf("got progress %d completed %v, want 5 true", res.Progress, res.Completed)
	}
	if res.DateCompleted == nil {
		t.Error("DateCompleted not set on completion")
	}
}

func TestUpdateProgress_ScenarioB_BadgeGrantedOnce(t *testing.T) {
	svc, store := newTestGamificationService(t)
	ctx := context.Background()
	user := store.addUser("bob", model.RoleStudent, 0)
	badge := store.addBadge("Finisher", 50)
	a := store.addAchievement(2, 30, badge.ID)

	// Complete, drop back below max, then reach max again.
	for _, p := range []int{2, 1, 2, 2} {
		if _, err := svc.UpdateProgress(ctx, user.ID, a.ID, intPtr(p)); err != nil {
			t.Fatalf("UpdateProgress(%d) error = %v", p, err)
		}
	}

	if n := store.grantCount(user.ID, badge.ID); n != 1 {
		t.Errorf("badge grants = %d, want 1", n)
	}
	if xp := store.user(user.ID).XP; xp != 30 {
		t.Errorf("XP = %d, want 30 (awarded once)", xp)
	}

	ua, _ := store.GetUserAchievement(ctx, user.ID, a.ID)
	if !ua.Completed {
		t.Error("completed flag reverted after a lower report")
	}

	profile, err := svc.GetProfile(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	count := 0
	for _, b := range profile.Badges {
		if b.ID == badge.ID {
			count++
		}
	}
	if count != 1 {
		t.Errorf("badge listed %d times in profile, want 1", count)
	}
}

func TestUpdateProgress_BadgeAlreadyHeld(t *testing.T) {
	svc, store := newTestGamificationService(t)
	ctx := context.Background()
	user := store.addUser("holder", model.RoleStudent, 0)
	badge := store.addBadge("Shared", 50)
	first := store.addAchievement(1, 10, badge.ID)
	second := store.addAchievement(1, 10, badge.ID)

	for _, a := range []model.Achievement{first, second} {
		if _, err := svc.UpdateProgress(ctx, user.ID, a.ID, intPtr(1)); err != nil {
			t.Fatalf("UpdateProgress() error = %v", err)
		}
	}

	if n := store.grantCount(user.ID, badge.ID); n != 1 {
		t.Errorf("badge grants = %d, want 1", n)
	}
	if xp := store.user(user.ID).XP; xp != 20 {
		t.Errorf("XP = %d, want 20", xp)
	}
}

func TestUpdateProgress_LevelUp(t *testing.T) {
	tests := []struct {
		name      string
		startXP   int
		reward    int
		wantLevel int
		wantUp    bool
	}{
		{"no threshold crossed", 10, 20, 1, false},
		{"one threshold crossed", 90, 20, 2, true},
		{"two thresholds crossed gains one level", 90, 260, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestGamificationService(t)
			user := store.addUser("lvl", model.RoleStudent, tt.startXP)
			a := store.addAchievement(1, tt.reward, "")

			res, err := svc.UpdateProgress(context.Background(), user.ID, a.ID, intPtr(1))
			if err != nil {
				t.Fatalf("UpdateProgress() error = %v", err)
			}
			if res.LevelUp != tt.wantUp {
				t.Errorf("LevelUp = %v, want %v", res.LevelUp, tt.wantUp)
			}
			if res.Level != tt.wantLevel {
				t.Errorf("Level = %d, want %d", res.Level, tt.wantLevel)
			}
			if got := store.user(user.ID); got.Level != tt.wantLevel || got.XP != tt.startXP+tt.reward {
				t.Errorf("stored level/xp = %d/%d, want %d/%d", got.Level, got.XP, tt.wantLevel, tt.startXP+tt.reward)
			}
		})
	}
}

func TestUpdateProgress_UserNotFoundOnCompletion(t *testing.T) {
	svc, store := newTestGamificationService(t)
	a := store.addAchievement(1, 10, "")

	_, err := svc.UpdateProgress(context.Background(), "ghost", a.ID, intPtr(1))
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("UpdateProgress() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateProgress_SaveFailure(t *testing.T) {
	svc, store := newTestGamificationService(t)
	user := store.addUser("fail", model.RoleStudent, 0)
	a := store.addAchievement(3, 10, "")
	store.saveProgErr = errors.New("disk full")

	_, err := svc.UpdateProgress(context.Background(), user.ID, a.ID, intPtr(1))
	if err == nil {
		t.Fatal("UpdateProgress() succeeded, want error")
	}
	if errors.Is(err, apperror.ErrValidation) || errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want an internal error", err)
	}
}

func TestUpdateProgress_ConcurrentCompletionsKeepAllXP(t *testing.T) {
	svc, store := newTestGamificationService(t)
	user := store.addUser("busy", model.RoleStudent, 0)

	const n = 20
	ids := make([]string, n)
	for i := range ids {
		ids[i] = store.addAchievement(1, 10, "").ID
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.UpdateProgress(context.Background(), user.ID, id, intPtr(1)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	if xp := store.user(user.ID).XP; xp != n*10 {
		t.Errorf("XP = %d, want %d", xp, n*10)
	}
}

// =========================================================================
// GetProfile TESTS
// =========================================================================

func TestGetProfile(t *testing.T) {
	svc, store := newTestGamificationService(t)
	ctx := context.Background()
	store.addUser("top", model.RoleStudent, 500)
	user := store.addUser("mid", model.RoleStudent, 40)
	store.addUser("low", model.RoleStudent, 5)
	a := store.addAchievement(4, 10, "")

	if _, err := svc.UpdateProgress(ctx, user.ID, a.ID, intPtr(2)); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	p, err := svc.GetProfile(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if p.Level != 1 || p.XP != 40 {
		t.Errorf("level/xp = %d/%d, want 1/40", p.Level, p.XP)
	}
	if p.NextLevelXP == nil || *p.NextLevelXP != 100 {
		t.Errorf("NextLevelXP = %v, want 100", p.NextLevelXP)
	}
	if p.Rank != 2 {
		t.Errorf("Rank = %d, want 2", p.Rank)
	}
	if len(p.Achievements) != 1 || p.Achievements[0].Progress != 2 {
		t.Errorf("Achievements = %+v", p.Achievements)
	}
	if p.Badges == nil {
		t.Error("Badges is nil, want empty slice")
	}
}

func TestGetProfile_TopLevelHasNoNext(t *testing.T) {
	svc, store := newTestGamificationService(t)
	user := store.addUser("max", model.RoleStudent, 900)
	store.mu.Lock()
	store.users[user.ID].Level = 3
	store.mu.Unlock()

	p, err := svc.GetProfile(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if p.NextLevelXP != nil {
		t.Errorf("NextLevelXP = %d, want nil", *p.NextLevelXP)
	}
}

func TestGetProfile_NotFound(t *testing.T) {
	svc, _ := newTestGamificationService(t)

	_, err := svc.GetProfile(context.Background(), "ghost")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetProfile() error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// GetLeaderboard TESTS
// =========================================================================

func seedTwelve(store *fakeStore) {
	for i := 1; i <= 12; i++ {
		store.addUser(fmt.Sprintf("user%02d", i), model.RoleStudent, i*10)
	}
}

func TestGetLeaderboard_ScenarioC(t *testing.T) {
	svc, store := newTestGamificationService(t)
	seedTwelve(store)

	lb, err := svc.GetLeaderboard(context.Background(), 5, 1, "")
	if err != nil {
		t.Fatalf("GetLeaderboard() error = %v", err)
	}
	if len(lb.Entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(lb.Entries))
	}
	for i, e := range lb.Entries {
		if e.Rank != i+1 {
			t.Errorf("entries[%d].Rank = %d, want %d", i, e.Rank, i+1)
		}
		if wantXP := (12 - i) * 10; e.XP != wantXP {
			t.Errorf("entries[%d].XP = %d, want %d", i, e.XP, wantXP)
		}
	}
	want := Pagination{Total: 12, Page: 1, Limit: 5, Pages: 3}
	if lb.Pagination != want {
		t.Errorf("Pagination = %+v, want %+v", lb.Pagination, want)
	}
}

func TestGetLeaderboard_LastPage(t *testing.T) {
	svc, store := newTestGamificationService(t)
	seedTwelve(store)

	lb, err := svc.GetLeaderboard(context.Background(), 5, 3, TimeframeAllTime)
	if err != nil {
		t.Fatalf("GetLeaderboard() error = %v", err)
	}
	if len(lb.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(lb.Entries))
	}
	if lb.Entries[0].Rank != 11 || lb.Entries[1].Rank != 12 {
		t.Errorf("ranks = %d, %d, want 11, 12", lb.Entries[0].Rank, lb.Entries[1].Rank)
	}
}

func TestGetLeaderboard_Defaults(t *testing.T) {
	svc, store := newTestGamificationService(t)
	seedTwelve(store)

	tests := []struct {
		name             string
		limit, page      int
		wantLimit, wantP int
	}{
		{"zero values use defaults", 0, 0, DefaultLeaderboardLimit, 1},
		{"limit capped", 500, 1, MaxLeaderboardLimit, 1},
		{"negative page", 5, -3, 5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lb, err := svc.GetLeaderboard(context.Background(), tt.limit, tt.page, "")
			if err != nil {
				t.Fatalf("GetLeaderboard() error = %v", err)
			}
			if lb.Pagination.Limit != tt.wantLimit || lb.Pagination.Page != tt.wantP {
				t.Errorf("limit/page = %d/%d, want %d/%d",
					lb.Pagination.Limit, lb.Pagination.Page, tt.wantLimit, tt.wantP)
			}
		})
	}
}

func TestGetLeaderboard_InvalidTimeframe(t *testing.T) {
	svc, _ := newTestGamificationService(t)

	_, err := svc.GetLeaderboard(context.Background(), 10, 1, "this-decade")
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("GetLeaderboard() error = %v, want ErrValidation", err)
	}
}

func TestGetLeaderboard_PageOverflow(t *testing.T) {
	svc, store := newTestGamificationService(t)
	seedTwelve(store)

	tests := []struct {
		name  string
		limit int
		page  int
	}{
		{"huge page", 10, 1_000_000_000_000_000_000},
		{"max int page", 1, math.MaxInt},
		{"just past the limit", 5, math.MaxInt/5 + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetLeaderboard(context.Background(), tt.limit, tt.page, "")
			if !errors.Is(err, apperror.ErrValidation) {
				t.Fatalf("GetLeaderboard() error = %v, want ErrValidation", err)
			}
			var appErr *apperror.AppError
			if errors.As(err, &appErr) && appErr.Field != "page" {
				t.Errorf("Field = %q, want page", appErr.Field)
			}
		})
	}
}

func TestGetLeaderboard_FarPageIsEmpty(t *testing.T) {
	svc, store := newTestGamificationService(t)
	seedTwelve(store)

	lb, err := svc.GetLeaderboard(context.Background(), 10, math.MaxInt/10, "")
	if err != nil {
		t.Fatalf("GetLeaderboard() error = %v", err)
	}
	if len(lb.Entries) != 0 {
		t.Errorf("got %d entries, want 0", len(lb.Entries))
	}
}

func TestGetLeaderboard_Timeframes(t *testing.T) {
	svc, store := newTestGamificationService(t)
	fresh := store.addUser("fresh", model.RoleStudent, 10)
	stale := store.addUser("stale", model.RoleStudent, 999)
	weeksAgo := store.addUser("weeks", model.RoleStudent, 50)

	now := time.Now().UTC()
	store.mu.Lock()
	store.users[stale.ID].UpdatedAt = now.AddDate(0, -2, 0)
	store.users[weeksAgo.ID].UpdatedAt = now.AddDate(0, 0, -14)
	store.mu.Unlock()

	tests := []struct {
		timeframe string
		want      []string
	}{
		{TimeframeAllTime, []string{stale.ID, weeksAgo.ID, fresh.ID}},
		{TimeframeThisMonth, []string{weeksAgo.ID, fresh.ID}},
		{TimeframeThisWeek, []string{fresh.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.timeframe, func(t *testing.T) {
			lb, err := svc.GetLeaderboard(context.Background(), 10, 1, tt.timeframe)
			if err != nil {
				t.Fatalf("GetLeaderboard() error = %v", err)
			}
			if len(lb.Entries) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(lb.Entries), len(tt.want))
			}
			for i, id := range tt.want {
				if lb.Entries[i].ID != id {
					t.Errorf("entries[%d] = %s, want %s", i, lb.Entries[i].ID, id)
				}
			}
			if lb.Pagination.Total != len(tt.want) {
				t.Errorf("Total = %d, want %d", lb.Pagination.Total, len(tt.want))
			}
		})
	}
}

func TestGetLeaderboard_Counts(t *testing.T) {
	svc, store := newTestGamificationService(t)
	ctx := context.Background()
	user := store.addUser("counted", model.RoleStudent, 0)
	badge := store.addBadge("Counted", 0)
	a := store.addAchievement(1, 5, badge.ID)

	if _, err := svc.UpdateProgress(ctx, user.ID, a.ID, intPtr(1)); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}

	lb, err := svc.GetLeaderboard(ctx, 10, 1, "")
	if err != nil {
		t.Fatalf("GetLeaderboard() error = %v", err)
	}
	if len(lb.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(lb.Entries))
	}
	if e := lb.Entries[0]; e.Badges != 1 || e.Achievements != 1 {
		t.Errorf("badges/achievements = %d/%d, want 1/1", e.Badges, e.Achievements)
	}
}

// =========================================================================
// AwardBadge TESTS
// =========================================================================

func TestAwardBadge(t *testing.T) {
	svc, store := newTestGamificationService(t)
	ctx := context.Background()
	admin := store.addUser("admin", model.RoleAdmin, 0)
	target := store.addUser("target", model.RoleStudent, 60)
	badge := store.addBadge("Helpful", 50)

	award, err := svc.AwardBadge(ctx, admin.ID, badge.ID, target.ID)
	if err != nil {
		t.Fatalf("AwardBadge() error = %v", err)
	}
	if award.XPAwarded != 50 || !award.LevelUp || award.Level != 2 || award.XP != 110 {
		t.Errorf("award = %+v", award)
	}
	if n := store.grantCount(target.ID, badge.ID); n != 1 {
		t.Errorf("grants = %d, want 1", n)
	}

	_, err = svc.AwardBadge(ctx, admin.ID, badge.ID, target.ID)
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("second AwardBadge() error = %v, want ErrConflict", err)
	}
	if xp := store.user(target.ID).XP; xp != 110 {
		t.Errorf("XP = %d after duplicate award, want 110", xp)
	}
}

func TestAwardBadge_Errors(t *testing.T) {
	svc, store := newTestGamificationService(t)
	admin := store.addUser("admin", model.RoleAdmin, 0)
	student := store.addUser("student", model.RoleStudent, 0)
	badge := store.addBadge("Rare", 50)

	tests := []struct {
		name             string
		actor, badge, to string
		want             error
	}{
		{"student cannot award", student.ID, badge.ID, admin.ID, apperror.ErrForbidden},
		{"missing target", admin.ID, badge.ID, "", apperror.ErrValidation},
		{"unknown badge", admin.ID, "badge-x", student.ID, apperror.ErrNotFound},
		{"unknown target", admin.ID, badge.ID, "ghost", apperror.ErrNotFound},
		{"unknown actor", "ghost", badge.ID, student.ID, apperror.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AwardBadge(context.Background(), tt.actor, tt.badge, tt.to)
			if !errors.Is(err, tt.want) {
				t.Errorf("AwardBadge() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// =========================================================================
// userLocks TESTS
// =========================================================================

func TestUserLocks_ReleasesEntries(t *testing.T) {
	l := newUserLocks()

	unlockA := l.lock("a")
	unlockB := l.lock("b")
	if len(l.locks) != 2 {
		t.Fatalf("locks held = %d, want 2", len(l.locks))
	}
	unlockA()
	unlockB()

	if len(l.locks) != 0 {
		t.Errorf("locks held after unlock = %d, want 0", len(l.locks))
	}
}
