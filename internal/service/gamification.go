package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/mentor-app/internal/apperror"
	"github.com/sakif/mentor-app/internal/gamification"
	"github.com/sakif/mentor-app/internal/model"
	"github.com/sakif/mentor-app/internal/repository"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100

	// leaderboardFanout bounds the concurrent per-entry count queries.
	leaderboardFanout = 8
)

// Leaderboard timeframes.
const (
	TimeframeAllTime   = "all-time"
	TimeframeThisWeek  = "this-week"
	TimeframeThisMonth = "this-month"
)

// GamificationService owns achievement progress, XP, levels and badges.
//
// Writes for one user (UpdateProgress, AwardBadge) are serialised through an
// in-process lock keyed by user ID. Without it two concurrent completions for
// the same user could both read the old XP and one award would be lost. The
// lock does not help across processes; the service assumes a single instance
// in front of its SQLite file.
type GamificationService struct {
	store  repository.GamificationStore
	logger *slog.Logger
	locks  *userLocks
	now    func() time.Time
}

func NewGamificationService(store repository.GamificationStore, logger *slog.Logger) *GamificationService {
	return &GamificationService{
		store:  store,
		logger: logger,
		locks:  newUserLocks(),
		now:    time.Now,
	}
}

// ProgressResult is what UpdateProgress reports back to the caller.
// Level and XP are only filled in when this call completed the achievement.
type ProgressResult struct {
	AchievementID string     `json:"achievementId"`
	Progress      int        `json:"progress"`
	Completed     bool       `json:"completed"`
	DateCompleted *time.Time `json:"dateCompleted"`
	LevelUp       bool       `json:"levelUp"`
	XPAwarded     int        `json:"xpAwarded"`
	Level         int        `json:"level,omitempty"`
	XP            int        `json:"xp,omitempty"`
}

// UpdateProgress records a progress report for one achievement.
//
// The first report that reaches MaxProgress completes the achievement: the
// user gets the XP reward, a single-step level check and the badge reward if
// there is one. Later reports only move the progress counter.
//
// The user row is written before the progress row and the two writes are not
// atomic. A failure between them leaves the XP awarded without the completed
// flag, and the next report at max will award it again.
func (s *GamificationService) UpdateProgress(ctx context.Context, userID, achievementID string, progress *int) (*ProgressResult, error) {
	if progress == nil {
		return nil, apperror.ValidationFailed("progress", "progress value is required")
	}
	if *progress < 0 {
		return nil, apperror.ValidationFailed("progress", "progress must not be negative")
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	achievement, err := s.store.GetAchievement(ctx, achievementID)
	if err != nil {
		return nil, err
	}

	ua, err := s.store.GetUserAchievement(ctx, userID, achievementID)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		ua = &model.UserAchievement{UserID: userID, AchievementID: achievementID}
	case err != nil:
		return nil, fmt.Errorf("loading progress: %w", err)
	}

	now := s.now().UTC()
	tr := gamification.Advance(gamification.Progress{
		Progress:      ua.Progress,
		Completed:     ua.Completed,
		DateCompleted: ua.DateCompleted,
	}, achievement.MaxProgress, *progress, now)

	ua.Progress = tr.Progress.Progress
	ua.Completed = tr.Completed
	ua.DateCompleted = tr.DateCompleted

	result := &ProgressResult{AchievementID: achievementID}

	if tr.JustCompleted {
		user, levelUp, err := s.awardXP(ctx, userID, achievement.XPReward)
		if err != nil {
			return nil, err
		}
		result.LevelUp = levelUp
		result.XPAwarded = achievement.XPReward
		result.Level = user.Level
		result.XP = user.XP

		if achievement.BadgeRewardID != "" {
			if err := s.grantIfMissing(ctx, userID, achievement.BadgeRewardID, now); err != nil {
				return nil, err
			}
		}

		s.logger.Info("achievement completed",
			slog.String("userID", userID),
			slog.String("achievementID", achievementID),
			slog.Int("xpAwarded", achievement.XPReward),
			slog.Bool("levelUp", levelUp),
		)
	}

	if err := s.store.SaveUserAchievement(ctx, ua); err != nil {
		s.logger.Error("failed to save progress",
			slog.String("userID", userID),
			slog.String("achievementID", achievementID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("saving progress: %w", err)
	}

	result.Progress = ua.Progress
	result.Completed = ua.Completed
	result.DateCompleted = ua.DateCompleted
	return result, nil
}

// awardXP adds award to the user's XP, applies the level check and saves.
// Callers must hold the user's lock.
func (s *GamificationService) awardXP(ctx context.Context, userID string, award int) (*model.User, bool, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	table, err := s.levelTable(ctx)
	if err != nil {
		return nil, false, err
	}

	var levelUp bool
	user.Level, user.XP, levelUp = table.ApplyXP(user.Level, user.XP, award)

	if err := s.store.UpdateUserProgress(ctx, user); err != nil {
		s.logger.Error("failed to save user progress",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, false, fmt.Errorf("saving user progress: %w", err)
	}
	if levelUp {
		s.logger.Info("level up", slog.String("userID", userID), slog.Int("level", user.Level))
	}
	return user, levelUp, nil
}

// grantIfMissing grants the badge unless the user already holds it.
func (s *GamificationService) grantIfMissing(ctx context.Context, userID, badgeID string, now time.Time) error {
	has, err := s.store.HasUserBadge(ctx, userID, badgeID)
	if err != nil {
		return fmt.Errorf("checking badge: %w", err)
	}
	if has {
		return nil
	}

	err = s.store.GrantBadge(ctx, &model.UserBadge{UserID: userID, BadgeID: badgeID, DateEarned: now})
	if errors.Is(err, apperror.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("granting badge: %w", err)
	}
	s.logger.Info("badge earned", slog.String("userID", userID), slog.String("badgeID", badgeID))
	return nil
}

func (s *GamificationService) levelTable(ctx context.Context) (gamification.LevelTable, error) {
	levels, err := s.store.ListLevels(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading levels: %w", err)
	}
	return gamification.NewLevelTable(levels), nil
}

// Profile is a user's gamification summary.
type Profile struct {
	Level        int                         `json:"level"`
	XP           int                         `json:"xp"`
	NextLevelXP  *int                        `json:"nextLevelXp"`
	Badges       []model.EarnedBadge         `json:"badges"`
	Achievements []model.AchievementProgress `json:"achievements"`
	Rank         int                         `json:"rank"`
}

// GetProfile assembles the user's level, badges, achievements and rank.
// Rank uses the all-time leaderboard order, so it matches GetLeaderboard.
func (s *GamificationService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	p := &Profile{Level: user.Level, XP: user.XP}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		table, err := s.levelTable(gctx)
		if err != nil {
			return err
		}
		p.NextLevelXP = table.NextXPRequired(user.Level)
		return nil
	})
	g.Go(func() error {
		badges, err := s.store.ListEarnedBadges(gctx, userID)
		if err != nil {
			return fmt.Errorf("loading badges: %w", err)
		}
		p.Badges = badges
		return nil
	})
	g.Go(func() error {
		achievements, err := s.store.ListAchievementProgress(gctx, userID)
		if err != nil {
			return fmt.Errorf("loading achievements: %w", err)
		}
		p.Achievements = achievements
		return nil
	})
	g.Go(func() error {
		rank, err := s.store.RankByXP(gctx, userID)
		if err != nil {
			return fmt.Errorf("ranking user: %w", err)
		}
		p.Rank = rank
		return nil
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("failed to build profile",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return p, nil
}

// LeaderboardEntry is one row of the leaderboard.
type LeaderboardEntry struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	Level        int    `json:"level"`
	XP           int    `json:"xp"`
	Badges       int    `json:"badges"`
	Achievements int    `json:"achievements"`
	Rank         int    `json:"rank"`
}

type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

type Leaderboard struct {
	Entries    []LeaderboardEntry `json:"entries"`
	Pagination Pagination         `json:"pagination"`
}

// GetLeaderboard returns one page of users ordered by XP.
//
// limit <= 0 means the default; larger values are capped at
// MaxLeaderboardLimit. page < 1 is treated as the first page, and a page
// whose offset would overflow int is a validation error. timeframe
// restricts the board to users active in the last week or calendar month.
func (s *GamificationService) GetLeaderboard(ctx context.Context, limit, page int, timeframe string) (*Leaderboard, error) {
	if limit <= 0 {
		limit = DefaultLeaderboardLimit
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}
	if page < 1 {
		page = 1
	}
	if page > math.MaxInt/limit {
		return nil, apperror.ValidationFailed("page", "page is out of range")
	}

	since, err := s.since(timeframe)
	if err != nil {
		return nil, err
	}

	users, err := s.store.ListUsersByXP(ctx, repository.LeaderboardQuery{
		ListOptions: repository.ListOptions{Limit: limit, Offset: (page - 1) * limit},
		Since:       since,
	})
	if err != nil {
		s.logger.Error("failed to list leaderboard", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing leaderboard: %w", err)
	}
	total, err := s.store.CountUsers(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("counting leaderboard: %w", err)
	}

	entries := make([]LeaderboardEntry, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(leaderboardFanout)
	for i, u := range users {
		g.Go(func() error {
			badges, err := s.store.CountUserBadges(gctx, u.ID)
			if err != nil {
				return fmt.Errorf("counting badges for %s: %w", u.ID, err)
			}
			achievements, err := s.store.CountCompletedAchievements(gctx, u.ID)
			if err != nil {
				return fmt.Errorf("counting achievements for %s: %w", u.ID, err)
			}
			entries[i] = LeaderboardEntry{
				ID:           u.ID,
				Username:     u.Username,
				AvatarURL:    u.AvatarURL,
				Level:        u.Level,
				XP:           u.XP,
				Badges:       badges,
				Achievements: achievements,
				Rank:         (page-1)*limit + i + 1,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("failed to count leaderboard stats", slog.String("error", err.Error()))
		return nil, err
	}

	return &Leaderboard{
		Entries: entries,
		Pagination: Pagination{
			Total: total,
			Page:  page,
			Limit: limit,
			Pages: (total + limit - 1) / limit,
		},
	}, nil
}

func (s *GamificationService) since(timeframe string) (time.Time, error) {
	now := s.now().UTC()
	switch timeframe {
	case "", TimeframeAllTime:
		return time.Time{}, nil
	case TimeframeThisWeek:
		return now.AddDate(0, 0, -7), nil
	case TimeframeThisMonth:
		return now.AddDate(0, -1, 0), nil
	}
	return time.Time{}, apperror.ValidationFailed("timeframe",
		fmt.Sprintf("timeframe must be one of %s, %s, %s", TimeframeAllTime, TimeframeThisWeek, TimeframeThisMonth))
}

// ListBadges returns the badge catalog, most common first.
func (s *GamificationService) ListBadges(ctx context.Context) ([]model.Badge, error) {
	badges, err := s.store.ListBadges(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing badges: %w", err)
	}
	return badges, nil
}

// ListAchievements returns the achievement catalog.
func (s *GamificationService) ListAchievements(ctx context.Context) ([]model.Achievement, error) {
	achievements, err := s.store.ListAchievements(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing achievements: %w", err)
	}
	return achievements, nil
}

// ListLevels returns the XP ladder.
func (s *GamificationService) ListLevels(ctx context.Context) ([]model.Level, error) {
	levels, err := s.store.ListLevels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing levels: %w", err)
	}
	return levels, nil
}

// BadgeAward is the result of a manual badge grant.
type BadgeAward struct {
	BadgeID    string    `json:"badgeId"`
	UserID     string    `json:"userId"`
	DateEarned time.Time `json:"dateEarned"`
	XPAwarded  int       `json:"xpAwarded"`
	LevelUp    bool      `json:"levelUp"`
	Level      int       `json:"level"`
	XP         int       `json:"xp"`
}

// AwardBadge lets an admin grant a badge by hand. The badge's XP reward is
// paid with the same single-step level check as achievement completion.
func (s *GamificationService) AwardBadge(ctx context.Context, actorID, badgeID, targetUserID string) (*BadgeAward, error) {
	actor, err := s.store.GetUserByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("authenticated user no longer exists")
		}
		return nil, err
	}
	if !actor.IsAdmin() {
		return nil, apperror.Forbidden("only admins can award badges")
	}
	if targetUserID == "" {
		return nil, apperror.ValidationFailed("userId", "user id is required")
	}

	badge, err := s.store.GetBadge(ctx, badgeID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(targetUserID)
	defer unlock()

	if _, err := s.store.GetUserByID(ctx, targetUserID); err != nil {
		return nil, err
	}
	has, err := s.store.HasUserBadge(ctx, targetUserID, badgeID)
	if err != nil {
		return nil, fmt.Errorf("checking badge: %w", err)
	}
	if has {
		return nil, &apperror.AppError{Err: apperror.ErrConflict, Message: "user already has this badge"}
	}

	ub := &model.UserBadge{UserID: targetUserID, BadgeID: badgeID, DateEarned: s.now().UTC()}
	if err := s.store.GrantBadge(ctx, ub); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, &apperror.AppError{Err: apperror.ErrConflict, Message: "user already has this badge"}
		}
		return nil, fmt.Errorf("granting badge: %w", err)
	}

	user, levelUp, err := s.awardXP(ctx, targetUserID, badge.XPReward)
	if err != nil {
		return nil, err
	}

	s.logger.Info("badge awarded",
		slog.String("actorID", actorID),
		slog.String("userID", targetUserID),
		slog.String("badgeID", badgeID),
	)

	return &BadgeAward{
		BadgeID:    badgeID,
		UserID:     targetUserID,
		DateEarned: ub.DateEarned,
		XPAwarded:  badge.XPReward,
		LevelUp:    levelUp,
		Level:      user.Level,
		XP:         user.XP,
	}, nil
}
