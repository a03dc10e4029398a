// Package repository declares the persistence interfaces the service layer
// depends on. The sqlite sub-package implements all of them on one *sqlite.DB;
// tests substitute in-memory fakes.
package repository

import (
	"context"
	"time"

	"github.com/sakif/mentor-app/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// LeaderboardQuery selects a page of users ordered by XP.
// A zero Since means "all time".
type LeaderboardQuery struct {
	ListOptions
	Since time.Time
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	UpsertGitHubUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateUserProgress(ctx context.Context, user *model.User) error
	SetUserRole(ctx context.Context, email string, role model.Role) error
}

// CatalogRepository is the read-only view of the reference data.
type CatalogRepository interface {
	GetAchievement(ctx context.Context, id string) (*model.Achievement, error)
	ListAchievements(ctx context.Context) ([]model.Achievement, error)
	GetBadge(ctx context.Context, id string) (*model.Badge, error)
	ListBadges(ctx context.Context) ([]model.Badge, error)
	ListLevels(ctx context.Context) ([]model.Level, error)
}

// CatalogWriter loads reference data. Only the seed tool uses it.
type CatalogWriter interface {
	UpsertLevel(ctx context.Context, level *model.Level) error
	UpsertBadge(ctx context.Context, badge *model.Badge) error
	UpsertAchievement(ctx context.Context, achievement *model.Achievement) error
}

type ProgressRepository interface {
	GetUserAchievement(ctx context.Context, userID, achievementID string) (*model.UserAchievement, error)
	SaveUserAchievement(ctx context.Context, ua *model.UserAchievement) error
	ListAchievementProgress(ctx context.Context, userID string) ([]model.AchievementProgress, error)
	CountCompletedAchievements(ctx context.Context, userID string) (int, error)
}

type BadgeGrantRepository interface {
	HasUserBadge(ctx context.Context, userID, badgeID string) (bool, error)
	GrantBadge(ctx context.Context, ub *model.UserBadge) error
	ListEarnedBadges(ctx context.Context, userID string) ([]model.EarnedBadge, error)
	CountUserBadges(ctx context.Context, userID string) (int, error)
}

type LeaderboardRepository interface {
	ListUsersByXP(ctx context.Context, q LeaderboardQuery) ([]model.User, error)
	CountUsers(ctx context.Context, since time.Time) (int, error)
	RankByXP(ctx context.Context, userID string) (int, error)
}

// GamificationStore is everything the gamification service needs.
type GamificationStore interface {
	UserRepository
	CatalogRepository
	ProgressRepository
	BadgeGrantRepository
	LeaderboardRepository
}
