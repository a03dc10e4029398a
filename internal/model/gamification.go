package model

import "time"

// AchievementCategory groups achievements in the catalog.
type AchievementCategory string

const (
	AchievementBeginner     AchievementCategory = "beginner"
	AchievementProductivity AchievementCategory = "productivity"
	AchievementSocial       AchievementCategory = "social"
	AchievementLearning     AchievementCategory = "learning"
	AchievementSkill        AchievementCategory = "skill"
)

// Valid reports whether c is one of the known categories.
func (c AchievementCategory) Valid() bool {
	switch c {
	case AchievementBeginner, AchievementProductivity, AchievementSocial, AchievementLearning, AchievementSkill:
		return true
	}
	return false
}

// BadgeCategory groups badges in the catalog.
type BadgeCategory string

const (
	BadgeSkill       BadgeCategory = "skill"
	BadgeEngagement  BadgeCategory = "engagement"
	BadgeSocial      BadgeCategory = "social"
	BadgeAchievement BadgeCategory = "achievement"
)

// Valid reports whether c is one of the known categories.
func (c BadgeCategory) Valid() bool {
	switch c {
	case BadgeSkill, BadgeEngagement, BadgeSocial, BadgeAchievement:
		return true
	}
	return false
}

// Rarity is ordered: Rank() grows from common to legendary.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Rank returns the sort position of r, or -1 for an unknown rarity.
func (r Rarity) Rank() int {
	switch r {
	case RarityCommon:
		return 0
	case RarityUncommon:
		return 1
	case RarityRare:
		return 2
	case RarityEpic:
		return 3
	case RarityLegendary:
		return 4
	}
	return -1
}

// DefaultBadgeXPReward is granted when a badge definition doesn't set one.
const DefaultBadgeXPReward = 50

// Achievement is an immutable progress goal. Reaching MaxProgress completes it
// and awards XPReward (and BadgeRewardID, when set) exactly once per user.
type Achievement struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	Category      AchievementCategory `json:"category"`
	MaxProgress   int                 `json:"maxProgress"`
	XPReward      int                 `json:"xpReward"`
	BadgeRewardID string              `json:"badgeReward,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// Badge is an immutable cosmetic grant.
type Badge struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Icon        string        `json:"icon"`
	Category    BadgeCategory `json:"category"`
	Rarity      Rarity        `json:"rarity"`
	XPReward    int           `json:"xpReward"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Level is one rung of the XP ladder.
type Level struct {
	Level      int    `json:"level"`
	XPRequired int    `json:"xpRequired"`
	Title      string `json:"title,omitempty"`
}

// UserAchievement tracks one user's progress towards one achievement.
// Rows are created lazily on the first progress report.
type UserAchievement struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	AchievementID string     `json:"achievementId"`
	Progress      int        `json:"progress"`
	Completed     bool       `json:"completed"`
	DateCompleted *time.Time `json:"dateCompleted"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// UserBadge records that a user holds a badge. At most one per (user, badge).
type UserBadge struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	BadgeID    string    `json:"badgeId"`
	DateEarned time.Time `json:"dateEarned"`
}

// EarnedBadge is a UserBadge joined with its Badge definition.
type EarnedBadge struct {
	Badge
	DateEarned time.Time `json:"dateEarned"`
}

// AchievementProgress is a UserAchievement joined with its Achievement definition.
type AchievementProgress struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	Category      AchievementCategory `json:"category"`
	Progress      int                 `json:"progress"`
	MaxProgress   int                 `json:"maxProgress"`
	Completed     bool                `json:"completed"`
	DateCompleted *time.Time          `json:"dateCompleted"`
	XPReward      int                 `json:"xpReward"`
}
