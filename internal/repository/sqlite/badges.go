package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/mentor-app/internal/apperror"
	"github.com/sakif/mentor-app/internal/model"
	"github.com/sakif/mentor-app/internal/repository"
)

var _ repository.BadgeGrantRepository = (*DB)(nil)

// HasUserBadge reports whether the user already holds the badge.
func (db *DB) HasUserBadge(ctx context.Context, userID, badgeID string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_badges WHERE user_id = ? AND badge_id = ?`,
		userID, badgeID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking badge %s for user %s: %w", badgeID, userID, err)
	}
	return n > 0, nil
}

// GrantBadge records a badge grant. A second grant of the same badge to the
// same user fails with apperror.ErrConflict (UNIQUE(user_id, badge_id)).
func (db *DB) GrantBadge(ctx context.Context, ub *model.UserBadge) error {
	ub.ID = xid.New().String()
	if ub.DateEarned.IsZero() {
		ub.DateEarned = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_badges (id, user_id, badge_id, date_earned) VALUES (?, ?, ?, ?)`,
		ub.ID, ub.UserID, ub.BadgeID, ub.DateEarned.UTC(),
	)
	if err != nil {
		ub.ID = ""
		if isUniqueViolation(err) {
			return apperror.Conflict("user badge", ub.BadgeID)
		}
		return fmt.Errorf("sqlite: granting badge %s to user %s: %w", ub.BadgeID, ub.UserID, err)
	}
	return nil
}

// ListEarnedBadges joins a user's grants with the badge definitions, newest first.
func (db *DB) ListEarnedBadges(ctx context.Context, userID string) ([]model.EarnedBadge, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT b.id, b.name, b.description, b.icon, b.category, b.rarity, b.xp_reward, b.created_at,
		        ub.date_earned
		 FROM user_badges ub
		 JOIN badges b ON b.id = ub.badge_id
		 WHERE ub.user_id = ?
		 ORDER BY ub.date_earned DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing badges for %s: %w", userID, err)
	}
	defer rows.Close()

	out := []model.EarnedBadge{}
	for rows.Next() {
		var (
			eb               model.EarnedBadge
			category, rarity string
		)
		if err := rows.Scan(
			&eb.ID, &eb.Name, &eb.Description, &eb.Icon, &category, &rarity, &eb.XPReward, &eb.CreatedAt,
			&eb.DateEarned,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning earned badge row: %w", err)
		}
		eb.Category = model.BadgeCategory(category)
		eb.Rarity = model.Rarity(rarity)
		out = append(out, eb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating earned badges: %w", err)
	}
	return out, nil
}

// CountUserBadges counts the badges a user holds.
func (db *DB) CountUserBadges(ctx context.Context, userID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_badges WHERE user_id = ?`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting badges for %s: %w", userID, err)
	}
	return n, nil
}
