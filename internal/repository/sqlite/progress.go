package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/mentor-app/internal/apperror"
	"github.com/sakif/mentor-app/internal/model"
	"github.com/sakif/mentor-app/internal/repository"
)

var _ repository.ProgressRepository = (*DB)(nil)

// GetUserAchievement returns the progress row for (userID, achievementID), or
// apperror.ErrNotFound when the user has never reported progress on it.
func (db *DB) GetUserAchievement(ctx context.Context, userID, achievementID string) (*model.UserAchievement, error) {
	var (
		ua            model.UserAchievement
		dateCompleted sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, achievement_id, progress, completed, date_completed, created_at
		 FROM user_achievements
		 WHERE user_id = ? AND achievement_id = ?`,
		userID, achievementID,
	).Scan(
		&ua.ID, &ua.UserID, &ua.AchievementID,
		&ua.Progress, &ua.Completed, &dateCompleted, &ua.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user achievement", achievementID)
		}
		return nil, fmt.Errorf("sqlite: getting user achievement (%s, %s): %w", userID, achievementID, err)
	}
	if dateCompleted.Valid {
		t := dateCompleted.Time
		ua.DateCompleted = &t
	}
	return &ua, nil
}

// SaveUserAchievement inserts the row when ua.ID is empty and updates it otherwise.
//
// Two concurrent first reports for the same pair both see "no row" and both
// try to INSERT; the UNIQUE(user_id, achievement_id) constraint turns the
// loser into apperror.ErrConflict instead of a duplicate row. Inserting for a
// user that no longer exists is apperror.ErrNotFound.
func (db *DB) SaveUserAchievement(ctx context.Context, ua *model.UserAchievement) error {
	var dateCompleted sql.NullTime
	if ua.DateCompleted != nil {
		dateCompleted = sql.NullTime{Time: ua.DateCompleted.UTC(), Valid: true}
	}

	if ua.ID == "" {
		ua.ID = xid.New().String()
		ua.CreatedAt = time.Now().UTC()
		_, err := db.conn.ExecContext(ctx,
			`INSERT INTO user_achievements
			   (id, user_id, achievement_id, progress, completed, date_completed, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ua.ID, ua.UserID, ua.AchievementID, ua.Progress, ua.Completed, dateCompleted, ua.CreatedAt,
		)
		if err != nil {
			ua.ID = ""
			if isUniqueViolation(err) {
				return apperror.Conflict("user achievement", ua.AchievementID)
			}
			// Callers load the achievement first, so a dangling reference
			// means the user row is gone.
			if isForeignKeyViolation(err) {
				return apperror.NotFound("user", ua.UserID)
			}
			return fmt.Errorf("sqlite: inserting user achievement: %w", err)
		}
		return nil
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE user_achievements SET progress = ?, completed = ?, date_completed = ?
		 WHERE id = ?`,
		ua.Progress, ua.Completed, dateCompleted, ua.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating user achievement %s: %w", ua.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user achievement", ua.ID)
	}
	return nil
}

// ListAchievementProgress joins a user's progress rows with their definitions.
// Most recently completed first; rows still in progress come last.
func (db *DB) ListAchievementProgress(ctx context.Context, userID string) ([]model.AchievementProgress, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT a.id, a.name, a.description, a.category, ua.progress, a.max_progress,
		        ua.completed, ua.date_completed, a.xp_reward
		 FROM user_achievements ua
		 JOIN achievements a ON a.id = ua.achievement_id
		 WHERE ua.user_id = ?
		 ORDER BY ua.date_completed IS NULL, ua.date_completed DESC, ua.created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing achievement progress for %s: %w", userID, err)
	}
	defer rows.Close()

	out := []model.AchievementProgress{}
	for rows.Next() {
		var (
			p             model.AchievementProgress
			category      string
			dateCompleted sql.NullTime
		)
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &category, &p.Progress, &p.MaxProgress,
			&p.Completed, &dateCompleted, &p.XPReward,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning achievement progress row: %w", err)
		}
		p.Category = model.AchievementCategory(category)
		if dateCompleted.Valid {
			t := dateCompleted.Time
			p.DateCompleted = &t
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating achievement progress: %w", err)
	}
	return out, nil
}

// CountCompletedAchievements counts the achievements a user has completed.
func (db *DB) CountCompletedAchievements(ctx context.Context, userID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_achievements WHERE user_id = ? AND completed = 1`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting completed achievements for %s: %w", userID, err)
	}
	return n, nil
}
