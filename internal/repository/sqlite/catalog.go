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

var (
	_ repository.CatalogRepository = (*DB)(nil)
	_ repository.CatalogWriter     = (*DB)(nil)
)

const (
	achievementColumns = `id, name, description, category, max_progress, xp_reward, badge_reward_id, created_at`
	badgeColumns       = `id, name, description, icon, category, rarity, xp_reward, created_at`
)

// GetAchievement returns one achievement definition.
func (db *DB) GetAchievement(ctx context.Context, id string) (*model.Achievement, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+achievementColumns+` FROM achievements WHERE id = ?`, id)

	a, err := scanAchievement(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("achievement", id)
		}
		return nil, fmt.Errorf("sqlite: getting achievement %s: %w", id, err)
	}
	return a, nil
}

// ListAchievements returns every achievement, grouped by category and then
// cheapest reward first.
func (db *DB) ListAchievements(ctx context.Context) ([]model.Achievement, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+achievementColumns+` FROM achievements
		 ORDER BY category ASC, xp_reward ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing achievements: %w", err)
	}
	defer rows.Close()

	achievements := []model.Achievement{}
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning achievement row: %w", err)
		}
		achievements = append(achievements, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating achievements: %w", err)
	}
	return achievements, nil
}

// GetBadge returns one badge definition.
func (db *DB) GetBadge(ctx context.Context, id string) (*model.Badge, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+badgeColumns+` FROM badges WHERE id = ?`, id)

	b, err := scanBadge(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("badge", id)
		}
		return nil, fmt.Errorf("sqlite: getting badge %s: %w", id, err)
	}
	return b, nil
}

// ListBadges returns every badge, most common first.
//
// Rarity is stored as text, so ORDER BY rarity would sort alphabetically
// (common, epic, legendary, rare, uncommon). The CASE maps it onto the
// intended ladder.
func (db *DB) ListBadges(ctx context.Context) ([]model.Badge, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+badgeColumns+` FROM badges
		 ORDER BY CASE rarity
		            WHEN 'common'    THEN 0
		            WHEN 'uncommon'  THEN 1
		            WHEN 'rare'      THEN 2
		            WHEN 'epic'      THEN 3
		            WHEN 'legendary' THEN 4
		            ELSE 5
		          END,
		          name ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing badges: %w", err)
	}
	defer rows.Close()

	badges := []model.Badge{}
	for rows.Next() {
		b, err := scanBadge(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning badge row: %w", err)
		}
		badges = append(badges, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating badges: %w", err)
	}
	return badges, nil
}

// ListLevels returns the whole XP ladder in ascending level order.
func (db *DB) ListLevels(ctx context.Context) ([]model.Level, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT level, xp_required, title FROM levels ORDER BY level ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing levels: %w", err)
	}
	defer rows.Close()

	levels := []model.Level{}
	for rows.Next() {
		var l model.Level
		if err := rows.Scan(&l.Level, &l.XPRequired, &l.Title); err != nil {
			return nil, fmt.Errorf("sqlite: scanning level row: %w", err)
		}
		levels = append(levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating levels: %w", err)
	}
	return levels, nil
}

// UpsertLevel inserts a level or overwrites the existing row with the same number.
func (db *DB) UpsertLevel(ctx context.Context, level *model.Level) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO levels (level, xp_required, title) VALUES (?, ?, ?)
		 ON CONFLICT(level) DO UPDATE SET xp_required = excluded.xp_required, title = excluded.title`,
		level.Level, level.XPRequired, level.Title,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting level %d: %w", level.Level, err)
	}
	return nil
}

// UpsertBadge matches on name: an existing badge keeps its ID (and therefore
// every grant that references it) while its other fields are overwritten.
func (db *DB) UpsertBadge(ctx context.Context, badge *model.Badge) error {
	existingID, err := db.idByName(ctx, "badges", badge.Name)
	if err != nil {
		return err
	}

	if existingID != "" {
		badge.ID = existingID
		_, err = db.conn.ExecContext(ctx,
			`UPDATE badges SET description = ?, icon = ?, category = ?, rarity = ?, xp_reward = ?
			 WHERE id = ?`,
			badge.Description, badge.Icon, string(badge.Category), string(badge.Rarity), badge.XPReward,
			badge.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating badge %s: %w", badge.ID, err)
		}
		return nil
	}

	badge.ID = xid.New().String()
	badge.CreatedAt = time.Now().UTC()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO badges (`+badgeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		badge.ID, badge.Name, badge.Description, badge.Icon,
		string(badge.Category), string(badge.Rarity), badge.XPReward, badge.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting badge %s: %w", badge.Name, err)
	}
	return nil
}

// UpsertAchievement matches on name, like UpsertBadge.
func (db *DB) UpsertAchievement(ctx context.Context, a *model.Achievement) error {
	existingID, err := db.idByName(ctx, "achievements", a.Name)
	if err != nil {
		return err
	}

	if existingID != "" {
		a.ID = existingID
		_, err = db.conn.ExecContext(ctx,
			`UPDATE achievements
			 SET description = ?, category = ?, max_progress = ?, xp_reward = ?, badge_reward_id = ?
			 WHERE id = ?`,
			a.Description, string(a.Category), a.MaxProgress, a.XPReward, nullString(a.BadgeRewardID),
			a.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating achievement %s: %w", a.ID, err)
		}
		return nil
	}

	a.ID = xid.New().String()
	a.CreatedAt = time.Now().UTC()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO achievements (`+achievementColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Description, string(a.Category), a.MaxProgress, a.XPReward,
		nullString(a.BadgeRewardID), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting achievement %s: %w", a.Name, err)
	}
	return nil
}

// idByName returns "" when no row in table has the given name.
// table is always a package constant, never user input.
func (db *DB) idByName(ctx context.Context, table, name string) (string, error) {
	var id string
	err := db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE name = ?`, table), name,
	).Scan(&id)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("sqlite: looking up %s by name: %w", table, err)
	}
	return id, nil
}

func scanAchievement(row rowScanner) (*model.Achievement, error) {
	var (
		a        model.Achievement
		category string
		badgeID  sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.Name, &a.Description, &category,
		&a.MaxProgress, &a.XPReward, &badgeID, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Category = model.AchievementCategory(category)
	a.BadgeRewardID = badgeID.String
	return &a, nil
}

func scanBadge(row rowScanner) (*model.Badge, error) {
	var (
		b                model.Badge
		category, rarity string
	)
	err := row.Scan(
		&b.ID, &b.Name, &b.Description, &b.Icon,
		&category, &rarity, &b.XPReward, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Category = model.BadgeCategory(category)
	b.Rarity = model.Rarity(rarity)
	return &b, nil
}
