package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/mentor-app/internal/apperror"
	"github.com/sakif/mentor-app/internal/model"
	"github.com/sakif/mentor-app/internal/repository"
)

var _ repository.LeaderboardRepository = (*DB)(nil)

// leaderboardOrder is shared by ListUsersByXP and RankByXP so a user's
// profile rank always matches their position on the leaderboard.
const leaderboardOrder = `xp DESC, updated_at DESC, id ASC`

// ListUsersByXP returns one page of users ordered by XP.
//
// LIMIT/OFFSET pagination is fine here: the leaderboard is read a page at a
// time and users rarely page deep.
func (db *DB) ListUsersByXP(ctx context.Context, q repository.LeaderboardQuery) ([]model.User, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		rows *sql.Rows
		err  error
	)
	if q.Since.IsZero() {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT `+userColumns+` FROM users
			 ORDER BY `+leaderboardOrder+`
			 LIMIT ? OFFSET ?`,
			limit, offset)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT `+userColumns+` FROM users
			 WHERE updated_at >= ?
			 ORDER BY `+leaderboardOrder+`
			 LIMIT ? OFFSET ?`,
			q.Since.UTC(), limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing leaderboard: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning leaderboard row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating leaderboard: %w", err)
	}
	return users, nil
}

// CountUsers counts users updated at or after since (all users for a zero since).
func (db *DB) CountUsers(ctx context.Context, since time.Time) (int, error) {
	var (
		n   int
		err error
	)
	if since.IsZero() {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	} else {
		err = db.conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM users WHERE updated_at >= ?`, since.UTC()).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting users: %w", err)
	}
	return n, nil
}

// RankByXP returns the 1-based position of the user in the all-time leaderboard.
//
// ROW_NUMBER() still sorts every user; that's acceptable at this scale and
// keeps ties broken exactly the way ListUsersByXP breaks them.
func (db *DB) RankByXP(ctx context.Context, userID string) (int, error) {
	var position int
	err := db.conn.QueryRowContext(ctx,
		`SELECT position FROM (
		   SELECT id, ROW_NUMBER() OVER (ORDER BY `+leaderboardOrder+`) AS position
		   FROM users
		 ) WHERE id = ?`,
		userID,
	).Scan(&position)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apperror.NotFound("user", userID)
		}
		return 0, fmt.Errorf("sqlite: ranking user %s: %w", userID, err)
	}
	return position, nil
}
