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

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, email, password_hash, role, github_id, avatar_url, level, xp, created_at, updated_at`

// CreateUser inserts a new password-based user.
//
// New users always start at level 1 with 0 XP, regardless of what the caller
// put in the struct. Returns apperror.ErrConflict if the username or email is
// already taken.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Level = 1
	user.XP = 0
	if user.Role == "" {
		user.Role = model.RoleStudent
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Username,
		nullString(user.Email),
		user.PasswordHash,
		string(user.Role),
		nullInt64(user.GitHubID),
		user.AvatarURL,
		user.Level,
		user.XP,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Username, err)
	}

	return nil
}

// UpsertGitHubUser inserts or updates a user based on their GitHub ID.
//
// An existing user keeps their internal ID, role, level and XP; only the
// profile fields GitHub owns (login, email, avatar) are refreshed. On return
// the caller's struct holds the canonical row.
func (db *DB) UpsertGitHubUser(ctx context.Context, user *model.User) error {
	var existingID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM users WHERE github_id = ?`, user.GitHubID,
	).Scan(&existingID)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("sqlite: looking up user by github_id %d: %w", user.GitHubID, err)
	}

	if existingID == "" {
		if err := db.CreateUser(ctx, user); err != nil {
			return err
		}
		return nil
	}

	_, err = db.conn.ExecContext(ctx,
		`UPDATE users SET username = ?, email = ?, avatar_url = ?, updated_at = ?
		 WHERE id = ?`,
		user.Username,
		nullString(user.Email),
		user.AvatarURL,
		time.Now().UTC(),
		existingID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlite: updating user %s: %w", existingID, err)
	}

	stored, err := db.GetUserByID(ctx, existingID)
	if err != nil {
		return err
	}
	*user = *stored
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email (used by password login).
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)

	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

// UpdateUserProgress writes the user's level and XP.
//
// updated_at is bumped as well: the leaderboard's "this-week" and
// "this-month" timeframes filter on it.
func (db *DB) UpdateUserProgress(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET level = ?, xp = ?, updated_at = ? WHERE id = ?`,
		user.Level,
		user.XP,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating progress for user %s: %w", user.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

// SetUserRole changes the role of the user with the given email.
func (db *DB) SetUserRole(ctx context.Context, email string, role model.Role) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE email = ?`,
		string(role), time.Now().UTC(), email,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting role for %s: %w", email, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", email)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u        model.User
		email    sql.NullString
		role     string
		githubID sql.NullInt64
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&email,
		&u.PasswordHash,
		&role,
		&githubID,
		&u.AvatarURL,
		&u.Level,
		&u.XP,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	u.Role = model.Role(role)
	u.GitHubID = githubID.Int64
	return &u, nil
}
