// Package model defines the data structures used throughout the application.
package model

import "time"

// Role controls what a user may do beyond their own gamification profile.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// User represents a registered account.
//
// Users sign up with email + password, or through GitHub OAuth. GitHubID is 0
// for password-only accounts; the UNIQUE constraint on github_id only applies
// to non-NULL values so any number of password accounts can coexist.
//
// Level and XP belong to the gamification core: the auth side creates users at
// level 1 with 0 XP and never touches these fields again.
//
// WHY PasswordHash HAS json:"-"?
// The User struct is returned directly by /api/me. The "-" tag guarantees the
// bcrypt hash never leaves the server, even if a handler forgets to scrub it.
type User struct {
	ID           string    `json:"id"        db:"id"`
	Username     string    `json:"username"  db:"username"`
	Email        string    `json:"email"     db:"email"`
	PasswordHash string    `json:"-"         db:"password_hash"`
	Role         Role      `json:"role"      db:"role"`
	GitHubID     int64     `json:"githubId,omitempty" db:"github_id"`
	AvatarURL    string    `json:"avatarUrl" db:"avatar_url"`
	Level        int       `json:"level"     db:"level"`
	XP           int       `json:"xp"        db:"xp"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// IsAdmin reports whether the user may award badges to others.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
