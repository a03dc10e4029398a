// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code, so no C compiler is needed.
//
// CONNECTION-LEVEL PRAGMAS:
// database/sql keeps a POOL of connections, and most SQLite pragmas
// (foreign_keys, busy_timeout) are per-connection. Running them once with
// Exec would only configure whichever connection happened to serve that call.
// modernc reads "_pragma=name(value)" query parameters from the DSN and
// applies them to every new connection, so that's where they live.
//
// All timestamps are written in UTC with the "sqlite" time format, which keeps
// the stored text lexically ordered. The leaderboard's updated_at >= ? filter
// relies on that.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps a sql.DB connection pool and implements every repository interface.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/mentor.db" → file-based database (persistent)
//   - ":memory:"       → in-memory database (tests)
//
// IN-MEMORY DATABASES AND THE POOL:
// Every new connection to ":memory:" gets its OWN empty database. We pin the
// pool to a single connection so all queries see the same tables.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL is a property of the database file, not the connection, so a
	// single Exec is enough. In-memory databases silently keep "memory".
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

func dsn(dbPath string) string {
	return dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// Ping checks the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates every table if it doesn't exist yet.
//
// CREATE TABLE IF NOT EXISTS is idempotent, so this runs on every start.
// The UNIQUE constraints are part of the domain rules, not just indexes:
//   - user_achievements(user_id, achievement_id): one progress row per pair
//   - user_badges(user_id, badge_id): badge grants are idempotent
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE,
			email         TEXT UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			role          TEXT NOT NULL DEFAULT 'student',
			github_id     INTEGER UNIQUE,
			avatar_url    TEXT NOT NULL DEFAULT '',
			level         INTEGER NOT NULL DEFAULT 1 CHECK (level >= 1),
			xp            INTEGER NOT NULL DEFAULT 0 CHECK (xp >= 0),
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_users_xp ON users(xp DESC, updated_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS badges (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL,
			icon        TEXT NOT NULL,
			category    TEXT NOT NULL,
			rarity      TEXT NOT NULL DEFAULT 'common',
			xp_reward   INTEGER NOT NULL DEFAULT 50 CHECK (xp_reward >= 0),
			created_at  DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS achievements (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL UNIQUE,
			description     TEXT NOT NULL,
			category        TEXT NOT NULL,
			max_progress    INTEGER NOT NULL CHECK (max_progress > 0),
			xp_reward       INTEGER NOT NULL CHECK (xp_reward >= 0),
			badge_reward_id TEXT REFERENCES badges(id),
			created_at      DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS levels (
			level       INTEGER PRIMARY KEY,
			xp_required INTEGER NOT NULL,
			title       TEXT NOT NULL DEFAULT ''
		);
	`)
	if err != nil {
		return fmt.Errorf("creating catalog tables: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS user_achievements (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL REFERENCES users(id),
			achievement_id TEXT NOT NULL REFERENCES achievements(id),
			progress       INTEGER NOT NULL DEFAULT 0,
			completed      INTEGER NOT NULL DEFAULT 0,
			date_completed DATETIME,
			created_at     DATETIME NOT NULL,
			UNIQUE (user_id, achievement_id)
		);

		CREATE TABLE IF NOT EXISTS user_badges (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(id),
			badge_id    TEXT NOT NULL REFERENCES badges(id),
			date_earned DATETIME NOT NULL,
			UNIQUE (user_id, badge_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating progress tables: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
func isUniqueViolation(err error) bool {
	var se *moderncsqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// isForeignKeyViolation reports whether err came from a FOREIGN KEY constraint.
func isForeignKeyViolation(err error) bool {
	var se *moderncsqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}

// nullString stores "" as NULL so UNIQUE columns accept any number of blanks.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
