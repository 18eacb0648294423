package sqlstore

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect captures the differences between SQLite and PostgreSQL.
type dialect interface {
	// rebind converts ? placeholders to the engine's syntax.
	rebind(query string) string
	// forUpdate is appended to a SELECT that must lock the selected rows.
	forUpdate() string
	// greatest is the two-argument max function.
	greatest() string
	schema() []string
	columnExistsQuery() string
	isTransient(err error) bool
}

type sqliteDialect struct{}

func (sqliteDialect) rebind(query string) string { return query }

// SQLite has no row locks. Transactions start with BEGIN IMMEDIATE (see
// New), which takes the database write lock before the first read.
func (sqliteDialect) forUpdate() string { return "" }

func (sqliteDialect) greatest() string { return "MAX" }

func (sqliteDialect) columnExistsQuery() string {
	return `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`
}

func (sqliteDialect) isTransient(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func (sqliteDialect) schema() []string {
	return []string{`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			github_id     INTEGER UNIQUE,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`, `
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);`, `
		CREATE TABLE IF NOT EXISTS notes (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			content     TEXT NOT NULL DEFAULT '',
			update_time INTEGER NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			favourite   BOOLEAN NOT NULL DEFAULT FALSE,
			is_diary    BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_notes_user_update ON notes(user_id, update_time);`, `
		CREATE TABLE IF NOT EXISTS images (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id         TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			image           BLOB NOT NULL,
			mime_type       TEXT NOT NULL,
			reference_count INTEGER NOT NULL DEFAULT 1 CHECK (reference_count >= 0),
			created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_images_user_id ON images(user_id);`,
	}
}

type postgresDialect struct{}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (postgresDialect) rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for _, c := range query {
		if c == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func (postgresDialect) forUpdate() string { return " FOR UPDATE" }

func (postgresDialect) greatest() string { return "GREATEST" }

func (postgresDialect) columnExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2`
}

func (postgresDialect) isTransient(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available
		return true
	}
	return false
}

func (postgresDialect) schema() []string {
	return []string{`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL DEFAULT '',
			github_id     BIGINT UNIQUE,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, `
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at BIGINT NOT NULL,
			expires_at BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);`, `
		CREATE TABLE IF NOT EXISTS notes (
			id          BIGSERIAL PRIMARY KEY,
			user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			content     TEXT NOT NULL DEFAULT '',
			update_time BIGINT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			favourite   BOOLEAN NOT NULL DEFAULT FALSE,
			is_diary    BOOLEAN NOT NULL DEFAULT FALSE,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_notes_user_update ON notes(user_id, update_time);`, `
		CREATE TABLE IF NOT EXISTS images (
			id              BIGSERIAL PRIMARY KEY,
			user_id         TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			image           BYTEA NOT NULL,
			mime_type       TEXT NOT NULL,
			reference_count INTEGER NOT NULL DEFAULT 1 CHECK (reference_count >= 0),
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_images_user_id ON images(user_id);`,
	}
}
