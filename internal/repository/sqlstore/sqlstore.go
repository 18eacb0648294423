// Package sqlstore implements the repository interfaces on top of database/sql.
//
// Two engines are supported behind the same code:
//
//   - SQLite through modernc.org/sqlite (pure Go, no CGo): the default, a
//     single file next to the binary.
//   - PostgreSQL through github.com/lib/pq.
//
// Queries are written once with ? placeholders and rebound to $1, $2, ... for
// PostgreSQL. The handful of places where the engines differ (DDL, row
// locks, GREATEST vs MAX, error codes) are isolated in dialect.
//
// DATABASE/SQL OVERVIEW:
//   - sql.DB      : a connection pool (NOT a single connection!)
//   - sql.Tx      : a transaction pinned to one connection
//   - sql.Row(s)  : results; Rows must be closed
//
// Every repository type (UserDB, NoteDB, ...) holds a querier, which is
// either the pool or a transaction. That is how the same methods serve both
// plain reads and the multi-statement reconciliation transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/journal/internal/repository"
)

// Driver names as registered with database/sql.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// retryBackoff is the pause before the single retry of a transaction that
// failed on lock contention.
const retryBackoff = 50 * time.Millisecond

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// COMPILE-TIME INTERFACE CHECK:
// If *DB stops satisfying repository.Store the build breaks here, not at
// the call site in server.go.
var _ repository.Store = (*DB)(nil)

// DB owns the connection pool and hands out repositories bound to it.
type DB struct {
	conn    *sql.DB
	dialect dialect
	repos
}

// repos is the set of repositories bound to one querier.
type repos struct {
	users    *UserDB
	sessions *SessionDB
	notes    *NoteDB
	images   *ImageDB
}

func newRepos(q querier, d dialect) repos {
	return repos{
		users:    &UserDB{q: q, d: d},
		sessions: &SessionDB{q: q, d: d},
		notes:    &NoteDB{q: q, d: d},
		images:   &ImageDB{q: q, d: d},
	}
}

func (r *repos) Users() repository.UserRepository       { return r.users }
func (r *repos) Sessions() repository.SessionRepository { return r.sessions }
func (r *repos) Notes() repository.NoteRepository       { return r.notes }
func (r *repos) Images() repository.ImageRepository     { return r.images }

// New opens a database and runs migrations.
//
// For DriverSQLite, dsn is a file path (or ":memory:"). The SQLite
// connection is configured through DSN parameters so that EVERY pooled
// connection gets them, not just the first one:
//
//   - foreign_keys(1)      enforce REFERENCES
//   - busy_timeout(5000)   wait up to 5s for a competing writer instead of
//     failing immediately with SQLITE_BUSY
//   - journal_mode(WAL)    readers don't block the writer
//   - _txlock=immediate    BEGIN IMMEDIATE: a transaction takes the write
//     lock up front, so two reconciliations can never both read the same
//     "old content". SQLite's equivalent of SELECT ... FOR UPDATE.
//
// For DriverPostgres, dsn is passed to lib/pq unchanged.
func New(driver, dsn string) (*DB, error) {
	var d dialect
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		d = sqliteDialect{}
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
		d = postgresDialect{}
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening database: %w", err)
	}

	// An in-memory SQLite database lives inside one connection; a second
	// pooled connection would see an empty database.
	if driver == DriverSQLite && strings.HasPrefix(dsn, ":memory:") {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: pinging database: %w", err)
	}

	db := &DB{conn: conn, dialect: d, repos: newRepos(conn, d)}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: running migrations: %w", err)
	}

	return db, nil
}

func sqliteDSN(path string) string {
	if path == "" {
		path = ":memory:"
	}
	params := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if path != ":memory:" {
		params += "&_pragma=journal_mode(WAL)"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + params
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable. Used by /healthz.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WithTx runs fn inside one transaction.
//
// TRANSIENT CONTENTION:
// Even with busy_timeout (SQLite) or row locks (PostgreSQL), a transaction
// can lose a race: SQLITE_BUSY after the timeout, or a PostgreSQL deadlock /
// serialization failure. Those are retried exactly once after a short
// pause. Everything else (including apperror values returned by fn) is
// returned as-is.
func (db *DB) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	err := db.runTx(ctx, fn)
	if err == nil || !db.dialect.isTransient(err) {
		return err
	}

	select {
	case <-ctx.Done():
		return err
	case <-time.After(retryBackoff):
	}
	return db.runTx(ctx, fn)
}

func (db *DB) runTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	// BeginTx ties the transaction to ctx: if the client disconnects and
	// the request context is cancelled, database/sql rolls back for us and
	// Commit fails. Nothing is ever half-applied.
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	r := newRepos(sqlTx, db.dialect)
	if err := fn(&r); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("sqlstore: rolling back: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: committing transaction: %w", err)
	}
	return nil
}

// migrate runs all database migrations.
//
// For now, CREATE TABLE IF NOT EXISTS is enough: it won't error if the
// table exists. Columns added after the first release go through
// addColumnIfNotExists so older databases are upgraded in place.
func (db *DB) migrate() error {
	for _, stmt := range db.dialect.schema() {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}

	// Databases created from the original schema have no upload_released
	// column; every image there still holds its upload reference.
	if err := db.addColumnIfNotExists("images", "upload_released",
		"BOOLEAN NOT NULL DEFAULT FALSE"); err != nil {
		return fmt.Errorf("adding upload_released to images: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
// Makes ALTER TABLE migrations idempotent, safe to run multiple times.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(db.dialect.columnExistsQuery(), table, column).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil // column already exists
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

// isUniqueViolation reports whether err is a UNIQUE / PRIMARY KEY violation
// on either engine.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			// Extended result codes disabled: fall back to the message.
			return strings.Contains(sqliteErr.Error(), "UNIQUE")
		}
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}
	return false
}
