package sqlstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

// TESTING WITH A TEMP-FILE SQLITE:
// Every test gets a fresh database file under t.TempDir(), removed when the
// test finishes. A file (rather than ":memory:") lets the pool open several
// connections, which the concurrency tests need.
//
// newTestDB is a "test helper": t.Helper() makes failures point at the
// caller's line instead of this function.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(DriverSQLite, filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestPostgres connects to the database named by JOURNAL_TEST_POSTGRES_DSN
// and skips the test when the variable is unset. Tables are truncated so
// every test starts empty.
func newTestPostgres(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("JOURNAL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("JOURNAL_TEST_POSTGRES_DSN not set")
	}
	db, err := New(DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.conn.Exec(`TRUNCATE sessions, images, notes, users RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncating tables: %v", err)
	}
	return db
}

// createTestUser creates a user and fails the test if it errors.
func createTestUser(t *testing.T, db *DB, email string) *model.User {
	t.Helper()
	user := &model.User{Email: email, PasswordHash: "hash"}
	if err := db.Users().Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

func createTestNote(t *testing.T, db *DB, userID, content string) *model.Note {
	t.Helper()
	note := &model.Note{UserID: userID, Content: content, UpdateTime: 1}
	if err := db.Notes().Create(context.Background(), note); err != nil {
		t.Fatalf("failed to create test note: %v", err)
	}
	return note
}

func createTestImage(t *testing.T, db *DB, userID string) *model.Image {
	t.Helper()
	img := &model.Image{UserID: userID, Data: []byte{0x89, 'P', 'N', 'G'}, MimeType: "image/png"}
	if err := db.Images().Create(context.Background(), img); err != nil {
		t.Fatalf("failed to create test image: %v", err)
	}
	return img
}

// =========================================================================
// OPEN / MIGRATION TESTS
// =========================================================================

func TestNew_UnsupportedDriver(t *testing.T) {
	if _, err := New("mysql", "whatever"); err == nil {
		t.Fatal("New() should reject an unsupported driver")
	}
}

func TestNew_InMemory(t *testing.T) {
	db, err := New(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("New(:memory:) error = %v", err)
	}
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	createTestUser(t, db, "mem@example.com")
}

// Reopening the same file must not fail: every migration is idempotent.
func TestMigrate_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	first, err := New(DriverSQLite, path)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	createTestUser(t, first, "keep@example.com")
	first.Close()

	second, err := New(DriverSQLite, path)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer second.Close()

	if _, err := second.Users().GetByEmail(context.Background(), "keep@example.com"); err != nil {
		t.Fatalf("user lost across reopen: %v", err)
	}
}

func TestMigrate_AddsUploadReleasedColumn(t *testing.T) {
	db := newTestDB(t)

	var count int
	err := db.conn.QueryRow(db.dialect.columnExistsQuery(), "images", "upload_released").Scan(&count)
	if err != nil {
		t.Fatalf("checking column: %v", err)
	}
	if count != 1 {
		t.Errorf("upload_released column count = %d, want 1", count)
	}
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ":memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"},
		{"data.db", "data.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate&_pragma=journal_mode(WAL)"},
		{"data.db?cache=shared", "data.db?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate&_pragma=journal_mode(WAL)"},
	}
	for _, tt := range tests {
		if got := sqliteDSN(tt.in); got != tt.want {
			t.Errorf("sqliteDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPostgresRebind(t *testing.T) {
	got := postgresDialect{}.rebind(`UPDATE images SET reference_count = ? WHERE id = ? AND user_id = ?`)
	want := `UPDATE images SET reference_count = $1 WHERE id = $2 AND user_id = $3`
	if got != want {
		t.Errorf("rebind() = %q, want %q", got, want)
	}
}

// =========================================================================
// TRANSACTION TESTS
// =========================================================================

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var userID string
	err := db.WithTx(ctx, func(tx repository.Tx) error {
		u := &model.User{Email: "tx@example.com"}
		if err := tx.Users().Create(ctx, u); err != nil {
			return err
		}
		userID = u.ID
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	if _, err := db.Users().GetByID(ctx, userID); err != nil {
		t.Errorf("user not committed: %v", err)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.Users().Create(ctx, &model.User{Email: "rollback@example.com"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}

	_, err = db.Users().GetByEmail(ctx, "rollback@example.com")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("user survived rollback: err = %v", err)
	}
}

func TestWithTx_CancelledContext(t *testing.T) {
	db := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := db.WithTx(ctx, func(tx repository.Tx) error {
		return tx.Users().Create(ctx, &model.User{Email: "cancelled@example.com"})
	})
	if err == nil {
		t.Fatal("WithTx() with a cancelled context should fail")
	}

	_, err = db.Users().GetByEmail(context.Background(), "cancelled@example.com")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("write from cancelled transaction is visible: err = %v", err)
	}
}

// Concurrent read-modify-write transactions on one image must not lose
// increments: the write lock is taken before the first read.
func TestWithTx_SerializesWriters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "race@example.com")
	img := createTestImage(t, db, user.ID)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- db.WithTx(ctx, func(tx repository.Tx) error {
				got, err := tx.Images().GetByID(ctx, img.ID)
				if err != nil {
					return err
				}
				_, _, err = tx.Images().AdjustReferenceCount(ctx, got.ID, 1)
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("WithTx() error = %v", err)
		}
	}

	got, err := db.Images().GetByID(ctx, img.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.ReferenceCount != 1+workers {
		t.Errorf("ReferenceCount = %d, want %d", got.ReferenceCount, 1+workers)
	}
}
