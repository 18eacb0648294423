package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

var _ repository.NoteRepository = (*NoteDB)(nil)

// NoteDB reads and writes the notes table.
type NoteDB struct {
	q querier
	d dialect
}

const noteColumns = `id, user_id, title, content, favourite, is_diary, update_time, created_at`

// Create inserts a note and sets its ID and CreatedAt. UpdateTime must already
// be set by the caller.
func (n *NoteDB) Create(ctx context.Context, note *model.Note) error {
	note.CreatedAt = time.Now().UTC()

	err := n.q.QueryRowContext(ctx, n.d.rebind(
		`INSERT INTO notes (user_id, title, content, favourite, is_diary, update_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`),
		note.UserID,
		note.Title,
		note.Content,
		note.Favourite,
		note.IsDiary,
		note.UpdateTime,
		note.CreatedAt,
	).Scan(&note.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: inserting note: %w", err)
	}
	return nil
}

func (n *NoteDB) GetByID(ctx context.Context, id int64) (*model.Note, error) {
	return n.get(ctx, id, "")
}

// GetForUpdate is GetByID plus a row lock on PostgreSQL. On SQLite the
// surrounding transaction already holds the write lock (BEGIN IMMEDIATE).
func (n *NoteDB) GetForUpdate(ctx context.Context, id int64) (*model.Note, error) {
	return n.get(ctx, id, n.d.forUpdate())
}

func (n *NoteDB) get(ctx context.Context, id int64, suffix string) (*model.Note, error) {
	row := n.q.QueryRowContext(ctx, n.d.rebind(
		`SELECT `+noteColumns+` FROM notes WHERE id = ?`+suffix), id)

	note, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("note", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlstore: getting note %d: %w", id, err)
	}
	return note, nil
}

// List returns a user's notes, most recently updated first.
//
// PAGINATION:
// LIMIT/OFFSET is fine here: a single user's notes number in the thousands
// at most. Callers that want a "more pages" flag ask for Limit+1 rows.
func (n *NoteDB) List(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Note, error) {
	cols := noteColumns
	if opts.WithoutContent {
		cols = strings.Replace(cols, "content", "'' AS content", 1)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + cols + ` FROM notes WHERE user_id = ?`)
	args := []any{userID}

	if opts.DiaryOnly {
		b.WriteString(` AND is_diary = ?`)
		args = append(args, true)
	}
	if opts.FavouritesOnly {
		b.WriteString(` AND favourite = ?`)
		args = append(args, true)
	}
	b.WriteString(` ORDER BY update_time DESC, id DESC`)

	if opts.Limit > 0 {
		b.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, opts.Limit, opts.Offset)
	}

	rows, err := n.q.QueryContext(ctx, n.d.rebind(b.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing notes of user %s: %w", userID, err)
	}
	defer rows.Close()

	// Non-nil so an empty page encodes as [] rather than null.
	notes := make([]model.Note, 0)
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scanning note: %w", err)
		}
		notes = append(notes, *note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterating notes: %w", err)
	}
	return notes, nil
}

// Update overwrites every mutable column of the note.
func (n *NoteDB) Update(ctx context.Context, note *model.Note) error {
	result, err := n.q.ExecContext(ctx, n.d.rebind(
		`UPDATE notes
		 SET title = ?, content = ?, favourite = ?, is_diary = ?, update_time = ?
		 WHERE id = ?`),
		note.Title,
		note.Content,
		note.Favourite,
		note.IsDiary,
		note.UpdateTime,
		note.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: updating note %d: %w", note.ID, err)
	}
	return requireAffected(result, "note", strconv.FormatInt(note.ID, 10))
}

func (n *NoteDB) Delete(ctx context.Context, id int64) error {
	result, err := n.q.ExecContext(ctx, n.d.rebind(`DELETE FROM notes WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("sqlstore: deleting note %d: %w", id, err)
	}
	return requireAffected(result, "note", strconv.FormatInt(id, 10))
}

func (n *NoteDB) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result, err := n.q.ExecContext(ctx, n.d.rebind(`DELETE FROM notes WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: deleting notes of user %s: %w", userID, err)
	}
	return result.RowsAffected()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanNote(s scanner) (*model.Note, error) {
	var note model.Note
	err := s.Scan(
		&note.ID,
		&note.UserID,
		&note.Title,
		&note.Content,
		&note.Favourite,
		&note.IsDiary,
		&note.UpdateTime,
		&note.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &note, nil
}
