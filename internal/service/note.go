package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

// NoteInput is the payload for a new note.
type NoteInput struct {
	Title     string
	Content   string
	Favourite bool
	IsDiary   bool
}

// NoteUpdate is a partial update: nil fields keep their current value.
//
// BaseUpdateTime is an optional precondition. When set, the update only
// applies if the note's update_time still equals it; otherwise it fails with
// apperror.ErrConflict and nothing is written. A client that read a note,
// edited it, and sends back the update_time it read will never overwrite an
// edit it hasn't seen.
type NoteUpdate struct {
	Title     *string
	Content   *string
	Favourite *bool
	IsDiary   *bool

	BaseUpdateTime *int64
}

// NotePage is one page of a listing. More reports whether another page
// follows.
type NotePage struct {
	Notes []model.Note `json:"notes"`
	More  bool         `json:"more"`
}

// NoteService handles business logic for notes.
//
// Every write runs in one transaction that also reconciles the image
// reference counts against the new content. The note row is read with
// GetForUpdate first, so concurrent writes to the same note queue up behind
// each other and each one reconciles against the content the previous one
// committed.
type NoteService struct {
	store      repository.Store
	reconciler *Reconciler
	now        Clock
	logger     *slog.Logger
}

func NewNoteService(store repository.Store, reconciler *Reconciler, logger *slog.Logger) *NoteService {
	return &NoteService{
		store:      store,
		reconciler: reconciler,
		now:        systemClock,
		logger:     logger,
	}
}

// Create validates and saves a new note owned by userID, taking a reference
// on every image its content embeds.
func (s *NoteService) Create(ctx context.Context, userID string, in NoteInput) (*model.Note, error) {
	title, err := validateTitle(in.Title)
	if err != nil {
		return nil, err
	}
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}

	note := &model.Note{
		UserID:     userID,
		Title:      title,
		Content:    in.Content,
		Favourite:  in.Favourite,
		IsDiary:    in.IsDiary,
		UpdateTime: nextUpdateTime(s.now(), 0),
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.Notes().Create(ctx, note); err != nil {
			return err
		}
		return s.reconciler.Reconcile(ctx, tx, userID, "", note.Content)
	})
	if err != nil {
		return nil, s.writeFailed("create", 0, err)
	}

	s.logger.Info("note created",
		slog.Int64("id", note.ID),
		slog.String("userID", userID),
	)
	return note, nil
}

// Get returns a note. Returns apperror.ErrNotFound if it doesn't exist and
// apperror.ErrForbidden if it belongs to someone else.
func (s *NoteService) Get(ctx context.Context, noteID int64, userID string) (*model.Note, error) {
	note, err := s.store.Notes().GetByID(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if err := checkNoteOwner(note, userID); err != nil {
		return nil, err
	}
	return note, nil
}

// GetOverview is Get without the content.
func (s *NoteService) GetOverview(ctx context.Context, noteID int64, userID string) (*model.NoteOverview, error) {
	note, err := s.Get(ctx, noteID, userID)
	if err != nil {
		return nil, err
	}
	overview := note.Overview()
	return &overview, nil
}

// List returns a page of the user's notes, most recently updated first.
//
// One extra row is requested to find out whether another page exists
// without a separate COUNT query.
func (s *NoteService) List(ctx context.Context, userID string, opts repository.ListOptions) (*NotePage, error) {
	limit, offset := clampPage(opts.Limit, opts.Offset)
	opts.Limit = limit + 1
	opts.Offset = offset

	notes, err := s.store.Notes().List(ctx, userID, opts)
	if err != nil {
		s.logger.Error("failed to list notes",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("listing notes: %w", err)
	}

	page := &NotePage{Notes: notes}
	if len(notes) > limit {
		page.Notes = notes[:limit]
		page.More = true
	}
	return page, nil
}

// Update applies a partial update. update_time is bumped even when every
// field is unchanged.
func (s *NoteService) Update(ctx context.Context, noteID int64, userID string, upd NoteUpdate) (*model.Note, error) {
	if upd.Title != nil {
		title, err := validateTitle(*upd.Title)
		if err != nil {
			return nil, err
		}
		upd.Title = &title
	}
	if upd.Content != nil {
		if err := validateContent(*upd.Content); err != nil {
			return nil, err
		}
	}

	var note *model.Note
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		current, err := tx.Notes().GetForUpdate(ctx, noteID)
		if err != nil {
			return err
		}
		if err := checkNoteOwner(current, userID); err != nil {
			return err
		}
		if upd.BaseUpdateTime != nil && *upd.BaseUpdateTime != current.UpdateTime {
			return apperror.Conflict("note", strconv.FormatInt(noteID, 10))
		}

		prevContent := current.Content
		if upd.Title != nil {
			current.Title = *upd.Title
		}
		if upd.Content != nil {
			current.Content = *upd.Content
		}
		if upd.Favourite != nil {
			current.Favourite = *upd.Favourite
		}
		if upd.IsDiary != nil {
			current.IsDiary = *upd.IsDiary
		}
		current.UpdateTime = nextUpdateTime(s.now(), current.UpdateTime)

		if err := s.reconciler.Reconcile(ctx, tx, current.UserID, prevContent, current.Content); err != nil {
			return err
		}
		if err := tx.Notes().Update(ctx, current); err != nil {
			return err
		}
		note = current
		return nil
	})
	if err != nil {
		return nil, s.writeFailed("update", noteID, err)
	}

	s.logger.Info("note updated",
		slog.Int64("id", noteID),
		slog.Int64("updateTime", note.UpdateTime),
	)
	return note, nil
}

// SetFavourite flips the favourite flag.
func (s *NoteService) SetFavourite(ctx context.Context, noteID int64, userID string, favourite bool) (*model.Note, error) {
	return s.Update(ctx, noteID, userID, NoteUpdate{Favourite: &favourite})
}

// Delete removes a note and releases every image reference it held.
func (s *NoteService) Delete(ctx context.Context, noteID int64, userID string) error {
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		note, err := tx.Notes().GetForUpdate(ctx, noteID)
		if err != nil {
			return err
		}
		if err := checkNoteOwner(note, userID); err != nil {
			return err
		}
		if err := s.reconciler.Reconcile(ctx, tx, note.UserID, note.Content, ""); err != nil {
			return err
		}
		return tx.Notes().Delete(ctx, noteID)
	})
	if err != nil {
		return s.writeFailed("delete", noteID, err)
	}

	s.logger.Info("note deleted", slog.Int64("id", noteID))
	return nil
}

// writeFailed logs storage failures and passes every error through. Domain
// errors (not found, forbidden, invalid reference, conflict) are expected
// outcomes and are not logged as errors.
func (s *NoteService) writeFailed(op string, noteID int64, err error) error {
	if isAppError(err) {
		return err
	}
	s.logger.Error("note write failed",
		slog.String("op", op),
		slog.Int64("id", noteID),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("%s note: %w", op, err)
}

// checkNoteOwner is the owner rule shared by reads and writes.
func checkNoteOwner(note *model.Note, userID string) error {
	if note.UserID != userID {
		return apperror.Forbidden("you do not have permission to access this note")
	}
	return nil
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", apperror.ValidationFailed("title",
			fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
	}
	return title, nil
}

func validateContent(content string) error {
	if len(content) > MaxContentLength {
		return apperror.TooLarge("content", MaxContentLength)
	}
	if !utf8.ValidString(content) {
		return apperror.ValidationFailed("content", "content must be valid UTF-8")
	}
	return nil
}
