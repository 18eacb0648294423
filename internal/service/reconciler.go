package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/content"
	"github.com/sakif/journal/internal/repository"
)

// Reconciler keeps image reference counts in step with note content.
//
// It is the only code that changes reference_count after an upload (apart
// from the explicit release in ImageService.Delete). It never opens a
// transaction of its own: the caller passes the note write's transaction, so
// the count changes commit or roll back together with the content.
//
// THE ALGORITHM:
//
//	old   = refs(content before)    read under the note row lock
//	new   = refs(content after)
//	added   = new − old   → each must exist and belong to the note's owner, +1
//	removed = old − new   → −1, deleting the image when it reaches zero
//
// Only set membership matters: embedding the same image twice in one note
// counts once, and reordering references changes nothing.
//
// LOCK ORDER:
// The caller already holds the note row. Image rows are then touched in
// ascending id order, added and removed interleaved. Two transactions can
// therefore never wait on each other's image rows in a cycle.
type Reconciler struct {
	extract content.Extractor
	logger  *slog.Logger
}

// NewReconciler creates a Reconciler. A nil extractor means content.ImageRefs.
func NewReconciler(extract content.Extractor, logger *slog.Logger) *Reconciler {
	if extract == nil {
		extract = content.ImageRefs
	}
	return &Reconciler{extract: extract, logger: logger}
}

// Reconcile applies the reference changes between prevContent and
// nextContent for a note owned by ownerID.
//
// An added reference to a missing image, or to another user's image, fails
// with apperror.ErrInvalidReference and the caller must roll back. A removed
// reference whose image is already gone is logged and skipped: a stale
// reference must never make a note impossible to edit or delete.
func (r *Reconciler) Reconcile(ctx context.Context, tx repository.Tx, ownerID, prevContent, nextContent string) error {
	added, removed := content.Diff(r.extract(prevContent), r.extract(nextContent))
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	images := tx.Images()
	i, j := 0, 0
	for i < len(added) || j < len(removed) {
		// Merge step: always take the smaller id next. An id can't be in
		// both lists.
		if j >= len(removed) || (i < len(added) && added[i] < removed[j]) {
			if err := r.addRef(ctx, images, ownerID, added[i]); err != nil {
				return err
			}
			i++
			continue
		}
		if err := r.removeRef(ctx, images, removed[j]); err != nil {
			return err
		}
		j++
	}
	return nil
}

func (r *Reconciler) addRef(ctx context.Context, images repository.ImageRepository, ownerID string, id int64) error {
	owner, err := images.Owner(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.InvalidReference(id)
		}
		return fmt.Errorf("checking image %d: %w", id, err)
	}
	if owner != ownerID {
		// Same error as a missing image: don't reveal that the id exists.
		return apperror.InvalidReference(id)
	}

	if _, _, err := images.AdjustReferenceCount(ctx, id, +1); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// Deleted between the owner check and the increment.
			return apperror.InvalidReference(id)
		}
		return fmt.Errorf("incrementing image %d: %w", id, err)
	}
	return nil
}

func (r *Reconciler) removeRef(ctx context.Context, images repository.ImageRepository, id int64) error {
	count, deleted, err := images.AdjustReferenceCount(ctx, id, -1)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			r.logger.Warn("note dropped a reference to a missing image",
				slog.Int64("imageID", id),
			)
			return nil
		}
		return fmt.Errorf("decrementing image %d: %w", id, err)
	}
	if deleted {
		r.logger.Info("image garbage-collected", slog.Int64("imageID", id))
	} else {
		r.logger.Debug("image reference dropped",
			slog.Int64("imageID", id),
			slog.Int("count", count),
		)
	}
	return nil
}
