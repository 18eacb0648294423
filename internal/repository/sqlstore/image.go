package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

var _ repository.ImageRepository = (*ImageDB)(nil)

// ImageDB reads and writes the images table.
type ImageDB struct {
	q querier
	d dialect
}

// Create stores a freshly uploaded image. Its count starts at 1: the
// uploader's reference, held until the image is explicitly deleted.
func (i *ImageDB) Create(ctx context.Context, img *model.Image) error {
	img.CreatedAt = time.Now().UTC()
	img.ReferenceCount = 1
	img.UploadReleased = false
	img.Size = len(img.Data)

	err := i.q.QueryRowContext(ctx, i.d.rebind(
		`INSERT INTO images (user_id, image, mime_type, reference_count, upload_released, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING id`),
		img.UserID,
		img.Data,
		img.MimeType,
		img.ReferenceCount,
		img.UploadReleased,
		img.CreatedAt,
	).Scan(&img.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: inserting image: %w", err)
	}
	return nil
}

func (i *ImageDB) GetByID(ctx context.Context, id int64) (*model.Image, error) {
	var img model.Image
	err := i.q.QueryRowContext(ctx, i.d.rebind(
		`SELECT id, user_id, image, mime_type, reference_count, upload_released, created_at
		 FROM images WHERE id = ?`), id,
	).Scan(
		&img.ID,
		&img.UserID,
		&img.Data,
		&img.MimeType,
		&img.ReferenceCount,
		&img.UploadReleased,
		&img.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, imageNotFound(id)
		}
		return nil, fmt.Errorf("sqlstore: getting image %d: %w", id, err)
	}
	img.Size = len(img.Data)
	return &img, nil
}

// Owner returns the id of the user who uploaded the image. It is the cheap
// existence check the reconciler runs for every newly referenced id, so it
// never touches the blob.
func (i *ImageDB) Owner(ctx context.Context, id int64) (string, error) {
	var userID string
	err := i.q.QueryRowContext(ctx, i.d.rebind(
		`SELECT user_id FROM images WHERE id = ?`), id,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", imageNotFound(id)
		}
		return "", fmt.Errorf("sqlstore: getting owner of image %d: %w", id, err)
	}
	return userID, nil
}

func (i *ImageDB) List(ctx context.Context, userID string) ([]model.Image, error) {
	rows, err := i.q.QueryContext(ctx, i.d.rebind(
		`SELECT id, user_id, mime_type, length(image), reference_count, upload_released, created_at
		 FROM images WHERE user_id = ?
		 ORDER BY id DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing images of user %s: %w", userID, err)
	}
	defer rows.Close()

	images := make([]model.Image, 0)
	for rows.Next() {
		var img model.Image
		if err := rows.Scan(
			&img.ID,
			&img.UserID,
			&img.MimeType,
			&img.Size,
			&img.ReferenceCount,
			&img.UploadReleased,
			&img.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlstore: scanning image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterating images: %w", err)
	}
	return images, nil
}

// AdjustReferenceCount adds delta to the image's count, clamping at zero.
// When the count reaches zero the row is deleted before returning, so no
// reader of the same database ever sees an image with count 0.
//
// Must run inside Store.WithTx for the UPDATE and DELETE to be atomic.
func (i *ImageDB) AdjustReferenceCount(ctx context.Context, id int64, delta int) (int, bool, error) {
	var count int
	err := i.q.QueryRowContext(ctx, i.d.rebind(
		`UPDATE images
		 SET reference_count = `+i.d.greatest()+`(reference_count + ?, 0)
		 WHERE id = ?
		 RETURNING reference_count`),
		delta, id,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, imageNotFound(id)
		}
		return 0, false, fmt.Errorf("sqlstore: adjusting reference count of image %d: %w", id, err)
	}
	return i.deleteIfUnreferenced(ctx, id, count)
}

// ReleaseUpload drops the uploader's reference. The upload_released guard in
// the WHERE clause makes a second release a no-op that reports NotFound.
func (i *ImageDB) ReleaseUpload(ctx context.Context, id int64) (int, bool, error) {
	var count int
	err := i.q.QueryRowContext(ctx, i.d.rebind(
		`UPDATE images
		 SET upload_released = TRUE,
		     reference_count = `+i.d.greatest()+`(reference_count - 1, 0)
		 WHERE id = ? AND upload_released = FALSE
		 RETURNING reference_count`),
		id,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, imageNotFound(id)
		}
		return 0, false, fmt.Errorf("sqlstore: releasing upload of image %d: %w", id, err)
	}
	return i.deleteIfUnreferenced(ctx, id, count)
}

func (i *ImageDB) deleteIfUnreferenced(ctx context.Context, id int64, count int) (int, bool, error) {
	if count > 0 {
		return count, false, nil
	}
	if _, err := i.q.ExecContext(ctx, i.d.rebind(
		`DELETE FROM images WHERE id = ? AND reference_count = 0`), id); err != nil {
		return 0, false, fmt.Errorf("sqlstore: deleting unreferenced image %d: %w", id, err)
	}
	return 0, true, nil
}

func (i *ImageDB) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result, err := i.q.ExecContext(ctx, i.d.rebind(`DELETE FROM images WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: deleting images of user %s: %w", userID, err)
	}
	return result.RowsAffected()
}

func imageNotFound(id int64) error {
	return apperror.NotFound("image", strconv.FormatInt(id, 10))
}
