package service

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/sakif/journal/internal/apperror"
	"github.com/sakif/journal/internal/model"
	"github.com/sakif/journal/internal/repository"
)

// DefaultMaxImageBytes is the upload limit when none is configured: 10 MiB.
const DefaultMaxImageBytes = 10 << 20

// ImageService handles image uploads and downloads.
//
// REFERENCE COUNTING:
// A new image starts with reference_count = 1, the uploader's own reference.
// Notes embedding the image add one each (see Reconciler). Delete gives up
// the uploader's reference; the row disappears when the count reaches zero,
// i.e. when it is released AND no note embeds it any more.
type ImageService struct {
	store    repository.Store
	maxBytes int64
	logger   *slog.Logger
}

// NewImageService creates an ImageService. maxBytes <= 0 means
// DefaultMaxImageBytes.
func NewImageService(store repository.Store, maxBytes int64, logger *slog.Logger) *ImageService {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &ImageService{store: store, maxBytes: maxBytes, logger: logger}
}

// MaxBytes is the largest accepted upload.
func (s *ImageService) MaxBytes() int64 { return s.maxBytes }

// Upload stores an image owned by userID.
//
// mimeType is the client's Content-Type. It is normalised (parameters
// dropped, lower-cased); when it is empty or the generic
// application/octet-stream the type is sniffed from the bytes instead. The
// result must be image/*. The bytes themselves are not validated.
func (s *ImageService) Upload(ctx context.Context, userID string, data []byte, mimeType string) (*model.Image, error) {
	if len(data) == 0 {
		return nil, apperror.ValidationFailed("image", "image is empty")
	}
	if int64(len(data)) > s.maxBytes {
		return nil, apperror.TooLarge("image", s.maxBytes)
	}

	mediaType, err := imageMediaType(mimeType, data)
	if err != nil {
		return nil, err
	}

	img := &model.Image{
		UserID:   userID,
		Data:     data,
		MimeType: mediaType,
	}
	if err := s.store.Images().Create(ctx, img); err != nil {
		s.logger.Error("failed to store image",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("storing image: %w", err)
	}

	s.logger.Info("image uploaded",
		slog.Int64("id", img.ID),
		slog.String("userID", userID),
		slog.String("mimeType", mediaType),
		slog.Int("size", img.Size),
	)
	return img, nil
}

// Fetch returns an image with its bytes. Only the uploader may read it.
// Notes can only embed their owner's images, so the uploader is also the
// only user whose notes can show it.
func (s *ImageService) Fetch(ctx context.Context, imageID int64, userID string) (*model.Image, error) {
	img, err := s.store.Images().GetByID(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if img.UserID != userID {
		return nil, apperror.Forbidden("you do not have permission to access this image")
	}
	return img, nil
}

// List returns metadata for the user's images, newest first.
func (s *ImageService) List(ctx context.Context, userID string) ([]model.Image, error) {
	images, err := s.store.Images().List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	return images, nil
}

// Delete gives up the uploader's reference. If no note embeds the image it
// is removed at once; otherwise it lives until the last note stops
// embedding it. Deleting the same image twice returns apperror.ErrNotFound.
func (s *ImageService) Delete(ctx context.Context, imageID int64, userID string) error {
	var deleted bool
	var remaining int
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		owner, err := tx.Images().Owner(ctx, imageID)
		if err != nil {
			return err
		}
		if owner != userID {
			return apperror.Forbidden("you do not have permission to delete this image")
		}
		remaining, deleted, err = tx.Images().ReleaseUpload(ctx, imageID)
		return err
	})
	if err != nil {
		if !isAppError(err) {
			s.logger.Error("failed to delete image",
				slog.Int64("id", imageID),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("deleting image %d: %w", imageID, err)
		}
		return err
	}

	s.logger.Info("image released",
		slog.Int64("id", imageID),
		slog.Bool("deleted", deleted),
		slog.Int("referencingNotes", remaining),
	)
	return nil
}

func imageMediaType(declared string, data []byte) (string, error) {
	declared = strings.TrimSpace(declared)
	if declared == "" || strings.HasPrefix(strings.ToLower(declared), "application/octet-stream") {
		declared = http.DetectContentType(data)
	}

	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", apperror.ValidationFailed("mimeType", "invalid content type")
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return "", apperror.ValidationFailed("mimeType",
			fmt.Sprintf("content type %q is not an image", mediaType))
	}
	return mediaType, nil
}
