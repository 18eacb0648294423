package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/journal/internal/apperror"
)

func TestImageUpload(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "up@example.com")

	img, err := f.images.Upload(context.Background(), user.ID, pngBytes, "Image/PNG; charset=binary")
	require.NoError(t, err)

	assert.NotZero(t, img.ID)
	assert.Equal(t, "image/png", img.MimeType, "normalised")
	assert.Equal(t, 1, img.ReferenceCount)
	assert.Equal(t, len(pngBytes), img.Size)
}

func TestImageUpload_SniffsMissingType(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "sniff@example.com")

	for _, declared := range []string{"", "application/octet-stream"} {
		img, err := f.images.Upload(context.Background(), user.ID, pngBytes, declared)
		require.NoError(t, err, "declared %q", declared)
		assert.Equal(t, "image/png", img.MimeType)
	}
}

func TestImageUpload_Rejects(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "reject@example.com")
	ctx := context.Background()

	tests := []struct {
		name     string
		data     []byte
		mimeType string
		want     error
	}{
		{"empty", nil, "image/png", apperror.ErrValidation},
		{"too large", make([]byte, f.images.MaxBytes()+1), "image/png", apperror.ErrTooLarge},
		{"not an image", []byte("hello"), "text/plain", apperror.ErrValidation},
		{"sniffed text", []byte("just some text"), "", apperror.ErrValidation},
		{"malformed type", pngBytes, "image/png; =", apperror.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.images.Upload(ctx, user.ID, tt.data, tt.mimeType)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestImageFetch_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice@example.com")
	bob := f.newUser(t, "bob@example.com")
	img := f.upload(t, alice.ID)

	got, err := f.images.Fetch(ctx, img.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, got.Data)

	_, err = f.images.Fetch(ctx, img.ID, bob.ID)
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = f.images.Fetch(ctx, img.ID+1000, alice.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestImageList(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "list@example.com")
	f.upload(t, user.ID)
	f.upload(t, user.ID)

	images, err := f.images.List(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Len(t, images, 2)
}

func TestImageDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.newUser(t, "alice@example.com")
	bob := f.newUser(t, "bob@example.com")
	img := f.upload(t, alice.ID)

	assert.ErrorIs(t, f.images.Delete(ctx, img.ID, bob.ID), apperror.ErrForbidden)
	assert.True(t, f.imageExists(t, img.ID))

	require.NoError(t, f.images.Delete(ctx, img.ID, alice.ID))
	assert.False(t, f.imageExists(t, img.ID), "unreferenced image is removed at once")

	assert.ErrorIs(t, f.images.Delete(ctx, img.ID, alice.ID), apperror.ErrNotFound)
}
