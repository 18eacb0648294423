package model

import "time"

// Image is an uploaded binary image.
//
// ReferenceCount is the number of live notes embedding the image, plus one
// for the uploader until UploadReleased is set by an explicit delete. The row
// is removed in the same transaction that takes the count to zero, so a
// loaded Image always has ReferenceCount >= 1.
type Image struct {
	ID             int64     `json:"id"             db:"id"`
	UserID         string    `json:"-"              db:"user_id"`
	Data           []byte    `json:"-"              db:"image"`
	MimeType       string    `json:"mimeType"       db:"mime_type"`
	Size           int       `json:"size"`
	ReferenceCount int       `json:"referenceCount" db:"reference_count"`
	UploadReleased bool      `json:"uploadReleased" db:"upload_released"`
	CreatedAt      time.Time `json:"createdAt"      db:"created_at"`
}
