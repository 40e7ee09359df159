// Package storage abstracts where uploaded files live. The s3 driver
// targets MinIO or any S3-compatible endpoint and issues expiring
// presigned URLs; the local driver serves files from disk with URLs that
// never expire.
package storage

import (
	"context"
	"io"
	"time"
)

// StoredObject describes one uploaded file as seen by media references.
type StoredObject struct {
	Key         string
	URL         string
	ExpiresAt   *time.Time
	ContentType string
	SizeBytes   int64
}

type ObjectStore interface {
	// Upload persists the content and returns its reference, including a
	// URL the client can fetch it from.
	Upload(ctx context.Context, key, contentType string, size int64, r io.Reader) (*StoredObject, error)
	// Refresh re-issues the access URL for an existing object.
	Refresh(ctx context.Context, key, contentType string, size int64) (*StoredObject, error)
	// Delete removes the object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error
}
