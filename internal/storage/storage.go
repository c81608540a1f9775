// Package storage defines the Storage interface and path layout for photo blobs.
//
// New backends are added by implementing the Storage interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
// NewStorage wraps whatever backend is selected in a circuit breaker and a
// metrics decorator, so callers never talk to a raw backend.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Open when no blob exists at the path.
var ErrNotFound = errors.New("blob not found")

// Storage is the blob store gateway used by the rendition pipeline and the
// image delivery route.
type Storage interface {
	// Upload writes data at path, overwriting any existing blob.
	Upload(ctx context.Context, path string, data []byte, contentType string, metadata map[string]string) error

	// Exists reports whether a blob exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the blob at path and reports whether it existed.
	Delete(ctx context.Context, path string) (bool, error)

	// DeleteByPrefix removes every blob whose path starts with prefix and
	// returns how many were removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)

	// Open streams the blob at path. The caller must close Body.
	Open(ctx context.Context, path string) (*Object, error)

	// EnsureContainer creates the bucket or container if missing. Idempotent.
	EnsureContainer(ctx context.Context) error
}

// Object is an open blob.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}
