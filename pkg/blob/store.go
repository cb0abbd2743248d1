// Package blob provides the object store used for crawled pages, grievance
// reports, knowledge-base artifacts, and progress reports.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound indicates the requested object does not exist.
var ErrNotFound = errors.New("blob not found")

// Object is a stored blob's listing entry.
type Object struct {
	Path string
	Size int64
}

// Store is the object store interface. Writes are idempotent by path within
// a stage; cross-stage conflicts are prevented by disjoint path prefixes.
type Store interface {
	// Upload writes data at path with the given content type. Re-uploading
	// the same path overwrites, which is only done for idempotent
	// republishes by the same stage.
	Upload(ctx context.Context, path string, data []byte, contentType string) error

	// Download reads the object at path. Returns ErrNotFound if absent.
	Download(ctx context.Context, path string) ([]byte, error)

	// List returns the objects under prefix.
	List(ctx context.Context, prefix string) ([]Object, error)

	// URL returns a stable reference for the object at path.
	URL(path string) string
}
