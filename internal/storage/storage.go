// Package storage owns the on-disk layout of uploaded assets: it allocates
// collision-free, date-partitioned paths, writes files atomically, deletes
// them idempotently and resolves stored paths back to bytes for serving.
//
// Callers only ever handle relative, slash-separated paths produced by the
// Allocator; absolute paths never leave this package except through a
// Location returned by Allocate.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when a stored path does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrInvalidPath is returned for relative paths that are absolute, unclean or escape the root.
	ErrInvalidPath = errors.New("storage: invalid path")

	// ErrStorageUnavailable is returned when the filesystem refuses a directory or file operation.
	ErrStorageUnavailable = errors.New("storage: unavailable")
)

// Location is a freshly allocated asset location.
type Location struct {
	RelativePath string // e.g. "profile-pictures/2026/10/<uuid>.jpg"
	AbsolutePath string
	URL          string
	Filename     string
}

// FileStat is the size and modification time of a stored file.
type FileStat struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// AssetStore is the physical write/delete interface used by the upload pipeline.
type AssetStore interface {
	// Write stores data at an absolute path returned by Allocate. The file is
	// either fully present or absent once Write returns.
	Write(ctx context.Context, data []byte, absolutePath string) error
	// Delete removes the file at a relative path. Missing files are not an error.
	Delete(ctx context.Context, relativePath string) error
	// Exists reports whether a file is present at a relative path.
	Exists(ctx context.Context, relativePath string) (bool, error)
	// Stat returns size and modification time for a relative path.
	Stat(ctx context.Context, relativePath string) (FileStat, error)
}

// Resolved is an asset opened for serving. Body must be closed by the caller.
type Resolved struct {
	ContentType  string
	Size         int64
	LastModified time.Time
	Body         io.ReadCloser
}
