package storage

import (
	"context"
	"path"
	"strings"
)

const fallbackContentType = "application/octet-stream"

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ContentTypeFor maps a path's extension to a MIME type. Unknown extensions
// map to application/octet-stream.
func ContentTypeFor(p string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(p))]; ok {
		return ct
	}
	return fallbackContentType
}

// Reader resolves stored relative paths to readable content.
type Reader struct {
	store *LocalStore
}

// NewReader creates a Reader over store.
func NewReader(store *LocalStore) *Reader {
	return &Reader{store: store}
}

// Resolve opens relativePath and returns its content metadata. A path that
// disappeared since its reference was read yields ErrNotFound.
func (r *Reader) Resolve(ctx context.Context, relativePath string) (*Resolved, error) {
	f, err := r.store.Open(ctx, relativePath)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ErrNotFound
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, ErrNotFound
	}
	return &Resolved{
		ContentType:  ContentTypeFor(relativePath),
		Size:         info.Size(),
		LastModified: info.ModTime(),
		Body:         f,
	}, nil
}
