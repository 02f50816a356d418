package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore implements AssetStore on the local filesystem.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at the given absolute directory.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: filepath.Clean(root)}
}

// Write writes data to a temp file in the destination directory, syncs it
// and renames it into place. Readers never observe a truncated file.
func (s *LocalStore) Write(ctx context.Context, data []byte, absolutePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.contains(absolutePath) {
		return ErrInvalidPath
	}

	dir := filepath.Dir(absolutePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create directory: %w", ErrStorageUnavailable, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrStorageUnavailable, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("%w: write: %w", ErrStorageUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("%w: sync: %w", ErrStorageUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close: %w", ErrStorageUnavailable, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("%w: chmod: %w", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmpPath, absolutePath); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Delete removes a stored file. Missing files are ignored.
func (s *LocalStore) Delete(ctx context.Context, relativePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.pathFor(relativePath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: delete: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Exists reports whether a regular file is present at relativePath.
func (s *LocalStore) Exists(ctx context.Context, relativePath string) (bool, error) {
	if _, err := s.Stat(ctx, relativePath); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Stat returns size and modification time of the file at relativePath.
func (s *LocalStore) Stat(ctx context.Context, relativePath string) (FileStat, error) {
	if err := ctx.Err(); err != nil {
		return FileStat{}, err
	}
	full, err := s.pathFor(relativePath)
	if err != nil {
		return FileStat{}, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FileStat{}, ErrNotFound
		}
		return FileStat{}, fmt.Errorf("%w: stat: %w", ErrStorageUnavailable, err)
	}
	if info.IsDir() {
		return FileStat{}, ErrNotFound
	}
	return FileStat{Path: relativePath, Size: info.Size(), LastModified: info.ModTime()}, nil
}

// List walks every regular file under prefix. Temp files left by an
// interrupted Write are skipped.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]FileStat, error) {
	full, err := s.pathFor(prefix)
	if err != nil {
		return nil, err
	}

	var results []FileStat
	err = filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		results = append(results, FileStat{
			Path:         filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrStorageUnavailable, err)
	}
	return results, nil
}

// Open opens the file at relativePath for reading.
func (s *LocalStore) Open(ctx context.Context, relativePath string) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if hasHiddenSegment(relativePath) {
		return nil, ErrInvalidPath
	}
	full, err := s.pathFor(relativePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: open: %w", ErrStorageUnavailable, err)
	}
	return f, nil
}

func (s *LocalStore) pathFor(relativePath string) (string, error) {
	if !isPathSafe(relativePath) {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.root, filepath.FromSlash(relativePath)), nil
}

func (s *LocalStore) contains(absolutePath string) bool {
	rel, err := filepath.Rel(s.root, filepath.Clean(absolutePath))
	if err != nil {
		return false
	}
	return isPathSafe(filepath.ToSlash(rel))
}

// isPathSafe accepts only clean, relative, slash-separated paths that stay
// inside the root.
func isPathSafe(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

// hasHiddenSegment reports whether any segment of p starts with a dot.
// In-flight temp files are dot-prefixed and must never be served.
func hasHiddenSegment(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
