package storage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CategoryProfilePictures is the top-level directory for profile pictures.
const CategoryProfilePictures = "profile-pictures"

const (
	assetExt        = ".jpg"
	thumbnailPrefix = "thumb_"
)

// Allocator derives unique, date-partitioned locations under a storage root.
// It is the only component that creates directories in the tree.
type Allocator struct {
	root       string
	publicBase string
	now        func() time.Time
}

// NewAllocator creates an Allocator rooted at root. publicBase is the URL
// prefix under which relative paths are served.
func NewAllocator(root, publicBase string) (*Allocator, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	a := &Allocator{
		root:       abs,
		publicBase: strings.TrimRight(publicBase, "/"),
		now:        time.Now,
	}
	if err := a.EnsureDir(abs); err != nil {
		return nil, err
	}
	return a, nil
}

// Root returns the absolute storage root.
func (a *Allocator) Root() string {
	return a.root
}

// Allocate returns a new location {category}/{year}/{month}/{uuid}.jpg and
// creates its directory. The identifier is a random v4 UUID, so paths are
// never reused and cannot be enumerated.
func (a *Allocator) Allocate(category string) (Location, error) {
	category = strings.Trim(strings.TrimSpace(category), "/")
	if category == "" || strings.Contains(category, "..") {
		return Location{}, fmt.Errorf("%w: category %q", ErrInvalidPath, category)
	}

	now := a.now().UTC()
	id, err := uuid.NewRandom()
	if err != nil {
		return Location{}, fmt.Errorf("%w: generate id: %w", ErrStorageUnavailable, err)
	}

	dir := path.Join(category, fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", int(now.Month())))
	loc := a.locate(path.Join(dir, id.String()+assetExt))
	if err := a.EnsureDir(filepath.Dir(loc.AbsolutePath)); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// Thumbnail returns the thumbnail location paired with a primary relative
// path. It lives next to the primary with a "thumb_" filename prefix.
func (a *Allocator) Thumbnail(primaryRelative string) (Location, error) {
	if !isPathSafe(primaryRelative) {
		return Location{}, ErrInvalidPath
	}
	dir, name := path.Split(primaryRelative)
	if strings.HasPrefix(name, thumbnailPrefix) {
		return Location{}, fmt.Errorf("%w: %q is already a thumbnail", ErrInvalidPath, name)
	}
	loc := a.locate(path.Join(dir, thumbnailPrefix+name))
	if err := a.EnsureDir(filepath.Dir(loc.AbsolutePath)); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// ThumbnailPath returns the thumbnail relative path for a primary relative path.
func ThumbnailPath(primaryRelative string) string {
	dir, name := path.Split(primaryRelative)
	return path.Join(dir, thumbnailPrefix+name)
}

// PrimaryPath returns the primary relative path a thumbnail belongs to.
// Other paths are returned unchanged.
func PrimaryPath(relative string) string {
	dir, name := path.Split(relative)
	if !strings.HasPrefix(name, thumbnailPrefix) {
		return relative
	}
	return dir + strings.TrimPrefix(name, thumbnailPrefix)
}

// IsThumbnail reports whether a relative path names a thumbnail.
func IsThumbnail(relative string) bool {
	return strings.HasPrefix(path.Base(relative), thumbnailPrefix)
}

// URL returns the public URL for a relative path.
func (a *Allocator) URL(relative string) string {
	return a.publicBase + "/" + relative
}

// EnsureDir creates dir and its parents. An existing directory, including
// one created concurrently by another request, is success.
func (a *Allocator) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
				return nil
			}
		}
		return fmt.Errorf("%w: create directory: %w", ErrStorageUnavailable, err)
	}
	return nil
}

func (a *Allocator) locate(relative string) Location {
	return Location{
		RelativePath: relative,
		AbsolutePath: filepath.Join(a.root, filepath.FromSlash(relative)),
		URL:          a.URL(relative),
		Filename:     path.Base(relative),
	}
}
