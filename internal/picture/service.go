// Package picture ingests profile pictures: it validates an untrusted
// upload, derives the 300x300 primary and 100x100 thumbnail renditions,
// writes them to local storage and links the primary to the owner's record.
//
// The owner record is the commit point. Files are written first and removed
// again on any failure before the link, so a failed upload leaves both the
// storage tree and the owner's reference exactly as they were.
package picture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/staffhub/service/internal/imaging"
	"github.com/staffhub/service/internal/storage"
	"github.com/staffhub/service/internal/user"
)

// State is a stage of the upload state machine.
type State string

const (
	StateReceived         State = "received"
	StateValidated        State = "validated"
	StatePrimaryWritten   State = "primary_written"
	StateThumbnailWritten State = "thumbnail_written"
	StateLinked           State = "linked"
	StateFailed           State = "failed"
)

// OwnerStore reads and compare-and-swaps the picture reference on an owner record.
type OwnerStore interface {
	GetProfilePicture(ctx context.Context, ownerID string) (*user.ProfilePicture, error)
	SwapProfilePicture(ctx context.Context, ownerID string, prev, next *user.ProfilePicture) error
}

// UploadRequest is one incoming upload. Data is the full file content.
type UploadRequest struct {
	OwnerID     string
	Filename    string
	ContentType string
	Data        []byte
}

// Asset is one stored rendition.
type Asset struct {
	StoragePath string    `json:"path"`
	PublicURL   string    `json:"url"`
	Filename    string    `json:"filename"`
	UploadedAt  time.Time `json:"uploadedAt"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	ByteSize    int64     `json:"size"`
}

// UploadResult describes a linked upload.
type UploadResult struct {
	ProfilePicture user.ProfilePicture `json:"profilePicture"`
	Primary        Asset               `json:"primary"`
	Thumbnail      Asset               `json:"thumbnail"`
	DominantColor  string              `json:"dominantColor"`
}

// Service runs the upload, removal and resolve operations.
type Service struct {
	alloc       *storage.Allocator
	store       storage.AssetStore
	reader      *storage.Reader
	validator   *imaging.Validator
	transformer *imaging.Transformer
	owners      OwnerStore
	logger      *slog.Logger
	now         func() time.Time
}

// NewService wires the pipeline components.
func NewService(
	alloc *storage.Allocator,
	store storage.AssetStore,
	reader *storage.Reader,
	validator *imaging.Validator,
	transformer *imaging.Transformer,
	owners OwnerStore,
	logger *slog.Logger,
) *Service {
	return &Service{
		alloc:       alloc,
		store:       store,
		reader:      reader,
		validator:   validator,
		transformer: transformer,
		owners:      owners,
		logger:      logger,
		now:         time.Now,
	}
}

// attempt tracks one upload: its state and the files it wrote, in order.
type attempt struct {
	svc     *Service
	ownerID string
	state   State
	written []string
	logger  *slog.Logger
}

// Upload validates, transforms, stores and links a new profile picture.
// On success the previous picture's files are deleted; on failure every
// file written by this attempt is deleted and the owner record is untouched.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	u := &attempt{
		svc:     s,
		ownerID: req.OwnerID,
		state:   StateReceived,
		logger:  s.logger.With("owner_id", req.OwnerID, "request_id", chiMiddleware.GetReqID(ctx)),
	}
	res, err := u.run(ctx, req)
	if err != nil {
		u.rollback(ctx, err)
		return nil, err
	}
	return res, nil
}

func (u *attempt) run(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	s := u.svc
	if err := ctx.Err(); err != nil {
		return nil, u.fail(newError(ErrInvalidInput, "upload_incomplete", "upload was cancelled", err))
	}

	// Received -> Validated
	checked := s.validator.Validate(req.Data, req.Filename)
	if !checked.Accepted {
		return nil, u.fail(newError(ErrInvalidInput, checked.Code, checked.Reason, nil))
	}
	u.transition(StateValidated, "format", checked.Format, "declared_type", req.ContentType, "width", checked.Width, "height", checked.Height)

	prev, err := s.owners.GetProfilePicture(ctx, u.ownerID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, u.fail(newError(ErrNotFound, "not_found", "user not found", err))
		}
		return nil, u.fail(newError(ErrLinkFailed, "link_failed", "could not read current profile picture", err))
	}

	// Validated -> PrimaryWritten
	primaryLoc, err := s.alloc.Allocate(storage.CategoryProfilePictures)
	if err != nil {
		return nil, u.fail(storageError(err))
	}
	primary, err := s.transformer.Primary(ctx, checked.Image)
	if err != nil {
		return nil, u.fail(newError(ErrProcessingFailed, "processing_failed", "image could not be processed", err))
	}
	if err := u.write(ctx, primary.Data, primaryLoc); err != nil {
		return nil, u.fail(err)
	}
	u.transition(StatePrimaryWritten, "bytes", primary.ByteSize)

	// PrimaryWritten -> ThumbnailWritten
	thumbLoc, err := s.alloc.Thumbnail(primaryLoc.RelativePath)
	if err != nil {
		return nil, u.fail(storageError(err))
	}
	thumb, err := s.transformer.Thumbnail(ctx, primary.Data)
	if err != nil {
		return nil, u.fail(newError(ErrProcessingFailed, "processing_failed", "thumbnail could not be generated", err))
	}
	if err := u.write(ctx, thumb.Data, thumbLoc); err != nil {
		return nil, u.fail(err)
	}
	u.transition(StateThumbnailWritten, "bytes", thumb.ByteSize)

	// ThumbnailWritten -> Linked
	uploadedAt := s.now().UTC().Truncate(time.Microsecond)
	next := &user.ProfilePicture{
		Path:       primaryLoc.RelativePath,
		URL:        primaryLoc.URL,
		Filename:   primaryLoc.Filename,
		UploadedAt: uploadedAt,
	}
	if err := s.owners.SwapProfilePicture(ctx, u.ownerID, prev, next); err != nil {
		switch {
		case errors.Is(err, user.ErrStaleProfilePicture):
			return nil, u.fail(newError(ErrLinkFailed, "stale_reference", "profile picture was changed by another upload; retry", err))
		case errors.Is(err, user.ErrNotFound):
			return nil, u.fail(newError(ErrNotFound, "not_found", "user not found", err))
		default:
			return nil, u.fail(newError(ErrLinkFailed, "link_failed", "profile picture could not be saved", err))
		}
	}
	u.transition(StateLinked, "path", next.Path)

	if prev != nil {
		s.deleteAssets(ctx, u.logger, prev.Path)
	}

	return &UploadResult{
		ProfilePicture: *next,
		Primary:        assetFor(primaryLoc, primary, uploadedAt),
		Thumbnail:      assetFor(thumbLoc, thumb, uploadedAt),
		DominantColor:  imaging.DominantColor(checked.Image),
	}, nil
}

// write stores data at loc and records it for rollback.
func (u *attempt) write(ctx context.Context, data []byte, loc storage.Location) *Error {
	u.written = append(u.written, loc.RelativePath)
	if err := u.svc.store.Write(ctx, data, loc.AbsolutePath); err != nil {
		return storageError(err)
	}
	return nil
}

func (u *attempt) transition(next State, attrs ...any) {
	u.logger.Debug("upload state", append([]any{"from", u.state, "to", next}, attrs...)...)
	u.state = next
}

func (u *attempt) fail(err *Error) *Error {
	level := slog.LevelWarn
	if errors.Is(err, ErrInvalidInput) {
		level = slog.LevelInfo
	}
	u.logger.Log(context.Background(), level, "upload failed", "stage", u.state, "code", err.Code, "err", err)
	u.state = StateFailed
	return err
}

// rollback deletes the files written by this attempt in reverse order.
// Delete failures are logged and never replace the original error.
func (u *attempt) rollback(ctx context.Context, cause error) {
	if len(u.written) == 0 {
		return
	}
	cleanupCtx := context.WithoutCancel(ctx)
	for i := len(u.written) - 1; i >= 0; i-- {
		p := u.written[i]
		if err := u.svc.store.Delete(cleanupCtx, p); err != nil {
			u.logger.Warn("rollback delete failed", "path", p, "err", err, "cause", cause)
		}
	}
	u.written = nil
}

// Remove clears the owner's picture reference and then deletes its files.
// A failed delete leaves orphaned files but never a dangling reference.
func (s *Service) Remove(ctx context.Context, ownerID string) error {
	logger := s.logger.With("owner_id", ownerID)

	prev, err := s.owners.GetProfilePicture(ctx, ownerID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return newError(ErrNotFound, "not_found", "user not found", err)
		}
		return newError(ErrLinkFailed, "link_failed", "could not read current profile picture", err)
	}
	if prev == nil {
		return newError(ErrNotFound, "not_found", "no profile picture to remove", nil)
	}

	if err := s.owners.SwapProfilePicture(ctx, ownerID, prev, nil); err != nil {
		if errors.Is(err, user.ErrStaleProfilePicture) {
			return newError(ErrLinkFailed, "stale_reference", "profile picture was changed by another request; retry", err)
		}
		return newError(ErrLinkFailed, "link_failed", "profile picture could not be removed", err)
	}
	logger.Info("profile picture removed", "path", prev.Path)

	s.deleteAssets(ctx, logger, prev.Path)
	return nil
}

// Resolve opens a stored asset for serving.
func (s *Service) Resolve(ctx context.Context, relativePath string) (*storage.Resolved, error) {
	res, err := s.reader.Resolve(ctx, relativePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidPath) {
			return nil, newError(ErrNotFound, "not_found", "file not found", err)
		}
		return nil, storageError(err)
	}
	return res, nil
}

// deleteAssets removes a primary and its thumbnail, logging failures.
func (s *Service) deleteAssets(ctx context.Context, logger *slog.Logger, primaryPath string) {
	ctx = context.WithoutCancel(ctx)
	for _, p := range []string{storage.ThumbnailPath(primaryPath), primaryPath} {
		if err := s.store.Delete(ctx, p); err != nil {
			logger.Warn("delete previous asset failed; file orphaned", "path", p, "err", err)
		}
	}
}

func storageError(err error) *Error {
	return newError(ErrStorageUnavailable, "storage_unavailable", "file storage is unavailable", err)
}

func assetFor(loc storage.Location, out imaging.Output, uploadedAt time.Time) Asset {
	return Asset{
		StoragePath: loc.RelativePath,
		PublicURL:   loc.URL,
		Filename:    loc.Filename,
		UploadedAt:  uploadedAt,
		Width:       out.Width,
		Height:      out.Height,
		ByteSize:    out.ByteSize,
	}
}

// MaxUploadBytes is the largest accepted file size.
func (s *Service) MaxUploadBytes() int64 {
	return s.validator.Policy().MaxBytes
}
