package picture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/staffhub/service/internal/storage"
)

// ReferenceLister lists every picture path currently referenced by an owner.
type ReferenceLister interface {
	ProfilePicturePaths(ctx context.Context) ([]string, error)
}

// FileLister is the part of the local store the sweeper needs.
type FileLister interface {
	List(ctx context.Context, prefix string) ([]storage.FileStat, error)
	Delete(ctx context.Context, relativePath string) error
}

// SweepResult reports one reconciliation run.
type SweepResult struct {
	Scanned        int   `json:"scanned"`
	Deleted        int   `json:"deleted"`
	Failed         int   `json:"failed"`
	ReclaimedBytes int64 `json:"reclaimedBytes"`
}

// Sweeper deletes profile-picture files that no owner references, such as
// the files of an upload that lost a concurrent link race and whose
// rollback could not run. Files younger than the grace period are skipped
// so in-flight uploads are never touched.
type Sweeper struct {
	files  FileLister
	refs   ReferenceLister
	grace  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(files FileLister, refs ReferenceLister, grace time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{files: files, refs: refs, grace: grace, logger: logger, now: time.Now}
}

// Run performs one sweep. Files are listed before references are read, so
// a file linked during the run is always seen as referenced.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	files, err := s.files.List(ctx, storage.CategoryProfilePictures)
	if err != nil {
		return result, fmt.Errorf("list stored pictures: %w", err)
	}
	paths, err := s.refs.ProfilePicturePaths(ctx)
	if err != nil {
		return result, fmt.Errorf("list referenced pictures: %w", err)
	}
	referenced := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		referenced[p] = struct{}{}
	}

	cutoff := s.now().Add(-s.grace)
	for _, f := range files {
		result.Scanned++
		if _, ok := referenced[storage.PrimaryPath(f.Path)]; ok {
			continue
		}
		if f.LastModified.After(cutoff) {
			continue
		}
		if err := s.files.Delete(ctx, f.Path); err != nil {
			result.Failed++
			s.logger.Warn("sweep delete failed", "path", f.Path, "err", err)
			continue
		}
		result.Deleted++
		result.ReclaimedBytes += f.Size
	}

	s.logger.Info("profile picture sweep finished",
		"scanned", result.Scanned, "deleted", result.Deleted, "failed", result.Failed, "reclaimed_bytes", result.ReclaimedBytes)
	return result, nil
}

