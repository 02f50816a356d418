package user

import (
	"context"
	"errors"
)

// Service contains business logic for user management.
type Service struct {
	repo *Repository
}

// NewService creates a new user Service.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// GetByID returns a user by their UUID.
func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// GetProfilePicture returns the user's picture reference, nil when absent.
func (s *Service) GetProfilePicture(ctx context.Context, id string) (*ProfilePicture, error) {
	return s.repo.GetProfilePicture(ctx, id)
}

// SwapProfilePicture atomically replaces prev with next on the user record.
func (s *Service) SwapProfilePicture(ctx context.Context, id string, prev, next *ProfilePicture) error {
	return s.repo.SwapProfilePicture(ctx, id, prev, next)
}

// ProfilePicturePaths lists every referenced picture path.
func (s *Service) ProfilePicturePaths(ctx context.Context) ([]string, error) {
	return s.repo.ProfilePicturePaths(ctx)
}

// IsNotFound returns true when the error indicates a user was not found.
func (s *Service) IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
