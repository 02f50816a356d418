// Package user manages user accounts and the profile-picture reference
// stored on each user record.
package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProfilePicture is the reference to a user's current primary picture.
type ProfilePicture struct {
	Path       string    `json:"path"`
	URL        string    `json:"url"`
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// User represents an employee account.
type User struct {
	ID             string          `json:"id"`
	Email          string          `json:"email"`
	FullName       *string         `json:"fullName,omitempty"`
	Role           string          `json:"role"`
	ProfilePicture *ProfilePicture `json:"profilePicture"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// ErrNotFound is returned when a user does not exist.
var ErrNotFound = errors.New("user not found")

// ErrStaleProfilePicture is returned when the stored picture no longer
// matches the one the caller read before updating it.
var ErrStaleProfilePicture = errors.New("profile picture changed concurrently")

// Repository handles all user database operations.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const selectUser = `SELECT id, email, full_name, role,
	profile_picture_path, profile_picture_url, profile_picture_filename, profile_picture_uploaded_at,
	created_at, updated_at
	FROM users`

// GetByID fetches a user by their UUID.
func (r *Repository) GetByID(ctx context.Context, id string) (*User, error) {
	u := &User{}
	var pic pictureColumns
	err := r.db.QueryRow(ctx, selectUser+` WHERE id = $1`, id).Scan(
		&u.ID, &u.Email, &u.FullName, &u.Role,
		&pic.path, &pic.url, &pic.filename, &pic.uploadedAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	u.ProfilePicture = pic.reference()
	return u, nil
}

// GetProfilePicture returns the user's current picture reference, or nil
// when none is set.
func (r *Repository) GetProfilePicture(ctx context.Context, id string) (*ProfilePicture, error) {
	var pic pictureColumns
	err := r.db.QueryRow(ctx,
		`SELECT profile_picture_path, profile_picture_url, profile_picture_filename, profile_picture_uploaded_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&pic.path, &pic.url, &pic.filename, &pic.uploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile picture: %w", err)
	}
	return pic.reference(), nil
}

// SwapProfilePicture replaces the user's picture reference with next (nil
// clears it) only if the stored path still equals prev's path (nil meaning
// no picture). It returns ErrStaleProfilePicture when another writer got
// there first.
func (r *Repository) SwapProfilePicture(ctx context.Context, id string, prev, next *ProfilePicture) error {
	var expected *string
	if prev != nil {
		expected = &prev.Path
	}
	cols := columnsFor(next)

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET
			profile_picture_path = $2,
			profile_picture_url = $3,
			profile_picture_filename = $4,
			profile_picture_uploaded_at = $5,
			updated_at = NOW()
		 WHERE id = $1 AND profile_picture_path IS NOT DISTINCT FROM $6::varchar`,
		id, cols.path, cols.url, cols.filename, cols.uploadedAt, expected,
	)
	if err != nil {
		return fmt.Errorf("swap profile picture: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check user existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleProfilePicture
}

// ProfilePicturePaths returns every picture path currently referenced by a user.
func (r *Repository) ProfilePicturePaths(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT profile_picture_path FROM users WHERE profile_picture_path IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list profile picture paths: %w", err)
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan profile picture paths: %w", err)
	}
	return paths, nil
}

// pictureColumns mirrors the four nullable reference columns.
type pictureColumns struct {
	path       *string
	url        *string
	filename   *string
	uploadedAt *time.Time
}

func (c pictureColumns) reference() *ProfilePicture {
	if c.path == nil {
		return nil
	}
	p := &ProfilePicture{Path: *c.path}
	if c.url != nil {
		p.URL = *c.url
	}
	if c.filename != nil {
		p.Filename = *c.filename
	}
	if c.uploadedAt != nil {
		p.UploadedAt = *c.uploadedAt
	}
	return p
}

func columnsFor(p *ProfilePicture) pictureColumns {
	if p == nil {
		return pictureColumns{}
	}
	uploadedAt := p.UploadedAt
	return pictureColumns{path: &p.Path, url: &p.URL, filename: &p.Filename, uploadedAt: &uploadedAt}
}
