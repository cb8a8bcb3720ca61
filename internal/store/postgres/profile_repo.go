package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/ddalgi-labs/snsync/internal/errs"
	"github.com/ddalgi-labs/snsync/internal/model"
)

// ProfileRepo implements store.ProfileStore using PostgreSQL.
type ProfileRepo struct{ db *DB }

// NewProfileRepo constructs a profile repository.
func NewProfileRepo(db *DB) *ProfileRepo { return &ProfileRepo{db: db} }

// Create inserts a new profile row. The unique constraints on id and username
// back stop concurrent lazy provisioning.
func (r *ProfileRepo) Create(ctx context.Context, p *model.Profile) error {
	const q = `
INSERT INTO profiles (id, username, display_name, avatar_url, bio)
VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, p.ID, p.Username, p.DisplayName, p.AvatarURL, p.Bio)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a profile by id.
func (r *ProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Profile, error) {
	const q = `
SELECT id, username, display_name, avatar_url, bio, created_at
FROM profiles WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	var p model.Profile
	if err := row.Scan(&p.ID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.Bio, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetByIDs resolves many profiles in one batched read.
func (r *ProfileRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `
SELECT id, username, display_name, avatar_url, bio, created_at
FROM profiles WHERE id = ANY($1)`
	rows, err := r.db.Pool.Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Profile
	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.Bio, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Update applies a partial patch and returns the stored row.
func (r *ProfileRepo) Update(ctx context.Context, id uuid.UUID, patch model.ProfilePatch) (*model.Profile, error) {
	const q = `
UPDATE profiles
SET display_name = COALESCE($2, display_name),
    avatar_url   = COALESCE($3, avatar_url),
    bio          = COALESCE($4, bio)
WHERE id = $1
RETURNING id, username, display_name, avatar_url, bio, created_at`
	row := r.db.Pool.QueryRow(ctx, q, id, patch.DisplayName, patch.AvatarURL, patch.Bio)
	var p model.Profile
	if err := row.Scan(&p.ID, &p.Username, &p.DisplayName, &p.AvatarURL, &p.Bio, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
