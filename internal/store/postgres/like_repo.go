package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/ddalgi-labs/snsync/internal/errs"
	"github.com/ddalgi-labs/snsync/internal/model"
)

// LikeRepo implements store.LikeStore using PostgreSQL. The likes_count
// counter on posts is maintained by a trigger, not by this repo.
type LikeRepo struct{ db *DB }

// NewLikeRepo constructs a like repository.
func NewLikeRepo(db *DB) *LikeRepo { return &LikeRepo{db: db} }

// ListByUser returns the user's likes restricted to postIDs in one batched read.
func (r *LikeRepo) ListByUser(ctx context.Context, userID uuid.UUID, postIDs []int64) ([]model.Like, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	const q = `
SELECT id, user_id, post_id
FROM likes WHERE user_id=$1 AND post_id = ANY($2)`
	rows, err := r.db.Pool.Query(ctx, q, userID, postIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Like
	for rows.Next() {
		var l model.Like
		if err := rows.Scan(&l.ID, &l.UserID, &l.PostID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Create inserts a like row; the (user_id, post_id) unique constraint rejects
// duplicates.
func (r *LikeRepo) Create(ctx context.Context, userID uuid.UUID, postID int64) error {
	const q = `INSERT INTO likes (user_id, post_id) VALUES ($1, $2)`
	_, err := r.db.Pool.Exec(ctx, q, userID, postID)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Delete removes the user's like of a post.
func (r *LikeRepo) Delete(ctx context.Context, userID uuid.UUID, postID int64) error {
	const q = `DELETE FROM likes WHERE user_id=$1 AND post_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, userID, postID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
