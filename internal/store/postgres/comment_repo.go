package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/ddalgi-labs/snsync/internal/errs"
	"github.com/ddalgi-labs/snsync/internal/model"
)

// CommentRepo implements store.CommentStore using PostgreSQL.
type CommentRepo struct{ db *DB }

// NewCommentRepo constructs a comment repository.
func NewCommentRepo(db *DB) *CommentRepo { return &CommentRepo{db: db} }

const commentColumns = `id, author_id, post_id, parent_id, content, created_at`

func collectComments(rows pgx.Rows) ([]model.Comment, error) {
	defer rows.Close()
	var out []model.Comment
	for rows.Next() {
		var c model.Comment
		if err := rows.Scan(&c.ID, &c.AuthorID, &c.PostID, &c.ParentID, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListByPost returns a post's comments in chronological order.
func (r *CommentRepo) ListByPost(ctx context.Context, postID int64) ([]model.Comment, error) {
	const q = `
SELECT ` + commentColumns + `
FROM comments WHERE post_id=$1 ORDER BY created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, postID)
	if err != nil {
		return nil, err
	}
	return collectComments(rows)
}

// ListByPosts returns all comments of the given posts in one batched read.
func (r *CommentRepo) ListByPosts(ctx context.Context, postIDs []int64) ([]model.Comment, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	const q = `
SELECT ` + commentColumns + `
FROM comments WHERE post_id = ANY($1) ORDER BY created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, postIDs)
	if err != nil {
		return nil, err
	}
	return collectComments(rows)
}

// Create inserts a comment and returns the stored row with assigned id and
// timestamp.
func (r *CommentRepo) Create(ctx context.Context, authorID uuid.UUID, postID int64, parentID *int64, content string) (*model.Comment, error) {
	const q = `
INSERT INTO comments (author_id, post_id, parent_id, content)
VALUES ($1, $2, $3, $4)
RETURNING ` + commentColumns
	row := r.db.Pool.QueryRow(ctx, q, authorID, postID, parentID, content)
	var c model.Comment
	if err := row.Scan(&c.ID, &c.AuthorID, &c.PostID, &c.ParentID, &c.Content, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Get selects a single comment by id.
func (r *CommentRepo) Get(ctx context.Context, id int64) (*model.Comment, error) {
	const q = `
SELECT ` + commentColumns + `
FROM comments WHERE id=$1`
	row := r.db.Pool.QueryRow(ctx, q, id)
	var c model.Comment
	if err := row.Scan(&c.ID, &c.AuthorID, &c.PostID, &c.ParentID, &c.Content, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Delete removes a comment owned by authorID. Replies cascade in the store.
func (r *CommentRepo) Delete(ctx context.Context, id int64, authorID uuid.UUID) error {
	const q = `DELETE FROM comments WHERE id=$1 AND author_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, authorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
