package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/ddalgi-labs/snsync/internal/errs"
	"github.com/ddalgi-labs/snsync/internal/model"
)

// PostRepo implements store.PostStore using PostgreSQL.
type PostRepo struct{ db *DB }

// NewPostRepo constructs a post repository.
func NewPostRepo(db *DB) *PostRepo { return &PostRepo{db: db} }

const postColumns = `id, author_id, caption, image_url, likes_count, created_at`

func scanPost(row pgx.Row) (*model.Post, error) {
	var p model.Post
	if err := row.Scan(&p.ID, &p.AuthorID, &p.Caption, &p.ImageURL, &p.LikesCount, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPosts(rows pgx.Rows) ([]model.Post, error) {
	defer rows.Close()
	var out []model.Post
	for rows.Next() {
		var p model.Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.Caption, &p.ImageURL, &p.LikesCount, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// List returns all posts, newest first.
func (r *PostRepo) List(ctx context.Context) ([]model.Post, error) {
	const q = `
SELECT ` + postColumns + `
FROM posts ORDER BY created_at DESC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return collectPosts(rows)
}

// ListByAuthor returns one author's posts, newest first.
func (r *PostRepo) ListByAuthor(ctx context.Context, authorID uuid.UUID) ([]model.Post, error) {
	const q = `
SELECT ` + postColumns + `
FROM posts WHERE author_id=$1 ORDER BY created_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, authorID)
	if err != nil {
		return nil, err
	}
	return collectPosts(rows)
}

// Search returns up to limit posts whose caption contains the query,
// case-insensitively, newest first.
func (r *PostRepo) Search(ctx context.Context, query string, limit int) ([]model.Post, error) {
	const q = `
SELECT ` + postColumns + `
FROM posts WHERE caption ILIKE '%' || $1 || '%'
ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, query, limit)
	if err != nil {
		return nil, err
	}
	return collectPosts(rows)
}

// Get selects a single post by id.
func (r *PostRepo) Get(ctx context.Context, id int64) (*model.Post, error) {
	const q = `
SELECT ` + postColumns + `
FROM posts WHERE id=$1`
	p, err := scanPost(r.db.Pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	return p, err
}

// Create inserts a post and returns the stored row with the assigned id.
func (r *PostRepo) Create(ctx context.Context, authorID uuid.UUID, caption, imageURL string) (*model.Post, error) {
	const q = `
INSERT INTO posts (author_id, caption, image_url)
VALUES ($1, $2, $3)
RETURNING ` + postColumns
	return scanPost(r.db.Pool.QueryRow(ctx, q, authorID, caption, imageURL))
}

// Delete removes a post owned by authorID.
func (r *PostRepo) Delete(ctx context.Context, id int64, authorID uuid.UUID) error {
	const q = `DELETE FROM posts WHERE id=$1 AND author_id=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, authorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
