// Package store defines the query-transport interfaces implemented by concrete
// backends. The sync layer only depends on these collection-oriented contracts.
package store

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/ddalgi-labs/snsync/internal/model"
)

// ProfileStore provides access to user profiles.
type ProfileStore interface {
	// Create inserts a new profile. Returns errs.ErrAlreadyExists on a
	// duplicate id or username (the idempotency backstop for lazy provisioning).
	Create(ctx context.Context, p *model.Profile) error
	// GetByID loads a profile by its identity id.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Profile, error)
	// GetByIDs resolves many profiles in one batched read.
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Profile, error)
	// Update applies a partial patch and returns the stored row.
	Update(ctx context.Context, id uuid.UUID, patch model.ProfilePatch) (*model.Profile, error)
}

// PostStore provides access to posts.
type PostStore interface {
	// List returns all posts ordered by created_at descending.
	List(ctx context.Context) ([]model.Post, error)
	// ListByAuthor returns one author's posts, newest first.
	ListByAuthor(ctx context.Context, authorID uuid.UUID) ([]model.Post, error)
	// Search returns up to limit posts whose caption contains the query,
	// case-insensitively, newest first.
	Search(ctx context.Context, query string, limit int) ([]model.Post, error)
	// Get returns a single post by id.
	Get(ctx context.Context, id int64) (*model.Post, error)
	// Create inserts a post and returns the stored row with assigned id.
	Create(ctx context.Context, authorID uuid.UUID, caption, imageURL string) (*model.Post, error)
	// Delete removes a post owned by authorID.
	Delete(ctx context.Context, id int64, authorID uuid.UUID) error
}

// LikeStore provides access to like records.
type LikeStore interface {
	// ListByUser returns the user's likes restricted to postIDs, in one
	// batched read.
	ListByUser(ctx context.Context, userID uuid.UUID, postIDs []int64) ([]model.Like, error)
	// Create inserts a like. Returns errs.ErrAlreadyExists if the
	// (user, post) pair is already present.
	Create(ctx context.Context, userID uuid.UUID, postID int64) error
	// Delete removes the user's like of a post.
	Delete(ctx context.Context, userID uuid.UUID, postID int64) error
}

// CommentStore provides access to comment records.
type CommentStore interface {
	// ListByPost returns a post's comments ordered by created_at ascending.
	ListByPost(ctx context.Context, postID int64) ([]model.Comment, error)
	// ListByPosts returns all comments referencing the given posts, in one
	// batched read (used for per-post counts).
	ListByPosts(ctx context.Context, postIDs []int64) ([]model.Comment, error)
	// Create inserts a comment and returns the stored row with assigned id
	// and timestamp.
	Create(ctx context.Context, authorID uuid.UUID, postID int64, parentID *int64, content string) (*model.Comment, error)
	// Get returns a single comment by id.
	Get(ctx context.Context, id int64) (*model.Comment, error)
	// Delete removes a comment owned by authorID.
	Delete(ctx context.Context, id int64, authorID uuid.UUID) error
}
