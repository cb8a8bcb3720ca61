// Package fetch retrieves flat collections and joins authors client-side.
package fetch

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/ddalgi-labs/snsync/internal/errs"
	"github.com/ddalgi-labs/snsync/internal/model"
	"github.com/ddalgi-labs/snsync/internal/store"
)

// SearchLimit caps the number of posts returned by a caption search.
const SearchLimit = 20

// Fetcher reads flat record sets and attaches author profiles in a second,
// batched lookup. Every operation is at most two round trips regardless of
// result-set size.
type Fetcher struct {
	profiles store.ProfileStore
	posts    store.PostStore
	likes    store.LikeStore
	comments store.CommentStore
	log      *zap.Logger
}

// New constructs a Fetcher. A nil logger defaults to zap.NewNop().
func New(profiles store.ProfileStore, posts store.PostStore, likes store.LikeStore, comments store.CommentStore, log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{profiles: profiles, posts: posts, likes: likes, comments: comments, log: log}
}

// ListPosts returns all posts, newest first, with authors attached.
func (f *Fetcher) ListPosts(ctx context.Context) ([]model.Post, error) {
	posts, err := f.posts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w: %w", errs.ErrFetch, err)
	}
	return f.attachPostAuthors(ctx, posts), nil
}

// ListPostsByAuthor returns one author's posts, newest first, with authors attached.
func (f *Fetcher) ListPostsByAuthor(ctx context.Context, authorID uuid.UUID) ([]model.Post, error) {
	posts, err := f.posts.ListByAuthor(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("list posts by author: %w: %w", errs.ErrFetch, err)
	}
	return f.attachPostAuthors(ctx, posts), nil
}

// SearchPosts returns posts whose caption contains query, case-insensitively.
func (f *Fetcher) SearchPosts(ctx context.Context, query string) ([]model.Post, error) {
	posts, err := f.posts.Search(ctx, query, SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("search posts: %w: %w", errs.ErrFetch, err)
	}
	return f.attachPostAuthors(ctx, posts), nil
}

// GetPost returns a single post with its author attached.
func (f *Fetcher) GetPost(ctx context.Context, id int64) (*model.Post, error) {
	post, err := f.posts.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get post %d: %w: %w", id, errs.ErrFetch, err)
	}
	joined := f.attachPostAuthors(ctx, []model.Post{*post})
	return &joined[0], nil
}

// ListComments returns a post's comments in chronological order with authors attached.
func (f *Fetcher) ListComments(ctx context.Context, postID int64) ([]model.Comment, error) {
	comments, err := f.comments.ListByPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w: %w", errs.ErrFetch, err)
	}
	ids := make([]uuid.UUID, 0, len(comments))
	seen := make(map[uuid.UUID]struct{}, len(comments))
	for _, c := range comments {
		if _, ok := seen[c.AuthorID]; !ok {
			seen[c.AuthorID] = struct{}{}
			ids = append(ids, c.AuthorID)
		}
	}
	byID := f.resolveProfiles(ctx, ids)
	for i := range comments {
		comments[i].Author = byID[comments[i].AuthorID]
	}
	return comments, nil
}

// ListLikes returns the user's like records restricted to postIDs in a single
// batched read. Empty input short-circuits without a request.
func (f *Fetcher) ListLikes(ctx context.Context, userID uuid.UUID, postIDs []int64) ([]model.Like, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	likes, err := f.likes.ListByUser(ctx, userID, postIDs)
	if err != nil {
		return nil, fmt.Errorf("list likes: %w: %w", errs.ErrFetch, err)
	}
	return likes, nil
}

// ListCommentsByPosts returns all comments of the given posts in a single
// batched read. Empty input short-circuits without a request.
func (f *Fetcher) ListCommentsByPosts(ctx context.Context, postIDs []int64) ([]model.Comment, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	comments, err := f.comments.ListByPosts(ctx, postIDs)
	if err != nil {
		return nil, fmt.Errorf("list comments by posts: %w: %w", errs.ErrFetch, err)
	}
	return comments, nil
}

// attachPostAuthors joins profiles onto posts. Author resolution failure is a
// degraded state, not an error: posts come back with Author == nil.
func (f *Fetcher) attachPostAuthors(ctx context.Context, posts []model.Post) []model.Post {
	if len(posts) == 0 {
		return posts
	}
	ids := make([]uuid.UUID, 0, len(posts))
	seen := make(map[uuid.UUID]struct{}, len(posts))
	for _, p := range posts {
		if _, ok := seen[p.AuthorID]; !ok {
			seen[p.AuthorID] = struct{}{}
			ids = append(ids, p.AuthorID)
		}
	}
	byID := f.resolveProfiles(ctx, ids)
	for i := range posts {
		posts[i].Author = byID[posts[i].AuthorID]
	}
	return posts
}

// resolveProfiles fetches the distinct author set in one batched lookup and
// returns an id -> profile map. Failures yield an empty map.
func (f *Fetcher) resolveProfiles(ctx context.Context, ids []uuid.UUID) map[uuid.UUID]*model.Profile {
	byID := make(map[uuid.UUID]*model.Profile, len(ids))
	if len(ids) == 0 {
		return byID
	}
	profiles, err := f.profiles.GetByIDs(ctx, ids)
	if err != nil {
		f.log.Warn("author resolution failed", zap.Int("authors", len(ids)), zap.Error(err))
		return byID
	}
	for i := range profiles {
		byID[profiles[i].ID] = &profiles[i]
	}
	return byID
}
