// Package feed holds the client-side view model of the post feed and applies
// optimistic mutations against the remote store.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/ddalgi-labs/snsync/internal/errs"
	"github.com/ddalgi-labs/snsync/internal/fetch"
	"github.com/ddalgi-labs/snsync/internal/model"
	"github.com/ddalgi-labs/snsync/internal/store"
	"github.com/ddalgi-labs/snsync/internal/view"
)

// MutationState tracks the lifecycle of a mutation instance.
type MutationState int

const (
	// Idle means no mutation is outstanding for the key.
	Idle MutationState = iota
	// Pending means the remote write is in flight.
	Pending
	// Committed means the remote store confirmed the write.
	Committed
	// Failed means the remote write failed and local state was reverted.
	Failed
)

// likeKey identifies a single-flight like mutation per (user, post).
type likeKey struct {
	user uuid.UUID
	post int64
}

// Feed combines fetched collections with their derived views and mutates them
// optimistically. One Feed instance serves one signed-in user.
type Feed struct {
	fetcher  *fetch.Fetcher
	posts    store.PostStore
	likes    store.LikeStore
	comments store.CommentStore
	log      *zap.Logger

	mu       sync.Mutex
	userID   uuid.UUID
	items    []model.Post
	liked    map[int64]struct{}
	counts   map[int64]int
	inflight map[likeKey]MutationState
}

// New constructs a Feed for the given user. A nil logger defaults to nop.
func New(fetcher *fetch.Fetcher, posts store.PostStore, likes store.LikeStore, comments store.CommentStore, userID uuid.UUID, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		fetcher:  fetcher,
		posts:    posts,
		likes:    likes,
		comments: comments,
		log:      log,
		userID:   userID,
		liked:    map[int64]struct{}{},
		counts:   map[int64]int{},
		inflight: map[likeKey]MutationState{},
	}
}

// Refresh reloads the feed and rebuilds the derived views: liked membership
// and per-post comment counts, each from one batched read.
func (f *Feed) Refresh(ctx context.Context) error {
	posts, err := f.fetcher.ListPosts(ctx)
	if err != nil {
		return err
	}
	ids := make([]int64, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	likes, err := f.fetcher.ListLikes(ctx, f.userID, ids)
	if err != nil {
		return err
	}
	comments, err := f.fetcher.ListCommentsByPosts(ctx, ids)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.items = posts
	f.liked = view.LikedSet(likes)
	f.counts = view.CommentCounts(comments)
	f.mu.Unlock()
	return nil
}

// LoadPost loads one post with its comment forest and refreshes the user's
// like membership and comment count for it.
func (f *Feed) LoadPost(ctx context.Context, postID int64) (*model.Post, []*view.CommentNode, error) {
	p, err := f.fetcher.GetPost(ctx, postID)
	if err != nil {
		return nil, nil, err
	}
	likes, err := f.fetcher.ListLikes(ctx, f.userID, []int64{postID})
	if err != nil {
		return nil, nil, err
	}
	comments, err := f.fetcher.ListComments(ctx, postID)
	if err != nil {
		return nil, nil, err
	}

	f.mu.Lock()
	if len(likes) > 0 {
		f.liked[postID] = struct{}{}
	} else {
		delete(f.liked, postID)
	}
	f.counts[postID] = len(comments)
	f.mu.Unlock()
	return p, view.BuildCommentTree(comments), nil
}

// Posts returns a copy of the current feed, newest first.
func (f *Feed) Posts() []model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Post, len(f.items))
	copy(out, f.items)
	return out
}

// Liked reports whether the current user likes the post.
func (f *Feed) Liked(postID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.liked[postID]
	return ok
}

// CommentCount returns the cached comment count for the post.
func (f *Feed) CommentCount(postID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[postID]
}

// LikeState reports the mutation state of the user's like toggle on the post.
func (f *Feed) LikeState(postID int64) MutationState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflight[likeKey{user: f.userID, post: postID}]
}

// ToggleLike flips the like membership and counter locally, then issues the
// matching insert or delete. Guarded per (user, post): a second call while
// one is outstanding is a no-op. On remote failure the local flip is reverted
// and the error surfaces as a mutation error.
func (f *Feed) ToggleLike(ctx context.Context, postID int64) error {
	key := likeKey{user: f.userID, post: postID}

	f.mu.Lock()
	if f.inflight[key] == Pending {
		f.mu.Unlock()
		return nil
	}
	f.inflight[key] = Pending
	_, wasLiked := f.liked[postID]
	f.flipLocked(postID, !wasLiked)
	f.mu.Unlock()

	var err error
	if wasLiked {
		err = f.likes.Delete(ctx, f.userID, postID)
	} else {
		err = f.likes.Create(ctx, f.userID, postID)
		if errors.Is(err, errs.ErrAlreadyExists) {
			// remote already agrees with the new local state
			err = nil
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.flipLocked(postID, wasLiked)
		f.inflight[key] = Failed
		// surfaced once; the next toggle starts from Idle
		defer func() { f.resetState(key) }()
		return fmt.Errorf("toggle like post %d: %w: %w", postID, errs.ErrMutation, err)
	}
	f.inflight[key] = Committed
	defer func() { f.resetState(key) }()
	return nil
}

// flipLocked sets like membership and adjusts the local counter. Caller holds f.mu.
func (f *Feed) flipLocked(postID int64, liked bool) {
	if liked {
		f.liked[postID] = struct{}{}
	} else {
		delete(f.liked, postID)
	}
	for i := range f.items {
		if f.items[i].ID != postID {
			continue
		}
		if liked {
			f.items[i].LikesCount++
		} else if f.items[i].LikesCount > 0 {
			f.items[i].LikesCount--
		}
		return
	}
}

// resetState returns the key to Idle after Committed/Failed was observable.
// Caller holds f.mu (runs via defer before unlock).
func (f *Feed) resetState(key likeKey) {
	delete(f.inflight, key)
}

// AddComment inserts a comment or reply and reflects the authoritative echo
// locally. Write-then-reflect rather than optimistic: the rendered node needs
// the server-assigned id and timestamp.
func (f *Feed) AddComment(ctx context.Context, postID int64, parentID *int64, content string, author *model.Profile) (*model.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("add comment: empty content: %w", errs.ErrValidation)
	}
	c, err := f.comments.Create(ctx, f.userID, postID, parentID, content)
	if err != nil {
		return nil, fmt.Errorf("add comment: %w: %w", errs.ErrMutation, err)
	}
	c.Author = author

	f.mu.Lock()
	f.counts[postID]++
	f.mu.Unlock()
	return c, nil
}

// DeleteComment removes the user's own comment. Ownership is checked
// client-side before any remote call; the store is still the authority.
func (f *Feed) DeleteComment(ctx context.Context, c *model.Comment) error {
	if c.AuthorID != f.userID {
		return fmt.Errorf("delete comment %d: not the author: %w", c.ID, errs.ErrNotAuthenticated)
	}
	if err := f.comments.Delete(ctx, c.ID, f.userID); err != nil {
		return fmt.Errorf("delete comment %d: %w: %w", c.ID, errs.ErrMutation, err)
	}
	f.mu.Lock()
	if f.counts[c.PostID] > 0 {
		f.counts[c.PostID]--
	}
	f.mu.Unlock()
	return nil
}

// CreatePost inserts a post and prepends the authoritative echo to the local
// feed.
func (f *Feed) CreatePost(ctx context.Context, caption, imageURL string, author *model.Profile) (*model.Post, error) {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return nil, fmt.Errorf("create post: empty caption: %w", errs.ErrValidation)
	}
	p, err := f.posts.Create(ctx, f.userID, caption, imageURL)
	if err != nil {
		return nil, fmt.Errorf("create post: %w: %w", errs.ErrMutation, err)
	}
	p.Author = author

	f.mu.Lock()
	f.items = append([]model.Post{*p}, f.items...)
	f.mu.Unlock()
	return p, nil
}

// DeletePost removes the user's own post from the store and the local feed.
func (f *Feed) DeletePost(ctx context.Context, p *model.Post) error {
	if p.AuthorID != f.userID {
		return fmt.Errorf("delete post %d: not the author: %w", p.ID, errs.ErrNotAuthenticated)
	}
	if err := f.posts.Delete(ctx, p.ID, f.userID); err != nil {
		return fmt.Errorf("delete post %d: %w: %w", p.ID, errs.ErrMutation, err)
	}
	f.mu.Lock()
	for i := range f.items {
		if f.items[i].ID == p.ID {
			f.items = append(f.items[:i], f.items[i+1:]...)
			break
		}
	}
	delete(f.liked, p.ID)
	delete(f.counts, p.ID)
	f.mu.Unlock()
	return nil
}
