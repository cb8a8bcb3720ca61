package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/ddalgi-labs/snsync/internal/errs"
	"github.com/ddalgi-labs/snsync/internal/fetch"
	"github.com/ddalgi-labs/snsync/internal/model"
	"github.com/ddalgi-labs/snsync/internal/store"
)

var (
	userID = uuid.Must(uuid.NewV4())
	t1     = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	t2     = t1.Add(time.Hour)
)

type fakeProfiles struct {
	store.ProfileStore
}

func (fakeProfiles) GetByIDs(context.Context, []uuid.UUID) ([]model.Profile, error) {
	return nil, nil
}

type fakePosts struct {
	store.PostStore
	mu     sync.Mutex
	posts  []model.Post
	nextID int64
}

func (f *fakePosts) List(context.Context) ([]model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Post, len(f.posts))
	copy(out, f.posts)
	return out, nil
}

func (f *fakePosts) Create(_ context.Context, authorID uuid.UUID, caption, imageURL string) (*model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p := model.Post{ID: f.nextID, AuthorID: authorID, Caption: caption, ImageURL: imageURL, CreatedAt: time.Now()}
	f.posts = append(f.posts, p)
	return &p, nil
}

func (f *fakePosts) Get(_ context.Context, id int64) (*model.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.posts {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakePosts) Delete(_ context.Context, id int64, authorID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.posts {
		if p.ID == id && p.AuthorID == authorID {
			f.posts = append(f.posts[:i], f.posts[i+1:]...)
			return nil
		}
	}
	return errs.ErrNotFound
}

type likeOp struct {
	insert bool
	postID int64
}

type fakeLikes struct {
	store.LikeStore
	mu        sync.Mutex
	ops       []likeOp
	createErr error
	deleteErr error
	liked     []int64
	// block, when set, stalls writes until released
	block chan struct{}
}

func (f *fakeLikes) ListByUser(_ context.Context, userID uuid.UUID, postIDs []int64) ([]model.Like, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Like
	for _, id := range f.liked {
		for _, p := range postIDs {
			if p == id {
				out = append(out, model.Like{UserID: userID, PostID: id})
			}
		}
	}
	return out, nil
}

func (f *fakeLikes) Create(_ context.Context, _ uuid.UUID, postID int64) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.ops = append(f.ops, likeOp{insert: true, postID: postID})
	return nil
}

func (f *fakeLikes) Delete(_ context.Context, _ uuid.UUID, postID int64) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.ops = append(f.ops, likeOp{insert: false, postID: postID})
	return nil
}

type fakeComments struct {
	store.CommentStore
	mu        sync.Mutex
	comments  []model.Comment
	nextID    int64
	createErr error
}

func (f *fakeComments) ListByPosts(context.Context, []int64) ([]model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Comment, len(f.comments))
	copy(out, f.comments)
	return out, nil
}

func (f *fakeComments) ListByPost(_ context.Context, postID int64) ([]model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Comment
	for _, c := range f.comments {
		if c.PostID == postID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeComments) Create(_ context.Context, authorID uuid.UUID, postID int64, parentID *int64, content string) (*model.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	c := model.Comment{ID: f.nextID, AuthorID: authorID, PostID: postID, ParentID: parentID, Content: content, CreatedAt: time.Now()}
	f.comments = append(f.comments, c)
	return &c, nil
}

func (f *fakeComments) Delete(_ context.Context, id int64, authorID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, c := range f.comments {
		if c.ID == id && c.AuthorID == authorID {
			f.comments = append(f.comments[:i], f.comments[i+1:]...)
			return nil
		}
	}
	return errs.ErrNotFound
}

type deps struct {
	posts    *fakePosts
	likes    *fakeLikes
	comments *fakeComments
}

func newFeed(t *testing.T, d deps) *Feed {
	t.Helper()
	if d.posts == nil {
		d.posts = &fakePosts{}
	}
	if d.likes == nil {
		d.likes = &fakeLikes{}
	}
	if d.comments == nil {
		d.comments = &fakeComments{}
	}
	fetcher := fetch.New(fakeProfiles{}, d.posts, d.likes, d.comments, nil)
	return New(fetcher, d.posts, d.likes, d.comments, userID, nil)
}

func seedPosts() *fakePosts {
	return &fakePosts{posts: []model.Post{
		{ID: 7, AuthorID: userID, Caption: "mine", LikesCount: 3, CreatedAt: t2},
		{ID: 8, AuthorID: uuid.Must(uuid.NewV4()), Caption: "theirs", LikesCount: 0, CreatedAt: t1},
	}, nextID: 8}
}

func TestToggleLike_OptimisticFlipAndRemoteWrite(t *testing.T) {
	likes := &fakeLikes{}
	f := newFeed(t, deps{posts: seedPosts(), likes: likes})
	ctx := context.Background()
	require.NoError(t, f.Refresh(ctx))

	require.NoError(t, f.ToggleLike(ctx, 7))
	require.True(t, f.Liked(7))
	require.Equal(t, 4, f.Posts()[0].LikesCount)
	require.Equal(t, []likeOp{{insert: true, postID: 7}}, likes.ops)

	require.NoError(t, f.ToggleLike(ctx, 7))
	require.False(t, f.Liked(7))
	require.Equal(t, 3, f.Posts()[0].LikesCount)
	require.Equal(t, likeOp{insert: false, postID: 7}, likes.ops[1])
}

func TestToggleLike_SingleFlightPerUserPost(t *testing.T) {
	likes := &fakeLikes{block: make(chan struct{})}
	f := newFeed(t, deps{posts: seedPosts(), likes: likes})
	ctx := context.Background()
	require.NoError(t, f.Refresh(ctx))

	done := make(chan error, 1)
	go func() { done <- f.ToggleLike(ctx, 7) }()
	require.Eventually(t, func() bool { return f.LikeState(7) == Pending }, time.Second, time.Millisecond)

	// rapid second tap while the first write is outstanding: no-op
	require.NoError(t, f.ToggleLike(ctx, 7))

	close(likes.block)
	require.NoError(t, <-done)

	likes.mu.Lock()
	defer likes.mu.Unlock()
	require.Len(t, likes.ops, 1, "exactly one net state change")
	require.True(t, f.Liked(7))
	require.Equal(t, 4, f.Posts()[0].LikesCount)
}

func TestLoadPost_DetailWithTreeAndMembership(t *testing.T) {
	parent := int64(1)
	comments := &fakeComments{comments: []model.Comment{
		{ID: 1, PostID: 7, Content: "root", CreatedAt: t1},
		{ID: 2, PostID: 7, ParentID: &parent, Content: "reply", CreatedAt: t2},
		{ID: 3, PostID: 8, Content: "elsewhere", CreatedAt: t1},
	}, nextID: 3}
	f := newFeed(t, deps{posts: seedPosts(), likes: &fakeLikes{liked: []int64{7}}, comments: comments})

	p, tree, err := f.LoadPost(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(7), p.ID)
	require.Len(t, tree, 1, "only post 7's comments")
	require.Len(t, tree[0].Replies, 1)
	require.True(t, f.Liked(7))
	require.Equal(t, 2, f.CommentCount(7))
}

func TestToggleLike_RevertsOnRemoteFailure(t *testing.T) {
	likes := &fakeLikes{createErr: errors.New("insert refused")}
	f := newFeed(t, deps{posts: seedPosts(), likes: likes})
	ctx := context.Background()
	require.NoError(t, f.Refresh(ctx))

	err := f.ToggleLike(ctx, 7)
	require.ErrorIs(t, err, errs.ErrMutation)
	require.False(t, f.Liked(7), "local flip reverted")
	require.Equal(t, 3, f.Posts()[0].LikesCount, "local counter reverted")
	require.Equal(t, Idle, f.LikeState(7), "failed mutation returns to idle")

	// no automatic retry happened
	require.Empty(t, likes.ops)
}

func TestToggleLike_DuplicateInsertTreatedAsCommitted(t *testing.T) {
	likes := &fakeLikes{createErr: errs.ErrAlreadyExists}
	f := newFeed(t, deps{posts: seedPosts(), likes: likes})
	ctx := context.Background()
	require.NoError(t, f.Refresh(ctx))

	require.NoError(t, f.ToggleLike(ctx, 7))
	require.True(t, f.Liked(7), "remote already agreed, keep the flip")
}

func TestAddComment_WriteThenReflect(t *testing.T) {
	comments := &fakeComments{}
	f := newFeed(t, deps{posts: seedPosts(), comments: comments})
	ctx := context.Background()
	require.NoError(t, f.Refresh(ctx))

	author := &model.Profile{ID: userID, Username: "dana"}
	c, err := f.AddComment(ctx, 7, nil, "  nice post  ", author)
	require.NoError(t, err)
	require.NotZero(t, c.ID, "server-assigned id reflected")
	require.Equal(t, "nice post", c.Content, "content trimmed")
	require.Same(t, author, c.Author, "resolved author attached for immediate render")
	require.Equal(t, 1, f.CommentCount(7))

	// replies reference their parent
	parent := c.ID
	r, err := f.AddComment(ctx, 7, &parent, "reply", author)
	require.NoError(t, err)
	require.Equal(t, &parent, r.ParentID)
	require.Equal(t, 2, f.CommentCount(7))
}

func TestAddComment_RejectsEmptyContent(t *testing.T) {
	comments := &fakeComments{}
	f := newFeed(t, deps{comments: comments})

	_, err := f.AddComment(context.Background(), 7, nil, "   \n\t ", nil)
	require.ErrorIs(t, err, errs.ErrValidation)
	comments.mu.Lock()
	defer comments.mu.Unlock()
	require.Empty(t, comments.comments, "validation errors never reach the transport")
}

func TestAddComment_RemoteFailureLeavesStateUntouched(t *testing.T) {
	comments := &fakeComments{createErr: errors.New("insert refused")}
	f := newFeed(t, deps{posts: seedPosts(), comments: comments})
	ctx := context.Background()
	require.NoError(t, f.Refresh(ctx))

	_, err := f.AddComment(ctx, 7, nil, "hello", nil)
	require.ErrorIs(t, err, errs.ErrMutation)
	require.Zero(t, f.CommentCount(7), "nothing reflected before the remote insert succeeds")
}

func TestDeleteComment_RequiresOwnership(t *testing.T) {
	other := uuid.Must(uuid.NewV4())
	comments := &fakeComments{comments: []model.Comment{
		{ID: 1, AuthorID: other, PostID: 7, Content: "not yours"},
	}, nextID: 1}
	f := newFeed(t, deps{posts: seedPosts(), comments: comments})
	ctx := context.Background()
	require.NoError(t, f.Refresh(ctx))

	err := f.DeleteComment(ctx, &comments.comments[0])
	require.ErrorIs(t, err, errs.ErrNotAuthenticated)
	comments.mu.Lock()
	require.Len(t, comments.comments, 1, "remote delete never attempted")
	comments.mu.Unlock()

	mine, err := f.AddComment(ctx, 7, nil, "mine", nil)
	require.NoError(t, err)
	require.NoError(t, f.DeleteComment(ctx, mine))
	require.Equal(t, 1, f.CommentCount(7))
}

func TestCreatePost_PrependsEcho(t *testing.T) {
	posts := seedPosts()
	f := newFeed(t, deps{posts: posts})
	ctx := context.Background()
	require.NoError(t, f.Refresh(ctx))

	author := &model.Profile{ID: userID, Username: "dana"}
	p, err := f.CreatePost(ctx, "fresh", "https://img.example/1.jpg", author)
	require.NoError(t, err)
	require.NotZero(t, p.ID)

	feed := f.Posts()
	require.Equal(t, p.ID, feed[0].ID, "new post leads the local feed")
	require.Same(t, author, feed[0].Author)

	_, err = f.CreatePost(ctx, "   ", "", nil)
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestDeletePost_RequiresOwnershipAndPrunesViews(t *testing.T) {
	posts := seedPosts()
	f := newFeed(t, deps{posts: posts})
	ctx := context.Background()
	require.NoError(t, f.Refresh(ctx))

	theirs := f.Posts()[1]
	require.ErrorIs(t, f.DeletePost(ctx, &theirs), errs.ErrNotAuthenticated)

	mine := f.Posts()[0]
	require.NoError(t, f.ToggleLike(ctx, mine.ID))
	require.NoError(t, f.DeletePost(ctx, &mine))
	require.Len(t, f.Posts(), 1)
	require.False(t, f.Liked(mine.ID))
	require.Zero(t, f.CommentCount(mine.ID))
}
