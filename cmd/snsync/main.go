// Command snsync is a demo client for the social data-sync layer: it
// bootstraps a session against the remote store and exercises feed, likes,
// comments, search and profile operations from the terminal.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ddalgi-labs/snsync/internal/auth/pgauth"
	"github.com/ddalgi-labs/snsync/internal/feed"
	"github.com/ddalgi-labs/snsync/internal/fetch"
	"github.com/ddalgi-labs/snsync/internal/migrate"
	"github.com/ddalgi-labs/snsync/internal/model"
	"github.com/ddalgi-labs/snsync/internal/photo"
	"github.com/ddalgi-labs/snsync/internal/session"
	"github.com/ddalgi-labs/snsync/internal/store/postgres"
	"github.com/ddalgi-labs/snsync/internal/view"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: snsync [flags] <command> [args]

commands:
  register <email> <password> <username> [display name]
  login    <email> <password>
  logout
  whoami
  feed
  search   <query>
  post     <caption> [photo query]
  like     <post id>
  comments <post id>
  comment  <post id> <text>
  reply    <post id> <parent comment id> <text>
  delete-post    <post id>
  delete-comment <comment id>
  profile  [username]
  edit-profile [-name NAME] [-bio BIO] [-avatar QUERY]
  photos   [query]`)
	flag.PrintDefaults()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fatal(logger *zap.Logger, msg string, err error) {
	logger.Error(msg, zap.Error(err))
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

// waitReady blocks until the bootstrapper signals readiness. The fallback
// timer inside the bootstrapper bounds this even if the transport hangs.
func waitReady(b *session.Bootstrapper) {
	done := make(chan struct{})
	var once sync.Once
	unsub := b.Subscribe(func(s session.Snapshot) {
		if !s.Initializing {
			once.Do(func() { close(done) })
		}
	})
	defer unsub()
	if !b.Initializing() {
		return
	}
	<-done
}

func main() {
	dsn := flag.String("dsn", os.Getenv("SNSYNC_DSN"), "PostgreSQL DSN (or SNSYNC_DSN)")
	jwtKey := flag.String("jwt-key", os.Getenv("SNSYNC_JWT_KEY"), "HS256 signing key (or SNSYNC_JWT_KEY)")
	unsplashKey := flag.String("unsplash-key", os.Getenv("UNSPLASH_ACCESS_KEY"), "Unsplash access key (optional)")
	accessTTL := flag.Duration("access-ttl", 24*time.Hour, "access token TTL")
	runMigrations := flag.Bool("migrate", false, "apply schema migrations before running")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("snsync", zap.String("version", version), zap.String("buildDate", buildDate))

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	if *dsn == "" || *jwtKey == "" {
		fmt.Fprintln(os.Stderr, "missing -dsn or -jwt-key")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *runMigrations {
		if err := migrate.Up(ctx, *dsn); err != nil {
			fatal(logger, "migrate up", err)
		}
	}

	db, err := postgres.New(ctx, *dsn)
	if err != nil {
		fatal(logger, "connect", err)
	}
	defer db.Close()

	profiles := postgres.NewProfileRepo(db)
	posts := postgres.NewPostRepo(db)
	likes := postgres.NewLikeRepo(db)
	comments := postgres.NewCommentRepo(db)

	authClient := pgauth.New(db.Pool, []byte(*jwtKey), *accessTTL, nil, pgauth.NewFileTokenCache(), logger)
	boot := session.New(authClient, profiles, session.WithLogger(logger))
	boot.Start(ctx)
	defer boot.Close()
	waitReady(boot)

	fetcher := fetch.New(profiles, posts, likes, comments, logger)
	photos := photo.NewUnsplash(*unsplashKey)

	newFeed := func() *feed.Feed {
		ident := boot.Identity()
		if ident == nil {
			fmt.Fprintln(os.Stderr, "not logged in")
			os.Exit(1)
		}
		return feed.New(fetcher, posts, likes, comments, ident.UserID, logger)
	}

	switch args[0] {
	case "register":
		if len(args) < 4 {
			usage()
			os.Exit(2)
		}
		display := ""
		if len(args) > 4 {
			display = strings.Join(args[4:], " ")
		}
		if err := boot.Register(ctx, args[1], args[2], args[3], display); err != nil {
			fatal(logger, "register", err)
		}
		fmt.Println("registered and signed in as", args[3])

	case "login":
		if len(args) != 3 {
			usage()
			os.Exit(2)
		}
		if err := boot.Login(ctx, args[1], args[2]); err != nil {
			fatal(logger, "login", err)
		}
		fmt.Println("signed in")

	case "logout":
		if err := boot.Logout(ctx); err != nil {
			fatal(logger, "logout", err)
		}
		fmt.Println("signed out")

	case "whoami":
		printJSON(boot.Snapshot())

	case "feed":
		f := newFeed()
		if err := f.Refresh(ctx); err != nil {
			fatal(logger, "refresh feed", err)
		}
		for _, p := range f.Posts() {
			author := "?"
			if p.Author != nil {
				author = p.Author.Username
			}
			mark := " "
			if f.Liked(p.ID) {
				mark = "*"
			}
			fmt.Printf("%s #%d @%s  %q  likes=%d comments=%d  %s\n",
				mark, p.ID, author, p.Caption, p.LikesCount, f.CommentCount(p.ID), p.CreatedAt.Format(time.RFC3339))
		}

	case "search":
		if len(args) != 2 {
			usage()
			os.Exit(2)
		}
		results, err := fetcher.SearchPosts(ctx, args[1])
		if err != nil {
			fatal(logger, "search", err)
		}
		printJSON(results)

	case "post":
		if len(args) < 2 {
			usage()
			os.Exit(2)
		}
		query := "pet"
		if len(args) > 2 {
			query = args[2]
		}
		pics, err := photos.FetchRandomPhotos(ctx, 1, query)
		if err != nil {
			fatal(logger, "fetch photo", err)
		}
		f := newFeed()
		p, err := f.CreatePost(ctx, args[1], pics[0].RegularURL, boot.Profile())
		if err != nil {
			fatal(logger, "create post", err)
		}
		fmt.Println("posted", p.ID)

	case "like":
		id := mustID(args, 1)
		f := newFeed()
		if err := f.Refresh(ctx); err != nil {
			fatal(logger, "refresh feed", err)
		}
		if err := f.ToggleLike(ctx, id); err != nil {
			fatal(logger, "toggle like", err)
		}
		fmt.Printf("post %d liked=%v\n", id, f.Liked(id))

	case "comments":
		id := mustID(args, 1)
		f := newFeed()
		p, tree, err := f.LoadPost(ctx, id)
		if err != nil {
			fatal(logger, "load post", err)
		}
		author := "?"
		if p.Author != nil {
			author = p.Author.Username
		}
		mark := " "
		if f.Liked(p.ID) {
			mark = "*"
		}
		fmt.Printf("%s #%d @%s  %q  likes=%d comments=%d\n",
			mark, p.ID, author, p.Caption, p.LikesCount, f.CommentCount(p.ID))
		printForest(tree, 0)

	case "comment", "reply":
		var postID int64
		var parent *int64
		var text string
		if args[0] == "comment" {
			postID = mustID(args, 1)
			text = strings.Join(args[2:], " ")
		} else {
			postID = mustID(args, 1)
			pid := mustID(args, 2)
			parent = &pid
			text = strings.Join(args[3:], " ")
		}
		f := newFeed()
		c, err := f.AddComment(ctx, postID, parent, text, boot.Profile())
		if err != nil {
			fatal(logger, "add comment", err)
		}
		fmt.Println("comment", c.ID)

	case "delete-post":
		id := mustID(args, 1)
		p, err := fetcher.GetPost(ctx, id)
		if err != nil {
			fatal(logger, "get post", err)
		}
		if err := newFeed().DeletePost(ctx, p); err != nil {
			fatal(logger, "delete post", err)
		}
		fmt.Println("deleted post", id)

	case "delete-comment":
		id := mustID(args, 1)
		c, err := comments.Get(ctx, id)
		if err != nil {
			fatal(logger, "get comment", err)
		}
		if err := newFeed().DeleteComment(ctx, c); err != nil {
			fatal(logger, "delete comment", err)
		}
		fmt.Println("deleted comment", id)

	case "profile":
		ident := boot.Identity()
		if ident == nil {
			fmt.Fprintln(os.Stderr, "not logged in")
			os.Exit(1)
		}
		printJSON(boot.Profile())
		mine, err := fetcher.ListPostsByAuthor(ctx, ident.UserID)
		if err != nil {
			fatal(logger, "list posts", err)
		}
		fmt.Printf("%d posts\n", len(mine))

	case "edit-profile":
		fs := flag.NewFlagSet("edit-profile", flag.ExitOnError)
		name := fs.String("name", "", "new display name")
		bio := fs.String("bio", "", "new bio")
		avatar := fs.String("avatar", "", "pick a random avatar for this query")
		_ = fs.Parse(args[1:])
		var patch model.ProfilePatch
		if *name != "" {
			patch.DisplayName = name
		}
		if *bio != "" {
			patch.Bio = bio
		}
		if *avatar != "" {
			pics, err := photos.FetchRandomPhotos(ctx, 1, *avatar)
			if err != nil {
				fatal(logger, "fetch avatar", err)
			}
			patch.AvatarURL = &pics[0].ThumbURL
		}
		if err := boot.RefreshProfile(ctx, patch); err != nil {
			fatal(logger, "edit profile", err)
		}
		printJSON(boot.Profile())

	case "photos":
		query := "pet"
		if len(args) > 1 {
			query = args[1]
		}
		pics, err := photos.FetchRandomPhotos(ctx, 9, query)
		if err != nil {
			fatal(logger, "fetch photos", err)
		}
		printJSON(pics)

	default:
		usage()
		os.Exit(2)
	}
}

func mustID(args []string, i int) int64 {
	if len(args) <= i {
		usage()
		os.Exit(2)
	}
	id, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad id %q\n", args[i])
		os.Exit(2)
	}
	return id
}

func printForest(nodes []*view.CommentNode, depth int) {
	for _, n := range nodes {
		author := "?"
		if n.Author != nil {
			author = n.Author.Username
		}
		fmt.Printf("%s#%d @%s: %s\n", strings.Repeat("  ", depth), n.ID, author, n.Content)
		printForest(n.Replies, depth+1)
	}
}
