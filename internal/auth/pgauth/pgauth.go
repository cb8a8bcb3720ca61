// Package pgauth implements the auth transport against a PostgreSQL accounts
// table, issuing HS256 access tokens that carry signup metadata as claims.
package pgauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	pkgcrypto "github.com/ddalgi-labs/snsync/internal/crypto"
	"github.com/ddalgi-labs/snsync/internal/errs"
	"github.com/ddalgi-labs/snsync/internal/limiter"
	"github.com/ddalgi-labs/snsync/internal/model"
	"github.com/ddalgi-labs/snsync/internal/session"
)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TokenCache persists the access token across process restarts.
type TokenCache interface {
	// Load returns the cached token, empty if none.
	Load() (string, error)
	// Save stores the token.
	Save(token string) error
	// Clear removes the cached token.
	Clear() error
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	// Metadata carries signup-time profile fields so lazy profile
	// provisioning works from a restored session without a DB read.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Client is a PostgreSQL-backed session.AuthClient.
type Client struct {
	db        pgxQuerier
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	cache     TokenCache
	log       *zap.Logger

	mu      sync.Mutex
	current *model.Identity
	subs    map[int]func(session.Event)
	nextSub int
}

var _ session.AuthClient = (*Client)(nil)

// New constructs a Client. A nil limiter disables rate limiting, a nil cache
// keeps the session in memory only, a nil logger defaults to nop.
func New(db pgxQuerier, signKey []byte, accessTTL time.Duration, lim limiter.Limiter, cache TokenCache, log *zap.Logger) *Client {
	if lim == nil {
		lim = limiter.Unlimited{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		db:        db,
		signKey:   signKey,
		accessTTL: accessTTL,
		lim:       lim,
		cache:     cache,
		log:       log,
		subs:      map[int]func(session.Event){},
	}
}

// SignUp creates an account and signs the new user in.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*model.Identity, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("empty email/password: %w", errs.ErrValidation)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	hash, salt, err := pkgcrypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	const q = `
INSERT INTO accounts (id, email, pwd_hash, salt_auth, metadata)
VALUES ($1, $2, $3, $4, $5)`
	if _, err := c.db.Exec(ctx, q, id, email, hash, salt, metadata); err != nil {
		var pg *pgconn.PgError
		if errors.As(err, &pg) && pg.Code == "23505" {
			return nil, fmt.Errorf("email taken: %w", errs.ErrAlreadyExists)
		}
		return nil, err
	}
	return c.establish(id, email, metadata)
}

// SignInWithPassword authenticates with credentials, applying the login
// rate limiter.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	allowed, retryAfter, err := c.lim.Allow(ctx, email)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("retry in %s: %w", retryAfter.Round(time.Second), errs.ErrRateLimited)
	}

	const q = `
SELECT id, email, pwd_hash, salt_auth, metadata
FROM accounts WHERE email=$1`
	var (
		id       uuid.UUID
		hash     []byte
		salt     []byte
		metadata map[string]string
	)
	scanErr := c.db.QueryRow(ctx, q, email).Scan(&id, &email, &hash, &salt, &metadata)
	if scanErr != nil || !pkgcrypto.VerifyPassword(password, salt, hash) {
		if blocked, d, ferr := c.lim.Failure(ctx, email); ferr == nil && blocked {
			return nil, fmt.Errorf("retry in %s: %w", d.Round(time.Second), errs.ErrRateLimited)
		}
		// unknown account and wrong password are indistinguishable
		return nil, fmt.Errorf("invalid credentials: %w", errs.ErrAuthentication)
	}
	_ = c.lim.Success(ctx, email)

	return c.establish(id, email, metadata)
}

// SignOut destroys the current session and notifies subscribers.
func (c *Client) SignOut(context.Context) error {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	if c.cache != nil {
		if err := c.cache.Clear(); err != nil {
			return fmt.Errorf("clear token cache: %w", err)
		}
	}
	c.emit(session.Event{})
	return nil
}

// CurrentSession returns the in-memory session if valid, otherwise restores
// one from the token cache. Returns nil without error when signed out.
func (c *Client) CurrentSession(context.Context) (*model.Identity, error) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur != nil && time.Now().Before(cur.ExpiresAt) {
		cpy := *cur
		return &cpy, nil
	}
	if c.cache == nil {
		return nil, nil
	}
	tok, err := c.cache.Load()
	if err != nil {
		return nil, fmt.Errorf("load token cache: %w", err)
	}
	if tok == "" {
		return nil, nil
	}
	ident, err := c.parseToken(tok)
	if err != nil {
		// stale or tampered token: treat as signed out
		c.log.Info("discarding invalid cached token", zap.Error(err))
		_ = c.cache.Clear()
		return nil, nil
	}
	c.mu.Lock()
	c.current = ident
	c.mu.Unlock()
	cpy := *ident
	return &cpy, nil
}

// OnSessionChange subscribes to sign-in/sign-out notifications. Events are
// delivered in emission order.
func (c *Client) OnSessionChange(fn func(session.Event)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// establish issues a token, stores the session, and notifies subscribers.
func (c *Client) establish(id uuid.UUID, email string, metadata map[string]string) (*model.Identity, error) {
	tok, exp, err := c.issueToken(id, email, metadata)
	if err != nil {
		return nil, err
	}
	ident := &model.Identity{
		UserID:      id,
		Email:       email,
		AccessToken: tok,
		ExpiresAt:   exp,
		Metadata:    metadata,
	}
	c.mu.Lock()
	c.current = ident
	c.mu.Unlock()
	if c.cache != nil {
		if err := c.cache.Save(tok); err != nil {
			c.log.Warn("token cache save failed", zap.Error(err))
		}
	}
	cpy := *ident
	c.emit(session.Event{Identity: &cpy})
	out := *ident
	return &out, nil
}

func (c *Client) issueToken(id uuid.UUID, email string, metadata map[string]string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(c.accessTTL)
	cl := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email:    email,
		Metadata: metadata,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, cl)
	signed, err := tok.SignedString(c.signKey)
	return signed, exp, err
}

func (c *Client) parseToken(signed string) (*model.Identity, error) {
	var cl claims
	tok, err := jwt.ParseWithClaims(signed, &cl, func(*jwt.Token) (any, error) {
		return c.signKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, fmt.Errorf("token invalid: %w", errs.ErrAuthentication)
	}
	uid, err := uuid.FromString(cl.Subject)
	if err != nil {
		return nil, err
	}
	return &model.Identity{
		UserID:      uid,
		Email:       cl.Email,
		AccessToken: signed,
		ExpiresAt:   cl.ExpiresAt.Time,
		Metadata:    cl.Metadata,
	}, nil
}

func (c *Client) emit(ev session.Event) {
	c.mu.Lock()
	subs := make([]func(session.Event), 0, len(c.subs))
	for i := 0; i < c.nextSub; i++ {
		if fn, ok := c.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}
