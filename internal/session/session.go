// Package session owns the process-wide identity/profile state: bootstrap on
// start, idempotent profile provisioning, and the register/login/logout
// operations.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ddalgi-labs/snsync/internal/errs"
	"github.com/ddalgi-labs/snsync/internal/model"
	"github.com/ddalgi-labs/snsync/internal/store"
)

// DefaultReadyTimeout bounds how long the bootstrapper may report
// "initializing" even if the auth transport never answers.
const DefaultReadyTimeout = 5 * time.Second

// Metadata keys carried through signup so the profile can be provisioned
// lazily on first authenticated session observation.
const (
	MetaUsername    = "username"
	MetaDisplayName = "display_name"
)

var usernameRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// Event is a session-change notification from the auth transport.
// A nil Identity means signed out.
type Event struct {
	Identity *model.Identity
}

// AuthClient is the remote auth collaborator.
type AuthClient interface {
	// CurrentSession returns the existing session, nil if there is none.
	CurrentSession(ctx context.Context) (*model.Identity, error)
	// OnSessionChange subscribes to sign-in/sign-out notifications for the
	// lifetime of the process; the returned func unsubscribes.
	OnSessionChange(fn func(Event)) (unsubscribe func())
	// SignUp creates an account, passing profile fields as signup metadata.
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (*model.Identity, error)
	// SignInWithPassword authenticates with credentials.
	SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, error)
	// SignOut destroys the current session.
	SignOut(ctx context.Context) error
}

// Snapshot is an immutable view of the bootstrapper state handed to observers.
type Snapshot struct {
	Identity     *model.Identity
	Profile      *model.Profile
	Initializing bool
}

// Bootstrapper establishes and observes the authenticated identity and its
// profile. Session-change events are applied by a single consumer goroutine,
// so resolution is serialized; idempotency (not ordering) is what keeps
// out-of-order transport notifications safe.
type Bootstrapper struct {
	auth     AuthClient
	profiles store.ProfileStore
	log      *zap.Logger
	timeout  time.Duration

	mu           sync.Mutex
	identity     *model.Identity
	profile      *model.Profile
	initializing bool
	observers    map[int]func(Snapshot)
	nextObs      int

	events     chan Event
	quit       chan struct{}
	doneWG     sync.WaitGroup
	readyTimer *time.Timer
	unsubAuth  func()
	started    bool
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithReadyTimeout overrides the readiness fallback bound.
func WithReadyTimeout(d time.Duration) Option {
	return func(b *Bootstrapper) { b.timeout = d }
}

// WithLogger sets the logger (nop by default).
func WithLogger(log *zap.Logger) Option {
	return func(b *Bootstrapper) { b.log = log }
}

// New constructs a Bootstrapper; call Start to begin session bootstrap.
func New(auth AuthClient, profiles store.ProfileStore, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		auth:         auth,
		profiles:     profiles,
		log:          zap.NewNop(),
		timeout:      DefaultReadyTimeout,
		initializing: true,
		observers:    map[int]func(Snapshot){},
		events:       make(chan Event, 16),
		quit:         make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Start requests the existing session, subscribes to future session changes,
// and arms the readiness fallback timer. Idempotent.
func (b *Bootstrapper) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.readyTimer = time.AfterFunc(b.timeout, func() {
		b.log.Warn("session bootstrap timed out, reporting ready")
		b.markReady()
	})
	b.mu.Unlock()

	b.unsubAuth = b.auth.OnSessionChange(func(ev Event) {
		select {
		case b.events <- ev:
		case <-b.quit:
		}
	})

	b.doneWG.Add(1)
	go b.consume(ctx)

	// The initial lookup goes through the same queue as change
	// notifications so only one goroutine ever mutates state.
	go func() {
		ident, err := b.auth.CurrentSession(ctx)
		if err != nil {
			// decisive failure: report ready now, no session
			b.log.Warn("current session lookup failed", zap.Error(err))
			b.stopReadyTimer()
			b.markReady()
			return
		}
		select {
		case b.events <- Event{Identity: ident}:
		case <-b.quit:
		}
	}()
}

// Close unsubscribes from the auth transport and stops the consumer.
func (b *Bootstrapper) Close() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	if b.unsubAuth != nil {
		b.unsubAuth()
	}
	close(b.quit)
	b.stopReadyTimer()
	b.doneWG.Wait()
}

func (b *Bootstrapper) consume(ctx context.Context) {
	defer b.doneWG.Done()
	for {
		select {
		case <-b.quit:
			return
		case ev := <-b.events:
			b.apply(ctx, ev)
		}
	}
}

func (b *Bootstrapper) apply(ctx context.Context, ev Event) {
	if ev.Identity == nil {
		b.mu.Lock()
		b.identity = nil
		b.profile = nil
		b.mu.Unlock()
		b.stopReadyTimer()
		b.markReady()
		return
	}

	b.mu.Lock()
	b.identity = ev.Identity
	b.mu.Unlock()
	b.notify()

	b.resolveProfile(ctx, ev.Identity)
	b.markReady()
}

// resolveProfile looks the profile up by identity id and lazily creates it
// from signup metadata if absent. Idempotent: a locally observed
// "profile already set" short-circuits, and the store's unique constraint on
// id/username is the backstop against concurrent creation.
func (b *Bootstrapper) resolveProfile(ctx context.Context, ident *model.Identity) {
	b.mu.Lock()
	if b.profile != nil && b.profile.ID == ident.UserID {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	p, err := b.profiles.GetByID(ctx, ident.UserID)
	if err == nil {
		b.setProfile(p)
		return
	}
	if !errors.Is(err, errs.ErrNotFound) {
		b.log.Warn("profile lookup failed", zap.String("user_id", ident.UserID.String()), zap.Error(err))
		return
	}

	username := ident.Metadata[MetaUsername]
	if username == "" {
		// no metadata to provision from; readiness is still signaled
		b.log.Info("no profile and no signup metadata", zap.String("user_id", ident.UserID.String()))
		return
	}
	created := &model.Profile{
		ID:          ident.UserID,
		Username:    username,
		DisplayName: ident.Metadata[MetaDisplayName],
	}
	if err := b.profiles.Create(ctx, created); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			// lost the race; the winner's row is authoritative
			if p, gerr := b.profiles.GetByID(ctx, ident.UserID); gerr == nil {
				b.setProfile(p)
			}
			return
		}
		b.log.Warn("lazy profile creation failed", zap.String("user_id", ident.UserID.String()), zap.Error(err))
		return
	}
	b.setProfile(created)
}

func (b *Bootstrapper) setProfile(p *model.Profile) {
	b.mu.Lock()
	b.profile = p
	b.mu.Unlock()
	b.notify()
}

func (b *Bootstrapper) markReady() {
	b.mu.Lock()
	if !b.initializing {
		b.mu.Unlock()
		return
	}
	b.initializing = false
	b.mu.Unlock()
	b.notify()
}

func (b *Bootstrapper) stopReadyTimer() {
	b.mu.Lock()
	t := b.readyTimer
	b.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// Snapshot returns the current identity/profile/initializing state.
func (b *Bootstrapper) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{Identity: b.identity, Profile: b.profile, Initializing: b.initializing}
}

// Identity returns the current identity, nil if signed out.
func (b *Bootstrapper) Identity() *model.Identity { return b.Snapshot().Identity }

// Profile returns the current profile, nil if unresolved.
func (b *Bootstrapper) Profile() *model.Profile { return b.Snapshot().Profile }

// Initializing reports whether session bootstrap is still pending.
func (b *Bootstrapper) Initializing() bool { return b.Snapshot().Initializing }

// Subscribe registers an observer called on every state change; the returned
// func unsubscribes.
func (b *Bootstrapper) Subscribe(fn func(Snapshot)) func() {
	b.mu.Lock()
	id := b.nextObs
	b.nextObs++
	b.observers[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.observers, id)
		b.mu.Unlock()
	}
}

func (b *Bootstrapper) notify() {
	b.mu.Lock()
	snap := Snapshot{Identity: b.identity, Profile: b.profile, Initializing: b.initializing}
	obs := make([]func(Snapshot), 0, len(b.observers))
	for _, fn := range b.observers {
		obs = append(obs, fn)
	}
	b.mu.Unlock()
	for _, fn := range obs {
		fn(snap)
	}
}

// Register validates the username policy locally, then delegates account
// creation to the auth transport. Profile fields travel as signup metadata so
// the lazy-resolution path materializes the profile without a second explicit
// client write.
func (b *Bootstrapper) Register(ctx context.Context, email, password, username, displayName string) error {
	username = strings.TrimSpace(username)
	if !usernameRe.MatchString(username) {
		return fmt.Errorf("username %q: lowercase letters, digits and underscore only: %w", username, errs.ErrValidation)
	}
	meta := map[string]string{MetaUsername: username, MetaDisplayName: displayName}
	if _, err := b.auth.SignUp(ctx, email, password, meta); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

// Login authenticates with credentials. The resulting session flows through
// the same change-notification path as process start.
func (b *Bootstrapper) Login(ctx context.Context, email, password string) error {
	if _, err := b.auth.SignInWithPassword(ctx, email, password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// Logout signs out and clears identity and profile synchronously before
// returning.
func (b *Bootstrapper) Logout(ctx context.Context) error {
	if err := b.auth.SignOut(ctx); err != nil {
		return fmt.Errorf("logout: %w: %w", errs.ErrAuthentication, err)
	}
	b.mu.Lock()
	b.identity = nil
	b.profile = nil
	b.mu.Unlock()
	b.notify()
	return nil
}

// RefreshProfile writes the patch to the profile store and merges the stored
// row into local state only after remote confirmation, never optimistically.
func (b *Bootstrapper) RefreshProfile(ctx context.Context, patch model.ProfilePatch) error {
	ident := b.Identity()
	if ident == nil {
		return fmt.Errorf("refresh profile: %w", errs.ErrNotAuthenticated)
	}
	p, err := b.profiles.Update(ctx, ident.UserID, patch)
	if err != nil {
		return fmt.Errorf("refresh profile: %w", err)
	}
	b.setProfile(p)
	return nil
}
