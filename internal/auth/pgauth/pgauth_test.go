package pgauth

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	pkgcrypto "github.com/ddalgi-labs/snsync/internal/crypto"
	"github.com/ddalgi-labs/snsync/internal/errs"
	"github.com/ddalgi-labs/snsync/internal/limiter"
	"github.com/ddalgi-labs/snsync/internal/session"
)

type memCache struct{ token string }

func (m *memCache) Load() (string, error)    { return m.token, nil }
func (m *memCache) Save(token string) error  { m.token = token; return nil }
func (m *memCache) Clear() error             { m.token = ""; return nil }

type fakeLimiter struct {
	allowOK      bool
	failures     int
	blockOnFail  bool
	successCalls int
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	if !f.allowOK {
		return false, time.Minute, nil
	}
	return true, 0, nil
}

func (f *fakeLimiter) Success(context.Context, string) error {
	f.successCalls++
	return nil
}

func (f *fakeLimiter) Failure(context.Context, string) (bool, time.Duration, error) {
	f.failures++
	return f.blockOnFail, time.Minute, nil
}

func newClient(t *testing.T, lim limiter.Limiter, cache TokenCache) (*Client, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return New(mock, []byte("test-key"), time.Hour, lim, cache, nil), mock
}

func TestSignUp_CreatesAccountAndEmitsSession(t *testing.T) {
	c, mock := newClient(t, nil, nil)
	defer mock.Close()

	var events []session.Event
	unsub := c.OnSessionChange(func(ev session.Event) { events = append(events, ev) })
	defer unsub()

	meta := map[string]string{"username": "dana", "display_name": "Dana"}
	mock.ExpectExec(`INSERT INTO accounts \(id, email, pwd_hash, salt_auth, metadata\) VALUES \(\$1, \$2, \$3, \$4, \$5\)`).
		WithArgs(pgxmock.AnyArg(), "d@example.com", pgxmock.AnyArg(), pgxmock.AnyArg(), meta).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ident, err := c.SignUp(context.Background(), "d@example.com", "pw", meta)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, ident.UserID)
	require.Equal(t, "dana", ident.Metadata["username"])
	require.NotEmpty(t, ident.AccessToken)

	require.Len(t, events, 1)
	require.NotNil(t, events[0].Identity)
	require.Equal(t, ident.UserID, events[0].Identity.UserID)

	cur, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, ident.UserID, cur.UserID)
}

func TestSignUp_EmailTaken(t *testing.T) {
	c, mock := newClient(t, nil, nil)
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs(pgxmock.AnyArg(), "d@example.com", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	_, err := c.SignUp(context.Background(), "d@example.com", "pw", nil)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
}

func TestSignUp_RejectsEmptyCredentials(t *testing.T) {
	c, mock := newClient(t, nil, nil)
	defer mock.Close()

	_, err := c.SignUp(context.Background(), "", "pw", nil)
	require.ErrorIs(t, err, errs.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet(), "no remote call for invalid input")
}

func accountRow(t *testing.T, id uuid.UUID, email, password string) *pgxmock.Rows {
	t.Helper()
	hash, salt, err := pkgcrypto.HashPassword(password)
	require.NoError(t, err)
	return pgxmock.NewRows([]string{"id", "email", "pwd_hash", "salt_auth", "metadata"}).
		AddRow(id, email, hash, salt, map[string]string{"username": "dana"})
}

func TestSignIn_Success(t *testing.T) {
	lim := &fakeLimiter{allowOK: true}
	c, mock := newClient(t, lim, nil)
	defer mock.Close()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id, email, pwd_hash, salt_auth, metadata FROM accounts WHERE email=\$1`).
		WithArgs("d@example.com").
		WillReturnRows(accountRow(t, id, "d@example.com", "pw"))

	ident, err := c.SignInWithPassword(context.Background(), "d@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, id, ident.UserID)
	require.Equal(t, "dana", ident.Metadata["username"])
	require.Equal(t, 1, lim.successCalls)
}

func TestSignIn_WrongPassword(t *testing.T) {
	lim := &fakeLimiter{allowOK: true}
	c, mock := newClient(t, lim, nil)
	defer mock.Close()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id, email, pwd_hash, salt_auth, metadata FROM accounts WHERE email=\$1`).
		WithArgs("d@example.com").
		WillReturnRows(accountRow(t, id, "d@example.com", "pw"))

	_, err := c.SignInWithPassword(context.Background(), "d@example.com", "wrong")
	require.ErrorIs(t, err, errs.ErrAuthentication)
	require.Equal(t, 1, lim.failures)
}

func TestSignIn_UnknownAccountIndistinguishable(t *testing.T) {
	lim := &fakeLimiter{allowOK: true}
	c, mock := newClient(t, lim, nil)
	defer mock.Close()

	mock.ExpectQuery(`SELECT id, email, pwd_hash, salt_auth, metadata FROM accounts WHERE email=\$1`).
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := c.SignInWithPassword(context.Background(), "nobody@example.com", "pw")
	require.ErrorIs(t, err, errs.ErrAuthentication)
}

func TestSignIn_RateLimited(t *testing.T) {
	c, mock := newClient(t, &fakeLimiter{allowOK: false}, nil)
	defer mock.Close()

	_, err := c.SignInWithPassword(context.Background(), "d@example.com", "pw")
	require.ErrorIs(t, err, errs.ErrRateLimited)
	require.NoError(t, mock.ExpectationsWereMet(), "blocked before the account read")
}

func TestSignOut_ClearsSessionAndCache(t *testing.T) {
	cache := &memCache{}
	c, mock := newClient(t, nil, cache)
	defer mock.Close()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id, email, pwd_hash, salt_auth, metadata FROM accounts WHERE email=\$1`).
		WithArgs("d@example.com").
		WillReturnRows(accountRow(t, id, "d@example.com", "pw"))
	_, err := c.SignInWithPassword(context.Background(), "d@example.com", "pw")
	require.NoError(t, err)
	require.NotEmpty(t, cache.token)

	var sawSignOut bool
	unsub := c.OnSessionChange(func(ev session.Event) { sawSignOut = ev.Identity == nil })
	defer unsub()

	require.NoError(t, c.SignOut(context.Background()))
	require.True(t, sawSignOut)
	require.Empty(t, cache.token)

	cur, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	require.Nil(t, cur)
}

func TestCurrentSession_RestoresFromTokenCache(t *testing.T) {
	cache := &memCache{}
	c, mock := newClient(t, nil, cache)
	defer mock.Close()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id, email, pwd_hash, salt_auth, metadata FROM accounts WHERE email=\$1`).
		WithArgs("d@example.com").
		WillReturnRows(accountRow(t, id, "d@example.com", "pw"))
	_, err := c.SignInWithPassword(context.Background(), "d@example.com", "pw")
	require.NoError(t, err)

	// a fresh process with the same cache and signing key
	restored, mock2 := newClient(t, nil, cache)
	defer mock2.Close()
	cur, err := restored.CurrentSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cur)
	require.Equal(t, id, cur.UserID)
	require.Equal(t, "dana", cur.Metadata["username"], "signup metadata survives the restore")
}

func TestCurrentSession_DiscardsTamperedToken(t *testing.T) {
	cache := &memCache{token: "not.a.jwt"}
	c, mock := newClient(t, nil, cache)
	defer mock.Close()

	cur, err := c.CurrentSession(context.Background())
	require.NoError(t, err, "invalid cached token means signed out, not an error")
	require.Nil(t, cur)
	require.Empty(t, cache.token, "stale token is discarded")
}
