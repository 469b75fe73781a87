package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/api"
	"storefront/internal/domain/user"
	"storefront/internal/session"
	"storefront/internal/stubapi"
)

type fixture struct {
	stub   *stubapi.Server
	ts     *httptest.Server
	store  *session.Store
	client *api.Client
	mgr    *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stub := stubapi.NewServer(stubapi.JWTConfig{
		Issuer:        "test",
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
	})
	ts := httptest.NewServer(stub.Router())
	t.Cleanup(ts.Close)

	store, err := session.OpenStore(filepath.Join(t.TempDir(), "session.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	client := api.New(api.Config{BaseURL: ts.URL, Timeout: 5 * time.Second}, store, zerolog.Nop())
	mgr := session.NewManager(client, store, zerolog.Nop())
	return &fixture{stub: stub, ts: ts, store: store, client: client, mgr: mgr}
}

// reattach builds a second manager over the same store and stub, as a
// fresh process start would.
func (f *fixture) reattach(t *testing.T) *session.Manager {
	t.Helper()
	client := api.New(api.Config{BaseURL: f.ts.URL, Timeout: 5 * time.Second}, f.store, zerolog.Nop())
	return session.NewManager(client, f.store, zerolog.Nop())
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	f.stub.SeedUser("Ada", "ada@example.com", "secret12", 1200)

	u, err := f.mgr.Login(context.Background(), "ada@example.com", "secret12")
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.Name)
	assert.Equal(t, 1200, u.Points)
	assert.Equal(t, session.Authenticated, f.mgr.State())
	assert.True(t, f.mgr.IsAuthenticated())

	cur, ok := f.mgr.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, u.ID, cur.ID)

	access, refresh, stored, ok, err := f.store.ReadAuth()
	require.NoError(t, err)
	require.True(t, ok, "session must be persisted")
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)
	assert.Equal(t, u.ID, stored.ID)
}

func TestLoginFailureLeavesNoSession(t *testing.T) {
	f := newFixture(t)
	f.stub.SeedUser("Ada", "ada@example.com", "secret12", 0)

	_, err := f.mgr.Login(context.Background(), "ada@example.com", "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrUnauthenticated), "got %v", err)
	assert.Equal(t, session.Unauthenticated, f.mgr.State())
	_, ok := f.mgr.CurrentUser()
	assert.False(t, ok)
	_, _, _, stored, err := f.store.ReadAuth()
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestIdentityListenersObserveLoginAndLogout(t *testing.T) {
	f := newFixture(t)
	f.stub.SeedUser("Ada", "ada@example.com", "secret12", 0)

	var seen []string
	f.mgr.OnIdentityChange(func(uid string) { seen = append(seen, uid) })

	u, err := f.mgr.Login(context.Background(), "ada@example.com", "secret12")
	require.NoError(t, err)
	require.NoError(t, f.mgr.Logout())

	require.Len(t, seen, 2)
	assert.Equal(t, u.ID, seen[0])
	assert.Equal(t, "", seen[1])
}

func TestLogoutPurgesStore(t *testing.T) {
	f := newFixture(t)
	f.stub.SeedUser("Ada", "ada@example.com", "secret12", 0)

	_, err := f.mgr.Login(context.Background(), "ada@example.com", "secret12")
	require.NoError(t, err)
	require.NoError(t, f.mgr.Logout())

	assert.Equal(t, session.Unauthenticated, f.mgr.State())
	assert.Empty(t, f.store.AccessToken())
	assert.Empty(t, f.store.RefreshToken())
	_, _, _, ok, err := f.store.ReadAuth()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegisterPerformsImplicitLogin(t *testing.T) {
	f := newFixture(t)

	u, err := f.mgr.Register(context.Background(), user.Registration{
		Name:     "Grace",
		Email:    "grace@example.com",
		Password: "hopper12",
	})
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", u.Email)
	assert.True(t, f.mgr.IsAuthenticated())
}

func TestRegisterDuplicateFailsWithoutSession(t *testing.T) {
	f := newFixture(t)
	f.stub.SeedUser("Ada", "ada@example.com", "secret12", 0)

	_, err := f.mgr.Register(context.Background(), user.Registration{
		Name:     "Ada",
		Email:    "ada@example.com",
		Password: "secret12",
	})
	require.Error(t, err)
	assert.Equal(t, session.Unauthenticated, f.mgr.State())
}

func TestFailedReloginClearsPreviousIdentity(t *testing.T) {
	stub := stubapi.NewServer(stubapi.JWTConfig{
		Issuer:        "test",
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
	})
	stub.SeedUser("Ada", "ada@example.com", "secret12", 0)
	stub.SeedUser("Bob", "bob@example.com", "secret12", 0)

	// Profile fetches can be failed on demand, leaving the rest of the
	// contract intact.
	var failProfiles atomic.Bool
	router := stub.Router()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failProfiles.Load() && r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/users/") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	store, err := session.OpenStore(filepath.Join(t.TempDir(), "session.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	client := api.New(api.Config{BaseURL: ts.URL, Timeout: 5 * time.Second}, store, zerolog.Nop())
	mgr := session.NewManager(client, store, zerolog.Nop())

	var seen []string
	mgr.OnIdentityChange(func(uid string) { seen = append(seen, uid) })

	_, err = mgr.Login(context.Background(), "ada@example.com", "secret12")
	require.NoError(t, err)

	failProfiles.Store(true)
	_, err = mgr.Login(context.Background(), "bob@example.com", "secret12")
	require.Error(t, err)

	// Ada's credentials were overwritten by Bob's login attempt; her
	// identity must not survive in memory either.
	assert.Equal(t, session.Unauthenticated, mgr.State())
	_, ok := mgr.UserID()
	assert.False(t, ok, "previous identity must not outlive its credentials")
	require.NotEmpty(t, seen)
	assert.Equal(t, "", seen[len(seen)-1], "listeners must observe the identity loss")
}

func TestRestoreRebuildsSession(t *testing.T) {
	f := newFixture(t)
	f.stub.SeedUser("Ada", "ada@example.com", "secret12", 800)

	u, err := f.mgr.Login(context.Background(), "ada@example.com", "secret12")
	require.NoError(t, err)

	// Points moved server-side while we were away; restore re-fetches.
	f.stub.SetPoints(u.ID, 2500)

	mgr2 := f.reattach(t)
	require.NoError(t, mgr2.Restore(context.Background()))
	assert.Equal(t, session.Authenticated, mgr2.State())
	cur, ok := mgr2.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, 2500, cur.Points)
}

func TestRestoreFailurePurgesStoredSession(t *testing.T) {
	f := newFixture(t)
	f.stub.SeedUser("Ada", "ada@example.com", "secret12", 0)

	f.stub.SetAccessTTL(50 * time.Millisecond)
	_, err := f.mgr.Login(context.Background(), "ada@example.com", "secret12")
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)
	f.stub.RevokeRefresh(f.store.RefreshToken())
	f.stub.SetAccessTTL(time.Hour)

	mgr2 := f.reattach(t)
	err = mgr2.Restore(context.Background())
	require.Error(t, err)
	assert.Equal(t, session.Unauthenticated, mgr2.State())
	_, _, _, ok, err := f.store.ReadAuth()
	require.NoError(t, err)
	assert.False(t, ok, "unusable stored session must be purged")
}

func TestRestoreWithNoStoredSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Restore(context.Background()))
	assert.Equal(t, session.Unauthenticated, f.mgr.State())
}

func TestRenewalFailureClearsSessionAndSignals(t *testing.T) {
	f := newFixture(t)
	f.stub.SeedUser("Ada", "ada@example.com", "secret12", 0)

	// Short-lived access: valid through login, expired afterwards.
	f.stub.SetAccessTTL(50 * time.Millisecond)
	u, err := f.mgr.Login(context.Background(), "ada@example.com", "secret12")
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)

	// Renewal credential gone server-side: next renewal must fail.
	f.stub.RevokeRefresh(f.store.RefreshToken())
	f.stub.SetAccessTTL(time.Hour)

	_, err = f.client.GetUser(context.Background(), u.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrUnauthenticated), "got %v", err)

	// Session ended: in-memory and persisted state both gone.
	_, ok := f.mgr.CurrentUser()
	assert.False(t, ok)
	assert.Equal(t, session.Unauthenticated, f.mgr.State())
	_, _, _, stored, err := f.store.ReadAuth()
	require.NoError(t, err)
	assert.False(t, stored, "persisted credentials must be removed")

	select {
	case <-f.mgr.Expired():
	default:
		t.Fatal("navigation-intent signal must fire on forced invalidation")
	}
}
