package cart_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/api"
	"storefront/internal/cart"
	cartdomain "storefront/internal/domain/cart"
	"storefront/internal/session"
	"storefront/internal/stubapi"
)

type fixture struct {
	stub *stubapi.Server
	mgr  *session.Manager
	crt  *cart.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stub := stubapi.NewServer(stubapi.JWTConfig{
		Issuer:        "test",
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
	})
	stub.SeedProduct(stubapi.Product{ID: 1, Name: "Catan", Price: 29990, Stock: 10})
	stub.SeedProduct(stubapi.Product{ID: 2, Name: "Carcassonne", Price: 24990, Stock: 3})
	ts := httptest.NewServer(stub.Router())
	t.Cleanup(ts.Close)

	store, err := session.OpenStore(filepath.Join(t.TempDir(), "session.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	client := api.New(api.Config{BaseURL: ts.URL, Timeout: 5 * time.Second}, store, zerolog.Nop())
	mgr := session.NewManager(client, store, zerolog.Nop())
	crt := cart.NewStore(client, mgr, zerolog.Nop())
	mgr.OnIdentityChange(crt.OnIdentity)

	return &fixture{stub: stub, mgr: mgr, crt: crt}
}

func (f *fixture) login(t *testing.T, email, password string) {
	t.Helper()
	f.stub.SeedUser("Ada", email, password, 0)
	_, err := f.mgr.Login(context.Background(), email, password)
	require.NoError(t, err)
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t)
	f.login(t, "ada@example.com", "secret12")
	ctx := context.Background()

	require.NoError(t, f.crt.Add(ctx, 1, 2))
	lines := f.crt.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, int64(1), lines[0].ProductID)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, 2*29990.0, lines[0].Subtotal)
	assert.Equal(t, 2, f.crt.ItemCount())
	assert.Equal(t, 2*29990.0, f.crt.Total())

	require.NoError(t, f.crt.SetQuantity(ctx, 1, 1))
	lines = f.crt.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].Quantity)

	require.NoError(t, f.crt.Remove(ctx, 1))
	assert.Empty(t, f.crt.Lines())
	assert.Zero(t, f.crt.Total())
	assert.Zero(t, f.crt.ItemCount())
}

func TestLoadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.login(t, "ada@example.com", "secret12")
	ctx := context.Background()

	require.NoError(t, f.crt.Add(ctx, 1, 3))
	require.NoError(t, f.crt.Load(ctx))
	first := f.crt.Lines()
	require.NoError(t, f.crt.Load(ctx))
	require.NoError(t, f.crt.Load(ctx))
	assert.Equal(t, first, f.crt.Lines())
}

func TestMutationsRequireAuthentication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for name, op := range map[string]func() error{
		"load":        func() error { return f.crt.Load(ctx) },
		"add":         func() error { return f.crt.Add(ctx, 1, 1) },
		"remove":      func() error { return f.crt.Remove(ctx, 1) },
		"setQuantity": func() error { return f.crt.SetQuantity(ctx, 1, 2) },
		"clear":       func() error { return f.crt.Clear(ctx) },
	} {
		err := op()
		assert.True(t, errors.Is(err, api.ErrRequiresAuth), "%s: got %v", name, err)
	}
}

func TestAddValidatesQuantity(t *testing.T) {
	f := newFixture(t)
	f.login(t, "ada@example.com", "secret12")

	err := f.crt.Add(context.Background(), 1, 0)
	assert.True(t, errors.Is(err, api.ErrValidation), "got %v", err)
}

func TestAddInsufficientStockLeavesStateIntact(t *testing.T) {
	f := newFixture(t)
	f.login(t, "ada@example.com", "secret12")
	ctx := context.Background()

	require.NoError(t, f.crt.Add(ctx, 2, 2))
	before := f.crt.Lines()

	err := f.crt.Add(ctx, 2, 5) // stock is 3
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrInsufficientStock), "got %v", err)
	assert.Equal(t, before, f.crt.Lines(), "rejected mutation must not change local state")
}

func TestSetQuantityDecrease(t *testing.T) {
	f := newFixture(t)
	f.login(t, "ada@example.com", "secret12")
	ctx := context.Background()

	require.NoError(t, f.crt.Add(ctx, 1, 5))
	require.NoError(t, f.crt.SetQuantity(ctx, 1, 2))

	lines := f.crt.Lines()
	require.Len(t, lines, 1, "decrease must leave a single line")
	assert.Equal(t, 2, lines[0].Quantity)
}

func TestSetQuantityIncrease(t *testing.T) {
	f := newFixture(t)
	f.login(t, "ada@example.com", "secret12")
	ctx := context.Background()

	require.NoError(t, f.crt.Add(ctx, 1, 2))
	require.NoError(t, f.crt.SetQuantity(ctx, 1, 7))

	lines := f.crt.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 7, lines[0].Quantity)
}

func TestSetQuantityZeroRemovesLine(t *testing.T) {
	f := newFixture(t)
	f.login(t, "ada@example.com", "secret12")
	ctx := context.Background()

	require.NoError(t, f.crt.Add(ctx, 1, 5))
	require.NoError(t, f.crt.SetQuantity(ctx, 1, 0))
	assert.Empty(t, f.crt.Lines())
}

func TestSetQuantityNoChangeIsNoop(t *testing.T) {
	f := newFixture(t)
	f.login(t, "ada@example.com", "secret12")
	ctx := context.Background()

	require.NoError(t, f.crt.Add(ctx, 1, 3))
	calls := f.stub.CartCalls()
	require.NoError(t, f.crt.SetQuantity(ctx, 1, 3))
	assert.Equal(t, calls, f.stub.CartCalls(), "delta of zero must not touch the network")
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	f.login(t, "ada@example.com", "secret12")
	ctx := context.Background()

	require.NoError(t, f.crt.Add(ctx, 1, 2))
	require.NoError(t, f.crt.Add(ctx, 2, 1))
	require.NoError(t, f.crt.Clear(ctx))
	assert.Empty(t, f.crt.Lines())
}

func TestLogoutClearsCartLocallyWithoutRemoteCalls(t *testing.T) {
	f := newFixture(t)
	f.login(t, "ada@example.com", "secret12")
	ctx := context.Background()

	require.NoError(t, f.crt.Add(ctx, 1, 2))
	require.NotEmpty(t, f.crt.Lines())

	calls := f.stub.CartCalls()
	require.NoError(t, f.mgr.Logout())
	assert.Empty(t, f.crt.Lines(), "identity loss clears the mirror")
	assert.Equal(t, calls, f.stub.CartCalls(), "clearing on logout must not hit the network")

	// The remote cart is untouched: logging back in reloads the line.
	_, err := f.mgr.Login(ctx, "ada@example.com", "secret12")
	require.NoError(t, err)
	lines := f.crt.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
}

// scriptedSession and scriptedRemote stand in for the manager and the
// HTTP client when a test needs to interleave an identity change with
// an in-flight response.
type scriptedSession struct {
	mu  sync.Mutex
	uid string
}

func (s *scriptedSession) UserID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid, s.uid != ""
}

func (s *scriptedSession) set(uid string) {
	s.mu.Lock()
	s.uid = uid
	s.mu.Unlock()
}

type scriptedRemote struct {
	items []cartdomain.Line
	onGet func()
}

func (r *scriptedRemote) GetCart(ctx context.Context, userID string) (cartdomain.Cart, error) {
	if r.onGet != nil {
		r.onGet()
	}
	return cartdomain.Cart{Items: r.items}, nil
}

func (r *scriptedRemote) AddToCart(ctx context.Context, userID string, productID int64, quantity int) error {
	return nil
}

func (r *scriptedRemote) RemoveFromCart(ctx context.Context, userID string, productID int64) error {
	return nil
}

func (r *scriptedRemote) ClearCart(ctx context.Context, userID string) error { return nil }

func TestLogoutMidFlightDiscardsCartResponse(t *testing.T) {
	sess := &scriptedSession{uid: "u-1"}
	remote := &scriptedRemote{items: []cartdomain.Line{
		{ProductID: 1, ProductName: "Catan", Quantity: 2, UnitPrice: 29990, Subtotal: 59980},
	}}
	crt := cart.NewStore(remote, sess, zerolog.Nop())

	// The identity disappears while the response is on the wire: the
	// clear must win over the stale response, whichever lands first.
	remote.onGet = func() {
		sess.set("")
		crt.OnIdentity("")
	}

	require.NoError(t, crt.Load(context.Background()))
	assert.Empty(t, crt.Lines(), "a response for a logged-out identity must be discarded")
}

func TestIdentitySwitchNeverMergesCarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.login(t, "ada@example.com", "secret12")
	require.NoError(t, f.crt.Add(ctx, 1, 2))
	require.NoError(t, f.mgr.Logout())

	f.stub.SeedUser("Bob", "bob@example.com", "secret12", 0)
	_, err := f.mgr.Login(ctx, "bob@example.com", "secret12")
	require.NoError(t, err)
	assert.Empty(t, f.crt.Lines(), "a new identity starts from its own (empty) cart")

	require.NoError(t, f.crt.Add(ctx, 2, 1))
	lines := f.crt.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, int64(2), lines[0].ProductID)
}
