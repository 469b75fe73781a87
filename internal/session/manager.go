package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"storefront/internal/api"
	"storefront/internal/domain/user"
)

// State is the authentication state machine's position.
type State int

const (
	Unauthenticated State = iota
	Restoring
	Authenticated
)

func (s State) String() string {
	switch s {
	case Restoring:
		return "restoring"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// storage is the slice of the durable store the manager drives.
type storage interface {
	SaveAuth(accessToken, refreshToken string, u user.User) error
	ClearAuth() error
	ReadAuth() (accessToken, refreshToken string, u user.User, ok bool, err error)
	SaveUser(u user.User) error
}

// Manager owns the authentication state machine: login, logout,
// registration, silent renewal fallout and restore-from-storage. It is
// the only component that mutates the persisted session.
//
// Identity listeners are told whenever the active identity changes:
// a user id on login/restore, "" on logout or forced invalidation.
// The cart subscribes to keep its mirror bound to the right owner.
type Manager struct {
	api   *api.Client
	store storage
	log   zerolog.Logger

	mu       sync.Mutex
	state    State
	current  user.User
	haveUser bool

	expired   chan struct{}
	listeners []func(userID string)
}

// NewManager wires a manager over the client and store. The client's
// renewal-failure hook is pointed at this manager, so an expired
// session is purged exactly where it is owned.
func NewManager(client *api.Client, store *Store, log zerolog.Logger) *Manager {
	m := &Manager{
		api:     client,
		store:   store,
		log:     log,
		expired: make(chan struct{}, 1),
	}
	client.OnSessionInvalid(m.invalidate)
	return m
}

// OnIdentityChange registers a listener for identity changes.
// Listeners run outside the manager's lock and may do I/O.
func (m *Manager) OnIdentityChange(fn func(userID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Expired is the navigation-intent signal: it receives when a session
// is forcibly invalidated (failed renewal), so the UI can redirect to
// login. Purely observable; nothing in the core acts on it.
func (m *Manager) Expired() <-chan struct{} { return m.expired }

// Login authenticates, persists the credential pair plus profile, and
// publishes the new identity. On failure the state remains
// Unauthenticated and the structured failure is returned.
func (m *Manager) Login(ctx context.Context, email, password string) (user.User, error) {
	res, err := m.api.Login(ctx, email, password, "")
	if err != nil {
		m.log.Warn().Err(err).Str("email", email).Msg("login failed")
		return user.User{}, fmt.Errorf("login: %w", err)
	}

	// Persist the pair first so the profile fetch can attach the new
	// access credential.
	if err := m.store.SaveAuth(res.AccessToken, res.RefreshToken, user.User{ID: res.UserID}); err != nil {
		return user.User{}, fmt.Errorf("persist session: %w", err)
	}

	u, err := m.api.GetUser(ctx, res.UserID)
	if err != nil {
		// A relogin over an existing session has already replaced the
		// persisted credentials; the previous identity must not linger
		// in memory once they are purged.
		_ = m.store.ClearAuth()
		m.mu.Lock()
		wasActive := m.haveUser
		m.state = Unauthenticated
		m.current = user.User{}
		m.haveUser = false
		m.mu.Unlock()
		if wasActive {
			m.notify("")
		}
		return user.User{}, fmt.Errorf("fetch profile: %w", err)
	}
	if err := m.store.SaveUser(u); err != nil {
		return user.User{}, fmt.Errorf("persist profile: %w", err)
	}

	m.mu.Lock()
	m.state = Authenticated
	m.current = u
	m.haveUser = true
	m.mu.Unlock()

	m.log.Info().Str("user_id", u.ID).Msg("logged in")
	m.notify(u.ID)
	return u, nil
}

// Register creates the account remotely, then performs an implicit
// login with the same credentials. A registration failure leaves the
// state Unauthenticated with the error surfaced.
func (m *Manager) Register(ctx context.Context, reg user.Registration) (user.User, error) {
	if err := m.api.Register(ctx, reg); err != nil {
		m.log.Warn().Err(err).Str("email", reg.Email).Msg("registration failed")
		return user.User{}, fmt.Errorf("register: %w", err)
	}
	return m.Login(ctx, reg.Email, reg.Password)
}

// Restore re-establishes a persisted session at startup. With no
// stored session it is a no-op. A stored session whose profile fetch
// fails is purged: a credential we cannot use is not a session.
func (m *Manager) Restore(ctx context.Context) error {
	_, _, stored, ok, err := m.store.ReadAuth()
	if err != nil {
		_ = m.store.ClearAuth()
		return fmt.Errorf("read stored session: %w", err)
	}
	if !ok {
		return nil
	}

	m.mu.Lock()
	m.state = Restoring
	m.mu.Unlock()

	u, err := m.api.GetUser(ctx, stored.ID)
	if err != nil {
		// A failed renewal has already invalidated through the hook;
		// purging again is harmless.
		_ = m.store.ClearAuth()
		m.mu.Lock()
		m.state = Unauthenticated
		m.haveUser = false
		m.current = user.User{}
		m.mu.Unlock()
		m.log.Warn().Err(err).Str("user_id", stored.ID).Msg("session restore failed, purged")
		return fmt.Errorf("restore session: %w", err)
	}
	if err := m.store.SaveUser(u); err != nil {
		// Never park the state machine in Restoring.
		_ = m.store.ClearAuth()
		m.mu.Lock()
		m.state = Unauthenticated
		m.current = user.User{}
		m.haveUser = false
		m.mu.Unlock()
		return fmt.Errorf("persist profile: %w", err)
	}

	m.mu.Lock()
	m.state = Authenticated
	m.current = u
	m.haveUser = true
	m.mu.Unlock()

	m.log.Info().Str("user_id", u.ID).Msg("session restored")
	m.notify(u.ID)
	return nil
}

// Logout purges the persisted credentials and the in-memory user. No
// remote call is involved; identity listeners observe the loss so the
// cart clears locally.
func (m *Manager) Logout() error {
	err := m.store.ClearAuth()

	m.mu.Lock()
	m.state = Unauthenticated
	m.current = user.User{}
	m.haveUser = false
	m.mu.Unlock()

	m.log.Info().Msg("logged out")
	m.notify("")
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// invalidate is the renewal-failure hook: the transient RenewalFailed
// state collapsing straight into Unauthenticated, plus the navigation
// intent.
func (m *Manager) invalidate() {
	_ = m.store.ClearAuth()

	m.mu.Lock()
	wasActive := m.state != Unauthenticated
	m.state = Unauthenticated
	m.current = user.User{}
	m.haveUser = false
	m.mu.Unlock()

	if !wasActive {
		return
	}
	m.log.Warn().Msg("session invalidated")
	select {
	case m.expired <- struct{}{}:
	default:
	}
	m.notify("")
}

// CurrentUser returns the cached profile of the authenticated user.
func (m *Manager) CurrentUser() (user.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.haveUser
}

// UserID returns the active identity, ok=false when there is none.
func (m *Manager) UserID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveUser {
		return "", false
	}
	return m.current.ID, true
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Authenticated
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) notify(userID string) {
	m.mu.Lock()
	ls := make([]func(string), len(m.listeners))
	copy(ls, m.listeners)
	m.mu.Unlock()
	for _, fn := range ls {
		fn(userID)
	}
}
