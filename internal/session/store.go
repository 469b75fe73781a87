package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"storefront/internal/domain/user"
)

// Storage keys for the persisted session. Access token, renewal token
// and serialized user live and die together.
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyUser         = "user"
	keyClientID     = "client_id"
)

// Store is the durable client-side key-value store backing the
// session: the credential pair, the cached user profile and the stable
// install identifier. Backed by an embedded SQLite database so the
// session survives process restarts.
type Store struct {
	db        *sql.DB
	log       zerolog.Logger
	writeLock sync.Mutex // the sqlite driver does not support concurrent writes
}

// OpenStore opens (and if needed creates) the session database at path.
func OpenStore(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping session db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session_kv (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the value for a key, or ok=false when absent.
func (s *Store) Get(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow("SELECT v FROM session_kv WHERE k = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return v, true, nil
}

// Set stores a single key.
func (s *Store) Set(key, value string) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO session_kv (k, v) VALUES (?, ?)
		ON CONFLICT (k) DO UPDATE SET v = excluded.v
	`, key, value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Remove deletes a single key. Removing an absent key is not an error.
func (s *Store) Remove(key string) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if _, err := s.db.Exec("DELETE FROM session_kv WHERE k = ?", key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// SaveAuth persists the credential pair and the serialized user in one
// transaction, so a session is never half-written.
func (s *Store) SaveAuth(accessToken, refreshToken string, u user.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save auth: %w", err)
	}
	defer tx.Rollback()

	for k, v := range map[string]string{
		keyAccessToken:  accessToken,
		keyRefreshToken: refreshToken,
		keyUser:         string(raw),
	} {
		if _, err := tx.Exec(`
			INSERT INTO session_kv (k, v) VALUES (?, ?)
			ON CONFLICT (k) DO UPDATE SET v = excluded.v
		`, k, v); err != nil {
			return fmt.Errorf("save auth %q: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save auth: %w", err)
	}
	return nil
}

// ClearAuth removes the credential pair and the cached user atomically.
// The install identifier survives.
func (s *Store) ClearAuth() error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin clear auth: %w", err)
	}
	defer tx.Rollback()

	for _, k := range []string{keyAccessToken, keyRefreshToken, keyUser} {
		if _, err := tx.Exec("DELETE FROM session_kv WHERE k = ?", k); err != nil {
			return fmt.Errorf("clear auth %q: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear auth: %w", err)
	}
	return nil
}

// ReadAuth loads the persisted session, ok=false when no complete
// session is stored.
func (s *Store) ReadAuth() (accessToken, refreshToken string, u user.User, ok bool, err error) {
	accessToken, okA, err := s.Get(keyAccessToken)
	if err != nil {
		return "", "", user.User{}, false, err
	}
	refreshToken, okR, err := s.Get(keyRefreshToken)
	if err != nil {
		return "", "", user.User{}, false, err
	}
	raw, okU, err := s.Get(keyUser)
	if err != nil {
		return "", "", user.User{}, false, err
	}
	if !okA || !okR || !okU {
		return "", "", user.User{}, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return "", "", user.User{}, false, fmt.Errorf("unmarshal stored user: %w", err)
	}
	return accessToken, refreshToken, u, true, nil
}

// SaveUser rewrites only the cached profile (points change server-side
// between fetches; tokens stay untouched).
func (s *Store) SaveUser(u user.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	return s.Set(keyUser, string(raw))
}

// AccessToken implements api.CredentialStore. Storage errors degrade
// to "no credential": the request then fails server-side and surfaces
// through the normal taxonomy.
func (s *Store) AccessToken() string {
	v, ok, err := s.Get(keyAccessToken)
	if err != nil {
		s.log.Error().Err(err).Msg("read access token")
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

// RefreshToken implements api.CredentialStore.
func (s *Store) RefreshToken() string {
	v, ok, err := s.Get(keyRefreshToken)
	if err != nil {
		s.log.Error().Err(err).Msg("read refresh token")
		return ""
	}
	if !ok {
		return ""
	}
	return v
}

// SetAccessToken implements api.CredentialStore; called by the client
// after a successful renewal.
func (s *Store) SetAccessToken(token string) error {
	return s.Set(keyAccessToken, token)
}

// ClientID returns the stable install identifier, creating and
// persisting one on first use.
func (s *Store) ClientID() (string, error) {
	v, ok, err := s.Get(keyClientID)
	if err != nil {
		return "", err
	}
	if ok {
		return v, nil
	}
	id := uuid.NewString()
	if err := s.Set(keyClientID, id); err != nil {
		return "", err
	}
	return id, nil
}
