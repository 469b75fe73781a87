package stubapi

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type JWTConfig struct {
	Issuer        string
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// JWTManager signs and parses the access/refresh pair the stub issues.
// TTLs are mutable so tests can hand out short-lived access tokens.
type JWTManager struct {
	mu  sync.Mutex
	cfg JWTConfig
}

type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func NewJWTManager(cfg JWTConfig) *JWTManager {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &JWTManager{cfg: cfg}
}

// SetAccessTTL changes the TTL for subsequently signed access tokens.
func (m *JWTManager) SetAccessTTL(d time.Duration) {
	m.mu.Lock()
	m.cfg.AccessTTL = d
	m.mu.Unlock()
}

func (m *JWTManager) accessTTL() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.AccessTTL
}

func (m *JWTManager) SignAccess(userID, role string) (string, error) {
	return m.sign(userID, role, m.accessTTL(), []byte(m.cfg.AccessSecret))
}

func (m *JWTManager) SignRefresh(userID, role string) (string, error) {
	return m.sign(userID, role, m.cfg.RefreshTTL, []byte(m.cfg.RefreshSecret))
}

func (m *JWTManager) sign(userID, role string, ttl time.Duration, secret []byte) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(secret)
}

func (m *JWTManager) ParseAccess(tokenStr string) (*Claims, error) {
	return m.parse(tokenStr, []byte(m.cfg.AccessSecret))
}

func (m *JWTManager) ParseRefresh(tokenStr string) (*Claims, error) {
	return m.parse(tokenStr, []byte(m.cfg.RefreshSecret))
}

func (m *JWTManager) parse(tokenStr string, secret []byte) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
