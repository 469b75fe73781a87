package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

type Config struct {
	AppEnv   string `env:"APP_ENV,default=dev"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	// Remote commerce service the client talks to.
	APIBaseURL  string        `env:"API_BASE_URL,default=http://localhost:8080"`
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT,default=10s"`

	// Durable client-side session store.
	SessionDBPath string `env:"SESSION_DB_PATH,default=var/storefront.db"`

	// Stub backend settings (cmd/stubapi only).
	StubAddr         string        `env:"STUB_ADDR,default=:8080"`
	JWTIssuer        string        `env:"JWT_ISSUER,default=storefront-stub"`
	JWTAccessSecret  string        `env:"JWT_ACCESS_SECRET,default=dev-access-secret"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET,default=dev-refresh-secret"`
	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL,default=15m"`
	RefreshTokenTTL  time.Duration `env:"REFRESH_TOKEN_TTL,default=720h"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode env: %w", err)
	}
	return cfg, nil
}
