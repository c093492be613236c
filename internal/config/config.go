// Package config loads process configuration from LINKGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Nonce backends.
const (
	NonceBackendPostgres = "postgres"
	NonceBackendRedis    = "redis"
	NonceBackendMemory   = "memory"
)

// Config is the full runtime configuration of the API and the CLI.
type Config struct {
	HTTPAddr      string        `env:"LINKGATE_HTTP_ADDR"       envDefault:":8080"`
	PublicBaseURL string        `env:"LINKGATE_PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	LogEnv        string        `env:"LINKGATE_LOG_ENV"         envDefault:"dev"`
	LogLevel      string        `env:"LINKGATE_LOG_LEVEL"       envDefault:"info"`
	Version       string        `env:"LINKGATE_VERSION"         envDefault:"dev"`
	Commit        string        `env:"LINKGATE_COMMIT"          envDefault:"none"`
	DatabaseURL   string        `env:"LINKGATE_DATABASE_URL"`
	ShutdownGrace time.Duration `env:"LINKGATE_SHUTDOWN_GRACE"  envDefault:"10s"`

	NonceBackend       string        `env:"LINKGATE_NONCE_BACKEND"        envDefault:"postgres"`
	NonceTTL           time.Duration `env:"LINKGATE_NONCE_TTL"            envDefault:"10m"`
	NoncePruneInterval time.Duration `env:"LINKGATE_NONCE_PRUNE_INTERVAL" envDefault:"5m"`

	RedisAddr     string `env:"LINKGATE_REDIS_ADDR"`
	RedisPassword string `env:"LINKGATE_REDIS_PASSWORD"`
	RedisDB       int    `env:"LINKGATE_REDIS_DB"     envDefault:"0"`
	RedisPrefix   string `env:"LINKGATE_REDIS_PREFIX" envDefault:"linkgate"`

	Provider ProviderConfig

	PasswordsAllowed   bool          `env:"LINKGATE_PASSWORDS_ALLOWED"    envDefault:"true"`
	BroadcastNamespace string        `env:"LINKGATE_BROADCAST_NAMESPACE"  envDefault:"Linkgate-Kill"`
	BroadcastTimeout   time.Duration `env:"LINKGATE_BROADCAST_TIMEOUT"    envDefault:"5s"`
	ChannelAuthKey     string        `env:"LINKGATE_CHANNEL_AUTH_KEY"     envDefault:"linkgate"`
	ChannelAuthSecret  string        `env:"LINKGATE_CHANNEL_AUTH_SECRET"`
	SessionSecret      string        `env:"LINKGATE_SESSION_SECRET"`
	SessionTTL         time.Duration `env:"LINKGATE_SESSION_TTL"          envDefault:"12h"`
	SessionCookie      string        `env:"LINKGATE_SESSION_COOKIE"       envDefault:"linkgate_session"`
	SecureCookies      bool          `env:"LINKGATE_SECURE_COOKIES"       envDefault:"false"`
	ConnectPage        string        `env:"LINKGATE_CONNECT_PAGE"         envDefault:"/connect"`
	WarningPage        string        `env:"LINKGATE_WARNING_PAGE"         envDefault:"/login?warning=remote-required"`
	HomePage           string        `env:"LINKGATE_HOME_PAGE"            envDefault:"/"`
	MaxBodyBytes       int64         `env:"LINKGATE_MAX_BODY_BYTES"       envDefault:"1048576"`
}

// ProviderConfig is the remote identity provider registration.
type ProviderConfig struct {
	ClientID     string        `env:"LINKGATE_PROVIDER_CLIENT_ID"`
	ClientSecret string        `env:"LINKGATE_PROVIDER_CLIENT_SECRET"`
	Scope        string        `env:"LINKGATE_PROVIDER_SCOPE"          envDefault:"default-client-access"`
	AuthorizeURL string        `env:"LINKGATE_PROVIDER_AUTHORIZE_URL"  envDefault:"https://auth.meveto.com/oauth-client"`
	TokenURL     string        `env:"LINKGATE_PROVIDER_TOKEN_URL"      envDefault:"https://prod.meveto.com/oauth/token"`
	ResourceURL  string        `env:"LINKGATE_PROVIDER_RESOURCE_URL"   envDefault:"https://prod.meveto.com/api/client/user"`
	TokenUserURL string        `env:"LINKGATE_PROVIDER_TOKEN_USER_URL" envDefault:"https://prod.meveto.com/api/client/user-for-token"`
	Timeout      time.Duration `env:"LINKGATE_PROVIDER_TIMEOUT"        envDefault:"10s"`
}

// Load reads optional dotenv files, then parses the environment. Dotenv values never
// override variables that are already set.
func Load(dotenvFiles ...string) (Config, error) {
	for _, f := range dotenvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.NonceBackend = strings.ToLower(strings.TrimSpace(cfg.NonceBackend))
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	return cfg, nil
}

// RedirectURL is the callback registered with the provider.
func (c Config) RedirectURL() string {
	return c.PublicBaseURL + "/federation/redirect"
}

// NeedsRedis reports whether any component is backed by Redis.
func (c Config) NeedsRedis() bool {
	return c.NonceBackend == NonceBackendRedis || strings.TrimSpace(c.RedisAddr) != ""
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Provider.ClientID) == "" {
		errs = append(errs, errors.New("LINKGATE_PROVIDER_CLIENT_ID is required"))
	}
	if strings.TrimSpace(c.Provider.ClientSecret) == "" {
		errs = append(errs, errors.New("LINKGATE_PROVIDER_CLIENT_SECRET is required"))
	}
	if strings.TrimSpace(c.SessionSecret) == "" {
		errs = append(errs, errors.New("LINKGATE_SESSION_SECRET is required"))
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("LINKGATE_DATABASE_URL is required"))
	}
	switch c.NonceBackend {
	case NonceBackendPostgres, NonceBackendMemory:
	case NonceBackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("LINKGATE_REDIS_ADDR is required for the redis nonce backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LINKGATE_NONCE_BACKEND %q", c.NonceBackend))
	}
	if c.NonceTTL < 0 {
		errs = append(errs, errors.New("LINKGATE_NONCE_TTL must not be negative"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("LINKGATE_SESSION_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// ChannelSecret falls back to the session secret when no dedicated one is configured.
func (c Config) ChannelSecret() string {
	if strings.TrimSpace(c.ChannelAuthSecret) != "" {
		return c.ChannelAuthSecret
	}
	return c.SessionSecret
}
