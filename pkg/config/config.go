package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App     AppConfig
	Storage StorageConfig
	DB      DBConfig
	Redis   RedisConfig
	Remote  RemoteConfig
	Auth    AuthConfig
	Engine  EngineConfig
	Events  EventsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	if err := cfg.Storage.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Remote.validate(); err != nil {
		return nil, err
	}
	if cfg.Storage.Backend == StorageBackendSQL {
		if err := cfg.DB.EnsureDSN(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CARTSYNC_APP_ENV" default:"dev"`
	Port         string `envconfig:"CARTSYNC_APP_PORT" default:"8089"`
	LogLevel     string `envconfig:"CARTSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CARTSYNC_LOG_WARN_STACK" default:"false"`

	// CORSOrigins lists storefront origins allowed to call the daemon.
	CORSOrigins []string `envconfig:"CARTSYNC_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// StorageConfig selects the Persistent Local Store backend.
type StorageConfig struct {
	Backend     string `envconfig:"CARTSYNC_STORAGE_BACKEND" default:"memory"`
	AutoMigrate bool   `envconfig:"CARTSYNC_STORAGE_AUTO_MIGRATE" default:"false"`
}

func (s StorageConfig) validate() error {
	switch s.Backend {
	case StorageBackendMemory, StorageBackendSQL, StorageBackendRedis:
		return nil
	}
	return fmt.Errorf("unsupported storage backend %q", s.Backend)
}

type DBConfig struct {
	DSN    string `envconfig:"CARTSYNC_DB_DSN"`
	Driver string `envconfig:"CARTSYNC_DB_DRIVER" default:"postgres"`
	// PGDriver picks the postgres wire driver: pgx or lib/pq.
	PGDriver string `envconfig:"CARTSYNC_DB_PG_DRIVER" default:"pgx"`

	Host     string `envconfig:"CARTSYNC_DB_HOST"`
	Port     int    `envconfig:"CARTSYNC_DB_PORT" default:"5432"`
	User     string `envconfig:"CARTSYNC_DB_USER"`
	Password string `envconfig:"CARTSYNC_DB_PASSWORD"`
	Name     string `envconfig:"CARTSYNC_DB_NAME"`
	SSLMode  string `envconfig:"CARTSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CARTSYNC_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"CARTSYNC_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CARTSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CARTSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// EnsureDSN builds a postgres DSN from the discrete fields when none is given.
// SQLite requires an explicit DSN (a file path or ":memory:").
func (d *DBConfig) EnsureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Driver == DBDriverSQLite {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("either %s or host/user/name must be provided", EnvDBDSN)
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	d.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"CARTSYNC_REDIS_URL"`
	Address      string        `envconfig:"CARTSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"CARTSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARTSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARTSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARTSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARTSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARTSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARTSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint has been configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

// RemoteConfig points at the Remote Cart Service.
type RemoteConfig struct {
	BaseURL      string        `envconfig:"CARTSYNC_REMOTE_BASE_URL" default:"http://localhost:8000"`
	CartPath     string        `envconfig:"CARTSYNC_REMOTE_CART_PATH" default:"/api/cart/"`
	Timeout      time.Duration `envconfig:"CARTSYNC_REMOTE_TIMEOUT" default:"10s"`
	MaxBodyBytes int64         `envconfig:"CARTSYNC_REMOTE_MAX_BODY_BYTES" default:"1048576"`
}

func (r RemoteConfig) validate() error {
	if _, err := url.Parse(r.BaseURL); err != nil {
		return fmt.Errorf("invalid %s: %w", EnvRemoteBaseURL, err)
	}
	return nil
}

// Endpoint joins the base URL and the cart path, always ending in a slash.
func (r RemoteConfig) Endpoint() string {
	base := strings.TrimRight(r.BaseURL, "/")
	path := "/" + strings.Trim(r.CartPath, "/") + "/"
	if path == "//" {
		path = "/"
	}
	return base + path
}

type AuthConfig struct {
	RejectExpired bool `envconfig:"CARTSYNC_AUTH_REJECT_EXPIRED" default:"true"`

	// Session hand-off throttling, enforced only when redis is configured.
	SessionRateWindow     time.Duration `envconfig:"CARTSYNC_AUTH_SESSION_RATE_WINDOW" default:"1m"`
	SessionRateIPLimit    int           `envconfig:"CARTSYNC_AUTH_SESSION_RATE_IP_LIMIT" default:"30"`
	SessionRateTokenLimit int           `envconfig:"CARTSYNC_AUTH_SESSION_RATE_TOKEN_LIMIT" default:"5"`
}

type EngineConfig struct {
	MaxInflight   int64         `envconfig:"CARTSYNC_ENGINE_MAX_INFLIGHT" default:"8"`
	RemoteTimeout time.Duration `envconfig:"CARTSYNC_ENGINE_REMOTE_TIMEOUT" default:"15s"`
	SyncOnStart   bool          `envconfig:"CARTSYNC_ENGINE_SYNC_ON_START" default:"true"`
}

type EventsConfig struct {
	BridgeEnabled bool   `envconfig:"CARTSYNC_EVENTS_BRIDGE_ENABLED" default:"false"`
	Channel       string `envconfig:"CARTSYNC_EVENTS_CHANNEL" default:"cartsync:events"`
}
