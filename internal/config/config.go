// Package config provides centralized configuration for the importer.
// Values come from environment variables (optionally seeded from a .env
// file) and are validated on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Import   ImportConfig
	Retry    RetryConfig
	Redis    RedisConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`

	// WriteTimeout is zero by default so event streams stay open.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"0s"`

	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// RequestTimeout bounds non-streaming API requests.
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is postgres or sqlite.
	Driver string `env:"DB_DRIVER" envDefault:"postgres"`

	// URL is a Postgres connection string or a SQLite file path.
	// DB_URL is read when DATABASE_URL is unset.
	URL string `env:"DATABASE_URL"`

	MaxConns        int           `env:"DB_MAX_CONNS" envDefault:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" envDefault:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`

	// DisableReturning makes SQLite fall back to baseline correlation.
	DisableReturning bool `env:"SQLITE_DISABLE_RETURNING" envDefault:"false"`
}

// ImportConfig holds pipeline and run manager settings.
type ImportConfig struct {
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" envDefault:"104857600"`
	BatchSize   int   `env:"IMPORT_BATCH_SIZE" envDefault:"1000"`

	// AllowedDirs lists the directories import files may live in. An
	// empty list rejects every file.
	AllowedDirs     []string `env:"IMPORT_ALLOWED_DIRS"`
	RequiredHeaders []string `env:"IMPORT_REQUIRED_HEADERS" envDefault:"name,quantity,price"`

	// UploadDir receives files posted to the HTTP API. Uploads are
	// disabled when unset; it must lie inside AllowedDirs.
	UploadDir string `env:"IMPORT_UPLOAD_DIR"`

	Correlation      string `env:"IMPORT_CORRELATION" envDefault:"auto"`
	UniqueKey        string `env:"IMPORT_UNIQUE_KEY" envDefault:"sku"`
	UpdateExisting   bool   `env:"IMPORT_UPDATE_EXISTING" envDefault:"false"`
	StrictTransforms bool   `env:"IMPORT_STRICT_TRANSFORMS" envDefault:"false"`
	ProgressInterval int    `env:"IMPORT_PROGRESS_INTERVAL" envDefault:"500"`

	MaxConcurrent int           `env:"IMPORT_MAX_CONCURRENT" envDefault:"5"`
	MaxWait       time.Duration `env:"IMPORT_MAX_WAIT" envDefault:"30s"`
	JobTimeout    time.Duration `env:"IMPORT_JOB_TIMEOUT" envDefault:"30m"`
	Retention     time.Duration `env:"IMPORT_RETENTION" envDefault:"5m"`
}

// RetryConfig controls re-attempts of transiently failed runs.
type RetryConfig struct {
	Attempts        int           `env:"RETRY_ATTEMPTS" envDefault:"3"`
	InitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"1s"`
	MaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"30s"`
}

// RedisConfig enables progress publishing when URL is set.
type RedisConfig struct {
	URL           string `env:"REDIS_URL"`
	ChannelPrefix string `env:"REDIS_CHANNEL_PREFIX" envDefault:"stockimport:progress"`
}

// Enabled reports whether progress events should be published.
func (c RedisConfig) Enabled() bool {
	return c.URL != ""
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// forwarding headers are honoured.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// APIKeys enables X-API-Key authentication on /api when non-empty.
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
