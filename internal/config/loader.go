package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// LoadDotEnv copies the variables of a .env file into the environment,
// overriding existing values. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Overload(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from environment variables, applies defaults
// and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DB_URL")
	}
	cfg.Import.AllowedDirs = trimAll(cfg.Import.AllowedDirs)
	cfg.Import.RequiredHeaders = trimAll(cfg.Import.RequiredHeaders)
	cfg.Security.TrustedProxies = trimAll(cfg.Security.TrustedProxies)
	cfg.Security.APIKeys = trimAll(cfg.Security.APIKeys)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func insideAny(dir string, roots []string) bool {
	dir = filepath.Clean(dir)
	for _, root := range roots {
		rel, err := filepath.Rel(filepath.Clean(root), dir)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER (%q) must be one of: postgres, sqlite", c.Database.Driver))
	}
	if c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Import validation
	if c.Import.MaxFileSize <= 0 {
		errs = append(errs, "IMPORT_MAX_FILE_SIZE must be positive")
	}
	if c.Import.BatchSize <= 0 {
		errs = append(errs, "IMPORT_BATCH_SIZE must be positive")
	}
	if len(c.Import.AllowedDirs) == 0 {
		errs = append(errs, "IMPORT_ALLOWED_DIRS is required; files outside these directories are rejected")
	}
	if c.Import.UploadDir != "" && !insideAny(c.Import.UploadDir, c.Import.AllowedDirs) {
		errs = append(errs, fmt.Sprintf("IMPORT_UPLOAD_DIR (%q) must be inside one of IMPORT_ALLOWED_DIRS", c.Import.UploadDir))
	}
	if _, err := core.ParseCorrelationMode(c.Import.Correlation); err != nil {
		errs = append(errs, "IMPORT_CORRELATION: "+err.Error())
	}
	if _, err := inventory.ParseUniqueKey(c.Import.UniqueKey); err != nil {
		errs = append(errs, "IMPORT_UNIQUE_KEY: "+err.Error())
	}
	if c.Import.ProgressInterval <= 0 {
		errs = append(errs, "IMPORT_PROGRESS_INTERVAL must be positive")
	}
	if c.Import.MaxConcurrent <= 0 {
		errs = append(errs, "IMPORT_MAX_CONCURRENT must be positive")
	}
	if c.Import.MaxWait <= 0 {
		errs = append(errs, "IMPORT_MAX_WAIT must be positive")
	}
	if c.Import.JobTimeout <= 0 {
		errs = append(errs, "IMPORT_JOB_TIMEOUT must be positive")
	}

	// Retry validation
	if c.Retry.Attempts <= 0 {
		errs = append(errs, "RETRY_ATTEMPTS must be at least 1")
	}
	if c.Retry.InitialInterval <= 0 {
		errs = append(errs, "RETRY_INITIAL_INTERVAL must be positive")
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		errs = append(errs, "RETRY_MAX_INTERVAL must be >= RETRY_INITIAL_INTERVAL")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Connection URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {Driver: %q, URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.Driver, c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Import: {MaxFileSize: %d, BatchSize: %d, AllowedDirs: %v, Correlation: %q, MaxConcurrent: %d}, ",
		c.Import.MaxFileSize, c.Import.BatchSize, c.Import.AllowedDirs, c.Import.Correlation, c.Import.MaxConcurrent)
	fmt.Fprintf(&b, "Retry: {Attempts: %d}, ", c.Retry.Attempts)
	redis := "disabled"
	if c.Redis.Enabled() {
		redis = "[MASKED]"
	}
	fmt.Fprintf(&b, "Redis: {URL: %s, ChannelPrefix: %q}, ", redis, c.Redis.ChannelPrefix)
	fmt.Fprintf(&b, "Security: {TrustedProxies: %v, APIKeys: %d configured}, ",
		c.Security.TrustedProxies, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
