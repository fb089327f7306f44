// Package config provides centralized configuration management for the
// import engine. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Preview  PreviewConfig
	Import   ImportConfig
	History  HistoryConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 120s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"120s"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// PreviewConfig holds preview session settings.
type PreviewConfig struct {
	// SessionTTL is how long an open preview session stays valid (default: 30m)
	SessionTTL time.Duration `env:"PREVIEW_SESSION_TTL" default:"30m"`

	// SweepInterval is how often expired sessions are evicted (default: 1m)
	SweepInterval time.Duration `env:"PREVIEW_SWEEP_INTERVAL" default:"1m"`

	// TerminalLinger is how long closed sessions remain queryable (default: 5m)
	TerminalLinger time.Duration `env:"PREVIEW_TERMINAL_LINGER" default:"5m"`

	// MaxConcurrent is the maximum number of parallel preview generations (default: 4)
	MaxConcurrent int `env:"PREVIEW_MAX_CONCURRENT" default:"4"`

	// MaxWait is how long to wait for a preview slot (default: 15s)
	MaxWait time.Duration `env:"PREVIEW_MAX_WAIT" default:"15s"`

	// MaxFileSize is the maximum allowed upload size in bytes (default: 25MB)
	MaxFileSize int64 `env:"PREVIEW_MAX_FILE_SIZE" default:"26214400"`
}

// ImportConfig holds import execution settings.
type ImportConfig struct {
	// ConfirmTimeout is the maximum duration for a single import transaction (default: 10m)
	ConfirmTimeout time.Duration `env:"IMPORT_CONFIRM_TIMEOUT" default:"10m"`
}

// HistoryConfig holds import-history retention settings.
type HistoryConfig struct {
	// RetentionDays is how long history entries are kept (default: 365)
	RetentionDays int `env:"HISTORY_RETENTION_DAYS" default:"365"`

	// PruneSchedule is the cron expression for the retention job
	// (default: daily at 03:00; empty disables pruning)
	PruneSchedule string `env:"HISTORY_PRUNE_SCHEDULE" default:"0 3 * * *"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// PreviewLimit is requests per minute for preview generation (default: 10)
	PreviewLimit int `env:"RATE_LIMIT_PREVIEW" default:"10"`
}

// SecurityConfig holds API authentication settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key validation on the import API (default: false)
	RequireAPIKey bool `env:"SECURITY_REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"SECURITY_API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	// Enabled controls whether /metrics is served (default: true)
	Enabled bool `env:"METRICS_ENABLED" default:"true"`

	// Namespace is the metric name prefix (default: importd)
	Namespace string `env:"METRICS_NAMESPACE" default:"importd"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
