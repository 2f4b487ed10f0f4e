// Package config provides centralized configuration management for rollload.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"net/url"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Store    StoreConfig
	Source   SourceConfig
	Load     LoadConfig
	Schedule ScheduleConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP status API settings.
type ServerConfig struct {
	// Enabled starts the API instead of running one load and exiting (default: false)
	Enabled bool `env:"SERVER_ENABLED" default:"false"`

	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including waiting for an active run (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// TrustedProxies lists CIDRs whose X-Real-IP and X-Forwarded-For headers are honored
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES"`
}

// DatabaseConfig holds PostgreSQL connection and load settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. When empty the DB_HOST,
	// DB_PORT, DB_NAME, DB_USER and DB_PASSWORD parts are used instead.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	Host     string `env:"DB_HOST" default:"localhost"`
	Port     int    `env:"DB_PORT" default:"5432"`
	Name     string `env:"DB_NAME" default:"appraisal"`
	User     string `env:"DB_USER" default:"postgres"`
	Password string `env:"DB_PASSWORD"`
	SSLMode  string `env:"DB_SSLMODE" default:"disable"`

	// Schema holds the destination tables and the load log (default: cad)
	Schema string `env:"DB_SCHEMA" default:"cad"`

	// MaxConns is the maximum number of connections in the pool (default: 8)
	MaxConns int `env:"DB_MAX_CONNS" default:"8"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// InsertMode is how batches are written: copy or batch (default: copy)
	InsertMode string `env:"DB_INSERT_MODE" default:"copy"`

	// ReconnectAttempts is how many times a dropped connection is re-acquired
	// before the file load fails (default: 3)
	ReconnectAttempts int `env:"DB_RECONNECT_ATTEMPTS" default:"3"`

	// ReconnectBackoff is the base delay between reconnect attempts (default: 2s)
	ReconnectBackoff time.Duration `env:"DB_RECONNECT_BACKOFF" default:"2s"`

	// LoadLogTable records one row per file load (default: data_load_log)
	LoadLogTable string `env:"DB_LOAD_LOG_TABLE" default:"data_load_log"`
}

// ConnString returns URL, or a postgres URL assembled from the parts.
func (c *DatabaseConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else if c.User != "" {
		u.User = url.User(c.User)
	}
	if c.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(c.SSLMode)
	}
	return u.String()
}

// StoreConfig selects the destination store.
type StoreConfig struct {
	// Driver is postgres or sqlite (default: postgres)
	Driver string `env:"STORE_DRIVER" default:"postgres"`

	// SQLitePath is the database file for the sqlite driver (default: rollload.db)
	SQLitePath string `env:"SQLITE_PATH" default:"rollload.db"`
}

// SourceConfig selects where export files are read from.
type SourceConfig struct {
	// Driver is fs or s3 (default: fs)
	Driver string `env:"SOURCE_DRIVER" default:"fs"`

	// DataDir holds the export files for the fs driver (default: ./data)
	DataDir string `env:"DATA_DIR" default:"./data"`

	S3Bucket          string `env:"S3_BUCKET"`
	S3Prefix          string `env:"S3_PREFIX"`
	S3Region          string `env:"S3_REGION" envAlt:"AWS_REGION" default:"us-east-1"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3PathStyle       bool   `env:"S3_PATH_STYLE" default:"false"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
}

// LoadConfig holds load processing settings.
type LoadConfig struct {
	// LayoutPath is the JSON or YAML layout document (default: config/layout.json)
	LayoutPath string `env:"LAYOUT_PATH" default:"config/layout.json"`

	// BatchSize is the number of rows per batch transaction (default: 1000)
	BatchSize int `env:"BATCH_SIZE" default:"1000"`

	// ProgressEvery is how many inserted rows pass between progress logs (default: 10000)
	ProgressEvery int `env:"LOAD_PROGRESS_EVERY" default:"10000"`

	// Truncate empties each table before loading it (default: true)
	Truncate bool `env:"LOAD_TRUNCATE" default:"true"`

	// MaxRecords caps records read per file; 0 means no cap (default: 0)
	MaxRecords int `env:"LOAD_MAX_RECORDS" default:"0"`

	// FileTypes limits a run to these comma-separated file types (default: all)
	FileTypes []string `env:"LOAD_FILE_TYPES"`

	// Parallelism is how many files of one dependency tier load at once (default: 1)
	Parallelism int `env:"LOAD_PARALLELISM" default:"1"`

	// SkipHeader ignores the first line of every file (default: false)
	SkipHeader bool `env:"LOAD_SKIP_HEADER" default:"false"`

	// MaxLineBytes drops longer lines as corrupt (default: 1MiB)
	MaxLineBytes int `env:"LOAD_MAX_LINE_BYTES" default:"1048576"`

	// RunTimeout bounds a run triggered through the API or schedule; 0 means none (default: 0s)
	RunTimeout time.Duration `env:"LOAD_RUN_TIMEOUT" default:"0s"`

	// HistorySize is how many runs the API remembers (default: 50)
	HistorySize int `env:"LOAD_HISTORY_SIZE" default:"50"`
}

// ScheduleConfig holds periodic reload settings.
type ScheduleConfig struct {
	// Cron is a five-field cron expression or descriptor such as @daily.
	// Empty disables scheduled loads.
	Cron string `env:"LOAD_SCHEDULE"`
}

// SecurityConfig holds API access settings.
type SecurityConfig struct {
	// APIKeys is a comma-separated list of keys accepted for POST /api/runs
	APIKeys []string `env:"API_KEYS"`

	// RequireAPIKey rejects run triggers without a valid key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
