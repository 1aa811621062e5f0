// Package config provides centralized configuration management for the gateway.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Loader    LoaderConfig
	Query     QueryConfig
	Reference ReferenceConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
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

// LoaderConfig holds reference-data loader settings.
type LoaderConfig struct {
	// BatchSize is the number of postal rows written per batch (default: 2000)
	BatchSize int `env:"LOADER_BATCH_SIZE" default:"2000"`

	// QueueDepth is how many batches may sit between reader and writer (default: 2)
	QueueDepth int `env:"LOADER_QUEUE_DEPTH" default:"2"`

	// CommitTimeout is the per-batch commit timeout (default: 60s)
	CommitTimeout time.Duration `env:"LOADER_COMMIT_TIMEOUT" default:"60s"`

	// RejectMaxPct aborts a run once rejects exceed this percentage (default: 5)
	RejectMaxPct int `env:"LOADER_REJECT_MAX_PCT" default:"5"`

	// RejectMinRows is how many rows must be read before the reject
	// percentage is enforced (default: 10000)
	RejectMinRows int `env:"LOADER_REJECT_MIN_ROWS" default:"10000"`

	// CommitRetries is how many times a failed batch commit is retried (default: 3)
	CommitRetries int `env:"LOADER_COMMIT_RETRIES" default:"3"`
}

// QueryConfig holds catalog query settings.
type QueryConfig struct {
	// GuardThreshold is the unfiltered row count above which the catalog
	// returns a drill-down payload instead of a listing (default: 10000)
	GuardThreshold int64 `env:"QUERY_GUARD_THRESHOLD" default:"10000"`

	// DefaultPageSize is used when the client omits page_size (default: 100)
	DefaultPageSize int `env:"QUERY_DEFAULT_PAGE_SIZE" default:"100"`

	// MaxPageSize caps page_size (default: 1000)
	MaxPageSize int `env:"QUERY_MAX_PAGE_SIZE" default:"1000"`

	// FilterInventoryCap caps each distinct-value list in drill-down payloads (default: 200)
	FilterInventoryCap int `env:"QUERY_FILTER_INVENTORY_CAP" default:"200"`
}

// ReferenceConfig holds locations of the carrier reference files.
type ReferenceConfig struct {
	// ISODir is the directory holding timestamped ISO country CSV exports
	ISODir string `env:"REF_ISO_DIR" default:"reference/iso"`

	// CountriesFile is the countries JSON feed
	CountriesFile string `env:"REF_COUNTRIES_FILE" default:"reference/countries.json"`

	// ESDFile is the carrier ESD text feed
	ESDFile string `env:"REF_ESD_FILE" default:"reference/esd.txt"`

	// PostalFile is the postal-locations CSV (overridable per run via --csv-file)
	PostalFile string `env:"REF_POSTAL_FILE" default:"reference/postal_locations.csv"`
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
