// Package am holds corpipe's configuration: the database backend, the
// pipeline defaults, the pulse worker pool and the optional Redis,
// object-store and tracing integrations.
package am

import "time"

// Config represents the core corpipe configuration
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database" toml:"database"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline" toml:"pipeline"`
	Pulse       PulseConfig       `mapstructure:"pulse" toml:"pulse"`
	Documents   DocumentsConfig   `mapstructure:"documents" toml:"documents"`
	Redis       RedisConfig       `mapstructure:"redis" toml:"redis"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" toml:"object_store"`
	Tracing     TracingConfig     `mapstructure:"tracing" toml:"tracing"`
}

// DatabaseConfig selects the SQL backend shared by the result store,
// the document store and the job queue.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" toml:"driver"` // "sqlite" or "postgres"
	Path   string `mapstructure:"path" toml:"path"`     // sqlite file path
	URL    string `mapstructure:"url" toml:"url"`       // postgres connection string
}

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// PipelineConfig holds the defaults applied to every run.
type PipelineConfig struct {
	StoreFinal        bool   `mapstructure:"store_final" toml:"store_final"`
	StoreIntermediate bool   `mapstructure:"store_intermediate" toml:"store_intermediate"`
	ReadPolicy        string `mapstructure:"read_policy" toml:"read_policy"`           // "fail_open" or "fail_closed"
	Workers           int    `mapstructure:"workers" toml:"workers"`                   // in-process concurrency for synchronous runs
	PollIntervalMS    int    `mapstructure:"poll_interval_ms" toml:"poll_interval_ms"` // handle polling for queued runs
	DefaultStages     string `mapstructure:"default_stages" toml:"default_stages"`     // shell-quoted stage list used when none is given
}

// Read policies
const (
	ReadPolicyFailOpen   = "fail_open"
	ReadPolicyFailClosed = "fail_closed"
)

// PollInterval returns the handle polling interval as a duration.
func (p PipelineConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMS) * time.Millisecond
}

// PulseConfig configures the Pulse async job system
type PulseConfig struct {
	Workers          int `mapstructure:"workers" toml:"workers"`                         // concurrent job workers (0 = no background workers)
	PollIntervalMS   int `mapstructure:"poll_interval_ms" toml:"poll_interval_ms"`       // queue poll interval
	MaxJobsPerMinute int `mapstructure:"max_jobs_per_minute" toml:"max_jobs_per_minute"` // 0 = unlimited
}

// DocumentsConfig configures where source text comes from.
type DocumentsConfig struct {
	Source  string `mapstructure:"source" toml:"source"` // "sql" or "object"
	Index   string `mapstructure:"index" toml:"index"`
	DocType string `mapstructure:"doctype" toml:"doctype"`
	Field   string `mapstructure:"field" toml:"field"`
}

// Document sources
const (
	SourceSQL    = "sql"
	SourceObject = "object"
)

// RedisConfig configures the optional read-through result cache.
type RedisConfig struct {
	Enabled    bool   `mapstructure:"enabled" toml:"enabled"`
	Addr       string `mapstructure:"addr" toml:"addr"`
	DB         int    `mapstructure:"db" toml:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds" toml:"ttl_seconds"` // 0 = no expiry
}

// ObjectStoreConfig configures the MinIO/S3 document source.
type ObjectStoreConfig struct {
	Endpoint  string `mapstructure:"endpoint" toml:"endpoint"`
	AccessKey string `mapstructure:"access_key" toml:"access_key"`
	SecretKey string `mapstructure:"secret_key" toml:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl" toml:"use_ssl"`
	Region    string `mapstructure:"region" toml:"region"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" toml:"enabled"`
	ServiceName string  `mapstructure:"service_name" toml:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio" toml:"sample_ratio"`
}

// File system permissions
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
