// Package config provides the configuration for an extraction run.
//
// The configuration is organized into sections:
//   - Connection: Daktela instance URL and credentials
//   - DataSelection: tables and the date range to extract
//   - Destination: output directory, compression and optional upload
//   - Advanced: batch size, concurrency ceilings, retry policy
//   - State: where schema and watermark state is persisted
//   - Observability: logging, tracing and metrics
//
// Example usage:
//
//	cfg := config.New()
//	if err := config.Load("config.yaml", cfg); err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"strings"
	"time"

	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
	"github.com/ajitpratap0/daktela-extractor/pkg/state"
)

const (
	// DefaultMaxConcurrentRequests bounds in-flight API requests.
	DefaultMaxConcurrentRequests = 10
	// DefaultMaxConcurrentEndpoints bounds tables extracted in parallel.
	DefaultMaxConcurrentEndpoints = 3
	// DefaultBatchSize is the number of rows handed to the sink at once.
	DefaultBatchSize = 1000
)

// Config is the root configuration of an extraction run.
type Config struct {
	Connection    ConnectionConfig    `yaml:"connection" json:"connection"`
	DataSelection DataSelectionConfig `yaml:"data_selection" json:"data_selection"`
	Destination   DestinationConfig   `yaml:"destination" json:"destination"`
	Advanced      AdvancedConfig      `yaml:"advanced" json:"advanced"`
	State         StateConfig         `yaml:"state" json:"state"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`

	// Tables adds to or overrides the built-in table catalog by name.
	Tables []models.TableSpec `yaml:"tables,omitempty" json:"tables,omitempty"`
}

// ConnectionConfig holds the API location and credentials.
type ConnectionConfig struct {
	URL       string `yaml:"url" json:"url"`
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"-"`
	VerifySSL bool   `yaml:"verify_ssl" json:"verify_ssl"`
}

// DataSelectionConfig selects what is extracted.
type DataSelectionConfig struct {
	// DateFrom and DateTo accept the date expressions understood by the
	// state package ("today", "3 days ago", "2024-01-31", ...). An empty
	// DateFrom resumes from the last watermark in incremental mode and
	// otherwise means "1 day ago". An empty DateTo means open-ended.
	DateFrom  string   `yaml:"date_from" json:"date_from"`
	DateTo    string   `yaml:"date_to" json:"date_to"`
	Endpoints []string `yaml:"endpoints" json:"endpoints"`
	// Fields restricts the extracted fields per table.
	Fields map[string][]string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// DestinationConfig controls output files.
type DestinationConfig struct {
	OutputDir   string       `yaml:"output_dir" json:"output_dir"`
	Incremental bool         `yaml:"incremental" json:"incremental"`
	Compression string       `yaml:"compression" json:"compression"`
	Delimiter   string       `yaml:"delimiter" json:"delimiter"`
	Upload      UploadConfig `yaml:"upload" json:"upload"`
}

// UploadConfig optionally ships finalized files to object storage.
type UploadConfig struct {
	// Provider is "", "s3" or "gcs".
	Provider        string `yaml:"provider" json:"provider"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	Prefix          string `yaml:"prefix" json:"prefix"`
	Region          string `yaml:"region" json:"region"`
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
}

// AdvancedConfig contains throughput and reliability settings.
type AdvancedConfig struct {
	BatchSize              int `yaml:"batch_size" json:"batch_size"`
	MaxConcurrentRequests  int `yaml:"max_concurrent_requests" json:"max_concurrent_requests"`
	MaxConcurrentEndpoints int `yaml:"max_concurrent_endpoints" json:"max_concurrent_endpoints"`
	// RequestsPerSecond overrides the token bucket refill rate. Zero means
	// MaxConcurrentRequests per second.
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// StateConfig selects the state store.
type StateConfig struct {
	// Backend is "file", "sqlite" or "postgres".
	Backend string `yaml:"backend" json:"backend"`
	Path    string `yaml:"path" json:"path"`
	DSN     string `yaml:"dsn" json:"-"`
}

// ObservabilityConfig controls logs, traces and metrics.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level" json:"log_level"`
	LogFormat   string `yaml:"log_format" json:"log_format"`
	Tracing     bool   `yaml:"tracing" json:"tracing"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Connection: ConnectionConfig{
			VerifySSL: true,
		},
		DataSelection: DataSelectionConfig{
			DateTo: "today",
		},
		Destination: DestinationConfig{
			OutputDir:   "out/tables",
			Compression: "none",
			Delimiter:   ",",
		},
		Advanced: AdvancedConfig{
			BatchSize:              DefaultBatchSize,
			MaxConcurrentRequests:  DefaultMaxConcurrentRequests,
			MaxConcurrentEndpoints: DefaultMaxConcurrentEndpoints,
			MaxRetries:             3,
			RetryBackoff:           2 * time.Second,
			RequestTimeout:         60 * time.Second,
		},
		State: StateConfig{
			Backend: "file",
			Path:    "out/state.json",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks required fields and numeric ranges. Every failure is a
// config error so the run aborts before any extraction starts.
func (c *Config) Validate() error {
	if c.Connection.URL == "" {
		return errors.Config("connection.url is required")
	}
	if !strings.HasPrefix(c.Connection.URL, "http://") && !strings.HasPrefix(c.Connection.URL, "https://") {
		return errors.Config("connection.url must start with http:// or https://")
	}
	if c.Connection.Username == "" {
		return errors.Config("connection.username is required")
	}
	if c.Connection.Password == "" {
		return errors.Config("connection.password is required")
	}
	if len(c.DataSelection.Endpoints) == 0 {
		return errors.Config("data_selection.endpoints must list at least one table")
	}
	now := time.Now()
	for _, d := range []struct{ key, expr string }{
		{"data_selection.date_from", c.DataSelection.DateFrom},
		{"data_selection.date_to", c.DataSelection.DateTo},
	} {
		if strings.TrimSpace(d.expr) == "" {
			continue
		}
		if _, err := state.ParseDate(d.expr, now); err != nil {
			return errors.Config("%s %q is not a valid date expression", d.key, d.expr)
		}
	}
	if c.Advanced.BatchSize < 100 || c.Advanced.BatchSize > 100000 {
		return errors.Config("advanced.batch_size must be between 100 and 100000, got %d", c.Advanced.BatchSize)
	}
	if c.Advanced.MaxConcurrentRequests < 1 || c.Advanced.MaxConcurrentRequests > 50 {
		return errors.Config("advanced.max_concurrent_requests must be between 1 and 50, got %d", c.Advanced.MaxConcurrentRequests)
	}
	if c.Advanced.MaxConcurrentEndpoints < 1 || c.Advanced.MaxConcurrentEndpoints > 20 {
		return errors.Config("advanced.max_concurrent_endpoints must be between 1 and 20, got %d", c.Advanced.MaxConcurrentEndpoints)
	}
	if c.Advanced.RequestsPerSecond < 0 {
		return errors.Config("advanced.requests_per_second cannot be negative")
	}
	if c.Advanced.MaxRetries < 0 {
		return errors.Config("advanced.max_retries cannot be negative")
	}
	if c.Advanced.RetryBackoff < 0 {
		return errors.Config("advanced.retry_backoff cannot be negative")
	}

	switch c.Destination.Compression {
	case "", "none", "gzip", "zstd", "lz4":
	default:
		return errors.Config("destination.compression %q is not supported", c.Destination.Compression)
	}
	if len([]rune(c.Destination.Delimiter)) != 1 {
		return errors.Config("destination.delimiter must be a single character")
	}

	switch c.Destination.Upload.Provider {
	case "":
	case "s3", "gcs":
		if c.Destination.Upload.Bucket == "" {
			return errors.Config("destination.upload.bucket is required for provider %s", c.Destination.Upload.Provider)
		}
	default:
		return errors.Config("destination.upload.provider %q is not supported", c.Destination.Upload.Provider)
	}

	switch c.State.Backend {
	case "file", "sqlite":
		if c.State.Path == "" {
			return errors.Config("state.path is required for backend %s", c.State.Backend)
		}
	case "postgres":
		if c.State.DSN == "" {
			return errors.Config("state.dsn is required for backend postgres")
		}
	default:
		return errors.Config("state.backend %q is not supported", c.State.Backend)
	}

	return nil
}
