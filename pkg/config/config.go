// Package config loads and validates mitmgate configuration.
//
// Configuration is read from a YAML file, completed with defaults, overridden
// by MITMGATE_* environment variables and validated. Every validation problem
// is reported at once through ValidationError.
//
//	cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//	if err != nil {
//	    return err
//	}
//
// The configuration is passed explicitly to the components that need it;
// there is no process-wide instance.
package config

import "time"

// Config is the root configuration structure for mitmgate.
type Config struct {
	// Server contains listener and worker settings for the supervisor.
	Server ServerConfig `yaml:"server"`

	// Paths contains the root, log and temp directories.
	Paths PathsConfig `yaml:"paths"`

	// MITM contains TLS interception settings for the connection adapter.
	MITM MITMConfig `yaml:"mitm"`

	// Upstream contains settings for the HTTP client that forwards requests.
	Upstream UpstreamConfig `yaml:"upstream"`

	// Filter contains request filtering rules applied before forwarding.
	Filter FilterConfig `yaml:"filter"`

	// Journal contains flow recording settings.
	Journal JournalConfig `yaml:"journal"`

	// Maintenance contains background housekeeping schedules.
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Telemetry contains logging, metrics and tracing settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the worker supervisor.
type ServerConfig struct {
	// Processes is the number of accept workers sharing the listener.
	// Default: 1
	Processes int `yaml:"processes"`

	// IP is the address to bind.
	// Default: "0.0.0.0"
	IP string `yaml:"ip"`

	// Port is the TCP port to bind.
	// Default: 8080
	Port int `yaml:"port"`

	// MaxConnections bounds concurrently served connections. Zero means
	// unlimited.
	// Default: 1024
	MaxConnections int `yaml:"max_connections"`

	// ReadTimeout is the maximum time to read one request, headers and body.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// IdleTimeout is how long a keep-alive connection may wait for the next
	// request.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds connection draining on shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PathsConfig contains filesystem locations.
type PathsConfig struct {
	// Root is the base directory for default log and temp paths. Empty means
	// MITMGATE_ROOT or the working directory.
	Root string `yaml:"root"`

	// LogDir overrides <root>/var/log.
	LogDir string `yaml:"log_dir"`

	// TmpDir overrides <root>/var/tmp.
	TmpDir string `yaml:"tmp_dir"`
}

// MITMConfig contains TLS interception settings.
type MITMConfig struct {
	// Host overrides the server name used to select the interception
	// certificate. Empty means the CONNECT target host.
	Host string `yaml:"host"`

	// CertFile and KeyFile locate the provisioned interception certificate.
	// When both are empty CONNECT tunnels are relayed without interception.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// UpstreamConfig contains settings for forwarding requests.
type UpstreamConfig struct {
	// Timeout bounds a single upstream exchange.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout"`

	// InsecureSkipVerify disables upstream certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	// MaxIdleConns bounds the upstream connection pool.
	// Default: 100
	MaxIdleConns int `yaml:"max_idle_conns"`
}

// FilterConfig contains request filtering rules.
type FilterConfig struct {
	// BlockHosts lists hosts answered locally with 403. A leading "." matches
	// every subdomain.
	BlockHosts []string `yaml:"block_hosts"`

	// RateLimit bounds the request rate of each client address.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains per-client limits. Zero values disable a limit.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate allowed per client.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the number of requests a client may send at once. Defaults
	// to twice the per-second rate.
	Burst int `yaml:"burst"`

	// MaxConcurrent limits the in-flight requests of a single client.
	MaxConcurrent int `yaml:"max_concurrent"`

	// IdleTTL is how long an idle client's state is kept.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// Enabled reports whether any limit is configured.
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerSecond > 0 || c.MaxConcurrent > 0
}

// JournalConfig contains flow recording settings.
type JournalConfig struct {
	// Enabled turns flow recording on.
	Enabled bool `yaml:"enabled"`

	// Driver selects the SQLite driver: "sqlite" (pure Go) or "sqlite3"
	// (cgo).
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// Path is the database file. Relative paths resolve against the log
	// directory.
	// Default: "journal.db"
	Path string `yaml:"path"`

	// Retention is how long flows are kept.
	// Default: 168h
	Retention time.Duration `yaml:"retention"`

	// PruneSchedule is the cron expression for pruning.
	// Default: "0 * * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// MaintenanceConfig contains housekeeping schedules.
type MaintenanceConfig struct {
	// TmpMaxAge is the age after which files in the temp directory are removed.
	// Default: 24h
	TmpMaxAge time.Duration `yaml:"tmp_max_age"`

	// TmpSweepSchedule is the cron expression for the temp sweep. Empty
	// disables the sweep.
	// Default: "*/30 * * * *"
	TmpSweepSchedule string `yaml:"tmp_sweep_schedule"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`

	// File is the log file name inside the log directory. Empty logs to
	// stdout only.
	// Default: "mitmgate.log"
	File string `yaml:"file"`

	// Stdout also writes logs to stdout when a file is configured.
	Stdout bool `yaml:"stdout"`

	// MaxSizeMB, MaxBackups, MaxAgeDays and Compress control rotation.
	// Defaults: 10, 50, 30, true
	MaxSizeMB  int   `yaml:"max_size_mb"`
	MaxBackups int   `yaml:"max_backups"`
	MaxAgeDays int   `yaml:"max_age_days"`
	Compress   *bool `yaml:"compress"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	// Enabled turns metric collection and the scrape endpoint on.
	Enabled bool `yaml:"enabled"`

	// Address is where the scrape endpoint listens.
	// Default: "127.0.0.1:9090"
	Address string `yaml:"address"`

	// Path is the scrape endpoint path.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace prefixes every metric name.
	// Default: "mitmgate"
	Namespace string `yaml:"namespace"`
}

// TracingConfig contains OpenTelemetry settings.
type TracingConfig struct {
	// Enabled turns span export on.
	Enabled bool `yaml:"enabled"`

	// ServiceName is reported as service.name.
	// Default: "mitmgate"
	ServiceName string `yaml:"service_name"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure"`

	// SampleRate is the ratio of traces kept, between 0 and 1.
	// Default: 1.0
	SampleRate float64 `yaml:"sample_rate"`
}
