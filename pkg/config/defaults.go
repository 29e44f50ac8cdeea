package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultProcesses       = 1
	DefaultIP              = "0.0.0.0"
	DefaultPort            = 8080
	DefaultMaxConnections  = 1024
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Path defaults, relative to the root path
	DefaultLogSubdir = "var/log"
	DefaultTmpSubdir = "var/tmp"

	// Upstream defaults
	DefaultUpstreamTimeout      = 60 * time.Second
	DefaultUpstreamMaxIdleConns = 100

	// Rate limit defaults
	DefaultRateLimitIdleTTL = 10 * time.Minute

	// Journal defaults
	DefaultJournalDriver        = "sqlite"
	DefaultJournalPath          = "journal.db"
	DefaultJournalRetention     = 7 * 24 * time.Hour
	DefaultJournalPruneSchedule = "0 * * * *"

	// Maintenance defaults
	DefaultTmpMaxAge        = 24 * time.Hour
	DefaultTmpSweepSchedule = "*/30 * * * *"

	// Logging defaults
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultLogFile       = "mitmgate.log"
	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 50
	DefaultLogMaxAgeDays = 30
	DefaultLogCompress   = true

	// Metrics defaults
	DefaultMetricsAddress   = "127.0.0.1:9090"
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "mitmgate"

	// Tracing defaults
	DefaultTracingServiceName = "mitmgate"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingSampleRate  = 1.0
)

// ApplyDefaults fills every unset field of cfg with its default value.
// Directory fields are left empty: they default to paths under the root
// directory, which is resolved at startup.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Processes == 0 {
		cfg.Server.Processes = DefaultProcesses
	}
	if cfg.Server.IP == "" {
		cfg.Server.IP = DefaultIP
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = DefaultMaxConnections
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Upstream defaults
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = DefaultUpstreamTimeout
	}
	if cfg.Upstream.MaxIdleConns == 0 {
		cfg.Upstream.MaxIdleConns = DefaultUpstreamMaxIdleConns
	}

	// Rate limit defaults
	if cfg.Filter.RateLimit.IdleTTL == 0 {
		cfg.Filter.RateLimit.IdleTTL = DefaultRateLimitIdleTTL
	}

	// Journal defaults
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = DefaultJournalDriver
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = DefaultJournalPath
	}
	if cfg.Journal.Retention == 0 {
		cfg.Journal.Retention = DefaultJournalRetention
	}
	if cfg.Journal.PruneSchedule == "" {
		cfg.Journal.PruneSchedule = DefaultJournalPruneSchedule
	}

	// Maintenance defaults
	if cfg.Maintenance.TmpMaxAge == 0 {
		cfg.Maintenance.TmpMaxAge = DefaultTmpMaxAge
	}
	if cfg.Maintenance.TmpSweepSchedule == "" {
		cfg.Maintenance.TmpSweepSchedule = DefaultTmpSweepSchedule
	}

	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = DefaultLogFile
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}
	if cfg.Logging.Compress == nil {
		compress := DefaultLogCompress
		cfg.Logging.Compress = &compress
	}

	// Metrics defaults
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = DefaultMetricsAddress
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}

	// Tracing defaults
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Tracing.SampleRate == 0 {
		cfg.Tracing.SampleRate = DefaultTracingSampleRate
	}
}
