package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.port").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. All validation errors are collected and
// returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateMITM(&cfg.MITM)...)
	errs = append(errs, validateUpstream(&cfg.Upstream)...)
	errs = append(errs, validateRateLimit(&cfg.Filter.RateLimit)...)
	errs = append(errs, validateJournal(&cfg.Journal)...)
	errs = append(errs, validateMaintenance(&cfg.Maintenance)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.Processes <= 0 {
		errs = append(errs, FieldError{
			Field:   "server.processes",
			Message: "processes must be positive",
		})
	}
	if cfg.IP == "" {
		errs = append(errs, FieldError{
			Field:   "server.ip",
			Message: "ip is required",
		})
	} else if net.ParseIP(cfg.IP) == nil {
		errs = append(errs, FieldError{
			Field:   "server.ip",
			Message: fmt.Sprintf("invalid IP address %q", cfg.IP),
		})
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, FieldError{
			Field:   "server.port",
			Message: "port must be between 1 and 65535",
		})
	}
	if cfg.MaxConnections < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_connections",
			Message: "max connections must be non-negative",
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}

	return errs
}

func validateMITM(cfg *MITMConfig) []FieldError {
	var errs []FieldError

	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		errs = append(errs, FieldError{
			Field:   "mitm.cert_file",
			Message: "cert_file and key_file must be set together",
		})
	}

	return errs
}

func validateUpstream(cfg *UpstreamConfig) []FieldError {
	var errs []FieldError

	if cfg.Timeout < 0 {
		errs = append(errs, FieldError{
			Field:   "upstream.timeout",
			Message: "timeout must be positive",
		})
	}
	if cfg.MaxIdleConns < 0 {
		errs = append(errs, FieldError{
			Field:   "upstream.max_idle_conns",
			Message: "max idle connections must be non-negative",
		})
	}

	return errs
}

func validateRateLimit(cfg *RateLimitConfig) []FieldError {
	var errs []FieldError

	if cfg.RequestsPerSecond < 0 {
		errs = append(errs, FieldError{
			Field:   "filter.rate_limit.requests_per_second",
			Message: "rate must be non-negative",
		})
	}
	if cfg.Burst < 0 {
		errs = append(errs, FieldError{
			Field:   "filter.rate_limit.burst",
			Message: "burst must be non-negative",
		})
	}
	if cfg.MaxConcurrent < 0 {
		errs = append(errs, FieldError{
			Field:   "filter.rate_limit.max_concurrent",
			Message: "max concurrent must be non-negative",
		})
	}
	if cfg.IdleTTL < 0 {
		errs = append(errs, FieldError{
			Field:   "filter.rate_limit.idle_ttl",
			Message: "idle ttl must be non-negative",
		})
	}

	return errs
}

func validateJournal(cfg *JournalConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return nil
	}

	switch cfg.Driver {
	case "sqlite", "sqlite3":
	default:
		errs = append(errs, FieldError{
			Field:   "journal.driver",
			Message: fmt.Sprintf("unsupported driver %q (expected sqlite or sqlite3)", cfg.Driver),
		})
	}
	if cfg.Retention < 0 {
		errs = append(errs, FieldError{
			Field:   "journal.retention",
			Message: "retention must be positive",
		})
	}
	if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
		errs = append(errs, FieldError{
			Field:   "journal.prune_schedule",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}

	return errs
}

func validateMaintenance(cfg *MaintenanceConfig) []FieldError {
	var errs []FieldError

	if cfg.TmpMaxAge < 0 {
		errs = append(errs, FieldError{
			Field:   "maintenance.tmp_max_age",
			Message: "max age must be positive",
		})
	}
	if cfg.TmpSweepSchedule != "" {
		if _, err := cron.ParseStandard(cfg.TmpSweepSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "maintenance.tmp_sweep_schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("unknown log level %q", cfg.Logging.Level),
		})
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("unknown log format %q", cfg.Logging.Format),
		})
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxBackups < 0 || cfg.Logging.MaxAgeDays < 0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging",
			Message: "rotation limits must be non-negative",
		})
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Address); err != nil {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.address",
				Message: fmt.Sprintf("invalid address: %v", err),
			})
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.path",
				Message: "path must start with /",
			})
		}
	}

	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_rate",
			Message: "sample rate must be between 0 and 1",
		})
	}

	return errs
}
