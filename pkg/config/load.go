package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// Environment variables are not consulted; use LoadConfigWithEnvOverrides
// for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML data and applies defaults without validating.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention MITMGATE_SECTION_FIELD (e.g., MITMGATE_SERVER_PORT) and always
// take precedence over the file.
//
// A missing file is not an error here: defaults plus environment are a
// complete configuration.
//
// The loading sequence is:
// 1. Load YAML from file (if present)
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
		}
	case os.IsNotExist(err):
		cfg = &Config{}
		ApplyDefaults(cfg)
	default:
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies MITMGATE_* environment variables to cfg.
// Values that fail to parse are ignored.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envInt("MITMGATE_SERVER_PROCESSES", &cfg.Server.Processes)
	envString("MITMGATE_SERVER_IP", &cfg.Server.IP)
	envInt("MITMGATE_SERVER_PORT", &cfg.Server.Port)
	envInt("MITMGATE_SERVER_MAX_CONNECTIONS", &cfg.Server.MaxConnections)
	envDuration("MITMGATE_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("MITMGATE_SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("MITMGATE_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Path overrides
	envString("MITMGATE_PATHS_ROOT", &cfg.Paths.Root)
	envString("MITMGATE_PATHS_LOG_DIR", &cfg.Paths.LogDir)
	envString("MITMGATE_PATHS_TMP_DIR", &cfg.Paths.TmpDir)

	// MITM overrides
	envString("MITMGATE_MITM_HOST", &cfg.MITM.Host)
	envString("MITMGATE_MITM_CERT_FILE", &cfg.MITM.CertFile)
	envString("MITMGATE_MITM_KEY_FILE", &cfg.MITM.KeyFile)

	// Upstream overrides
	envDuration("MITMGATE_UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)
	envBool("MITMGATE_UPSTREAM_INSECURE_SKIP_VERIFY", &cfg.Upstream.InsecureSkipVerify)

	// Filter overrides
	if val := os.Getenv("MITMGATE_FILTER_BLOCK_HOSTS"); val != "" {
		cfg.Filter.BlockHosts = splitList(val)
	}
	envInt("MITMGATE_FILTER_RATE_LIMIT_MAX_CONCURRENT", &cfg.Filter.RateLimit.MaxConcurrent)

	// Journal overrides
	envBool("MITMGATE_JOURNAL_ENABLED", &cfg.Journal.Enabled)
	envString("MITMGATE_JOURNAL_DRIVER", &cfg.Journal.Driver)
	envString("MITMGATE_JOURNAL_PATH", &cfg.Journal.Path)

	// Telemetry overrides
	envString("MITMGATE_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("MITMGATE_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("MITMGATE_TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("MITMGATE_TELEMETRY_METRICS_ADDRESS", &cfg.Telemetry.Metrics.Address)
	envBool("MITMGATE_TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("MITMGATE_TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
