package config

import "time"

// ConfigBuilder provides a fluent API for building Config instances in tests.
// It starts with default values and allows selective overrides.
type ConfigBuilder struct {
	cfg Config
}

// NewTestConfig creates a new ConfigBuilder with defaults applied.
// The resulting configuration is valid and can be used immediately.
func NewTestConfig() *ConfigBuilder {
	var cfg Config
	ApplyDefaults(&cfg)
	cfg.Server.IP = "127.0.0.1"
	return &ConfigBuilder{cfg: cfg}
}

// Build returns the built Config instance.
func (b *ConfigBuilder) Build() *Config {
	return &b.cfg
}

// WithProcesses sets the worker count.
func (b *ConfigBuilder) WithProcesses(n int) *ConfigBuilder {
	b.cfg.Server.Processes = n
	return b
}

// WithPort sets the listen port.
func (b *ConfigBuilder) WithPort(port int) *ConfigBuilder {
	b.cfg.Server.Port = port
	return b
}

// WithIP sets the bind address.
func (b *ConfigBuilder) WithIP(ip string) *ConfigBuilder {
	b.cfg.Server.IP = ip
	return b
}

// WithReadTimeout sets the per-request read timeout.
func (b *ConfigBuilder) WithReadTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.Server.ReadTimeout = d
	return b
}

// WithCertificate sets the interception certificate pair.
func (b *ConfigBuilder) WithCertificate(certFile, keyFile string) *ConfigBuilder {
	b.cfg.MITM.CertFile = certFile
	b.cfg.MITM.KeyFile = keyFile
	return b
}

// WithJournal enables the journal with the given driver.
func (b *ConfigBuilder) WithJournal(driver string) *ConfigBuilder {
	b.cfg.Journal.Enabled = true
	b.cfg.Journal.Driver = driver
	return b
}

// WithLogLevel sets the log level.
func (b *ConfigBuilder) WithLogLevel(level string) *ConfigBuilder {
	b.cfg.Telemetry.Logging.Level = level
	return b
}
