package config

import (
	"testing"
	"time"
)

func TestNewTestConfig(t *testing.T) {
	cfg := NewTestConfig().Build()

	if cfg.Server.Processes != DefaultProcesses {
		t.Errorf("expected processes %d, got %d", DefaultProcesses, cfg.Server.Processes)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != DefaultReadTimeout {
		t.Errorf("expected read timeout %v, got %v", DefaultReadTimeout, cfg.Server.ReadTimeout)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("test config should be valid: %v", err)
	}
}

func TestConfigBuilder_Overrides(t *testing.T) {
	cfg := NewTestConfig().
		WithProcesses(4).
		WithPort(9443).
		WithIP("10.0.0.1").
		WithReadTimeout(5 * time.Second).
		WithJournal("sqlite3").
		Build()

	if cfg.Server.Processes != 4 {
		t.Errorf("expected processes 4, got %d", cfg.Server.Processes)
	}
	if cfg.Server.Port != 9443 {
		t.Errorf("expected port 9443, got %d", cfg.Server.Port)
	}
	if cfg.Server.IP != "10.0.0.1" {
		t.Errorf("expected ip 10.0.0.1, got %q", cfg.Server.IP)
	}
	if cfg.Server.ReadTimeout != 5*time.Second {
		t.Errorf("expected read timeout 5s, got %v", cfg.Server.ReadTimeout)
	}
	if !cfg.Journal.Enabled || cfg.Journal.Driver != "sqlite3" {
		t.Errorf("expected journal enabled with sqlite3, got %+v", cfg.Journal)
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"processes", cfg.Server.Processes, 1},
		{"ip", cfg.Server.IP, "0.0.0.0"},
		{"port", cfg.Server.Port, 8080},
		{"shutdown timeout", cfg.Server.ShutdownTimeout, DefaultShutdownTimeout},
		{"upstream timeout", cfg.Upstream.Timeout, DefaultUpstreamTimeout},
		{"journal driver", cfg.Journal.Driver, "sqlite"},
		{"journal schedule", cfg.Journal.PruneSchedule, DefaultJournalPruneSchedule},
		{"tmp sweep", cfg.Maintenance.TmpSweepSchedule, DefaultTmpSweepSchedule},
		{"log level", cfg.Telemetry.Logging.Level, "info"},
		{"log format", cfg.Telemetry.Logging.Format, "json"},
		{"log compress", *cfg.Telemetry.Logging.Compress, true},
		{"metrics namespace", cfg.Telemetry.Metrics.Namespace, "mitmgate"},
		{"tracing sample rate", cfg.Telemetry.Tracing.SampleRate, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if cfg.Paths.LogDir != "" || cfg.Paths.TmpDir != "" {
		t.Errorf("directories must stay unresolved, got %+v", cfg.Paths)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	compress := false
	cfg := Config{
		Server: ServerConfig{Processes: 3, IP: "127.0.0.1", Port: 3128},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{Level: "debug", Compress: &compress},
		},
	}
	ApplyDefaults(&cfg)

	if cfg.Server.Processes != 3 || cfg.Server.IP != "127.0.0.1" || cfg.Server.Port != 3128 {
		t.Errorf("explicit server values overwritten: %+v", cfg.Server)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("explicit level overwritten: %q", cfg.Telemetry.Logging.Level)
	}
	if *cfg.Telemetry.Logging.Compress {
		t.Error("explicit compress=false overwritten")
	}
}
