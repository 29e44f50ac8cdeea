package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
server:
  processes: 4
  ip: "127.0.0.1"
  port: 3128
  read_timeout: "10s"

paths:
  root: "/srv/mitmgate"

mitm:
  host: "intercept.local"
  cert_file: "/etc/mitmgate/cert.pem"
  key_file: "/etc/mitmgate/key.pem"

filter:
  block_hosts: ["ads.example.com", ".tracker.example"]
  rate_limit:
    requests_per_second: 2.5
    max_concurrent: 8

journal:
  enabled: true
  driver: "sqlite"
  retention: "48h"

telemetry:
  logging:
    level: "debug"
    format: "text"
  metrics:
    enabled: true
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Processes != 4 {
		t.Errorf("expected processes 4, got %d", cfg.Server.Processes)
	}
	if cfg.Server.IP != "127.0.0.1" || cfg.Server.Port != 3128 {
		t.Errorf("unexpected bind %s:%d", cfg.Server.IP, cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected read timeout 10s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Paths.Root != "/srv/mitmgate" {
		t.Errorf("expected root /srv/mitmgate, got %q", cfg.Paths.Root)
	}
	if cfg.MITM.Host != "intercept.local" {
		t.Errorf("expected mitm host intercept.local, got %q", cfg.MITM.Host)
	}
	if len(cfg.Filter.BlockHosts) != 2 {
		t.Errorf("expected 2 blocked hosts, got %v", cfg.Filter.BlockHosts)
	}
	if rl := cfg.Filter.RateLimit; rl.RequestsPerSecond != 2.5 || rl.MaxConcurrent != 8 || !rl.Enabled() {
		t.Errorf("unexpected rate limit %+v", rl)
	}
	if cfg.Filter.RateLimit.IdleTTL != DefaultRateLimitIdleTTL {
		t.Errorf("expected default idle ttl, got %v", cfg.Filter.RateLimit.IdleTTL)
	}
	if cfg.Journal.Retention != 48*time.Hour {
		t.Errorf("expected retention 48h, got %v", cfg.Journal.Retention)
	}
	if cfg.Telemetry.Logging.Format != "text" {
		t.Errorf("expected text format, got %q", cfg.Telemetry.Logging.Format)
	}
	// Defaults still apply to fields the file left out.
	if cfg.Server.ShutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("expected default shutdown timeout, got %v", cfg.Server.ShutdownTimeout)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
server:
  processes: -1
  port: 70000
`)

	_, err := LoadConfig(path)
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Errors) != 2 {
		t.Errorf("expected 2 field errors, got %d: %v", len(verr.Errors), verr.Errors)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 3128
`)

	t.Setenv("MITMGATE_SERVER_PORT", "8443")
	t.Setenv("MITMGATE_SERVER_PROCESSES", "2")
	t.Setenv("MITMGATE_SERVER_IP", "127.0.0.1")
	t.Setenv("MITMGATE_UPSTREAM_TIMEOUT", "5s")
	t.Setenv("MITMGATE_FILTER_BLOCK_HOSTS", "a.example, b.example ,")
	t.Setenv("MITMGATE_JOURNAL_ENABLED", "true")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.Port != 8443 {
		t.Errorf("expected env port 8443, got %d", cfg.Server.Port)
	}
	if cfg.Server.Processes != 2 {
		t.Errorf("expected env processes 2, got %d", cfg.Server.Processes)
	}
	if cfg.Server.IP != "127.0.0.1" {
		t.Errorf("expected env ip, got %q", cfg.Server.IP)
	}
	if cfg.Upstream.Timeout != 5*time.Second {
		t.Errorf("expected upstream timeout 5s, got %v", cfg.Upstream.Timeout)
	}
	if got := cfg.Filter.BlockHosts; len(got) != 2 || got[0] != "a.example" || got[1] != "b.example" {
		t.Errorf("unexpected block hosts %v", got)
	}
	if !cfg.Journal.Enabled {
		t.Error("expected journal enabled from env")
	}
}

func TestLoadConfigWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("MITMGATE_SERVER_PORT", "9000")

	cfg, err := LoadConfigWithEnvOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.Processes != DefaultProcesses {
		t.Errorf("expected default processes, got %d", cfg.Server.Processes)
	}
}

func TestLoadConfigWithEnvOverrides_IgnoresUnparsable(t *testing.T) {
	t.Setenv("MITMGATE_SERVER_PORT", "not-a-number")

	cfg, err := LoadConfigWithEnvOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != DefaultPort {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}
