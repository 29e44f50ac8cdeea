// Package logging builds the structured loggers used by mitmgate.
//
// Loggers are plain *slog.Logger values. When a log directory is configured
// the output goes to a size-rotated file (lumberjack) whose closing is
// registered with atexit, so it is flushed on the process exit path without
// each component having to tear it down.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tebeka/atexit"
	"gopkg.in/natefinch/lumberjack.v2"

	"mitmgate-hq/mitmgate/pkg/config"
)

// LogFormat represents the output format for logs.
type LogFormat string

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON LogFormat = "json"
	// FormatText outputs logs in key=value text format.
	FormatText LogFormat = "text"
)

// Config contains configuration for a logger.
type Config struct {
	// Level is the minimum log level ("debug", "info", "warn", "error")
	Level string

	// Format is the output format ("json", "text")
	Format string

	// Dir is the directory holding File. Empty disables the file sink.
	Dir string

	// File is the log file name inside Dir.
	File string

	// Stdout tees output to stdout when a file sink is active.
	Stdout bool

	// Rotation limits for the file sink.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool

	// AddSource includes file and line number in logs
	AddSource bool

	// Writer overrides every sink (used by tests).
	Writer io.Writer
}

// FromConfig converts the logging section of the configuration into a
// logger Config writing into dir.
func FromConfig(cfg config.LoggingConfig, dir string) Config {
	compress := config.DefaultLogCompress
	if cfg.Compress != nil {
		compress = *cfg.Compress
	}
	return Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		Dir:        dir,
		File:       cfg.File,
		Stdout:     cfg.Stdout,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   compress,
	}
}

// New creates a logger from cfg.
func New(cfg Config) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}

	writer, err := sink(cfg)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch format {
	case FormatText:
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	return slog.New(handler), nil
}

// sink picks the writer for cfg: the override, a rotated file (optionally
// teed to stdout) or stdout.
func sink(cfg Config) (io.Writer, error) {
	if cfg.Writer != nil {
		return cfg.Writer, nil
	}
	if cfg.Dir == "" || cfg.File == "" {
		return os.Stdout, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", cfg.Dir, err)
	}

	fileLogger := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, cfg.File),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	atexit.Register(func() {
		_ = fileLogger.Close()
	})

	if cfg.Stdout {
		return io.MultiWriter(fileLogger, os.Stdout), nil
	}
	return fileLogger, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(nopHandler{})
}

// ParseLevel parses a log level string into slog.Level. An empty string
// means info.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// parseFormat parses a log format string into LogFormat.
func parseFormat(formatStr string) (LogFormat, error) {
	switch strings.ToLower(formatStr) {
	case "json", "":
		return FormatJSON, nil
	case "text":
		return FormatText, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format: %s", formatStr)
	}
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }
