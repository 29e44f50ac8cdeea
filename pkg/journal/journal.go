// Package journal records intercepted HTTP exchanges (flows) for later
// inspection.
//
// Flows are written by the journal pipeline stage and pruned by the
// maintenance scheduler. Header values are stored redacted; bodies are never
// stored.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"mitmgate-hq/mitmgate/pkg/config"
)

// Flow is one request/response exchange seen by the proxy.
type Flow struct {
	ID        string `json:"id"`
	ConnID    string `json:"conn_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	Method      string `json:"method"`
	URL         string `json:"url"`
	Host        string `json:"host"`
	Intercepted bool   `json:"intercepted"`

	// Status is the response status code, 0 when the pipeline failed.
	Status int `json:"status,omitempty"`

	RequestHeaders  http.Header `json:"request_headers,omitempty"`
	ResponseHeaders http.Header `json:"response_headers,omitempty"`

	// Error holds the pipeline error message, if any.
	Error string `json:"error,omitempty"`
}

// Query filters flows returned by Store.Query. Zero fields match everything.
type Query struct {
	Host   string
	Since  time.Time
	Limit  int
	Errors bool // only flows that failed
}

// Store persists flows.
type Store interface {
	Record(ctx context.Context, flow *Flow) error
	Query(ctx context.Context, q Query) ([]*Flow, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// StorageError reports a failed storage operation.
type StorageError struct {
	Backend   string // "sqlite", "sqlite3", "memory"
	Operation string // "open", "record", "query", ...
	Cause     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("journal storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// Open opens the journal described by cfg. A relative path is resolved
// against logDir.
func Open(cfg config.JournalConfig, logDir string, logger *slog.Logger) (Store, error) {
	path := cfg.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(logDir, path)
	}
	return OpenSQLite(SQLiteConfig{
		Driver: cfg.Driver,
		Path:   path,
		Logger: logger,
	})
}
