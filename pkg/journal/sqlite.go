package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // "sqlite3" driver (cgo)
	_ "modernc.org/sqlite"          // "sqlite" driver (pure Go)
)

// SchemaVersion is the current journal schema version.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS flows (
    id TEXT PRIMARY KEY,
    conn_id TEXT,
    request_id TEXT,
    started_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    method TEXT NOT NULL,
    url TEXT NOT NULL,
    host TEXT NOT NULL,
    intercepted BOOLEAN NOT NULL,
    status INTEGER NOT NULL,
    request_headers TEXT,
    response_headers TEXT,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_flows_started_at ON flows(started_at);
CREATE INDEX IF NOT EXISTS idx_flows_host ON flows(host);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`

// SQLiteConfig configures a SQLite journal.
type SQLiteConfig struct {
	// Driver is "sqlite" (modernc.org/sqlite) or "sqlite3"
	// (github.com/mattn/go-sqlite3).
	Driver string

	// Path is the database file. Its directory is created if missing.
	Path string

	// BusyTimeout is how long to wait for locks. Default: 5 seconds
	BusyTimeout time.Duration

	Logger *slog.Logger
}

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the journal database.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.Driver != "sqlite" && cfg.Driver != "sqlite3" {
		return nil, NewStorageError(cfg.Driver, "open", fmt.Errorf("unsupported driver %q", cfg.Driver))
	}
	if cfg.Path == "" {
		return nil, NewStorageError(cfg.Driver, "open", fmt.Errorf("db path cannot be empty"))
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, NewStorageError(cfg.Driver, "mkdir", err)
	}

	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, NewStorageError(cfg.Driver, "open", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{
		db:     db,
		driver: cfg.Driver,
		logger: cfg.Logger.With("component", "journal.sqlite"),
	}

	if err := s.initialize(cfg.BusyTimeout); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("journal opened", "path", cfg.Path, "driver", cfg.Driver)
	return s, nil
}

func (s *SQLiteStore) initialize(busyTimeout time.Duration) error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return NewStorageError(s.driver, "enable_wal", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeout.Milliseconds())); err != nil {
		return NewStorageError(s.driver, "set_busy_timeout", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return NewStorageError(s.driver, "create_schema", err)
	}
	if _, err := s.db.Exec("INSERT OR IGNORE INTO schema_version (version) VALUES (?)", SchemaVersion); err != nil {
		return NewStorageError(s.driver, "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return NewStorageError(s.driver, "get_schema_version", err)
	}
	if version != SchemaVersion {
		return NewStorageError(s.driver, "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Record stores flow.
func (s *SQLiteStore) Record(ctx context.Context, flow *Flow) error {
	reqHeaders, err := marshalHeaders(flow.RequestHeaders)
	if err != nil {
		return NewStorageError(s.driver, "record", err)
	}
	respHeaders, err := marshalHeaders(flow.ResponseHeaders)
	if err != nil {
		return NewStorageError(s.driver, "record", err)
	}

	var errVal any
	if flow.Error != "" {
		errVal = flow.Error
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flows (
			id, conn_id, request_id, started_at, duration_ms,
			method, url, host, intercepted, status,
			request_headers, response_headers, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		flow.ID, flow.ConnID, flow.RequestID, flow.StartedAt.UnixNano(), flow.Duration.Milliseconds(),
		flow.Method, flow.URL, flow.Host, flow.Intercepted, flow.Status,
		reqHeaders, respHeaders, errVal,
	)
	if err != nil {
		return NewStorageError(s.driver, "record", err)
	}
	return nil
}

// Query returns flows matching q, newest first.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]*Flow, error) {
	var (
		where []string
		args  []any
	)
	if q.Host != "" {
		where = append(where, "host = ?")
		args = append(args, q.Host)
	}
	if !q.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if q.Errors {
		where = append(where, "error IS NOT NULL")
	}

	query := `SELECT id, conn_id, request_id, started_at, duration_ms, method, url, host,
		intercepted, status, request_headers, response_headers, error FROM flows`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewStorageError(s.driver, "query", err)
	}
	defer rows.Close()

	var flows []*Flow
	for rows.Next() {
		var (
			f                       Flow
			startedAt, durationMs   int64
			reqHeaders, respHeaders sql.NullString
			errMsg                  sql.NullString
			connID, requestID       sql.NullString
		)
		if err := rows.Scan(&f.ID, &connID, &requestID, &startedAt, &durationMs, &f.Method, &f.URL, &f.Host,
			&f.Intercepted, &f.Status, &reqHeaders, &respHeaders, &errMsg); err != nil {
			return nil, NewStorageError(s.driver, "scan", err)
		}
		f.ConnID = connID.String
		f.RequestID = requestID.String
		f.StartedAt = time.Unix(0, startedAt).UTC()
		f.Duration = time.Duration(durationMs) * time.Millisecond
		f.Error = errMsg.String
		if f.RequestHeaders, err = unmarshalHeaders(reqHeaders); err != nil {
			return nil, NewStorageError(s.driver, "scan", err)
		}
		if f.ResponseHeaders, err = unmarshalHeaders(respHeaders); err != nil {
			return nil, NewStorageError(s.driver, "scan", err)
		}
		flows = append(flows, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError(s.driver, "query", err)
	}
	return flows, nil
}

// Prune deletes flows started before the cutoff and returns how many were
// removed.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM flows WHERE started_at < ?", before.UnixNano())
	if err != nil {
		return 0, NewStorageError(s.driver, "prune", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, NewStorageError(s.driver, "prune", err)
	}
	return n, nil
}

// Count returns the number of stored flows.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM flows").Scan(&n); err != nil {
		return 0, NewStorageError(s.driver, "count", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return NewStorageError(s.driver, "close", err)
	}
	return nil
}

func marshalHeaders(h http.Header) (any, error) {
	if len(h) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalHeaders(v sql.NullString) (http.Header, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var h http.Header
	if err := json.Unmarshal([]byte(v.String), &h); err != nil {
		return nil, err
	}
	return h, nil
}
