package logging

import (
	"context"
	"log/slog"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// ConnIDKey is the context key for client connection IDs.
	ConnIDKey contextKey = "conn_id"

	// TraceIDKey is the context key for trace IDs.
	TraceIDKey contextKey = "trace_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithConnID adds a connection ID to the context.
func WithConnID(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnIDKey, connID)
}

// GetConnID retrieves the connection ID from the context.
func GetConnID(ctx context.Context) string {
	if connID, ok := ctx.Value(ConnIDKey).(string); ok {
		return connID
	}
	return ""
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// ContextArgs returns the correlation fields stored in ctx as slog key/value
// pairs. Empty fields are skipped.
func ContextArgs(ctx context.Context) []any {
	var args []any
	if v := GetConnID(ctx); v != "" {
		args = append(args, string(ConnIDKey), v)
	}
	if v := GetRequestID(ctx); v != "" {
		args = append(args, string(RequestIDKey), v)
	}
	if v := GetTraceID(ctx); v != "" {
		args = append(args, string(TraceIDKey), v)
	}
	return args
}

// FromContext returns logger enriched with the correlation fields in ctx.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	args := ContextArgs(ctx)
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}
