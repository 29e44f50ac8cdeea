package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys recorded on pipeline spans.
const (
	AttrHTTPMethod     = "http.method"
	AttrHTTPURL        = "http.url"
	AttrHTTPHost       = "http.host"
	AttrHTTPStatusCode = "http.status_code"
	AttrRequestID      = "mitmgate.request_id"
	AttrConnID         = "mitmgate.conn_id"
	AttrIntercepted    = "mitmgate.intercepted"
)

// RequestAttributes describes an intercepted request. The URL is passed
// through already redacted by the caller.
func RequestAttributes(req *http.Request, redactedURL string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrHTTPMethod, req.Method),
		attribute.String(AttrHTTPURL, redactedURL),
		attribute.String(AttrHTTPHost, req.Host),
		attribute.Bool(AttrIntercepted, req.TLS != nil),
	}
}

// SetResponseAttributes records the upstream response status on span.
func SetResponseAttributes(span trace.Span, resp *http.Response) {
	if resp == nil {
		return
	}
	span.SetAttributes(attribute.Int(AttrHTTPStatusCode, resp.StatusCode))
}

// SetCorrelation records the request and connection IDs on span.
func SetCorrelation(span trace.Span, requestID, connID string) {
	var attrs []attribute.KeyValue
	if requestID != "" {
		attrs = append(attrs, attribute.String(AttrRequestID, requestID))
	}
	if connID != "" {
		attrs = append(attrs, attribute.String(AttrConnID, connID))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}
