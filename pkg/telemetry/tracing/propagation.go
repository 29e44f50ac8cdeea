package tracing

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// HeaderTraceParent is the W3C trace context header.
const HeaderTraceParent = "traceparent"

// Extract returns ctx carrying the trace context found in headers of an
// intercepted client request. Without a traceparent header ctx is returned
// as is.
func Extract(ctx context.Context, headers http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
}

// Inject writes the trace context of ctx into headers of an upstream
// request.
func Inject(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// ParseTraceParent splits a traceparent header
// (version-trace_id-parent_id-flags) and reports whether it is well formed.
// All-zero trace and parent IDs are rejected.
func ParseTraceParent(v string) (traceID, parentID string, sampled, ok bool) {
	parts := strings.Split(v, "-")
	if len(parts) != 4 {
		return "", "", false, false
	}
	for i, n := range []int{2, 32, 16, 2} {
		if len(parts[i]) != n || !isHex(parts[i]) {
			return "", "", false, false
		}
	}
	if strings.Trim(parts[1], "0") == "" || strings.Trim(parts[2], "0") == "" {
		return "", "", false, false
	}

	flags, err := strconv.ParseUint(parts[3], 16, 8)
	if err != nil {
		return "", "", false, false
	}
	return parts[1], parts[2], flags&0x01 == 0x01, true
}

func isHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
