package tracing

import (
	"context"
	"net/http"
	"testing"
)

func TestParseTraceParent(t *testing.T) {
	tests := []struct {
		name        string
		traceparent string
		wantOK      bool
		wantSampled bool
	}{
		{
			name:        "valid sampled",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			wantOK:      true,
			wantSampled: true,
		},
		{
			name:        "valid not sampled",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-00",
			wantOK:      true,
		},
		{
			name:        "wrong number of parts",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7",
		},
		{
			name:        "short trace id",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e473-00f067aa0ba902b7-01",
		},
		{
			name:        "non-hex parent id",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902bz-01",
		},
		{
			name:        "all-zero trace id",
			traceparent: "00-00000000000000000000000000000000-00f067aa0ba902b7-01",
		},
		{
			name:        "all-zero parent id",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-0000000000000000-01",
		},
		{
			name: "empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			traceID, _, sampled, ok := ParseTraceParent(tt.traceparent)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if sampled != tt.wantSampled {
				t.Errorf("sampled = %v, want %v", sampled, tt.wantSampled)
			}
			if ok && traceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
				t.Errorf("traceID = %q", traceID)
			}
		})
	}
}

func TestExtractInject(t *testing.T) {
	tracer, _ := newRecordingTracer(t)

	incoming := http.Header{}
	incoming.Set(HeaderTraceParent, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

	ctx := Extract(context.Background(), incoming)
	ctx, span := tracer.Start(ctx, "proxy.request")
	defer span.End()

	if got := TraceID(ctx); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("TraceID() = %q, want the client's trace", got)
	}

	outgoing := http.Header{}
	Inject(ctx, outgoing)

	traceID, parentID, sampled, ok := ParseTraceParent(outgoing.Get(HeaderTraceParent))
	if !ok {
		t.Fatalf("injected traceparent invalid: %q", outgoing.Get(HeaderTraceParent))
	}
	if traceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace id not preserved: %s", traceID)
	}
	if parentID == "00f067aa0ba902b7" {
		t.Error("upstream parent should be the proxy span, not the client span")
	}
	if !sampled {
		t.Error("sampled flag lost")
	}
}
