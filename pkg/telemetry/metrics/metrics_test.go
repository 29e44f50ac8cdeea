package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mitmgate-hq/mitmgate/pkg/config"
	"mitmgate-hq/mitmgate/pkg/telemetry/logging"
)

func testConfig() config.MetricsConfig {
	return config.MetricsConfig{
		Enabled:   true,
		Namespace: "test",
	}
}

func TestCollector_RecordRequest(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	tests := []struct {
		name        string
		method      string
		host        string
		status      int
		intercepted bool
		wantStatus  string
	}{
		{name: "plain request", method: "GET", host: "example.com", status: 200, wantStatus: "200"},
		{name: "intercepted request", method: "POST", host: "api.example.com", status: 201, intercepted: true, wantStatus: "201"},
		{name: "failed pipeline", method: "GET", host: "example.com", status: 0, wantStatus: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector.RecordRequest(tt.method, tt.host, tt.status, tt.intercepted, 10*time.Millisecond)

			intercepted := "false"
			if tt.intercepted {
				intercepted = "true"
			}
			got := testutil.ToFloat64(collector.requests.requestsTotal.WithLabelValues(tt.method, tt.host, tt.wantStatus, intercepted))
			if got != 1 {
				t.Errorf("requests_total = %v, want 1", got)
			}
		})
	}

	if n := testutil.CollectAndCount(collector.requests.requestDuration); n != 2 {
		t.Errorf("duration series = %d, want 2 (GET, POST)", n)
	}
}

func TestCollector_HostCardinality(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())
	collector.hosts = NewCardinalityLimiter(1)

	collector.RecordRequest("GET", "a.example", 200, false, time.Millisecond)
	collector.RecordRequest("GET", "b.example", 200, false, time.Millisecond)

	if got := testutil.ToFloat64(collector.requests.requestsTotal.WithLabelValues("GET", OtherHost, "200", "false")); got != 1 {
		t.Errorf("overflow host should be recorded as %q, got %v", OtherHost, got)
	}
}

func TestCollector_Connections(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	collector.ConnectionOpened()
	collector.ConnectionOpened()
	collector.ConnectionClosed()
	collector.RecordTunnel("intercept")
	collector.RecordHandshakeError()

	if got := testutil.ToFloat64(collector.connections.active); got != 1 {
		t.Errorf("connections_active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.connections.total); got != 2 {
		t.Errorf("connections_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.connections.tunnelsTotal.WithLabelValues("intercept")); got != 1 {
		t.Errorf("tunnels_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.connections.handshakeErrors); got != 1 {
		t.Errorf("tls_handshake_errors_total = %v, want 1", got)
	}
}

func TestCollector_ErrorsAndBlocked(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	collector.RecordPipelineError("timeout")
	collector.RecordPipelineError("timeout")
	collector.RecordBlocked()
	collector.RecordRateLimited("rate")

	if got := testutil.ToFloat64(collector.requests.limitedTotal.WithLabelValues("rate")); got != 1 {
		t.Errorf("rate_limited_requests_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.requests.pipelineErrors.WithLabelValues("timeout")); got != 2 {
		t.Errorf("pipeline_errors_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.requests.blockedTotal); got != 1 {
		t.Errorf("blocked_requests_total = %v, want 1", got)
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	collector := NewCollector(cfg, prometheus.NewRegistry())

	collector.RecordRequest("GET", "example.com", 200, false, time.Second)
	collector.ConnectionOpened()

	if got := testutil.ToFloat64(collector.connections.total); got != 0 {
		t.Errorf("disabled collector recorded %v connections", got)
	}

	var nilCollector *Collector
	nilCollector.RecordRequest("GET", "example.com", 200, false, time.Second)
	nilCollector.RecordBlocked()
	nilCollector.RecordRateLimited("concurrency")
	nilCollector.ConnectionClosed()
}

func TestCardinalityLimiter(t *testing.T) {
	limiter := NewCardinalityLimiter(3)

	for _, v := range []string{"label1", "label2", "label3"} {
		if !limiter.Allow(v) {
			t.Errorf("expected %s to be allowed", v)
		}
	}
	if limiter.Allow("label4") {
		t.Error("expected fourth label to be rejected")
	}
	if !limiter.Allow("label1") {
		t.Error("expected existing label to be allowed")
	}
	if limiter.Count() != 3 {
		t.Errorf("Count() = %d, want 3", limiter.Count())
	}
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				collector.RecordRequest("GET", "example.com", 200, true, time.Millisecond)
				collector.ConnectionOpened()
				collector.ConnectionClosed()
			}
		}()
	}
	wg.Wait()

	if got := testutil.ToFloat64(collector.requests.requestsTotal.WithLabelValues("GET", "example.com", "200", "true")); got != 1000 {
		t.Errorf("requests_total = %v, want 1000", got)
	}
	if got := testutil.ToFloat64(collector.connections.active); got != 0 {
		t.Errorf("connections_active = %v, want 0", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.RecordBlocked()

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"test_blocked_requests_total 1", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestServer_Serve(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())
	collector.RecordPipelineError("upstream")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	srv := NewServer(collector, ln.Addr().String(), "/metrics", logging.Discard())
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if !strings.Contains(string(body), `test_pipeline_errors_total{kind="upstream"} 1`) {
		t.Errorf("scrape missing pipeline error counter:\n%s", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServer_Handle(t *testing.T) {
	collector := NewCollector(testConfig(), prometheus.NewRegistry())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := NewServer(collector, ln.Addr().String(), "/metrics", logging.Discard())
	srv.Handle("/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
}
