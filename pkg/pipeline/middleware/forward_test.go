package middleware

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mitmgate-hq/mitmgate/pkg/config"
	"mitmgate-hq/mitmgate/pkg/pipeline"
)

func TestForwarder_Handle(t *testing.T) {
	var got *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Keep-Alive", "timeout=5")
		w.Header().Set("X-Upstream", "yes")
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(append([]byte("echo:"), body...))
	}))
	defer upstream.Close()

	f := Forward()
	defer f.CloseIdleConnections()

	req := httptest.NewRequest(http.MethodPost, upstream.URL+"/submit?q=1", strings.NewReader("payload"))
	req.Header.Set("Proxy-Authorization", "Basic Zm9vOmJhcg==")
	req.Header.Set("Connection", "X-Drop-Me")
	req.Header.Set("X-Drop-Me", "1")
	req.Header.Set("X-Keep", "1")

	resp, err := f.Handle(req)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated || string(body) != "echo:payload" {
		t.Errorf("response = %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Upstream") != "yes" || resp.Header.Get("Keep-Alive") != "" {
		t.Errorf("response headers = %v", resp.Header)
	}
	if got.URL.RawQuery != "q=1" || got.URL.Path != "/submit" {
		t.Errorf("upstream saw %s", got.URL)
	}
	if got.Header.Get("Proxy-Authorization") != "" || got.Header.Get("X-Drop-Me") != "" {
		t.Errorf("hop-by-hop headers forwarded: %v", got.Header)
	}
	if got.Header.Get("X-Keep") != "1" {
		t.Error("end-to-end header dropped")
	}
}

func TestForwarder_UpstreamErrorStatusIsAResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	resp, err := Forward().Handle(httptest.NewRequest(http.MethodGet, upstream.URL, nil))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestForwarder_DoesNotFollowRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer upstream.Close()

	resp, err := Forward().Handle(httptest.NewRequest(http.MethodGet, upstream.URL, nil))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/elsewhere" {
		t.Errorf("response = %d %s", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestForwarder_ConnectionFailure(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	_, err := Forward().Handle(httptest.NewRequest(http.MethodGet, addr, nil))
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *UpstreamError", err)
	}
	if ue.HTTPStatus() != http.StatusBadGateway {
		t.Errorf("HTTPStatus() = %d, want 502", ue.HTTPStatus())
	}
}

func TestForwarder_AdmitsConnect(t *testing.T) {
	// No upstream listens on the target; the forwarder must not dial it.
	req := httptest.NewRequest(http.MethodConnect, "unreachable.invalid:443", nil)
	resp, err := Forward().Handle(req)
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestForwarder_Timeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer upstream.Close()
	defer close(release)

	f := NewForwarder(config.UpstreamConfig{Timeout: 20 * time.Millisecond})
	_, err := f.Handle(httptest.NewRequest(http.MethodGet, upstream.URL, nil))
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *UpstreamError", err)
	}
	if ue.HTTPStatus() != http.StatusGatewayTimeout {
		t.Errorf("HTTPStatus() = %d, want 504", ue.HTTPStatus())
	}
	if Classify(err) != "timeout" {
		t.Errorf("Classify() = %q, want timeout", Classify(err))
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestForwarder_InterceptedRequestUsesHTTPS(t *testing.T) {
	var scheme, host string
	f := Forward(WithTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		scheme, host = req.URL.Scheme, req.URL.Host
		return pipeline.NewResponse(req, http.StatusOK, ""), nil
	})))

	// Requests read off a decrypted tunnel carry an origin-form URL.
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/path", nil)
	req.Host = "secure.test"
	req.TLS = &tls.ConnectionState{}
	if _, err := f.Handle(req); err != nil {
		t.Fatal(err)
	}
	if scheme != "https" || host != "secure.test" {
		t.Errorf("upstream URL = %s://%s, want https://secure.test", scheme, host)
	}
}

func TestForwarder_AsTerminalStage(t *testing.T) {
	f := Forward(WithTransport(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return pipeline.NewResponse(req, http.StatusAccepted, ""), nil
	})))

	h := pipeline.New(RequestID(), f).Build(nil)
	resp, err := h.Handle(httptest.NewRequest(http.MethodGet, "http://example.com/", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted || resp.Header.Get(RequestIDHeader) == "" {
		t.Errorf("response = %d, request id %q", resp.StatusCode, resp.Header.Get(RequestIDHeader))
	}
}
