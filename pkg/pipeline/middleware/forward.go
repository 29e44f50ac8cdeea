package middleware

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"mitmgate-hq/mitmgate/pkg/config"
	"mitmgate-hq/mitmgate/pkg/pipeline"
	"mitmgate-hq/mitmgate/pkg/telemetry/logging"
	"mitmgate-hq/mitmgate/pkg/telemetry/tracing"
)

// hopHeaders are connection-scoped and never forwarded (RFC 9110 §7.6.1).
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder sends requests to their origin server. It is the usual last
// stage of the pipeline. Upstream error statuses are returned as responses;
// only transport failures become errors.
type Forwarder struct {
	client *http.Client
	logger *slog.Logger
}

// ForwardOption configures a Forwarder.
type ForwardOption func(*Forwarder)

// WithTransport replaces the upstream transport.
func WithTransport(rt http.RoundTripper) ForwardOption {
	return func(f *Forwarder) {
		f.client.Transport = rt
	}
}

// WithForwardLogger sets the logger used for upstream diagnostics.
func WithForwardLogger(logger *slog.Logger) ForwardOption {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// NewForwarder creates a Forwarder from cfg. Zero values fall back to the
// configuration defaults.
func NewForwarder(cfg config.UpstreamConfig, opts ...ForwardOption) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}

	transport := &http.Transport{
		// Never chain through the environment's proxy.
		Proxy:               nil,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true,
		ForceAttemptHTTP2:   true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator opt-in
			MinVersion:         tls.VersionTLS12,
		},
	}

	f := &Forwarder{
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Forward returns a Forwarder built from default upstream settings.
func Forward(opts ...ForwardOption) *Forwarder {
	return NewForwarder(config.UpstreamConfig{}, opts...)
}

// Handle performs the upstream round trip. A CONNECT request that reaches
// the forwarder is admitted with 200; the adapter opens the tunnel itself.
func (f *Forwarder) Handle(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodConnect {
		return pipeline.NewResponse(req, http.StatusOK, ""), nil
	}

	ctx := req.Context()
	out := req.Clone(ctx)
	out.RequestURI = ""

	if out.URL.Host == "" {
		out.URL.Host = req.Host
	}
	if out.URL.Scheme == "" {
		out.URL.Scheme = "http"
		if req.TLS != nil {
			out.URL.Scheme = "https"
		}
	}
	if req.ContentLength == 0 {
		out.Body = nil
	}

	removeHopHeaders(out.Header)
	tracing.Inject(ctx, out.Header)

	resp, err := f.client.Do(out)
	if err != nil {
		logging.FromContext(ctx, f.logger).DebugContext(ctx, "upstream round trip failed",
			"host", out.URL.Host, "error", err)
		return nil, &UpstreamError{Host: out.URL.Host, Err: err}
	}
	removeHopHeaders(resp.Header)
	return resp, nil
}

// Process lets the Forwarder sit in a pipeline as a middleware. It never
// calls next.
func (f *Forwarder) Process(req *http.Request, _ pipeline.Handler) (*http.Response, error) {
	return f.Handle(req)
}

// CloseIdleConnections releases pooled upstream connections.
func (f *Forwarder) CloseIdleConnections() {
	f.client.CloseIdleConnections()
}

func removeHopHeaders(h http.Header) {
	// Headers named in Connection are hop-by-hop too.
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = textproto.TrimString(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
