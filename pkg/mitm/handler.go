// Package mitm implements the connection adapter: it reads HTTP requests
// from raw client connections, terminates TLS inside CONNECT tunnels and
// hands every request to the pipeline handler.
//
// A connection carries either absolute-form proxy requests
// ("GET http://host/path HTTP/1.1") or a CONNECT. With a ContextProvider the
// CONNECT tunnel is decrypted with the provider's certificate and the
// requests inside it go through the pipeline too, marked by a non-nil
// req.TLS. Without one the tunnel is relayed to its target unchanged.
package mitm

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"mitmgate-hq/mitmgate/pkg/pipeline"
	"mitmgate-hq/mitmgate/pkg/telemetry/logging"
	"mitmgate-hq/mitmgate/pkg/telemetry/metrics"
)

// LogFile is the adapter's log file inside the log directory.
const LogFile = "mitm.log"

// ErrorHeader is set on responses the adapter produces for pipeline errors.
const ErrorHeader = "X-Mitmgate-Error"

const (
	defaultReadTimeout = 30 * time.Second
	defaultIdleTimeout = 120 * time.Second
	defaultDialTimeout = 10 * time.Second
)

var (
	// ErrNilHandler is returned by New without a pipeline handler.
	ErrNilHandler = errors.New("mitm: nil handler")

	// ErrNotProxyRequest is returned by ServeConn when a client sends an
	// origin-form request outside a tunnel.
	ErrNotProxyRequest = errors.New("mitm: not a proxy request")
)

// Adapter serves one accepted client connection. Implementations own conn
// and close it before returning.
type Adapter interface {
	ServeConn(ctx context.Context, conn net.Conn) error
}

// ContextProvider supplies the TLS configuration used to terminate an
// intercepted tunnel. serverName is the MITM host override when one is set,
// otherwise the host named by the CONNECT request.
type ContextProvider interface {
	TLSConfig(serverName string) (*tls.Config, error)
}

// Dialer opens upstream connections for relayed tunnels.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Handler is the default Adapter.
type Handler struct {
	handler  pipeline.Handler
	provider ContextProvider
	mitmHost string

	logger      *slog.Logger
	collector   *metrics.Collector
	dialer      Dialer
	readTimeout time.Duration
	idleTimeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger replaces the adapter logger. By default the adapter logs to
// LogFile in the log directory.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics records connection metrics in collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(h *Handler) {
		h.collector = collector
	}
}

// WithReadTimeout bounds reading one request, headers and body. Zero
// disables the limit.
func WithReadTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.readTimeout = d
	}
}

// WithIdleTimeout bounds the wait for the next request on a keep-alive
// connection. Zero disables the limit.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.idleTimeout = d
	}
}

// WithDialer replaces the dialer used to relay uninspected tunnels.
func WithDialer(d Dialer) Option {
	return func(h *Handler) {
		h.dialer = d
	}
}

// New creates the adapter. cp may be nil, in which case CONNECT tunnels are
// relayed without interception. mitmHost, when non-empty, replaces the
// CONNECT host as the server name passed to cp.
func New(h pipeline.Handler, cp ContextProvider, logDir, mitmHost string, opts ...Option) (*Handler, error) {
	if h == nil {
		return nil, ErrNilHandler
	}

	a := &Handler{
		handler:     h,
		provider:    cp,
		mitmHost:    mitmHost,
		dialer:      &net.Dialer{Timeout: defaultDialTimeout},
		readTimeout: defaultReadTimeout,
		idleTimeout: defaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.logger == nil {
		if logDir == "" {
			a.logger = logging.Discard()
		} else {
			logger, err := logging.New(logging.Config{Dir: logDir, File: LogFile, Compress: true})
			if err != nil {
				return nil, fmt.Errorf("mitm: open log: %w", err)
			}
			a.logger = logger
		}
	}

	return a, nil
}

// MITMHost returns the server name override, or "".
func (h *Handler) MITMHost() string {
	return h.mitmHost
}

// Intercepting reports whether CONNECT tunnels are decrypted.
func (h *Handler) Intercepting() bool {
	return h.provider != nil
}

// ServeConn serves conn until the client closes it, an unrecoverable
// protocol error occurs or ctx is cancelled.
func (h *Handler) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	ctx = logging.WithConnID(ctx, uuid.NewString())
	h.collector.ConnectionOpened()
	defer h.collector.ConnectionClosed()

	// Unblock pending reads and writes on cancellation.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log := logging.FromContext(ctx, h.logger)
	log.DebugContext(ctx, "connection accepted", "remote_addr", conn.RemoteAddr().String())

	err := h.serveRequests(ctx, conn, bufio.NewReader(conn), nil, "")
	if err != nil && ctx.Err() == nil {
		log.WarnContext(ctx, "connection failed", "error", err)
		return err
	}
	log.DebugContext(ctx, "connection closed")
	return nil
}

// serveRequests reads requests off br until the connection ends. state is
// non-nil inside a decrypted tunnel to host.
func (h *Handler) serveRequests(ctx context.Context, conn net.Conn, br *bufio.Reader, state *tls.ConnectionState, host string) error {
	timeout := h.readTimeout
	for {
		setReadDeadline(conn, timeout)
		req, err := http.ReadRequest(br)
		if err != nil {
			if isClosed(err) {
				return nil
			}
			writeStatus(conn, http.StatusBadRequest)
			return fmt.Errorf("read request: %w", err)
		}
		setReadDeadline(conn, h.readTimeout)

		if state == nil && req.Method == http.MethodConnect {
			return h.handleConnect(ctx, conn, br, req)
		}

		req = req.WithContext(ctx)
		req.RemoteAddr = conn.RemoteAddr().String()
		if state != nil {
			req.TLS = state
			req.URL.Scheme = "https"
			if req.Host == "" {
				req.Host = host
			}
			req.URL.Host = req.Host
		} else if !req.URL.IsAbs() {
			// Only a proxy request names its target; a request for a path
			// would loop back into the proxy.
			writeStatus(conn, http.StatusBadRequest)
			return fmt.Errorf("%w: %s %s", ErrNotProxyRequest, req.Method, req.URL)
		}

		if !h.dispatch(ctx, conn, req) {
			return nil
		}
		timeout = h.idleTimeout
	}
}

// dispatch runs req through the pipeline and writes the response. It
// reports whether the connection may serve another request.
func (h *Handler) dispatch(ctx context.Context, conn net.Conn, req *http.Request) bool {
	resp, err := h.handle(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		logging.FromContext(ctx, h.logger).ErrorContext(ctx, "pipeline failed",
			"method", req.Method,
			"host", req.Host,
			"error", err,
		)
		resp = ErrorResponse(req, err)
		var pe *pipeline.PanicError
		if errors.As(err, &pe) {
			resp.Close = true
		}
	}
	defer resp.Body.Close()
	// Unread request bytes must not be parsed as the next request.
	defer req.Body.Close()

	keepAlive := prepareResponse(req, resp)
	if err := resp.Write(conn); err != nil {
		logging.FromContext(ctx, h.logger).DebugContext(ctx, "write response failed", "error", err)
		return false
	}
	return keepAlive
}

// handle runs the pipeline. A panic in it fails only this request, as a
// *pipeline.PanicError.
func (h *Handler) handle(req *http.Request) (resp *http.Response, err error) {
	defer func() {
		if v := recover(); v != nil {
			resp, err = nil, &pipeline.PanicError{Value: v, Stack: debug.Stack()}
		}
	}()

	resp, err = h.handler.Handle(req)
	if err == nil && resp == nil {
		err = pipeline.ErrNoResponse
	}
	return resp, err
}

// prepareResponse adapts a pipeline response for an HTTP/1.1 client and
// reports whether the connection stays open after it.
func prepareResponse(req *http.Request, resp *http.Response) bool {
	resp.Proto, resp.ProtoMajor, resp.ProtoMinor = "HTTP/1.1", 1, 1
	resp.Request = req
	if resp.Body == nil {
		resp.Body = http.NoBody
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}

	// Bodies of unknown length are chunked so the connection survives.
	if resp.ContentLength < 0 && len(resp.TransferEncoding) == 0 && bodyAllowed(req, resp.StatusCode) {
		resp.TransferEncoding = []string{"chunked"}
	}

	if req.Close || resp.Close || req.ProtoMajor == 1 && req.ProtoMinor == 0 {
		resp.Close = true
	}
	return !resp.Close
}

func bodyAllowed(req *http.Request, status int) bool {
	if req.Method == http.MethodHead {
		return false
	}
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

// handleConnect answers a CONNECT request and either intercepts or relays
// the tunnel.
func (h *Handler) handleConnect(ctx context.Context, conn net.Conn, br *bufio.Reader, req *http.Request) error {
	target := req.URL.Host
	if target == "" {
		target = req.Host
	}
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "443")
	}
	log := logging.FromContext(ctx, h.logger).With("target", target)

	if h.provider == nil {
		if !h.admit(ctx, conn, req) {
			return nil
		}
		return h.relay(ctx, conn, br, target)
	}

	name := h.mitmHost
	if name == "" {
		name, _, _ = net.SplitHostPort(target)
	}
	cfg, err := h.provider.TLSConfig(name)
	if err != nil {
		writeStatus(conn, http.StatusBadGateway)
		return fmt.Errorf("tls config for %s: %w", name, err)
	}
	// Only HTTP/1.x is parsed inside the tunnel.
	cfg = cfg.Clone()
	cfg.NextProtos = []string{"http/1.1"}

	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return fmt.Errorf("answer CONNECT: %w", err)
	}

	tlsConn := tls.Server(&bufferedConn{Conn: conn, r: br}, cfg)
	setReadDeadline(conn, h.readTimeout)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		h.collector.RecordHandshakeError()
		log.InfoContext(ctx, "client TLS handshake failed", "server_name", name, "error", err)
		return nil
	}
	h.collector.RecordTunnel("intercept")
	log.DebugContext(ctx, "tunnel intercepted", "server_name", name)

	state := tlsConn.ConnectionState()
	defer tlsConn.Close()
	return h.serveRequests(ctx, tlsConn, bufio.NewReader(tlsConn), &state, target)
}

// admit runs a CONNECT that is about to be relayed through the pipeline.
// A 2xx response opens the tunnel; anything else is sent to the client and
// ends the connection.
func (h *Handler) admit(ctx context.Context, conn net.Conn, req *http.Request) bool {
	req = req.WithContext(ctx)
	req.RemoteAddr = conn.RemoteAddr().String()

	resp, err := h.handle(req)
	if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return true
	}

	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		logging.FromContext(ctx, h.logger).WarnContext(ctx, "pipeline failed",
			"method", req.Method,
			"host", req.Host,
			"error", err,
		)
		resp = ErrorResponse(req, err)
	}
	defer resp.Body.Close()

	prepareResponse(req, resp)
	resp.Close = true
	if err := resp.Write(conn); err != nil {
		logging.FromContext(ctx, h.logger).DebugContext(ctx, "write response failed", "error", err)
	}
	logging.FromContext(ctx, h.logger).DebugContext(ctx, "tunnel refused",
		"target", req.Host, "status", resp.StatusCode)
	return false
}

// relay splices the tunnel to target without inspecting it.
func (h *Handler) relay(ctx context.Context, conn net.Conn, br *bufio.Reader, target string) error {
	upstream, err := h.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		writeStatus(conn, http.StatusBadGateway)
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer upstream.Close()
	stop := context.AfterFunc(ctx, func() { _ = upstream.Close() })
	defer stop()

	if _, err := io.WriteString(conn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return fmt.Errorf("answer CONNECT: %w", err)
	}
	h.collector.RecordTunnel("relay")
	_ = conn.SetReadDeadline(time.Time{})

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(upstream, br)
		closeWrite(upstream)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(conn, upstream)
		closeWrite(conn)
		done <- struct{}{}
	}()
	<-done
	<-done
	return nil
}

// ErrorResponse builds the response sent to the client when the pipeline
// fails. Errors that know their status (HTTPStatus() int) keep it; deadlines
// map to 504 and everything else to 502.
func ErrorResponse(req *http.Request, err error) *http.Response {
	status, kind := http.StatusBadGateway, "error"

	var hs interface{ HTTPStatus() int }
	switch {
	case errors.As(err, &hs):
		status = hs.HTTPStatus()
		if status == http.StatusGatewayTimeout {
			kind = "timeout"
		}
	case errors.Is(err, pipeline.ErrNoResponse):
		kind = "no-response"
	case errors.Is(err, context.DeadlineExceeded):
		status, kind = http.StatusGatewayTimeout, "timeout"
	}

	resp := pipeline.NewResponse(req, status, http.StatusText(status)+"\n")
	resp.Header.Set(ErrorHeader, kind)
	return resp
}

func writeStatus(w io.Writer, status int) {
	_, _ = fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\nConnection: close\r\n\r\n",
		status, http.StatusText(status))
}

func setReadDeadline(conn net.Conn, d time.Duration) {
	if d <= 0 {
		_ = conn.SetReadDeadline(time.Time{})
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(d))
}

// isClosed reports whether err ends a connection without a protocol error.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrDeadlineExceeded)
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = c.Close()
}

// bufferedConn replays bytes already buffered while reading the CONNECT
// request, such as an eagerly sent ClientHello.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
