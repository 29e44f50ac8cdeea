package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"sync"
	"syscall"
	"time"

	"mitmgate-hq/mitmgate/pkg/mitm"
	"mitmgate-hq/mitmgate/pkg/telemetry/logging"
)

// DefaultShutdownTimeout bounds connection draining when no timeout is
// configured.
const DefaultShutdownTimeout = 30 * time.Second

var (
	// ErrAlreadyRunning is returned by Start and Serve on a running server.
	ErrAlreadyRunning = errors.New("server is already running")

	// ErrServerClosed is returned by Start and Serve after Shutdown.
	ErrServerClosed = errors.New("server closed")
)

// Server accepts client connections with a pool of workers.
type Server struct {
	adapter         mitm.Adapter
	processes       int
	addr            string
	maxConnections  int
	shutdownTimeout time.Duration
	logger          *slog.Logger

	mu        sync.RWMutex
	isRunning bool
	closing   bool
	listener  net.Listener
	cancel    context.CancelFunc

	shutdownChan chan struct{}
	stopped      chan struct{}
	shutdownErr  error

	workers sync.WaitGroup
	conns   sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithMaxConnections bounds concurrently served connections. Zero means
// unlimited.
func WithMaxConnections(n int) Option {
	return func(s *Server) {
		if n >= 0 {
			s.maxConnections = n
		}
	}
}

// WithShutdownTimeout bounds connection draining on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server feeding adapter from processes workers bound to
// ip:port. A processes value below one is raised to one.
func New(adapter mitm.Adapter, processes, port int, ip string, opts ...Option) *Server {
	if processes < 1 {
		processes = 1
	}
	s := &Server{
		adapter:         adapter,
		processes:       processes,
		addr:            net.JoinHostPort(ip, strconv.Itoa(port)),
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          logging.Discard(),
		shutdownChan:    make(chan struct{}),
		stopped:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens on the configured address and serves until shutdown.
func (s *Server) Start(ctx context.Context) error {
	if s.IsRunning() {
		return ErrAlreadyRunning
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled, a shutdown
// signal arrives, Shutdown is called or accepting fails. ln is closed on
// return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	switch {
	case s.closing:
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	case s.isRunning:
		s.mu.Unlock()
		ln.Close()
		return ErrAlreadyRunning
	}
	s.isRunning = true
	s.listener = ln
	// Connections outlive ctx until the drain period ends.
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	var sem chan struct{}
	if s.maxConnections > 0 {
		sem = make(chan struct{}, s.maxConnections)
	}

	s.logger.Info("starting proxy server",
		"address", ln.Addr().String(),
		"workers", s.processes,
		"max_connections", s.maxConnections,
	)

	errChan := make(chan error, s.processes)
	for i := 0; i < s.processes; i++ {
		s.workers.Add(1)
		go s.acceptLoop(connCtx, i, ln, sem, errChan)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("accept: %w", err)
	case <-s.shutdownChan:
		<-s.stopped
		return nil
	}
}

// acceptLoop is one worker. It stops when the listener is closed.
func (s *Server) acceptLoop(ctx context.Context, id int, ln net.Listener, sem chan struct{}, errChan chan<- error) {
	defer s.workers.Done()
	log := s.logger.With("worker", id)

	var tempDelay time.Duration
	for {
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-s.shutdownChan:
				return
			}
		}
		release := func() {
			if sem != nil {
				<-sem
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			release()
			select {
			case <-s.shutdownChan:
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay = min(2*tempDelay, time.Second)
				}
				log.Warn("accept failed, retrying", "error", err, "delay", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			errChan <- err
			return
		}
		tempDelay = 0

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			defer release()
			defer func() {
				if v := recover(); v != nil {
					_ = conn.Close()
					log.Error("panic serving connection",
						"remote_addr", conn.RemoteAddr().String(),
						"error", v,
						"stack", string(debug.Stack()),
					)
				}
			}()
			if err := s.adapter.ServeConn(ctx, conn); err != nil {
				log.Debug("connection ended with error", "remote_addr", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}

// Shutdown stops accepting, drains open connections for up to the shutdown
// timeout and then closes whatever is left. It is safe to call more than
// once; later calls wait for the first to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.closing {
		s.mu.Unlock()
		<-s.stopped
		return s.shutdownErr
	}
	s.closing = true
	ln, cancel := s.listener, s.cancel
	s.mu.Unlock()

	s.logger.Info("initiating graceful shutdown", "timeout", s.shutdownTimeout.String())

	close(s.shutdownChan)
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("failed to close listener", "error", err)
	}
	s.workers.Wait()

	drained := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(drained)
	}()

	shutdownCtx, stop := context.WithTimeout(ctx, s.shutdownTimeout)
	defer stop()

	var shutdownErr error
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		s.logger.Warn("shutdown timeout exceeded, closing open connections")
		shutdownErr = fmt.Errorf("server shutdown error: %w", shutdownCtx.Err())
		cancel()
		<-drained
	}
	cancel()

	s.mu.Lock()
	s.isRunning = false
	s.shutdownErr = shutdownErr
	s.mu.Unlock()
	close(s.stopped)

	s.logger.Info("proxy server stopped")
	return shutdownErr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the listener address while serving, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil || !s.isRunning {
		return nil
	}
	return s.listener.Addr()
}

// Workers returns the number of accept workers.
func (s *Server) Workers() int {
	return s.processes
}
