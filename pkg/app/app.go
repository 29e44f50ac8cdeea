// Package app bootstraps the proxy: it resolves the effective settings,
// builds the request handler from the middleware pipeline, builds the
// connection adapter around it and hands both to the worker supervisor.
//
//	a := app.New(app.WithPort(3128), app.WithContextProvider(provider))
//	a.Add(middleware.RequestID()).Add(middleware.Forward())
//	if err := a.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// An Application runs at most once. Once Run has been called its settings
// are frozen and setters have no effect.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"mitmgate-hq/mitmgate/pkg/maintenance"
	"mitmgate-hq/mitmgate/pkg/mitm"
	"mitmgate-hq/mitmgate/pkg/pipeline"
	"mitmgate-hq/mitmgate/pkg/server"
	"mitmgate-hq/mitmgate/pkg/telemetry/logging"
	"mitmgate-hq/mitmgate/pkg/workdir"
)

// Defaults applied to unset settings.
const (
	DefaultProcesses = 1
	DefaultPort      = 8080
	DefaultIP        = "0.0.0.0"
)

// ErrAlreadyRunning is returned by Run on an application that has already
// been started.
var ErrAlreadyRunning = errors.New("application is already running")

// State is the lifecycle state of an Application.
type State int32

const (
	// Unstarted applications accept configuration changes.
	Unstarted State = iota
	// Running applications have handed their handler and adapter to the
	// supervisor.
	Running
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Supervisor owns the accept loop. Start blocks until the service stops.
type Supervisor interface {
	Start(ctx context.Context) error
}

// SupervisorFactory builds the supervisor for a resolved configuration.
type SupervisorFactory func(adapter mitm.Adapter, processes, port int, ip string) Supervisor

// Application is the proxy bootstrap.
type Application struct {
	mu sync.Mutex

	pipeline  *pipeline.Pipeline
	processes Setting[int]
	port      Setting[int]
	ip        Setting[string]
	logDir    Setting[string]
	tmpDir    Setting[string]

	adapter  mitm.Adapter
	handler  pipeline.Handler
	provider mitm.ContextProvider
	mitmHost string

	terminal    pipeline.Handler
	adapterOpts []mitm.Option
	serverOpts  []server.Option
	supervisor  SupervisorFactory
	scheduler   *maintenance.Scheduler
	logger      *slog.Logger

	dirs  workdir.Dirs
	state State
}

// Option configures an Application at construction.
type Option func(*Application)

// WithProcesses sets the number of accept workers.
func WithProcesses(n int) Option {
	return func(a *Application) { a.setProcesses(n) }
}

// WithPort sets the listening port.
func WithPort(port int) Option {
	return func(a *Application) { a.setPort(port) }
}

// WithIP sets the listening address.
func WithIP(ip string) Option {
	return func(a *Application) { a.setIP(ip) }
}

// WithConnectionAdapter supplies a ready-made connection adapter. The
// pipeline, context provider and MITM host are then unused.
func WithConnectionAdapter(adapter mitm.Adapter) Option {
	return func(a *Application) { a.adapter = adapter }
}

// WithHandler supplies a ready-made request handler in place of the
// pipeline.
func WithHandler(h pipeline.Handler) Option {
	return func(a *Application) { a.handler = h }
}

// WithContextProvider enables interception of CONNECT tunnels.
func WithContextProvider(cp mitm.ContextProvider) Option {
	return func(a *Application) { a.provider = cp }
}

// WithMITMHost sets the server name used for every intercepted tunnel.
func WithMITMHost(host string) Option {
	return func(a *Application) { a.mitmHost = host }
}

// WithLogger sets the bootstrap logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Application) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTerminal sets the handler invoked when the last middleware calls
// next. Defaults to pipeline.NoResponse.
func WithTerminal(h pipeline.Handler) Option {
	return func(a *Application) { a.terminal = h }
}

// WithAdapterOptions passes options to the default connection adapter.
func WithAdapterOptions(opts ...mitm.Option) Option {
	return func(a *Application) { a.adapterOpts = append(a.adapterOpts, opts...) }
}

// WithServerOptions passes options to the default supervisor.
func WithServerOptions(opts ...server.Option) Option {
	return func(a *Application) { a.serverOpts = append(a.serverOpts, opts...) }
}

// WithSupervisor replaces the default supervisor factory.
func WithSupervisor(f SupervisorFactory) Option {
	return func(a *Application) { a.supervisor = f }
}

// WithScheduler starts s alongside the supervisor and stops it when the
// supervisor returns.
func WithScheduler(s *maintenance.Scheduler) Option {
	return func(a *Application) { a.scheduler = s }
}

// New creates an unstarted Application.
func New(opts ...Option) *Application {
	a := &Application{
		pipeline: pipeline.New(),
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add appends mw to the pipeline. Middlewares run in the order added.
func (a *Application) Add(mw pipeline.Middleware) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Unstarted {
		a.pipeline.Add(mw)
	}
	return a
}

// AddFirst prepends mw to the pipeline.
func (a *Application) AddFirst(mw pipeline.Middleware) *Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Unstarted {
		a.pipeline.AddFirst(mw)
	}
	return a
}

// Run resolves the configuration, builds the handler and adapter when they
// were not supplied, prepares the working directories and starts the
// supervisor. It blocks until the supervisor returns.
func (a *Application) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.state != Unstarted {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}

	processes := a.processes.Or(DefaultProcesses)
	port := a.port.Or(DefaultPort)
	ip := a.ip.Or(DefaultIP)
	dirs := workdir.Dirs{
		Log: a.logDir.Or(LogDirectory()),
		Tmp: a.tmpDir.Or(TmpDirectory()),
	}

	// Results are stored on a only after every fallible step.
	if err := dirs.Ensure(); err != nil {
		a.mu.Unlock()
		return fmt.Errorf("prepare working directories: %w", err)
	}

	handler := a.handler
	if handler == nil {
		terminal := a.terminal
		if terminal == nil {
			terminal = pipeline.NoResponse
		}
		handler = a.pipeline.Build(terminal)
	}

	adapter := a.adapter
	if adapter == nil {
		built, err := mitm.New(handler, a.provider, dirs.Log, a.mitmHost, a.adapterOpts...)
		if err != nil {
			a.mu.Unlock()
			return fmt.Errorf("build connection adapter: %w", err)
		}
		adapter = built
	}

	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			a.mu.Unlock()
			return fmt.Errorf("start maintenance scheduler: %w", err)
		}
		defer a.scheduler.Stop()
	}

	factory := a.supervisor
	if factory == nil {
		factory = a.defaultSupervisor
	}
	sup := factory(adapter, processes, port, ip)

	a.handler = handler
	a.adapter = adapter
	a.dirs = dirs
	a.state = Running
	a.mu.Unlock()

	a.logger.Info("starting proxy",
		"processes", processes,
		"address", ip,
		"port", port,
		"stages", pipeline.Stages(handler),
		"intercepting", a.provider != nil,
		"log_dir", dirs.Log,
		"tmp_dir", dirs.Tmp,
	)

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	return nil
}

func (a *Application) defaultSupervisor(adapter mitm.Adapter, processes, port int, ip string) Supervisor {
	opts := append([]server.Option{server.WithLogger(a.logger)}, a.serverOpts...)
	return server.New(adapter, processes, port, ip, opts...)
}

// SetProcesses sets the worker count. Non-positive values are ignored.
func (a *Application) SetProcesses(n int) { a.locked(func() { a.setProcesses(n) }) }

// SetPort sets the listening port. Non-positive values are ignored.
func (a *Application) SetPort(port int) { a.locked(func() { a.setPort(port) }) }

// SetIP sets the listening address. The empty string is ignored.
func (a *Application) SetIP(ip string) { a.locked(func() { a.setIP(ip) }) }

// SetLogDirectory sets the log directory. An empty path selects the default.
func (a *Application) SetLogDirectory(path string) { a.locked(func() { a.logDir.Set(path) }) }

// SetTmpDirectory sets the temporary directory. An empty path selects the
// default.
func (a *Application) SetTmpDirectory(path string) { a.locked(func() { a.tmpDir.Set(path) }) }

// SetConnectionAdapter replaces the connection adapter.
func (a *Application) SetConnectionAdapter(adapter mitm.Adapter) {
	a.locked(func() { a.adapter = adapter })
}

// SetHandler replaces the request handler.
func (a *Application) SetHandler(h pipeline.Handler) { a.locked(func() { a.handler = h }) }

// SetContextProvider replaces the TLS context provider.
func (a *Application) SetContextProvider(cp mitm.ContextProvider) {
	a.locked(func() { a.provider = cp })
}

// SetMITMHost replaces the MITM host override.
func (a *Application) SetMITMHost(host string) { a.locked(func() { a.mitmHost = host }) }

func (a *Application) setProcesses(n int) {
	if n > 0 {
		a.processes.Set(n)
	}
}

func (a *Application) setPort(port int) {
	if port > 0 {
		a.port.Set(port)
	}
}

func (a *Application) setIP(ip string) {
	if ip != "" {
		a.ip.Set(ip)
	}
}

// locked runs fn under the lock unless the application is running.
func (a *Application) locked(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Unstarted {
		fn()
	}
}

// Processes returns the effective worker count.
func (a *Application) Processes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.processes.Or(DefaultProcesses)
}

// Port returns the effective port.
func (a *Application) Port() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.port.Or(DefaultPort)
}

// IP returns the effective listening address.
func (a *Application) IP() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ip.Or(DefaultIP)
}

// LogDir returns the effective log directory.
func (a *Application) LogDir() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logDir.Or(LogDirectory())
}

// TmpDir returns the effective temporary directory.
func (a *Application) TmpDir() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tmpDir.Or(TmpDirectory())
}

// ConnectionAdapter returns the supplied or built adapter, or nil before
// Run when none was supplied.
func (a *Application) ConnectionAdapter() mitm.Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adapter
}

// Handler returns the supplied or built handler, or nil before Run when
// none was supplied.
func (a *Application) Handler() pipeline.Handler {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handler
}

// ContextProvider returns the TLS context provider, if any.
func (a *Application) ContextProvider() mitm.ContextProvider {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.provider
}

// MITMHost returns the MITM host override.
func (a *Application) MITMHost() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mitmHost
}

// Middlewares returns a copy of the pipeline's middlewares in run order.
func (a *Application) Middlewares() []pipeline.Middleware {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pipeline.Middlewares()
}

// Dirs returns the working directories resolved by Run.
func (a *Application) Dirs() workdir.Dirs {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirs
}

// State returns the lifecycle state.
func (a *Application) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
