package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"mitmgate-hq/mitmgate/pkg/app"
	"mitmgate-hq/mitmgate/pkg/cli"
	"mitmgate-hq/mitmgate/pkg/config"
	"mitmgate-hq/mitmgate/pkg/journal"
	"mitmgate-hq/mitmgate/pkg/maintenance"
	"mitmgate-hq/mitmgate/pkg/mitm"
	"mitmgate-hq/mitmgate/pkg/pipeline"
	"mitmgate-hq/mitmgate/pkg/pipeline/middleware"
	"mitmgate-hq/mitmgate/pkg/ratelimit"
	"mitmgate-hq/mitmgate/pkg/server"
	"mitmgate-hq/mitmgate/pkg/telemetry/health"
	"mitmgate-hq/mitmgate/pkg/telemetry/logging"
	"mitmgate-hq/mitmgate/pkg/telemetry/metrics"
	"mitmgate-hq/mitmgate/pkg/telemetry/tracing"
	"mitmgate-hq/mitmgate/pkg/workdir"
)

type runFlags struct {
	processes int
	port      int
	ip        string
	logLevel  string
	dryRun    bool
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the proxy",
		Long: `Start the proxy with the specified configuration.

Without mitm.cert_file CONNECT tunnels are relayed unchanged; with it they
are decrypted and their requests run through the pipeline like plain ones.

Examples:
  # Start with default config
  mitmgate run

  # Four workers on port 3128
  mitmgate run --processes 4 --port 3128

  # Validate config without starting the proxy
  mitmgate run --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(cmd, opts, flags)
		},
	}

	cmd.Flags().IntVar(&flags.processes, "processes", 0, "override the number of accept workers")
	cmd.Flags().IntVarP(&flags.port, "port", "p", 0, "override the listening port")
	cmd.Flags().StringVar(&flags.ip, "ip", "", "override the listening address")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "validate config without starting the proxy")
	return cmd
}

// applyRunFlags overlays explicitly set flags on cfg and revalidates it.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, flags *runFlags) error {
	if cmd.Flags().Changed("processes") {
		cfg.Server.Processes = flags.processes
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = flags.port
	}
	if cmd.Flags().Changed("ip") {
		cfg.Server.IP = flags.ip
	}
	if flags.logLevel != "" {
		cfg.Telemetry.Logging.Level = flags.logLevel
	}
	return config.Validate(cfg)
}

func runProxy(cmd *cobra.Command, opts *rootOptions, flags *runFlags) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if err := applyRunFlags(cmd, cfg, flags); err != nil {
		return err
	}
	dirs := resolveDirs(cfg)
	out := cmd.OutOrStdout()

	if flags.dryRun {
		printSummary(out, cfg, dirs)
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging, dirs.Log))
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	tracer, err := tracing.New(cfg.Telemetry.Tracing, tracing.WithVersion(Version))
	if err != nil {
		return cli.NewConfigError("telemetry.tracing", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
	redactor := logging.NewRedactor()
	checker := health.New(2 * time.Second)
	scheduler := maintenance.NewScheduler(logger)

	if err := scheduler.Add(maintenance.TmpSweepJob(dirs, cfg.Maintenance.TmpMaxAge, cfg.Maintenance.TmpSweepSchedule, logger)); err != nil {
		return err
	}

	var store journal.Store
	if cfg.Journal.Enabled {
		store, err = journal.Open(cfg.Journal, dirs.Log, logger)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		defer store.Close()
		if err := scheduler.Add(maintenance.JournalPruneJob(store, cfg.Journal.Retention, cfg.Journal.PruneSchedule, logger)); err != nil {
			return err
		}
		checker.RegisterCheck("journal", func(ctx context.Context) error {
			_, err := store.Count(ctx)
			return err
		})
	}

	var limiter *ratelimit.Limiter
	if rl := cfg.Filter.RateLimit; rl.Enabled() {
		limiter = ratelimit.New(ratelimit.Config{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
			MaxConcurrent:     rl.MaxConcurrent,
			IdleTTL:           rl.IdleTTL,
		})
		if err := scheduler.Add(maintenance.RateLimitEvictJob(limiter, logger)); err != nil {
			return err
		}
	}

	forwarder := middleware.NewForwarder(cfg.Upstream, middleware.WithForwardLogger(logger))
	defer forwarder.CloseIdleConnections()

	var srv atomic.Pointer[server.Server]
	checker.RegisterCheck("supervisor", func(context.Context) error {
		if s := srv.Load(); s == nil || !s.IsRunning() {
			return health.ErrNotRunning
		}
		return nil
	})

	application := app.New(
		app.WithProcesses(cfg.Server.Processes),
		app.WithPort(cfg.Server.Port),
		app.WithIP(cfg.Server.IP),
		app.WithMITMHost(cfg.MITM.Host),
		app.WithLogger(logger),
		app.WithScheduler(scheduler),
		app.WithAdapterOptions(
			mitm.WithMetrics(collector),
			mitm.WithReadTimeout(cfg.Server.ReadTimeout),
			mitm.WithIdleTimeout(cfg.Server.IdleTimeout),
		),
		app.WithSupervisor(func(adapter mitm.Adapter, processes, port int, ip string) app.Supervisor {
			s := server.New(adapter, processes, port, ip,
				server.WithLogger(logger),
				server.WithMaxConnections(cfg.Server.MaxConnections),
				server.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
			)
			srv.Store(s)
			return s
		}),
	)
	application.SetLogDirectory(dirs.Log)
	application.SetTmpDirectory(dirs.Tmp)

	if cfg.MITM.CertFile != "" {
		provider, err := mitm.NewFileContextProvider(cfg.MITM.CertFile, cfg.MITM.KeyFile, mitm.WithProviderLogger(logger))
		if err != nil {
			return cli.NewConfigError("mitm.cert_file", err.Error())
		}
		application.SetContextProvider(provider)
		checker.RegisterCheck("certificate", health.ExpiryCheck(func() time.Time {
			return provider.Certificate().NotAfter
		}))
		go func() {
			if err := provider.Watch(ctx); err != nil {
				logger.Warn("certificate watcher stopped", "error", err)
			}
		}()
	}

	for _, mw := range stages(cfg, logger, redactor, tracer, collector, store, limiter, forwarder) {
		application.Add(mw)
	}

	if cfg.Telemetry.Metrics.Enabled {
		ms := metrics.NewServer(collector, cfg.Telemetry.Metrics.Address, cfg.Telemetry.Metrics.Path, logger)
		checker.Mount(ms)
		ms.Handle(health.VersionPath, health.VersionHandler(Version, GitCommit, BuildDate))
		go func() {
			if err := ms.ListenAndServe(ctx); err != nil {
				logger.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	printSummary(out, cfg, dirs)
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := application.Run(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Proxy stopped")
	return nil
}

// stages assembles the request pipeline in execution order. The journal
// and rate limit stages are present only when store and limiter are
// non-nil.
func stages(
	cfg *config.Config,
	logger *slog.Logger,
	redactor *logging.Redactor,
	tracer *tracing.Tracer,
	collector *metrics.Collector,
	store journal.Store,
	limiter *ratelimit.Limiter,
	forwarder *middleware.Forwarder,
) []pipeline.Middleware {
	mws := []pipeline.Middleware{
		middleware.Recovery(logger),
		middleware.RequestID(),
		pipeline.Chain(
			middleware.Tracing(tracer, redactor),
			middleware.Logging(logger, redactor),
			middleware.Metrics(collector),
		),
	}
	if store != nil {
		mws = append(mws, middleware.Journal(store, redactor, logger))
	}
	if len(cfg.Filter.BlockHosts) > 0 {
		mws = append(mws, middleware.Block(cfg.Filter.BlockHosts, collector))
	}
	if limiter != nil {
		mws = append(mws, middleware.RateLimit(limiter, collector))
	}
	return append(mws,
		middleware.Timeout(cfg.Upstream.Timeout),
		forwarder,
	)
}

func printSummary(w io.Writer, cfg *config.Config, dirs workdir.Dirs) {
	addr := net.JoinHostPort(cfg.Server.IP, strconv.Itoa(cfg.Server.Port))
	fmt.Fprintf(w, "Listen:        %s (%d workers, max %d connections)\n", addr, cfg.Server.Processes, cfg.Server.MaxConnections)
	if cfg.MITM.CertFile != "" {
		host := cfg.MITM.Host
		if host == "" {
			host = "CONNECT host"
		}
		fmt.Fprintf(w, "Interception:  enabled (%s, server name %s)\n", cfg.MITM.CertFile, host)
	} else {
		fmt.Fprintln(w, "Interception:  disabled, tunnels are relayed")
	}
	if cfg.Journal.Enabled {
		fmt.Fprintf(w, "Journal:       %s (%s, retention %s)\n", cfg.Journal.Path, cfg.Journal.Driver, cfg.Journal.Retention)
	}
	if n := len(cfg.Filter.BlockHosts); n > 0 {
		fmt.Fprintf(w, "Blocked hosts: %d\n", n)
	}
	if rl := cfg.Filter.RateLimit; rl.Enabled() {
		fmt.Fprintf(w, "Rate limit:    %g req/s per client, max %d concurrent\n", rl.RequestsPerSecond, rl.MaxConcurrent)
	}
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Fprintf(w, "Metrics:       http://%s%s\n", cfg.Telemetry.Metrics.Address, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintf(w, "Log dir:       %s\n", dirs.Log)
	fmt.Fprintf(w, "Tmp dir:       %s\n", dirs.Tmp)
}
