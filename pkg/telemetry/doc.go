// Package telemetry groups the observability packages of mitmgate.
//
// # Components
//
//   - logging: slog loggers with rotated file output and credential redaction
//   - metrics: Prometheus collector for requests, connections and tunnels
//   - tracing: OpenTelemetry spans per request, propagated upstream
//   - health: liveness and readiness checks served next to /metrics
//
// # Usage
//
//	logger, _ := logging.New(logging.FromConfig(cfg.Telemetry.Logging, dirs.Log))
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
//	tracer, _ := tracing.New(cfg.Telemetry.Tracing)
//	defer tracer.Shutdown(ctx)
//
//	checker := health.New(2 * time.Second)
//	ms := metrics.NewServer(collector, cfg.Telemetry.Metrics.Address, cfg.Telemetry.Metrics.Path, logger)
//	checker.Mount(ms)
//
// # Redaction
//
// Request headers and URLs pass through logging.Redactor before they reach
// logs, spans or the flow journal. Authorization, cookie and proxy
// credential headers are masked, and so is URL userinfo.
package telemetry
