package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"mitmgate-hq/mitmgate/pkg/pipeline"
	"mitmgate-hq/mitmgate/pkg/telemetry/logging"
)

// Logging logs each request when it completes, with status, latency and the
// correlation fields from the context. Sensitive headers are masked by
// redactor before they are logged at debug level.
func Logging(logger *slog.Logger, redactor *logging.Redactor) pipeline.Middleware {
	if redactor == nil {
		redactor = logging.NewRedactor()
	}

	return pipeline.MiddlewareFunc(func(req *http.Request, next pipeline.Handler) (*http.Response, error) {
		ctx := req.Context()
		log := logging.FromContext(ctx, logger)
		start := time.Now()
		url := redactor.RedactURL(req.URL.String())

		log.DebugContext(ctx, "request started",
			"method", req.Method,
			"url", url,
			"remote_addr", req.RemoteAddr,
			"headers", redactor.RedactHeaders(req.Header),
		)

		resp, err := next.Handle(req)
		latency := time.Since(start)

		if err != nil {
			log.ErrorContext(ctx, "request failed",
				"method", req.Method,
				"url", url,
				"latency_ms", latency.Milliseconds(),
				"kind", Classify(err),
				"error", err,
			)
			return resp, err
		}

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		log.Log(ctx, level, "request completed",
			"method", req.Method,
			"url", url,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"intercepted", req.TLS != nil,
		)
		return resp, nil
	})
}
