package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"mitmgate-hq/mitmgate/pkg/pipeline"
	"mitmgate-hq/mitmgate/pkg/telemetry/logging"
)

// Recovery converts a panic in any later stage into a *PanicError. The
// panic is logged with its stack trace; the client only sees a 500.
func Recovery(logger *slog.Logger) pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(req *http.Request, next pipeline.Handler) (resp *http.Response, err error) {
		defer func() {
			if v := recover(); v != nil {
				stack := debug.Stack()
				logging.FromContext(req.Context(), logger).ErrorContext(req.Context(), "panic in pipeline",
					"error", v,
					"method", req.Method,
					"host", req.Host,
					"stack", string(stack),
				)
				resp, err = nil, &PanicError{Value: v, Stack: stack}
			}
		}()
		return next.Handle(req)
	})
}
