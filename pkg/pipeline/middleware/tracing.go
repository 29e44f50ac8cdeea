package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"mitmgate-hq/mitmgate/pkg/pipeline"
	"mitmgate-hq/mitmgate/pkg/telemetry/logging"
	"mitmgate-hq/mitmgate/pkg/telemetry/tracing"
)

// Tracing starts a span per request, continuing the client's trace when the
// request carries a traceparent header. The span context is placed in the
// request context so Forward propagates it upstream.
func Tracing(tracer *tracing.Tracer, redactor *logging.Redactor) pipeline.Middleware {
	if redactor == nil {
		redactor = logging.NewRedactor()
	}

	return pipeline.MiddlewareFunc(func(req *http.Request, next pipeline.Handler) (*http.Response, error) {
		ctx := tracing.Extract(req.Context(), req.Header)
		ctx, span := tracer.Start(ctx, "proxy "+req.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(tracing.RequestAttributes(req, redactor.RedactURL(req.URL.String()))...),
		)
		defer span.End()

		tracing.SetCorrelation(span, logging.GetRequestID(ctx), logging.GetConnID(ctx))
		if id := tracing.TraceID(ctx); id != "" {
			ctx = logging.WithTraceID(ctx, id)
		}

		resp, err := next.Handle(req.WithContext(ctx))
		tracing.SetResponseAttributes(span, resp)
		tracing.SetStatus(span, err)
		return resp, err
	})
}
