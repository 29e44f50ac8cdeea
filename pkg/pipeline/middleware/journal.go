package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"mitmgate-hq/mitmgate/pkg/journal"
	"mitmgate-hq/mitmgate/pkg/pipeline"
	"mitmgate-hq/mitmgate/pkg/telemetry/logging"
)

// journalWriteTimeout bounds a single journal write.
const journalWriteTimeout = 2 * time.Second

// Journal records every exchange in store. Headers are redacted before they
// are written. A failed write is logged and never fails the request.
func Journal(store journal.Store, redactor *logging.Redactor, logger *slog.Logger) pipeline.Middleware {
	if redactor == nil {
		redactor = logging.NewRedactor()
	}

	return pipeline.MiddlewareFunc(func(req *http.Request, next pipeline.Handler) (*http.Response, error) {
		start := time.Now()
		resp, err := next.Handle(req)

		ctx := req.Context()
		flow := &journal.Flow{
			ID:             uuid.NewString(),
			ConnID:         logging.GetConnID(ctx),
			RequestID:      logging.GetRequestID(ctx),
			StartedAt:      start.UTC(),
			Duration:       time.Since(start),
			Method:         req.Method,
			URL:            redactor.RedactURL(req.URL.String()),
			Host:           hostOf(req),
			Intercepted:    req.TLS != nil,
			RequestHeaders: redactor.RedactHeaders(req.Header),
		}
		if resp != nil {
			flow.Status = resp.StatusCode
			flow.ResponseHeaders = redactor.RedactHeaders(resp.Header)
		}
		if err != nil {
			flow.Error = err.Error()
		}

		// The request context may already be cancelled; the write must not be.
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalWriteTimeout)
		defer cancel()
		if werr := store.Record(writeCtx, flow); werr != nil {
			logging.FromContext(ctx, logger).WarnContext(ctx, "failed to journal flow", "error", werr)
		}

		return resp, err
	})
}
