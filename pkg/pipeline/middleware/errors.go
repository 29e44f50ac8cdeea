package middleware

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"mitmgate-hq/mitmgate/pkg/pipeline"
)

// PanicError is returned by Recovery when a later stage panics.
type PanicError = pipeline.PanicError

// UpstreamError is returned by Forward when the upstream round trip fails.
type UpstreamError struct {
	Host string
	Err  error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Host, e.Err)
}

// Unwrap returns the transport error.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the upstream did not answer in time.
func (e *UpstreamError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// HTTPStatus is the status code the adapter answers with. Timeouts map to
// 504.
func (e *UpstreamError) HTTPStatus() int {
	if e.Timeout() {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

// Classify returns a short label for err, used as a metrics label and in
// logs.
func Classify(err error) string {
	var (
		panicErr    *PanicError
		upstreamErr *UpstreamError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &panicErr):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &upstreamErr):
		if upstreamErr.Timeout() {
			return "timeout"
		}
		return "upstream"
	case errors.Is(err, pipeline.ErrNoResponse):
		return "no_response"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}
