package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"mitmgate-hq/mitmgate/pkg/pipeline"
	"mitmgate-hq/mitmgate/pkg/ratelimit"
	"mitmgate-hq/mitmgate/pkg/telemetry/metrics"
)

// RateLimit answers 429 Too Many Requests to clients over their limits.
// Clients are keyed by the IP of req.RemoteAddr. The concurrency slot is
// held until the response body is closed.
func RateLimit(limiter *ratelimit.Limiter, collector *metrics.Collector) pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(req *http.Request, next pipeline.Handler) (*http.Response, error) {
		res := limiter.Acquire(clientKey(req))
		if !res.Allowed {
			collector.RecordRateLimited(res.Reason)
			resp := pipeline.NewResponse(req, http.StatusTooManyRequests, "too many requests\n")
			if res.RetryAfter > 0 {
				resp.Header.Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			}
			return resp, nil
		}

		resp, err := next.Handle(req)
		if resp == nil || resp.Body == nil {
			res.Release()
			return resp, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: res.Release}
		return resp, err
	})
}

func clientKey(req *http.Request) string {
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		return host
	}
	return req.RemoteAddr
}
