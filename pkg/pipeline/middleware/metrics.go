package middleware

import (
	"net/http"
	"time"

	"mitmgate-hq/mitmgate/pkg/pipeline"
	"mitmgate-hq/mitmgate/pkg/telemetry/metrics"
)

// Metrics records request counts and pipeline latency in collector.
func Metrics(collector *metrics.Collector) pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(req *http.Request, next pipeline.Handler) (*http.Response, error) {
		start := time.Now()
		resp, err := next.Handle(req)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if err != nil {
			collector.RecordPipelineError(Classify(err))
		}
		collector.RecordRequest(req.Method, hostOf(req), status, req.TLS != nil, time.Since(start))
		return resp, err
	})
}

func hostOf(req *http.Request) string {
	if req.Host != "" {
		return req.Host
	}
	return req.URL.Host
}
