// Package middleware provides the stock pipeline stages.
//
// Stages are ordinary pipeline.Middleware values. The recommended order is:
//
//	Recovery, RequestID, Tracing, Logging, Metrics, Journal, Block, Timeout, Forward
//
// Recovery comes first so it also covers panics in the other stages.
// Forward comes last: it sends the request upstream and returns the upstream
// response without calling next.
//
// # Errors
//
// Stages return errors instead of writing error responses. The connection
// adapter maps them to HTTP status codes:
//   - *PanicError: 500
//   - *UpstreamError: 502, or 504 when the upstream timed out
//   - context.DeadlineExceeded: 504
//   - pipeline.ErrNoResponse: 502
//
// Classify turns an error into a short label for metrics and journal rows.
package middleware
