package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"mitmgate-hq/mitmgate/pkg/pipeline"
)

type result struct {
	resp *http.Response
	err  error
}

// Timeout bounds the time the rest of the pipeline may take to produce a
// response. On expiry the request context is cancelled and an error
// wrapping context.DeadlineExceeded is returned. The deadline keeps covering
// the response body until it is closed.
func Timeout(d time.Duration) pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(req *http.Request, next pipeline.Handler) (*http.Response, error) {
		if d <= 0 {
			return next.Handle(req)
		}

		ctx, cancel := context.WithTimeout(req.Context(), d)
		done := make(chan result, 1)

		go func() {
			// Recovery cannot see panics on this goroutine.
			defer func() {
				if v := recover(); v != nil {
					done <- result{err: &PanicError{Value: v, Stack: debug.Stack()}}
				}
			}()
			resp, err := next.Handle(req.WithContext(ctx))
			done <- result{resp, err}
		}()

		select {
		case r := <-done:
			if r.resp == nil || r.resp.Body == nil {
				cancel()
				return r.resp, r.err
			}
			r.resp.Body = &cancelOnClose{ReadCloser: r.resp.Body, cancel: cancel}
			return r.resp, r.err

		case <-ctx.Done():
			cancel()
			// The abandoned stage still owns its response; release it.
			go func() {
				if r := <-done; r.resp != nil && r.resp.Body != nil {
					r.resp.Body.Close()
				}
			}()
			if err := req.Context().Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("request exceeded %s: %w", d, context.DeadlineExceeded)
		}
	})
}

// cancelOnClose releases the timeout context once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
