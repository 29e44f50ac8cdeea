package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"mitmgate-hq/mitmgate/pkg/pipeline"
	"mitmgate-hq/mitmgate/pkg/telemetry/logging"
)

// RequestIDHeader carries the request ID back to the client.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every request an ID, stored in the request context for
// the later stages. A client-supplied X-Request-ID is reused. The ID is
// echoed on the response.
func RequestID() pipeline.Middleware {
	return pipeline.MiddlewareFunc(func(req *http.Request, next pipeline.Handler) (*http.Response, error) {
		id := req.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		req = req.WithContext(logging.WithRequestID(req.Context(), id))

		resp, err := next.Handle(req)
		if resp != nil {
			if resp.Header == nil {
				resp.Header = make(http.Header)
			}
			resp.Header.Set(RequestIDHeader, id)
		}
		return resp, err
	})
}
