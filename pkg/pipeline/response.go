package pipeline

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// NewResponse builds a complete response to req with the given status and a
// plain text body. Stages that answer locally (blocklists, error mapping)
// use it instead of reaching upstream.
func NewResponse(req *http.Request, status int, body string) *http.Response {
	resp := &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return resp
}

// PanicError carries a panic raised while a request ran through a handler.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in pipeline: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// HTTPStatus is the status code the adapter answers with.
func (e *PanicError) HTTPStatus() int {
	return http.StatusInternalServerError
}
