package pipeline

import (
	"errors"
	"net/http"
	"sync"
)

// ErrNoResponse is returned when a request runs through the whole chain and
// no stage produced a response.
var ErrNoResponse = errors.New("pipeline: no response produced")

// Handler processes a request and produces a response.
type Handler interface {
	Handle(req *http.Request) (*http.Response, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(req *http.Request) (*http.Response, error)

// Handle calls f(req).
func (f HandlerFunc) Handle(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Middleware is one stage of request processing. next runs the remainder of
// the pipeline; not calling it short-circuits every later stage.
type Middleware interface {
	Process(req *http.Request, next Handler) (*http.Response, error)
}

// MiddlewareFunc adapts an ordinary function to the Middleware interface.
type MiddlewareFunc func(req *http.Request, next Handler) (*http.Response, error)

// Process calls f(req, next).
func (f MiddlewareFunc) Process(req *http.Request, next Handler) (*http.Response, error) {
	return f(req, next)
}

// NoResponse is the default terminal handler. It always fails with
// ErrNoResponse.
var NoResponse Handler = HandlerFunc(func(*http.Request) (*http.Response, error) {
	return nil, ErrNoResponse
})

// Pipeline is an ordered, growable list of middlewares. It is safe for
// concurrent use, though it is normally assembled once at startup.
type Pipeline struct {
	mu          sync.RWMutex
	middlewares []Middleware
}

// New creates a pipeline holding mws in the given order.
func New(mws ...Middleware) *Pipeline {
	p := &Pipeline{}
	for _, mw := range mws {
		p.Add(mw)
	}
	return p
}

// Add appends mw to the end of the pipeline.
func (p *Pipeline) Add(mw Middleware) *Pipeline {
	p.mu.Lock()
	p.middlewares = append(p.middlewares, mw)
	p.mu.Unlock()
	return p
}

// AddFirst makes mw the first stage of the pipeline.
func (p *Pipeline) AddFirst(mw Middleware) *Pipeline {
	p.mu.Lock()
	mws := make([]Middleware, 0, len(p.middlewares)+1)
	mws = append(mws, mw)
	p.middlewares = append(mws, p.middlewares...)
	p.mu.Unlock()
	return p
}

// Middlewares returns a copy of the current stage list.
func (p *Pipeline) Middlewares() []Middleware {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Middleware, len(p.middlewares))
	copy(out, p.middlewares)
	return out
}

// Len returns the number of stages.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.middlewares)
}

// Build compiles the current stage list into a Handler. terminal runs when
// the last stage calls its continuation; nil selects NoResponse.
func (p *Pipeline) Build(terminal Handler) Handler {
	return Compose(terminal, p.Middlewares()...)
}

// Compose compiles mws into a Handler without an intermediate Pipeline.
// The slice is copied, so later changes to it are not observed.
func Compose(terminal Handler, mws ...Middleware) Handler {
	if terminal == nil {
		terminal = NoResponse
	}
	stages := make([]Middleware, len(mws))
	copy(stages, mws)

	// Link from the tail so every stage holds its continuation directly.
	var next Handler = terminal
	for i := len(stages) - 1; i >= 0; i-- {
		next = &stage{mw: stages[i], next: next}
	}
	return &compiled{entry: next, size: len(stages)}
}

// Chain groups mws into a single Middleware that runs them in order and then
// continues with the outer pipeline.
func Chain(mws ...Middleware) Middleware {
	stages := make([]Middleware, len(mws))
	copy(stages, mws)
	return MiddlewareFunc(func(req *http.Request, next Handler) (*http.Response, error) {
		var h Handler = next
		for i := len(stages) - 1; i >= 0; i-- {
			h = &stage{mw: stages[i], next: h}
		}
		return h.Handle(req)
	})
}

// stage binds one middleware to the continuation that follows it.
type stage struct {
	mw   Middleware
	next Handler
}

func (s *stage) Handle(req *http.Request) (*http.Response, error) {
	return s.mw.Process(req, s.next)
}

// compiled is the entry point returned by Build.
type compiled struct {
	entry Handler
	size  int
}

func (c *compiled) Handle(req *http.Request) (*http.Response, error) {
	resp, err := c.entry.Handle(req)
	if err != nil {
		return resp, err
	}
	if resp == nil {
		return nil, ErrNoResponse
	}
	return resp, nil
}

// Stages reports how many middlewares h was compiled from, or -1 when h was
// not produced by Build or Compose.
func Stages(h Handler) int {
	if c, ok := h.(*compiled); ok {
		return c.size
	}
	return -1
}
