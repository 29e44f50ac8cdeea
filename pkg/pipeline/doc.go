// Package pipeline composes request-processing stages into a single handler.
//
// A Pipeline is an ordered list of Middleware. Build snapshots the list and
// compiles it into a Handler that runs the stages first-added-first-executed:
// stage i receives the request together with a continuation that runs stage
// i+1, and the continuation of the last stage is the terminal Handler passed
// to Build.
//
//	p := pipeline.New()
//	p.Add(middleware.RequestID())
//	p.Add(middleware.Logging(logger))
//	p.Add(middleware.Forward(client))
//	h := p.Build(nil)
//
//	resp, err := h.Handle(req)
//
// # Short-circuiting
//
// A middleware that returns without calling its continuation ends the chain.
// Exactly one stage is expected to produce the response; the pipeline does
// not enforce this. When the chain finishes without a response the compiled
// handler fails with ErrNoResponse, and so does the default terminal.
//
// # Errors
//
// Errors returned by a stage are passed back to the caller unchanged. The
// pipeline never recovers panics or maps errors to responses; that belongs to
// the connection adapter (or an explicit Recovery stage).
//
// # Ordering
//
// Add appends, AddFirst prepends. Mutating the Pipeline after Build has no
// effect on handlers already built.
package pipeline
