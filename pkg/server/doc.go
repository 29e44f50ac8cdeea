// Package server runs the accept workers that feed client connections to
// the connection adapter.
//
// A Server binds one listener on ip:port and starts a fixed number of
// worker goroutines accepting from it. Each accepted connection is served
// by the adapter on its own goroutine, optionally bounded by a maximum
// number of concurrent connections.
//
// # Basic Usage
//
//	adapter, err := mitm.New(handler, provider, logDir, "")
//	if err != nil {
//	    return err
//	}
//	srv := server.New(adapter, 4, 8080, "0.0.0.0",
//	    server.WithMaxConnections(1024),
//	    server.WithShutdownTimeout(30*time.Second),
//	)
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//
// # Graceful Shutdown
//
// Start returns after ctx is cancelled, SIGINT or SIGTERM is received or
// Shutdown is called. The shutdown process:
//  1. Closes the listener and stops the workers
//  2. Waits for open connections to finish (up to the shutdown timeout)
//  3. Cancels the remaining connections' context, which closes them
//
// All methods are safe for concurrent use.
package server
