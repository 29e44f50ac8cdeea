// mitmgate is an intercepting HTTP proxy. Plain requests and decrypted
// CONNECT tunnels run through a middleware pipeline before being
// forwarded upstream.
//
// Usage:
//
//	# Start the proxy with the default configuration
//	mitmgate run
//
//	# Start with a configuration file and a different port
//	mitmgate run --config /etc/mitmgate/config.yaml --port 3128
//
//	# Check a configuration file
//	mitmgate validate --config config.yaml
//
//	# Show the interception certificate
//	mitmgate certs info
//
//	# List recent failed flows
//	mitmgate journal query --errors --since 1h
package main

import "github.com/tebeka/atexit"

func main() {
	// atexit runs the registered log sink closers before exiting.
	atexit.Exit(Execute())
}
