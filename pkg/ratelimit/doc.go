// Package ratelimit bounds how fast and how concurrently each proxy client
// may send requests.
//
// Every client key (normally the client IP) gets its own TokenBucket for the
// sustained rate and its own ConcurrentLimiter for in-flight requests. A
// Limiter owns the per-client state and evicts clients that have been idle
// longer than its TTL.
//
// # Usage
//
//	limiter := ratelimit.New(ratelimit.Config{
//	    RequestsPerSecond: 20,
//	    Burst:             40,
//	    MaxConcurrent:     8,
//	})
//
//	res := limiter.Acquire(clientIP)
//	if !res.Allowed {
//	    // answer 429, retry after res.RetryAfter
//	}
//	defer res.Release()
package ratelimit
