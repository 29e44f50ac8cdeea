package ratelimit

import (
	"sync"
	"time"
)

// Rejection reasons reported in Result.Reason.
const (
	ReasonRate        = "rate"
	ReasonConcurrency = "concurrency"
)

// DefaultIdleTTL is used when Config.IdleTTL is zero.
const DefaultIdleTTL = 10 * time.Minute

// Config holds the per-client limits. Zero values disable a limit.
type Config struct {
	// RequestsPerSecond is the sustained rate per client.
	RequestsPerSecond float64

	// Burst is the bucket capacity. Defaults to twice RequestsPerSecond,
	// and at least 1.
	Burst int

	// MaxConcurrent limits simultaneous requests per client.
	MaxConcurrent int

	// IdleTTL is how long an unused client entry survives Evict.
	IdleTTL time.Duration
}

// Result is the outcome of Limiter.Acquire.
type Result struct {
	Allowed bool

	// Reason is ReasonRate or ReasonConcurrency when the request is rejected.
	Reason string

	// RetryAfter suggests how long to wait before retrying a rate
	// rejection.
	RetryAfter time.Duration

	release func()
}

// Release frees the concurrency slot held by an allowed result. It is safe
// to call on rejected results and more than once.
func (r *Result) Release() {
	if r.release != nil {
		r.release()
		r.release = nil
	}
}

type client struct {
	bucket     *TokenBucket
	concurrent *ConcurrentLimiter
	lastSeen   time.Time
}

// Limiter tracks per-client state.
type Limiter struct {
	cfg     Config
	now     func() time.Time
	mu      sync.Mutex
	clients map[string]*client
}

// New creates a limiter.
func New(cfg Config) *Limiter {
	return newLimiter(cfg, time.Now)
}

func newLimiter(cfg Config, now func() time.Time) *Limiter {
	if cfg.Burst <= 0 && cfg.RequestsPerSecond > 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	return &Limiter{
		cfg:     cfg,
		now:     now,
		clients: make(map[string]*client),
	}
}

func (l *Limiter) client(key string) *client {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		c = &client{}
		if l.cfg.RequestsPerSecond > 0 {
			c.bucket = newTokenBucket(int64(l.cfg.Burst), l.cfg.RequestsPerSecond, l.now)
		}
		if l.cfg.MaxConcurrent > 0 {
			c.concurrent = NewConcurrentLimiter(l.cfg.MaxConcurrent)
		}
		l.clients[key] = c
	}
	c.lastSeen = l.now()
	return c
}

// Acquire checks the limits for key. The concurrency slot is taken before
// the rate token so a request turned away for concurrency does not spend
// one.
func (l *Limiter) Acquire(key string) Result {
	c := l.client(key)

	if c.concurrent != nil && !c.concurrent.Acquire() {
		return Result{Reason: ReasonConcurrency}
	}
	if c.bucket != nil && !c.bucket.Take(1) {
		if c.concurrent != nil {
			c.concurrent.Release()
		}
		return Result{Reason: ReasonRate, RetryAfter: c.bucket.TimeUntilAvailable(1)}
	}

	res := Result{Allowed: true}
	if c.concurrent != nil {
		res.release = c.concurrent.Release
	}
	return res
}

// Evict drops clients idle for longer than the TTL with nothing in flight
// and returns how many were removed.
func (l *Limiter) Evict() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.cfg.IdleTTL)
	removed := 0
	for key, c := range l.clients {
		if c.lastSeen.After(cutoff) {
			continue
		}
		if c.concurrent != nil && c.concurrent.Current() > 0 {
			continue
		}
		delete(l.clients, key)
		removed++
	}
	return removed
}

// Clients returns the number of tracked clients.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}
