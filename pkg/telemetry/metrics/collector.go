// Package metrics exposes Prometheus metrics for the proxy.
//
// A Collector owns its own registry. Every recording method is safe on a
// nil or disabled Collector, so callers never need to guard metric calls.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mitmgate-hq/mitmgate/pkg/config"
)

// OtherHost replaces host labels once the cardinality limit is reached.
const OtherHost = "other"

// defaultMaxHosts bounds the number of distinct upstream host labels.
const defaultMaxHosts = 1000

// Collector records proxy metrics.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	requests    *RequestMetrics
	connections *ConnectionMetrics

	hosts *CardinalityLimiter
}

// NewCollector creates a collector registering into registry. A nil
// registry gets a fresh one carrying the Go and process collectors.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = config.DefaultMetricsNamespace
	}

	return &Collector{
		enabled:     cfg.Enabled,
		registry:    registry,
		requests:    NewRequestMetrics(namespace, registry),
		connections: NewConnectionMetrics(namespace, registry),
		hosts:       NewCardinalityLimiter(defaultMaxHosts),
	}
}

func (c *Collector) active() bool {
	return c != nil && c.enabled
}

// RecordRequest records a request that went through the pipeline.
// status is the response status code, or 0 when the pipeline failed.
func (c *Collector) RecordRequest(method, host string, status int, intercepted bool, duration time.Duration) {
	if !c.active() {
		return
	}
	if !c.hosts.Allow(host) {
		host = OtherHost
	}
	c.requests.RecordRequest(method, host, statusLabel(status), intercepted, duration)
}

// RecordPipelineError records a request whose pipeline returned an error.
// kind classifies it ("no_response", "timeout", "upstream", "panic").
func (c *Collector) RecordPipelineError(kind string) {
	if !c.active() {
		return
	}
	c.requests.pipelineErrors.WithLabelValues(kind).Inc()
}

// RecordBlocked records a request rejected by the host filter.
func (c *Collector) RecordBlocked() {
	if !c.active() {
		return
	}
	c.requests.blockedTotal.Inc()
}

// RecordRateLimited records a request rejected by a per-client limit.
func (c *Collector) RecordRateLimited(reason string) {
	if !c.active() {
		return
	}
	c.requests.limitedTotal.WithLabelValues(reason).Inc()
}

// ConnectionOpened records an accepted client connection.
func (c *Collector) ConnectionOpened() {
	if !c.active() {
		return
	}
	c.connections.RecordOpened()
}

// ConnectionClosed records the end of a client connection.
func (c *Collector) ConnectionClosed() {
	if !c.active() {
		return
	}
	c.connections.RecordClosed()
}

// RecordTunnel records a CONNECT tunnel. mode is "intercept" or "splice".
func (c *Collector) RecordTunnel(mode string) {
	if !c.active() {
		return
	}
	c.connections.tunnelsTotal.WithLabelValues(mode).Inc()
}

// RecordHandshakeError records a failed TLS handshake with a client.
func (c *Collector) RecordHandshakeError() {
	if !c.active() {
		return
	}
	c.connections.handshakeErrors.Inc()
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func statusLabel(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status)
}

// CardinalityLimiter caps the number of distinct label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting at most maxCardinality
// distinct values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value may be used as a label. Known values are
// always allowed. New values are admitted until the limit is reached.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	_, exists := cl.current[value]
	cl.mu.RUnlock()
	if exists {
		return true
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the number of admitted values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
