package middleware

import (
	"net"
	"net/http"
	"strings"

	"mitmgate-hq/mitmgate/pkg/pipeline"
	"mitmgate-hq/mitmgate/pkg/telemetry/metrics"
)

// HostMatcher matches request hosts against a blocklist. An entry is either
// an exact host ("ads.example.com") or a domain suffix starting with a dot
// or "*." (".example.com", "*.example.com"), which matches the domain and
// all of its subdomains.
type HostMatcher struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewHostMatcher builds a matcher from entries. Matching is case-insensitive.
func NewHostMatcher(entries []string) *HostMatcher {
	m := &HostMatcher{exact: make(map[string]struct{})}
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		switch {
		case e == "":
		case strings.HasPrefix(e, "*."):
			m.suffixes = append(m.suffixes, e[1:])
		case strings.HasPrefix(e, "."):
			m.suffixes = append(m.suffixes, e)
		default:
			m.exact[e] = struct{}{}
		}
	}
	return m
}

// Match reports whether host (optionally with a port) is blocked.
func (m *HostMatcher) Match(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	if _, ok := m.exact[host]; ok {
		return true
	}
	for _, s := range m.suffixes {
		if host == s[1:] || strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (m *HostMatcher) Len() int {
	return len(m.exact) + len(m.suffixes)
}

// Block answers requests to blocked hosts with 403 Forbidden without
// running the rest of the pipeline.
func Block(hosts []string, collector *metrics.Collector) pipeline.Middleware {
	matcher := NewHostMatcher(hosts)

	return pipeline.MiddlewareFunc(func(req *http.Request, next pipeline.Handler) (*http.Response, error) {
		host := req.Host
		if host == "" {
			host = req.URL.Host
		}
		if matcher.Len() > 0 && matcher.Match(host) {
			collector.RecordBlocked()
			return pipeline.NewResponse(req, http.StatusForbidden, "blocked by proxy policy\n"), nil
		}
		return next.Handle(req)
	})
}
