package logging

import (
	"net/http"
	"regexp"
	"strings"
)

// Redacted replaces the value of a sensitive header.
const Redacted = "[REDACTED]"

// Redactor masks credentials in header values before they reach logs or the
// journal.
type Redactor struct {
	headers  map[string]struct{}
	patterns []*redactPattern
}

// redactPattern contains a compiled regex and replacement string.
type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// defaultSensitiveHeaders are always masked entirely.
var defaultSensitiveHeaders = []string{
	"Authorization",
	"Proxy-Authorization",
	"Cookie",
	"Set-Cookie",
	"X-Api-Key",
	"X-Auth-Token",
}

// NewRedactor creates a Redactor masking the default sensitive headers plus
// extra.
func NewRedactor(extra ...string) *Redactor {
	r := &Redactor{headers: make(map[string]struct{})}
	for _, h := range defaultSensitiveHeaders {
		r.headers[http.CanonicalHeaderKey(h)] = struct{}{}
	}
	for _, h := range extra {
		r.headers[http.CanonicalHeaderKey(h)] = struct{}{}
	}

	r.patterns = []*redactPattern{
		{regex: regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`), replacement: "Bearer ***"},
		{regex: regexp.MustCompile(`(?i)(password|passwd|pwd|token|api[-_]?key)=[^&\s]+`), replacement: "$1=***"},
	}
	return r
}

// RedactHeaders returns a copy of h with sensitive values masked.
func (r *Redactor) RedactHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for key, values := range h {
		if _, ok := r.headers[http.CanonicalHeaderKey(key)]; ok {
			out[key] = []string{Redacted}
			continue
		}
		masked := make([]string, len(values))
		for i, v := range values {
			masked[i] = r.RedactString(v)
		}
		out[key] = masked
	}
	return out
}

// RedactString masks bearer tokens and credential-like query parameters in s.
func (r *Redactor) RedactString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// RedactURL masks credential-like query parameters and userinfo in a URL
// string.
func (r *Redactor) RedactURL(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		rest := raw[i+3:]
		end := strings.IndexAny(rest, "/?#")
		if end < 0 {
			end = len(rest)
		}
		if at := strings.LastIndex(rest[:end], "@"); at >= 0 {
			raw = raw[:i+3] + "***" + rest[at:]
		}
	}
	return r.RedactString(raw)
}
