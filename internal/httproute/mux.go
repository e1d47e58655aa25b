// Package httproute implements the HTTP entry point shared by the API,
// HTTP-FLV/TS egress, and WHIP signaling surfaces: a longest-prefix,
// vhost-aware mux plus CORS and Basic-Auth middleware. New relative to the
// teacher (alxayo-rtmp-go has no HTTP surface at all), grounded on
// original_source/srs_protocol_http_stack.cpp's SrsHttpServeMux/
// SrsHttpCorsMux/SrsHttpAuthMux, re-expressed over net/http.Handler instead
// of SRS's ISrsHttpHandler so every handler in this repo (internal/httplive,
// internal/webrtcingest's WHIP gateway) composes with it directly.
package httproute

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Mux is a longest-prefix-match HTTP router with optional vhost scoping,
// mirroring SrsHttpServeMux.match/path_match: a pattern ending in "/"
// matches any path under it, a pattern without a trailing "/" matches
// exactly, and when several registered patterns match a path the longest
// wins. A host-qualified pattern ("vhost/path") takes precedence over an
// unqualified one for requests to that host, same as SRS's vhosts_ map.
//
// Unlike http.ServeMux, Unhandle lets a dynamically-mounted pattern (e.g.
// one internal/httplive.Handler.destroyEntry removes) be withdrawn at
// runtime — net/http's own ServeMux has no such method.
type Mux struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	dynamic  []DynamicMatcher
}

type entry struct {
	pattern string
	handler http.Handler
}

// DynamicMatcher lets a caller register paths it can serve that aren't
// known ahead of time (internal/httplive's per-stream-key mounts), tried
// after static pattern matching fails to find a handler. Mirrors SRS's
// ISrsHttpDynamicMatcher/add_dynamic_matcher.
type DynamicMatcher interface {
	// Match returns a handler for r, or nil if this matcher doesn't own
	// the path.
	Match(r *http.Request) http.Handler
}

func NewMux() *Mux {
	return &Mux{entries: make(map[string]*entry)}
}

// Handle registers handler for pattern. A pattern may be vhost-qualified
// ("live.example.com/api/") or host-agnostic ("/api/"); vhost-qualified
// patterns only match requests whose Host header equals the vhost prefix.
func (m *Mux) Handle(pattern string, handler http.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[pattern] = &entry{pattern: pattern, handler: handler}
}

func (m *Mux) HandleFunc(pattern string, handler http.HandlerFunc) {
	m.Handle(pattern, handler)
}

// Unhandle removes pattern, a no-op if it was never registered. Used by
// internal/httplive.Handler to retire a dynamic mount once its Entry is
// destroyed (the Mux interface that package depends on).
func (m *Mux) Unhandle(pattern string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, pattern)
}

// AddDynamicMatcher registers a fallback matcher, tried in registration
// order after static patterns fail to match.
func (m *Mux) AddDynamicMatcher(d DynamicMatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dynamic = append(m.dynamic, d)
}

func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.URL.Path, "..") {
		http.Error(w, "url not canonical", http.StatusBadRequest)
		return
	}

	if h := m.match(r); h != nil {
		h.ServeHTTP(w, r)
		return
	}

	m.mu.RLock()
	dynamic := make([]DynamicMatcher, len(m.dynamic))
	copy(dynamic, m.dynamic)
	m.mu.RUnlock()
	for _, d := range dynamic {
		if h := d.Match(r); h != nil {
			h.ServeHTTP(w, r)
			return
		}
	}

	http.NotFound(w, r)
}

// match finds the longest registered pattern matching r, preferring a
// vhost-qualified pattern over an unqualified one for the same path.
// Grounded on SrsHttpServeMux::match: try "host+path" lookups against
// patterns first (by checking each candidate against the host-prefixed
// path), falling back to bare-path matching.
func (m *Mux) match(r *http.Request) http.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()

	host := hostOnly(r.Host)
	hostPath := host + r.URL.Path

	candidates := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return len(candidates[i].pattern) > len(candidates[j].pattern)
	})

	for _, c := range candidates {
		if pathMatch(c.pattern, hostPath) {
			return c.handler
		}
	}
	for _, c := range candidates {
		if pathMatch(c.pattern, r.URL.Path) {
			return c.handler
		}
	}
	return nil
}

func hostOnly(hostHeader string) string {
	if i := strings.IndexByte(hostHeader, ':'); i >= 0 {
		return hostHeader[:i]
	}
	return hostHeader
}

// pathMatch mirrors SrsHttpServeMux::path_match: a pattern not ending in
// "/" must match path exactly; a pattern ending in "/" matches any path
// with that prefix.
func pathMatch(pattern, path string) bool {
	if pattern == "" {
		return false
	}
	if pattern[len(pattern)-1] != '/' {
		return pattern == path
	}
	return strings.HasPrefix(path, pattern)
}
