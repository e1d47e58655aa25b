// Package edge implements the edge-node pull/push half of spec.md §4.5: an
// Ingester that pulls a stream from an upstream origin into a local
// LiveSource, and a Forwarder that pushes a local LiveSource's packets out
// to one or more downstream RTMP destinations. Grounded on
// original_source/srs_app_edge.cpp (SrsEdgeIngester, SrsEdgeRtmpUpstream,
// SrsLbRoundRobin) and the teacher's internal/rtmp/relay
// (Destination/DestinationManager), which already implements the push half
// in spec.md's shape.
package edge

import "sync"

// RoundRobin selects the next origin server from a fixed list, cycling back
// to the start once exhausted. Grounded 1:1 on SrsLbRoundRobin::select,
// which keeps a single cursor shared across calls so repeated selection
// visits every origin in turn rather than always picking index 0.
type RoundRobin struct {
	mu      sync.Mutex
	servers []string
	cursor  int
}

func NewRoundRobin(servers []string) *RoundRobin {
	return &RoundRobin{servers: servers}
}

// Select returns the next server in rotation. Empty string if no servers
// are configured.
func (r *RoundRobin) Select() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.servers) == 0 {
		return ""
	}
	s := r.servers[r.cursor%len(r.servers)]
	r.cursor++
	return s
}

// Servers returns a snapshot of the configured origin list.
func (r *RoundRobin) Servers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.servers))
	copy(out, r.servers)
	return out
}
