package server

// Edge pull wiring
// ----------------
// Binds internal/edge.Ingester (built but previously only exercised by its
// own package tests) to a play-miss on this server: spec.md §4.5/§4.6's
// edge mode means a play request for a stream this node doesn't have
// published locally should pull it from a configured set of origin
// servers rather than fail outright. Grounded on
// original_source/srs_app_edge.cpp's "ingester starts the first time a
// consumer asks for a stream the edge doesn't have" trigger.

import (
	"context"
	"log/slog"
	"sync"

	"github.com/brightwing/streamcore/internal/edge"
	"github.com/brightwing/streamcore/internal/livesource"
)

// edgeManager starts at most one Ingester per stream key, tearing it down
// when the pulled source goes idle. A server with no configured origins
// has a non-nil edgeManager whose EnsureIngester is always a no-op, so
// callers don't need a nil check.
type edgeManager struct {
	origins  []string
	protocol edge.Protocol
	registry *livesource.Registry
	log      *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// newEdgeManager builds an edgeManager that pulls every stream over
// upstreamProtocol, the vhost's configured default (spec.md §4.5 step 2;
// see edge.Protocol's doc comment for why "follow-client"/"via-redirect"
// selection isn't implemented).
func newEdgeManager(origins []string, upstreamProtocol edge.Protocol, registry *livesource.Registry, log *slog.Logger) *edgeManager {
	return &edgeManager{
		origins:  origins,
		protocol: upstreamProtocol,
		registry: registry,
		log:      log.With("component", "edge_pull"),
		active:   make(map[string]context.CancelFunc),
	}
}

// EnsureIngester starts pulling streamKey from the configured origin
// rotation if it isn't already being pulled. Safe to call on every play
// request; idempotent for an already-running or already-locally-published
// stream.
func (e *edgeManager) EnsureIngester(streamKey string) {
	if e == nil || len(e.origins) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[streamKey]; ok {
		return
	}

	source, _ := e.registry.FetchOrCreate(streamKey)
	if source.IsPublishing() {
		// Already has a local publisher (RTMP/WHIP/GB28181); edge pull
		// would just duplicate it onto the same Source.
		return
	}
	source.OnPublish()

	ctx, cancel := context.WithCancel(context.Background())
	e.active[streamKey] = cancel

	factory := edge.NewRTMPUpstreamFactory()
	if e.protocol == edge.ProtocolHTTPFLV {
		factory = edge.NewHTTPFLVUpstreamFactory()
	}
	ingester := edge.NewIngester(streamKey, e.origins, e.protocol, factory, source.Publish, e.log)
	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.active, streamKey)
			e.mu.Unlock()
			source.OnUnpublish()
		}()
		_ = ingester.Run(ctx)
	}()
}

// Stop cancels every running ingester. Called from Server.Stop.
func (e *edgeManager) Stop() {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cancel := range e.active {
		cancel()
	}
}
