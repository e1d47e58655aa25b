// Package httplive serves live streams over plain chunked HTTP as FLV, TS,
// AAC, or MP3, picked by the request path's extension. New relative to the
// teacher (alxayo-rtmp-go carries no HTTP egress at all): grounded on
// original_source/srs_app_http_stream.cpp (SrsLiveStream::serve_http_impl/
// do_serve_http) for the serve loop, mw_sleep batching, and async-destroy
// semantics, re-expressed against internal/livesource.Source and
// internal/posthook instead of SRS's consumer/hooks types.
package httplive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/brightwing/streamcore/internal/livesource"
	"github.com/brightwing/streamcore/internal/packet"
	"github.com/brightwing/streamcore/internal/posthook"
)

// Config mirrors the per-vhost get_vhost_http_remux_* / get_gop_cache /
// get_mw_sleep lookups do_serve_http makes against SRS's config object.
// spec.md's Non-goal on "configuration file format" means there is no
// loader here: a caller (the HTTP-API/config layer outside this core)
// assembles one Config per mount.
type Config struct {
	GopCache          bool
	GopCacheMaxFrames int
	MWSleep           time.Duration
	DropIfNotMatch    bool
	HasAudio          bool
	HasVideo          bool
	GuessHasAV        bool

	// ConsumerQueueDepth bounds how many undelivered packets a slow HTTP
	// client may accumulate before TrySend starts dropping for it.
	ConsumerQueueDepth int
}

func (c Config) mwSleep() time.Duration {
	if c.MWSleep <= 0 {
		return 10 * time.Millisecond
	}
	return c.MWSleep
}

func (c Config) queueDepth() int {
	if c.ConsumerQueueDepth <= 0 {
		return 128
	}
	return c.ConsumerQueueDepth
}

// Mux is the subset of internal/httproute.Mux that Handler's async-destroy
// path needs: removing a dynamically-attached pattern once its last viewer
// is gone. Declared locally (rather than importing internal/httproute,
// which depends on net/http routing concerns httplive doesn't need) to
// avoid a needless package coupling.
type Mux interface {
	Unhandle(pattern string)
}

// Handler is the dynamic HTTP-FLV/TS/AAC/MP3 mount point: one Handler
// serves every stream key, dispatching per request based on the URL path,
// mirroring SRS mounting one SrsLiveStream per pattern but collapsing that
// into a single http.Handler plus an internal per-stream-key Entry table
// (Go's net/http has no equivalent to SRS's dynamic mux matcher, so the
// multiplexing happens inside ServeHTTP instead of at the mux layer).
type Handler struct {
	registry *livesource.Registry
	hooks    *posthook.Manager
	cfg      Config
	logger   *slog.Logger
	mux      Mux

	mu      sync.Mutex
	entries map[string]*Entry
}

func NewHandler(registry *livesource.Registry, hooks *posthook.Manager, cfg Config, mux Mux, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		registry: registry,
		hooks:    hooks,
		cfg:      cfg,
		mux:      mux,
		logger:   logger.With("component", "httplive"),
		entries:  make(map[string]*Entry),
	}
	if hooks != nil {
		_ = hooks.RegisterHook(posthook.EventStreamDelete, &destroyHook{h: h})
	}
	return h
}

// Entry is one dynamically-mounted live-stream endpoint: spec.md's
// disposing-state gate plus the set of in-flight viewers Destroy must
// wait out. Grounded on SrsLiveStream's entry_->enabled flag and
// viewers_ list.
type Entry struct {
	Pattern   string
	StreamKey string

	mu        sync.Mutex
	enabled   bool
	disposing bool
	viewers   map[*viewer]struct{}
}

func newEntry(pattern, streamKey string) *Entry {
	return &Entry{Pattern: pattern, StreamKey: streamKey, enabled: true, viewers: make(map[*viewer]struct{})}
}

func (e *Entry) addViewer(v *viewer) {
	e.mu.Lock()
	e.viewers[v] = struct{}{}
	e.mu.Unlock()
}

func (e *Entry) removeViewer(v *viewer) {
	e.mu.Lock()
	delete(e.viewers, v)
	e.mu.Unlock()
}

func (e *Entry) ViewerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.viewers)
}

func (e *Entry) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

func (e *Entry) isDisposing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposing
}

// viewer is one connected player, expirable from Destroy to unblock its
// serve loop without waiting for the client's TCP connection to drop.
// Mirrors SRS's ISrsExpire.
type viewer struct {
	expireCh chan struct{}
	once     sync.Once
}

func newViewer() *viewer { return &viewer{expireCh: make(chan struct{})} }

func (v *viewer) expire() { v.once.Do(func() { close(v.expireCh) }) }

// consumer adapts a viewer's outbound queue to livesource.Consumer:
// TrySend must never block, so a full queue just drops the packet for this
// viewer (spec.md's slow-consumer policy), same as every other Consumer
// in this repo.
type consumer struct {
	ch chan *packet.Packet
}

func newConsumer(depth int) *consumer { return &consumer{ch: make(chan *packet.Packet, depth)} }

func (c *consumer) TrySend(p *packet.Packet) bool {
	select {
	case c.ch <- p:
		return true
	default:
		return false
	}
}

// ServeHTTP implements the dynamic mount: it resolves the stream key and
// container format from the request path, attaches a consumer to (or
// creates) that stream's live source, and runs the mw_sleep-paced batch
// loop until the client disconnects or the stream is torn down. Grounded
// on SrsLiveStream::serve_http_impl + do_serve_http collapsed into one
// function per spec.md §4.7's five-step Serving list.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	streamKey, ext, ok := parseLivePath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	enc, err := newEncoder(ext, h.cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	entry, err := h.attach(streamKey, r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	v := newViewer()
	entry.addViewer(v)
	defer entry.removeViewer(v)

	src, created := h.registry.FetchOrCreate(streamKey)
	if created && h.hooks != nil {
		h.hooks.TriggerEvent(*posthook.NewEvent(posthook.EventStreamCreate).WithStreamKey(streamKey))
	}

	cons := newConsumer(h.cfg.queueDepth())
	src.AddConsumer(cons)
	defer src.RemoveConsumer(cons)

	if h.hooks != nil {
		h.hooks.TriggerEvent(*posthook.NewEvent(posthook.EventPlayStart).WithStreamKey(streamKey))
		defer h.hooks.TriggerEvent(*posthook.NewEvent(posthook.EventPlayStop).WithStreamKey(streamKey))
	}

	w.Header().Set("Content-Type", enc.ContentType())
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	// guess_has_av defers the container header until the first non-empty
	// batch reveals which of audio/video the stream actually carries,
	// rather than trusting static configuration; every other mode (TS's
	// PAT/PMT, or FLV with explicit hasVideo/hasAudio) initializes
	// immediately since there's nothing to learn from a first batch.
	initialized := false
	if !h.cfg.GuessHasAV {
		if err := enc.Initialize(w, h.cfg.HasVideo, h.cfg.HasAudio); err != nil {
			h.logger.Warn("httplive init encoder failed", "stream_key", streamKey, "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		initialized = true
	}

	h.serveLoop(r.Context(), w, flusher, enc, entry, v, cons, initialized)
}

const maxBatch = 64

// serveLoop is do_serve_http's `while (entry_->enabled)` pull/sleep/send
// loop. The teacher's dedicated recv-thread (reading and discarding
// client-sent bytes purely to notice a dropped TCP connection) is replaced
// by r.Context().Done(), which net/http already closes the moment the
// underlying connection goes away — the idiomatic Go equivalent of the
// same disconnect signal, so no extra goroutine is spun up to read bytes
// nobody needs.
func (h *Handler) serveLoop(ctx context.Context, w interface{ Write([]byte) (int, error) }, flusher http.Flusher, enc Encoder, entry *Entry, v *viewer, cons *consumer, initialized bool) {
	mwSleep := h.cfg.mwSleep()
	timer := time.NewTimer(mwSleep)
	defer timer.Stop()

	for {
		if !entry.Enabled() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-v.expireCh:
			return
		default:
		}

		batch := drain(cons.ch, maxBatch)
		if len(batch) == 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(mwSleep)
			select {
			case <-ctx.Done():
				return
			case <-v.expireCh:
				return
			case <-timer.C:
			}
			continue
		}

		if !initialized {
			hasVideo, hasAudio := guessAV(batch)
			if err := enc.Initialize(w, hasVideo, hasAudio); err != nil {
				return
			}
			initialized = true
		}

		if err := enc.WriteTags(w, batch); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func drain(ch chan *packet.Packet, max int) []*packet.Packet {
	var batch []*packet.Packet
	for len(batch) < max {
		select {
		case p := <-ch:
			batch = append(batch, p)
		default:
			return batch
		}
	}
	return batch
}

// attach returns the Entry for streamKey, creating it on first request.
// Refuses to attach to an entry mid-Destroy (spec.md: "A stream in the
// disposing state refuses new attaches").
func (h *Handler) attach(streamKey, pattern string) (*Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[streamKey]; ok {
		if e.isDisposing() {
			return nil, fmt.Errorf("httplive: stream %q is being torn down", streamKey)
		}
		return e, nil
	}
	e := newEntry(pattern, streamKey)
	h.entries[streamKey] = e
	return e, nil
}

// Unmount requests asynchronous teardown of streamKey's entry, mirroring
// spec.md's async-destroy path: the actual work runs on the post-hook
// worker's single-consumer queue, so teardowns of the same entry run one
// at a time. attach runs on the request goroutine, not on that queue; it
// refuses an entry only once destroyEntry has marked it disposing.
func (h *Handler) Unmount(streamKey string) {
	if h.hooks == nil {
		h.destroyEntry(streamKey)
		return
	}
	h.hooks.TriggerEvent(*posthook.NewEvent(posthook.EventStreamDelete).WithStreamKey(streamKey))
}

// destroyEntry disables the entry, expires every connected viewer, waits
// up to 3s for them to drain, then removes the pattern from the mux.
// Grounded on SrsLiveStream's disposing-state teardown.
func (h *Handler) destroyEntry(streamKey string) {
	h.mu.Lock()
	e := h.entries[streamKey]
	h.mu.Unlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	e.disposing = true
	e.enabled = false
	viewers := make([]*viewer, 0, len(e.viewers))
	for vw := range e.viewers {
		viewers = append(viewers, vw)
	}
	e.mu.Unlock()

	for _, vw := range viewers {
		vw.expire()
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && e.ViewerCount() > 0 {
		time.Sleep(20 * time.Millisecond)
	}

	h.mu.Lock()
	delete(h.entries, streamKey)
	h.mu.Unlock()

	if h.mux != nil {
		h.mux.Unhandle(e.Pattern)
	}
	h.logger.Info("httplive entry destroyed", "stream_key", streamKey)
}

// destroyHook runs Handler.destroyEntry on posthook's single-consumer FIFO,
// so teardown for a given stream key can never race a second Unmount call
// for the same key arriving concurrently.
type destroyHook struct{ h *Handler }

func (d *destroyHook) Type() string { return "httplive_destroy" }
func (d *destroyHook) ID() string   { return "httplive.destroy" }

func (d *destroyHook) Execute(_ context.Context, event posthook.Event) error {
	d.h.destroyEntry(event.StreamKey)
	return nil
}

// parseLivePath splits a request path like "/live/teststream.flv" into
// stream key "live/teststream" and extension ".flv". Mirrors
// SrsPath::filepath_base / filepath_filename trimming the extension off
// the last path element.
func parseLivePath(p string) (streamKey, ext string, ok bool) {
	ext = path.Ext(p)
	switch ext {
	case ".flv", ".ts", ".aac", ".mp3":
	default:
		return "", "", false
	}
	trimmed := strings.TrimSuffix(p, ext)
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return "", "", false
	}
	return trimmed, ext, true
}
