// Package livesource holds the registry of active live streams: one
// Source per stream key, fanning out published packets to its consumers
// with a GOP cache for fast-start playback. Generalized from the teacher's
// internal/rtmp/server/registry.go (Stream/Registry/BroadcastMessage),
// retyped onto internal/packet.Packet so it is transport-agnostic (an RTMP
// publisher and a WebRTC or GB28181 publisher share the same Source).
package livesource

import (
	"sync"
	"time"

	"github.com/brightwing/streamcore/internal/packet"
)

// deathGrace is how long a Source with no active publisher is kept alive
// before Registry.Sweep reclaims it — enough slack for a publisher to
// reconnect (a brief network blip) without subscribers seeing the stream
// disappear. Grounded on the teacher's registry holding streams until
// explicit DeleteStream; the grace period itself is new, spec-mandated
// behavior (spec.md §4.4 stream_is_dead).
const deathGrace = 3 * time.Second

// Consumer is anything that can receive packets published to a Source.
// TrySend must not block; a consumer backed by a slow network connection
// is expected to buffer internally and report false (the caller drops the
// packet for that consumer rather than stalling every other consumer).
type Consumer interface {
	TrySend(p *packet.Packet) bool
}

// Source is one live stream: the current publisher's sequence headers,
// a GOP cache running from the last keyframe, and the set of subscribed
// consumers.
type Source struct {
	Key string

	mu            sync.RWMutex
	consumers     map[Consumer]struct{}
	publishing    bool
	unpublishedAt time.Time
	lastPacketAt  time.Time
	packetCount   uint64

	videoSeqHeader *packet.Packet
	audioSeqHeader *packet.Packet
	gop            []*packet.Packet

	createdAt time.Time
}

func newSource(key string) *Source {
	return &Source{
		Key:       key,
		consumers: make(map[Consumer]struct{}),
		createdAt: time.Now(),
	}
}

// OnPublish marks the source as actively publishing, clearing any pending
// death-by-timeout from a previous publisher's departure.
func (s *Source) OnPublish() {
	s.mu.Lock()
	s.publishing = true
	s.unpublishedAt = time.Time{}
	s.lastPacketAt = time.Now()
	s.packetCount = 0
	s.mu.Unlock()
}

// OnUnpublish marks the publisher gone and starts the death-grace clock.
// The GOP cache and sequence headers are dropped immediately: a
// reconnecting publisher starts a fresh GOP, and serving a stale one to a
// new subscriber in the gap would show the wrong codec config if the
// publisher reconnects with different settings.
func (s *Source) OnUnpublish() {
	s.mu.Lock()
	s.publishing = false
	s.unpublishedAt = time.Now()
	s.gop = nil
	s.videoSeqHeader = nil
	s.audioSeqHeader = nil
	s.mu.Unlock()
}

// IsDead reports whether the source has had no publisher for at least
// deathGrace. A source that was never published to (publishing is false
// and unpublishedAt is zero) is not dead — it's simply waiting for its
// first publisher, e.g. an edge-pulled stream not yet connected upstream.
func (s *Source) IsDead(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.publishing || s.unpublishedAt.IsZero() {
		return false
	}
	return now.Sub(s.unpublishedAt) >= deathGrace
}

// Publish fans a packet out to every current consumer and updates the GOP
// cache / sequence-header cache used to fast-start new subscribers.
// Mirrors the teacher's BroadcastMessage: snapshot subscribers under a read
// lock, then send outside the lock so a slow consumer can't stall cache
// maintenance or other consumers' dispatch.
func (s *Source) Publish(p *packet.Packet) {
	if p == nil {
		return
	}

	s.mu.Lock()
	s.lastPacketAt = time.Now()
	s.packetCount++
	if p.SequenceHeader {
		switch p.Kind {
		case packet.KindVideo:
			s.videoSeqHeader = p
		case packet.KindAudio:
			s.audioSeqHeader = p
		}
	} else if p.Kind == packet.KindVideo && p.Keyframe {
		s.gop = []*packet.Packet{p}
	} else if len(s.gop) > 0 || p.Kind != packet.KindVideo {
		// Video only accumulates once a keyframe has started the cache;
		// non-video packets (audio) always append, so for a stream with no
		// video the cache keeps growing until a video keyframe resets it.
		s.gop = append(s.gop, p)
	}

	consumers := make([]Consumer, 0, len(s.consumers))
	for c := range s.consumers {
		consumers = append(consumers, c)
	}
	s.mu.Unlock()

	for _, c := range consumers {
		c.TrySend(p.Clone())
	}
}

// AddConsumer registers a consumer and immediately dumps the cached
// sequence headers and GOP so it can start rendering without waiting for
// the next keyframe (spec.md's fast-start requirement for new subscribers).
func (s *Source) AddConsumer(c Consumer) {
	if c == nil {
		return
	}
	s.mu.Lock()
	s.consumers[c] = struct{}{}
	var dump []*packet.Packet
	if s.videoSeqHeader != nil {
		dump = append(dump, s.videoSeqHeader)
	}
	if s.audioSeqHeader != nil {
		dump = append(dump, s.audioSeqHeader)
	}
	dump = append(dump, s.gop...)
	s.mu.Unlock()

	for _, p := range dump {
		c.TrySend(p.Clone())
	}
}

// RemoveConsumer unregisters a consumer; a no-op if it was never added.
func (s *Source) RemoveConsumer(c Consumer) {
	s.mu.Lock()
	delete(s.consumers, c)
	s.mu.Unlock()
}

// ConsumerCount returns a snapshot count, used by HTTP status endpoints
// and the death-sweep to decide whether a source has viewers.
func (s *Source) ConsumerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.consumers)
}

// IsPublishing reports whether a publisher currently holds this source.
func (s *Source) IsPublishing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publishing
}

// PublisherIdleFor reports how long it has been since the current
// publisher's last packet (its publish-start counts as a packet boundary,
// so a publisher that connects but never sends data is "idle" from the
// moment it was accepted). Used by the idle-kickoff watchdog to apply
// spec.md §4.6's publish_1stpkt_timeout/publish_normal_timeout. Zero if
// there is no publisher.
func (s *Source) PublisherIdleFor(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.publishing || s.lastPacketAt.IsZero() {
		return 0
	}
	return now.Sub(s.lastPacketAt)
}

// PacketCount returns the number of packets published since the current
// publish session started (reset on every OnPublish). Used to distinguish
// publish_1stpkt_timeout (no packet ever received) from
// publish_normal_timeout (steady-state stall).
func (s *Source) PacketCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.packetCount
}
