package livesource

import (
	"testing"
	"time"

	"github.com/brightwing/streamcore/internal/packet"
)

func TestFetchOrCreateReturnsSameSourceForKey(t *testing.T) {
	r := NewRegistry()
	s1, created1 := r.FetchOrCreate("live/stream1")
	s2, created2 := r.FetchOrCreate("live/stream1")

	if !created1 || created2 {
		t.Fatalf("expected created=true then false, got %v then %v", created1, created2)
	}
	if s1 != s2 {
		t.Fatalf("expected the same Source instance for the same key")
	}
}

func TestFetchOrCreateDistinctKeysDistinctSources(t *testing.T) {
	r := NewRegistry()
	s1, _ := r.FetchOrCreate("live/a")
	s2, _ := r.FetchOrCreate("live/b")
	if s1 == s2 {
		t.Fatalf("expected distinct sources for distinct keys")
	}
}

func TestPublishTokenSinglePublisherInvariant(t *testing.T) {
	tokens := NewPublishTokens()
	if !tokens.Acquire("live/stream1") {
		t.Fatalf("expected first acquire to succeed")
	}
	if tokens.Acquire("live/stream1") {
		t.Fatalf("expected second acquire of the same key to fail")
	}
	tokens.Release("live/stream1")
	if !tokens.Acquire("live/stream1") {
		t.Fatalf("expected acquire to succeed again after release")
	}
}

func TestSourceDeathGraceDelay(t *testing.T) {
	r := NewRegistry()
	s, _ := r.FetchOrCreate("live/stream1")
	s.OnPublish()
	s.OnUnpublish()

	now := s.unpublishedAt
	if s.IsDead(now) {
		t.Fatalf("expected source to survive immediately after unpublish")
	}
	if s.IsDead(now.Add(deathGrace - time.Millisecond)) {
		t.Fatalf("expected source to survive just under the grace period")
	}
	if !s.IsDead(now.Add(deathGrace)) {
		t.Fatalf("expected source to be dead once the grace period elapses")
	}
}

func TestSourceNeverPublishedIsNotDead(t *testing.T) {
	r := NewRegistry()
	s, _ := r.FetchOrCreate("live/never-published")
	if s.IsDead(time.Now().Add(time.Hour)) {
		t.Fatalf("a source awaiting its first publisher should not be swept")
	}
}

func TestSweepRemovesOnlyDeadSourcesWithNoConsumers(t *testing.T) {
	r := NewRegistry()
	dead, _ := r.FetchOrCreate("live/dead")
	dead.OnPublish()
	dead.OnUnpublish()

	alive, _ := r.FetchOrCreate("live/alive")
	alive.OnPublish()

	deadWithViewer, _ := r.FetchOrCreate("live/dead-but-watched")
	deadWithViewer.OnPublish()
	deadWithViewer.OnUnpublish()
	deadWithViewer.AddConsumer(&fakeConsumer{})

	removed := r.Sweep(time.Now().Add(deathGrace + time.Second))

	if len(removed) != 1 || removed[0] != "live/dead" {
		t.Fatalf("expected only live/dead removed, got %v", removed)
	}
	if r.Get("live/alive") == nil {
		t.Fatalf("expected actively-publishing source to survive sweep")
	}
	if r.Get("live/dead-but-watched") == nil {
		t.Fatalf("expected dead source with a viewer to survive sweep")
	}
}

type fakeConsumer struct {
	received []*packet.Packet
}

func (f *fakeConsumer) TrySend(p *packet.Packet) bool {
	f.received = append(f.received, p)
	return true
}

func TestAddConsumerDumpsSequenceHeadersAndGOP(t *testing.T) {
	r := NewRegistry()
	s, _ := r.FetchOrCreate("live/stream1")
	s.OnPublish()

	videoSeq := packet.Wrap([]byte{0x17, 0x00}, "live/stream1", packet.KindVideo, 0, true, false)
	keyframe := packet.Wrap([]byte{0x17, 0x01, 0xAA}, "live/stream1", packet.KindVideo, 100, false, true)
	interFrame := packet.Wrap([]byte{0x27, 0x01, 0xBB}, "live/stream1", packet.KindVideo, 133, false, false)

	s.Publish(videoSeq)
	s.Publish(keyframe)
	s.Publish(interFrame)

	c := &fakeConsumer{}
	s.AddConsumer(c)

	if len(c.received) != 3 {
		t.Fatalf("expected sequence header + keyframe + inter frame dump, got %d", len(c.received))
	}
	if !c.received[0].SequenceHeader {
		t.Fatalf("expected first dumped packet to be the sequence header")
	}
	if !c.received[1].Keyframe {
		t.Fatalf("expected second dumped packet to be the keyframe that opened the GOP")
	}
}

func TestPublishFansOutToAllConsumers(t *testing.T) {
	r := NewRegistry()
	s, _ := r.FetchOrCreate("live/stream1")
	s.OnPublish()

	c1, c2 := &fakeConsumer{}, &fakeConsumer{}
	s.AddConsumer(c1)
	s.AddConsumer(c2)

	p := packet.Wrap([]byte{1, 2, 3}, "live/stream1", packet.KindAudio, 0, false, false)
	s.Publish(p)

	if len(c1.received) != 1 || len(c2.received) != 1 {
		t.Fatalf("expected both consumers to receive the packet")
	}
	// Each consumer must get its own copy, not the same backing array.
	c1.received[0].Payload[0] = 0xFF
	if c2.received[0].Payload[0] == 0xFF {
		t.Fatalf("expected per-consumer payload copies to be independent")
	}
}

func TestRemoveConsumerStopsDelivery(t *testing.T) {
	r := NewRegistry()
	s, _ := r.FetchOrCreate("live/stream1")
	s.OnPublish()

	c := &fakeConsumer{}
	s.AddConsumer(c)
	s.RemoveConsumer(c)

	s.Publish(packet.Wrap([]byte{9}, "live/stream1", packet.KindAudio, 0, false, false))
	if len(c.received) != 0 {
		t.Fatalf("expected no delivery after removal, got %d", len(c.received))
	}
}
