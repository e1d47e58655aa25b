// Package packet defines MediaPacket, the immutable media message shared
// across depacketizers, frame builders, the live source and its consumers.
package packet

import "sync/atomic"

// Kind discriminates the media carried by a Packet.
type Kind uint8

const (
	KindVideo Kind = iota
	KindAudio
	KindScript
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindScript:
		return "script"
	default:
		return "unknown"
	}
}

// Packet is an immutable media message: payload bytes, a monotonic
// per-stream timestamp, a stream identifier, a kind discriminator, and an
// optional sequence-header trait flag. Packets are never mutated after
// Wrap(); sharing across consumers happens via Clone (copy-on-share) so
// that no consumer can observe another consumer's slice mutations.
//
// Lifecycle: created by a frame builder or publisher decode path via Wrap;
// released (refcount dropped) when the last consumer is done with it.
type Packet struct {
	Payload        []byte
	TimestampMs    uint32
	StreamID       string
	Kind           Kind
	SequenceHeader bool
	Keyframe       bool // video only: starts a new GOP

	refs int32
}

// Wrap creates a new Packet, copying data into an owned buffer so the
// caller's slice may be reused or mutated after Wrap returns.
func Wrap(data []byte, streamID string, kind Kind, timestampMs uint32, sequenceHeader, keyframe bool) *Packet {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Packet{
		Payload:        buf,
		TimestampMs:    timestampMs,
		StreamID:       streamID,
		Kind:           kind,
		SequenceHeader: sequenceHeader,
		Keyframe:       keyframe,
		refs:           1,
	}
}

// Clone returns an independent copy of the packet payload, used when a
// consumer's transport layer needs to own the bytes it writes out
// (mirrors the teacher's per-subscriber payload copy in BroadcastMessage).
func (p *Packet) Clone() *Packet {
	if p == nil {
		return nil
	}
	buf := make([]byte, len(p.Payload))
	copy(buf, p.Payload)
	return &Packet{
		Payload:        buf,
		TimestampMs:    p.TimestampMs,
		StreamID:       p.StreamID,
		Kind:           p.Kind,
		SequenceHeader: p.SequenceHeader,
		Keyframe:       p.Keyframe,
		refs:           1,
	}
}

// Retain increments the reference count; a Packet shared by reference
// (rather than Clone) across multiple consumers must be retained once per
// additional holder and released an equal number of times.
func (p *Packet) Retain() {
	if p == nil {
		return
	}
	atomic.AddInt32(&p.refs, 1)
}

// Release decrements the reference count. It reports whether this call
// dropped the last reference (the caller may then recycle the buffer via a
// pool; streamcore itself relies on GC, so this is advisory).
func (p *Packet) Release() bool {
	if p == nil {
		return false
	}
	return atomic.AddInt32(&p.refs, -1) == 0
}

// Len returns the payload length.
func (p *Packet) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Payload)
}
