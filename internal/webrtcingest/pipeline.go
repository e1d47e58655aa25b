package webrtcingest

import (
	"fmt"

	"github.com/brightwing/streamcore/internal/framebuilder"
	"github.com/brightwing/streamcore/internal/packet"
	"github.com/brightwing/streamcore/internal/rtp"
)

// tsNormalizer turns a WebRTC RTP timestamp (an arbitrary 32-bit starting
// offset, per RFC 3550 §5.1) into a stream-relative millisecond timestamp
// by anchoring on the first sample seen. Plain arithmetic, not a pack
// library concern: every RTP consumer needs this and none of the example
// repos factor it out as reusable code.
type tsNormalizer struct {
	clockRate uint32
	base      uint32
	seen      bool
}

func newTSNormalizer(clockRate uint32) *tsNormalizer {
	return &tsNormalizer{clockRate: clockRate}
}

func (n *tsNormalizer) ms(ts uint32) uint32 {
	if !n.seen {
		n.base = ts
		n.seen = true
	}
	delta := ts - n.base // uint32 wraparound matches RTP's own modular clock
	return delta / (n.clockRate / 1000)
}

// videoPipeline turns a stream of raw RTP video packets into FLV-shaped
// internal/packet.Packets, owning one internal/rtp.PacketCache and
// internal/rtp.FrameDetector per SSRC (one PeerConnection video track is
// one SSRC for the session's lifetime, so there is no SSRC-switch case to
// handle here the way internal/ps's PID remux does). Grounded on
// internal/rtp/frame_detector_test.go's drive loop: store, detect, and
// only call OnFrameStart again once the previous frame has been consumed.
type videoPipeline struct {
	codec    rtp.Codec
	streamID string

	cache    *rtp.PacketCache
	detector *rtp.FrameDetector
	builder  *framebuilder.RTCBuilder
	ts       *tsNormalizer
	anchored bool
}

func newVideoPipeline(codec rtp.Codec, streamID string) *videoPipeline {
	return &videoPipeline{
		codec:    codec,
		streamID: streamID,
		cache:    rtp.NewPacketCache(),
		detector: rtp.NewFrameDetector(),
		builder:  framebuilder.NewRTCBuilder(codec),
		ts:       newTSNormalizer(90000),
	}
}

// handleRTP ingests one raw RTP video packet and returns the packets a
// completed access unit produced, or (nil, nil) while a frame is still
// being assembled. A frame with an unresolved FU-A/FU fragment (dropped
// packet mid-run) is silently discarded, same "safe default" RTCBuilder
// itself applies to empty access units.
func (p *videoPipeline) handleRTP(raw []byte) ([]*packet.Packet, error) {
	pkt, err := rtp.Parse(raw, p.codec)
	if err != nil {
		return nil, fmt.Errorf("webrtcingest: video: %w", err)
	}
	p.cache.Store(pkt)

	if !p.anchored {
		p.detector.OnFrameStart(pkt.Seq, pkt.Timestamp)
		p.anchored = true
	}

	start, end, ready := p.detector.DetectFrame(p.cache, pkt.Seq)
	if !ready {
		return nil, nil
	}
	p.anchored = false

	if !rtp.CheckFrameComplete(p.cache, start, end) {
		return nil, nil
	}

	nalus, err := p.builder.Reassemble(p.cache, start, end)
	if err != nil {
		return nil, fmt.Errorf("webrtcingest: reassemble: %w", err)
	}

	// No separate decode-order timestamp is available over plain RTP (no
	// B-frames in the profiles browsers negotiate for WHIP), so pts==dts
	// and the composition time offset comes out to 0 via the same formula
	// internal/framebuilder.TSBuilder uses for the PS path.
	ts := p.ts.ms(pkt.Timestamp)
	return p.builder.BuildTag(nalus, ts, ts, p.streamID)
}

// audioPipeline wraps WHIP-negotiated Opus RTP packets into FLV audio
// tags. Opus frames arrive one-per-RTP-packet (no FU-A-style fragmentation
// in the profile gtfodev-camsRelay and this repo both negotiate), so no
// per-SSRC cache/detector is needed the way video requires one — just a
// bare RTP header decode via pion/rtp directly, the same library
// internal/rtp builds its video classification on top of.
type audioPipeline struct {
	streamID string
	builder  *framebuilder.AudioBuilder
	ts       *tsNormalizer
}

func newAudioPipeline(streamID string) *audioPipeline {
	return &audioPipeline{
		streamID: streamID,
		builder:  framebuilder.NewAudioBuilder(nil), // nil transcoder: Opus passthrough
		ts:       newTSNormalizer(48000),
	}
}

func (p *audioPipeline) handleRTP(header rtpHeader, payload []byte) ([]*packet.Packet, error) {
	return p.builder.BuildTag(opusSoundFormat, payload, p.ts.ms(header.Timestamp), p.streamID)
}

// rtpHeader is the subset of a decoded RTP header audioPipeline needs,
// kept separate from internal/rtp.Packet (which classifies H264/HEVC NALU
// types that don't apply to an Opus payload).
type rtpHeader struct {
	Timestamp uint32
}
