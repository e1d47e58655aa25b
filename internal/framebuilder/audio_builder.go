package framebuilder

import (
	"fmt"

	"github.com/brightwing/streamcore/internal/packet"
)

// AudioTranscoder converts one decoded Opus frame (as carried by a WebRTC
// RTP payload) into zero or more raw AAC frames. WebRTC endpoints negotiate
// Opus almost universally while the rest of streamcore's output surfaces
// (RTMP, HTTP-FLV, HLS) expect AAC, so WHIP ingest needs a transcode step
// somewhere in the pipeline; the interface keeps that codec conversion
// pluggable rather than hard-wiring a specific encoder library into
// framebuilder. A nil AudioTranscoder makes AudioBuilder a pure passthrough
// (Opus packaged straight into FLV's catch-all "raw audio" tag shape),
// which is enough for pipelines that don't need RTMP/HLS egress.
type AudioTranscoder interface {
	// Transcode consumes one Opus frame and returns zero or more raw AAC
	// access units (ADTS header stripped, matching the teacher's
	// AudioMessage.Payload convention for AACPacketTypeRaw).
	Transcode(opusFrame []byte) ([][]byte, error)
}

// AudioBuilder emits FLV audio tags from RTP audio packets. It mirrors
// RTCBuilder's sequence-header/media-tag split: the AAC sequence header
// (AudioSpecificConfig) installed by SetASC is emitted once, ahead of the
// first transcoded frame, and every access unit becomes an AACPacketTypeRaw
// tag. Without a SetASC call no sequence header is emitted; the ASC is not
// derived from the transcoder's output. Grounded on the
// teacher's media/audio.go tag layout (AudioCodecAAC / AACPacketType*),
// run in reverse.
type AudioBuilder struct {
	transcoder AudioTranscoder
	asc        []byte
	ascSent    bool
}

func NewAudioBuilder(transcoder AudioTranscoder) *AudioBuilder {
	return &AudioBuilder{transcoder: transcoder}
}

// SetASC installs an explicit AudioSpecificConfig (e.g. negotiated out of
// band via SDP fmtp) so the sequence header can be emitted before the
// first transcoded frame arrives.
func (b *AudioBuilder) SetASC(asc []byte) {
	b.asc = asc
}

// BuildTag converts one RTP audio payload into FLV audio tag packets. If no
// AudioTranscoder was supplied, the payload is packaged as-is under the
// "raw audio" tag shape (SoundFormat left at the caller-supplied value) so
// codecs that need no conversion (e.g. PCMA/PCMU on a GB28181 leg handled
// upstream) still flow through the same packet shape as AAC.
func (b *AudioBuilder) BuildTag(soundFormat byte, payload []byte, timestampMs uint32, streamID string) ([]*packet.Packet, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	if b.transcoder == nil {
		tag := append([]byte{soundFormat << 4}, payload...)
		return []*packet.Packet{packet.Wrap(tag, streamID, packet.KindAudio, timestampMs, false, false)}, nil
	}

	frames, err := b.transcoder.Transcode(payload)
	if err != nil {
		return nil, fmt.Errorf("framebuilder: transcode: %w", err)
	}
	if len(frames) == 0 {
		return nil, nil
	}

	var out []*packet.Packet
	if !b.ascSent && len(b.asc) > 0 {
		seqTag := append([]byte{10<<4 | 0x03, 0x00}, b.asc...)
		out = append(out, packet.Wrap(seqTag, streamID, packet.KindAudio, timestampMs, true, false))
		b.ascSent = true
	}
	for _, f := range frames {
		tag := append([]byte{10<<4 | 0x03, 0x01}, f...)
		out = append(out, packet.Wrap(tag, streamID, packet.KindAudio, timestampMs, false, false))
	}
	return out, nil
}
