package webrtcingest

import (
	"testing"

	pionrtp "github.com/pion/rtp"

	"github.com/brightwing/streamcore/internal/rtp"
)

func rawRTP(t *testing.T, seq uint16, ts uint32, marker bool, payload []byte) []byte {
	t.Helper()
	p := pionrtp.Packet{
		Header: pionrtp.Header{
			Version:        2,
			SequenceNumber: seq,
			Timestamp:      ts,
			Marker:         marker,
		},
		Payload: payload,
	}
	raw, err := p.Marshal()
	if err != nil {
		t.Fatalf("marshal rtp packet: %v", err)
	}
	return raw
}

func naluPayload(naluType byte, body []byte) []byte {
	return append([]byte{naluType}, body...)
}

func TestVideoPipelineEmitsSequenceHeaderThenMediaTag(t *testing.T) {
	p := newVideoPipeline(rtp.CodecH264, "live/cam")

	sps := naluPayload(7, []byte{0x42, 0x00, 0x1f, 0xaa, 0xbb})
	if out, err := p.handleRTP(rawRTP(t, 1, 1000, false, sps)); err != nil || out != nil {
		t.Fatalf("unexpected on SPS packet: out=%v err=%v", out, err)
	}

	pps := naluPayload(8, []byte{0xcc})
	if out, err := p.handleRTP(rawRTP(t, 2, 1000, false, pps)); err != nil || out != nil {
		t.Fatalf("unexpected on PPS packet: out=%v err=%v", out, err)
	}

	idr := naluPayload(5, []byte{0xde, 0xad, 0xbe, 0xef})
	out, err := p.handleRTP(rawRTP(t, 3, 1000, true, idr))
	if err != nil {
		t.Fatalf("handleRTP: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected sequence header + media tag, got %d packets", len(out))
	}
	if !out[0].SequenceHeader {
		t.Fatalf("expected first packet to be the sequence header")
	}
	if !out[1].Keyframe {
		t.Fatalf("expected media tag to be marked as a keyframe")
	}
}

func TestVideoPipelineDropsIncompleteFUARun(t *testing.T) {
	p := newVideoPipeline(rtp.CodecH264, "live/cam")

	// FU-A start fragment with no matching end fragment before the marker.
	fuStart := []byte{28, 0x85, 0x01, 0x02} // FU indicator (type 28), FU header start=1 type=5
	out, err := p.handleRTP(rawRTP(t, 10, 2000, true, fuStart))
	if err != nil {
		t.Fatalf("handleRTP: %v", err)
	}
	if out != nil {
		t.Fatalf("expected incomplete FU-A run to be dropped, got %v", out)
	}
}

func TestVideoPipelineAnchorsNextFrameAfterCompletion(t *testing.T) {
	p := newVideoPipeline(rtp.CodecH264, "live/cam")

	frame1 := naluPayload(5, []byte{0x01})
	if _, err := p.handleRTP(rawRTP(t, 1, 1000, true, frame1)); err != nil {
		t.Fatalf("frame1: %v", err)
	}

	frame2 := naluPayload(5, []byte{0x02})
	out, err := p.handleRTP(rawRTP(t, 2, 2000, true, frame2))
	if err != nil {
		t.Fatalf("frame2: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one media tag for the second frame, got %d", len(out))
	}
}

func TestAudioPipelineWrapsOpusWithPlaceholderSoundFormat(t *testing.T) {
	p := newAudioPipeline("live/cam")

	opusFrame := []byte{0xfc, 0x01, 0x02, 0x03}
	out, err := p.handleRTP(rtpHeader{Timestamp: 48000}, opusFrame)
	if err != nil {
		t.Fatalf("handleRTP: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one tag, got %d", len(out))
	}
	tag := out[0].Payload
	if len(tag) == 0 {
		t.Fatalf("expected non-empty tag")
	}
	if soundFormat := tag[0] >> 4; soundFormat != opusSoundFormat {
		t.Fatalf("expected sound format %d, got %d", opusSoundFormat, soundFormat)
	}
	if string(tag[1:]) != string(opusFrame) {
		t.Fatalf("expected passthrough payload unchanged")
	}
}

func TestAudioPipelineNormalizesTimestampFromFirstSample(t *testing.T) {
	p := newAudioPipeline("live/cam")

	out1, _ := p.handleRTP(rtpHeader{Timestamp: 480000}, []byte{0x01})
	if out1[0].TimestampMs != 0 {
		t.Fatalf("expected first sample to normalize to 0ms, got %d", out1[0].TimestampMs)
	}

	out2, _ := p.handleRTP(rtpHeader{Timestamp: 480000 + 48000}, []byte{0x02}) // +1s at 48kHz
	if out2[0].TimestampMs != 1000 {
		t.Fatalf("expected second sample at 1000ms, got %d", out2[0].TimestampMs)
	}
}
