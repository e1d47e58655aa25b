package gb28181

import (
	"testing"

	"github.com/brightwing/streamcore/internal/packet"
	"github.com/brightwing/streamcore/internal/ps"
	"github.com/brightwing/streamcore/internal/rtp"
)

func TestSessionBindSSRCOnlyTakesFirst(t *testing.T) {
	s := NewSession("gb/device1", rtp.CodecH264, func(p *packet.Packet) {}, discardLogger())
	s.BindSSRC(111)
	s.BindSSRC(222)

	if got := s.SSRC(); got != 111 {
		t.Fatalf("expected the first bound SSRC to stick, got %d", got)
	}
	if s.State() != StateConnecting {
		t.Fatalf("expected state Connecting after binding, got %s", s.State())
	}
}

func TestSessionOnPackMessagesTransitionsToEstablished(t *testing.T) {
	var received []*packet.Packet
	s := NewSession("gb/device1", rtp.CodecH264, func(p *packet.Packet) { received = append(received, p) }, discardLogger())
	s.BindSSRC(1)

	annexB := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1E, 0x00, 0x00, 0x00, 0x01, 0x68, 0xCE}
	msg := &ps.Message{Kind: ps.KindVideo, DTS: 90000, PTS: 90000, Payload: annexB}

	if err := s.OnPackMessages(ps.Pack{ID: 1}, []*ps.Message{msg}); err != nil {
		t.Fatalf("OnPackMessages: %v", err)
	}
	if s.State() != StateEstablished {
		t.Fatalf("expected state Established after the first pack, got %s", s.State())
	}
	if s.Stats().TotalPacks != 1 {
		t.Fatalf("expected TotalPacks=1, got %+v", s.Stats())
	}
	if len(received) != 1 || !received[0].SequenceHeader {
		t.Fatalf("expected a sequence-header packet from the SPS/PPS pair, got %+v", received)
	}
}

func TestSessionOnPackMessagesMergesSplitVideoFrame(t *testing.T) {
	var received []*packet.Packet
	s := NewSession("gb/device1", rtp.CodecH264, func(p *packet.Packet) { received = append(received, p) }, discardLogger())
	s.BindSSRC(1)

	sps := []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1E}
	pps := []byte{0x00, 0x00, 0x00, 0x01, 0x68, 0xCE}
	// A keyframe NALU split across two PES messages inside the same pack,
	// the shape an H.264 IDR larger than 65535 bytes arrives in.
	idrPart1 := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0xAA, 0xBB}
	idrPart2 := []byte{0xCC, 0xDD, 0xEE}

	msgs := []*ps.Message{
		{Kind: ps.KindVideo, DTS: 90000, PTS: 90000, Payload: append(append([]byte(nil), sps...), pps...)},
		{Kind: ps.KindVideo, DTS: 90000, PTS: 90000, Payload: idrPart1},
		{Kind: ps.KindVideo, DTS: 90000, PTS: 90000, Payload: idrPart2},
	}

	if err := s.OnPackMessages(ps.Pack{ID: 1}, msgs); err != nil {
		t.Fatalf("OnPackMessages: %v", err)
	}
	if len(received) != 2 {
		t.Fatalf("expected sequence header + one merged NALU tag, got %d packets", len(received))
	}
	if !received[0].SequenceHeader {
		t.Fatalf("expected first packet to be the sequence header")
	}
	if !received[1].Keyframe {
		t.Fatalf("expected the merged NALU tag to be marked keyframe")
	}
	// idrPart1's NALU body (0x65 0xAA 0xBB) plus idrPart2 (0xCC 0xDD 0xEE)
	// must appear concatenated as one 6-byte NALU in the AVCC body, not as
	// two separately length-prefixed NALUs.
	gotBody := received[1].Payload[5:]
	wantTail := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	if len(gotBody) < len(wantTail) {
		t.Fatalf("NALU body too short: %v", gotBody)
	}
	tail := gotBody[len(gotBody)-len(wantTail):]
	for i := range wantTail {
		if tail[i] != wantTail[i] {
			t.Fatalf("expected merged NALU tail %v, got %v", wantTail, tail)
		}
	}
}

func TestSessionOnPackMessagesSkipsUnbuildableMessage(t *testing.T) {
	var received []*packet.Packet
	s := NewSession("gb/device1", rtp.CodecH264, func(p *packet.Packet) { received = append(received, p) }, discardLogger())

	msg := &ps.Message{Kind: ps.KindAudio, Payload: []byte{0x00}} // too short to be a valid ADTS header
	if err := s.OnPackMessages(ps.Pack{ID: 1}, []*ps.Message{msg}); err != nil {
		t.Fatalf("OnPackMessages should not propagate a per-message build error: %v", err)
	}
	if len(received) != 0 {
		t.Fatalf("expected no packets published for an unbuildable message, got %+v", received)
	}
}

func TestSessionOnRecoverModeIncrementsStats(t *testing.T) {
	s := NewSession("gb/device1", rtp.CodecH264, func(p *packet.Packet) {}, discardLogger())
	s.OnRecoverMode(1)
	s.OnRecoverMode(2)

	if s.Stats().MediaRecovered != 2 {
		t.Fatalf("expected MediaRecovered=2, got %+v", s.Stats())
	}
}
