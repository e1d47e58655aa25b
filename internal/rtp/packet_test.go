package rtp

import "testing"

// rtpHeader builds a minimal 12-byte RTP header (no extensions, no CSRCs)
// followed by payload, matching RFC 3550 §5.1.
func rtpHeader(seq uint16, ts uint32, marker bool, payloadType uint8, payload []byte) []byte {
	buf := make([]byte, 12+len(payload))
	buf[0] = 0x80 // version 2
	pt := payloadType & 0x7F
	if marker {
		pt |= 0x80
	}
	buf[1] = pt
	buf[2] = byte(seq >> 8)
	buf[3] = byte(seq)
	buf[4] = byte(ts >> 24)
	buf[5] = byte(ts >> 16)
	buf[6] = byte(ts >> 8)
	buf[7] = byte(ts)
	// SSRC left zero
	copy(buf[12:], payload)
	return buf
}

func TestParseH264SingleNALU(t *testing.T) {
	raw := rtpHeader(1, 1000, true, 96, []byte{0x65, 0xAA, 0xBB}) // type 5 = IDR
	p, err := Parse(raw, CodecH264)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Kind != PayloadRaw {
		t.Fatalf("expected Raw kind, got %v", p.Kind)
	}
	if !p.Keyframe {
		t.Fatalf("expected IDR to be classified as keyframe")
	}
	if !p.Marker {
		t.Fatalf("expected marker bit set")
	}
}

func TestParseH264STAPA(t *testing.T) {
	raw := rtpHeader(2, 1000, false, 96, []byte{24, 0x00, 0x02, 0x67, 0x42})
	p, err := Parse(raw, CodecH264)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Kind != PayloadSTAPA {
		t.Fatalf("expected STAP-A kind, got %v", p.Kind)
	}
}

func TestParseH264FUAStartAndEnd(t *testing.T) {
	startRaw := rtpHeader(3, 2000, false, 96, []byte{28, 0x85, 0xAA}) // FU-A, S=1, type=5
	p, err := Parse(startRaw, CodecH264)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Kind != PayloadFUA || !p.FragStart || p.FragEnd {
		t.Fatalf("expected FU-A start fragment, got %+v", p)
	}
	if p.NaluType != naluH264IDR || !p.Keyframe {
		t.Fatalf("expected reconstructed NALU type 5 (IDR)")
	}

	endRaw := rtpHeader(4, 2000, true, 96, []byte{28, 0x45, 0xBB}) // FU-A, E=1
	p2, err := Parse(endRaw, CodecH264)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p2.Kind != PayloadFUA || p2.FragStart || !p2.FragEnd {
		t.Fatalf("expected FU-A end fragment, got %+v", p2)
	}
}

func TestParseHEVCFU(t *testing.T) {
	// HEVC FU: payload[0..1] = NALU header with type 49 in bits [1:6] of byte0;
	// payload[2] = FU header with S=1 and original type 19 (IDR_W_RADL).
	naluHeader0 := byte(naluHEVCFU << 1)
	raw := rtpHeader(5, 3000, false, 96, []byte{naluHeader0, 0x01, 0x80 | 19, 0xCC})
	p, err := Parse(raw, CodecHEVC)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Kind != PayloadFUv2 || !p.FragStart {
		t.Fatalf("expected HEVC FU start fragment, got %+v", p)
	}
	if !p.Keyframe {
		t.Fatalf("expected IRAP type 19 to be classified as keyframe")
	}
}

func TestParseHEVCSingleNALU(t *testing.T) {
	naluHeader0 := byte(1 << 1) // type 1 = TRAIL_R, not IRAP
	raw := rtpHeader(6, 3000, false, 96, []byte{naluHeader0, 0x01, 0xDD})
	p, err := Parse(raw, CodecHEVC)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Kind != PayloadRaw || p.Keyframe {
		t.Fatalf("expected non-IRAP raw NALU, got %+v", p)
	}
}
