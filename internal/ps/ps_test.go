package ps

import "testing"

func buildPackHeader() []byte {
	return []byte{0x00, 0x00, 0x01, 0xBA, 0x44, 0x00, 0x04, 0x00, 0x04, 0x01, 0x89, 0xC3, 0xF8, 0x00}
}

func encodeTimestamp(prefix byte, ts int64) []byte {
	return []byte{
		prefix<<4 | byte((ts>>29)&0x0E) | 0x01,
		byte((ts >> 22) & 0xFF),
		byte((ts>>14)&0xFE) | 0x01,
		byte((ts >> 7) & 0xFF),
		byte((ts<<1)&0xFE) | 0x01,
	}
}

// buildPES constructs one PES packet. If pts < 0, no optional PES header
// (no PTS/DTS) is emitted at all.
func buildPES(streamID byte, pts, dts int64, payload []byte) []byte {
	var opt []byte
	flags := byte(0)
	if pts >= 0 && dts >= 0 {
		flags = 0x03
		opt = append(encodeTimestamp(0x3, pts), encodeTimestamp(0x1, dts)...)
	} else if pts >= 0 {
		flags = 0x02
		opt = encodeTimestamp(0x2, pts)
	}

	// The 3-byte optional-header prefix is mandatory for video/audio PES
	// streams; only the PTS/DTS fields within it are conditional on flags.
	hdr := []byte{0x80, flags << 6, byte(len(opt))}
	hdr = append(hdr, opt...)

	packetLen := len(hdr) + len(payload)
	out := []byte{0x00, 0x00, 0x01, streamID, byte(packetLen >> 8), byte(packetLen)}
	out = append(out, hdr...)
	out = append(out, payload...)
	return out
}

type capturingHandler struct {
	packs    []Pack
	batches  [][]*Message
	recovers []int
}

func (h *capturingHandler) OnPackMessages(pack Pack, msgs []*Message) error {
	h.packs = append(h.packs, pack)
	h.batches = append(h.batches, msgs)
	return nil
}

func (h *capturingHandler) OnRecoverMode(attempt int) {
	h.recovers = append(h.recovers, attempt)
}

func TestDecodeSinglePackWithStickyDTS(t *testing.T) {
	video := buildPES(0xE0, 90000, 90000, []byte{0x01, 0x02, 0x03})
	audio := buildPES(0xC1, -1, -1, []byte{0xAA, 0xBB}) // inherits DTS/PTS from video

	data := append(buildPackHeader(), append(video, audio...)...)

	ctx := NewContext()
	h := &capturingHandler{}
	consumed, err := ctx.Decode(data, h)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consumed != len(data) {
		t.Fatalf("expected full consumption, got %d/%d", consumed, len(data))
	}
	if len(h.batches) != 1 || len(h.batches[0]) != 2 {
		t.Fatalf("expected one pack with two messages, got %+v", h.batches)
	}
	msgs := h.batches[0]
	if msgs[0].Kind != KindVideo || msgs[0].PTS != 90000 || msgs[0].DTS != 90000 {
		t.Fatalf("unexpected video message: %+v", msgs[0])
	}
	if msgs[1].Kind != KindAudio || msgs[1].DTS != 90000 {
		t.Fatalf("expected audio message to inherit sticky DTS, got %+v", msgs[1])
	}
}

func TestDecodeIncompleteTrailingPackLeavesBytesUnconsumed(t *testing.T) {
	full := append(buildPackHeader(), buildPES(0xE0, 90000, 90000, []byte{1, 2, 3})...)
	truncated := full[:len(full)-2]

	ctx := NewContext()
	h := &capturingHandler{}
	consumed, err := ctx.Decode(truncated, h)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consumed != 0 {
		t.Fatalf("expected 0 bytes consumed for incomplete pack, got %d", consumed)
	}
	if len(h.batches) != 0 {
		t.Fatalf("expected no pack delivered yet")
	}
}

func TestRecoverableResyncsOnNextPayload(t *testing.T) {
	garbage := []byte{0x11, 0x22, 0x33, 0x44, 0x00, 0x01, 0x02}
	valid := append(buildPackHeader(), buildPES(0xE0, 90000, 90000, []byte{1, 2, 3})...)

	r := NewRecoverableContext()
	h := &capturingHandler{}

	if _, err := r.DecodeRTP(garbage, 0, h); err != nil {
		t.Fatalf("decode garbage: %v", err)
	}
	if r.recovers != 1 {
		t.Fatalf("expected recover mode entered once, got %d", r.recovers)
	}

	if _, err := r.DecodeRTP(valid, 0, h); err != nil {
		t.Fatalf("decode valid: %v", err)
	}
	if len(h.batches) != 1 {
		t.Fatalf("expected the next payload's pack to be decoded, got %+v", h.batches)
	}
	if r.recovers != 0 {
		t.Fatalf("expected recover mode to be cleared after resync, got %d", r.recovers)
	}
}

func TestRecoverableProcessesOversizedValidPack(t *testing.T) {
	bigFrame := make([]byte, LargePacketBytes+300) // a single valid NALU this large isn't unusual (e.g. a keyframe)
	data := append(buildPackHeader(), buildPES(0xE0, 90000, 90000, bigFrame)...)
	if len(data) <= LargePacketBytes {
		t.Fatalf("test payload must exceed LargePacketBytes to exercise the oversized path")
	}

	r := NewRecoverableContext()
	h := &capturingHandler{}
	if _, err := r.DecodeRTP(data, 0, h); err != nil {
		t.Fatalf("expected an oversized-but-valid payload to decode without error, got %v", err)
	}
	if len(h.batches) != 1 || len(h.recovers) != 0 {
		t.Fatalf("expected the pack to be demuxed cleanly despite its size, got batches=%+v recovers=%+v", h.batches, h.recovers)
	}
}

func TestRecoverableFailsOnLargePacketDuringResync(t *testing.T) {
	data := make([]byte, LargePacketBytes+1)
	r := NewRecoverableContext()
	h := &capturingHandler{}
	if _, err := r.DecodeRTP(data, 0, h); err == nil {
		t.Fatalf("expected error: desync on an oversized payload is unrecoverable")
	}
}

func TestRecoverableExceedsMaxAttempts(t *testing.T) {
	garbage := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	r := NewRecoverableContext()
	h := &capturingHandler{}

	var lastErr error
	for i := 0; i < MaxRecoverAttempts+1; i++ {
		_, lastErr = r.DecodeRTP(garbage, 0, h)
		if lastErr != nil {
			break
		}
	}
	if lastErr == nil {
		t.Fatalf("expected fatal error after exceeding max recover attempts")
	}
	if len(h.recovers) == 0 {
		t.Fatalf("expected OnRecoverMode to be invoked at least once")
	}
}
