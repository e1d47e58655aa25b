package server

import (
	"testing"

	"github.com/brightwing/streamcore/internal/packet"
	"github.com/brightwing/streamcore/internal/rtmp/chunk"
)

func TestPacketFromMessage_VideoKeyframeSequenceHeader(t *testing.T) {
	// AVC keyframe (frameType=1, codecID=7) sequence header (AVCPacketType=0).
	payload := []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0xAA, 0xBB}
	msg := &chunk.Message{TypeID: videoMessageTypeID, Timestamp: 1234, Payload: payload}

	p, err := packetFromMessage("app/stream", msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Kind != packet.KindVideo {
		t.Fatalf("expected KindVideo, got %v", p.Kind)
	}
	if !p.SequenceHeader {
		t.Fatalf("expected sequence header to be detected")
	}
	if !p.Keyframe {
		t.Fatalf("expected keyframe to be detected")
	}
	if p.TimestampMs != 1234 {
		t.Fatalf("expected timestamp preserved, got %d", p.TimestampMs)
	}
	if len(p.Payload) != len(payload) {
		t.Fatalf("expected full tag payload preserved, got %d bytes want %d", len(p.Payload), len(payload))
	}
}

func TestPacketFromMessage_VideoInterNALU(t *testing.T) {
	// AVC inter frame (frameType=2, codecID=7), NALU (AVCPacketType=1).
	payload := []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0xCC}
	msg := &chunk.Message{TypeID: videoMessageTypeID, Timestamp: 1267, Payload: payload}

	p, err := packetFromMessage("app/stream", msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.SequenceHeader {
		t.Fatalf("did not expect sequence header")
	}
	if p.Keyframe {
		t.Fatalf("did not expect keyframe")
	}
}

func TestPacketFromMessage_AudioAACSequenceHeader(t *testing.T) {
	// AAC (soundFormat=10), sequence header (AACPacketType=0).
	payload := []byte{0xAF, 0x00, 0x12, 0x10}
	msg := &chunk.Message{TypeID: audioMessageTypeID, Timestamp: 0, Payload: payload}

	p, err := packetFromMessage("app/stream", msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Kind != packet.KindAudio {
		t.Fatalf("expected KindAudio, got %v", p.Kind)
	}
	if !p.SequenceHeader {
		t.Fatalf("expected sequence header to be detected")
	}
	if p.Keyframe {
		t.Fatalf("audio packets are never keyframes")
	}
}

func TestPacketFromMessage_ScriptPassthrough(t *testing.T) {
	payload := []byte{0x02, 0x00, 0x0A, 'o', 'n', 'M', 'e', 't', 'a', 'D', 'a', 't', 'a'}
	msg := &chunk.Message{TypeID: scriptMessageTypeID, Timestamp: 0, Payload: payload}

	p, err := packetFromMessage("app/stream", msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Kind != packet.KindScript {
		t.Fatalf("expected KindScript, got %v", p.Kind)
	}
}

func TestPacketFromMessage_UnsupportedType(t *testing.T) {
	msg := &chunk.Message{TypeID: 20, Payload: []byte{0x01}}
	if _, err := packetFromMessage("app/stream", msg); err == nil {
		t.Fatalf("expected error for unsupported message type")
	}
}

func TestMessageFromPacket_RoundTrip(t *testing.T) {
	orig := []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xDE, 0xAD}
	p := packet.Wrap(orig, "app/stream", packet.KindVideo, 555, false, true)

	msg, err := messageFromPacket(p, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.TypeID != videoMessageTypeID {
		t.Fatalf("expected video type id, got %d", msg.TypeID)
	}
	if msg.MessageStreamID != 3 {
		t.Fatalf("expected target message stream id preserved, got %d", msg.MessageStreamID)
	}
	if msg.Timestamp != 555 {
		t.Fatalf("expected timestamp preserved, got %d", msg.Timestamp)
	}
	if string(msg.Payload) != string(orig) {
		t.Fatalf("expected payload preserved byte-for-byte")
	}
	if msg.CSID != mediaCSID(packet.KindVideo) {
		t.Fatalf("expected video CSID convention")
	}
}

func TestMessageFromPacket_AudioUsesDistinctCSID(t *testing.T) {
	p := packet.Wrap([]byte{0xAF, 0x01, 0x00}, "app/stream", packet.KindAudio, 10, false, false)
	msg, err := messageFromPacket(p, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.CSID == mediaCSID(packet.KindVideo) {
		t.Fatalf("expected audio CSID to differ from video CSID")
	}
}
