// Package framebuilder turns reassembled access units — from either the
// RTP depacketizer (internal/rtp) or the PS/PES demuxer (internal/ps) —
// into FLV-tag-shaped internal/packet.Packets, the same wire shape the
// teacher's internal/rtmp/media package parses on the RTMP ingest side.
// RTCBuilder handles the WebRTC/GB28181-over-RTP path; TSBuilder (ts_builder.go)
// handles the MPEG-TS/PS path. Grounded on teacher media/video.go+audio.go
// (construction is their parse logic run in reverse) and
// gtfodev-camsRelay/pkg/rtp/h264.go for STAP-A/FU-A reassembly.
package framebuilder

import (
	"encoding/binary"
	"fmt"

	"github.com/brightwing/streamcore/internal/packet"
	"github.com/brightwing/streamcore/internal/rtp"
)

// H.264 NALU types relevant to AVCDecoderConfigurationRecord construction.
const (
	naluSPS = 7
	naluPPS = 8
	naluIDR = 5
)

// HEVC NALU types.
const (
	naluVPS     = 32
	naluHEVCSPS = 33
	naluHEVCPPS = 34
)

// hevcFourCC is the 4-byte codec identifier the enhanced FLV video tag
// header carries for HEVC (spec.md §4.3: "high bit 0x80 set, 4-byte
// fourcc hvc1 follows the first byte").
var hevcFourCC = [4]byte{'h', 'v', 'c', '1'}

// Enhanced FLV video packet types (the low nibble of the header byte once
// the high bit marks it as an enhanced header).
const (
	exVideoPacketTypeSequenceStart = 0x00
	exVideoPacketTypeCodedFrames   = 0x01
)

// buildEnhancedVideoHeader writes the enhanced FLV video tag header HEVC
// uses in place of the legacy frameType<<4|codecID nibble layout: high bit
// of the first byte set, frame type in bits 4-6, packet type in the low
// nibble, followed by the 4-byte fourcc. CodedFrames additionally carries
// a 3-byte composition time offset; SequenceStart doesn't need one since
// there's no frame to offset yet.
func buildEnhancedVideoHeader(frameType, packetType byte, ctsMs uint32) []byte {
	header := []byte{0x80 | frameType<<4 | packetType, hevcFourCC[0], hevcFourCC[1], hevcFourCC[2], hevcFourCC[3]}
	if packetType == exVideoPacketTypeCodedFrames {
		header = append(header, byte(ctsMs>>16), byte(ctsMs>>8), byte(ctsMs))
	}
	return header
}

// RTCBuilder accumulates parameter sets (SPS/PPS/VPS) seen on the RTP
// stream and emits FLV video tags: one AVC/HEVC sequence header the first
// time a complete parameter set is observed, then one NALU tag per access
// unit. An empty access unit (every RTP packet for the frame dropped or
// corrupt) is silently skipped rather than emitted as a zero-length tag —
// spec.md's "safe default" for malformed input.
type RTCBuilder struct {
	codec rtp.Codec

	sps, pps, vps []byte
	seqHeaderSent bool
}

func NewRTCBuilder(codec rtp.Codec) *RTCBuilder {
	return &RTCBuilder{codec: codec}
}

// Reassemble walks the RTP cache over [start,end] and returns the ordered
// list of NALUs that make up one access unit: Raw packets contribute their
// NALU as-is, STAP-A/AP packets are split into their aggregated NALUs, and
// FU-A/FU fragments are concatenated back into a single NALU (with the
// reconstructed NAL header prefixed for H.264; HEVC's FU already transports
// a full 2-byte NAL header which DetectFrame's classification rebuilt into
// NaluType, so the same concatenation logic applies).
func (b *RTCBuilder) Reassemble(cache *rtp.PacketCache, start, end uint16) ([][]byte, error) {
	var nalus [][]byte
	var fu []byte
	inFU := false

	seq := start
	distance := int(end - start)
	for i := 0; i <= distance; i++ {
		p := cache.Get(seq)
		seq++
		if p == nil {
			continue // lost packet inside the frame; drop just that NALU's worth
		}
		switch p.Kind {
		case rtp.PayloadRaw:
			if len(p.NaluBody) > 0 {
				nalus = append(nalus, p.NaluBody)
			}
		case rtp.PayloadSTAPA:
			nalus = append(nalus, splitAggregated(p.NaluBody)...)
		case rtp.PayloadFUA:
			if p.FragStart {
				fu = append([]byte{naluHeaderByteH264(p.NaluType)}, p.NaluBody...)
				inFU = true
			} else if inFU {
				fu = append(fu, p.NaluBody...)
			}
			if p.FragEnd && inFU {
				nalus = append(nalus, fu)
				fu, inFU = nil, false
			}
		case rtp.PayloadFUv2:
			if p.FragStart {
				h0, h1 := naluHeaderBytesHEVC(p.NaluType)
				fu = append([]byte{h0, h1}, p.NaluBody...)
				inFU = true
			} else if inFU {
				fu = append(fu, p.NaluBody...)
			}
			if p.FragEnd && inFU {
				nalus = append(nalus, fu)
				fu, inFU = nil, false
			}
		}
	}
	return nalus, nil
}

func naluHeaderByteH264(naluType uint8) byte {
	return naluType & 0x1F
}

func naluHeaderBytesHEVC(naluType uint8) (byte, byte) {
	return (naluType & 0x3F) << 1, 0x01
}

// splitAggregated splits a STAP-A/AP payload (2-byte size prefix + NALU,
// repeated) into individual NALUs.
func splitAggregated(data []byte) [][]byte {
	var out [][]byte
	pos := 0
	for pos+2 <= len(data) {
		size := int(data[pos])<<8 | int(data[pos+1])
		pos += 2
		if pos+size > len(data) {
			break
		}
		out = append(out, data[pos:pos+size])
		pos += size
	}
	return out
}

// BuildTag converts one reassembled access unit into packet.Packets: a
// sequence-header packet the first time the required parameter sets are
// all present, followed by the NALU tag itself. Returns nil packets (no
// error) if the access unit carries nothing new to emit. dtsMs is the tag
// timestamp; ptsMs is the access unit's presentation time (equal to dtsMs
// when the caller has no separate decode-order tracking, e.g. a WebRTC
// source with no B-frames) used to derive the composition time offset the
// same way the PS/TS path does: cts = pts - dts.
func (b *RTCBuilder) BuildTag(nalus [][]byte, dtsMs, ptsMs uint32, streamID string) ([]*packet.Packet, error) {
	if len(nalus) == 0 {
		return nil, nil
	}

	b.scanParameterSets(nalus)

	var out []*packet.Packet
	if !b.seqHeaderSent && b.haveParameterSets() {
		seq, err := b.buildSequenceHeader(streamID, dtsMs)
		if err != nil {
			return nil, err
		}
		if seq != nil {
			out = append(out, seq)
			b.seqHeaderSent = true
		}
	}

	media := filterParameterSets(b.codec, nalus)
	if len(media) == 0 {
		return out, nil
	}

	keyframe := containsKeyframe(b.codec, media)
	body := encodeAVCCNALUs(media)
	if len(body) == 0 {
		return out, nil
	}

	frameType := byte(2)
	if keyframe {
		frameType = 1
	}
	var cts uint32
	if ptsMs > dtsMs {
		cts = ptsMs - dtsMs
	}

	var tag []byte
	if b.codec == rtp.CodecHEVC {
		tag = buildEnhancedVideoHeader(frameType, exVideoPacketTypeCodedFrames, cts)
	} else {
		tag = []byte{frameType<<4 | 7, 0x01, byte(cts >> 16), byte(cts >> 8), byte(cts)} // codecID=7 (AVC), AVCPacketType=NALU
	}
	tag = append(tag, body...)

	out = append(out, packet.Wrap(tag, streamID, packet.KindVideo, dtsMs, false, keyframe))
	return out, nil
}

func (b *RTCBuilder) scanParameterSets(nalus [][]byte) {
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		if b.codec == rtp.CodecHEVC {
			t := (n[0] >> 1) & 0x3F
			switch t {
			case naluVPS:
				b.vps = n
			case naluHEVCSPS:
				b.sps = n
			case naluHEVCPPS:
				b.pps = n
			}
			continue
		}
		t := n[0] & 0x1F
		switch t {
		case naluSPS:
			b.sps = n
		case naluPPS:
			b.pps = n
		}
	}
}

func (b *RTCBuilder) haveParameterSets() bool {
	if b.codec == rtp.CodecHEVC {
		return len(b.vps) > 0 && len(b.sps) > 0 && len(b.pps) > 0
	}
	return len(b.sps) > 0 && len(b.pps) > 0
}

func filterParameterSets(codec rtp.Codec, nalus [][]byte) [][]byte {
	var out [][]byte
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		if codec == rtp.CodecHEVC {
			t := (n[0] >> 1) & 0x3F
			if t == naluVPS || t == naluHEVCSPS || t == naluHEVCPPS {
				continue
			}
		} else {
			t := n[0] & 0x1F
			if t == naluSPS || t == naluPPS {
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

func containsKeyframe(codec rtp.Codec, nalus [][]byte) bool {
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		if codec == rtp.CodecHEVC {
			t := (n[0] >> 1) & 0x3F
			if t >= 16 && t < 24 {
				return true
			}
		} else if n[0]&0x1F == naluIDR {
			return true
		}
	}
	return false
}

// encodeAVCCNALUs concatenates NALUs with 4-byte big-endian length prefixes
// (AVCC/HVCC elementary stream format, as opposed to the Annex-B
// start-code format RTP payloads arrive in).
func encodeAVCCNALUs(nalus [][]byte) []byte {
	var out []byte
	var lenBuf [4]byte
	for _, n := range nalus {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(n)))
		out = append(out, lenBuf[:]...)
		out = append(out, n...)
	}
	return out
}

// buildSequenceHeader emits the AVCDecoderConfigurationRecord (H.264) or a
// minimal HEVCDecoderConfigurationRecord (H.265, VPS/SPS/PPS arrays only —
// sufficient for decoders that don't need the full array-of-arrays
// metadata FFmpeg's muxer writes) as an FLV video sequence header tag.
func (b *RTCBuilder) buildSequenceHeader(streamID string, timestampMs uint32) (*packet.Packet, error) {
	if b.codec == rtp.CodecHEVC {
		return b.buildHEVCSequenceHeader(streamID, timestampMs)
	}
	return b.buildAVCSequenceHeader(streamID, timestampMs)
}

func (b *RTCBuilder) buildAVCSequenceHeader(streamID string, timestampMs uint32) (*packet.Packet, error) {
	if len(b.sps) < 4 {
		return nil, fmt.Errorf("framebuilder: SPS too short to read profile/level")
	}
	record := []byte{
		0x01,           // configurationVersion
		b.sps[1],       // AVCProfileIndication
		b.sps[2],       // profile_compatibility
		b.sps[3],       // AVCLevelIndication
		0xFF,           // reserved(6)=1 | lengthSizeMinusOne=3 (4-byte lengths)
		0xE1,           // reserved(3)=1 | numOfSequenceParameterSets=1
	}
	record = append(record, byte(len(b.sps)>>8), byte(len(b.sps)))
	record = append(record, b.sps...)
	record = append(record, 0x01) // numOfPictureParameterSets=1
	record = append(record, byte(len(b.pps)>>8), byte(len(b.pps)))
	record = append(record, b.pps...)

	tag := make([]byte, 0, 5+len(record))
	tag = append(tag, 1<<4|7, 0x00, 0, 0, 0) // keyframe, AVCPacketType=SequenceHeader
	tag = append(tag, record...)
	return packet.Wrap(tag, streamID, packet.KindVideo, timestampMs, true, false), nil
}

func (b *RTCBuilder) buildHEVCSequenceHeader(streamID string, timestampMs uint32) (*packet.Packet, error) {
	if len(b.sps) < 4 {
		return nil, fmt.Errorf("framebuilder: HEVC SPS too short")
	}
	var record []byte
	record = append(record, 0x01) // configurationVersion
	record = append(record, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0) // profile/level/compat fields, left zeroed (decoder-advisory only)
	record = append(record, 0xF0|3)                                                    // reserved | lengthSizeMinusOne=3
	record = append(record, 3)                                                         // numOfArrays: VPS, SPS, PPS

	for _, arr := range []struct {
		naluType byte
		data     []byte
	}{
		{naluVPS, b.vps},
		{naluHEVCSPS, b.sps},
		{naluHEVCPPS, b.pps},
	} {
		record = append(record, 0x80|arr.naluType) // array_completeness=1 | NAL_unit_type
		record = append(record, 0, 1)               // numNalus=1
		record = append(record, byte(len(arr.data)>>8), byte(len(arr.data)))
		record = append(record, arr.data...)
	}

	tag := buildEnhancedVideoHeader(1 /* keyframe */, exVideoPacketTypeSequenceStart, 0)
	tag = append(tag, record...)
	return packet.Wrap(tag, streamID, packet.KindVideo, timestampMs, true, false), nil
}
