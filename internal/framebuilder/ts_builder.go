package framebuilder

import (
	"fmt"

	"github.com/brightwing/streamcore/internal/packet"
	"github.com/brightwing/streamcore/internal/ps"
	"github.com/brightwing/streamcore/internal/rtp"
)

// TSBuilder converts internal/ps.Message access units — PES payloads
// demuxed from a GB28181 PS-over-RTP stream — into the same FLV-tag-shaped
// packet.Packets that RTCBuilder produces, so both ingest paths feed
// internal/livesource identically. Video payloads arrive in Annex-B
// (start-code delimited) format; audio arrives as back-to-back ADTS AAC
// frames. Parameter-set tracking and sequence-header construction are
// shared with RTCBuilder (scanParameterSets/filterParameterSets/
// containsKeyframe/encodeAVCCNALUs in rtc_builder.go) since both paths
// build the same AVC/HVCC records from the same NALU types.
type TSBuilder struct {
	videoCodec rtp.Codec

	sps, pps, vps []byte
	seqHeaderSent bool

	asc        []byte
	ascSent    bool
}

func NewTSBuilder(videoCodec rtp.Codec) *TSBuilder {
	return &TSBuilder{videoCodec: videoCodec}
}

// BuildVideoTag converts one PS video PES payload (Annex-B NALUs) into FLV
// video tag packets, using msg.DTS (90kHz) as the tag timestamp and
// msg.PTS-msg.DTS as the composition time offset.
func (b *TSBuilder) BuildVideoTag(msg *ps.Message, streamID string) ([]*packet.Packet, error) {
	nalus := splitAnnexB(msg.Payload)
	if len(nalus) == 0 {
		return nil, nil
	}

	scanParameterSetsInto(&b.sps, &b.pps, &b.vps, b.videoCodec, nalus)

	var out []*packet.Packet
	tsMs := uint32(msg.DTS / 90)
	if !b.seqHeaderSent && haveParameterSetsFor(b.videoCodec, b.sps, b.pps, b.vps) {
		seq, err := buildVideoSequenceHeader(b.videoCodec, b.sps, b.pps, b.vps, streamID, tsMs)
		if err != nil {
			return nil, err
		}
		out = append(out, seq)
		b.seqHeaderSent = true
	}

	media := filterParameterSets(b.videoCodec, nalus)
	if len(media) == 0 {
		return out, nil
	}
	keyframe := containsKeyframe(b.videoCodec, media)
	body := encodeAVCCNALUs(media)
	if len(body) == 0 {
		return out, nil
	}

	frameType := byte(2)
	if keyframe {
		frameType = 1
	}

	cts := uint32(0)
	if msg.PTS > msg.DTS {
		cts = uint32((msg.PTS - msg.DTS) / 90)
	}

	var tag []byte
	if b.videoCodec == rtp.CodecHEVC {
		tag = buildEnhancedVideoHeader(frameType, exVideoPacketTypeCodedFrames, cts)
	} else {
		tag = []byte{frameType<<4 | 7, 0x01, byte(cts >> 16), byte(cts >> 8), byte(cts)} // codecID=7 (AVC), AVCPacketType=NALU
	}
	tag = append(tag, body...)

	out = append(out, packet.Wrap(tag, streamID, packet.KindVideo, tsMs, false, keyframe))
	return out, nil
}

// BuildAudioTag converts one PS audio PES payload (concatenated ADTS AAC
// frames) into FLV audio tag packets.
func (b *TSBuilder) BuildAudioTag(msg *ps.Message, streamID string) ([]*packet.Packet, error) {
	frames, asc, err := decodeADTSFrames(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("framebuilder: adts: %w", err)
	}
	if len(frames) == 0 {
		return nil, nil
	}

	tsMs := uint32(msg.DTS / 90)
	var out []*packet.Packet
	if !b.ascSent && asc != nil {
		b.asc = asc
		seqTag := append([]byte{10<<4 | 0x03, 0x00}, b.asc...)
		out = append(out, packet.Wrap(seqTag, streamID, packet.KindAudio, tsMs, true, false))
		b.ascSent = true
	}
	for _, f := range frames {
		tag := append([]byte{10<<4 | 0x03, 0x01}, f...)
		out = append(out, packet.Wrap(tag, streamID, packet.KindAudio, tsMs, false, false))
	}
	return out, nil
}

// splitAnnexB splits a start-code-delimited (00 00 01 or 00 00 00 01) NALU
// stream into individual NALUs (start codes stripped).
func splitAnnexB(data []byte) [][]byte {
	var starts []int
	for i := 0; i+2 < len(data); i++ {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			starts = append(starts, i+3)
		}
	}
	if len(starts) == 0 {
		return nil
	}
	var out [][]byte
	for i, s := range starts {
		end := len(data)
		if i+1 < len(starts) {
			end = starts[i+1] - 3
			if end > 0 && data[end-1] == 0 {
				end-- // trailing zero belongs to the 4-byte start code variant
			}
		}
		if end > s {
			out = append(out, data[s:end])
		}
	}
	return out
}

// scanParameterSetsInto is RTCBuilder.scanParameterSets generalized to
// operate on caller-owned fields instead of builder state, so TSBuilder can
// reuse the same classification logic without embedding RTCBuilder.
func scanParameterSetsInto(sps, pps, vps *[]byte, codec rtp.Codec, nalus [][]byte) {
	for _, n := range nalus {
		if len(n) == 0 {
			continue
		}
		if codec == rtp.CodecHEVC {
			t := (n[0] >> 1) & 0x3F
			switch t {
			case naluVPS:
				*vps = n
			case naluHEVCSPS:
				*sps = n
			case naluHEVCPPS:
				*pps = n
			}
			continue
		}
		t := n[0] & 0x1F
		switch t {
		case naluSPS:
			*sps = n
		case naluPPS:
			*pps = n
		}
	}
}

func haveParameterSetsFor(codec rtp.Codec, sps, pps, vps []byte) bool {
	if codec == rtp.CodecHEVC {
		return len(vps) > 0 && len(sps) > 0 && len(pps) > 0
	}
	return len(sps) > 0 && len(pps) > 0
}

func buildVideoSequenceHeader(codec rtp.Codec, sps, pps, vps []byte, streamID string, tsMs uint32) (*packet.Packet, error) {
	b := &RTCBuilder{codec: codec, sps: sps, pps: pps, vps: vps}
	return b.buildSequenceHeader(streamID, tsMs)
}

// decodeADTSFrames strips ADTS headers from a back-to-back AAC frame
// stream, returning the raw frame payloads plus a 2-byte AudioSpecificConfig
// derived from the first frame's header fields (audioObjectType =
// profile+1, samplingFrequencyIndex, channelConfiguration — the ISO/IEC
// 14496-3 basic ASC layout).
func decodeADTSFrames(data []byte) ([][]byte, []byte, error) {
	var frames [][]byte
	var asc []byte
	pos := 0
	for pos+7 <= len(data) {
		if data[pos] != 0xFF || data[pos+1]&0xF0 != 0xF0 {
			break
		}
		protectionAbsent := data[pos+1] & 0x01
		headerLen := 7
		if protectionAbsent == 0 {
			headerLen = 9
		}
		profile := (data[pos+2] >> 6) & 0x03
		samplingFreqIdx := (data[pos+2] >> 2) & 0x0F
		channelConfig := ((data[pos+2] & 0x01) << 2) | (data[pos+3] >> 6)
		frameLen := (int(data[pos+3]&0x03) << 11) | (int(data[pos+4]) << 3) | (int(data[pos+5]) >> 5)
		if frameLen < headerLen || pos+frameLen > len(data) {
			break
		}
		if asc == nil {
			objType := profile + 1
			asc = []byte{
				objType<<3 | (samplingFreqIdx >> 1),
				(samplingFreqIdx&0x01)<<7 | channelConfig<<3,
			}
		}
		frames = append(frames, data[pos+headerLen:pos+frameLen])
		pos += frameLen
	}
	if len(frames) == 0 {
		return nil, nil, fmt.Errorf("no complete ADTS frame found")
	}
	return frames, asc, nil
}
