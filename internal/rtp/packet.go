// Package rtp implements the per-SSRC RTP video depacketizer: packet
// classification, a fixed-size jitter-bounded cache, and frame-boundary
// detection (spec.md §4.2). Wire parsing is delegated to
// github.com/pion/rtp, the same library gtfodev-camsRelay and
// n0remac-robot-webrtc use for RTP header decode.
package rtp

import (
	"fmt"

	pionrtp "github.com/pion/rtp"
)

// Codec selects the NALU-type table used to classify a payload.
type Codec uint8

const (
	CodecH264 Codec = iota
	CodecHEVC
)

// PayloadKind is the RTP payload-type tag from spec.md §3 (RtpPacket).
type PayloadKind uint8

const (
	PayloadRaw   PayloadKind = iota
	PayloadSTAPA             // H.264 STAP-A / HEVC aggregation packet
	PayloadFUA               // H.264 FU-A (RFC 6184 §5.8)
	PayloadFUv2              // HEVC FU (RFC 7798 §4.4.3)
)

// H.264 NALU types of interest.
const (
	naluH264Slice = 1
	naluH264IDR   = 5
	naluH264SPS   = 7
	naluH264PPS   = 8
	naluH264STAPA = 24
	naluH264FUA   = 28
)

// HEVC NALU types of interest (RFC 7798).
const (
	naluHEVCVPS    = 32
	naluHEVCSPS    = 33
	naluHEVCPPS    = 34
	naluHEVCAP     = 48
	naluHEVCFU     = 49
	hevcIRAPMin    = 16
	hevcIRAPMaxExc = 24 // IRAP NALU types are [16,23]
)

// Packet is one arrived RTP packet, carrying header fields plus the
// discriminator derived from the codec's NALU type table. Marker bit true
// means this is the last packet of an access unit (RFC 6184/7798).
type Packet struct {
	Seq         uint16
	Timestamp   uint32
	SSRC        uint32
	Marker      bool
	PayloadType uint8

	Kind       PayloadKind
	NaluType   uint8 // reconstructed NALU type (post FU-header for fragments)
	Keyframe   bool
	FragStart  bool // FU-A/FU start fragment
	FragEnd    bool // FU-A/FU end fragment
	NaluBody   []byte
}

// Parse decodes a raw RTP packet and classifies its payload per codec.
func Parse(raw []byte, codec Codec) (*Packet, error) {
	var hdr pionrtp.Packet
	if err := hdr.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("rtp: unmarshal: %w", err)
	}
	p := &Packet{
		Seq:         hdr.SequenceNumber,
		Timestamp:   hdr.Timestamp,
		SSRC:        hdr.SSRC,
		Marker:      hdr.Marker,
		PayloadType: hdr.PayloadType,
	}
	if len(hdr.Payload) == 0 {
		p.Kind = PayloadRaw
		return p, nil
	}
	switch codec {
	case CodecHEVC:
		classifyHEVC(p, hdr.Payload)
	default:
		classifyH264(p, hdr.Payload)
	}
	return p, nil
}

func classifyH264(p *Packet, payload []byte) {
	naluType := payload[0] & 0x1F
	switch naluType {
	case naluH264STAPA:
		p.Kind = PayloadSTAPA
		p.NaluBody = payload[1:]
	case naluH264FUA:
		p.Kind = PayloadFUA
		if len(payload) < 2 {
			return
		}
		fuHeader := payload[1]
		p.FragStart = fuHeader&0x80 != 0
		p.FragEnd = fuHeader&0x40 != 0
		p.NaluType = fuHeader & 0x1F
		p.NaluBody = payload[2:]
		p.Keyframe = p.NaluType == naluH264IDR
	default:
		p.Kind = PayloadRaw
		p.NaluType = naluType
		p.NaluBody = payload
		p.Keyframe = naluType == naluH264IDR
	}
}

func classifyHEVC(p *Packet, payload []byte) {
	if len(payload) < 2 {
		p.Kind = PayloadRaw
		p.NaluBody = payload
		return
	}
	naluType := (payload[0] >> 1) & 0x3F
	switch naluType {
	case naluHEVCAP:
		p.Kind = PayloadSTAPA
		p.NaluBody = payload[2:]
	case naluHEVCFU:
		p.Kind = PayloadFUv2
		if len(payload) < 3 {
			return
		}
		fuHeader := payload[2]
		p.FragStart = fuHeader&0x80 != 0
		p.FragEnd = fuHeader&0x40 != 0
		p.NaluType = fuHeader & 0x3F
		p.NaluBody = payload[3:]
		p.Keyframe = isHEVCIRAP(p.NaluType)
	default:
		p.Kind = PayloadRaw
		p.NaluType = naluType
		p.NaluBody = payload
		p.Keyframe = isHEVCIRAP(naluType)
	}
}

func isHEVCIRAP(naluType uint8) bool {
	return naluType >= hevcIRAPMin && naluType < hevcIRAPMaxExc
}

// IsSPS / IsPPS / IsVPS report whether the packet (or, for STAP-A payloads,
// the NALUs it aggregates — checked by the caller iterating NaluBody) is a
// parameter-set NALU. For Raw and FU packets NaluType is already resolved.
func (p *Packet) IsSPS(codec Codec) bool {
	if codec == CodecHEVC {
		return p.NaluType == naluHEVCSPS
	}
	return p.NaluType == naluH264SPS
}

func (p *Packet) IsPPS(codec Codec) bool {
	if codec == CodecHEVC {
		return p.NaluType == naluHEVCPPS
	}
	return p.NaluType == naluH264PPS
}

func (p *Packet) IsVPS() bool { return p.NaluType == naluHEVCVPS }
