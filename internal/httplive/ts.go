package httplive

import (
	"encoding/binary"
	"io"

	"github.com/brightwing/streamcore/internal/packet"
)

// tsEncoder muxes video (H.264 only — HEVC-over-TS needs a registration
// descriptor this encoder doesn't emit) and AAC audio packets into an
// MPEG-2 Transport Stream: one PAT/PMT pair up front, then one PES-wrapped,
// 188-byte-packetized elementary stream per packet. There is no PAT/PMT/PES
// byte-level exemplar anywhere in the retrieval pack (original_source
// carries srs_app_http_stream.cpp but not srs_kernel_ts.*), so this is
// built directly from the ISO/IEC 13818-1 layout spec.md's own wire-format
// section already cites for MPEG-PS — the same standard, reversed from
// demux (internal/ps) to mux here.
type tsEncoder struct {
	pmtWritten bool
	asc        audioSpecificConfig
	gotASC     bool

	sps, pps []byte

	ccPAT, ccPMT, ccVideo, ccAudio byte
}

const (
	tsPacketSize = 188
	tsPIDPAT     = 0x0000
	tsPIDPMT     = 0x1000
	tsPIDVideo   = 0x0100
	tsPIDAudio   = 0x0101

	tsStreamTypeH264 = 0x1B
	tsStreamTypeAAC  = 0x0F
)

func newTSEncoder() *tsEncoder { return &tsEncoder{} }

func (e *tsEncoder) ContentType() string { return "video/MP2T" }

func (e *tsEncoder) Initialize(w io.Writer, _, _ bool) error {
	return e.writePATPMT(w)
}

func (e *tsEncoder) writePATPMT(w io.Writer) error {
	pat := buildPAT()
	if err := writeTSSection(w, tsPIDPAT, &e.ccPAT, pat); err != nil {
		return err
	}
	pmt := buildPMT()
	if err := writeTSSection(w, tsPIDPMT, &e.ccPMT, pmt); err != nil {
		return err
	}
	e.pmtWritten = true
	return nil
}

func (e *tsEncoder) WriteTags(w io.Writer, pkts []*packet.Packet) error {
	if !e.pmtWritten {
		if err := e.writePATPMT(w); err != nil {
			return err
		}
	}
	for _, p := range pkts {
		switch p.Kind {
		case packet.KindVideo:
			if err := e.writeVideo(w, p); err != nil {
				return err
			}
		case packet.KindAudio:
			if err := e.writeAudio(w, p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *tsEncoder) writeVideo(w io.Writer, p *packet.Packet) error {
	if len(p.Payload) < 5 {
		return nil
	}
	if p.SequenceHeader {
		sps, pps, ok := parseAVCDecoderConfig(p.Payload[5:])
		if ok {
			e.sps, e.pps = sps, pps
		}
		return nil
	}
	annexB := avccToAnnexB(p.Payload[5:])
	if len(annexB) == 0 {
		return nil
	}
	if p.Keyframe && len(e.sps) > 0 && len(e.pps) > 0 {
		prefix := append(annexBStartCode(e.sps), annexBStartCode(e.pps)...)
		annexB = append(prefix, annexB...)
	}
	pts := pcr90k(p.TimestampMs)
	pes := buildPES(0xE0, pts, pts, annexB)
	return writePES(w, tsPIDVideo, &e.ccVideo, pes, p.Keyframe, pts)
}

func (e *tsEncoder) writeAudio(w io.Writer, p *packet.Packet) error {
	if len(p.Payload) < 2 {
		return nil
	}
	if p.SequenceHeader {
		if asc, ok := parseAudioSpecificConfig(p.Payload[2:]); ok {
			e.asc, e.gotASC = asc, true
		}
		return nil
	}
	if !e.gotASC {
		return nil
	}
	frame := p.Payload[2:]
	hdr := adtsHeader(e.asc, len(frame))
	adts := append(append([]byte{}, hdr[:]...), frame...)

	pts := pcr90k(p.TimestampMs)
	pes := buildPES(0xC0, pts, 0, adts)
	return writePES(w, tsPIDAudio, &e.ccAudio, pes, false, 0)
}

// parseAVCDecoderConfig reads SPS/PPS out of an AVCDecoderConfigurationRecord
// (the body of an FLV AVC sequence header tag, after its 5-byte tag
// header), mirroring framebuilder.buildAVCSequenceHeader's layout in
// reverse.
func parseAVCDecoderConfig(rec []byte) (sps, pps []byte, ok bool) {
	if len(rec) < 6 {
		return nil, nil, false
	}
	pos := 5
	numSPS := rec[pos] & 0x1F
	pos++
	if numSPS == 0 || pos+2 > len(rec) {
		return nil, nil, false
	}
	spsLen := int(rec[pos])<<8 | int(rec[pos+1])
	pos += 2
	if pos+spsLen > len(rec) {
		return nil, nil, false
	}
	sps = rec[pos : pos+spsLen]
	pos += spsLen

	if pos >= len(rec) {
		return sps, nil, true
	}
	numPPS := rec[pos]
	pos++
	if numPPS == 0 || pos+2 > len(rec) {
		return sps, nil, true
	}
	ppsLen := int(rec[pos])<<8 | int(rec[pos+1])
	pos += 2
	if pos+ppsLen > len(rec) {
		return sps, nil, true
	}
	pps = rec[pos : pos+ppsLen]
	return sps, pps, true
}

// avccToAnnexB rewrites 4-byte-length-prefixed NALUs into start-code
// delimited Annex-B, the format TS elementary streams use.
func avccToAnnexB(data []byte) []byte {
	var out []byte
	pos := 0
	for pos+4 <= len(data) {
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if n <= 0 || pos+n > len(data) {
			break
		}
		out = append(out, annexBStartCode(data[pos:pos+n])...)
		pos += n
	}
	return out
}

func annexBStartCode(nalu []byte) []byte {
	out := make([]byte, 0, 4+len(nalu))
	out = append(out, 0x00, 0x00, 0x00, 0x01)
	return append(out, nalu...)
}

// pcr90k converts a millisecond timestamp to a 90kHz clock value, the unit
// PTS/DTS/PCR all share in MPEG-TS.
func pcr90k(ms uint32) uint64 { return uint64(ms) * 90 }
