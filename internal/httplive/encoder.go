package httplive

import (
	"fmt"
	"io"

	"github.com/brightwing/streamcore/internal/flv"
	"github.com/brightwing/streamcore/internal/packet"
)

// Encoder serializes a batch of live packets onto the chunked HTTP response
// for one container format. Grounded on SrsLiveStream::do_serve_http's
// ISrsBufferEncoder family (SrsFlvStreamEncoder/SrsAacStreamEncoder/
// SrsMp3StreamEncoder/SrsTsStreamEncoder) collapsed into one Go interface,
// since every concrete encoder in the original differs only in Initialize
// and WriteTags.
type Encoder interface {
	ContentType() string
	// Initialize writes any container header (FLV's 13 bytes; TS's initial
	// PAT/PMT; none for AAC/MP3) using av presence hints derived from the
	// first batch when guessHasAV is set.
	Initialize(w io.Writer, hasVideo, hasAudio bool) error
	// WriteTags serializes pkts, previously filtered to the kinds this
	// encoder understands by the caller.
	WriteTags(w io.Writer, pkts []*packet.Packet) error
}

// newEncoder selects an Encoder for the extension a request path ended
// with. Mirrors do_serve_http's srs_strings_ends_with(entry_->pattern, ...)
// chain.
func newEncoder(ext string, cfg Config) (Encoder, error) {
	switch ext {
	case ".flv":
		return &flvEncoder{
			hasAudio:       cfg.HasAudio,
			hasVideo:       cfg.HasVideo,
			guessHasAV:     cfg.GuessHasAV,
			dropIfNotMatch: cfg.DropIfNotMatch,
		}, nil
	case ".aac":
		return &aacEncoder{}, nil
	case ".mp3":
		return &mp3Encoder{}, nil
	case ".ts":
		return newTSEncoder(), nil
	default:
		return nil, fmt.Errorf("httplive: invalid pattern extension %q", ext)
	}
}

// guessAV scans a batch for video/audio packet kinds, used by the FLV
// encoder's guess_has_av mode to decide header flags from the stream's
// actual content rather than static vhost configuration.
func guessAV(pkts []*packet.Packet) (hasVideo, hasAudio bool) {
	for _, p := range pkts {
		switch p.Kind {
		case packet.KindVideo:
			hasVideo = true
		case packet.KindAudio:
			hasAudio = true
		}
	}
	return hasVideo, hasAudio
}

// flvEncoder writes the FLV container: 13-byte header once, then one tag
// per packet. Grounded on SrsFlvStreamEncoder.
type flvEncoder struct {
	hasAudio, hasVideo bool
	guessHasAV         bool
	dropIfNotMatch     bool
}

func (e *flvEncoder) ContentType() string { return "video/x-flv" }

func (e *flvEncoder) Initialize(w io.Writer, hasVideo, hasAudio bool) error {
	if e.guessHasAV {
		e.hasVideo, e.hasAudio = hasVideo, hasAudio
	}
	return flv.WriteHeader(w, e.hasVideo, e.hasAudio)
}

func (e *flvEncoder) WriteTags(w io.Writer, pkts []*packet.Packet) error {
	for _, p := range pkts {
		if e.dropIfNotMatch {
			if p.Kind == packet.KindVideo && !e.hasVideo {
				continue
			}
			if p.Kind == packet.KindAudio && !e.hasAudio {
				continue
			}
		}
		if err := flv.WriteTag(w, p); err != nil {
			return err
		}
	}
	return nil
}

// aacEncoder writes a bare ADTS audio elementary stream: no container, one
// 7-byte ADTS header synthesized per raw AAC access unit from the
// AudioSpecificConfig carried by the stream's sequence-header packet.
// Grounded on SrsAacStreamEncoder, which does the same ADTS synthesis from
// the cached sequence header since FLV's AAC tags never carry it inline.
type aacEncoder struct {
	asc audioSpecificConfig
	got bool
}

func (e *aacEncoder) ContentType() string { return "audio/x-aac" }

func (e *aacEncoder) Initialize(io.Writer, bool, bool) error { return nil }

func (e *aacEncoder) WriteTags(w io.Writer, pkts []*packet.Packet) error {
	for _, p := range pkts {
		if p.Kind != packet.KindAudio || len(p.Payload) < 2 {
			continue
		}
		if p.SequenceHeader {
			if asc, ok := parseAudioSpecificConfig(p.Payload[2:]); ok {
				e.asc, e.got = asc, true
			}
			continue
		}
		if !e.got {
			continue
		}
		frame := p.Payload[2:]
		hdr := adtsHeader(e.asc, len(frame))
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
	}
	return nil
}

// mp3Encoder writes a bare MP3 elementary stream: each FLV audio tag for
// MP3 is already one self-framed MP3 frame (its own sync word), so this is
// a one-byte-header strip and passthrough. Grounded on SrsMp3StreamEncoder.
type mp3Encoder struct{}

func (e *mp3Encoder) ContentType() string { return "audio/mpeg" }

func (e *mp3Encoder) Initialize(io.Writer, bool, bool) error { return nil }

func (e *mp3Encoder) WriteTags(w io.Writer, pkts []*packet.Packet) error {
	for _, p := range pkts {
		if p.Kind != packet.KindAudio || len(p.Payload) < 1 {
			continue
		}
		if _, err := w.Write(p.Payload[1:]); err != nil {
			return err
		}
	}
	return nil
}

// audioSpecificConfig is the subset of MPEG-4 AudioSpecificConfig needed to
// synthesize an ADTS header: object type and sampling frequency index are
// fixed per stream, channel configuration likewise.
type audioSpecificConfig struct {
	profile        byte // ADTS profile = object type - 1
	samplingFreqID byte
	channelConfig  byte
}

// parseAudioSpecificConfig reads the first two bytes of an
// AudioSpecificConfig: 5 bits object type, 4 bits sampling frequency index,
// 4 bits channel configuration.
func parseAudioSpecificConfig(data []byte) (audioSpecificConfig, bool) {
	if len(data) < 2 {
		return audioSpecificConfig{}, false
	}
	objType := data[0] >> 3
	freqIdx := (data[0]&0x07)<<1 | data[1]>>7
	chanCfg := (data[1] >> 3) & 0x0F
	profile := objType
	if profile > 0 {
		profile--
	}
	return audioSpecificConfig{profile: profile, samplingFreqID: freqIdx, channelConfig: chanCfg}, true
}

// adtsHeader builds the 7-byte ADTS header (no CRC) for one AAC frame of
// frameLen bytes of raw payload.
func adtsHeader(asc audioSpecificConfig, frameLen int) [7]byte {
	var h [7]byte
	frameFullLen := frameLen + 7

	h[0] = 0xFF
	h[1] = 0xF1 // MPEG-4, layer 0, no CRC
	h[2] = asc.profile<<6 | asc.samplingFreqID<<2 | (asc.channelConfig>>2)&0x01
	h[3] = (asc.channelConfig&0x03)<<6 | byte(frameFullLen>>11)&0x03
	h[4] = byte(frameFullLen >> 3)
	h[5] = byte(frameFullLen<<5) | 0x1F
	h[6] = 0xFC
	return h
}
