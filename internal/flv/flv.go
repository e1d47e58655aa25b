// Package flv implements the FLV container framing shared by the
// recorded-file writer and the HTTP-FLV live stream handler: the 13-byte
// file header and the 11-byte tag + PreviousTagSize framing. Lifted out of
// the teacher's internal/rtmp/media recorder.go (writeHeader/writeTagLocked),
// which kept this logic private to its single file writer; internal/httplive
// needs the identical framing over a chunked HTTP response, so it lives here
// instead of being duplicated a second time.
package flv

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/brightwing/streamcore/internal/packet"
)

// FLV tag type ids (ISO base, as used throughout the FLV/RTMP ecosystem).
const (
	TagTypeAudio  uint8 = 8
	TagTypeVideo  uint8 = 9
	TagTypeScript uint8 = 18
)

// WriteHeader writes the 9-byte FLV signature/version/flags header plus the
// 4-byte PreviousTagSize0 trailer every FLV reader expects before the first
// real tag.
func WriteHeader(w io.Writer, hasVideo, hasAudio bool) error {
	var flags byte
	if hasVideo {
		flags |= 0x01
	}
	if hasAudio {
		flags |= 0x04
	}
	header := []byte{'F', 'L', 'V', 0x01, flags, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00}
	_, err := w.Write(header)
	return err
}

// TagType maps a packet.Kind to its FLV tag type, reporting false for a
// kind FLV has no tag type for.
func TagType(k packet.Kind) (uint8, bool) {
	switch k {
	case packet.KindVideo:
		return TagTypeVideo, true
	case packet.KindAudio:
		return TagTypeAudio, true
	case packet.KindScript:
		return TagTypeScript, true
	default:
		return 0, false
	}
}

// WriteTag writes one FLV tag: 11-byte tag header, payload, 4-byte
// PreviousTagSize.
func WriteTag(w io.Writer, p *packet.Packet) error {
	tagType, ok := TagType(p.Kind)
	if !ok {
		return fmt.Errorf("flv: no tag type for packet kind %s", p.Kind)
	}
	dataSize := len(p.Payload)
	if dataSize > 0xFFFFFF {
		return fmt.Errorf("flv: payload too large for a tag: %dB", dataSize)
	}
	ts := p.TimestampMs

	var hdr [11]byte
	hdr[0] = tagType
	hdr[1] = byte(dataSize >> 16)
	hdr[2] = byte(dataSize >> 8)
	hdr[3] = byte(dataSize)
	hdr[4] = byte(ts >> 16)
	hdr[5] = byte(ts >> 8)
	hdr[6] = byte(ts)
	hdr[7] = byte(ts >> 24)
	// bytes 8-10 (StreamID) stay zero.

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if dataSize > 0 {
		if _, err := w.Write(p.Payload); err != nil {
			return err
		}
	}
	var sz [4]byte
	binary.BigEndian.PutUint32(sz[:], uint32(11+dataSize))
	_, err := w.Write(sz[:])
	return err
}
