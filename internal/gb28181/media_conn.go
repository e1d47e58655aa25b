package gb28181

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/brightwing/streamcore/internal/ps"
)

// reservedCarryMax bounds how much of a partially-decoded PS span is carried
// into the next read iteration; past this the original just drops it rather
// than let one bad device grow the buffer unbounded ("Drop too many
// reserved bytes" in do_cycle).
const reservedCarryMax = 128

// maxMediaFrame bounds the scratch buffer a MediaConn reuses across reads.
// Sized generously above LargePacketBytes so a handful of back-to-back large
// (but valid) packets still fit before reservedCarryMax trims the carry.
const maxMediaFrame = 4096

// MediaConn is one GB28181 media transport: an RFC 4571-framed TCP stream
// of RTP packets carrying PS data. Grounded on SrsGbMediaTcpConn::do_cycle /
// SrsRecoverablePsContext::decode_rtp in
// original_source/srs_app_gb28181.cpp. One connection lazily binds to
// exactly one Session, discovered from the SSRC of its first RTP packet.
type MediaConn struct {
	conn     net.Conn
	registry *Registry
	logger   *slog.Logger

	session *Session
	nnRTCP  uint64
}

func NewMediaConn(conn net.Conn, registry *Registry, logger *slog.Logger) *MediaConn {
	return &MediaConn{
		conn:     conn,
		registry: registry,
		logger:   logger.With("component", "gb28181_media_conn", "remote", conn.RemoteAddr()),
	}
}

// Serve runs the RFC 4571 read loop until the connection closes or a fatal
// decode error occurs (a large packet encountered during PS resync, or too
// many failed resync attempts — see internal/ps.RecoverableContext).
func (m *MediaConn) Serve() error {
	ctx := ps.NewRecoverableContext()
	buffer := make([]byte, maxMediaFrame)
	carry := 0 // bytes at buffer[0:carry] left over from an incomplete pack

	for {
		var lbuf [2]byte
		if _, err := io.ReadFull(m.conn, lbuf[:]); err != nil {
			return fmt.Errorf("gb28181: read length prefix: %w", err)
		}
		length := int(binary.BigEndian.Uint16(lbuf[:]))
		if length == 0 {
			return fmt.Errorf("gb28181: invalid zero-length RTP frame")
		}

		if length > ps.LargePacketBytes {
			m.logger.Warn("gb28181 large RTP frame", "length", length)
		}

		frame := make([]byte, length)
		if _, err := io.ReadFull(m.conn, frame); err != nil {
			return fmt.Errorf("gb28181: read frame body: %w", err)
		}

		if isRTCP(frame) {
			m.nnRTCP++
			if m.session != nil {
				m.session.dropRTCP()
			}
			continue
		}

		ssrc, payload, err := parseRTPPayload(frame)
		if err != nil {
			m.logger.Warn("gb28181 ignoring packet, cannot decode RTP header", "error", err)
			continue
		}

		if m.session == nil {
			m.session = m.registry.FindBySSRC(ssrc)
			if m.session == nil {
				m.logger.Warn("gb28181 ignoring packet, no session bound for SSRC", "ssrc", ssrc)
				continue
			}
			m.session.BindSSRC(ssrc)
		}

		if carry+len(payload) > len(buffer) {
			return fmt.Errorf("gb28181: payload %dB with %dB carried exceeds scratch buffer", len(payload), carry)
		}
		copy(buffer[carry:], payload)
		total := carry + len(payload)

		leftover, err := ctx.DecodeRTP(buffer[:total], carry, m.session)
		if err != nil {
			return fmt.Errorf("gb28181: decode pack: %w", err)
		}

		if leftover > reservedCarryMax {
			m.logger.Warn("gb28181 dropping oversized reserved span", "reserved", leftover)
			leftover = 0
		}
		if leftover > 0 {
			copy(buffer[0:leftover], buffer[total-leftover:total])
		}
		carry = leftover
	}
}

// parseRTPPayload strips the fixed RTP header, any CSRC list, extension, and
// padding (RFC 3550 §5.1), returning the SSRC and the opaque payload bytes.
// GB28181 PS-over-RTP payloads are plain MPEG-PS bytes, not NALU-structured,
// so internal/rtp's H.264/HEVC-aware classifier doesn't apply here — this is
// a minimal header strip scoped to this package's needs.
func parseRTPPayload(raw []byte) (ssrc uint32, payload []byte, err error) {
	if len(raw) < 12 {
		return 0, nil, fmt.Errorf("packet too short: %dB", len(raw))
	}
	if version := raw[0] >> 6; version != 2 {
		return 0, nil, fmt.Errorf("unsupported RTP version %d", version)
	}
	hasPadding := raw[0]&0x20 != 0
	hasExtension := raw[0]&0x10 != 0
	csrcCount := int(raw[0] & 0x0F)
	ssrc = binary.BigEndian.Uint32(raw[8:12])

	pos := 12 + csrcCount*4
	if pos > len(raw) {
		return 0, nil, fmt.Errorf("CSRC list exceeds packet length")
	}
	if hasExtension {
		if pos+4 > len(raw) {
			return 0, nil, fmt.Errorf("extension header truncated")
		}
		extWords := int(binary.BigEndian.Uint16(raw[pos+2 : pos+4]))
		pos += 4 + extWords*4
		if pos > len(raw) {
			return 0, nil, fmt.Errorf("extension exceeds packet length")
		}
	}

	end := len(raw)
	if hasPadding && end > pos {
		padLen := int(raw[end-1])
		if padLen > 0 && end-padLen >= pos {
			end -= padLen
		}
	}
	return ssrc, raw[pos:end], nil
}

// isRTCP distinguishes an RTCP packet from RTP on a multiplexed transport
// per RFC 5761 §4: RTCP packet types occupy [192,223] in the second byte,
// which never overlaps a valid RTP payload type.
func isRTCP(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	pt := data[1]
	return pt >= 192 && pt <= 223
}
