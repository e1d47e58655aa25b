package ps

import "fmt"

// RecoverableContext wraps Context with the resync behavior GB28181 ingest
// needs: on a decode failure, scan forward byte-by-byte for the next pack
// start code instead of tearing down the session. Grounded on
// SrsRecoverablePsContext in original_source/srs_app_gb28181.cpp.
type RecoverableContext struct {
	ctx      *Context
	recovers int
}

func NewRecoverableContext() *RecoverableContext {
	return &RecoverableContext{ctx: NewContext()}
}

// DecodeRTP demuxes one RTP payload's worth of PS data, given `payload` with
// the caller's leftover undecoded bytes from a previous incomplete pack
// already spliced onto the front (the first `reserved` bytes); the caller
// is responsible for that splice (stripping the new RTP packet's header and
// copying the old leftover span immediately before the new payload bytes —
// see internal/gb28181.MediaConn.Serve), since this package has no RTP
// awareness of its own. `reserved` isn't used to skip anything here: those
// leading bytes are genuine PS data that must be decoded along with the
// rest, not discarded; it's accepted purely so callers can mirror the
// original decode_rtp's signature. A payload over LargePacketBytes is not
// rejected here: it might still be a perfectly valid pack, just a large
// one, so it's the caller's job to log it and decode proceeds normally. It
// only becomes fatal in enterRecoverMode below, where a desync on a span
// this size is assumed unrecoverable. Returns the number of trailing bytes
// that form an incomplete pack and should be carried into the next call.
func (r *RecoverableContext) DecodeRTP(payload []byte, reserved int, handler Handler) (leftover int, err error) {
	return r.Decode(payload, handler)
}

// Decode demuxes one RTP payload's worth of data. While already in recover
// mode, it tries once to resync on this payload: found, it resumes parsing
// from the pack header and quits recover mode; not found, the whole
// payload is discarded (mirrors the original giving up on the current RTP
// packet rather than scanning across packet boundaries) and the recover
// counter advances. Outside recover mode, a parse failure anywhere in the
// payload discards the remainder of that payload and enters recover mode
// for the next call. Returns a fatal error once MaxRecoverAttempts is
// exceeded, or immediately if the span left undecoded at the point of
// failure exceeds LargePacketBytes. On success, returns how many trailing
// bytes form an incomplete pack still waiting for more data.
func (r *RecoverableContext) Decode(data []byte, handler Handler) (leftover int, err error) {
	pos := 0

	if r.recovers > 0 {
		skip, found := skipUntilPack(data)
		if !found {
			return 0, r.enterRecoverMode(data, handler)
		}
		r.quitRecoverMode()
		pos = skip
	}

	for pos < len(data) {
		consumed, err := r.ctx.Decode(data[pos:], handler)
		if err != nil {
			return 0, r.enterRecoverMode(data[pos:], handler)
		}
		if consumed == 0 {
			// Incomplete trailing pack; wait for more data next call.
			return len(data) - pos, nil
		}
		pos += consumed
	}
	return 0, nil
}

// enterRecoverMode is invoked at the point a resync is needed, with the
// span of data still undecoded. A span over LargePacketBytes is assumed to
// be correctly-lengthed but impossible to recover (the desync isn't a
// short framing glitch), so it fails the session immediately rather than
// counting against MaxRecoverAttempts.
func (r *RecoverableContext) enterRecoverMode(remaining []byte, handler Handler) error {
	r.recovers++

	if len(remaining) > LargePacketBytes {
		return fmt.Errorf("ps: no recover for large packet length=%dB", len(remaining))
	}
	if r.recovers > MaxRecoverAttempts {
		return fmt.Errorf("ps: exceeded max recover attempts (%d)", MaxRecoverAttempts)
	}
	handler.OnRecoverMode(r.recovers)
	return nil
}

func (r *RecoverableContext) quitRecoverMode() {
	r.recovers = 0
}

// skipUntilPack scans data for the next 00 00 01 BA pack start code,
// returning the number of bytes to skip and whether one was found. Mirrors
// srs_skip_util_pack's coarse-then-fine scan: skip 4 bytes while all four
// candidate bytes are nonzero (3 or 2 when only the leading three or two
// are), and fall back to byte-at-a-time when the first byte is zero.
func skipUntilPack(data []byte) (skip int, found bool) {
	pos := 0
	for pos+4 <= len(data) {
		p := data[pos:]
		switch {
		case p[0] != 0 && p[1] != 0 && p[2] != 0 && p[3] != 0:
			pos += 4
		case p[0] != 0 && p[1] != 0 && p[2] != 0:
			pos += 3
		case p[0] != 0 && p[1] != 0:
			pos += 2
		default:
			if p[0] == 0 && p[1] == 0 && p[2] == 1 && p[3] == 0xBA {
				return pos, true
			}
			pos++
		}
	}
	return pos, false
}
