package rtp

import "sync"

// FrameDetector tracks, per SSRC, the sequence-number window of the access
// unit currently being assembled: a header sequence number (first packet of
// the frame), the next sequence number expected to complete it (lost_sn,
// used as the NACK candidate when the walk stalls), and the RTP timestamp
// that identifies the frame in progress. Grounded on gtfodev-camsRelay's
// H264Processor state machine, generalized from single-pass streaming into
// a cache-and-walk model: SRS's boundary rule needs to look ahead past the
// packet that just arrived, which a purely streaming processor can't do.
type FrameDetector struct {
	mu         sync.Mutex
	headerSN   uint16
	lostSN     uint16
	keyFrameTS int64 // -1 when no frame is in progress
	started    bool
}

func NewFrameDetector() *FrameDetector {
	return &FrameDetector{keyFrameTS: -1}
}

// seqBefore reports whether a precedes b on the sequence-number circle,
// using the standard RFC 1982-style signed-difference comparison.
func seqBefore(a, b uint16) bool {
	return int16(a-b) < 0
}

// OnFrameStart (re)anchors the detector on the first packet of a new access
// unit. Idempotent for repeated calls with the same RTP timestamp (a
// retransmission or duplicate of the header packet).
func (d *FrameDetector) OnFrameStart(seq uint16, timestamp uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started && d.keyFrameTS == int64(timestamp) {
		return
	}
	d.headerSN = seq
	d.lostSN = seq + 1
	d.keyFrameTS = int64(timestamp)
	d.started = true
}

// OnFrameDetached clears the in-progress frame, forcing the next DetectFrame
// call to treat every cached packet as belonging to a new frame (used after
// a cache-capacity overflow or an SSRC change).
func (d *FrameDetector) OnFrameDetached() {
	d.mu.Lock()
	d.started = false
	d.keyFrameTS = -1
	d.mu.Unlock()
}

// IsLostSN reports whether seq is the sequence number the detector is
// currently waiting on — the caller's signal to issue a retransmit request.
func (d *FrameDetector) IsLostSN(seq uint16) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started && seq == d.lostSN
}

// findNextLostSN walks the cache forward from start, applying the
// completion rule: a marker bit ends the frame at the current slot; a
// timestamp change ends the frame at the previous slot (the new-timestamp
// packet belongs to the next frame, not this one); a missing slot is the
// lost sequence number to report. Returns ok=false with the lost sequence
// number, or ok=true with the inclusive end sequence number of the
// completed frame. overflow=true means the walk exhausted the cache window
// without completing or finding a gap — the caller should detach and
// restart from the most recent packet.
func findNextLostSN(cache *PacketCache, start uint16, keyTS int64) (end uint16, ok bool, overflow bool) {
	seq := start
	for i := 0; i < CacheSize-1; i++ {
		p := cache.Get(seq)
		if p == nil {
			return seq, false, false
		}
		if p.Marker {
			return seq, true, false
		}
		if keyTS >= 0 && int64(p.Timestamp) != keyTS {
			return seq - 1, true, false
		}
		seq++
	}
	return 0, false, true
}

// DetectFrame re-walks the cache for the frame currently anchored by
// OnFrameStart, given that a packet at seq has just arrived. If seq
// precedes the current header (an out-of-order packet arriving before what
// was believed to be the first packet of the frame), the header moves back
// to seq. Returns the frame's [start,end] sequence range and ready=true
// once a marker bit or timestamp boundary completes it; otherwise ready is
// false and lostSN reports the sequence number still missing.
func (d *FrameDetector) DetectFrame(cache *PacketCache, seq uint16) (start, end uint16, ready bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return 0, 0, false
	}
	if seqBefore(seq, d.headerSN) {
		d.headerSN = seq
	}
	endSN, ok, overflow := findNextLostSN(cache, d.headerSN, d.keyFrameTS)
	if overflow {
		d.started = false
		d.keyFrameTS = -1
		return d.headerSN, 0, false
	}
	if ok {
		d.lostSN = 0
		return d.headerSN, endSN, true
	}
	d.lostSN = endSN
	return d.headerSN, 0, false
}

// DetectNextFrame re-anchors the header at fromSeq (the first packet of the
// next frame, typically end+1 of a just-completed frame) and immediately
// attempts to walk it, used when the cache already holds the next frame's
// packets (burst arrival).
func (d *FrameDetector) DetectNextFrame(cache *PacketCache, fromSeq uint16, timestamp uint32) (start, end uint16, ready bool) {
	d.mu.Lock()
	d.headerSN = fromSeq
	d.lostSN = fromSeq
	d.keyFrameTS = int64(timestamp)
	d.started = true
	d.mu.Unlock()
	return d.DetectFrame(cache, fromSeq)
}

// CheckFrameComplete reports whether every FU-A/FU fragment in [start,end]
// has a matching start and end marker, i.e. no fragment run was cut short
// by a dropped packet inside the range. Non-fragmented (Raw, STAP-A)
// packets don't participate in the count. A range where end does not fall
// within one cache window of start (end precedes start by more than
// CacheSize-1, the "negative distance" case) is rejected as invalid rather
// than walked, since iterating it would either wrap around the whole cache
// or read slots that were never part of this frame.
func CheckFrameComplete(cache *PacketCache, start, end uint16) bool {
	distance := int(end - start) // uint16 subtraction wraps into [0,65535]
	if distance > CacheSize-1 {
		return false
	}
	starts, ends := 0, 0
	seq := start
	for i := 0; i <= distance; i++ {
		if p := cache.Get(seq); p != nil {
			switch p.Kind {
			case PayloadFUA, PayloadFUv2:
				if p.FragStart {
					starts++
				}
				if p.FragEnd {
					ends++
				}
			}
		}
		seq++
	}
	return starts == ends
}
