package rtp

import "testing"

func storeRaw(t *testing.T, cache *PacketCache, seq uint16, ts uint32, marker bool) {
	t.Helper()
	cache.Store(&Packet{Seq: seq, Timestamp: ts, Marker: marker, Kind: PayloadRaw})
}

func storeFUA(t *testing.T, cache *PacketCache, seq uint16, ts uint32, marker, start, end bool) {
	t.Helper()
	cache.Store(&Packet{Seq: seq, Timestamp: ts, Marker: marker, Kind: PayloadFUA, FragStart: start, FragEnd: end})
}

func TestFrameDetectorCompletesOnMarker(t *testing.T) {
	cache := NewPacketCache()
	storeRaw(t, cache, 100, 1000, false)
	storeRaw(t, cache, 101, 1000, false)
	storeRaw(t, cache, 102, 1000, true)

	d := NewFrameDetector()
	d.OnFrameStart(100, 1000)

	start, end, ready := d.DetectFrame(cache, 102)
	if !ready {
		t.Fatalf("expected frame ready")
	}
	if start != 100 || end != 102 {
		t.Fatalf("unexpected range: start=%d end=%d", start, end)
	}
}

func TestFrameDetectorCompletesOnTimestampBoundary(t *testing.T) {
	cache := NewPacketCache()
	storeRaw(t, cache, 100, 1000, false)
	storeRaw(t, cache, 101, 1000, false)
	storeRaw(t, cache, 102, 2000, false) // next frame's header, no marker seen yet

	d := NewFrameDetector()
	d.OnFrameStart(100, 1000)

	start, end, ready := d.DetectFrame(cache, 101)
	if !ready {
		t.Fatalf("expected frame ready at timestamp boundary")
	}
	if start != 100 || end != 101 {
		t.Fatalf("unexpected range: start=%d end=%d", start, end)
	}
}

func TestFrameDetectorReportsLostSN(t *testing.T) {
	cache := NewPacketCache()
	storeRaw(t, cache, 100, 1000, false)
	// 101 missing
	storeRaw(t, cache, 102, 1000, true)

	d := NewFrameDetector()
	d.OnFrameStart(100, 1000)

	_, _, ready := d.DetectFrame(cache, 100)
	if ready {
		t.Fatalf("expected frame incomplete with a gap")
	}
	if !d.IsLostSN(101) {
		t.Fatalf("expected lost sequence number 101")
	}
}

func TestFrameDetectorHeaderMovesBackOnReorder(t *testing.T) {
	cache := NewPacketCache()
	storeRaw(t, cache, 99, 1000, false)
	storeRaw(t, cache, 100, 1000, false)
	storeRaw(t, cache, 101, 1000, true)

	d := NewFrameDetector()
	d.OnFrameStart(100, 1000)

	start, end, ready := d.DetectFrame(cache, 99)
	if !ready {
		t.Fatalf("expected frame ready")
	}
	if start != 99 || end != 101 {
		t.Fatalf("expected header to move back to 99: start=%d end=%d", start, end)
	}
}

func TestOnFrameStartIdempotentForSameTimestamp(t *testing.T) {
	d := NewFrameDetector()
	d.OnFrameStart(50, 5000)
	d.OnFrameStart(60, 5000) // duplicate/retransmit of the header packet

	if d.headerSN != 50 {
		t.Fatalf("expected header to stay at 50, got %d", d.headerSN)
	}
}

func TestCheckFrameCompleteMatchedFragments(t *testing.T) {
	cache := NewPacketCache()
	storeFUA(t, cache, 10, 1000, false, true, false)
	storeFUA(t, cache, 11, 1000, false, false, false)
	storeFUA(t, cache, 12, 1000, true, false, true)

	if !CheckFrameComplete(cache, 10, 12) {
		t.Fatalf("expected complete: matched FU-A start/end")
	}
}

func TestCheckFrameCompleteUnmatchedFragment(t *testing.T) {
	cache := NewPacketCache()
	storeFUA(t, cache, 10, 1000, false, true, false)
	// end fragment missing from the cache entirely
	storeRaw(t, cache, 11, 1000, true)

	if CheckFrameComplete(cache, 10, 11) {
		t.Fatalf("expected incomplete: FU-A start with no matching end")
	}
}

func TestCheckFrameCompleteRejectsInvalidRange(t *testing.T) {
	cache := NewPacketCache()
	if CheckFrameComplete(cache, 5, 3) {
		t.Fatalf("expected false for end preceding start beyond one cache window")
	}
}

func TestPacketCacheStaleSlotMiss(t *testing.T) {
	cache := NewPacketCache()
	storeRaw(t, cache, 5, 1000, false)
	// same slot, CacheSize later: wraps to the same index but a different seq
	storeRaw(t, cache, 5+CacheSize, 2000, false)

	if p := cache.Get(5); p != nil {
		t.Fatalf("expected stale slot to miss, got seq=%d", p.Seq)
	}
	if p := cache.Get(5 + CacheSize); p == nil || p.Timestamp != 2000 {
		t.Fatalf("expected current slot to hit")
	}
}
