package rtp

import "sync"

// CacheSize is the ring buffer width: large enough to hold a full access
// unit's worth of fragments plus reorder jitter (spec.md §4.2 recommends
// N>=512; SRS's own jitter buffer defaults to 1024).
const CacheSize = 1024

// PacketCache is a fixed-size sequence-number-indexed ring buffer. Slots
// are addressed by seq%CacheSize and tagged with the owning sequence number
// so stale entries (a slot wrapped around before being consumed) are
// distinguishable from a genuine cache hit.
type PacketCache struct {
	mu    sync.Mutex
	slots [CacheSize]*Packet
}

func NewPacketCache() *PacketCache {
	return &PacketCache{}
}

// Store indexes a packet by its sequence number, overwriting whatever
// previously lived at that slot.
func (c *PacketCache) Store(p *Packet) {
	if p == nil {
		return
	}
	c.mu.Lock()
	c.slots[p.Seq%CacheSize] = p
	c.mu.Unlock()
}

// Get returns the packet at seq, or nil if the slot is empty or holds a
// different (stale, wrapped-around) sequence number.
func (c *PacketCache) Get(seq uint16) *Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.slots[seq%CacheSize]
	if p != nil && p.Seq == seq {
		return p
	}
	return nil
}

// Take returns and clears the slot at seq, same staleness check as Get.
func (c *PacketCache) Take(seq uint16) *Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := seq % CacheSize
	p := c.slots[idx]
	if p != nil && p.Seq == seq {
		c.slots[idx] = nil
		return p
	}
	return nil
}

// Clear empties every slot, used when a frame detector resets after a
// publisher reconnect (new SSRC).
func (c *PacketCache) Clear() {
	c.mu.Lock()
	for i := range c.slots {
		c.slots[i] = nil
	}
	c.mu.Unlock()
}
