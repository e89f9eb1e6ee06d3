// Package retransmit implements the bounded per-stream retransmit cache
// (NACK/RTX buffer) and the inbound NACK-generation window described in
// spec §4.4.
package retransmit

import (
	"container/list"
	"time"
)

// DefaultCapacity is the default K from spec §4.4 (default K=300).
const DefaultCapacity = 300

// Packet is one cached outbound RTP packet, stored verbatim so a NACK hit
// can be retransmitted byte-identical (I2).
type Packet struct {
	Seq       uint16
	Payload   []byte
	CachedAt  time.Time
}

// Buffer is a FIFO of the last Capacity sent RTP packets for one media
// lane of one direction, plus a seq->element index for O(1) lookup. Not
// safe for concurrent use; callers hold the owning Component's mutex.
type Buffer struct {
	capacity int
	order    *list.List // front = oldest
	index    map[uint16]*list.Element

	nextRTXSeq uint16

	// dedup suppresses replying twice to the same (seq, ~10ms)
	// NACK request.
	dedup map[uint16]time.Time
}

// NewBuffer returns an empty Buffer with the given capacity (0 means
// DefaultCapacity).
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[uint16]*list.Element, capacity),
		dedup:    make(map[uint16]time.Time),
	}
}

// Push records a newly sent packet, evicting the oldest entry once the
// buffer is at capacity (invariant d in spec §3).
func (b *Buffer) Push(seq uint16, payload []byte, now time.Time) {
	if old, ok := b.index[seq]; ok {
		b.order.Remove(old)
		delete(b.index, seq)
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)

	el := b.order.PushBack(&Packet{Seq: seq, Payload: cp, CachedAt: now})
	b.index[seq] = el

	for b.order.Len() > b.capacity {
		front := b.order.Front()
		b.order.Remove(front)
		delete(b.index, front.Value.(*Packet).Seq)
	}
}

// Lookup returns the cached packet for seq, if still in the window.
func (b *Buffer) Lookup(seq uint16) (*Packet, bool) {
	el, ok := b.index[seq]
	if !ok {
		return nil, false
	}
	return el.Value.(*Packet), true
}

// Len reports how many packets are currently cached.
func (b *Buffer) Len() int { return b.order.Len() }

// NextRTXSeq returns the next monotonically increasing rtx_seq_number to
// stamp on an RFC 4588 retransmission, per spec §4.4.
func (b *Buffer) NextRTXSeq() uint16 {
	v := b.nextRTXSeq
	b.nextRTXSeq++
	return v
}

// dedupWindowDur is the ~10ms window spec §4.4 calls for deduplicating
// replies to the same requested sequence number.
const dedupWindowDur = 10 * time.Millisecond

// ShouldReply reports whether a NACK request for seq, arriving now,
// should produce a retransmission (true) or be suppressed as a duplicate
// of a very recent reply (false). On true, it records the reply time.
func (b *Buffer) ShouldReply(seq uint16, now time.Time) bool {
	if last, ok := b.dedup[seq]; ok && now.Sub(last) < dedupWindowDur {
		return false
	}
	b.dedup[seq] = now
	// Opportunistically prune old dedup entries so the map does not grow
	// without bound across a long session.
	if len(b.dedup) > 4*b.capacity {
		for s, t := range b.dedup {
			if now.Sub(t) > dedupWindowDur {
				delete(b.dedup, s)
			}
		}
	}
	return true
}

// BLPRequested expands a (PID, BLP) pair from an RTCP Generic NACK into
// the list of sequence numbers requested, matching spec scenario 3:
// PID is always requested; bit i of BLP (0-indexed) additionally
// requests PID+1+i.
func BLPRequested(pid uint16, blp uint16) []uint16 {
	out := []uint16{pid}
	for i := 0; i < 16; i++ {
		if blp&(1<<uint(i)) != 0 {
			out = append(out, pid+1+uint16(i))
		}
	}
	return out
}
