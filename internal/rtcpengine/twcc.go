package rtcpengine

import (
	"encoding/binary"
	"math/rand"
	"time"

	"github.com/pion/rtcp"
)

// twccReportInterval and twccReportCount bound how often feedback is
// produced: on a 100ms tick, or sooner once enough packets have piled up
// (spec §4.5: "every 100 ms" or "pending-received list crosses a
// threshold").
const (
	twccReportInterval = 100 * time.Millisecond
	twccReportCount    = 100
	twccMinCount       = 20

	symbolNotReceived   = 0
	symbolSmallDelta    = 1
	symbolLargeDelta    = 2
	statusVectorPerChunk = 7 // 2-bit symbols packed into one 16-bit chunk
)

type twccEntry struct {
	extSeq  uint32
	arrival time.Time
}

// TWCC accumulates per-packet transport-wide sequence/arrival pairs for
// one media SSRC and builds RTCP transport-wide congestion control
// feedback packets (draft-holmer-rmcat-transport-wide-cc-extensions-01),
// encoded by hand into an rtcp.RawPacket since the wire format is a
// bespoke bitpacked layout rather than a generic RTCP report.
type TWCC struct {
	mediaSSRC  uint32
	senderSSRC uint32
	fbCount    uint8

	pending    []twccEntry
	lastReport time.Time
	cycles     uint32
	haveSeq    bool
	lastRawSeq uint16
}

// NewTWCC returns a TWCC feedback generator for mediaSSRC.
func NewTWCC(mediaSSRC uint32) *TWCC {
	return &TWCC{mediaSSRC: mediaSSRC, senderSSRC: rand.Uint32()}
}

// Push records one received packet's transport-wide sequence number and
// arrival time, expanding 16-bit wraps into an internal 32-bit space so
// gaps (losses) show up as missing entries in the eventual feedback.
func (t *TWCC) Push(seq uint16, arrival time.Time) {
	if t.haveSeq && int32(seq)-int32(t.lastRawSeq) < -0x8000 {
		t.cycles++
	}
	t.haveSeq = true
	t.lastRawSeq = seq
	t.pending = append(t.pending, twccEntry{extSeq: t.cycles<<16 | uint32(seq), arrival: arrival})
}

// Ready reports whether enough time or enough packets have accumulated
// to emit feedback now.
func (t *TWCC) Ready(now time.Time) bool {
	if len(t.pending) == 0 {
		return false
	}
	if len(t.pending) >= twccReportCount {
		return true
	}
	return len(t.pending) >= twccMinCount && now.Sub(t.lastReport) >= twccReportInterval
}

// Build drains the pending list and returns one feedback packet, or nil
// if nothing is pending.
func (t *TWCC) Build(now time.Time) rtcp.RawPacket {
	if len(t.pending) == 0 {
		return nil
	}
	entries := t.pending
	t.pending = nil
	t.lastReport = now

	base := entries[0].extSeq
	last := entries[len(entries)-1].extSeq
	count := last - base + 1
	if count == 0 || count > 0x7FFF {
		// Degenerate ordering (out-of-order base beyond what we track);
		// fall back to a 1:1 window with no gaps represented.
		count = uint32(len(entries))
	}

	byExt := make(map[uint32]time.Time, len(entries))
	for _, e := range entries {
		byExt[e.extSeq] = e.arrival
	}

	refTime := entries[0].arrival
	refUnits := int32(refTime.UnixNano() / int64(64*time.Millisecond))

	symbols := make([]uint8, count)
	deltas := make([]byte, 0, count*2)
	var timelineUS int64
	first := true

	for i := uint32(0); i < count; i++ {
		seq := base + i
		arrival, ok := byExt[seq]
		if !ok {
			symbols[i] = symbolNotReceived
			continue
		}
		if first {
			first = false
			timelineUS = int64(refUnits) * 64000
			symbols[i] = symbolSmallDelta
			deltas = append(deltas, 0)
			timelineUS = arrival.UnixNano() / 1000
			continue
		}
		deltaUnits := (arrival.UnixNano()/1000 - timelineUS) / 250
		timelineUS = arrival.UnixNano() / 1000
		if deltaUnits >= -128 && deltaUnits <= 127 {
			symbols[i] = symbolSmallDelta
			deltas = append(deltas, byte(int8(deltaUnits)))
		} else {
			symbols[i] = symbolLargeDelta
			d16 := clampInt16(deltaUnits)
			var b [2]byte
			binary.BigEndian.PutUint16(b[:], uint16(d16))
			deltas = append(deltas, b[:]...)
		}
	}

	chunks := encodeStatusVectorChunks(symbols)

	t.fbCount++
	body := make([]byte, 0, 20+len(chunks)*2+len(deltas)+4)
	var hdr [20]byte
	binary.BigEndian.PutUint32(hdr[0:4], t.senderSSRC)
	binary.BigEndian.PutUint32(hdr[4:8], t.mediaSSRC)
	binary.BigEndian.PutUint16(hdr[8:10], uint16(base))
	binary.BigEndian.PutUint16(hdr[10:12], uint16(count))
	hdr[12] = byte(refUnits >> 16)
	hdr[13] = byte(refUnits >> 8)
	hdr[14] = byte(refUnits)
	hdr[15] = t.fbCount
	body = append(body, hdr[:16]...)

	for _, c := range chunks {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], c)
		body = append(body, b[:]...)
	}
	body = append(body, deltas...)
	for len(body)%4 != 0 {
		body = append(body, 0)
	}

	return buildRTCPFBHeader(15, 205, t.senderSSRC, t.mediaSSRC, body)
}

func clampInt16(v int64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// encodeStatusVectorChunks packs 2-bit symbols into 16-bit status-vector
// chunks of up to statusVectorPerChunk symbols each (bit15=1 marks a
// status-vector chunk, bit14=1 marks 2-bit symbol size).
func encodeStatusVectorChunks(symbols []uint8) []uint16 {
	var chunks []uint16
	for i := 0; i < len(symbols); i += statusVectorPerChunk {
		end := i + statusVectorPerChunk
		if end > len(symbols) {
			end = len(symbols)
		}
		var chunk uint16 = 0xC000 // status-vector, 2-bit symbols
		for j, s := range symbols[i:end] {
			shift := uint(13 - 2*j)
			chunk |= uint16(s&0x3) << shift
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// buildRTCPFBHeader prepends the generic 4-byte RTCP header for a
// transport-layer feedback packet (PT=205, FMT=fmt) whose already-built
// body starts with the 8-byte sender/media SSRC pair (already included
// by the caller; header below re-derives length from body only).
func buildRTCPFBHeader(fmtVal uint8, pt uint8, senderSSRC, mediaSSRC uint32, body []byte) rtcp.RawPacket {
	lengthWords := len(body)/4 + 1 // +1 for the 4-byte RTCP header itself
	var out [4]byte
	out[0] = 0x80 | (fmtVal & 0x1F)
	out[1] = pt
	binary.BigEndian.PutUint16(out[2:4], uint16(lengthWords-1))
	pkt := make([]byte, 0, 4+len(body))
	pkt = append(pkt, out[:]...)
	pkt = append(pkt, body...)
	return rtcp.RawPacket(pkt)
}
