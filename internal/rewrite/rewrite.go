// Package rewrite implements the per-lane rewrite context: the state
// machine that makes a downstream receiver see one continuous RTP
// stream per media lane even as the upstream SSRC changes (plugin
// switches source, simulcast layer switch, ICE restart). See spec §4.2.
package rewrite

import (
	"time"

	"github.com/ethan/webrtc-core/internal/rtphdr"
)

// defaultStep is used when the negotiated clock rate is unknown.
const defaultStep = 1

// Context tracks the rewrite state for one media lane (audio, or one
// simulcast video layer). Callers must serialize calls to Update per
// stream — the rewrite mutates the stream's one logical timeline and is
// not itself safe for concurrent use (spec: "callers must serialize
// updates per stream (held under the stream mutex)").
type Context struct {
	lastSSRC uint32
	haveSSRC bool

	baseTS     uint32
	baseTSPrev uint32
	baseSeq    uint16
	baseSeqPrev uint16

	seqOffset uint16
	tsOffset  uint32

	lastSeq  uint16
	lastTS   uint32
	lastTime time.Time

	newSSRC  bool
	seqReset bool
}

// NewContext returns a Context ready to rewrite the first packet it sees
// as a pass-through (no offset).
func NewContext() *Context {
	return &Context{}
}

// Update first recomputes the offsets if hdr.SSRC differs from the last
// observed SSRC (or this is the first packet), then rewrites hdr's
// SequenceNumber and Timestamp in place with the resulting offsets, so
// the packet that carries a new SSRC already continues the downstream
// timeline. clockRate is the negotiated RTP
// clock rate for this lane (e.g. 48000 audio, 90000 video); when 0 a
// single-unit step is used for the timestamp jump on an SSRC change.
func (c *Context) Update(hdr *rtphdr.Header, clockRate uint32) {
	now := time.Now()

	firstEver := !c.haveSSRC

	if firstEver || hdr.SSRC != c.lastSSRC {
		c.newSSRC = true
		c.haveSSRC = true

		c.baseTSPrev = c.baseTS
		c.baseTS = hdr.Timestamp
		c.baseSeqPrev = c.baseSeq
		c.baseSeq = hdr.SequenceNumber

		var outSeq uint16
		var outTS uint32
		if firstEver {
			// Nothing downstream has been sent yet: pass through as-is.
			outSeq = hdr.SequenceNumber
			outTS = hdr.Timestamp
		} else {
			step := uint32(defaultStep)
			if clockRate > 0 {
				step = clockRate / 30 // roughly one frame at 30fps-equivalent cadence
				if step == 0 {
					step = defaultStep
				}
			}
			outSeq = c.lastSeq + 1
			outTS = c.lastTS + step
		}

		c.seqOffset = outSeq - hdr.SequenceNumber
		c.tsOffset = outTS - hdr.Timestamp

		c.lastSSRC = hdr.SSRC
	} else {
		c.newSSRC = false
	}

	hdr.SequenceNumber = hdr.SequenceNumber + c.seqOffset
	hdr.Timestamp = hdr.Timestamp + c.tsOffset

	c.lastSeq = hdr.SequenceNumber
	c.lastTS = hdr.Timestamp
	c.lastTime = now
}

// ResetSeq advances baseSeq as on an SSRC change but leaves the timestamp
// timeline untouched, for when the peer wraps or resets sequence numbers
// without switching SSRC (spec §4.2 "On seq_reset").
func (c *Context) ResetSeq(newBaseSeq uint16) {
	c.seqReset = true
	c.baseSeqPrev = c.baseSeq
	c.baseSeq = newBaseSeq
	c.seqOffset = c.lastSeq + 1 - newBaseSeq
}

// NewSSRC reports and clears the one-shot new_ssrc flag the last Update
// call set, per spec ("flags new_ssrc and seq_reset that the update
// routine consumes once").
func (c *Context) NewSSRC() bool {
	v := c.newSSRC
	c.newSSRC = false
	return v
}

// SeqReset reports and clears the one-shot seq_reset flag.
func (c *Context) SeqReset() bool {
	v := c.seqReset
	c.seqReset = false
	return v
}

// LastSeq and LastTS expose the most recent outbound seq/ts; LastSSRC
// the last observed inbound SSRC.
func (c *Context) LastSeq() uint16   { return c.lastSeq }
func (c *Context) LastTS() uint32    { return c.lastTS }
func (c *Context) LastSSRC() uint32  { return c.lastSSRC }

// BumpSeqOffset advances seqOffset by n, reserving n sequence numbers in
// the rewritten timeline for the silence a slow sender leaves behind
// (spec §4.3: a positive skew adjustment means "insert N silent sequence
// numbers"). n <= 0 is a no-op.
func (c *Context) BumpSeqOffset(n int) {
	if n <= 0 {
		return
	}
	c.seqOffset += uint16(n)
}
