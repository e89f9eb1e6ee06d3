// Package rtcpengine implements RTCP loss/jitter accounting and periodic
// RR/SR/REMB/TWCC feedback generation (spec §4.5), built on
// github.com/pion/rtcp for packet (de)serialization.
package rtcpengine

import (
	"math"
	"time"

	"github.com/pion/rtcp"
)

// Context accumulates receiver-side statistics for one inbound SSRC
// (loss, jitter, extended sequence number) and sender-side statistics for
// one outbound SSRC (last RTP/NTP timestamps, packet/octet counts), and
// emits RR/SR on request.
type Context struct {
	clockRate uint32

	// Receiver side (for packets arriving on this SSRC).
	haveBase       bool
	baseSeq        uint16
	cycles         uint32
	lastSeq        uint16
	received       uint32
	expectedPrior  uint32
	receivedPrior  uint32
	jitter         float64
	lastArrival    time.Time
	lastRTPTime    uint32
	lastSRNTP      uint64
	lastSRRTP      uint32
	lastSRRecv     time.Time

	// Sender side (for packets we send on this SSRC).
	packetsSent uint32
	octetsSent  uint32
	lastSentRTP uint32
	lastSentAt  time.Time
}

// NewContext returns a Context for one SSRC lane at the given negotiated
// clock rate (used for jitter computation; 0 disables jitter).
func NewContext(clockRate uint32) *Context {
	return &Context{clockRate: clockRate}
}

// OnReceive records one inbound packet's sequence number, RTP timestamp,
// and arrival time, updating loss and jitter accounting (RFC 3550 §6.4.1,
// §A.8).
func (c *Context) OnReceive(seq uint16, ts uint32, arrival time.Time) {
	if !c.haveBase {
		c.haveBase = true
		c.baseSeq = seq
		c.lastSeq = seq
		c.received = 0
	} else if seq != c.lastSeq {
		// Detect a 16-bit wrap: a large negative jump in raw seq vs the
		// last observed one, given sequential delivery expectations.
		if int32(seq)-int32(c.lastSeq) < -0x8000 {
			c.cycles++
		}
		c.lastSeq = seq
	}
	c.received++

	if c.clockRate > 0 && !c.lastArrival.IsZero() {
		arrivalRTPUnits := float64(arrival.Sub(c.lastArrival)) / float64(time.Second) * float64(c.clockRate)
		d := math.Abs(arrivalRTPUnits - float64(int64(ts)-int64(c.lastRTPTime)))
		c.jitter += (d - c.jitter) / 16
	}
	c.lastArrival = arrival
	c.lastRTPTime = ts
}

// OnSenderReport records an inbound SR's NTP/RTP timestamps, used for
// A/V sync and for computing the LSR/DLSR fields of our next RR.
func (c *Context) OnSenderReport(sr *rtcp.SenderReport, now time.Time) {
	c.lastSRNTP = sr.NTPTime
	c.lastSRRTP = sr.RTPTime
	c.lastSRRecv = now
}

// extendedHighSeq returns the 32-bit extended highest sequence number
// observed: cycles<<16 | lastSeq.
func (c *Context) extendedHighSeq() uint32 {
	return c.cycles<<16 | uint32(c.lastSeq)
}

// expectedSince returns the number of sequence numbers that should have
// arrived since baseSeq, inclusive.
func (c *Context) expectedSince() uint32 {
	return c.extendedHighSeq() - uint32(c.baseSeq) + 1
}

// ReceptionReport builds one RTCP ReceptionReport block for ssrc,
// reflecting cumulative and interval loss/jitter since the last call.
func (c *Context) ReceptionReport(ssrc uint32) rtcp.ReceptionReport {
	expected := c.expectedSince()
	var lost uint32
	if expected > c.received {
		lost = expected - c.received
	}

	expectedInterval := expected - c.expectedPrior
	receivedInterval := c.received - c.receivedPrior
	c.expectedPrior = expected
	c.receivedPrior = c.received

	var fraction uint8
	if expectedInterval > 0 && expectedInterval >= receivedInterval {
		lostInterval := expectedInterval - receivedInterval
		fraction = uint8((lostInterval << 8) / expectedInterval)
	}

	var lsr, dlsr uint32
	if !c.lastSRRecv.IsZero() {
		lsr = uint32(c.lastSRNTP >> 16)
		dlsr = uint32(time.Since(c.lastSRRecv).Seconds() * 65536)
	}

	return rtcp.ReceptionReport{
		SSRC:               ssrc,
		FractionLost:       fraction,
		TotalLost:          lost & 0xFFFFFF,
		LastSequenceNumber: c.extendedHighSeq(),
		Jitter:             uint32(c.jitter),
		LastSenderReport:   lsr,
		Delay:              dlsr,
	}
}

// OnSend records one outbound packet for sender-report accounting.
func (c *Context) OnSend(rtpTimestamp uint32, payloadLen int, now time.Time) {
	c.packetsSent++
	c.octetsSent += uint32(payloadLen)
	c.lastSentRTP = rtpTimestamp
	c.lastSentAt = now
}

// SenderReport builds an RTCP SenderReport for ssrc using wall-clock now
// translated to NTP time.
func (c *Context) SenderReport(ssrc uint32, now time.Time) rtcp.SenderReport {
	return rtcp.SenderReport{
		SSRC:        ssrc,
		NTPTime:     toNTP(now),
		RTPTime:     c.lastSentRTP,
		PacketCount: c.packetsSent,
		OctetCount:  c.octetsSent,
	}
}

const ntpEpochOffset = 2208988800 // seconds between 1900 and 1970 epochs

func toNTP(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) * (1 << 32) / 1e9
	return secs<<32 | frac
}
