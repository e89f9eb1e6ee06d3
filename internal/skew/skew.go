// Package skew implements the per-direction, per-media clock-drift
// detector described in spec §4.3: it compares the sender's RTP clock
// against our monotonic wall clock and signals when a silence insertion
// or a packet drop is needed to keep playout synchronized.
package skew

import "time"

const (
	warmup = 15 * time.Second

	// Active-delay thresholds that trigger compensation, identical for
	// audio and video per spec.
	highThreshold = 40 * time.Millisecond
	lowThreshold  = -40 * time.Millisecond

	// Smoothing factor for the exponential moving average of delay.
	smoothingAlpha = 0.1
)

// Compensator tracks drift for one direction of one media lane. Create
// one per (direction, media) pair; it is not safe for concurrent use.
type Compensator struct {
	clockRate uint32 // 0 disables compensation entirely

	start time.Time
	ts0   uint32
	t0    time.Time
	armed bool

	activeDelay time.Duration
	haveDelay   bool
}

// NewCompensator returns a Compensator for the given negotiated clock
// rate. A clockRate of 0 means "unknown", and Observe always returns 0.
func NewCompensator(clockRate uint32) *Compensator {
	return &Compensator{clockRate: clockRate}
}

// Observe records one packet's RTP timestamp and arrival time and
// returns the sequence-number adjustment the caller should apply: a
// positive N means insert N silent sequence numbers (sender is slow
// relative to our clock), a negative N means drop this packet (sender is
// fast), and 0 means no adjustment. During the 15-second warm-up after
// the first observed packet, Observe always returns 0 (I4).
func (c *Compensator) Observe(ts uint32, arrival time.Time) int {
	if c.clockRate == 0 {
		return 0
	}

	if c.start.IsZero() {
		c.start = arrival
		return 0
	}

	if arrival.Sub(c.start) < warmup {
		return 0
	}

	if !c.armed {
		c.ts0 = ts
		c.t0 = arrival
		c.armed = true
		return 0
	}

	expected := c.t0.Add(tsDelta(ts, c.ts0, c.clockRate))
	delay := arrival.Sub(expected)

	if !c.haveDelay {
		c.activeDelay = delay
		c.haveDelay = true
	} else {
		c.activeDelay = time.Duration(float64(c.activeDelay)*(1-smoothingAlpha) + float64(delay)*smoothingAlpha)
	}

	switch {
	case c.activeDelay > highThreshold:
		n := int(c.activeDelay/highThreshold)
		if n < 1 {
			n = 1
		}
		return n
	case c.activeDelay < lowThreshold:
		n := int(-c.activeDelay / -lowThreshold)
		if n < 1 {
			n = 1
		}
		return -n
	default:
		return 0
	}
}

// tsDelta converts an RTP timestamp difference (mod 2^32, signed) to a
// time.Duration at the given clock rate.
func tsDelta(ts, ts0 uint32, clockRate uint32) time.Duration {
	diff := int64(int32(ts - ts0))
	return time.Duration(diff) * time.Second / time.Duration(clockRate)
}
