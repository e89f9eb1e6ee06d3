package retransmit

import "time"

// SlotState is the per-sequence-number state tracked by Window, per
// spec §4.4's "NACK generation on inbound" algorithm.
type SlotState int

const (
	// Empty means the slot has never been assigned a sequence number.
	Empty SlotState = iota
	Missing
	Nacked
	GiveUp
	Recved
)

const (
	// WindowSize is the fixed length of the inbound sequence tracking
	// window (spec: "last 160 received sequence numbers per media").
	WindowSize = 160

	// DefaultGiveUpAfter is the maximum time a NACKED slot is retried
	// before giving up (spec default: 1 second).
	DefaultGiveUpAfter = 1 * time.Second
)

type slot struct {
	state   SlotState
	seq     uint16
	seqSet  bool
	entered time.Time
}

// Window is a fixed-size ring tracking the receipt status of the last
// WindowSize inbound sequence numbers for one media lane, so gaps can be
// promoted to NACKs and eventually given up on. Not safe for concurrent
// use.
type Window struct {
	rttEstimate time.Duration
	giveUpAfter time.Duration

	slots    [WindowSize]slot
	lastSeen uint16
	haveLast bool
}

// NewWindow returns a Window using rttEstimate as the promotion delay
// from Missing to Nacked, and DefaultGiveUpAfter as the giveup bound.
func NewWindow(rttEstimate time.Duration) *Window {
	if rttEstimate <= 0 {
		rttEstimate = 100 * time.Millisecond
	}
	return &Window{rttEstimate: rttEstimate, giveUpAfter: DefaultGiveUpAfter}
}

func (w *Window) slotFor(seq uint16) *slot {
	return &w.slots[seq%WindowSize]
}

// Insert records receipt of seq at time now. Any sequence numbers
// strictly between the last-seen sequence and seq (exclusive-exclusive)
// that have not already been marked are tagged Missing, recycling
// whatever stale slot previously occupied that ring position (FIFO
// recycling, per spec).
func (w *Window) Insert(seq uint16, now time.Time) {
	if !w.haveLast {
		w.haveLast = true
		w.lastSeen = seq
		s := w.slotFor(seq)
		*s = slot{state: Recved, seq: seq, seqSet: true, entered: now}
		return
	}

	gap := int32(int16(seq - w.lastSeen))
	if gap > 0 {
		for d := int32(1); d < gap; d++ {
			missSeq := w.lastSeen + uint16(d)
			s := w.slotFor(missSeq)
			*s = slot{state: Missing, seq: missSeq, seqSet: true, entered: now}
		}
		w.lastSeen = seq
	}

	s := w.slotFor(seq)
	if s.seqSet && s.seq == seq && s.state == Recved {
		return // duplicate of an already-received packet
	}
	*s = slot{state: Recved, seq: seq, seqSet: true, entered: now}
}

// Promote walks all slots and applies the MISSING -> NACKED and
// NACKED -> GIVEUP transitions based on elapsed time, returning the list
// of sequence numbers newly promoted to NACKED (i.e. to request via
// RTCP Generic NACK now).
func (w *Window) Promote(now time.Time) []uint16 {
	var toNack []uint16
	for i := range w.slots {
		s := &w.slots[i]
		if !s.seqSet {
			continue
		}
		switch s.state {
		case Missing:
			if now.Sub(s.entered) >= w.rttEstimate {
				s.state = Nacked
				s.entered = now
				toNack = append(toNack, s.seq)
			}
		case Nacked:
			if now.Sub(s.entered) >= w.giveUpAfter {
				s.state = GiveUp
			}
		}
	}
	return toNack
}

// State returns the current state of seq, if it has ever been assigned.
func (w *Window) State(seq uint16) (SlotState, bool) {
	s := w.slotFor(seq)
	if !s.seqSet || s.seq != seq {
		return Empty, false
	}
	return s.state, true
}
