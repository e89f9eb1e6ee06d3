package icepipe

import "time"

// TrickleCandidate is one ICE candidate received ahead of (or alongside)
// the offer it belongs to, buffered until the owning Handle clears its
// PROCESSING_OFFER state (spec §3 "Trickle-candidate", §4.6).
type TrickleCandidate struct {
	TransactionID string
	Candidate     string // raw a=candidate value, or "" for end-of-candidates
	EndOfStream   bool
	ReceivedAt    time.Time
}

// TrickleQueue buffers candidates that arrive before the offer they are
// associated with has finished processing. It is not safe for concurrent
// use; callers serialize access the same way they serialize offer
// handling for a given Handle.
type TrickleQueue struct {
	pending []TrickleCandidate
}

// NewTrickleQueue returns an empty queue.
func NewTrickleQueue() *TrickleQueue {
	return &TrickleQueue{}
}

// Enqueue buffers one trickled candidate for later draining.
func (q *TrickleQueue) Enqueue(c TrickleCandidate) {
	q.pending = append(q.pending, c)
}

// Len reports how many candidates are currently buffered.
func (q *TrickleQueue) Len() int {
	return len(q.pending)
}

// Drain empties the queue and returns its contents in arrival order, for
// replay into a Component once the offer it was waiting on has been
// applied.
func (q *TrickleQueue) Drain() []TrickleCandidate {
	out := q.pending
	q.pending = nil
	return out
}
