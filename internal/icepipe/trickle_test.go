package icepipe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrickleQueueDrainPreservesOrder(t *testing.T) {
	q := NewTrickleQueue()
	q.Enqueue(TrickleCandidate{TransactionID: "t1", Candidate: "cand-a", ReceivedAt: time.Unix(1, 0)})
	q.Enqueue(TrickleCandidate{TransactionID: "t1", Candidate: "cand-b", ReceivedAt: time.Unix(2, 0)})

	assert.Equal(t, 2, q.Len())

	drained := q.Drain()
	assert.Equal(t, []string{"cand-a", "cand-b"}, []string{drained[0].Candidate, drained[1].Candidate})
	assert.Equal(t, 0, q.Len())
}

func TestTrickleQueueDrainEmptiesQueue(t *testing.T) {
	q := NewTrickleQueue()
	q.Enqueue(TrickleCandidate{EndOfStream: true})
	_ = q.Drain()

	assert.Empty(t, q.Drain())
}
