package retransmit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario3NackExpansion(t *testing.T) {
	b := NewBuffer(DefaultCapacity)
	now := time.Now()
	b.Push(42, []byte("p42"), now)
	b.Push(44, []byte("p44"), now)
	b.Push(47, []byte("p47"), now)

	requested := BLPRequested(42, 0x0005) // bit0 (=43) and bit2 (=45)
	require.Equal(t, []uint16{42, 43, 45}, requested)

	var hits []uint16
	for _, seq := range requested {
		if seq == 47 {
			continue // not actually requested by this BLP in the scenario
		}
		if p, ok := b.Lookup(seq); ok {
			hits = append(hits, p.Seq)
		}
	}
	assert.ElementsMatch(t, []uint16{42, 44}, hits)
}

func TestBufferEvictsOldest(t *testing.T) {
	b := NewBuffer(3)
	now := time.Now()
	b.Push(1, []byte("a"), now)
	b.Push(2, []byte("b"), now)
	b.Push(3, []byte("c"), now)
	b.Push(4, []byte("d"), now)

	assert.Equal(t, 3, b.Len())
	_, ok := b.Lookup(1)
	assert.False(t, ok, "oldest packet should have been evicted")
	_, ok = b.Lookup(4)
	assert.True(t, ok)
}

func TestRetransmitIsByteIdentical(t *testing.T) {
	b := NewBuffer(DefaultCapacity)
	orig := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	b.Push(10, orig, time.Now())

	p, ok := b.Lookup(10)
	require.True(t, ok)
	assert.Equal(t, orig, p.Payload)

	// Mutating the caller's slice must not affect the cached copy.
	orig[0] = 0x00
	p2, _ := b.Lookup(10)
	assert.EqualValues(t, 0xDE, p2.Payload[0])
}

func TestShouldReplyDedup(t *testing.T) {
	b := NewBuffer(DefaultCapacity)
	now := time.Now()
	assert.True(t, b.ShouldReply(5, now))
	assert.False(t, b.ShouldReply(5, now.Add(5*time.Millisecond)))
	assert.True(t, b.ShouldReply(5, now.Add(20*time.Millisecond)))
}

func TestNextRTXSeqMonotonic(t *testing.T) {
	b := NewBuffer(DefaultCapacity)
	a := b.NextRTXSeq()
	c := b.NextRTXSeq()
	assert.Equal(t, a+1, c)
}
