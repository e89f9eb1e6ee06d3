package rewrite

import (
	"testing"

	"github.com/ethan/webrtc-core/internal/rtphdr"
	"github.com/stretchr/testify/assert"
)

func TestScenario2SSRCChange(t *testing.T) {
	ctx := NewContext()

	h1 := &rtphdr.Header{SSRC: 0xAAA, SequenceNumber: 100, Timestamp: 1000}
	ctx.Update(h1, 90000)
	assert.EqualValues(t, 100, h1.SequenceNumber)
	assert.EqualValues(t, 1000, h1.Timestamp)
	assert.True(t, ctx.NewSSRC())

	h2 := &rtphdr.Header{SSRC: 0xBBB, SequenceNumber: 5, Timestamp: 99000}
	ctx.Update(h2, 90000)
	assert.EqualValues(t, 101, h2.SequenceNumber)
	assert.Greater(t, h2.Timestamp, uint32(1000))
	assert.True(t, ctx.NewSSRC())
}

func TestMonotonicAcrossManySSRCChanges(t *testing.T) {
	ctx := NewContext()
	var lastSeq uint16
	var lastTS uint32
	first := true

	feed := []struct {
		ssrc uint32
		seq  uint16
		ts   uint32
	}{
		{1, 10, 1000}, {1, 11, 1960}, {1, 12, 2920},
		{2, 50, 500000}, {2, 51, 500960},
		{3, 1, 7}, {3, 2, 967},
		{1, 13, 3880}, // ssrc 1 resumes (e.g. simulcast fallback)
	}

	for i, f := range feed {
		h := &rtphdr.Header{SSRC: f.ssrc, SequenceNumber: f.seq, Timestamp: f.ts}
		ctx.Update(h, 90000)
		if !first {
			assert.EqualValues(t, uint16(lastSeq+1), h.SequenceNumber, "packet %d", i)
			assert.GreaterOrEqual(t, h.Timestamp, lastTS, "packet %d", i)
		}
		lastSeq = h.SequenceNumber
		lastTS = h.Timestamp
		first = false
	}
}

func TestResetSeq(t *testing.T) {
	ctx := NewContext()
	h := &rtphdr.Header{SSRC: 1, SequenceNumber: 65530, Timestamp: 100}
	ctx.Update(h, 48000)

	ctx.ResetSeq(0)
	assert.True(t, ctx.SeqReset())
	assert.False(t, ctx.SeqReset()) // one-shot

	h2 := &rtphdr.Header{SSRC: 1, SequenceNumber: 0, Timestamp: 960}
	ctx.Update(h2, 48000)
	assert.EqualValues(t, h.SequenceNumber+1, h2.SequenceNumber)
}
