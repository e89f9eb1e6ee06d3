package retransmit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowMarksGapsMissing(t *testing.T) {
	w := NewWindow(50 * time.Millisecond)
	now := time.Now()

	w.Insert(1, now)
	w.Insert(5, now) // 2,3,4 should become Missing

	for _, seq := range []uint16{2, 3, 4} {
		state, ok := w.State(seq)
		require.True(t, ok)
		assert.Equal(t, Missing, state)
	}
	state, ok := w.State(5)
	require.True(t, ok)
	assert.Equal(t, Recved, state)
}

func TestWindowPromotesMissingToNackedThenGivesUp(t *testing.T) {
	w := NewWindow(10 * time.Millisecond)
	w.giveUpAfter = 30 * time.Millisecond
	now := time.Now()

	w.Insert(1, now)
	w.Insert(3, now) // 2 -> Missing

	toNack := w.Promote(now)
	assert.Empty(t, toNack, "not yet past rtt estimate")

	later := now.Add(15 * time.Millisecond)
	toNack = w.Promote(later)
	assert.Equal(t, []uint16{2}, toNack)

	state, _ := w.State(2)
	assert.Equal(t, Nacked, state)

	muchLater := now.Add(50 * time.Millisecond)
	w.Promote(muchLater)
	state, _ = w.State(2)
	assert.Equal(t, GiveUp, state)
}

func TestWindowRecyclesSlotsFIFO(t *testing.T) {
	w := NewWindow(10 * time.Millisecond)
	now := time.Now()

	w.Insert(0, now)
	w.Insert(WindowSize, now.Add(time.Millisecond)) // wraps to same ring slot as 0

	_, ok := w.State(0)
	assert.False(t, ok, "slot 0's original entry should have been recycled")
	state, ok := w.State(WindowSize)
	require.True(t, ok)
	assert.Equal(t, Recved, state)
}
