package session

import (
	"testing"
	"time"

	"github.com/ethan/webrtc-core/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	return log
}

// TestReapWaitsFullGraceFromHangup is scenario 4: a handle that has been
// alive far longer than the grace period must still get the full grace
// period measured from when Hangup fired, not from when it was created.
func TestReapWaitsFullGraceFromHangup(t *testing.T) {
	s := NewSession(1, 0, testLogger(t))
	h := s.NewHandle("corr-1")

	// Simulate a handle that has lived well past the grace period
	// before it ever hangs up.
	time.Sleep(10 * time.Millisecond)
	h.Hangup("client-requested", false)

	s.reapHungUpHandles() // first tick after hangup: only starts the clock
	freed, _ := h.Freed()
	assert.False(t, freed, "handle must not be freed on the very first tick it's observed hung up")

	s.reapHungUpHandles() // still well within the grace period
	freed, _ = h.Freed()
	assert.False(t, freed, "handle must not be freed before the grace period elapses")
}

func TestReapFreesAfterGraceElapses(t *testing.T) {
	s := NewSession(1, 0, testLogger(t))
	h := s.NewHandle("corr-1")
	h.Hangup("client-requested", false)

	s.mu.Lock()
	s.hangupObservedAt[h.ID] = time.Now().Add(-(hangupFreeGrace + time.Millisecond))
	s.mu.Unlock()

	s.reapHungUpHandles()

	freed, _ := h.Freed()
	assert.True(t, freed, "handle must be freed once the grace period has elapsed")
}

func TestReapLeavesRunningHandlesAlone(t *testing.T) {
	s := NewSession(1, 0, testLogger(t))
	h := s.NewHandle("corr-1")

	s.reapHungUpHandles()

	freed, _ := h.Freed()
	assert.False(t, freed)
	assert.Len(t, s.Handles(), 1)
}
