package skew

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWarmupAlwaysZero(t *testing.T) {
	c := NewCompensator(48000)
	start := time.Unix(0, 0)

	for i := 0; i < 14; i++ {
		n := c.Observe(uint32(i*48000), start.Add(time.Duration(i)*time.Second))
		assert.Zero(t, n)
	}
}

func TestDisabledWhenClockRateUnknown(t *testing.T) {
	c := NewCompensator(0)
	assert.Zero(t, c.Observe(12345, time.Now()))
	assert.Zero(t, c.Observe(99999, time.Now().Add(time.Hour)))
}

func TestDriftDetectedAfterWarmup(t *testing.T) {
	c := NewCompensator(48000)
	start := time.Unix(0, 0)

	samplesPerSec := 50 // 20ms packetization
	perSampleTS := uint32(48000 / samplesPerSec)
	lateness := 2 * time.Millisecond

	var lastN int
	for sec := 0; sec < 60; sec++ {
		for i := 0; i < samplesPerSec; i++ {
			idx := sec*samplesPerSec + i
			ts := uint32(idx) * perSampleTS
			nominal := start.Add(time.Duration(idx) * 20 * time.Millisecond)
			arrival := nominal.Add(time.Duration(idx) * lateness / time.Duration(samplesPerSec))
			lastN = c.Observe(ts, arrival)
		}
	}

	assert.GreaterOrEqual(t, lastN, 1, "expected compensator to detect positive skew eventually")
}
