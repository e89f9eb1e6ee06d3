package rtcpengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTWCCNotReadyBelowMinCount(t *testing.T) {
	tw := NewTWCC(0xAAAA)
	now := time.Now()
	for i := uint16(0); i < 5; i++ {
		tw.Push(i, now.Add(time.Duration(i)*time.Millisecond))
	}
	assert.False(t, tw.Ready(now))
}

func TestTWCCReadyAtReportCount(t *testing.T) {
	tw := NewTWCC(0xAAAA)
	now := time.Now()
	for i := uint16(0); i < twccReportCount; i++ {
		tw.Push(i, now.Add(time.Duration(i)*time.Millisecond))
	}
	assert.True(t, tw.Ready(now))
}

func TestTWCCBuildProducesValidHeader(t *testing.T) {
	tw := NewTWCC(0xBEEF)
	now := time.Now()
	for i := uint16(0); i < 25; i++ {
		tw.Push(i, now.Add(time.Duration(i)*5*time.Millisecond))
	}

	pkt := tw.Build(now)
	require.NotNil(t, pkt)
	require.GreaterOrEqual(t, len(pkt), 20)

	assert.EqualValues(t, 0x80|15, pkt[0], "version 2, FMT 15 (TWCC)")
	assert.EqualValues(t, 205, pkt[1], "PT 205 (RTPFB)")

	// length field is in 32-bit words minus one
	lengthWords := uint16(pkt[2])<<8 | uint16(pkt[3])
	assert.EqualValues(t, len(pkt)/4-1, lengthWords)
}

func TestTWCCBuildNilWhenEmpty(t *testing.T) {
	tw := NewTWCC(1)
	assert.Nil(t, tw.Build(time.Now()))
}

func TestTWCCMarksGapsNotReceived(t *testing.T) {
	tw := NewTWCC(1)
	now := time.Now()
	tw.Push(0, now)
	tw.Push(1, now.Add(5*time.Millisecond))
	// seq 2 missing
	tw.Push(3, now.Add(15*time.Millisecond))

	pkt := tw.Build(now)
	require.NotNil(t, pkt)
	// after the 4-byte RTCP header and the sender/media SSRCs: base
	// sequence number at bytes 12-13, count at 14-15
	base := uint16(pkt[12])<<8 | uint16(pkt[13])
	count := uint16(pkt[14])<<8 | uint16(pkt[15])
	assert.EqualValues(t, 0, base)
	assert.EqualValues(t, 4, count)
}

func TestEncodeStatusVectorChunksSetsHeaderBits(t *testing.T) {
	chunks := encodeStatusVectorChunks([]uint8{1, 0, 1, 0, 1, 0, 1})
	require.Len(t, chunks, 1)
	assert.EqualValues(t, 0xC000, chunks[0]&0xC000)
}
