package rtphdr

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenario1(t *testing.T) {
	buf := []byte{0x80, 0x60, 0x00, 0x01, 0x00, 0x00, 0x03, 0xE8, 0xDE, 0xAD, 0xBE, 0xEF}

	h, err := Parse(buf)
	require.NoError(t, err)

	assert.EqualValues(t, 2, h.Version)
	assert.EqualValues(t, 96, h.PayloadType)
	assert.EqualValues(t, 1, h.SequenceNumber)
	assert.EqualValues(t, 1000, h.Timestamp)
	assert.EqualValues(t, 0xDEADBEEF, h.SSRC)
	assert.False(t, h.Extension)
	assert.Empty(t, h.CSRC)
	assert.Equal(t, 12, h.PayloadOffset)
}

func TestParseTooShort(t *testing.T) {
	_, err := Parse(make([]byte, 8))
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestParseBadVersion(t *testing.T) {
	buf := make([]byte, 12)
	buf[0] = 0x00 // version 0
	_, err := Parse(buf)
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestRoundTripCSRCAndExtensionOneByte(t *testing.T) {
	h := &Header{
		Version:        2,
		Marker:         true,
		PayloadType:    111,
		SequenceNumber: 4242,
		Timestamp:      900000,
		SSRC:           0x1234ABCD,
		CSRC:           []uint32{1, 2, 3},
		Extension:      true,
		ExtensionProfile: extProfileOne,
		Extensions: []Extension{
			{ID: 1, Payload: []byte{0x08}}, // audio level
			{ID: 2, Payload: []byte{0x01, 0x02, 0x03}},
		},
	}

	buf := make([]byte, 64)
	n, err := h.Marshal(buf)
	require.NoError(t, err)

	parsed, err := Parse(buf[:n])
	require.NoError(t, err)

	assert.Equal(t, h.SequenceNumber, parsed.SequenceNumber)
	assert.Equal(t, h.Timestamp, parsed.Timestamp)
	assert.Equal(t, h.SSRC, parsed.SSRC)
	assert.Equal(t, h.CSRC, parsed.CSRC)
	assert.True(t, parsed.Extension)
	require.Len(t, parsed.Extensions, 2)
	assert.Equal(t, uint8(1), parsed.Extensions[0].ID)
	assert.True(t, bytes.Equal([]byte{0x08}, parsed.Extensions[0].Payload))

	// Re-marshal the parsed header and confirm byte-exactness (I3).
	buf2 := make([]byte, 64)
	n2, err := parsed.Marshal(buf2)
	require.NoError(t, err)
	assert.Equal(t, buf[:n], buf2[:n2])
}

func TestRoundTripTwoByteExtension(t *testing.T) {
	h := &Header{
		Version:          2,
		PayloadType:      96,
		SequenceNumber:   7,
		Timestamp:        1,
		SSRC:             1,
		Extension:        true,
		ExtensionProfile: 0x1000,
		Extensions: []Extension{
			{ID: 3, Payload: []byte("mid-stream-rid")},
		},
	}
	buf := make([]byte, 64)
	n, err := h.Marshal(buf)
	require.NoError(t, err)

	parsed, err := Parse(buf[:n])
	require.NoError(t, err)
	require.Len(t, parsed.Extensions, 1)
	assert.Equal(t, "mid-stream-rid", string(parsed.Extensions[0].Payload))
}

func TestPayloadWithPadding(t *testing.T) {
	buf := []byte{
		0xA0, 0x60, 0x00, 0x01, 0x00, 0x00, 0x03, 0xE8, 0xDE, 0xAD, 0xBE, 0xEF,
		0x01, 0x02, 0x03, 0x00, 0x00, 0x00, 0x04, // payload "01 02 03" + 4 bytes padding, last byte=4
	}
	h, err := Parse(buf)
	require.NoError(t, err)
	assert.True(t, h.Padding)
	assert.EqualValues(t, 4, h.PadLen)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, h.Payload(buf))
}

func TestMalformedExtensionNonFatal(t *testing.T) {
	// Extension header claims 1 word (4 bytes) but the one-byte element
	// inside declares a length that overruns the block; parse must still
	// succeed per spec (non-fatal for a known extension).
	buf := []byte{
		0x90, 0x60, 0x00, 0x01, 0x00, 0x00, 0x03, 0xE8, 0xDE, 0xAD, 0xBE, 0xEF,
		0xBE, 0xDE, 0x00, 0x01,
		0x1F, 0xAA, 0xBB, 0xCC, // id=1 len-1=15 (overruns 3 remaining bytes)
	}
	h, err := Parse(buf)
	require.NoError(t, err)
	assert.True(t, h.Extension)
	assert.Empty(t, h.Extensions)
}
