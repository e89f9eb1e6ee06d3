package rtcpengine

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceptionReportNoLoss(t *testing.T) {
	c := NewContext(90000)
	now := time.Now()
	for i := uint16(0); i < 10; i++ {
		c.OnReceive(i, uint32(i)*3000, now.Add(time.Duration(i)*33*time.Millisecond))
	}
	rr := c.ReceptionReport(0xCAFEBABE)
	assert.EqualValues(t, 0, rr.FractionLost)
	assert.EqualValues(t, 0, rr.TotalLost)
	assert.EqualValues(t, 9, rr.LastSequenceNumber)
}

func TestReceptionReportWithLoss(t *testing.T) {
	c := NewContext(90000)
	now := time.Now()
	c.OnReceive(0, 0, now)
	c.OnReceive(1, 3000, now.Add(33*time.Millisecond))
	// seq 2,3,4 lost
	c.OnReceive(5, 15000, now.Add(165*time.Millisecond))

	rr := c.ReceptionReport(1)
	assert.EqualValues(t, 3, rr.TotalLost)
	assert.EqualValues(t, 5, rr.LastSequenceNumber)
	assert.Greater(t, rr.FractionLost, uint8(0))
}

func TestExtendedSeqWrapsCycles(t *testing.T) {
	c := NewContext(90000)
	now := time.Now()
	c.OnReceive(0xFFFE, 0, now)
	c.OnReceive(0xFFFF, 3000, now.Add(33*time.Millisecond))
	c.OnReceive(0x0001, 6000, now.Add(66*time.Millisecond)) // wraps

	high := c.extendedHighSeq()
	assert.EqualValues(t, 1, high>>16, "cycle count should have incremented once")
	assert.EqualValues(t, 1, high&0xFFFF)
}

func TestSenderReportRoundTrip(t *testing.T) {
	c := NewContext(48000)
	now := time.Now()
	c.OnSend(48000, 160, now)
	c.OnSend(48160, 160, now.Add(time.Millisecond))

	sr := c.SenderReport(0x1234, now.Add(2*time.Millisecond))
	assert.EqualValues(t, 2, sr.PacketCount)
	assert.EqualValues(t, 320, sr.OctetCount)
	assert.EqualValues(t, 48160, sr.RTPTime)
	assert.NotZero(t, sr.NTPTime)
}

func TestDLSRComputedAfterSenderReportSeen(t *testing.T) {
	c := NewContext(90000)
	now := time.Now()
	c.OnReceive(1, 0, now)

	sr := &rtcp.SenderReport{NTPTime: toNTP(now), RTPTime: 0, PacketCount: 1, OctetCount: 100}
	c.OnSenderReport(sr, now)

	rr := c.ReceptionReport(9)
	assert.NotZero(t, rr.LastSenderReport)
}

func TestSplitCategorizesCompoundPacket(t *testing.T) {
	sr := &rtcp.SenderReport{SSRC: 1, NTPTime: 1, RTPTime: 2, PacketCount: 3, OctetCount: 4}
	rr := &rtcp.ReceiverReport{SSRC: 2, Reports: []rtcp.ReceptionReport{{SSRC: 1}}}
	bye := &rtcp.Goodbye{Sources: []uint32{1}}
	pli := &rtcp.PictureLossIndication{SenderSSRC: 2, MediaSSRC: 1}

	buf, err := rtcp.Marshal([]rtcp.Packet{sr, rr, bye, pli})
	require.NoError(t, err)

	in, err := Split(buf)
	require.NoError(t, err)
	require.Len(t, in.SenderReports, 1)
	require.Len(t, in.ReceiverReports, 1)
	require.Len(t, in.Byes, 1)
	require.Len(t, in.PLIs, 1)
	assert.EqualValues(t, 1, in.Byes[0])
}

func TestSplitExpandsNack(t *testing.T) {
	nack := &rtcp.TransportLayerNack{
		SenderSSRC: 1,
		MediaSSRC:  2,
		Nacks:      []rtcp.NackPair{{PacketID: 10, LostPackets: 0x0001}},
	}
	buf, err := rtcp.Marshal([]rtcp.Packet{nack})
	require.NoError(t, err)

	in, err := Split(buf)
	require.NoError(t, err)
	assert.Equal(t, []uint16{10, 11}, in.NackSeqs)
}

func TestBuildNackEmpty(t *testing.T) {
	assert.Nil(t, BuildNack(1, 2, nil))
}
