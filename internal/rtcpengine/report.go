package rtcpengine

import (
	"github.com/ethan/webrtc-core/internal/retransmit"
	"github.com/pion/rtcp"
)

// Inbound represents the decoded, categorized content of one compound
// RTCP packet, produced by Split for the caller (internal/session) to
// dispatch to the right handler (spec §4.5's per-report-type handling).
type Inbound struct {
	SenderReports   []*rtcp.SenderReport
	ReceiverReports []*rtcp.ReceiverReport
	CNAMEs         map[uint32]string
	Byes            []uint32
	PLIs            []*rtcp.PictureLossIndication
	FIRs            []*rtcp.FullIntraRequest
	NackSeqs        []uint16 // flattened (PID, BLP) -> requested sequence numbers
	REMB            *rtcp.ReceiverEstimatedMaximumBitrate
	TWCC            *rtcp.TransportLayerCC
}

// Split decodes a compound RTCP packet and buckets each contained report
// by type, per spec §4.5: "Inbound RTCP compound packets are split and
// each report handled".
func Split(buf []byte) (*Inbound, error) {
	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		return nil, err
	}

	in := &Inbound{CNAMEs: make(map[uint32]string)}
	for _, p := range packets {
		switch v := p.(type) {
		case *rtcp.SenderReport:
			in.SenderReports = append(in.SenderReports, v)
		case *rtcp.ReceiverReport:
			in.ReceiverReports = append(in.ReceiverReports, v)
		case *rtcp.SourceDescription:
			for _, chunk := range v.Chunks {
				for _, item := range chunk.Items {
					if item.Type == rtcp.SDESCNAME {
						in.CNAMEs[chunk.Source] = item.Text
					}
				}
			}
		case *rtcp.Goodbye:
			in.Byes = append(in.Byes, v.Sources...)
		case *rtcp.PictureLossIndication:
			in.PLIs = append(in.PLIs, v)
		case *rtcp.FullIntraRequest:
			in.FIRs = append(in.FIRs, v)
		case *rtcp.TransportLayerNack:
			for _, pair := range v.Nacks {
				in.NackSeqs = append(in.NackSeqs, retransmit.BLPRequested(pair.PacketID, pair.LostPackets)...)
			}
		case *rtcp.ReceiverEstimatedMaximumBitrate:
			in.REMB = v
		case *rtcp.TransportLayerCC:
			in.TWCC = v
		}
	}
	return in, nil
}

// BuildNack constructs an RTCP Transport-Layer NACK requesting seqs,
// compacting consecutive runs into (PID, BLP) pairs the way a real
// sender would, so receivers see the compact wire form.
func BuildNack(senderSSRC, mediaSSRC uint32, seqs []uint16) *rtcp.TransportLayerNack {
	if len(seqs) == 0 {
		return nil
	}
	nacks := rtcp.NackPairsFromSequenceNumbers(seqs)
	return &rtcp.TransportLayerNack{
		SenderSSRC: senderSSRC,
		MediaSSRC:  mediaSSRC,
		Nacks:      nacks,
	}
}

// BuildRR builds an RR (and, if sending is true, prefixes an SR) compound
// packet for the current state of ctx under ssrc, per spec §4.5's
// periodic tick description.
func BuildRR(ctx *Context, ssrc uint32, sending bool, nowFn func() (sr rtcp.SenderReport)) []rtcp.Packet {
	rr := &rtcp.ReceiverReport{
		SSRC:    ssrc,
		Reports: []rtcp.ReceptionReport{ctx.ReceptionReport(ssrc)},
	}
	if !sending {
		return []rtcp.Packet{rr}
	}
	sr := nowFn()
	return []rtcp.Packet{&sr, rr}
}
