// Package capture implements the text2pcap packet-capture sink (spec §6
// "Persisted formats", §4.11): every outbound/inbound packet a Handle is
// configured to capture is wrapped in a pseudo Ethernet/IP/UDP frame and
// hex-dumped in text2pcap's "offset  hex bytes" line format, synchronously
// on the send/receive path.
//
// The pseudo-frame construction (IPv4 + UDP header fields and byte
// packing) is grounded on the teacher pack's own pion-webrtc pcap writer;
// this package differs only in emitting text2pcap's textual hex-dump
// format rather than a binary .pcap file, since that is what spec.md's
// "Persisted formats" names.
package capture

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
)

const (
	rtpPort  = 5004
	rtcpPort = 5005
)

type udpHeader struct {
	sourcePort, destPort uint16
	length               uint16
}

func (h udpHeader) marshal() []byte {
	return []byte{
		byte(h.sourcePort >> 8), byte(h.sourcePort),
		byte(h.destPort >> 8), byte(h.destPort),
		byte(h.length >> 8), byte(h.length),
		0, 0, // checksum omitted, as text2pcap recomputes on import
	}
}

type ipV4Header struct {
	totalLen uint16
	protocol byte
	src, dst net.IP
}

func (h ipV4Header) marshal() []byte {
	out := []byte{
		0x45, 0x00, // version/IHL, TOS
		byte(h.totalLen >> 8), byte(h.totalLen),
		0x00, 0x00, // identification
		0x40, 0x00, // flags/fragment offset (don't fragment)
		0x40,       // TTL
		h.protocol,
		0x00, 0x00, // checksum omitted
	}
	out = append(out, h.src.To4()...)
	out = append(out, h.dst.To4()...)
	return out
}

// Sink writes text2pcap-format hex dumps to an underlying writer. Safe
// for concurrent use by multiple Handles' send/receive paths.
type Sink struct {
	mu  sync.Mutex
	w   *bufio.Writer
	src net.IP
	dst net.IP
}

// NewSink wraps w as a text2pcap capture sink. src/dst are the pseudo
// addresses stamped on every synthesized IP header; callers that don't
// care may pass nil to get the defaults 10.0.0.1 -> 10.0.0.2.
func NewSink(w io.Writer, src, dst net.IP) *Sink {
	if src == nil {
		src = net.IPv4(10, 0, 0, 1)
	}
	if dst == nil {
		dst = net.IPv4(10, 0, 0, 2)
	}
	return &Sink{w: bufio.NewWriter(w), src: src, dst: dst}
}

// WriteRTP captures one RTP packet as a UDP/5004 frame.
func (s *Sink) WriteRTP(payload []byte) error {
	return s.write(payload, rtpPort)
}

// WriteRTCP captures one RTCP packet as a UDP/5005 frame.
func (s *Sink) WriteRTCP(payload []byte) error {
	return s.write(payload, rtcpPort)
}

func (s *Sink) write(payload []byte, port uint16) error {
	udp := udpHeader{sourcePort: port, destPort: port, length: uint16(8 + len(payload))}
	udpBytes := udp.marshal()

	ip := ipV4Header{
		totalLen: uint16(20 + len(udpBytes) + len(payload)),
		protocol: 17,
		src:      s.src,
		dst:      s.dst,
	}

	// Pseudo Ethernet II header: fixed dst/src MACs, EtherType IPv4.
	eth := []byte{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x02,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x00,
	}
	frame := make([]byte, 0, len(eth)+20+len(udpBytes)+len(payload))
	frame = append(frame, eth...)
	frame = append(frame, ip.marshal()...)
	frame = append(frame, udpBytes...)
	frame = append(frame, payload...)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeHexDump(frame)
}

// writeHexDump emits one text2pcap record: a leading hex byte-offset
// followed by up to 16 space-separated hex byte pairs per line, matching
// the canonical `offset  xx xx xx ...` text2pcap input grammar. Offsets
// restart at 0 for every record, which is how text2pcap separates
// packets.
func (s *Sink) writeHexDump(frame []byte) error {
	for i := 0; i < len(frame); i += 16 {
		end := i + 16
		if end > len(frame) {
			end = len(frame)
		}
		if _, err := fmt.Fprintf(s.w, "%06x", i); err != nil {
			return err
		}
		for _, b := range frame[i:end] {
			if _, err := fmt.Fprintf(s.w, " %02x", b); err != nil {
				return err
			}
		}
		if _, err := s.w.WriteString("\n"); err != nil {
			return err
		}
	}
	return s.w.Flush()
}
