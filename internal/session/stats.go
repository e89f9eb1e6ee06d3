package session

import (
	"sync"
	"time"
)

// slowLinkThreshold is the per-second NACK count past which a direction
// is considered a slow link (spec §4.9: "When that count exceeds a
// threshold").
const slowLinkThreshold = 5

// slowLinkNotifyInterval bounds how often slow_link fires for the same
// direction/media (spec §4.9: "invoked at most once per second").
const slowLinkNotifyInterval = time.Second

// direction identifies one of the four (uplink/downlink x audio/video)
// NACK counters Stats tracks.
type direction struct {
	uplink bool
	video  bool
}

// Stats accumulates per-second NACK counts per direction per media for
// one Handle and decides when to fire slow_link (spec §4.9), plus the
// byte/packet counters §5 calls for ("incoming/outgoing stats").
type Stats struct {
	mu sync.Mutex

	nackWindowStart time.Time
	nackCounts      map[direction]int
	lastNotify      map[direction]time.Time

	bytesSent     uint64
	bytesReceived uint64
	packetsSent   uint64
	packetsRecv   uint64

	bytesInLastSecond     uint64
	lastSecondWindowStart time.Time
	bytesThisSecond       uint64
}

// NewStats returns a zero-valued Stats ready for use.
func NewStats() *Stats {
	return &Stats{
		nackCounts: make(map[direction]int),
		lastNotify: make(map[direction]time.Time),
	}
}

// RecordNack records one NACK issued (uplink=true: we asked our peer to
// resend; uplink=false: our peer asked us) for the given media, and
// reports whether slow_link should fire now for this direction.
func (s *Stats) RecordNack(uplink, video bool, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nackWindowStart.IsZero() || now.Sub(s.nackWindowStart) >= time.Second {
		s.nackWindowStart = now
		s.nackCounts = make(map[direction]int)
	}

	d := direction{uplink: uplink, video: video}
	s.nackCounts[d]++

	if s.nackCounts[d] <= slowLinkThreshold {
		return false
	}
	if last, ok := s.lastNotify[d]; ok && now.Sub(last) < slowLinkNotifyInterval {
		return false
	}
	s.lastNotify[d] = now
	return true
}

// RecordSend records one outbound packet's size for byte/packet
// counters.
func (s *Stats) RecordSend(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetsSent++
	s.bytesSent += uint64(size)
	s.accumulateSecond(size)
}

// RecordReceive records one inbound packet's size for byte/packet
// counters.
func (s *Stats) RecordReceive(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetsRecv++
	s.bytesReceived += uint64(size)
	s.accumulateSecond(size)
}

func (s *Stats) accumulateSecond(size int) {
	now := time.Now()
	if s.lastSecondWindowStart.IsZero() || now.Sub(s.lastSecondWindowStart) >= time.Second {
		s.lastSecondWindowStart = now
		s.bytesInLastSecond = s.bytesThisSecond
		s.bytesThisSecond = 0
	}
	s.bytesThisSecond += uint64(size)
}

// Snapshot is a point-in-time copy of the counters, safe to read without
// holding Stats' lock.
type Snapshot struct {
	BytesSent         uint64
	BytesReceived     uint64
	PacketsSent       uint64
	PacketsReceived   uint64
	BytesInLastSecond uint64
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		BytesSent:         s.bytesSent,
		BytesReceived:     s.bytesReceived,
		PacketsSent:       s.packetsSent,
		PacketsReceived:   s.packetsRecv,
		BytesInLastSecond: s.bytesInLastSecond,
	}
}
