package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/webrtc-core/internal/capture"
	"github.com/ethan/webrtc-core/internal/icepipe"
	"github.com/ethan/webrtc-core/internal/rtcpengine"
	"github.com/ethan/webrtc-core/internal/rtphdr"
	"github.com/ethan/webrtc-core/pkg/logger"
	"github.com/pion/srtp/v3"
)

// Handle is one PeerConnection attempt (spec §3 "Handle"). Exactly one
// Stream is attached. A Handle is bound to at most one Plugin for its
// lifetime (invariant a).
type Handle struct {
	ID uint64

	session    *Session
	log        *logger.Logger

	mu sync.Mutex // guards flags, SDP strings, hangup reason (spec §5)

	flags      Flags
	localSDP   string
	remoteSDP  string
	hangupReason string

	correlator string
	createdAt  time.Time

	plugin       Plugin
	pluginCookie any

	trickle *icepipe.TrickleQueue

	stream *Stream

	sendQueue *SendQueue
	stats     *Stats
	logOnce   *LogOnce

	captureSink *capture.Sink

	hangupOnce sync.Once
	freeOnce   sync.Once
	freedAt    atomic.Value // time.Time, set once phase two completes
}

// NewHandle creates a Handle owned by session, not yet attached to any
// plugin or Stream.
func NewHandle(id uint64, sess *Session, correlator string, log *logger.Logger) *Handle {
	return &Handle{
		ID:         id,
		session:    sess,
		log:        log,
		correlator: correlator,
		createdAt:  time.Now(),
		trickle:    icepipe.NewTrickleQueue(),
		stats:      NewStats(),
		logOnce:    NewLogOnce(10 * time.Second),
	}
}

// Flags returns the current flag bitset.
func (h *Handle) Flags() Flags {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags
}

// SetFlag ORs bit into the flag bitset.
func (h *Handle) SetFlag(bit Flags) {
	h.mu.Lock()
	h.flags = h.flags.Set(bit)
	h.mu.Unlock()
}

// ClearFlag clears bit from the flag bitset.
func (h *Handle) ClearFlag(bit Flags) {
	h.mu.Lock()
	h.flags = h.flags.Clear(bit)
	h.mu.Unlock()
}

// HasFlag reports whether bit is set.
func (h *Handle) HasFlag(bit Flags) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags.Has(bit)
}

// Cleaning reports whether CLEANING has been set, short-circuiting most
// operations per spec §3's flag description.
func (h *Handle) Cleaning() bool { return h.HasFlag(FlagCleaning) }

// SDP returns the current local and remote SDP strings.
func (h *Handle) SDP() (local, remote string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.localSDP, h.remoteSDP
}

// SetLocalSDP records the offer/answer we generated.
func (h *Handle) SetLocalSDP(sdp string) {
	h.mu.Lock()
	h.localSDP = sdp
	h.mu.Unlock()
}

// SetRemoteSDP records the offer/answer the peer sent.
func (h *Handle) SetRemoteSDP(sdp string) {
	h.mu.Lock()
	h.remoteSDP = sdp
	h.mu.Unlock()
}

// Attach binds plugin to this Handle exactly once (invariant a).
func (h *Handle) Attach(plugin Plugin, cookie any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.plugin != nil {
		return Wrap(ProtocolViolation, "handle %d already attached to a plugin", h.ID)
	}
	h.plugin = plugin
	h.pluginCookie = cookie
	return nil
}

// Plugin returns the attached plugin, or nil.
func (h *Handle) Plugin() Plugin {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.plugin
}

// SetStream attaches the Stream backing this Handle's media.
func (h *Handle) SetStream(s *Stream) {
	h.mu.Lock()
	h.stream = s
	h.mu.Unlock()
}

// Stream returns the attached Stream, or nil before negotiation
// completes.
func (h *Handle) Stream() *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stream
}

// EnqueueTrickle buffers a trickled candidate in the pending-trickle
// queue. Callers use it while PROCESSING_OFFER is set; DrainTrickle
// hands the queue back once it clears (spec §3, §4.6).
func (h *Handle) EnqueueTrickle(c icepipe.TrickleCandidate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trickle.Enqueue(c)
}

// DrainTrickle empties the pending-trickle queue once PROCESSING_OFFER
// clears (spec §3: "drained once PROCESSING_OFFER clears").
func (h *Handle) DrainTrickle() []icepipe.TrickleCandidate {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trickle.Drain()
}

// SetCaptureSink configures a text2pcap capture sink; pass nil to
// disable.
func (h *Handle) SetCaptureSink(sink *capture.Sink) {
	h.mu.Lock()
	h.captureSink = sink
	h.mu.Unlock()
}

// StartSendQueue wires and launches the single send worker for this
// Handle (spec §3 invariant c, §4.7).
func (h *Handle) StartSendQueue(ctx context.Context) {
	h.sendQueue = NewSendQueue(h.writePacket, func(reason string) {
		h.log.DebugRTP("packet dropped", "handle", h.ID, "reason", reason)
	})
	h.sendQueue.Start(ctx)
}

// StartReceiveLoops launches the background goroutines that accept newly
// observed inbound RTP/RTCP SSRCs from the Component and read each one
// until the Handle is torn down (spec §4.8's receive path, upstream of
// HandleInboundRTP/HandleInboundRTCP).
func (h *Handle) StartReceiveLoops(ctx context.Context, comp *icepipe.Component) {
	go h.acceptRTPLoop(ctx, comp)
	go h.acceptRTCPLoop(ctx, comp)
}

func (h *Handle) acceptRTPLoop(ctx context.Context, comp *icepipe.Component) {
	for {
		rs, ssrc, err := comp.AcceptRTPStream()
		if err != nil {
			return
		}
		go h.readRTPStream(ctx, rs, ssrc)
	}
}

func (h *Handle) readRTPStream(ctx context.Context, rs *srtp.ReadStreamSRTP, ssrc uint32) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := rs.Read(buf)
		if err != nil {
			return
		}
		stream := h.Stream()
		if stream == nil {
			continue
		}
		video, layer, isRTX, ok := stream.ClassifyIncomingSSRC(ssrc)
		if !ok {
			continue
		}
		payload := buf[:n]
		if isRTX {
			payload = unwrapRTX(payload)
			if payload == nil {
				continue
			}
		}
		h.HandleInboundRTP(video, layer, payload)
	}
}

func (h *Handle) acceptRTCPLoop(ctx context.Context, comp *icepipe.Component) {
	for {
		rs, ssrc, err := comp.AcceptRTCPStream()
		if err != nil {
			return
		}
		go h.readRTCPStream(ctx, rs, ssrc)
	}
}

func (h *Handle) readRTCPStream(ctx context.Context, rs *srtp.ReadStreamSRTCP, ssrc uint32) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := rs.Read(buf)
		if err != nil {
			return
		}
		stream := h.Stream()
		video := false
		if stream != nil {
			video, _, _, _ = stream.ClassifyIncomingSSRC(ssrc)
		}
		h.HandleInboundRTCP(video, buf[:n])
	}
}

// unwrapRTX strips the RFC 4588 rtx framing from an inbound payload,
// re-presenting the packet under its original sequence number so it can
// be processed as if it had arrived on the base SSRC (spec §4.8: "if
// rtx, the OSN is stripped and the packet re-presented under the base
// SSRC").
func unwrapRTX(buf []byte) []byte {
	hdr, err := rtphdr.Parse(buf)
	if err != nil {
		return nil
	}
	payload := hdr.Payload(buf)
	if len(payload) < 2 {
		return nil
	}
	osn := uint16(payload[0])<<8 | uint16(payload[1])

	out := make([]byte, hdr.PayloadOffset+len(payload)-2)
	n, err := hdr.Marshal(out)
	if err != nil {
		return nil
	}
	out[2] = byte(osn >> 8)
	out[3] = byte(osn)
	copy(out[n:], payload[2:])
	return out
}

// RelayRTP enqueues one outbound RTP packet (spec §6 relay_rtp).
func (h *Handle) RelayRTP(video bool, buf []byte) error {
	if h.Cleaning() || h.sendQueue == nil {
		return Wrap(ProtocolViolation, "handle %d not ready for relay", h.ID)
	}
	h.sendQueue.Enqueue(OutboundPacket{Kind: PacketRTP, Video: video, Payload: buf})
	return nil
}

// RelayRTCP enqueues one outbound RTCP packet (spec §6 relay_rtcp).
func (h *Handle) RelayRTCP(video bool, buf []byte) error {
	if h.Cleaning() || h.sendQueue == nil {
		return Wrap(ProtocolViolation, "handle %d not ready for relay", h.ID)
	}
	h.sendQueue.Enqueue(OutboundPacket{Kind: PacketRTCP, Video: video, Payload: buf})
	return nil
}

// RelayData enqueues one outbound DataChannel message (spec §6 relay_data).
func (h *Handle) RelayData(buf []byte) error {
	if h.Cleaning() || h.sendQueue == nil {
		return Wrap(ProtocolViolation, "handle %d not ready for relay", h.ID)
	}
	h.sendQueue.Enqueue(OutboundPacket{Kind: PacketData, Payload: buf})
	return nil
}

// writePacket is the SendQueue's WriteFunc: it applies the rewrite
// context, captures a pre-encryption copy if configured, encrypts via
// SRTP/SRTCP, and writes through the Component (spec §4.7).
func (h *Handle) writePacket(ctx context.Context, pkt OutboundPacket) error {
	stream := h.Stream()
	if stream == nil {
		return Wrap(ProtocolViolation, "handle %d has no stream", h.ID)
	}
	comp := stream.Component()
	if comp == nil {
		return Wrap(TransientIO, "handle %d has no component yet", h.ID)
	}

	switch pkt.Kind {
	case PacketRTP:
		return h.writeRTP(stream, comp, pkt)
	case PacketRTCP:
		return h.writeRTCP(stream, comp, pkt)
	case PacketData:
		if err := comp.WriteData(pkt.Payload); err != nil {
			return Wrap(TransientIO, "handle %d write data channel: %w", h.ID, err)
		}
		return nil
	default:
		return Wrap(MalformedPacket, "handle %d unknown packet kind %v", h.ID, pkt.Kind)
	}
}

func (h *Handle) writeRTP(stream *Stream, comp *icepipe.Component, pkt OutboundPacket) error {
	hdr, err := rtphdr.Parse(pkt.Payload)
	if err != nil {
		return Wrap(MalformedPacket, "parse outbound rtp: %w", err)
	}

	stream.Lock()
	lane := stream.Lane(pkt.Video, 0)
	if lane == nil {
		stream.Unlock()
		return Wrap(ProtocolViolation, "handle %d has no lane for video=%v", h.ID, pkt.Video)
	}
	lane.rewrite.Update(hdr, lane.clockRate)
	n, marshalErr := hdr.Marshal(pkt.Payload)
	if marshalErr == nil {
		lane.sendBuf.Push(hdr.SequenceNumber, pkt.Payload[:n], time.Now())
		lane.rtcp.OnSend(hdr.Timestamp, n-hdr.PayloadOffset, time.Now())
	}
	stream.Unlock()
	if marshalErr != nil {
		return Wrap(MalformedPacket, "marshal outbound rtp: %w", marshalErr)
	}

	if h.captureSink != nil {
		_ = h.captureSink.WriteRTP(pkt.Payload[:n])
	}

	ws, err := comp.WriteRTPStream(hdr.SSRC)
	if err != nil {
		return Wrap(TransientIO, "open write stream: %w", err)
	}
	// Write takes a fully marshaled RTP packet (header+payload); the
	// SRTP session extracts SSRC/sequence from it for encryption.
	if _, err := ws.Write(pkt.Payload[:n]); err != nil {
		return Wrap(TransientIO, "srtp write: %w", err)
	}
	h.stats.RecordSend(n)
	return nil
}

func (h *Handle) writeRTCP(stream *Stream, comp *icepipe.Component, pkt OutboundPacket) error {
	if h.captureSink != nil {
		_ = h.captureSink.WriteRTCP(pkt.Payload)
	}
	ws, err := comp.WriteRTCPStream(0)
	if err != nil {
		return Wrap(TransientIO, "open rtcp write stream: %w", err)
	}
	if _, err := ws.Write(pkt.Payload); err != nil {
		return Wrap(TransientIO, "srtcp write: %w", err)
	}
	h.stats.RecordSend(len(pkt.Payload))
	return nil
}

// HandleInboundRTP processes one decrypted RTP packet that readRTPStream
// has already classified to a lane (and unwrapped, if it arrived as
// rtx): skew compensation, NACK-window update, stats, and the plugin
// callback (spec §4.8).
func (h *Handle) HandleInboundRTP(video bool, layer int, buf []byte) {
	stream := h.Stream()
	if stream == nil {
		return
	}

	hdr, err := rtphdr.Parse(buf)
	if err != nil {
		if h.logOnce.Allow(MalformedPacket) {
			h.log.DebugRTP("malformed inbound rtp", "handle", h.ID, "error", err)
		}
		return
	}

	stream.Lock()
	lane := stream.Lane(video, layer)
	if lane == nil {
		stream.Unlock()
		return
	}

	now := time.Now()
	adj := lane.skew.Observe(hdr.Timestamp, now)
	if adj > 0 {
		lane.rewrite.BumpSeqOffset(adj)
	}
	lane.rtcp.OnReceive(hdr.SequenceNumber, hdr.Timestamp, now)
	lane.recvWin.Insert(hdr.SequenceNumber, now)
	toNack := lane.recvWin.Promote(now)
	stream.Unlock()

	h.stats.RecordReceive(len(buf))

	if len(toNack) > 0 {
		if h.stats.RecordNack(true, video, now) {
			if plugin := h.Plugin(); plugin != nil {
				if hooks, ok := plugin.(OptionalHooks); ok {
					hooks.SlowLink(h.ID, true, video)
				}
			}
		}
		h.sendNack(video, toNack)
	}

	if adj < 0 {
		return // skew compensator says drop this packet
	}

	if plugin := h.Plugin(); plugin != nil {
		if hooks, ok := plugin.(OptionalHooks); ok {
			hooks.IncomingRTP(h.ID, video, buf)
		}
	}
}

func (h *Handle) sendNack(video bool, seqs []uint16) {
	stream := h.Stream()
	if stream == nil {
		return
	}
	comp := stream.Component()
	if comp == nil {
		return
	}
	nack := rtcpengine.BuildNack(0, 0, seqs)
	if nack == nil {
		return
	}
	buf, err := nack.Marshal()
	if err != nil {
		return
	}
	_ = h.RelayRTCP(video, buf)
}

// HandleInboundRTCP decodes one compound RTCP packet and dispatches each
// contained report (spec §4.5).
func (h *Handle) HandleInboundRTCP(video bool, buf []byte) {
	in, err := rtcpengine.Split(buf)
	if err != nil {
		if h.logOnce.Allow(MalformedPacket) {
			h.log.DebugRTP("malformed inbound rtcp", "handle", h.ID, "error", err)
		}
		return
	}

	stream := h.Stream()
	if stream != nil {
		stream.Lock()
		lane := stream.Lane(video, 0)
		if lane != nil {
			for _, sr := range in.SenderReports {
				lane.rtcp.OnSenderReport(sr, time.Now())
			}
		}
		stream.Unlock()
	}

	plugin := h.Plugin()
	hooks, _ := plugin.(OptionalHooks)

	if (len(in.PLIs) > 0 || len(in.FIRs) > 0) && hooks != nil {
		hooks.IncomingRTCP(h.ID, video, buf)
	}
	if in.REMB != nil && hooks != nil {
		hooks.IncomingRTCP(h.ID, video, buf)
	}
	if len(in.NackSeqs) > 0 {
		h.retransmit(video, in.NackSeqs)
	}
}

// retransmit looks up each requested sequence number in the send buffer
// and replies verbatim (or rtx-wrapped under RFC 4588), per spec §4.4,
// invariant I2.
func (h *Handle) retransmit(video bool, seqs []uint16) {
	stream := h.Stream()
	if stream == nil {
		return
	}
	now := time.Now()
	rfc4588 := h.HasFlag(FlagRFC4588RTX)

	stream.Lock()
	lane := stream.Lane(video, 0)
	if lane == nil {
		stream.Unlock()
		return
	}
	var hits [][]byte
	for _, seq := range seqs {
		if !lane.sendBuf.ShouldReply(seq, now) {
			continue
		}
		pkt, ok := lane.sendBuf.Lookup(seq)
		if !ok {
			continue
		}
		if rfc4588 && lane.rtxPayload != 0 {
			hits = append(hits, wrapRTX(pkt.Payload, lane.rtxPayload, lane.sendBuf.NextRTXSeq()))
		} else {
			cp := make([]byte, len(pkt.Payload))
			copy(cp, pkt.Payload)
			hits = append(hits, cp)
		}
	}
	stream.Unlock()

	for _, buf := range hits {
		_ = h.RelayRTP(video, buf)
	}
}

// wrapRTX builds an RFC 4588 retransmission packet: the original header
// with its payload type replaced by rtxPT and its sequence number by
// rtxSeq, and the original sequence number prepended to the payload as
// a 2-byte OSN field (spec §4.4, invariant I2). The SSRC is copied from
// the original unchanged; nothing on the send path substitutes the rtx
// SSRC.
func wrapRTX(original []byte, rtxPT uint8, rtxSeq uint16) []byte {
	hdr, err := rtphdr.Parse(original)
	if err != nil {
		return original
	}
	osn := hdr.SequenceNumber
	payload := hdr.Payload(original)

	out := make([]byte, hdr.PayloadOffset+2+len(payload))
	n, err := hdr.Marshal(out)
	if err != nil {
		return original
	}
	out[1] = (out[1] & 0x80) | rtxPT
	out[2] = byte(rtxSeq >> 8)
	out[3] = byte(rtxSeq)
	out[n] = byte(osn >> 8)
	out[n+1] = byte(osn)
	copy(out[n+2:], payload)
	return out
}

// Hangup begins phase one of the two-phase hangup sequence: mark
// STOP+ALERT or STOP, stop DTLS retransmits, close the ICE agent
// gracefully, invoke the plugin's hangup_media, and record reason for
// HangupReason (spec §4.10). No event is pushed to the signaling layer
// from here. Safe to call more than once; only the first call acts.
func (h *Handle) Hangup(reason string, alert bool) {
	h.hangupOnce.Do(func() {
		h.mu.Lock()
		h.flags = h.flags.Set(FlagStop)
		if alert {
			h.flags = h.flags.Set(FlagAlert)
		}
		h.hangupReason = reason
		h.mu.Unlock()

		if stream := h.Stream(); stream != nil {
			if comp := stream.Component(); comp != nil {
				_ = comp.Close()
			}
		}

		if plugin := h.Plugin(); plugin != nil {
			if hooks, ok := plugin.(OptionalHooks); ok {
				hooks.HangupMedia(h.ID)
			}
		}

		h.log.DebugRTP("handle hung up", "handle", h.ID, "reason", reason, "alert", alert)
	})
}

// HangupReason returns the reason string recorded by Hangup, if any.
func (h *Handle) HangupReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hangupReason
}

// Free is phase two ("webrtc free"): release SRTP/agent/stream/component
// and retransmit buffers. Invoked by the watchdog after a grace period
// so in-flight callbacks have drained (spec §4.10). Safe to call more
// than once; only the first call acts.
func (h *Handle) Free() {
	h.freeOnce.Do(func() {
		h.mu.Lock()
		h.flags = h.flags.Set(FlagCleaning)
		h.mu.Unlock()

		if h.sendQueue != nil {
			h.sendQueue.Stop()
		}
		h.SetStream(nil)
		h.freedAt.Store(time.Now())

		if plugin := h.Plugin(); plugin != nil {
			if err := plugin.DestroySession(h.ID); err != nil {
				h.log.DebugRTP("plugin destroy_session error", "handle", h.ID, "error", err)
			}
		}
	})
}

// Freed reports whether Free has completed, and when.
func (h *Handle) Freed() (bool, time.Time) {
	v := h.freedAt.Load()
	if v == nil {
		return false, time.Time{}
	}
	return true, v.(time.Time)
}

// Correlator returns the opaque external correlator string the
// signaling layer associated with this handle at creation (spec §3).
func (h *Handle) Correlator() string { return h.correlator }

// CreatedAt returns the handle's creation timestamp.
func (h *Handle) CreatedAt() time.Time { return h.createdAt }

