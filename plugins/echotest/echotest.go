// Package echotest is a reference Plugin that loops a caller's own
// audio/video/data back at them, exercising the full core-facing
// capability set end-to-end (spec §4.13).
package echotest

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethan/webrtc-core/internal/session"
	"github.com/pion/rtcp"
)

const (
	apiCompat = 15
	version   = 1
)

// sessionState is the per-handle configuration this plugin tracks,
// mirroring the "audio"/"video"/"bitrate" fields a handle_message body
// may carry (spec §4.13).
type sessionState struct {
	audio   bool
	video   bool
	bitrate int
}

// Plugin loops media back to its sender. Each CreateSession starts with
// audio and video both enabled; a subsequent "configure" message can
// toggle either off or request a new keyframe.
type Plugin struct {
	mu       sync.Mutex
	core     session.Core
	sessions map[uint64]*sessionState
}

// New returns an unattached echotest Plugin; Init wires it to the engine.
func New() *Plugin {
	return &Plugin{sessions: make(map[uint64]*sessionState)}
}

func (p *Plugin) Init(core session.Core, configDir string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.core = core
	return nil
}

func (p *Plugin) Destroy() {}

func (p *Plugin) APICompat() int     { return apiCompat }
func (p *Plugin) Name() string       { return "Echo Test" }
func (p *Plugin) Package() string    { return "plugin.echotest" }
func (p *Plugin) Description() string {
	return "Loops a caller's own audio, video, and data channel back at them"
}
func (p *Plugin) Version() int { return version }

func (p *Plugin) CreateSession(handleID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[handleID] = &sessionState{audio: true, video: true}
	return nil
}

// configureRequest is the shape of a handle_message body this plugin
// understands (spec §4.13: "honors audio/video/bitrate fields").
type configureRequest struct {
	Audio    *bool `json:"audio,omitempty"`
	Video    *bool `json:"video,omitempty"`
	Bitrate  *int  `json:"bitrate,omitempty"`
	Keyframe bool  `json:"keyframe,omitempty"`
	Restart  bool  `json:"restart,omitempty"`
}

// PrepareOffer lets an offerer-mode attach loop media back the same way
// an answerer-mode one does: both audio and video, unless the session
// has already toggled one off via a prior configure message.
func (p *Plugin) PrepareOffer(handleID uint64) session.OfferPlan {
	p.mu.Lock()
	st, ok := p.sessions[handleID]
	p.mu.Unlock()
	if !ok {
		return session.OfferPlan{Audio: true, Video: true}
	}
	return session.OfferPlan{Audio: st.audio, Video: st.video}
}

func (p *Plugin) HandleMessage(handleID uint64, transaction string, message json.RawMessage, jsep *session.JSEP) session.Response {
	var req configureRequest
	if len(message) > 0 {
		if err := json.Unmarshal(message, &req); err != nil {
			return session.Response{Outcome: session.OutcomeError, Text: fmt.Sprintf("malformed request: %v", err)}
		}
	}

	p.mu.Lock()
	st, ok := p.sessions[handleID]
	if !ok {
		p.mu.Unlock()
		return session.Response{Outcome: session.OutcomeError, Text: "no such session"}
	}
	if req.Audio != nil {
		st.audio = *req.Audio
	}
	if req.Video != nil {
		st.video = *req.Video
	}
	if req.Bitrate != nil {
		st.bitrate = *req.Bitrate
	}
	p.mu.Unlock()

	if req.Keyframe {
		p.requestKeyframe(handleID)
	}

	if req.Restart {
		p.mu.Lock()
		core := p.core
		p.mu.Unlock()
		if core != nil {
			if err := core.Restart(handleID); err != nil {
				return session.Response{Outcome: session.OutcomeError, Text: fmt.Sprintf("restart: %v", err)}
			}
		}
	}

	ack, _ := json.Marshal(map[string]any{"echotest": "event", "result": "ok"})

	if jsep != nil {
		// A real loop-back offer/answer exchange happens at the
		// signaling layer (jsep negotiation is handled by the caller of
		// HandleMessage, not this plugin); acknowledge receipt and let
		// the answer the caller sends back with this reply carry the
		// media decision.
		return session.Response{Outcome: session.OutcomeWait, Payload: ack, Text: "processing"}
	}
	return session.Response{Outcome: session.OutcomeOK, Payload: ack}
}

func (p *Plugin) QuerySession(handleID uint64) json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.sessions[handleID]
	if !ok {
		return nil
	}
	out, _ := json.Marshal(map[string]any{
		"audio":   st.audio,
		"video":   st.video,
		"bitrate": st.bitrate,
	})
	return out
}

func (p *Plugin) DestroySession(handleID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, handleID)
	return nil
}

// SetupMedia resets nothing; media starts flowing as soon as the
// transport layer reports it is ready.
func (p *Plugin) SetupMedia(handleID uint64) {}

// IncomingRTP loops the packet straight back to its sender on the same
// media leg, honoring the per-session audio/video toggle.
func (p *Plugin) IncomingRTP(handleID uint64, video bool, buf []byte) {
	p.mu.Lock()
	st, ok := p.sessions[handleID]
	core := p.core
	p.mu.Unlock()
	if !ok || core == nil {
		return
	}
	if video && !st.video {
		return
	}
	if !video && !st.audio {
		return
	}
	_ = core.RelayRTP(handleID, video, buf)
}

// IncomingRTCP acts only on PLIs and FIRs on the video leg, answering
// each with a keyframe request of our own rather than forwarding it,
// since this plugin is both the sender and the receiver of the looped
// stream; other reports are not looped back.
func (p *Plugin) IncomingRTCP(handleID uint64, video bool, buf []byte) {
	if !video {
		return
	}
	var pkts []rtcp.Packet
	pkts, err := rtcp.Unmarshal(buf)
	if err != nil {
		return
	}
	for _, pkt := range pkts {
		switch pkt.(type) {
		case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
			p.requestKeyframe(handleID)
			return
		}
	}
}

func (p *Plugin) IncomingData(handleID uint64, buf []byte) {
	p.mu.Lock()
	core := p.core
	p.mu.Unlock()
	if core == nil {
		return
	}
	_ = core.RelayData(handleID, buf)
}

func (p *Plugin) SlowLink(handleID uint64, uplink, video bool) {}

func (p *Plugin) HangupMedia(handleID uint64) {}

// requestKeyframe sends a PLI back to the caller, asking their encoder
// to produce a new keyframe for the loop. It is called from
// IncomingRTCP on a PLI or FIR, and from a configure message with
// keyframe set.
func (p *Plugin) requestKeyframe(handleID uint64) {
	p.mu.Lock()
	core := p.core
	p.mu.Unlock()
	if core == nil {
		return
	}
	pli := &rtcp.PictureLossIndication{SenderSSRC: 0, MediaSSRC: 0}
	buf, err := pli.Marshal()
	if err != nil {
		return
	}
	_ = core.RelayRTCP(handleID, true, buf)
}
