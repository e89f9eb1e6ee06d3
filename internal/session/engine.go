package session

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/webrtc-core/internal/auth"
	"github.com/ethan/webrtc-core/internal/icepipe"
	"github.com/ethan/webrtc-core/internal/logging"
	"github.com/ethan/webrtc-core/pkg/config"
	"github.com/ethan/webrtc-core/pkg/logger"
	"github.com/pion/ice/v4"
)

// defaultAudioPT/defaultVideoPT/defaultVideoRTXPT are the payload types
// this engine proposes when it is the side originating the offer:
// offerer mode has no remote SDP yet to read negotiated PTs back from
// (spec §4.6).
const (
	defaultAudioPT    = 111 // opus/48000
	defaultVideoPT    = 96  // VP8/90000
	defaultVideoRTXPT = 97  // rtx, apt=96
)

// Pusher delivers an asynchronous event to whatever transport connection
// owns a Handle (spec §6 push_event). Transports register one per handle
// when they accept a new connection.
type Pusher func(transaction string, message json.RawMessage, jsep *JSEP) error

// Engine is the process-wide facade a transport drives: it owns every
// Session, the plugin registry, the config Store, and the token Table,
// and it is the concrete implementation of Core that plugins call back
// into (spec §5 "process-wide shared state: config snapshot, token
// table, plugin registry").
type Engine struct {
	log    *logger.Logger
	config *config.Store
	auth   *auth.Table

	mu       sync.RWMutex
	sessions map[uint64]*Session
	handles  map[uint64]*Handle // global index across all sessions
	pushers  map[uint64]Pusher

	plugins map[string]Plugin

	nextSessionID atomic.Uint64

	cert tls.Certificate

	loggerFactory *logging.Factory

	eventSink func(pluginName string, handleID uint64, payload json.RawMessage)
}

// NewEngine creates an Engine bound to store and table. cert is the
// process's DTLS identity certificate (spec §4.6); it is generated once
// at startup and reused for every Component.
func NewEngine(store *config.Store, table *auth.Table, cert tls.Certificate, log *logger.Logger) *Engine {
	return &Engine{
		log:           log,
		config:        store,
		auth:          table,
		sessions:      make(map[uint64]*Session),
		handles:       make(map[uint64]*Handle),
		pushers:       make(map[uint64]Pusher),
		plugins:       make(map[string]Plugin),
		cert:          cert,
		loggerFactory: logging.NewFactory(log),
	}
}

// RegisterPlugin makes plugin available under its Package() name for
// attach requests, unless the config's plugins.disable list names it.
func (e *Engine) RegisterPlugin(plugin Plugin) error {
	snap := e.config.Load()
	for _, disabled := range snap.Plugins.Disable {
		if disabled == plugin.Package() {
			e.log.DebugPlugin("plugin disabled by config, not registered", "plugin", plugin.Package())
			return nil
		}
	}
	if err := plugin.Init(e, ""); err != nil {
		return fmt.Errorf("engine: init plugin %s: %w", plugin.Package(), err)
	}
	e.mu.Lock()
	e.plugins[plugin.Package()] = plugin
	e.mu.Unlock()
	e.log.DebugPlugin("plugin registered", "plugin", plugin.Package(), "name", plugin.Name())
	return nil
}

// SetEventSink wires the admin event-monitoring fan-out (spec §6
// notify_event); nil disables it.
func (e *Engine) SetEventSink(f func(pluginName string, handleID uint64, payload json.RawMessage)) {
	e.mu.Lock()
	e.eventSink = f
	e.mu.Unlock()
}

// CreateSession allocates a new Session (spec §3: "created on client
// 'create' request").
func (e *Engine) CreateSession() *Session {
	id := e.nextSessionID.Add(1)
	snap := e.config.Load()
	idle := time.Duration(snap.Media.NoMediaTimer) * time.Second
	if !snap.Media.NoMediaHangup {
		idle = 0 // notify-only: the engine never reaps on no-media alone
	}
	s := NewSession(id, idle, e.log)
	s.Start()

	e.mu.Lock()
	e.sessions[id] = s
	e.mu.Unlock()
	return s
}

// Auth returns the token table this Engine enforces signaling requests
// against (spec §6 auth helpers).
func (e *Engine) Auth() *auth.Table { return e.auth }

// LocalSDP returns the local SDP last built for handleID, if any (spec
// §6: the transport layer reads this back after handle_message to carry
// the answer/offer to the client).
func (e *Engine) LocalSDP(handleID uint64) (string, error) {
	h, ok := e.Handle(handleID)
	if !ok {
		return "", Wrap(ProtocolViolation, "engine: no such handle %d", handleID)
	}
	local, _ := h.SDP()
	return local, nil
}

// Session looks up a session by ID.
func (e *Engine) Session(id uint64) (*Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// DestroySession stops and unregisters a session (spec §3: "destroyed on
// client 'destroy' or idle timeout").
func (e *Engine) DestroySession(id uint64) error {
	e.mu.Lock()
	s, ok := e.sessions[id]
	if ok {
		delete(e.sessions, id)
		for _, h := range s.Handles() {
			delete(e.handles, h.ID)
			delete(e.pushers, h.ID)
		}
	}
	e.mu.Unlock()
	if !ok {
		return Wrap(ProtocolViolation, "engine: no such session %d", id)
	}
	s.Stop()
	return nil
}

// AttachHandle creates a Handle under sessionID and binds it to the
// named plugin package (spec §3 Handle creation, §6 attach).
func (e *Engine) AttachHandle(sessionID uint64, pluginPackage, correlator string, push Pusher) (*Handle, error) {
	e.mu.RLock()
	s, ok := e.sessions[sessionID]
	plugin, pluginOK := e.plugins[pluginPackage]
	e.mu.RUnlock()
	if !ok {
		return nil, Wrap(ProtocolViolation, "engine: no such session %d", sessionID)
	}
	if !pluginOK {
		return nil, Wrap(ProtocolViolation, "engine: no such plugin %q", pluginPackage)
	}

	h := s.NewHandle(correlator)
	if err := h.Attach(plugin, nil); err != nil {
		return nil, err
	}
	if err := plugin.CreateSession(h.ID); err != nil {
		return nil, Wrap(PluginError, "plugin create_session: %w", err)
	}

	e.mu.Lock()
	e.handles[h.ID] = h
	e.pushers[h.ID] = push
	e.mu.Unlock()

	return h, nil
}

// Handle looks up a handle across every session.
func (e *Engine) Handle(id uint64) (*Handle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handles[id]
	return h, ok
}

// HandleMessage forwards a signaling message to the handle's plugin
// (spec §6 handle_message).
func (e *Engine) HandleMessage(handleID uint64, transaction string, message json.RawMessage, jsep *JSEP) (Response, error) {
	h, ok := e.Handle(handleID)
	if !ok {
		return Response{}, Wrap(ProtocolViolation, "engine: no such handle %d", handleID)
	}
	plugin := h.Plugin()
	if plugin == nil {
		return Response{}, Wrap(ProtocolViolation, "engine: handle %d not attached", handleID)
	}
	if jsep != nil {
		if err := e.negotiate(h, jsep); err != nil {
			return Response{}, err
		}
	}
	return plugin.HandleMessage(handleID, transaction, message, jsep), nil
}

// Trickle ingests a trickled candidate or end-of-candidates marker for
// handle (spec §4.6, §3 trickle queue).
func (e *Engine) Trickle(handleID uint64, candidate string, endOfCandidates bool) error {
	h, ok := e.Handle(handleID)
	if !ok {
		return Wrap(ProtocolViolation, "engine: no such handle %d", handleID)
	}
	c := icepipe.TrickleCandidate{Candidate: candidate, EndOfStream: endOfCandidates, ReceivedAt: time.Now()}
	if h.HasFlag(FlagProcessingOffer) {
		h.EnqueueTrickle(c)
		return nil
	}
	stream := h.Stream()
	if stream == nil {
		return Wrap(ProtocolViolation, "engine: handle %d has no stream yet", handleID)
	}
	comp := stream.Component()
	if comp == nil || endOfCandidates {
		return nil
	}
	return comp.AddRemoteCandidate(candidate)
}

// Hangup triggers phase one of teardown for handle (spec §4.10).
func (e *Engine) Hangup(handleID uint64, reason string) {
	if h, ok := e.Handle(handleID); ok {
		h.Hangup(reason, false)
	}
}

// iceConfig builds the ICE agent Config a new Component needs from the
// current config snapshot's STUN/TURN/port-range settings, shared by
// every negotiation path — answerer mode, offerer mode, and ICE restart
// all build their agent the same way (spec §4.6).
func (e *Engine) iceConfig(controlling bool) icepipe.Config {
	snap := e.config.Load()
	cfg := icepipe.Config{
		Controlling:   controlling,
		Lite:          snap.Media.ICELite,
		LoggerFactory: e.loggerFactory,
	}
	if snap.General.STUNServer != "" {
		if u, err := ice.ParseURL(fmt.Sprintf("stun:%s:%d", snap.General.STUNServer, snap.General.STUNPort)); err == nil {
			cfg.Urls = append(cfg.Urls, u)
		}
	}
	if snap.General.TURNServer != "" {
		scheme := "turn"
		if snap.General.TURNType == config.TurnTLS {
			scheme = "turns"
		}
		if u, err := ice.ParseURL(fmt.Sprintf("%s:%s:%d", scheme, snap.General.TURNServer, snap.General.TURNPort)); err == nil {
			u.Username = snap.General.TURNUser
			u.Password = snap.General.TURNPwd
			cfg.Urls = append(cfg.Urls, u)
		}
	}
	if snap.Media.RTPPortMin != 0 {
		cfg.PortMin, cfg.PortMax = snap.Media.RTPPortMin, snap.Media.RTPPortMax
	}
	return cfg
}

// wireCandidatePush registers comp's local-candidate callback to
// trickle each candidate to whichever transport connection owns h (spec
// §4.6); answerer mode, offerer mode, and ICE restart all trickle the
// same way, so they all route through this one callback shape.
func (e *Engine) wireCandidatePush(h *Handle, comp *icepipe.Component) {
	comp.OnCandidate(func(c ice.Candidate) {
		if c == nil {
			return
		}
		e.mu.RLock()
		push := e.pushers[h.ID]
		e.mu.RUnlock()
		if push == nil {
			return
		}
		payload, _ := json.Marshal(map[string]any{"candidate": c.Marshal()})
		_ = push("", payload, nil)
	})
}

// negotiate dispatches an inbound jsep to the right half of §4.6: a
// plugin-requested ICE restart, an offer we must answer, or the client's
// answer to an offer we generated ourselves via CreateOffer.
func (e *Engine) negotiate(h *Handle, jsep *JSEP) error {
	if jsep.Restart {
		return e.Restart(h.ID)
	}
	switch jsep.Type {
	case "offer":
		return e.negotiateAnswer(h, jsep)
	case "answer":
		return e.negotiateOfferAnswer(h, jsep)
	default:
		return nil
	}
}

// negotiateAnswer processes an inbound offer: parses the remote SDP,
// builds the Stream and Component, starts ICE gathering, and drives the
// DTLS handshake to completion in the background (spec §4.6). The
// resulting local SDP is left on the Handle for the caller to read back
// via SDP().
func (e *Engine) negotiateAnswer(h *Handle, jsep *JSEP) error {
	remote, err := icepipe.ParseRemoteSDP(jsep.SDP)
	if err != nil {
		return Wrap(MalformedPacket, "negotiate: parse remote sdp: %w", err)
	}

	h.SetFlag(FlagProcessingOffer)
	h.SetRemoteSDP(jsep.SDP)

	comp, err := icepipe.NewComponent(e.iceConfig(false)) // the remote sent the offer; we answer as the controlled side
	if err != nil {
		return Wrap(ResourceExhausted, "negotiate: create component: %w", err)
	}

	hasAudio, hasVideo := false, false
	var audioPT, videoPT, rtxPT uint8
	audioClockRate, videoClockRate := uint32(48000), uint32(90000)
	for _, m := range remote.Media {
		switch m.Kind {
		case "audio":
			hasAudio = true
			audioPT = m.PayloadType
			if m.ClockRate != 0 {
				audioClockRate = m.ClockRate
			}
		case "video":
			hasVideo = true
			videoPT = m.PayloadType
			rtxPT = m.RTXPayload
			if m.ClockRate != 0 {
				videoClockRate = m.ClockRate
			}
		}
	}
	if hasAudio {
		h.SetFlag(FlagHasAudio)
	}
	if hasVideo {
		h.SetFlag(FlagHasVideo)
	}

	stream := NewStream(randomSSRC(), randomSSRC(), randomSSRC(), audioClockRate, videoClockRate, 1)
	stream.SetComponent(comp)

	setupRole := icepipe.DTLSRoleClient
	if remote.SetupRole == "active" {
		setupRole = icepipe.DTLSRoleServer
	}
	stream.SetRemoteDTLS(setupRole, remote.FingerprintAlgo, remote.FingerprintHash, remote.ICEUfrag, remote.ICEPwd)
	h.SetStream(stream)

	localUfrag, localPwd, err := comp.LocalCredentials()
	if err != nil {
		return Wrap(FatalInternal, "negotiate: local ice credentials: %w", err)
	}
	fp, err := icepipe.CertificateFingerprint(e.cert, "sha-256")
	if err != nil {
		return Wrap(FatalInternal, "negotiate: local fingerprint: %w", err)
	}

	// We answer with the DTLS role opposite whatever the offerer asked us
	// to take: if they announced active, we are passive, and vice versa.
	answerSetup := "active"
	if setupRole == icepipe.DTLSRoleServer {
		answerSetup = "passive"
	}

	localParams := icepipe.LocalSDPParams{
		Offerer:          false,
		ICEUfrag:         localUfrag,
		ICEPwd:           localPwd,
		FingerprintAlgo:  "sha-256",
		FingerprintValue: fp,
		SetupRole:        answerSetup,
		HasAudio:         hasAudio,
		HasVideo:         hasVideo,
		AudioPT:          audioPT,
		VideoPT:          videoPT,
		RTXPT:            rtxPT,
	}
	localSDP, err := icepipe.BuildLocalSDP(localParams)
	if err != nil {
		return Wrap(FatalInternal, "negotiate: build local sdp: %w", err)
	}
	h.SetLocalSDP(localSDP)

	e.wireCandidatePush(h, comp)

	if err := comp.GatherCandidates(); err != nil {
		return Wrap(FatalInternal, "negotiate: gather candidates: %w", err)
	}

	for _, cand := range remote.Candidates {
		_ = comp.AddRemoteCandidate(cand)
	}

	go e.completeHandshake(h, comp, setupRole, remote.FingerprintAlgo, remote.FingerprintHash, remote.ICEUfrag, remote.ICEPwd)

	return nil
}

// CreateOffer builds and gathers candidates for a fresh offer on
// handleID, asking the attached plugin what media to propose if it
// implements OfferHooks (spec §4.6: "on a new handle in offerer mode,
// the core invokes the external plugin first to obtain the offer SDP,
// then gathers candidates"). The resulting offer SDP is left on the
// Handle for the caller to read back via SDP(), the same way an answer
// is; the client's reply arrives later as a "message" carrying a jsep of
// type "answer", handled by negotiateOfferAnswer.
func (e *Engine) CreateOffer(handleID uint64) (string, error) {
	h, ok := e.Handle(handleID)
	if !ok {
		return "", Wrap(ProtocolViolation, "engine: no such handle %d", handleID)
	}
	plugin := h.Plugin()
	if plugin == nil {
		return "", Wrap(ProtocolViolation, "engine: handle %d not attached", handleID)
	}

	plan := OfferPlan{Audio: true, Video: true}
	if hooks, ok := plugin.(OfferHooks); ok {
		plan = hooks.PrepareOffer(handleID)
	}

	h.SetFlag(FlagProcessingOffer)
	if plan.Audio {
		h.SetFlag(FlagHasAudio)
	}
	if plan.Video {
		h.SetFlag(FlagHasVideo)
	}

	comp, err := icepipe.NewComponent(e.iceConfig(true)) // we propose the offer; we drive ICE as the controlling agent
	if err != nil {
		return "", Wrap(ResourceExhausted, "create_offer: create component: %w", err)
	}

	stream := NewStream(randomSSRC(), randomSSRC(), randomSSRC(), 48000, 90000, 1)
	stream.SetComponent(comp)
	h.SetStream(stream)

	localUfrag, localPwd, err := comp.LocalCredentials()
	if err != nil {
		return "", Wrap(FatalInternal, "create_offer: local ice credentials: %w", err)
	}
	fp, err := icepipe.CertificateFingerprint(e.cert, "sha-256")
	if err != nil {
		return "", Wrap(FatalInternal, "create_offer: local fingerprint: %w", err)
	}

	localSDP, err := icepipe.BuildLocalSDP(icepipe.LocalSDPParams{
		Offerer:          true,
		ICEUfrag:         localUfrag,
		ICEPwd:           localPwd,
		FingerprintAlgo:  "sha-256",
		FingerprintValue: fp,
		HasAudio:         plan.Audio,
		HasVideo:         plan.Video,
		AudioPT:          defaultAudioPT,
		VideoPT:          defaultVideoPT,
		RTXPT:            defaultVideoRTXPT,
	})
	if err != nil {
		return "", Wrap(FatalInternal, "create_offer: build local sdp: %w", err)
	}
	h.SetLocalSDP(localSDP)
	h.SetFlag(FlagGotOffer)

	e.wireCandidatePush(h, comp)

	if err := comp.GatherCandidates(); err != nil {
		return "", Wrap(FatalInternal, "create_offer: gather candidates: %w", err)
	}

	return localSDP, nil
}

// negotiateOfferAnswer processes the client's answer to a core-generated
// offer: it reads back the concrete DTLS role the client picked for our
// shared actpass proposal and the remote ICE credentials/candidates,
// then drives the handshake to completion the same way answerer mode
// does (spec §4.6).
func (e *Engine) negotiateOfferAnswer(h *Handle, jsep *JSEP) error {
	remote, err := icepipe.ParseRemoteSDP(jsep.SDP)
	if err != nil {
		return Wrap(MalformedPacket, "negotiate: parse remote answer: %w", err)
	}
	h.SetRemoteSDP(jsep.SDP)
	h.SetFlag(FlagGotAnswer)

	stream := h.Stream()
	if stream == nil {
		return Wrap(ProtocolViolation, "negotiate: handle %d has no stream yet", h.ID)
	}
	comp := stream.Component()
	if comp == nil {
		return Wrap(ProtocolViolation, "negotiate: handle %d has no ice component yet", h.ID)
	}

	// The answerer picked a concrete role for our shared actpass
	// proposal; we take the opposite, same rule as answerer mode.
	role := icepipe.DTLSRoleClient
	if remote.SetupRole == "active" {
		role = icepipe.DTLSRoleServer
	}
	stream.SetRemoteDTLS(role, remote.FingerprintAlgo, remote.FingerprintHash, remote.ICEUfrag, remote.ICEPwd)

	for _, cand := range remote.Candidates {
		_ = comp.AddRemoteCandidate(cand)
	}

	go e.completeHandshake(h, comp, role, remote.FingerprintAlgo, remote.FingerprintHash, remote.ICEUfrag, remote.ICEPwd)

	return nil
}

// negotiatedMedia recovers the audio/video shape a handle already
// negotiated by re-parsing its stored remote SDP, so an ICE restart can
// rebuild a local SDP without renegotiating codecs (spec §4.6: a
// restart touches only ICE credentials and candidates). Falls back to
// this engine's default offer payload types when the handle has no
// remote SDP yet (a restart requested on an offerer-mode handle before
// the client's answer has arrived).
func (e *Engine) negotiatedMedia(h *Handle) (hasAudio, hasVideo bool, audioPT, videoPT, rtxPT uint8) {
	hasAudio = h.HasFlag(FlagHasAudio)
	hasVideo = h.HasFlag(FlagHasVideo)
	audioPT, videoPT, rtxPT = defaultAudioPT, defaultVideoPT, defaultVideoRTXPT

	_, remote := h.SDP()
	if remote == "" {
		return
	}
	rd, err := icepipe.ParseRemoteSDP(remote)
	if err != nil {
		return
	}
	for _, m := range rd.Media {
		switch m.Kind {
		case "audio":
			audioPT = m.PayloadType
		case "video":
			videoPT = m.PayloadType
			rtxPT = m.RTXPayload
		}
	}
	return
}

// completeHandshake runs ICE connect and the DTLS handshake to
// completion off the signaling goroutine, then starts the send queue
// and receive loops (spec §4.6, §4.7, §4.8). Failures hang up the
// handle with the reasons spec §7 assigns them.
func (e *Engine) completeHandshake(h *Handle, comp *icepipe.Component, role icepipe.DTLSRole, fpAlgo, fpHash, remoteUfrag, remotePwd string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := comp.Connect(ctx, remoteUfrag, remotePwd); err != nil {
		h.Hangup("ice-failed", true)
		return
	}
	if err := comp.HandshakeDTLS(ctx, role, e.cert, fpHash, fpAlgo); err != nil {
		h.Hangup("dtls-alert", true)
		return
	}

	h.ClearFlag(FlagProcessingOffer)
	for _, c := range h.DrainTrickle() {
		if !c.EndOfStream {
			_ = comp.AddRemoteCandidate(c.Candidate)
		}
	}

	h.SetFlag(FlagReady)
	runCtx := context.Background()
	h.StartSendQueue(runCtx)
	h.StartReceiveLoops(runCtx, comp)

	if err := comp.StartSCTP(role, func(buf []byte) {
		if plugin := h.Plugin(); plugin != nil {
			if hooks, ok := plugin.(OptionalHooks); ok {
				hooks.IncomingData(h.ID, buf)
			}
		}
	}); err != nil {
		e.log.DebugSCTP("data channel unavailable", "handle", h.ID, "error", err)
	}

	if plugin := h.Plugin(); plugin != nil {
		if hooks, ok := plugin.(OptionalHooks); ok {
			hooks.SetupMedia(h.ID)
		}
	}
}

// --- Core interface, called by plugins via the Engine they were Init'd with ---

func (e *Engine) PushEvent(handleID uint64, transaction string, message json.RawMessage, jsep *JSEP) error {
	e.mu.RLock()
	push := e.pushers[handleID]
	e.mu.RUnlock()
	if push == nil {
		return Wrap(ProtocolViolation, "engine: no transport registered for handle %d", handleID)
	}
	return push(transaction, message, jsep)
}

func (e *Engine) RelayRTP(handleID uint64, video bool, buf []byte) error {
	h, ok := e.Handle(handleID)
	if !ok {
		return Wrap(ProtocolViolation, "engine: no such handle %d", handleID)
	}
	return h.RelayRTP(video, buf)
}

func (e *Engine) RelayRTCP(handleID uint64, video bool, buf []byte) error {
	h, ok := e.Handle(handleID)
	if !ok {
		return Wrap(ProtocolViolation, "engine: no such handle %d", handleID)
	}
	return h.RelayRTCP(video, buf)
}

func (e *Engine) RelayData(handleID uint64, buf []byte) error {
	h, ok := e.Handle(handleID)
	if !ok {
		return Wrap(ProtocolViolation, "engine: no such handle %d", handleID)
	}
	return h.RelayData(buf)
}

func (e *Engine) ClosePC(handleID uint64) error {
	h, ok := e.Handle(handleID)
	if !ok {
		return Wrap(ProtocolViolation, "engine: no such handle %d", handleID)
	}
	h.Hangup("plugin-requested", false)
	return nil
}

func (e *Engine) EndSession(handleID uint64) error {
	h, ok := e.Handle(handleID)
	if !ok {
		return Wrap(ProtocolViolation, "engine: no such handle %d", handleID)
	}
	return e.DestroySession(h.session.ID)
}

func (e *Engine) EventsEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.eventSink != nil
}

func (e *Engine) NotifyEvent(pluginName string, handleID uint64, payload json.RawMessage) {
	e.mu.RLock()
	sink := e.eventSink
	e.mu.RUnlock()
	if sink != nil {
		sink(pluginName, handleID, payload)
	}
}

func (e *Engine) IsSignatureValid(token string) bool { return e.auth.IsSignatureValid(token) }

func (e *Engine) SignatureContains(token, plugin string) bool {
	return e.auth.SignatureContains(token, plugin)
}

// Restart regenerates handleID's local ICE credentials and retriggers
// candidate gathering without renegotiating codecs (spec §4.6: "the
// plugin calls restart, which sets ICE_RESTART, generates a new local
// ufrag/pwd, retriggers gathering, and flags RESEND_TRICKLES"). Plugins
// call this directly as part of the Core capability set; the transport
// layer also reaches it for a client-initiated restart by setting
// JSEP.Restart on a handle_message call, which negotiate dispatches
// here before the plugin ever sees the message.
func (e *Engine) Restart(handleID uint64) error {
	h, ok := e.Handle(handleID)
	if !ok {
		return Wrap(ProtocolViolation, "engine: no such handle %d", handleID)
	}
	stream := h.Stream()
	if stream == nil {
		return Wrap(ProtocolViolation, "restart: handle %d has no stream yet", handleID)
	}
	comp := stream.Component()
	if comp == nil {
		return Wrap(ProtocolViolation, "restart: handle %d has no ice component yet", handleID)
	}

	h.SetFlag(FlagICERestart)
	h.ClearFlag(iceRestartClears)

	ufrag, pwd, err := comp.Restart()
	if err != nil {
		return Wrap(FatalInternal, "restart: ice restart: %w", err)
	}

	fp, err := icepipe.CertificateFingerprint(e.cert, "sha-256")
	if err != nil {
		return Wrap(FatalInternal, "restart: local fingerprint: %w", err)
	}

	role, _, _, _, _ := stream.RemoteDTLS()
	setupRole := "active"
	if role == icepipe.DTLSRoleServer {
		setupRole = "passive"
	}

	hasAudio, hasVideo, audioPT, videoPT, rtxPT := e.negotiatedMedia(h)

	localSDP, err := icepipe.BuildLocalSDP(icepipe.LocalSDPParams{
		ICEUfrag:         ufrag,
		ICEPwd:           pwd,
		FingerprintAlgo:  "sha-256",
		FingerprintValue: fp,
		SetupRole:        setupRole,
		HasAudio:         hasAudio,
		HasVideo:         hasVideo,
		AudioPT:          audioPT,
		VideoPT:          videoPT,
		RTXPT:            rtxPT,
	})
	if err != nil {
		return Wrap(FatalInternal, "restart: build local sdp: %w", err)
	}
	h.SetLocalSDP(localSDP)
	h.SetFlag(FlagResendTrickles)

	e.wireCandidatePush(h, comp)

	return nil
}

var _ Core = (*Engine)(nil)

func randomSSRC() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	if v == 0 {
		v = 1
	}
	return v
}
