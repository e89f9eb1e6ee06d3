package session

import "encoding/json"

// JSEP carries the offer/answer/ICE-restart metadata push_event attaches
// to a signaling message (spec §6 push_event's jsep parameter).
type JSEP struct {
	Type    string // "offer" or "answer"
	SDP     string
	Restart bool
	Update  bool
}

// Outcome is a plugin's reply to handle_message (spec §6).
type Outcome int

const (
	// OutcomeOK carries an immediate payload.
	OutcomeOK Outcome = iota
	// OutcomeWait acknowledges receipt; the real response arrives later
	// via Core.PushEvent.
	OutcomeWait
	// OutcomeError surfaces a plugin-side failure to the client unchanged.
	OutcomeError
)

// Response is what handle_message returns.
type Response struct {
	Outcome Outcome
	Payload json.RawMessage
	Text    string // ack text for OutcomeWait, error text for OutcomeError
}

// Core is the capability set the engine offers to an attached Plugin
// (spec §6 "Plugin-facing capability set"). Every method is safe to call
// from the plugin's own async worker, reentrantly.
type Core interface {
	// PushEvent delivers a JSON event to the client; jsep is nil when the
	// event carries no SDP.
	PushEvent(handleID uint64, transaction string, message json.RawMessage, jsep *JSEP) error
	// RelayRTP enqueues one RTP packet for the handle's send worker.
	RelayRTP(handleID uint64, video bool, buf []byte) error
	// RelayRTCP enqueues one RTCP packet for the handle's send worker.
	RelayRTCP(handleID uint64, video bool, buf []byte) error
	// RelayData enqueues one DataChannel message for the handle's send worker.
	RelayData(handleID uint64, buf []byte) error
	// ClosePC requests the PeerConnection close; hangup_media follows.
	ClosePC(handleID uint64) error
	// EndSession requests permanent destruction of the handle's session.
	EndSession(handleID uint64) error
	// EventsEnabled reports whether telemetry fan-out is configured.
	EventsEnabled() bool
	// NotifyEvent fans out an optional telemetry event.
	NotifyEvent(pluginName string, handleID uint64, payload json.RawMessage)
	// IsSignatureValid reports whether token carries a valid signature.
	IsSignatureValid(token string) bool
	// SignatureContains reports whether token's signature permits plugin.
	SignatureContains(token, plugin string) bool
	// Restart regenerates the handle's local ICE ufrag/pwd and
	// retriggers candidate gathering (spec §4.6 "the plugin calls
	// restart").
	Restart(handleID uint64) error
}

// Plugin is the capability set an application module provides (spec §6
// "Core-facing capability set"). Mandatory methods have no default; the
// optional callbacks live in the separate OptionalHooks and OfferHooks
// interfaces below, and a plugin that does not implement one of them
// gets no-op behavior for those calls.
type Plugin interface {
	Init(core Core, configDir string) error
	Destroy()

	APICompat() int
	Name() string
	Package() string
	Description() string
	Version() int

	CreateSession(handleID uint64) error
	HandleMessage(handleID uint64, transaction string, message json.RawMessage, jsep *JSEP) Response
	QuerySession(handleID uint64) json.RawMessage
	DestroySession(handleID uint64) error
}

// OptionalHooks is implemented by plugins that want any of the optional
// core-facing callbacks (spec §6: "Optional: setup_media, incoming_rtp/
// rtcp/data, slow_link, hangup_media"). A plugin that implements none of
// these still satisfies Plugin; the engine type-asserts for the whole
// interface, so a plugin that implements only some of the six methods
// gets none of them called.
type OptionalHooks interface {
	SetupMedia(handleID uint64)
	IncomingRTP(handleID uint64, video bool, buf []byte)
	IncomingRTCP(handleID uint64, video bool, buf []byte)
	IncomingData(handleID uint64, buf []byte)
	SlowLink(handleID uint64, uplink, video bool)
	HangupMedia(handleID uint64)
}

// OfferPlan is what a plugin's PrepareOffer returns to tell the core
// what media to put in an offer the core generates on the plugin's
// behalf (spec §4.6).
type OfferPlan struct {
	Audio bool
	Video bool
}

// OfferHooks is implemented by plugins that drive offerer-mode handles
// (spec §4.6: "On a new handle in offerer mode, the core invokes the
// external plugin first to obtain the offer SDP"). The core calls
// PrepareOffer once, before it builds the offer SDP and starts
// gathering candidates for it; a plugin that doesn't implement this
// interface gets an offer with both audio and video.
type OfferHooks interface {
	PrepareOffer(handleID uint64) OfferPlan
}
