// Package transport implements the signaling-facing mirror of the core's
// capability set (spec §6 "transport-facing capability set"): a JSON
// request/response envelope carried over either a long-lived WebSocket
// connection or discrete HTTP calls, both driving the same
// internal/session.Engine.
package transport

import "encoding/json"

// Request is one inbound signaling message (spec §3 create/attach/
// message/trickle/hangup/destroy operations, mapped onto one envelope
// shape regardless of which transport carried it).
type Request struct {
	Type        string          `json:"type"`
	Transaction string          `json:"transaction,omitempty"`
	SessionID   uint64          `json:"session_id,omitempty"`
	HandleID    uint64          `json:"handle_id,omitempty"`
	Plugin      string          `json:"plugin,omitempty"`
	Token       string          `json:"token,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	JSEP        *JSEP           `json:"jsep,omitempty"`
	Candidate   string          `json:"candidate,omitempty"`
	EndOfCands  bool            `json:"end_of_candidates,omitempty"`
	Offer       bool            `json:"offer,omitempty"`
}

// JSEP mirrors internal/session.JSEP over the wire.
type JSEP struct {
	Type    string `json:"type"`
	SDP     string `json:"sdp"`
	Restart bool   `json:"restart,omitempty"`
	Update  bool   `json:"update,omitempty"`
}

// PluginData wraps a plugin's own response payload under its package
// name, the way a multi-plugin gateway disambiguates which plugin a
// given response came from.
type PluginData struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ErrorBody is the error detail carried by a "error"-typed Response.
type ErrorBody struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Response is one outbound message: an immediate reply to a Request, or
// an asynchronous event pushed later via Core.PushEvent.
type Response struct {
	Type        string          `json:"type"`
	Transaction string          `json:"transaction,omitempty"`
	SessionID   uint64          `json:"session_id,omitempty"`
	HandleID    uint64          `json:"handle_id,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	PluginData  *PluginData     `json:"plugindata,omitempty"`
	JSEP        *JSEP           `json:"jsep,omitempty"`
	Error       *ErrorBody      `json:"error,omitempty"`
}

func errorResponse(transaction, code, reason string) Response {
	return Response{Type: "error", Transaction: transaction, Error: &ErrorBody{Code: code, Reason: reason}}
}
