package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethan/webrtc-core/internal/session"
	"github.com/ethan/webrtc-core/pkg/logger"
	"github.com/google/uuid"
)

// connection is the per-client state a transport (WebSocket or HTTP
// long-poll) maintains: which session it owns and how to push
// asynchronous events back (spec §3 Session/Handle ownership by the
// signaling layer).
type connection struct {
	engine    *session.Engine
	log       *logger.Logger
	push      func(Response) error
	sessionID uint64
	hasSess   bool
}

func newConnection(engine *session.Engine, log *logger.Logger, push func(Response) error) *connection {
	return &connection{engine: engine, log: log, push: push}
}

// dispatch handles one Request and returns the immediate Response. Any
// asynchronous follow-up (candidates, plugin events) is delivered later
// through the connection's push func.
func (c *connection) dispatch(req Request) Response {
	if req.Transaction == "" {
		req.Transaction = uuid.NewString()
	}
	switch req.Type {
	case "create":
		return c.handleCreate(req)
	case "attach":
		return c.handleAttach(req)
	case "message":
		return c.handleMessage(req)
	case "trickle":
		return c.handleTrickle(req)
	case "hangup":
		return c.handleHangup(req)
	case "destroy":
		return c.handleDestroy(req)
	case "keepalive":
		return Response{Type: "ack", Transaction: req.Transaction}
	default:
		return errorResponse(req.Transaction, "protocol_violation", fmt.Sprintf("unknown request type %q", req.Type))
	}
}

func (c *connection) handleCreate(req Request) Response {
	if c.engine.Auth() != nil && c.engine.Auth().Enabled() && !c.engine.Auth().IsSignatureValid(req.Token) {
		return errorResponse(req.Transaction, "auth_failed", "invalid token")
	}
	s := c.engine.CreateSession()
	c.sessionID = s.ID
	c.hasSess = true
	data, _ := json.Marshal(map[string]any{"id": s.ID})
	return Response{Type: "success", Transaction: req.Transaction, SessionID: s.ID, Data: data}
}

func (c *connection) handleAttach(req Request) Response {
	sessionID := req.SessionID
	if sessionID == 0 && c.hasSess {
		sessionID = c.sessionID
	}
	var handleID uint64
	h, err := c.engine.AttachHandle(sessionID, req.Plugin, req.Transaction, func(transaction string, message json.RawMessage, jsep *session.JSEP) error {
		return c.push(Response{
			Type:        "event",
			Transaction: transaction,
			SessionID:   sessionID,
			HandleID:    handleID,
			PluginData:  &PluginData{Plugin: req.Plugin, Data: message},
			JSEP:        toWireJSEP(jsep),
		})
	})
	if err != nil {
		return errorResponse(req.Transaction, errCode(err), err.Error())
	}
	handleID = h.ID
	data, _ := json.Marshal(map[string]any{"id": h.ID})
	resp := Response{Type: "success", Transaction: req.Transaction, SessionID: sessionID, HandleID: h.ID, Data: data}

	if req.Offer {
		offerSDP, err := c.engine.CreateOffer(h.ID)
		if err != nil {
			return errorResponse(req.Transaction, errCode(err), err.Error())
		}
		resp.JSEP = &JSEP{Type: "offer", SDP: offerSDP}
	}
	return resp
}

func (c *connection) handleMessage(req Request) Response {
	var jsep *session.JSEP
	if req.JSEP != nil {
		jsep = &session.JSEP{Type: req.JSEP.Type, SDP: req.JSEP.SDP, Restart: req.JSEP.Restart, Update: req.JSEP.Update}
	}
	resp, err := c.engine.HandleMessage(req.HandleID, req.Transaction, req.Body, jsep)
	if err != nil {
		return errorResponse(req.Transaction, errCode(err), err.Error())
	}

	var answerJSEP *JSEP
	switch {
	case req.JSEP != nil && req.JSEP.Restart:
		// A restart regenerates ICE credentials under the hood; what goes
		// back to the client is a fresh offer of our own.
		if localSDP, sdpErr := c.engine.LocalSDP(req.HandleID); sdpErr == nil {
			answerJSEP = &JSEP{Type: "offer", SDP: localSDP}
		}
	case req.JSEP != nil && req.JSEP.Type == "offer":
		// The client asked us to answer; negotiate already built our
		// local SDP, so send it back now.
		if localSDP, sdpErr := c.engine.LocalSDP(req.HandleID); sdpErr == nil {
			answerJSEP = localSDPToWire(localSDP)
		}
	// A jsep of type "answer" is the client's reply to an offer we
	// generated ourselves via CreateOffer; negotiate already consumed
	// it and there is nothing new to send back.
	default:
	}

	switch resp.Outcome {
	case session.OutcomeError:
		return errorResponse(req.Transaction, "plugin_error", resp.Text)
	case session.OutcomeWait:
		data, _ := json.Marshal(map[string]any{"ack": resp.Text})
		return Response{
			Type: "ack", Transaction: req.Transaction, HandleID: req.HandleID, Data: data,
			JSEP: answerJSEP,
		}
	default:
		return Response{
			Type: "success", Transaction: req.Transaction, HandleID: req.HandleID,
			PluginData: &PluginData{Plugin: req.Plugin, Data: resp.Payload},
			JSEP:       answerJSEP,
		}
	}
}

func (c *connection) handleTrickle(req Request) Response {
	if err := c.engine.Trickle(req.HandleID, req.Candidate, req.EndOfCands); err != nil {
		return errorResponse(req.Transaction, errCode(err), err.Error())
	}
	return Response{Type: "ack", Transaction: req.Transaction, HandleID: req.HandleID}
}

func (c *connection) handleHangup(req Request) Response {
	c.engine.Hangup(req.HandleID, "client-requested")
	return Response{Type: "ack", Transaction: req.Transaction, HandleID: req.HandleID}
}

func (c *connection) handleDestroy(req Request) Response {
	sessionID := req.SessionID
	if sessionID == 0 && c.hasSess {
		sessionID = c.sessionID
	}
	if err := c.engine.DestroySession(sessionID); err != nil {
		return errorResponse(req.Transaction, errCode(err), err.Error())
	}
	c.hasSess = false
	return Response{Type: "success", Transaction: req.Transaction, SessionID: sessionID}
}

func toWireJSEP(j *session.JSEP) *JSEP {
	if j == nil {
		return nil
	}
	return &JSEP{Type: j.Type, SDP: j.SDP, Restart: j.Restart, Update: j.Update}
}

func localSDPToWire(sdp string) *JSEP {
	if sdp == "" {
		return nil
	}
	return &JSEP{Type: "answer", SDP: sdp}
}

func errCode(err error) string {
	var sessErr *session.Error
	if errors.As(err, &sessErr) {
		return sessErr.Code.String()
	}
	return "fatal_internal"
}
