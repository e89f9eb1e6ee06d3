package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethan/webrtc-core/internal/session"
	"github.com/ethan/webrtc-core/pkg/logger"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler upgrades incoming HTTP connections and runs one
// signaling connection per socket for its lifetime (spec §6
// transport-facing mirror, grounded on a long-lived bidirectional
// connection rather than HTTP long-polling).
type WebSocketHandler struct {
	engine *session.Engine
	log    *logger.Logger
}

// NewWebSocketHandler wraps engine for HTTP registration.
func NewWebSocketHandler(engine *session.Engine, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{engine: engine, log: log}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.DebugPlugin("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	send := make(chan Response, 64)
	c := newConnection(h.engine, h.log, func(resp Response) error {
		select {
		case send <- resp:
			return nil
		default:
			return session.Wrap(session.TransientIO, "websocket send queue full")
		}
	})

	go writePump(conn, send, h.log)
	readPump(conn, c, send, h.log)
}

func readPump(conn *websocket.Conn, c *connection, send chan Response, log *logger.Logger) {
	defer func() {
		if c.hasSess {
			_ = c.engine.DestroySession(c.sessionID)
		}
		close(send)
		_ = conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			select {
			case send <- errorResponse("", "malformed_packet", "invalid request envelope"):
			default:
			}
			continue
		}

		resp := c.dispatch(req)
		select {
		case send <- resp:
		default:
			log.DebugPlugin("dropped response, send queue full", "handle", req.HandleID)
		}
	}
}

func writePump(conn *websocket.Conn, send chan Response, log *logger.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case resp, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			buf, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
