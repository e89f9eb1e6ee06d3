package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethan/webrtc-core/pkg/logger"
)

// longPollWait bounds how long a GET on the event-drain endpoint blocks
// waiting for something to push, mirroring the teacher's long-poll
// transport shape without copying any particular product's exact paths.
const longPollWait = 20 * time.Second

// httpSignalEntry is one session's HTTP-transport state: the dispatcher
// that owns it plus the queue its asynchronous events accumulate in
// between GET polls.
type httpSignalEntry struct {
	conn   *connection
	events chan Response
}

// httpSignalHub is the long-poll counterpart to a WebSocket connection:
// since HTTP requests are stateless, the hub keeps one connection (and
// its pending event queue) alive per session between POSTs.
type httpSignalHub struct {
	mu   sync.Mutex
	byID map[uint64]*httpSignalEntry
	log  *logger.Logger
}

func newHTTPSignalHub(log *logger.Logger) *httpSignalHub {
	return &httpSignalHub{byID: make(map[uint64]*httpSignalEntry), log: log}
}

func (h *httpSignalHub) entryFor(sessionID uint64) (*httpSignalEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.byID[sessionID]
	return e, ok
}

func (h *httpSignalHub) register(sessionID uint64, e *httpSignalEntry) {
	h.mu.Lock()
	h.byID[sessionID] = e
	h.mu.Unlock()
}

func (h *httpSignalHub) remove(sessionID uint64) {
	h.mu.Lock()
	if e, ok := h.byID[sessionID]; ok {
		close(e.events)
		delete(h.byID, sessionID)
	}
	h.mu.Unlock()
}

// handleSignal services POST: one Request in, one Response out,
// synchronously, same semantics as a WebSocket dispatch call.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errorResponse("", "malformed_packet", "invalid request envelope"))
		return
	}

	var entry *httpSignalEntry
	if req.SessionID != 0 {
		if e, ok := s.httpHub.entryFor(req.SessionID); ok {
			entry = e
		}
	}

	if entry == nil {
		events := make(chan Response, 64)
		c := newConnection(s.engine, s.log, func(resp Response) error {
			select {
			case events <- resp:
			default:
				s.log.DebugPlugin("dropped http-transport event, queue full")
			}
			return nil
		})
		entry = &httpSignalEntry{conn: c, events: events}
	}

	resp := entry.conn.dispatch(req)

	if req.Type == "create" && resp.Type == "success" {
		s.httpHub.register(resp.SessionID, entry)
	}
	if req.Type == "destroy" && resp.Type == "success" {
		s.httpHub.remove(req.SessionID)
	}

	writeJSON(w, resp)
}

// handleSignalEvents services GET: long-polls for the next asynchronous
// event belonging to a session (candidates, plugin pushes), returning an
// empty array if none arrives before longPollWait elapses.
func (s *Server) handleSignalEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID, err := parseSessionID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, ok := s.httpHub.entryFor(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), longPollWait)
	defer cancel()

	select {
	case resp, open := <-entry.events:
		if !open {
			writeJSON(w, []Response{})
			return
		}
		writeJSON(w, []Response{resp})
	case <-ctx.Done():
		writeJSON(w, []Response{})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func parseSessionID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(r.URL.Query().Get("session_id"), 10, 64)
}
