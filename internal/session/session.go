package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/webrtc-core/pkg/logger"
)

// hangupFreeGrace is how long the watchdog waits after Hangup before
// calling Free, so in-flight callbacks have drained (spec §4.10 phase
// two: "scheduled from a watchdog a short time later").
const hangupFreeGrace = 2 * time.Second

// watchdogTick is the reaping loop's polling interval.
const watchdogTick = 1 * time.Second

// Session is the top-level object owned by the signaling layer, holding
// a set of Handles by 64-bit ID (spec §3 "Session"). Created on a
// client "create" request, destroyed on client "destroy"; an idle
// timeout only makes Idle report true and does not destroy it.
type Session struct {
	ID uint64

	log *logger.Logger

	mu               sync.RWMutex
	handles          map[uint64]*Handle
	hangupObservedAt map[uint64]time.Time

	nextHandleID atomic.Uint64
	createdAt    time.Time
	lastActivity atomic.Int64 // unix nanos

	idleTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession creates a Session with the given idle timeout (0 makes Idle
// always report false).
func NewSession(id uint64, idleTimeout time.Duration, log *logger.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:          id,
		log:         log,
		handles:          make(map[uint64]*Handle),
		hangupObservedAt: make(map[uint64]time.Time),
		createdAt:        time.Now(),
		idleTimeout: idleTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// Start launches the watchdog loop that reaps hung-up handles after
// their grace period (spec §4.10, §5 "Watchdog"). The loop does not
// reap idle sessions: Idle reports idleness, and nothing in the loop
// acts on it.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.watchdogLoop()
}

// Stop cancels the watchdog and frees every handle immediately.
func (s *Session) Stop() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.Hangup("session-destroyed", false)
		h.Free()
	}
}

// NewHandle allocates and registers a new Handle under this Session.
func (s *Session) NewHandle(correlator string) *Handle {
	id := s.nextHandleID.Add(1)
	h := NewHandle(id, s, correlator, s.log)

	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()

	s.touch()
	return h
}

// Handle looks up a handle by ID.
func (s *Session) Handle(id uint64) (*Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[id]
	return h, ok
}

// Handles returns a snapshot slice of all handles currently registered.
func (s *Session) Handles() []*Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

// RemoveHandle unregisters a handle (called once its phase-two Free has
// completed).
func (s *Session) RemoveHandle(id uint64) {
	s.mu.Lock()
	delete(s.handles, id)
	s.mu.Unlock()
}

// touch records activity for idle-timeout purposes.
func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// Touch is the exported form of touch, called by the signaling layer on
// every incoming request for this session.
func (s *Session) Touch() { s.touch() }

// Idle reports whether the session has had no handles and no activity
// for at least idleTimeout.
func (s *Session) Idle() bool {
	if s.idleTimeout <= 0 {
		return false
	}
	s.mu.RLock()
	n := len(s.handles)
	s.mu.RUnlock()
	if n > 0 {
		return false
	}
	last := time.Unix(0, s.lastActivity.Load())
	return time.Since(last) >= s.idleTimeout
}

func (s *Session) watchdogLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.reapHungUpHandles()
		}
	}
}

// reapHungUpHandles calls Free on any handle whose Hangup was first
// observed at least hangupFreeGrace ago, then unregisters handles whose
// Free has since completed (spec §4.10 phase two: "scheduled from a
// watchdog a short time later").
func (s *Session) reapHungUpHandles() {
	now := time.Now()

	s.mu.Lock()
	var toFree []*Handle
	for id, h := range s.handles {
		if !h.HasFlag(FlagStop) || h.HasFlag(FlagCleaning) {
			continue
		}
		observedAt, seen := s.hangupObservedAt[id]
		if !seen {
			s.hangupObservedAt[id] = now
			continue // first tick this handle is seen hung-up; let the grace period start
		}
		if now.Sub(observedAt) >= hangupFreeGrace {
			toFree = append(toFree, h)
		}
	}
	s.mu.Unlock()

	for _, h := range toFree {
		h.Free()
	}

	s.mu.Lock()
	for id, h := range s.handles {
		if freed, at := h.Freed(); freed && now.Sub(at) >= hangupFreeGrace {
			delete(s.handles, id)
			delete(s.hangupObservedAt, id)
		}
	}
	s.mu.Unlock()
}
