package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethan/webrtc-core/internal/session"
	"github.com/ethan/webrtc-core/pkg/logger"
)

// Server hosts the WebSocket signaling endpoint plus a small HTTP admin
// surface (info, health), following the teacher's mux/middleware/
// graceful-shutdown shape (spec §4.12).
type Server struct {
	engine  *session.Engine
	log     *logger.Logger
	http    *http.Server
	httpHub *httpSignalHub
}

// NewServer builds the HTTP mux and wraps it with CORS/logging
// middleware, same as the reference server's withCORS/withLogging.
func NewServer(engine *session.Engine, log *logger.Logger, addr string) *Server {
	mux := http.NewServeMux()

	ws := NewWebSocketHandler(engine, log)
	mux.Handle("/ws", ws)

	s := &Server{engine: engine, log: log, httpHub: newHTTPSignalHub(log)}
	mux.HandleFunc("/info", s.handleInfo)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/signal", s.handleSignal)
	mux.HandleFunc("/signal/events", s.handleSignalEvents)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.withLogging(s.withCORS(mux)),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in the background, returning once the listener
// is bound or an immediate startup error occurs.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("http server error")
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		s.log.Info().Str("address", s.http.Addr).Msg("transport listening")
		return nil
	}
}

// Stop gracefully shuts the HTTP server down, waiting for in-flight
// WebSocket upgrades to finish within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	info := map[string]any{
		"name":    "webrtc-core",
		"version": 1,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
