// Package fakebackend is a local stand-in for a realtime speech backend. It
// speaks the same websocket protocol as the real service, with canned
// transcripts and synthesized agent turns, so the client can be exercised
// end to end without credentials or a network.
package fakebackend

import (
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/reverb-labs/skald/internal/observability"
)

// Behavior scripts how a simulated session responds. The zero value is a
// well-behaved backend.
type Behavior struct {
	// OmitSettingsApplied suppresses the settings acknowledgement, leaving
	// clients to their grace-timer fallback.
	OmitSettingsApplied bool

	// RejectSettingsCode, when set, answers the settings payload with an
	// error frame carrying this code instead of applying it.
	RejectSettingsCode string

	// AgentReply is the text the agent answers each caller utterance with.
	// Empty selects a canned reply.
	AgentReply string

	// UtteranceBytes is how much caller audio accumulates before the
	// simulator emits a transcript. Zero selects half a second of PCM16 at
	// 16 kHz.
	UtteranceBytes int

	// AgentChunkBytes and AgentChunkCount shape the synthesized agent audio.
	AgentChunkBytes int
	AgentChunkCount int

	// ChunkDelay paces the synthesized agent audio chunks.
	ChunkDelay time.Duration
}

type Server struct {
	behavior Behavior
	logger   *log.Logger
	upgrader websocket.Upgrader

	allowAnyOrigin bool
}

func New(behavior Behavior, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		behavior:       behavior,
		logger:         logger,
		allowAnyOrigin: true,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin: func(r *http.Request) bool {
			if s.allowAnyOrigin {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/stream", s.handleStream)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := newStreamSession(conn, s.behavior, s.logger)
	s.logger.Printf("fakebackend: session %s connected from %s", sess.id, r.RemoteAddr)
	sess.run()
	s.logger.Printf("fakebackend: session %s disconnected", sess.id)
}
