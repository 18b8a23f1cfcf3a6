// Package webserver exposes the Rhasspy-compatible HTTP API. Pipeline
// endpoints block until the seeded session produces its result; the events
// endpoint streams the bus over a websocket.
package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/hermodvoice/hermod/config"
	"github.com/hermodvoice/hermod/internal/middleware"
	"github.com/hermodvoice/hermod/internal/services"
	"github.com/hermodvoice/hermod/pkg/events"
)

const maxBodyBytes = 10 << 20

// Dialog is the blocking action surface the handlers call into.
type Dialog interface {
	ListenForCommand(ctx context.Context) (string, json.RawMessage, error)
	SpeechToText(ctx context.Context, wav []byte) (string, error)
	TextToIntent(ctx context.Context, text string) (string, json.RawMessage, error)
	TextToSpeech(ctx context.Context, text string) error
	PlayWav(ctx context.Context, wav []byte) error
}

// StateReporter exposes a pipeline service's current state for health.
type StateReporter interface {
	State() services.State
}

// Server is the embedded HTTP API.
type Server struct {
	cfg      config.WebServerConfig
	log      *slog.Logger
	dialog   Dialog
	bus      *events.Bus
	reporter map[string]StateReporter
	srv      *http.Server
	upgrader websocket.Upgrader
}

// New builds the server. reporters maps service names to their state for
// the health endpoint.
func New(cfg config.WebServerConfig, dialog Dialog, bus *events.Bus, reporters map[string]StateReporter) *Server {
	s := &Server{
		cfg:      cfg,
		log:      slog.Default().With("component", "webserver"),
		dialog:   dialog,
		bus:      bus,
		reporter: reporters,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)

	r.Post("/api/listen-for-command", s.handleListenForCommand)
	r.Post("/api/speech-to-text", s.handleSpeechToText)
	r.Post("/api/text-to-intent", s.handleTextToIntent)
	r.Post("/api/text-to-speech", s.handleTextToSpeech)
	r.Post("/api/play-wav", s.handlePlayWav)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/health", s.handleHealth)
	return r
}

// ListenAndServe blocks serving the API until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("http api listening", "addr", s.cfg.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleListenForCommand(w http.ResponseWriter, r *http.Request) {
	name, intent, err := s.dialog.ListenForCommand(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeIntent(w, name, intent)
}

func (s *Server) handleSpeechToText(w http.ResponseWriter, r *http.Request) {
	wav, ok := s.readBody(w, r)
	if !ok {
		return
	}
	text, err := s.dialog.SpeechToText(r.Context(), wav)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, text)
}

func (s *Server) handleTextToIntent(w http.ResponseWriter, r *http.Request) {
	text, ok := s.readText(w, r)
	if !ok {
		return
	}
	name, intent, err := s.dialog.TextToIntent(r.Context(), text)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeIntent(w, name, intent)
}

func (s *Server) handleTextToSpeech(w http.ResponseWriter, r *http.Request) {
	text, ok := s.readText(w, r)
	if !ok {
		return
	}
	if err := s.dialog.TextToSpeech(r.Context(), text); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePlayWav(w http.ResponseWriter, r *http.Request) {
	wav, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := s.dialog.PlayWav(r.Context(), wav); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleEvents upgrades to a websocket and streams events, starting with
// the replayed recent history.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	id := "ws-" + xid.New().String()
	sub := s.bus.Subscribe(id, 64)
	defer s.bus.Unsubscribe(id)
	defer conn.Close()

	// Drain client frames so close handshakes are noticed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	states := make(map[string]services.State, len(s.reporter))
	healthy := true
	for name, rep := range s.reporter {
		st := rep.State()
		states[name] = st
		if st.Kind == services.StateException {
			healthy = false
		}
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"healthy":  healthy,
		"services": states,
	})
}

func (s *Server) writeIntent(w http.ResponseWriter, name string, intent json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	if len(intent) > 0 {
		w.Write(intent)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"intent": map[string]string{"intentName": name},
	})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (s *Server) readText(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, ok := s.readBody(w, r)
	if !ok {
		return "", false
	}
	return string(body), true
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, middleware.ErrRequestTimeout) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()))
	})
}
