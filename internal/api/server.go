package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/svdb-hotmail/domscribr/internal/batcher"
	"github.com/svdb-hotmail/domscribr/internal/events"
	"github.com/svdb-hotmail/domscribr/internal/export"
	"github.com/svdb-hotmail/domscribr/internal/session"
)

// Sessions is the aggregator surface the API drives.
type Sessions interface {
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (session.Status, error)
	Snapshot(ctx context.Context, id string) (session.Snapshot, error)
	Close(ctx context.Context, id string) (bool, error)
	ContextIDs(ctx context.Context) ([]string, error)
}

// Commander delivers start/stop/resume to a document context.
type Commander interface {
	SendCommand(ctx context.Context, contextID, cmdType string) error
}

// Transcripts is notified with the final snapshot of a stopped recording.
type Transcripts interface {
	Assemble(ctx context.Context, snap session.Snapshot)
}

// envelope is the response shape of every JSON endpoint.
type envelope struct {
	OK      bool   `json:"ok"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Server struct {
	sessions    Sessions
	commander   Commander
	transcripts Transcripts
	batcher     *batcher.Batcher
	router      chi.Router
	http        *http.Server
}

// NewServer builds the router. commander, transcripts and b may be nil.
func NewServer(sessions Sessions, commander Commander, transcripts Transcripts, b *batcher.Batcher, port int) *Server {
	srv := &Server{
		sessions:    sessions,
		commander:   commander,
		transcripts: transcripts,
		batcher:     b,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Get("/status", srv.handleStatus)
		r.Get("/sessions", srv.handleListSessions)
		r.Route("/sessions/{contextID}", func(r chi.Router) {
			r.Post("/start", srv.handleStart)
			r.Post("/stop", srv.handleStop)
			r.Post("/resume", srv.handleResume)
			r.Get("/status", srv.handleSessionStatus)
			r.Get("/export", srv.handleExport)
			r.Delete("/", srv.handleClose)
		})
	})

	srv.router = r
	srv.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
	return srv
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("starting HTTP API", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	bufferSize := 0
	if s.batcher != nil {
		bufferSize = s.batcher.BufferLen()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "domscribr",
		"buffer_size": bufferSize,
	})
}

// handleStatus reports the session named by ?contextId, or the idle
// default when none is given.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("contextId")
	if id == "" {
		writeOK(w, session.IdleStatus())
		return
	}
	s.writeStatus(w, r, id)
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, chi.URLParam(r, "contextID"))
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, id string) {
	st, err := s.sessions.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, st)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.sessions.ContextIDs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeOK(w, ids)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contextID")
	if err := s.sessions.Start(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.command(r.Context(), id, events.CommandStart)
	s.writeStatus(w, r, id)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contextID")
	if err := s.sessions.Resume(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.command(r.Context(), id, events.CommandResume)
	s.writeStatus(w, r, id)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contextID")
	if err := s.sessions.Stop(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.command(r.Context(), id, events.CommandStop)

	snap, err := s.sessions.Snapshot(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.transcripts != nil {
		s.transcripts.Assemble(r.Context(), snap)
	}
	writeOK(w, session.Status{
		Recording:      snap.Recording,
		MessageCount:   snap.MessageCount,
		LastCapturedAt: snap.LastCapturedAt,
	})
}

// command forwards to the document context. The session state has already
// changed; an unreachable context is only logged.
func (s *Server) command(ctx context.Context, id, cmdType string) {
	if s.commander == nil {
		return
	}
	if err := s.commander.SendCommand(ctx, id, cmdType); err != nil {
		slog.Warn("api: command not delivered",
			"context_id", id,
			"command", cmdType,
			"error", err,
		)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contextID")
	exp, err := export.NewExporter(r.URL.Query().Get("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: err.Error()})
		return
	}

	snap, err := s.sessions.Snapshot(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", exp.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(snap, exp)))
	w.WriteHeader(http.StatusOK)
	if err := exp.Export(snap, w); err != nil {
		slog.Error("api: export failed", "context_id", id, "error", err)
	}
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "contextID")
	existed, err := s.sessions.Close(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]bool{"closed": existed})
}

func writeOK(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Payload: payload})
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrMissingContext) {
		writeJSON(w, http.StatusBadRequest, envelope{Error: err.Error()})
		return
	}
	slog.Error("api: request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, envelope{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
