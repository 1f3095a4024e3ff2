// Package server exposes the dialogue core over HTTP: session creation,
// guest-to-customer merge, the turn ingress and a health probe. The
// transport stays thin; every decision lives in the orchestrator.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/dialogmesh/core"
	"github.com/hupe1980/dialogmesh/orchestrator"
)

// DegradedReply is returned with a 503 when session storage is unavailable.
const DegradedReply = "We're temporarily unavailable. Please try again in a moment."

// Options holds configuration overrides passed to New().
type Options struct {
	// Addr is the listen address.
	Addr string
	// Logger for request logging and panics.
	Logger *slog.Logger
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// Server is the HTTP ingress over an orchestrator.
type Server struct {
	orch            *orchestrator.Orchestrator
	addr            string
	logger          *slog.Logger
	shutdownTimeout time.Duration
	router          *chi.Mux
}

// New constructs a Server for the given orchestrator.
func New(orch *orchestrator.Orchestrator, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:            ":8080",
		Logger:          slog.Default(),
		ShutdownTimeout: 10 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		orch:            orch,
		addr:            opts.Addr,
		logger:          opts.Logger,
		shutdownTimeout: opts.ShutdownTimeout,
	}
	s.router = s.routes()
	return s
}

// Router returns the chi router for mounting or testing.
func (s *Server) Router() *chi.Mux { return s.router }

// Run serves requests until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(s.logger))
	r.Use(Recovery(s.logger))

	r.Get("/health", s.handleHealth)
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Post("/merge", s.handleMergeSession)
		r.Post("/{sessionID}/turns", s.handleTurn)
	})

	return r
}

type createSessionRequest struct {
	VisitorToken string `json:"visitor_token,omitempty"`
	CustomerID   string `json:"customer_id,omitempty"`
}

type sessionResponse struct {
	SessionID string        `json:"session_id"`
	Identity  core.Identity `json:"identity"`
	Status    string        `json:"status"`
	TurnCount int           `json:"turn_count"`
}

type mergeRequest struct {
	GuestToken string `json:"guest_token"`
	CustomerID string `json:"customer_id"`
}

type turnResponse struct {
	SessionID string     `json:"session_id"`
	Units     []planUnit `json:"units"`
}

// planUnit is the wire form of a core.MessageUnit, tagged by type.
type planUnit struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	Parameter string         `json:"parameter,omitempty"`
	Prompt    string         `json:"prompt,omitempty"`
	Name      string         `json:"name,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	TicketRef string         `json:"ticket_ref,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateSession handles POST /v1/sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var identity core.Identity
	switch {
	case req.CustomerID != "":
		identity = core.AuthenticatedIdentity(req.CustomerID)
	case req.VisitorToken != "":
		identity = core.GuestIdentity(req.VisitorToken)
	default:
		writeError(w, http.StatusBadRequest, "visitor_token or customer_id required")
		return
	}

	sess, err := s.orch.CreateOrGetSession(identity)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// handleMergeSession handles POST /v1/sessions/merge
func (s *Server) handleMergeSession(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.GuestToken == "" || req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "guest_token and customer_id required")
		return
	}

	sess, err := s.orch.MergeSession(req.GuestToken, req.CustomerID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

// handleTurn handles POST /v1/sessions/{sessionID}/turns
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var turn core.ClassifiedTurn
	if err := json.NewDecoder(r.Body).Decode(&turn); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if turn.RawText == "" {
		writeError(w, http.StatusBadRequest, "raw_text required")
		return
	}

	plan, err := s.orch.ProcessTurn(r.Context(), sessionID, turn)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	resp := turnResponse{SessionID: plan.SessionID}
	for _, u := range plan.Units {
		resp.Units = append(resp.Units, toPlanUnit(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toPlanUnit(u core.MessageUnit) planUnit {
	switch unit := u.(type) {
	case core.TextUnit:
		return planUnit{Type: "text", Text: unit.Text}
	case core.PromptUnit:
		return planUnit{Type: "prompt", Parameter: unit.Parameter, Prompt: unit.Prompt}
	case core.DataUnit:
		return planUnit{Type: "data", Name: unit.Name, Data: unit.Data}
	case core.TicketUnit:
		return planUnit{Type: "ticket", TicketRef: unit.TicketRef, Text: unit.Text}
	default:
		return planUnit{Type: "text"}
	}
}

func toSessionResponse(sess *core.Session) sessionResponse {
	return sessionResponse{
		SessionID: sess.ID,
		Identity:  sess.Identity,
		Status:    string(sess.Status),
		TurnCount: len(sess.AllTurns()),
	}
}

// writeStoreError maps orchestrator errors to HTTP. Storage failures carry
// the static degraded-mode reply so clients always have something to show.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrStorageUnavailable) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "storage unavailable",
			"reply": DegradedReply,
		})
		return
	}
	if errors.Is(err, core.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.logger.Error("turn failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
