// Package api exposes the HTTP interface for the scraper service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/performa-app/performa-crawler/internal/config"
	"github.com/performa-app/performa-crawler/internal/metrics"
	"github.com/performa-app/performa-crawler/internal/run"
	"github.com/performa-app/performa-crawler/internal/scrape"
)

// RunStarter begins a crawl run without blocking on its completion.
type RunStarter interface {
	Start(ctx context.Context, sport string) (string, error)
}

// StatusReader reports the current or last run status.
type StatusReader interface {
	Snapshot() scrape.RunStatus
}

// Server wires HTTP handlers to the orchestrator and catalog store.
type Server struct {
	router  chi.Router
	starter RunStarter
	status  StatusReader
	store   scrape.CatalogStore
	cfg     config.Config
	logger  *zap.Logger

	// runCtx outlives individual requests so a run survives the request
	// that triggered it.
	runCtx context.Context
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runCtx context.Context,
	starter RunStarter,
	status StatusReader,
	store scrape.CatalogStore,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		starter: starter,
		status:  status,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		runCtx:  runCtx,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/runs", s.startRun)
		r.Get("/status", s.getStatus)
		r.Get("/teams", s.listTeams)
		r.Route("/players", func(r chi.Router) {
			r.Get("/", s.listPlayers)
			r.Get("/{player_id}/stats", s.getPlayerStats)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The upstream origin is only touched during runs; readiness covers
	// process-local wiring.
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startRunRequest struct {
	Sport string `json:"sport"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	// An empty body means "use the configured sport".
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	sport := strings.TrimSpace(req.Sport)
	if sport == "" {
		sport = s.cfg.Source.Sport
	}

	runID, err := s.starter.Start(s.runCtx, sport)
	if err != nil {
		if errors.Is(err, run.ErrAlreadyRunning) {
			s.writeError(w, http.StatusConflict, "a crawl run is already in progress")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "sport": sport})
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status.Snapshot())
}

func (s *Server) listTeams(w http.ResponseWriter, r *http.Request) {
	sport := s.sportParam(r)
	teams, err := s.store.Teams(r.Context(), sport)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read teams")
		return
	}
	if teams == nil {
		teams = []scrape.Team{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sport": sport, "teams": teams})
}

func (s *Server) listPlayers(w http.ResponseWriter, r *http.Request) {
	sport := s.sportParam(r)
	players, err := s.store.Players(r.Context(), sport)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read players")
		return
	}
	if players == nil {
		players = []scrape.Player{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sport": sport, "players": players})
}

func (s *Server) getPlayerStats(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "player_id")
	stats, err := s.store.PlayerStats(r.Context(), playerID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read player stats")
		return
	}
	if len(stats) == 0 {
		s.writeError(w, http.StatusNotFound, "no stats for player")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"player_id": playerID, "stats": stats})
}

func (s *Server) sportParam(r *http.Request) string {
	if sport := strings.TrimSpace(r.URL.Query().Get("sport")); sport != "" {
		return sport
	}
	return s.cfg.Source.Sport
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
