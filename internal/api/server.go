// SPDX-License-Identifier: MIT

// Package api exposes the session control surface over HTTP: enqueue
// endpoints feeding the command queue, read-only session browsing backed by
// the artifact tree, health probes and Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rabbitize/rabbitize/internal/config"
	"github.com/rabbitize/rabbitize/internal/log"
	"github.com/rabbitize/rabbitize/internal/queue"
)

// Server wires the router to the queue and the artifact tree on disk.
type Server struct {
	cfg     config.Server
	queue   *queue.Queue
	runsDir string
	ready   func() bool
	logger  zerolog.Logger
}

// NewServer builds the HTTP facade. ready gates /readyz; nil means always
// ready.
func NewServer(cfg config.Server, q *queue.Queue, runsDir string, ready func() bool) *Server {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Server{
		cfg:     cfg,
		queue:   q,
		runsDir: runsDir,
		ready:   ready,
		logger:  log.WithComponent("api"),
	}
}

// Router assembles middleware and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)
	if s.cfg.RateLimitRPS > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitRPS, time.Second))
	}

	r.Post("/start", s.handleStart)
	r.Post("/execute", s.handleExecute)
	r.Post("/end", s.handleEnd)

	r.Get("/queue", s.handleQueueItems)
	r.Get("/queue/{id}", s.handleQueueStatus)

	r.Get("/api/sessions", s.handleSessions)
	r.Get("/api/session/{client}/{test}/{session}", s.handleSessionDetail)
	r.Get("/api/session/{client}/{test}/{session}/step/{index}", s.handleStepDetail)
	r.Get("/api/session/{client}/{test}/{session}/latest.jpg", s.handleLatestImage)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// cors reflects configured origins; an empty allowlist means same-origin
// only.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

type startRequest struct {
	URL       string `json:"url"`
	ClientID  string `json:"clientId"`
	TestID    string `json:"testId"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.URL == "" || req.ClientID == "" || req.TestID == "" {
		s.writeError(w, http.StatusBadRequest, "url, clientId and testId are required")
		return
	}
	id, err := s.queue.EnqueueStart(queue.StartRequest{
		URL:       req.URL,
		ClientID:  req.ClientID,
		TestID:    req.TestID,
		SessionID: req.SessionID,
	})
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "id": id})
}

type executeRequest struct {
	Command []any `json:"command"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Command) == 0 {
		s.writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	id, err := s.queue.EnqueueExecute(req.Command)
	if err != nil {
		if errors.Is(err, queue.ErrExecuteDisabled) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "id": id})
}

type endRequest struct {
	QuickCleanup bool `json:"quickCleanup"`
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	id, err := s.queue.EnqueueEnd(queue.EndRequest{QuickCleanup: req.QuickCleanup})
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "id": id})
}

func (s *Server) handleQueueItems(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queue.Items())
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	item, ok := s.queue.Status(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown or evicted item")
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		s.writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
