// Package api exposes the control surface over the persisted queue: job
// inspection and control, inventory search, manual retry and reap, a
// WebSocket progress feed, Prometheus metrics and a health check.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Zahid-Alee/migrate-supabase/internal/job"
	"github.com/Zahid-Alee/migrate-supabase/internal/metrics"
	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Server holds shared state for all API handlers.
type Server struct {
	Store   *queue.Store
	Reaper  *job.Reaper
	Metrics *metrics.Collector
	Log     *zap.Logger

	// StuckAfter is how long an in_progress claim may age before
	// /api/files/stuck reports it.
	StuckAfter time.Duration
	// PushInterval is the WebSocket progress push period.
	PushInterval time.Duration
}

// NewRouter builds the chi router with all API routes.
func NewRouter(s *Server) http.Handler {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	if s.StuckAfter <= 0 {
		s.StuckAfter = 10 * time.Minute
	}
	if s.PushInterval <= 0 {
		s.PushInterval = time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		// Jobs
		r.Get("/jobs", s.ListJobs)
		r.Get("/jobs/{id}", s.GetJob)
		r.Post("/jobs/{id}/status", s.SetJobStatus)
		r.Get("/jobs/{id}/logs", s.GetJobLogs)

		// Inventory
		r.Get("/files", s.ListFiles)
		r.Get("/files/stuck", s.ListStuckFiles)
		r.Post("/files/retry", s.RetryFiles)

		// Recovery
		r.Post("/reap/claims", s.ReapClaims)
		r.Post("/reap/jobs", s.ReapJobs)
	})

	// WebSocket (outside /api to avoid JSON content-type assumptions)
	r.Get("/ws/jobs/{id}/progress", s.StreamJobProgress)

	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())
	r.Get("/healthz", s.Health)

	return r
}

// Health reports whether the store answers.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
