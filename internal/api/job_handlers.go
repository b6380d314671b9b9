package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Zahid-Alee/migrate-supabase/internal/progress"
	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
)

// operatorStatuses are the only targets POST /api/jobs/{id}/status accepts.
// completed and failed belong to the workers.
var operatorStatuses = map[queue.JobStatus]bool{
	queue.JobRunning: true,
	queue.JobPaused:  true,
	queue.JobStopped: true,
}

func (s *Server) ListJobs(w http.ResponseWriter, r *http.Request) {
	f := queue.JobFilter{
		Kind:   queue.JobKind(r.URL.Query().Get("kind")),
		Status: queue.JobStatus(r.URL.Query().Get("status")),
	}
	jobs, err := s.Store.ListJobs(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Ensure we return [] not null for empty results
	if jobs == nil {
		jobs = []*queue.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.snapshot(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SetJobStatus applies an operator transition: pause, resume or stop. The
// update is a compare-and-swap against the status the operator saw, so a
// worker finishing concurrently wins and the request gets a conflict.
func (s *Server) SetJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Status queue.JobStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if !operatorStatuses[req.Status] {
		writeError(w, http.StatusBadRequest, "status must be running, paused or stopped")
		return
	}

	jb, err := s.Store.GetJob(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !jb.Status.CanTransitionTo(req.Status) {
		writeError(w, http.StatusConflict,
			"cannot transition from "+string(jb.Status)+" to "+string(req.Status))
		return
	}

	ok, err := s.Store.TransitionJob(r.Context(), id,
		[]queue.JobStatus{jb.Status}, req.Status, string(req.Status)+" via api")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "job status changed concurrently, retry")
		return
	}

	jb, err = s.Store.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jb)
}

func (s *Server) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Store.GetJob(r.Context(), id); errors.Is(err, queue.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logs, err := s.Store.RecentTransferLogs(r.Context(), id, queryLimit(r, defaultListLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []*queue.TransferLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) snapshot(ctx context.Context, id string) (progress.Snapshot, error) {
	jb, err := s.Store.GetJob(ctx, id)
	if err != nil {
		return progress.Snapshot{}, err
	}
	p, err := s.Store.GetProgress(ctx, id)
	if err != nil {
		return progress.Snapshot{}, err
	}
	return progress.Build(jb, p, time.Now().UTC()), nil
}

// queryLimit parses the limit query parameter, clamped to maxListLimit.
func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
