package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
)

// retryableStatuses are the inventory states POST /api/files/retry accepts
// for the by-status form. pending needs no retry and scanned means a
// directory.
var retryableStatuses = map[queue.FileStatus]bool{
	queue.FileFailed:     true,
	queue.FileInProgress: true,
	queue.FileMigrated:   true,
}

func (s *Server) ListFiles(w http.ResponseWriter, r *http.Request) {
	f := queue.InventoryFilter{
		Status: queue.FileStatus(r.URL.Query().Get("status")),
		Prefix: r.URL.Query().Get("prefix"),
		Limit:  queryLimit(r, defaultListLimit),
	}
	entries, err := s.Store.ListInventory(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*queue.InventoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListStuckFiles returns in_progress files whose claim is older than the
// configured threshold, oldest first.
func (s *Server) ListStuckFiles(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().UTC().Add(-s.StuckAfter)
	entries, err := s.Store.StuckFiles(r.Context(), cutoff, queryLimit(r, defaultListLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*queue.InventoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// RetryFiles resets files back to pending, either an explicit path list or
// everything in one status. Exactly one of the two forms must be given.
func (s *Server) RetryFiles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths  []string         `json:"paths"`
		Status queue.FileStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if (len(req.Paths) == 0) == (req.Status == "") {
		writeError(w, http.StatusBadRequest, "provide either paths or status")
		return
	}

	var (
		n   int64
		err error
	)
	if len(req.Paths) > 0 {
		n, err = s.Store.ResetFiles(r.Context(), req.Paths)
	} else {
		if !retryableStatuses[req.Status] {
			writeError(w, http.StatusBadRequest,
				"status must be failed, in_progress or migrated")
			return
		}
		n, err = s.Store.ResetFilesByStatus(r.Context(), req.Status)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"reset": n})
}
