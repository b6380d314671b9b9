package api

import (
	"net/http"
)

// ReapJobs fails running jobs whose heartbeat went silent.
func (s *Server) ReapJobs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Reaper.ReapJobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reaped": ids,
	})
}

// ReapClaims requeues stale file and directory claims.
func (s *Server) ReapClaims(w http.ResponseWriter, r *http.Request) {
	res, err := s.Reaper.ReapClaims(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
