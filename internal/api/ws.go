package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamJobProgress pushes a progress snapshot every PushInterval until the
// job reaches a terminal status, then closes normally. A client that goes
// away surfaces as a write error and ends the loop.
func (s *Server) StreamJobProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := s.snapshot(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(s.PushInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(snap); err != nil {
			return
		}
		if snap.Job.Status.Terminal() {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Job.Status)))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		snap, err = s.snapshot(r.Context(), id)
		if err != nil {
			s.Log.Warn("progress snapshot failed", zap.String("job_id", id), zap.Error(err))
			return
		}
	}
}
