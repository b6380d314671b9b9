// Package progress derives human and API facing views from the persisted
// counters. Nothing here mutates state; the store's additive updates are
// the single source of truth.
package progress

import (
	"time"

	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
)

// Snapshot is one job's progress at a point in time, with the derived
// numbers clients would otherwise recompute.
type Snapshot struct {
	Job            *queue.Job      `json:"job"`
	Progress       *queue.Progress `json:"progress"`
	DoneFiles      int64           `json:"done_files"`
	RemainingFiles int64           `json:"remaining_files"`
	DonePercent    float64         `json:"done_percent"`
	Elapsed        string          `json:"elapsed"`
}

// Build derives a snapshot at the given time. Done covers both migrated and
// failed files: either way the queue is past them.
func Build(job *queue.Job, p *queue.Progress, at time.Time) Snapshot {
	s := Snapshot{
		Job:      job,
		Progress: p,
		Elapsed:  FormatDuration(at.Sub(job.CreatedAt)),
	}
	s.DoneFiles = p.MigratedFiles + p.FailedFiles
	s.RemainingFiles = p.TotalFiles - s.DoneFiles
	if s.RemainingFiles < 0 {
		s.RemainingFiles = 0
	}
	if p.TotalFiles > 0 {
		s.DonePercent = float64(s.DoneFiles) / float64(p.TotalFiles) * 100
		if s.DonePercent > 100 {
			s.DonePercent = 100
		}
	}
	return s
}
