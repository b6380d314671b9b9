package progress

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
)

// Watcher periodically renders a job's progress to a writer until the job
// reaches a terminal status. Used by the status --watch command.
type Watcher struct {
	store    *queue.Store
	out      io.Writer
	interval time.Duration
}

// NewWatcher creates a watcher writing to out every interval.
func NewWatcher(store *queue.Store, out io.Writer, interval time.Duration) *Watcher {
	return &Watcher{store: store, out: out, interval: interval}
}

// Watch renders immediately, then on every tick, and returns once the job
// is terminal or ctx is done.
func (w *Watcher) Watch(ctx context.Context, jobID string) error {
	var prev *Snapshot
	var prevAt time.Time

	render := func() (bool, error) {
		job, err := w.store.GetJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		p, err := w.store.GetProgress(ctx, jobID)
		if err != nil {
			return false, err
		}
		at := time.Now().UTC()
		snap := Build(job, p, at)

		rate := 0.0
		if prev != nil {
			if dt := at.Sub(prevAt).Seconds(); dt > 0 {
				rate = float64(snap.DoneFiles-prev.DoneFiles) / dt
				if rate < 0 {
					rate = 0
				}
			}
		}
		fmt.Fprint(w.out, Render(snap, rate))
		prev = &snap
		prevAt = at
		return job.Status.Terminal(), nil
	}

	terminal, err := render()
	if err != nil {
		return err
	}
	if terminal {
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			terminal, err := render()
			if err != nil {
				return err
			}
			if terminal {
				return nil
			}
		}
	}
}

// Render formats one snapshot as a text block.
func Render(s Snapshot, rate float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\njob %s (%s): %s\n", s.Job.ID, s.Job.Kind, s.Job.Status)
	if s.Job.Note != "" {
		fmt.Fprintf(&b, "note:  %s\n", s.Job.Note)
	}
	fmt.Fprintf(&b, "files  %s (%d/%d, %d failed)\n",
		Bar(s.DonePercent, 40), s.DoneFiles, s.Progress.TotalFiles, s.Progress.FailedFiles)
	fmt.Fprintf(&b, "bytes  %s discovered\n", FormatBytes(s.Progress.TotalBytes))
	fmt.Fprintf(&b, "dirs   %d scanned\n", s.Progress.ScannedDirs)
	fmt.Fprintf(&b, "rate   %s   elapsed %s\n", FormatRate(rate), s.Elapsed)
	return b.String()
}
