// Package crawler walks the source hierarchy through the shared frontier.
// Any number of crawler processes can run at once; the frontier's insert
// dedup and claim primitive keep each directory listed exactly once.
package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Zahid-Alee/migrate-supabase/internal/job"
	"github.com/Zahid-Alee/migrate-supabase/internal/metrics"
	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
	"github.com/Zahid-Alee/migrate-supabase/internal/storage"
)

// Crawler claims directories off the frontier, lists them against the
// source and feeds children back into the frontier and the inventory.
type Crawler struct {
	store    *queue.Store
	source   storage.Client
	jobs     *job.Manager
	metrics  *metrics.Collector
	logger   *zap.Logger
	idleWait time.Duration
}

// New creates a crawler. idleWait is the pause between two empty claims
// before the run is considered finished.
func New(store *queue.Store, source storage.Client, jobs *job.Manager, collector *metrics.Collector, idleWait time.Duration, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if collector == nil {
		collector = metrics.New()
	}
	return &Crawler{
		store:    store,
		source:   source,
		jobs:     jobs,
		metrics:  collector,
		logger:   logger,
		idleWait: idleWait,
	}
}

// Run seeds the root and drains the frontier until two consecutive claims
// come back empty, then completes the job. Returning without error covers
// both completion and an observed stop.
func (c *Crawler) Run(ctx context.Context, jobID string) error {
	if _, err := c.store.AddDirectory(ctx, "", ""); err != nil {
		return fmt.Errorf("seed root: %w", err)
	}

	emptyClaims := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		status, err := c.jobs.WaitWhilePaused(ctx, jobID)
		if err != nil {
			return fmt.Errorf("poll job: %w", err)
		}
		if status != queue.JobRunning {
			c.logger.Info("job no longer running, crawler exiting",
				zap.String("job_id", jobID),
				zap.String("status", string(status)))
			return nil
		}

		dir, err := c.store.ClaimNextDirectory(ctx)
		if err != nil {
			return fmt.Errorf("claim directory: %w", err)
		}
		if dir == nil {
			emptyClaims++
			if emptyClaims >= 2 {
				c.logger.Info("frontier drained, completing job", zap.String("job_id", jobID))
				return c.jobs.Complete(ctx, jobID, "discovery finished")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.idleWait):
			}
			continue
		}
		emptyClaims = 0

		if err := c.scanDirectory(ctx, jobID, dir); err != nil {
			return err
		}
	}
}

// scanDirectory lists one claimed directory and records its children. A
// listing failure marks the directory failed and moves on; store failures
// abort the run.
func (c *Crawler) scanDirectory(ctx context.Context, jobID string, dir *queue.FrontierEntry) error {
	log := c.logger.With(zap.String("dir", dir.Path))

	entries, err := c.source.List(ctx, dir.Path)
	if err != nil {
		log.Error("listing failed", zap.Error(err))
		if markErr := c.store.MarkDirectoryFailed(ctx, dir.Path); markErr != nil {
			return fmt.Errorf("mark directory failed: %w", markErr)
		}
		return nil
	}

	var delta queue.ProgressDelta
	newFiles := 0
	for _, entry := range entries {
		if entry.IsDir {
			childPath := dir.Path + entry.Name + "/"
			if _, err := c.store.AddDirectory(ctx, childPath, dir.Path); err != nil {
				return fmt.Errorf("enqueue %q: %w", childPath, err)
			}
			if _, err := c.store.AddInventoryEntry(ctx, &queue.InventoryEntry{
				Path:       childPath,
				IsDir:      true,
				ParentPath: dir.Path,
			}); err != nil {
				return fmt.Errorf("record directory %q: %w", childPath, err)
			}
			continue
		}

		childPath := dir.Path + entry.Name
		inserted, err := c.store.AddInventoryEntry(ctx, &queue.InventoryEntry{
			Path:        childPath,
			ParentPath:  dir.Path,
			Size:        entry.Size,
			ContentType: entry.ContentType,
			SourceURL:   c.source.URL(childPath),
		})
		if err != nil {
			return fmt.Errorf("record file %q: %w", childPath, err)
		}
		// re-discovered rows are no-ops and must not count again
		if inserted {
			newFiles++
			delta.TotalFiles++
			delta.TotalBytes += entry.Size
		}
	}

	if err := c.store.MarkDirectoryDone(ctx, dir.Path); err != nil {
		return fmt.Errorf("mark directory done: %w", err)
	}
	delta.ScannedDirs = 1
	if err := c.store.AddProgress(ctx, jobID, delta); err != nil {
		return fmt.Errorf("record progress: %w", err)
	}

	c.metrics.IncDirScanned()
	c.metrics.AddDiscovered(newFiles, delta.TotalBytes)
	log.Info("directory scanned",
		zap.Int("entries", len(entries)),
		zap.Int("new_files", newFiles),
		zap.Int64("new_bytes", delta.TotalBytes))
	return nil
}
