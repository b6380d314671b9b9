// Package migrator drains the file inventory: it claims batches of pending
// files, transfers each through a bounded worker pool and records every
// outcome. Multiple migrator processes can share one queue.
package migrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Zahid-Alee/migrate-supabase/internal/job"
	"github.com/Zahid-Alee/migrate-supabase/internal/metrics"
	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
	"github.com/Zahid-Alee/migrate-supabase/internal/storage"
)

// Options tunes one migrator instance.
type Options struct {
	// WorkerID stamps claims so stuck files can be traced to a process.
	WorkerID string
	// BatchSize is how many files one claim takes.
	BatchSize int
	// Concurrency bounds simultaneous transfers within a batch.
	Concurrency int
	// MaxRetries is the attempt cap per file within one claim.
	MaxRetries int
	// RetryBackoff is the base delay; attempt n waits base times n squared.
	RetryBackoff time.Duration
	// BufferThreshold is the size at or under which a file is fully
	// buffered before upload; larger files stream.
	BufferThreshold int64
	// IdleWait is the pause between two empty claims before completion.
	IdleWait time.Duration
	// DestPrefix is prepended to every destination path.
	DestPrefix string
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.BufferThreshold <= 0 {
		o.BufferThreshold = 8 << 20
	}
	if o.IdleWait <= 0 {
		o.IdleWait = 2 * time.Second
	}
	if o.DestPrefix != "" && !strings.HasSuffix(o.DestPrefix, "/") {
		o.DestPrefix += "/"
	}
}

// Migrator moves claimed files from source to destination.
type Migrator struct {
	store   *queue.Store
	source  storage.Client
	dest    storage.Client
	jobs    *job.Manager
	metrics *metrics.Collector
	logger  *zap.Logger
	opts    Options
}

// New creates a migrator.
func New(store *queue.Store, source, dest storage.Client, jobs *job.Manager, collector *metrics.Collector, opts Options, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if collector == nil {
		collector = metrics.New()
	}
	opts.applyDefaults()
	return &Migrator{
		store:   store,
		source:  source,
		dest:    dest,
		jobs:    jobs,
		metrics: collector,
		logger:  logger,
		opts:    opts,
	}
}

// Run claims and transfers batches until two consecutive claims come back
// empty, then completes the job. An observed pause blocks between batches;
// an observed stop exits without touching the job.
func (m *Migrator) Run(ctx context.Context, jobID string) error {
	emptyClaims := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		status, err := m.jobs.WaitWhilePaused(ctx, jobID)
		if err != nil {
			return fmt.Errorf("poll job: %w", err)
		}
		if status != queue.JobRunning {
			m.logger.Info("job no longer running, migrator exiting",
				zap.String("job_id", jobID),
				zap.String("status", string(status)))
			return nil
		}

		batch, err := m.store.ClaimFileBatch(ctx, m.opts.BatchSize, m.opts.WorkerID)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		if len(batch) == 0 {
			emptyClaims++
			if emptyClaims >= 2 {
				m.logger.Info("inventory drained, completing job", zap.String("job_id", jobID))
				return m.jobs.Complete(ctx, jobID, "migration finished")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.opts.IdleWait):
			}
			continue
		}
		emptyClaims = 0

		m.logger.Info("claimed batch",
			zap.String("job_id", jobID),
			zap.Int("files", len(batch)))
		m.processBatch(ctx, jobID, batch)
	}
}

// processBatch fans the batch out to a bounded pool and waits for every
// transfer to settle before the next claim.
func (m *Migrator) processBatch(ctx context.Context, jobID string, batch []*queue.InventoryEntry) {
	workers := m.opts.Concurrency
	if workers > len(batch) {
		workers = len(batch)
	}
	m.metrics.SetInflight(workers)
	defer m.metrics.SetInflight(0)

	tasks := make(chan *queue.InventoryEntry)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			log := m.logger.With(zap.Int("worker_id", id))
			for file := range tasks {
				m.transferFile(ctx, jobID, file, log)
			}
		}(i)
	}

	for _, file := range batch {
		tasks <- file
	}
	close(tasks)
	wg.Wait()
}

// destPath maps a source path into the destination hierarchy.
func (m *Migrator) destPath(path string) string {
	if m.opts.DestPrefix == "" {
		return path
	}
	return m.opts.DestPrefix + path
}
