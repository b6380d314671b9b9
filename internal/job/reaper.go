package job

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
)

// Reaper recovers state left behind by crashed workers: running jobs whose
// heartbeat went silent and claims nobody will ever finish. Every method is
// idempotent.
type Reaper struct {
	store    *queue.Store
	logger   *zap.Logger
	jobTTL   time.Duration
	claimTTL time.Duration
}

// ClaimReapResult reports how many claims went back to the queue.
type ClaimReapResult struct {
	Files       int64 `json:"files"`
	Directories int64 `json:"directories"`
}

// NewReaper creates a reaper. jobTTL is the heartbeat silence after which a
// running job counts as dead, claimTTL the age after which a claim does.
func NewReaper(store *queue.Store, jobTTL, claimTTL time.Duration, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{store: store, logger: logger, jobTTL: jobTTL, claimTTL: claimTTL}
}

// ReapJobs fails running jobs with no heartbeat for jobTTL and returns
// their ids.
func (r *Reaper) ReapJobs(ctx context.Context) ([]string, error) {
	cutoff := time.Now().UTC().Add(-r.jobTTL)
	note := fmt.Sprintf("no heartbeat for %s, reaped", r.jobTTL)
	return r.store.ReapStaleJobs(ctx, cutoff, note)
}

// ReapClaims requeues files and directories claimed longer than claimTTL
// ago. Their attempt history is untouched; they simply become claimable.
func (r *Reaper) ReapClaims(ctx context.Context) (ClaimReapResult, error) {
	cutoff := time.Now().UTC().Add(-r.claimTTL)
	files, err := r.store.ReapStaleFileClaims(ctx, cutoff)
	if err != nil {
		return ClaimReapResult{}, err
	}
	dirs, err := r.store.ReapStaleDirectoryClaims(ctx, cutoff)
	if err != nil {
		return ClaimReapResult{Files: files}, err
	}
	return ClaimReapResult{Files: files, Directories: dirs}, nil
}

// Run reaps jobs and claims on an interval until ctx is done. Used by the
// serve command so a lone control-plane process keeps the queue healthy.
func (r *Reaper) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ids, err := r.ReapJobs(ctx); err != nil {
				r.logger.Error("reap jobs", zap.Error(err))
			} else if len(ids) > 0 {
				r.logger.Warn("reaped jobs", zap.Strings("job_ids", ids))
			}
			if res, err := r.ReapClaims(ctx); err != nil {
				r.logger.Error("reap claims", zap.Error(err))
			} else if res.Files > 0 || res.Directories > 0 {
				r.logger.Info("requeued stale claims",
					zap.Int64("files", res.Files),
					zap.Int64("directories", res.Directories))
			}
		}
	}
}
