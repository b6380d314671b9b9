// Package job drives the lifecycle shared by the discovery and migration
// runners: one job row per run, adopted across restarts, heartbeated while
// alive and finished through compare-and-swap transitions that an
// operator's stop always wins.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
)

// Manager owns job rows on behalf of a worker process.
type Manager struct {
	store     *queue.Store
	logger    *zap.Logger
	heartbeat time.Duration
	poll      time.Duration
}

// NewManager creates a manager. heartbeat is the stamp interval, poll the
// delay between status checks while a job is paused.
func NewManager(store *queue.Store, heartbeat, poll time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		logger:    logger,
		heartbeat: heartbeat,
		poll:      poll,
	}
}

// Ensure returns the job this worker should run: the newest job of the
// kind when it is still live (adopted, status untouched), otherwise a fresh
// running job. Interrupted runs therefore resume instead of starting over.
func (m *Manager) Ensure(ctx context.Context, kind queue.JobKind, workerID string) (*queue.Job, error) {
	latest, err := m.store.LatestJob(ctx, kind)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return m.store.CreateJob(ctx, kind, workerID)
	case err != nil:
		return nil, fmt.Errorf("look up latest %s job: %w", kind, err)
	}

	if latest.Status.Terminal() {
		return m.store.CreateJob(ctx, kind, workerID)
	}

	if err := m.store.AdoptJob(ctx, latest.ID, workerID); err != nil {
		return nil, fmt.Errorf("adopt job %s: %w", latest.ID, err)
	}
	m.logger.Info("adopted existing job",
		zap.String("job_id", latest.ID),
		zap.String("kind", string(kind)),
		zap.String("status", string(latest.Status)))
	return m.store.GetJob(ctx, latest.ID)
}

// StartHeartbeat stamps the job alive on an interval until the returned
// stop function is called or ctx is done. stop waits for the goroutine to
// exit.
func (m *Manager) StartHeartbeat(ctx context.Context, jobID string) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(m.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := m.store.Heartbeat(hbCtx, jobID); err != nil && hbCtx.Err() == nil {
					m.logger.Warn("heartbeat failed",
						zap.String("job_id", jobID), zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Status polls the job's current status.
func (m *Manager) Status(ctx context.Context, jobID string) (queue.JobStatus, error) {
	return m.store.GetJobStatus(ctx, jobID)
}

// WaitWhilePaused blocks while the job is paused, re-polling on the poll
// interval, and returns the first non-paused status it sees.
func (m *Manager) WaitWhilePaused(ctx context.Context, jobID string) (queue.JobStatus, error) {
	for {
		status, err := m.store.GetJobStatus(ctx, jobID)
		if err != nil {
			return "", err
		}
		if status != queue.JobPaused {
			return status, nil
		}
		m.logger.Debug("job paused, waiting", zap.String("job_id", jobID))
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(m.poll):
		}
	}
}

// Complete marks a running job completed. A job that is no longer running
// (stopped or reaped meanwhile) is left as is.
func (m *Manager) Complete(ctx context.Context, jobID, note string) error {
	return m.finish(ctx, jobID, queue.JobCompleted, note, []queue.JobStatus{queue.JobRunning})
}

// Fail marks a running job failed.
func (m *Manager) Fail(ctx context.Context, jobID, note string) error {
	return m.finish(ctx, jobID, queue.JobFailed, note, []queue.JobStatus{queue.JobRunning})
}

// Stop marks a live job stopped, used when a worker shuts down on signal.
func (m *Manager) Stop(ctx context.Context, jobID, note string) error {
	return m.finish(ctx, jobID, queue.JobStopped, note, []queue.JobStatus{queue.JobRunning, queue.JobPaused})
}

func (m *Manager) finish(ctx context.Context, jobID string, to queue.JobStatus, note string, from []queue.JobStatus) error {
	ok, err := m.store.TransitionJob(ctx, jobID, from, to, note)
	if err != nil {
		return fmt.Errorf("finish job %s: %w", jobID, err)
	}
	if !ok {
		m.logger.Info("job already left its expected status, not overriding",
			zap.String("job_id", jobID),
			zap.String("wanted", string(to)))
	}
	return nil
}
