package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("queue: not found")

const jobColumns = "id, kind, status, note, worker_id, last_heartbeat, created_at, updated_at"

// CreateJob inserts a new running job owned by workerID and its zeroed
// progress row.
func (s *Store) CreateJob(ctx context.Context, kind JobKind, workerID string) (*Job, error) {
	ts := now()
	job := &Job{
		ID:            uuid.NewString(),
		Kind:          kind,
		Status:        JobRunning,
		WorkerID:      workerID,
		LastHeartbeat: ts,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	_, err := s.exec(ctx, `
		INSERT INTO jobs (id, kind, status, note, worker_id, last_heartbeat, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.Kind, job.Status, job.Note, job.WorkerID,
		job.LastHeartbeat, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	if _, err := s.exec(ctx, `
		INSERT INTO job_progress (job_id, updated_at) VALUES ($1, $2)`,
		job.ID, ts); err != nil {
		return nil, fmt.Errorf("insert job progress: %w", err)
	}
	s.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("kind", string(kind)))
	return job, nil
}

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.Kind, &j.Status, &j.Note, &j.WorkerID,
		&j.LastHeartbeat, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE id = $1", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetJobStatus reads only the status column. Workers poll this between
// work items, so it stays as light as possible.
func (s *Store) GetJobStatus(ctx context.Context, id string) (JobStatus, error) {
	var status JobStatus
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM jobs WHERE id = $1", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get job status: %w", err)
	}
	return status, nil
}

// LatestJob returns the most recently created job of a kind, or ErrNotFound.
func (s *Store) LatestJob(ctx context.Context, kind JobKind) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE kind = $1 ORDER BY created_at DESC, id DESC LIMIT 1",
		kind)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs newest first, optionally filtered by kind and status.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]*Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE 1=1"
	args := []any{}
	if f.Kind != "" {
		args = append(args, f.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// AdoptJob records workerID as the current owner and refreshes the
// heartbeat. The status is left alone so adopting a paused job does not
// resume it.
func (s *Store) AdoptJob(ctx context.Context, id, workerID string) error {
	ts := now()
	res, err := s.exec(ctx, `
		UPDATE jobs SET worker_id = $1, last_heartbeat = $2, updated_at = $2
		WHERE id = $3`,
		workerID, ts, id)
	if err != nil {
		return fmt.Errorf("adopt job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Heartbeat stamps the job as alive.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	ts := now()
	_, err := s.exec(ctx, `
		UPDATE jobs SET last_heartbeat = $1, updated_at = $1 WHERE id = $2`,
		ts, id)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// TransitionJob moves a job from one of the expected statuses to a new one
// in a single compare-and-swap statement. It reports false without error
// when the job was no longer in an expected status, so a worker finishing a
// job never overrides an operator's stop.
func (s *Store) TransitionJob(ctx context.Context, id string, from []JobStatus, to JobStatus, note string) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition requires at least one expected status")
	}
	ts := now()
	args := []any{to, note, ts, id}
	for _, st := range from {
		args = append(args, st)
	}
	query := fmt.Sprintf(`
		UPDATE jobs SET status = $1, note = $2, updated_at = $3
		WHERE id = $4 AND status IN (%s)`, placeholders(5, len(from)))

	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition job rows: %w", err)
	}
	if n > 0 {
		s.logger.Info("job transition",
			zap.String("job_id", id),
			zap.String("to", string(to)),
			zap.String("note", note))
	}
	return n > 0, nil
}

// ReapStaleJobs fails every running job whose heartbeat predates cutoff.
// It returns the ids it reaped.
func (s *Store) ReapStaleJobs(ctx context.Context, cutoff time.Time, note string) ([]string, error) {
	ts := now()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM jobs WHERE status = $1 AND last_heartbeat < $2`,
		JobRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale job: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var reaped []string
	for _, id := range ids {
		// Guarded per id so a job that just heartbeated or was stopped
		// in the meantime is skipped.
		res, err := s.exec(ctx, `
			UPDATE jobs SET status = $1, note = $2, updated_at = $3
			WHERE id = $4 AND status = $5 AND last_heartbeat < $6`,
			JobFailed, note, ts, id, JobRunning, cutoff)
		if err != nil {
			return reaped, fmt.Errorf("reap job %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			reaped = append(reaped, id)
			s.logger.Warn("reaped stale job", zap.String("job_id", id))
		}
	}
	return reaped, nil
}
