package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AddProgress applies a signed delta to a job's counters in one additive
// update. Concurrent workers each add their own contribution; nobody ever
// writes an absolute value, so no increment can be lost.
func (s *Store) AddProgress(ctx context.Context, jobID string, d ProgressDelta) error {
	if d == (ProgressDelta{}) {
		return nil
	}
	res, err := s.exec(ctx, `
		UPDATE job_progress SET
			total_bytes    = total_bytes + $1,
			total_files    = total_files + $2,
			scanned_dirs   = scanned_dirs + $3,
			migrated_files = migrated_files + $4,
			failed_files   = failed_files + $5,
			updated_at     = $6
		WHERE job_id = $7`,
		d.TotalBytes, d.TotalFiles, d.ScannedDirs, d.MigratedFiles, d.FailedFiles,
		now(), jobID)
	if err != nil {
		return fmt.Errorf("add progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetProgress reads a job's counters.
func (s *Store) GetProgress(ctx context.Context, jobID string) (*Progress, error) {
	var p Progress
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, total_bytes, total_files, scanned_dirs, migrated_files, failed_files, updated_at
		FROM job_progress WHERE job_id = $1`, jobID).
		Scan(&p.JobID, &p.TotalBytes, &p.TotalFiles, &p.ScannedDirs,
			&p.MigratedFiles, &p.FailedFiles, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return &p, nil
}
