package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AppendTransferLog writes one audit row for a final transfer outcome.
// Retries within one attempt loop do not log; only the outcome does.
func (s *Store) AppendTransferLog(ctx context.Context, rec *TransferLog) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
	_, err := s.exec(ctx, `
		INSERT INTO transfer_log (id, job_id, path, dest_path, status, attempts, error, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.JobID, rec.Path, rec.DestPath, rec.Status, rec.Attempts,
		rec.Error, rec.DurationMs, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append transfer log: %w", err)
	}
	return nil
}

// RecentTransferLogs returns the newest log rows for a job, newest first.
func (s *Store) RecentTransferLogs(ctx context.Context, jobID string, limit int) ([]*TransferLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, path, dest_path, status, attempts, error, duration_ms, created_at
		FROM transfer_log WHERE job_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent transfer logs: %w", err)
	}
	defer rows.Close()

	var logs []*TransferLog
	for rows.Next() {
		var rec TransferLog
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Path, &rec.DestPath,
			&rec.Status, &rec.Attempts, &rec.Error, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transfer log: %w", err)
		}
		logs = append(logs, &rec)
	}
	return logs, rows.Err()
}
