package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const frontierColumns = "path, parent_path, status, claimed_at, created_at"

func scanFrontier(row interface{ Scan(...any) error }) (*FrontierEntry, error) {
	var e FrontierEntry
	var claimed sql.NullTime
	err := row.Scan(&e.Path, &e.ParentPath, &e.Status, &claimed, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if claimed.Valid {
		t := claimed.Time
		e.ClaimedAt = &t
	}
	return &e, nil
}

// AddDirectory queues a directory for listing. The insert is a no-op when
// the path is already present in any status, which is what guarantees each
// directory is discovered exactly once no matter how many crawlers race.
// It reports whether a new row was inserted.
func (s *Store) AddDirectory(ctx context.Context, path, parentPath string) (bool, error) {
	res, err := s.exec(ctx, `
		INSERT INTO scan_frontier (path, parent_path, status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (path) DO NOTHING`,
		path, parentPath, FrontierQueued, now())
	if err != nil {
		return false, fmt.Errorf("add directory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add directory rows: %w", err)
	}
	return n > 0, nil
}

// ClaimNextDirectory atomically marks the lexically first queued directory
// as claimed and returns it, or nil when the frontier has no queued rows.
// On postgres the subselect skips rows locked by concurrent claimers; on
// sqlite the whole statement runs under the single writer lock.
func (s *Store) ClaimNextDirectory(ctx context.Context) (*FrontierEntry, error) {
	query := `
		UPDATE scan_frontier SET status = $1, claimed_at = $2
		WHERE path = (
			SELECT path FROM scan_frontier
			WHERE status = $3
			ORDER BY path
			LIMIT 1` + s.claimSuffix + `
		)
		RETURNING ` + frontierColumns

	var entry *FrontierEntry
	err := s.withRetry(func() error {
		row := s.db.QueryRowContext(ctx, query, FrontierClaimed, now(), FrontierQueued)
		e, err := scanFrontier(row)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim directory: %w", err)
	}
	return entry, nil
}

// MarkDirectoryDone records a successful listing.
func (s *Store) MarkDirectoryDone(ctx context.Context, path string) error {
	_, err := s.exec(ctx, `
		UPDATE scan_frontier SET status = $1 WHERE path = $2`,
		FrontierDone, path)
	if err != nil {
		return fmt.Errorf("mark directory done: %w", err)
	}
	return nil
}

// MarkDirectoryFailed records a listing failure. Failed directories stay in
// the frontier for inspection and are not retried automatically.
func (s *Store) MarkDirectoryFailed(ctx context.Context, path string) error {
	_, err := s.exec(ctx, `
		UPDATE scan_frontier SET status = $1 WHERE path = $2`,
		FrontierFailed, path)
	if err != nil {
		return fmt.Errorf("mark directory failed: %w", err)
	}
	return nil
}

// ListFrontier returns frontier rows in path order, optionally filtered by
// status, capped at limit when limit is positive.
func (s *Store) ListFrontier(ctx context.Context, status FrontierStatus, limit int) ([]*FrontierEntry, error) {
	query := "SELECT " + frontierColumns + " FROM scan_frontier WHERE 1=1"
	args := []any{}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY path"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list frontier: %w", err)
	}
	defer rows.Close()

	var entries []*FrontierEntry
	for rows.Next() {
		e, err := scanFrontier(rows)
		if err != nil {
			return nil, fmt.Errorf("scan frontier: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReapStaleDirectoryClaims requeues directories claimed before cutoff by a
// crawler that never finished them.
func (s *Store) ReapStaleDirectoryClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `
		UPDATE scan_frontier SET status = $1, claimed_at = NULL
		WHERE status = $2 AND claimed_at IS NOT NULL AND claimed_at < $3`,
		FrontierQueued, FrontierClaimed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap directory claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reap directory claims rows: %w", err)
	}
	if n > 0 {
		s.logger.Info("requeued stale directory claims", zap.Int64("count", n))
	}
	return n, nil
}
