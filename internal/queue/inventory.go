package queue

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

const inventoryColumns = "path, is_dir, parent_path, size, content_type, source_url, status, claimed_at, claimed_by, created_at, updated_at"

func scanInventory(row interface{ Scan(...any) error }) (*InventoryEntry, error) {
	var e InventoryEntry
	var claimed sql.NullTime
	err := row.Scan(&e.Path, &e.IsDir, &e.ParentPath, &e.Size, &e.ContentType,
		&e.SourceURL, &e.Status, &claimed, &e.ClaimedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if claimed.Valid {
		t := claimed.Time
		e.ClaimedAt = &t
	}
	return &e, nil
}

// AddInventoryEntry records one discovered file or directory. Re-discovery
// of a known path is a no-op, so a re-listed directory never resets rows
// that migration already advanced. It reports whether a new row was
// inserted.
func (s *Store) AddInventoryEntry(ctx context.Context, e *InventoryEntry) (bool, error) {
	ts := now()
	status := e.Status
	if status == "" {
		status = FilePending
		if e.IsDir {
			status = FileScanned
		}
	}
	res, err := s.exec(ctx, `
		INSERT INTO file_inventory
			(path, is_dir, parent_path, size, content_type, source_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (path) DO NOTHING`,
		e.Path, e.IsDir, e.ParentPath, e.Size, e.ContentType, e.SourceURL, status, ts)
	if err != nil {
		return false, fmt.Errorf("add inventory entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add inventory entry rows: %w", err)
	}
	return n > 0, nil
}

// ClaimFileBatch atomically marks up to limit pending files as in_progress
// for claimedBy and returns them in path order. An empty slice means no
// pending files were claimable at that moment.
func (s *Store) ClaimFileBatch(ctx context.Context, limit int, claimedBy string) ([]*InventoryEntry, error) {
	query := `
		UPDATE file_inventory SET status = $1, claimed_at = $2, claimed_by = $3, updated_at = $2
		WHERE path IN (
			SELECT path FROM file_inventory
			WHERE status = $4 AND is_dir = $5
			ORDER BY path
			LIMIT $6` + s.claimSuffix + `
		)
		RETURNING ` + inventoryColumns

	var entries []*InventoryEntry
	err := s.withRetry(func() error {
		entries = entries[:0]
		rows, err := s.db.QueryContext(ctx, query,
			FileInProgress, now(), claimedBy, FilePending, false, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanInventory(rows)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("claim file batch: %w", err)
	}
	// RETURNING does not promise an order.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// MarkFileMigrated finalizes a successful transfer.
func (s *Store) MarkFileMigrated(ctx context.Context, path string) error {
	return s.setFileStatus(ctx, path, FileMigrated)
}

// MarkFileFailed finalizes a transfer whose retries are exhausted.
func (s *Store) MarkFileFailed(ctx context.Context, path string) error {
	return s.setFileStatus(ctx, path, FileFailed)
}

func (s *Store) setFileStatus(ctx context.Context, path string, status FileStatus) error {
	_, err := s.exec(ctx, `
		UPDATE file_inventory SET status = $1, claimed_at = NULL, claimed_by = '', updated_at = $2
		WHERE path = $3`,
		status, now(), path)
	if err != nil {
		return fmt.Errorf("set file status %s: %w", status, err)
	}
	return nil
}

// ResetFiles requeues the given paths as pending and clears their claims,
// whatever status they were in. It returns how many rows changed.
func (s *Store) ResetFiles(ctx context.Context, paths []string) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	args := []any{FilePending, now()}
	for _, p := range paths {
		args = append(args, p)
	}
	query := fmt.Sprintf(`
		UPDATE file_inventory SET status = $1, claimed_at = NULL, claimed_by = '', updated_at = $2
		WHERE is_dir = FALSE AND path IN (%s)`, placeholders(3, len(paths)))

	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset files: %w", err)
	}
	return res.RowsAffected()
}

// ResetFilesByStatus requeues every file currently in the given status.
// Used by the retry command to resurrect all failed files at once.
func (s *Store) ResetFilesByStatus(ctx context.Context, status FileStatus) (int64, error) {
	res, err := s.exec(ctx, `
		UPDATE file_inventory SET status = $1, claimed_at = NULL, claimed_by = '', updated_at = $2
		WHERE is_dir = FALSE AND status = $3`,
		FilePending, now(), status)
	if err != nil {
		return 0, fmt.Errorf("reset files by status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("requeued files",
			zap.String("from_status", string(status)),
			zap.Int64("count", n))
	}
	return n, nil
}

// GetInventoryEntry fetches one entry by path.
func (s *Store) GetInventoryEntry(ctx context.Context, path string) (*InventoryEntry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+inventoryColumns+" FROM file_inventory WHERE path = $1", path)
	e, err := scanInventory(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get inventory entry: %w", err)
	}
	return e, nil
}

// ListInventory returns entries in path order, filtered by status and path
// prefix, capped at the filter limit when positive.
func (s *Store) ListInventory(ctx context.Context, f InventoryFilter) ([]*InventoryEntry, error) {
	query := "SELECT " + inventoryColumns + " FROM file_inventory WHERE 1=1"
	args := []any{}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Prefix != "" {
		args = append(args, likePrefix(f.Prefix))
		query += fmt.Sprintf(" AND path LIKE $%d ESCAPE '\\'", len(args))
	}
	query += " ORDER BY path"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	defer rows.Close()

	var entries []*InventoryEntry
	for rows.Next() {
		e, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountInventory returns per-status file counts for reporting.
func (s *Store) CountInventory(ctx context.Context) (map[FileStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM file_inventory WHERE is_dir = FALSE GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count inventory: %w", err)
	}
	defer rows.Close()

	counts := make(map[FileStatus]int64)
	for rows.Next() {
		var st FileStatus
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan inventory count: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// StuckFiles returns in_progress files claimed before cutoff, oldest claim
// first. These are candidates for reaping or manual retry.
func (s *Store) StuckFiles(ctx context.Context, cutoff time.Time, limit int) ([]*InventoryEntry, error) {
	query := "SELECT " + inventoryColumns + ` FROM file_inventory
		WHERE status = $1 AND claimed_at IS NOT NULL AND claimed_at < $2
		ORDER BY claimed_at, path`
	args := []any{FileInProgress, cutoff}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stuck files: %w", err)
	}
	defer rows.Close()

	var entries []*InventoryEntry
	for rows.Next() {
		e, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck file: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReapStaleFileClaims requeues files claimed before cutoff whose worker
// never finished them. Returns how many files went back to pending.
func (s *Store) ReapStaleFileClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `
		UPDATE file_inventory SET status = $1, claimed_at = NULL, claimed_by = '', updated_at = $2
		WHERE status = $3 AND claimed_at IS NOT NULL AND claimed_at < $4`,
		FilePending, now(), FileInProgress, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reap file claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reap file claims rows: %w", err)
	}
	if n > 0 {
		s.logger.Info("requeued stale file claims", zap.Int64("count", n))
	}
	return n, nil
}

// likePrefix escapes LIKE metacharacters so a prefix behaves literally.
func likePrefix(prefix string) string {
	out := make([]byte, 0, len(prefix)+8)
	for i := 0; i < len(prefix); i++ {
		c := prefix[i]
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out) + "%"
}
