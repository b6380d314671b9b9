package migrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
)

// transferFile runs the attempt loop for one claimed file and settles it:
// migrated or failed, one progress increment and one transfer log row
// either way. A cancelled context leaves the claim for the reaper instead.
func (m *Migrator) transferFile(ctx context.Context, jobID string, file *queue.InventoryEntry, log *zap.Logger) {
	start := time.Now()
	dest := m.destPath(file.Path)
	log = log.With(zap.String("path", file.Path))

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= m.opts.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			log.Debug("transfer abandoned, claim left for the reaper")
			return
		}
		attempts = attempt

		err := m.transferOnce(ctx, file, dest)
		if err == nil {
			m.settle(ctx, jobID, file, dest, queue.TransferSuccess, attempts, nil, time.Since(start))
			m.metrics.IncTransferSuccess(file.Size)
			m.metrics.ObserveTransfer(time.Since(start))
			log.Info("file migrated",
				zap.Int64("size", file.Size),
				zap.Int("attempts", attempts),
				zap.Duration("duration", time.Since(start)))
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Debug("transfer abandoned, claim left for the reaper")
			return
		}

		lastErr = err
		log.Warn("transfer attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err))

		if !isRetriableError(err) {
			break
		}
		if attempt < m.opts.MaxRetries {
			select {
			case <-ctx.Done():
				log.Debug("transfer abandoned, claim left for the reaper")
				return
			case <-time.After(m.backoff(attempt)):
			}
		}
	}

	m.settle(ctx, jobID, file, dest, queue.TransferFailed, attempts, lastErr, time.Since(start))
	m.metrics.IncTransferFailed()
	log.Error("file failed after all retries",
		zap.Int("attempts", attempts),
		zap.Error(lastErr))
}

// transferOnce downloads and uploads once. Files at or under the buffer
// threshold are read fully first, so the upload carries the true length
// even when the listing size had drifted; larger files stream.
func (m *Migrator) transferOnce(ctx context.Context, file *queue.InventoryEntry, dest string) error {
	rc, err := m.source.Download(ctx, file.Path)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer rc.Close()

	if file.Size <= m.opts.BufferThreshold {
		data, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := m.dest.Upload(ctx, dest, file.ContentType, bytes.NewReader(data), int64(len(data))); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		return nil
	}

	if err := m.dest.Upload(ctx, dest, file.ContentType, rc, file.Size); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

// settle writes the terminal status, the single progress increment and the
// audit row. Store errors here are logged, not propagated: the transfer
// itself already finished and a reaped claim would be retried safely.
func (m *Migrator) settle(ctx context.Context, jobID string, file *queue.InventoryEntry, dest string, status queue.TransferStatus, attempts int, cause error, took time.Duration) {
	var markErr error
	delta := queue.ProgressDelta{}
	if status == queue.TransferSuccess {
		markErr = m.store.MarkFileMigrated(ctx, file.Path)
		delta.MigratedFiles = 1
	} else {
		markErr = m.store.MarkFileFailed(ctx, file.Path)
		delta.FailedFiles = 1
	}
	if markErr != nil {
		m.logger.Error("failed to settle file status",
			zap.String("path", file.Path), zap.Error(markErr))
		return
	}
	if err := m.store.AddProgress(ctx, jobID, delta); err != nil {
		m.logger.Error("failed to record progress",
			zap.String("path", file.Path), zap.Error(err))
	}

	rec := &queue.TransferLog{
		JobID:      jobID,
		Path:       file.Path,
		DestPath:   dest,
		Status:     status,
		Attempts:   attempts,
		DurationMs: took.Milliseconds(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := m.store.AppendTransferLog(ctx, rec); err != nil {
		m.logger.Error("failed to append transfer log",
			zap.String("path", file.Path), zap.Error(err))
	}
}

// backoff grows with the square of the attempt number.
func (m *Migrator) backoff(attempt int) time.Duration {
	return m.opts.RetryBackoff * time.Duration(attempt*attempt)
}

func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") ||
		strings.Contains(errStr, "too many requests")
}
