package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddProgressAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, KindDiscover, "w")
	require.NoError(t, err)

	require.NoError(t, s.AddProgress(ctx, job.ID, ProgressDelta{TotalFiles: 2, TotalBytes: 100, ScannedDirs: 1}))
	require.NoError(t, s.AddProgress(ctx, job.ID, ProgressDelta{TotalFiles: 1, TotalBytes: 50}))
	require.NoError(t, s.AddProgress(ctx, job.ID, ProgressDelta{MigratedFiles: 2, FailedFiles: 1}))

	p, err := s.GetProgress(ctx, job.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, p.TotalFiles)
	assert.EqualValues(t, 150, p.TotalBytes)
	assert.EqualValues(t, 1, p.ScannedDirs)
	assert.EqualValues(t, 2, p.MigratedFiles)
	assert.EqualValues(t, 1, p.FailedFiles)

	// the zero delta is a no-op and must not touch the row
	before := p.UpdatedAt
	require.NoError(t, s.AddProgress(ctx, job.ID, ProgressDelta{}))
	p, err = s.GetProgress(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, before, p.UpdatedAt)

	assert.ErrorIs(t, s.AddProgress(ctx, "missing", ProgressDelta{TotalFiles: 1}), ErrNotFound)
	_, err = s.GetProgress(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddProgressConcurrentIncrementsAllLand(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, KindMigrate, "w")
	require.NoError(t, err)

	const workers = 8
	const perWorker = 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				err := s.AddProgress(ctx, job.ID, ProgressDelta{MigratedFiles: 1, TotalBytes: 10})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	p, err := s.GetProgress(ctx, job.ID)
	require.NoError(t, err)
	assert.EqualValues(t, workers*perWorker, p.MigratedFiles)
	assert.EqualValues(t, workers*perWorker*10, p.TotalBytes)
}

func TestTransferLogAppendAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, KindMigrate, "w")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		status := TransferSuccess
		errMsg := ""
		if i == 4 {
			status = TransferFailed
			errMsg = "connection reset"
		}
		rec := &TransferLog{
			JobID:      job.ID,
			Path:       fmt.Sprintf("f-%d.bin", i),
			DestPath:   fmt.Sprintf("dest/f-%d.bin", i),
			Status:     status,
			Attempts:   i%3 + 1,
			Error:      errMsg,
			DurationMs: int64(i) * 100,
		}
		require.NoError(t, s.AppendTransferLog(ctx, rec))
		require.NotEmpty(t, rec.ID)
		time.Sleep(5 * time.Millisecond)
	}

	logs, err := s.RecentTransferLogs(ctx, job.ID, 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "f-4.bin", logs[0].Path, "newest first")
	assert.Equal(t, TransferFailed, logs[0].Status)
	assert.Equal(t, "connection reset", logs[0].Error)
	assert.EqualValues(t, 400, logs[0].DurationMs)

	other, err := s.RecentTransferLogs(ctx, "other-job", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}
