package migrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Zahid-Alee/migrate-supabase/internal/job"
	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
	"github.com/Zahid-Alee/migrate-supabase/internal/storage"
)

// fakeSource serves fixed file contents and can fail the first N downloads
// of a path.
type fakeSource struct {
	mu       sync.Mutex
	files    map[string]string
	failures map[string]int
	failErr  error
}

func (f *fakeSource) Download(_ context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[path] > 0 {
		f.failures[path]--
		return nil, f.failErr
	}
	content, ok := f.files[path]
	if !ok {
		return nil, errors.New("404 object not found")
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (f *fakeSource) List(context.Context, string) ([]storage.Entry, error) { return nil, nil }
func (f *fakeSource) Upload(context.Context, string, string, io.Reader, int64) error {
	return errors.New("read only")
}
func (f *fakeSource) URL(path string) string { return "fake://src/" + path }

type uploadRecord struct {
	content     string
	contentType string
	size        int64
}

// fakeDest records uploads and can reject specific paths permanently.
type fakeDest struct {
	mu      sync.Mutex
	objects map[string]uploadRecord
	rejects map[string]error
}

func newFakeDest() *fakeDest {
	return &fakeDest{objects: make(map[string]uploadRecord), rejects: make(map[string]error)}
}

func (f *fakeDest) Upload(_ context.Context, path, contentType string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.rejects[path]; ok {
		return err
	}
	f.objects[path] = uploadRecord{content: string(data), contentType: contentType, size: size}
	return nil
}

func (f *fakeDest) get(path string) (uploadRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.objects[path]
	return rec, ok
}

func (f *fakeDest) List(context.Context, string) ([]storage.Entry, error) { return nil, nil }
func (f *fakeDest) Download(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("write only")
}
func (f *fakeDest) URL(path string) string { return "fake://dst/" + path }

func openTestStore(t *testing.T) *queue.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := queue.Open(context.Background(), queue.DriverSQLite, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testOptions() Options {
	return Options{
		WorkerID:        "migrator-test",
		BatchSize:       2,
		Concurrency:     2,
		MaxRetries:      3,
		RetryBackoff:    time.Millisecond,
		BufferThreshold: 100,
		IdleWait:        5 * time.Millisecond,
	}
}

func newTestMigrator(t *testing.T, s *queue.Store, src *fakeSource, dst *fakeDest, opts Options) (*Migrator, *job.Manager) {
	t.Helper()
	mgr := job.NewManager(s, 50*time.Millisecond, 5*time.Millisecond, zaptest.NewLogger(t))
	m := New(s, src, dst, mgr, nil, opts, zaptest.NewLogger(t))
	return m, mgr
}

func seedFiles(t *testing.T, s *queue.Store, files map[string]string) {
	t.Helper()
	for path, content := range files {
		_, err := s.AddInventoryEntry(context.Background(), &queue.InventoryEntry{
			Path:        path,
			Size:        int64(len(content)),
			ContentType: "text/plain",
		})
		require.NoError(t, err)
	}
}

func TestMigratorMovesPendingFiles(t *testing.T) {
	s := openTestStore(t)
	files := map[string]string{
		"a.txt":      "alpha",
		"b/c.txt":    "charlie",
		"b/d/e.webp": "echo",
	}
	src := &fakeSource{files: files}
	dst := newFakeDest()
	m, mgr := newTestMigrator(t, s, src, dst, testOptions())
	ctx := context.Background()

	seedFiles(t, s, files)
	j, err := mgr.Ensure(ctx, queue.KindMigrate, "migrator-test")
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx, j.ID))

	for path, content := range files {
		rec, ok := dst.get(path)
		require.True(t, ok, "missing upload for %s", path)
		assert.Equal(t, content, rec.content)
		assert.Equal(t, "text/plain", rec.contentType)

		e, err := s.GetInventoryEntry(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, queue.FileMigrated, e.Status)
	}

	p, err := s.GetProgress(ctx, j.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, p.MigratedFiles)
	assert.Zero(t, p.FailedFiles)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.JobCompleted, got.Status)

	logs, err := s.RecentTransferLogs(ctx, j.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	for _, rec := range logs {
		assert.Equal(t, queue.TransferSuccess, rec.Status)
		assert.Equal(t, 1, rec.Attempts)
	}
}

func TestMigratorRetriesTransientErrors(t *testing.T) {
	s := openTestStore(t)
	src := &fakeSource{
		files:    map[string]string{"flaky.bin": "payload"},
		failures: map[string]int{"flaky.bin": 1},
		failErr:  errors.New("read tcp: connection reset by peer"),
	}
	dst := newFakeDest()
	m, mgr := newTestMigrator(t, s, src, dst, testOptions())
	ctx := context.Background()

	seedFiles(t, s, map[string]string{"flaky.bin": "payload"})
	j, err := mgr.Ensure(ctx, queue.KindMigrate, "migrator-test")
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx, j.ID))

	e, err := s.GetInventoryEntry(ctx, "flaky.bin")
	require.NoError(t, err)
	assert.Equal(t, queue.FileMigrated, e.Status)

	logs, err := s.RecentTransferLogs(ctx, j.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, queue.TransferSuccess, logs[0].Status)
	assert.Equal(t, 2, logs[0].Attempts, "first attempt failed, second succeeded")

	p, err := s.GetProgress(ctx, j.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.MigratedFiles)
	assert.Zero(t, p.FailedFiles)
}

func TestMigratorPermanentErrorFailsWithoutRetry(t *testing.T) {
	s := openTestStore(t)
	src := &fakeSource{files: map[string]string{"bad.bin": "data"}}
	dst := newFakeDest()
	dst.rejects["bad.bin"] = errors.New("403 forbidden: bucket policy")
	m, mgr := newTestMigrator(t, s, src, dst, testOptions())
	ctx := context.Background()

	seedFiles(t, s, map[string]string{"bad.bin": "data"})
	j, err := mgr.Ensure(ctx, queue.KindMigrate, "migrator-test")
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx, j.ID))

	e, err := s.GetInventoryEntry(ctx, "bad.bin")
	require.NoError(t, err)
	assert.Equal(t, queue.FileFailed, e.Status)

	logs, err := s.RecentTransferLogs(ctx, j.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, queue.TransferFailed, logs[0].Status)
	assert.Equal(t, 1, logs[0].Attempts, "permanent errors are not retried")
	assert.Contains(t, logs[0].Error, "403")
}

func TestMigratorExhaustedRetriesCountFailureOnce(t *testing.T) {
	s := openTestStore(t)
	src := &fakeSource{
		files:    map[string]string{"down.bin": "data"},
		failures: map[string]int{"down.bin": 100},
		failErr:  errors.New("dial tcp: i/o timeout"),
	}
	dst := newFakeDest()
	m, mgr := newTestMigrator(t, s, src, dst, testOptions())
	ctx := context.Background()

	seedFiles(t, s, map[string]string{"down.bin": "data"})
	j, err := mgr.Ensure(ctx, queue.KindMigrate, "migrator-test")
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx, j.ID))

	e, err := s.GetInventoryEntry(ctx, "down.bin")
	require.NoError(t, err)
	assert.Equal(t, queue.FileFailed, e.Status)

	p, err := s.GetProgress(ctx, j.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.FailedFiles, "exactly one failure increment per settled file")

	logs, err := s.RecentTransferLogs(ctx, j.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 3, logs[0].Attempts, "all retries were used")
}

func TestMigratorBuffersSmallFilesWithTrueLength(t *testing.T) {
	s := openTestStore(t)
	src := &fakeSource{files: map[string]string{"drift.txt": "hello world"}}
	dst := newFakeDest()
	m, mgr := newTestMigrator(t, s, src, dst, testOptions())
	ctx := context.Background()

	// the listing undercounted: 5 bytes recorded, 11 real
	_, err := s.AddInventoryEntry(ctx, &queue.InventoryEntry{Path: "drift.txt", Size: 5})
	require.NoError(t, err)

	j, err := mgr.Ensure(ctx, queue.KindMigrate, "migrator-test")
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx, j.ID))

	rec, ok := dst.get("drift.txt")
	require.True(t, ok)
	assert.Equal(t, "hello world", rec.content)
	assert.EqualValues(t, 11, rec.size, "buffered uploads carry the real length")
}

func TestMigratorAppliesDestPrefix(t *testing.T) {
	s := openTestStore(t)
	src := &fakeSource{files: map[string]string{"a.txt": "alpha"}}
	dst := newFakeDest()
	opts := testOptions()
	opts.DestPrefix = "backup"
	m, mgr := newTestMigrator(t, s, src, dst, opts)
	ctx := context.Background()

	seedFiles(t, s, map[string]string{"a.txt": "alpha"})
	j, err := mgr.Ensure(ctx, queue.KindMigrate, "migrator-test")
	require.NoError(t, err)
	require.NoError(t, m.Run(ctx, j.ID))

	_, ok := dst.get("backup/a.txt")
	assert.True(t, ok, "prefix must be applied with a separator")

	logs, err := s.RecentTransferLogs(ctx, j.ID, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "backup/a.txt", logs[0].DestPath)
}

func TestMigratorExitsWhenJobNotRunning(t *testing.T) {
	s := openTestStore(t)
	src := &fakeSource{files: map[string]string{"a.txt": "alpha"}}
	dst := newFakeDest()
	m, mgr := newTestMigrator(t, s, src, dst, testOptions())
	ctx := context.Background()

	seedFiles(t, s, map[string]string{"a.txt": "alpha"})
	j, err := mgr.Ensure(ctx, queue.KindMigrate, "migrator-test")
	require.NoError(t, err)
	require.NoError(t, mgr.Stop(ctx, j.ID, "operator stop"))

	require.NoError(t, m.Run(ctx, j.ID))

	_, ok := dst.get("a.txt")
	assert.False(t, ok, "a stopped job must not transfer anything")
	e, err := s.GetInventoryEntry(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, queue.FilePending, e.Status)
}

func TestBackoffGrowsQuadratically(t *testing.T) {
	m := &Migrator{opts: Options{RetryBackoff: 100 * time.Millisecond}}
	assert.Equal(t, 100*time.Millisecond, m.backoff(1))
	assert.Equal(t, 400*time.Millisecond, m.backoff(2))
	assert.Equal(t, 900*time.Millisecond, m.backoff(3))
}

func TestIsRetriableError(t *testing.T) {
	retriable := []error{
		errors.New("dial tcp: i/o timeout"),
		errors.New("read: connection reset by peer"),
		errors.New("HTTP 503: service unavailable"),
		errors.New("HTTP 429: too many requests"),
		fmt.Errorf("upload: %w", errors.New("bad gateway")),
	}
	for _, err := range retriable {
		assert.True(t, isRetriableError(err), "%v", err)
	}

	permanent := []error{
		nil,
		errors.New("403 forbidden"),
		errors.New("404 object not found"),
		errors.New("invalid bucket name"),
	}
	for _, err := range permanent {
		assert.False(t, isRetriableError(err), "%v", err)
	}
}
