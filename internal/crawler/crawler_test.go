package crawler

import (
	"context"
	"errors"
	"io"
	"path/filepath"
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

// fakeSource serves a fixed tree keyed by directory path.
type fakeSource struct {
	mu     sync.Mutex
	tree   map[string][]storage.Entry
	fail   map[string]error
	listed []string
}

func (f *fakeSource) List(_ context.Context, dir string) ([]storage.Entry, error) {
	f.mu.Lock()
	f.listed = append(f.listed, dir)
	f.mu.Unlock()
	if err, ok := f.fail[dir]; ok {
		return nil, err
	}
	return f.tree[dir], nil
}

func (f *fakeSource) Download(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeSource) Upload(context.Context, string, string, io.Reader, int64) error {
	return errors.New("not implemented")
}

func (f *fakeSource) URL(path string) string {
	return "https://source.example/media/" + path
}

func openTestStore(t *testing.T) *queue.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := queue.Open(context.Background(), queue.DriverSQLite, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestCrawler(t *testing.T, s *queue.Store, src storage.Client) (*Crawler, *job.Manager) {
	t.Helper()
	mgr := job.NewManager(s, 50*time.Millisecond, 5*time.Millisecond, zaptest.NewLogger(t))
	c := New(s, src, mgr, nil, 5*time.Millisecond, zaptest.NewLogger(t))
	return c, mgr
}

func TestCrawlerWalksTree(t *testing.T) {
	s := openTestStore(t)
	src := &fakeSource{tree: map[string][]storage.Entry{
		"": {
			{Name: "a.txt", Size: 10, ContentType: "text/plain"},
			{Name: "b", IsDir: true},
		},
		"b/": {
			{Name: "c.txt", Size: 5, ContentType: "text/plain"},
		},
	}}
	c, mgr := newTestCrawler(t, s, src)
	ctx := context.Background()

	j, err := mgr.Ensure(ctx, queue.KindDiscover, "crawler-test")
	require.NoError(t, err)
	require.NoError(t, c.Run(ctx, j.ID))

	// both directories were listed, each exactly once
	assert.ElementsMatch(t, []string{"", "b/"}, src.listed)

	a, err := s.GetInventoryEntry(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, queue.FilePending, a.Status)
	assert.EqualValues(t, 10, a.Size)
	assert.Equal(t, "https://source.example/media/a.txt", a.SourceURL)

	b, err := s.GetInventoryEntry(ctx, "b/")
	require.NoError(t, err)
	assert.True(t, b.IsDir)
	assert.Equal(t, queue.FileScanned, b.Status)

	nested, err := s.GetInventoryEntry(ctx, "b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "b/", nested.ParentPath)

	p, err := s.GetProgress(ctx, j.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.ScannedDirs)
	assert.EqualValues(t, 2, p.TotalFiles)
	assert.EqualValues(t, 15, p.TotalBytes)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.JobCompleted, got.Status)

	done, err := s.ListFrontier(ctx, queue.FrontierDone, 0)
	require.NoError(t, err)
	assert.Len(t, done, 2)
}

func TestCrawlerListingFailureMarksAndContinues(t *testing.T) {
	s := openTestStore(t)
	src := &fakeSource{
		tree: map[string][]storage.Entry{
			"": {
				{Name: "bad", IsDir: true},
				{Name: "good", IsDir: true},
			},
			"good/": {{Name: "ok.txt", Size: 1}},
		},
		fail: map[string]error{"bad/": errors.New("503 service unavailable")},
	}
	c, mgr := newTestCrawler(t, s, src)
	ctx := context.Background()

	j, err := mgr.Ensure(ctx, queue.KindDiscover, "crawler-test")
	require.NoError(t, err)
	require.NoError(t, c.Run(ctx, j.ID))

	failed, err := s.ListFrontier(ctx, queue.FrontierFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad/", failed[0].Path)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.JobCompleted, got.Status, "one bad directory must not sink the run")

	p, err := s.GetProgress(ctx, j.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.ScannedDirs, "only successful listings count")
	assert.EqualValues(t, 1, p.TotalFiles)
}

func TestCrawlerExitsWhenJobNotRunning(t *testing.T) {
	s := openTestStore(t)
	src := &fakeSource{tree: map[string][]storage.Entry{
		"": {{Name: "a.txt", Size: 1}},
	}}
	c, mgr := newTestCrawler(t, s, src)
	ctx := context.Background()

	j, err := mgr.Ensure(ctx, queue.KindDiscover, "crawler-test")
	require.NoError(t, err)
	require.NoError(t, mgr.Stop(ctx, j.ID, "operator stop"))

	require.NoError(t, c.Run(ctx, j.ID))

	assert.Empty(t, src.listed, "a stopped job must not list anything")
	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.JobStopped, got.Status)
}

func TestCrawlerRerunDoesNotDoubleCount(t *testing.T) {
	s := openTestStore(t)
	src := &fakeSource{tree: map[string][]storage.Entry{
		"": {{Name: "a.txt", Size: 10}},
	}}
	c, mgr := newTestCrawler(t, s, src)
	ctx := context.Background()

	first, err := mgr.Ensure(ctx, queue.KindDiscover, "crawler-test")
	require.NoError(t, err)
	require.NoError(t, c.Run(ctx, first.ID))

	require.NoError(t, s.MarkFileMigrated(ctx, "a.txt"))

	// a second run over an already-walked tree discovers nothing new
	second, err := mgr.Ensure(ctx, queue.KindDiscover, "crawler-test")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	require.NoError(t, c.Run(ctx, second.ID))

	p, err := s.GetProgress(ctx, second.ID)
	require.NoError(t, err)
	assert.Zero(t, p.TotalFiles)
	assert.Zero(t, p.ScannedDirs)

	a, err := s.GetInventoryEntry(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, queue.FileMigrated, a.Status, "rediscovery must not reset migrated files")
}
