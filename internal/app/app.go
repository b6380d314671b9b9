// Package app wires configuration into running processes: the discovery
// and migration runners, the API server and the one-shot maintenance
// commands all start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Zahid-Alee/migrate-supabase/internal/api"
	"github.com/Zahid-Alee/migrate-supabase/internal/config"
	"github.com/Zahid-Alee/migrate-supabase/internal/crawler"
	"github.com/Zahid-Alee/migrate-supabase/internal/job"
	"github.com/Zahid-Alee/migrate-supabase/internal/metrics"
	"github.com/Zahid-Alee/migrate-supabase/internal/migrator"
	"github.com/Zahid-Alee/migrate-supabase/internal/progress"
	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
	"github.com/Zahid-Alee/migrate-supabase/internal/storage"
)

// App holds every long-lived dependency, built once from config.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *queue.Store
	source   storage.Client
	dest     storage.Client
	metrics  *metrics.Collector
	jobs     *job.Manager
	reaper   *job.Reaper
	workerID string
}

// New builds the application from config.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := queue.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue store: %w", err)
	}

	source, err := newStorageClient(cfg.Source)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create source client: %w", err)
	}

	dest, err := newStorageClient(cfg.Dest)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create destination client: %w", err)
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		source:   source,
		dest:     dest,
		metrics:  metrics.New(),
		jobs:     job.NewManager(store, cfg.Lifecycle.Heartbeat(), cfg.Lifecycle.Poll(), logger),
		reaper:   job.NewReaper(store, cfg.Lifecycle.JobTTL(), cfg.Lifecycle.ClaimTTL(), logger),
		workerID: workerID(),
	}, nil
}

func newStorageClient(e config.Endpoint) (storage.Client, error) {
	switch e.Provider {
	case storage.ProviderSupabase:
		return storage.NewSupabaseClient(storage.SupabaseOptions{
			ProjectURL: e.URL,
			ServiceKey: e.ServiceKey,
			Bucket:     e.Bucket,
			Public:     e.Public,
		})
	case storage.ProviderS3:
		return storage.NewS3Client(storage.S3Options{
			Endpoint:  e.Endpoint,
			AccessKey: e.AccessKey,
			SecretKey: e.SecretKey,
			Secure:    e.Secure,
			Bucket:    e.Bucket,
		})
	}
	return nil, fmt.Errorf("unknown storage provider %q", e.Provider)
}

// workerID identifies this process in claims and job rows.
func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + uuid.NewString()[:8]
}

// WorkerID returns this process's claim identity.
func (a *App) WorkerID() string {
	return a.workerID
}

// Store exposes the queue store for commands that read it directly.
func (a *App) Store() *queue.Store {
	return a.store
}

// Close flushes logs and releases the store.
func (a *App) Close() error {
	a.logger.Sync()
	return a.store.Close()
}

// RunDiscovery walks the source hierarchy into the frontier and inventory.
// An interrupted run resumes from the persisted frontier.
func (a *App) RunDiscovery(ctx context.Context) error {
	jb, err := a.jobs.Ensure(ctx, queue.KindDiscover, a.workerID)
	if err != nil {
		return fmt.Errorf("failed to ensure discovery job: %w", err)
	}
	stop := a.jobs.StartHeartbeat(ctx, jb.ID)
	defer stop()

	a.startMetricsListener()
	a.logger.Info("starting discovery",
		zap.String("job_id", jb.ID),
		zap.String("worker_id", a.workerID),
		zap.String("source", a.source.URL("")))

	c := crawler.New(a.store, a.source, a.jobs, a.metrics, a.cfg.Discovery.IdleWait(), a.logger)
	return c.Run(ctx, jb.ID)
}

// RunMigration transfers pending inventory files to the destination.
func (a *App) RunMigration(ctx context.Context) error {
	jb, err := a.jobs.Ensure(ctx, queue.KindMigrate, a.workerID)
	if err != nil {
		return fmt.Errorf("failed to ensure migration job: %w", err)
	}
	stop := a.jobs.StartHeartbeat(ctx, jb.ID)
	defer stop()

	a.startMetricsListener()
	a.logger.Info("starting migration",
		zap.String("job_id", jb.ID),
		zap.String("worker_id", a.workerID),
		zap.Int("concurrency", a.cfg.Migration.Concurrency),
		zap.Int("batch_size", a.cfg.Migration.BatchSize))

	m := migrator.New(a.store, a.source, a.dest, a.jobs, a.metrics, migrator.Options{
		WorkerID:        a.workerID,
		BatchSize:       a.cfg.Migration.BatchSize,
		Concurrency:     a.cfg.Migration.Concurrency,
		MaxRetries:      a.cfg.Migration.Retries,
		RetryBackoff:    a.cfg.Migration.RetryBackoff(),
		BufferThreshold: a.cfg.Migration.BufferThreshold,
		IdleWait:        a.cfg.Migration.IdleWait(),
		DestPrefix:      a.cfg.Migration.DestPrefix,
	}, a.logger)
	return m.Run(ctx, jb.ID)
}

// RunServer serves the control API until ctx is done, with the reaper
// sweeping in the background.
func (a *App) RunServer(ctx context.Context) error {
	go a.reaper.Run(ctx, a.cfg.Lifecycle.ReapEvery())

	srv := &http.Server{
		Addr: a.cfg.API.Listen,
		Handler: api.NewRouter(&api.Server{
			Store:        a.store,
			Reaper:       a.reaper,
			Metrics:      a.metrics,
			Log:          a.logger,
			StuckAfter:   a.cfg.API.StuckAfter(),
			PushInterval: a.cfg.API.PushInterval(),
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("api listening", zap.String("addr", a.cfg.API.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}

// RunReap runs one reap sweep and logs what it recovered.
func (a *App) RunReap(ctx context.Context) error {
	ids, err := a.reaper.ReapJobs(ctx)
	if err != nil {
		return fmt.Errorf("reap jobs: %w", err)
	}
	claims, err := a.reaper.ReapClaims(ctx)
	if err != nil {
		return fmt.Errorf("reap claims: %w", err)
	}
	a.logger.Info("reap finished",
		zap.Strings("failed_jobs", ids),
		zap.Int64("requeued_files", claims.Files),
		zap.Int64("requeued_directories", claims.Directories))
	return nil
}

// Retry requeues files for another transfer attempt, by explicit paths or
// by current status, and returns how many rows moved back to pending.
func (a *App) Retry(ctx context.Context, paths []string, status queue.FileStatus) (int64, error) {
	if len(paths) > 0 {
		return a.store.ResetFiles(ctx, paths)
	}
	return a.store.ResetFilesByStatus(ctx, status)
}

// Status returns a snapshot of the newest job of the kind.
func (a *App) Status(ctx context.Context, kind queue.JobKind) (progress.Snapshot, error) {
	jb, err := a.store.LatestJob(ctx, kind)
	if err != nil {
		return progress.Snapshot{}, err
	}
	p, err := a.store.GetProgress(ctx, jb.ID)
	if err != nil {
		return progress.Snapshot{}, err
	}
	return progress.Build(jb, p, time.Now().UTC()), nil
}

// Watch renders the newest job of the kind to out until it finishes.
func (a *App) Watch(ctx context.Context, kind queue.JobKind, out io.Writer) error {
	jb, err := a.store.LatestJob(ctx, kind)
	if err != nil {
		return err
	}
	w := progress.NewWatcher(a.store, out, a.cfg.API.PushInterval())
	err = w.Watch(ctx, jb.ID)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// StopJob asks the newest live job of the kind to stop, used on shutdown
// signals so a second interrupt does not leave a running row behind.
func (a *App) StopJob(ctx context.Context, kind queue.JobKind, note string) error {
	jb, err := a.store.LatestJob(ctx, kind)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			return nil
		}
		return err
	}
	if jb.Status.Terminal() {
		return nil
	}
	return a.jobs.Stop(ctx, jb.ID, note)
}

// startMetricsListener serves /metrics on its own port for headless runs.
func (a *App) startMetricsListener() {
	addr := a.cfg.API.MetricsListen
	if addr == "" {
		return
	}
	go func() {
		if err := a.metrics.StartServer(addr); err != nil {
			a.logger.Error("failed to start metrics server", zap.Error(err))
		}
	}()
}
