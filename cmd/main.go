package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Zahid-Alee/migrate-supabase/internal/app"
	"github.com/Zahid-Alee/migrate-supabase/internal/config"
	"github.com/Zahid-Alee/migrate-supabase/internal/logger"
	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "migrate-supabase",
	Short: "Migrate file hierarchies between object stores through a persisted work queue",
	Long: `Discovers a source bucket's directory tree into a durable queue, then
transfers the inventory to the destination with concurrent workers.
Both phases survive restarts: interrupted runs resume from the queue,
and crashed workers are recovered by reaping.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default is ./config.yaml when present)")
	pf.String("log-level", "info", "Log level (debug/info/warn/error)")
	pf.String("store-driver", "sqlite", "Queue store driver (sqlite/postgres)")
	pf.String("store-dsn", "./migrate.db", "Queue store DSN")

	// Source flags
	pf.String("src-provider", "supabase", "Source provider (supabase/s3)")
	pf.String("src-bucket", "", "Source bucket")
	pf.String("src-url", "", "Source Supabase project URL")
	pf.String("src-endpoint", "", "Source S3 endpoint")

	// Destination flags
	pf.String("dst-provider", "s3", "Destination provider (supabase/s3)")
	pf.String("dst-bucket", "", "Destination bucket")
	pf.String("dst-url", "", "Destination Supabase project URL")
	pf.String("dst-endpoint", "", "Destination S3 endpoint")

	// Migration flags
	pf.String("dest-prefix", "", "Path prefix prepended to every destination object")
	pf.Int("batch-size", 50, "Files claimed per batch")
	pf.Int("concurrency", 8, "Concurrent transfers within a batch")
	pf.Int("retries", 3, "Maximum transfer attempts per file")
	pf.Int("retry-backoff-ms", 500, "Base retry backoff in milliseconds")
	pf.Int64("buffer-threshold", 8388608, "Fully buffer files at or under this many bytes")

	// Listener flags
	pf.String("listen", ":8080", "API listen address")
	pf.String("metrics-listen", "", "Standalone metrics address for headless runs")
}

// buildApp loads config, builds the logger and wires the application.
// Callers own Close on the returned app.
func buildApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(pickConfigFile(), cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a, err := app.New(cmd.Context(), cfg, log)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return a, nil
}

// pickConfigFile falls back to ./config.yaml when --config was not given
// and the file exists.
func pickConfigFile() string {
	if configFile != "" {
		return configFile
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

// stopInterrupted marks the interrupted job stopped so it is not mistaken
// for a crashed worker and reaped later. The run context is already
// canceled, so this uses a short fresh one.
func stopInterrupted(a *app.App, kind queue.JobKind) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.StopJob(ctx, kind, "stopped by signal")
}

func main() {
	// .env is optional; deployed environments set variables directly
	godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
