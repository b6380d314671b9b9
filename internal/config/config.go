package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
	"github.com/Zahid-Alee/migrate-supabase/internal/storage"
)

// Config represents the application configuration
type Config struct {
	Source    Endpoint  `yaml:"source"`
	Dest      Endpoint  `yaml:"dest"`
	Store     Store     `yaml:"store"`
	Discovery Discovery `yaml:"discovery"`
	Migration Migration `yaml:"migration"`
	Lifecycle Lifecycle `yaml:"lifecycle"`
	API       API       `yaml:"api"`
	LogLevel  string    `yaml:"log_level"`
}

// Endpoint configures one side of the migration. Provider picks which
// fields matter: supabase uses url/service_key, s3 uses
// endpoint/access_key/secret_key/secure. Bucket applies to both.
type Endpoint struct {
	Provider string `yaml:"provider"`
	Bucket   string `yaml:"bucket"`

	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
	Public     bool   `yaml:"public"`

	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
}

// Store configures the persisted queue.
type Store struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Discovery configures the crawl loop.
type Discovery struct {
	IdleWaitMs int `yaml:"idle_wait_ms"`
}

// Migration configures the transfer loop.
type Migration struct {
	BatchSize       int    `yaml:"batch_size"`
	Concurrency     int    `yaml:"concurrency"`
	Retries         int    `yaml:"retries"`
	RetryBackoffMs  int    `yaml:"retry_backoff_ms"`
	BufferThreshold int64  `yaml:"buffer_threshold"`
	IdleWaitMs      int    `yaml:"idle_wait_ms"`
	DestPrefix      string `yaml:"dest_prefix"`
}

// Lifecycle configures heartbeats, pause polling and staleness recovery.
type Lifecycle struct {
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
	PollMs           int `yaml:"poll_ms"`
	JobTTLSeconds    int `yaml:"job_ttl_seconds"`
	ClaimTTLSeconds  int `yaml:"claim_ttl_seconds"`
	ReapEverySeconds int `yaml:"reap_every_seconds"`
}

// API configures the control surface and the standalone metrics listener
// used by headless discover/migrate runs.
type API struct {
	Listen         string `yaml:"listen"`
	MetricsListen  string `yaml:"metrics_listen"`
	StuckAfterMin  int    `yaml:"stuck_after_minutes"`
	PushIntervalMs int    `yaml:"push_interval_ms"`
}

const defaultSQLiteDSN = "./migrate.db"

// Load loads configuration from file, command line flags and environment
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Source:   Endpoint{Provider: storage.ProviderSupabase},
		Dest:     Endpoint{Provider: storage.ProviderS3},
		Store: Store{
			Driver: queue.DriverSQLite,
			DSN:    defaultSQLiteDSN,
		},
		Discovery: Discovery{
			IdleWaitMs: 2000,
		},
		Migration: Migration{
			BatchSize:       50,
			Concurrency:     8,
			Retries:         3,
			RetryBackoffMs:  500,
			BufferThreshold: 8388608, // 8MB
			IdleWaitMs:      2000,
		},
		Lifecycle: Lifecycle{
			HeartbeatSeconds: 15,
			PollMs:           1000,
			JobTTLSeconds:    120,
			ClaimTTLSeconds:  600,
			ReapEverySeconds: 60,
		},
		API: API{
			Listen:         ":8080",
			StuckAfterMin:  10,
			PushIntervalMs: 1000,
		},
	}

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if flags != nil {
		loadFromFlags(cfg, flags)
	}

	// Fill secrets from environment where still empty
	loadFromEnv(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) {
	if flags.Changed("store-driver") {
		cfg.Store.Driver, _ = flags.GetString("store-driver")
	}
	if flags.Changed("store-dsn") {
		cfg.Store.DSN, _ = flags.GetString("store-dsn")
	}

	if flags.Changed("src-provider") {
		cfg.Source.Provider, _ = flags.GetString("src-provider")
	}
	if flags.Changed("src-bucket") {
		cfg.Source.Bucket, _ = flags.GetString("src-bucket")
	}
	if flags.Changed("src-url") {
		cfg.Source.URL, _ = flags.GetString("src-url")
	}
	if flags.Changed("src-endpoint") {
		cfg.Source.Endpoint, _ = flags.GetString("src-endpoint")
	}

	if flags.Changed("dst-provider") {
		cfg.Dest.Provider, _ = flags.GetString("dst-provider")
	}
	if flags.Changed("dst-bucket") {
		cfg.Dest.Bucket, _ = flags.GetString("dst-bucket")
	}
	if flags.Changed("dst-url") {
		cfg.Dest.URL, _ = flags.GetString("dst-url")
	}
	if flags.Changed("dst-endpoint") {
		cfg.Dest.Endpoint, _ = flags.GetString("dst-endpoint")
	}

	if flags.Changed("dest-prefix") {
		cfg.Migration.DestPrefix, _ = flags.GetString("dest-prefix")
	}
	if flags.Changed("batch-size") {
		cfg.Migration.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("concurrency") {
		cfg.Migration.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("retries") {
		cfg.Migration.Retries, _ = flags.GetInt("retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.Migration.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}
	if flags.Changed("buffer-threshold") {
		cfg.Migration.BufferThreshold, _ = flags.GetInt64("buffer-threshold")
	}

	if flags.Changed("listen") {
		cfg.API.Listen, _ = flags.GetString("listen")
	}
	if flags.Changed("metrics-listen") {
		cfg.API.MetricsListen, _ = flags.GetString("metrics-listen")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
}

// loadFromEnv fills secrets that never belong in a config file. Only empty
// fields are touched, so file and flag values win.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		// the sqlite default does not count as an explicit choice for a
		// postgres store
		if cfg.Store.DSN == "" ||
			(cfg.Store.Driver == queue.DriverPostgres && cfg.Store.DSN == defaultSQLiteDSN) {
			cfg.Store.DSN = v
		}
	}

	fillSupabase := func(e *Endpoint) {
		if e.Provider != storage.ProviderSupabase {
			return
		}
		if e.URL == "" {
			e.URL = os.Getenv("SUPABASE_URL")
		}
		if e.ServiceKey == "" {
			e.ServiceKey = os.Getenv("SUPABASE_SERVICE_KEY")
		}
	}
	fillSupabase(&cfg.Source)
	fillSupabase(&cfg.Dest)

	fillS3 := func(e *Endpoint, prefix string) {
		if e.Provider != storage.ProviderS3 {
			return
		}
		if e.AccessKey == "" {
			e.AccessKey = os.Getenv(prefix + "_ACCESS_KEY")
		}
		if e.SecretKey == "" {
			e.SecretKey = os.Getenv(prefix + "_SECRET_KEY")
		}
	}
	fillS3(&cfg.Source, "SOURCE_S3")
	fillS3(&cfg.Dest, "DEST_S3")
}

func (c *Config) validate() error {
	if c.Store.Driver != queue.DriverSQLite && c.Store.Driver != queue.DriverPostgres {
		return fmt.Errorf("store driver must be sqlite or postgres")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store dsn is required")
	}

	if err := c.Source.validate("source"); err != nil {
		return err
	}
	if err := c.Dest.validate("dest"); err != nil {
		return err
	}

	if c.Migration.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Migration.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Lifecycle.HeartbeatSeconds <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}

	return nil
}

func (e *Endpoint) validate(side string) error {
	if e.Bucket == "" {
		return fmt.Errorf("%s bucket is required", side)
	}
	switch e.Provider {
	case storage.ProviderSupabase:
		if e.URL == "" {
			return fmt.Errorf("%s url is required", side)
		}
		if e.ServiceKey == "" {
			return fmt.Errorf("%s service key is required", side)
		}
	case storage.ProviderS3:
		if e.Endpoint == "" {
			return fmt.Errorf("%s endpoint is required", side)
		}
		if e.AccessKey == "" {
			return fmt.Errorf("%s access key is required", side)
		}
		if e.SecretKey == "" {
			return fmt.Errorf("%s secret key is required", side)
		}
	default:
		return fmt.Errorf("%s provider must be supabase or s3", side)
	}
	return nil
}

// Duration accessors; the YAML carries plain integers with unit suffixes
// in the key names.

func (d Discovery) IdleWait() time.Duration {
	return time.Duration(d.IdleWaitMs) * time.Millisecond
}

func (m Migration) RetryBackoff() time.Duration {
	return time.Duration(m.RetryBackoffMs) * time.Millisecond
}

func (m Migration) IdleWait() time.Duration {
	return time.Duration(m.IdleWaitMs) * time.Millisecond
}

func (l Lifecycle) Heartbeat() time.Duration {
	return time.Duration(l.HeartbeatSeconds) * time.Second
}

func (l Lifecycle) Poll() time.Duration {
	return time.Duration(l.PollMs) * time.Millisecond
}

func (l Lifecycle) JobTTL() time.Duration {
	return time.Duration(l.JobTTLSeconds) * time.Second
}

func (l Lifecycle) ClaimTTL() time.Duration {
	return time.Duration(l.ClaimTTLSeconds) * time.Second
}

func (l Lifecycle) ReapEvery() time.Duration {
	return time.Duration(l.ReapEverySeconds) * time.Second
}

func (a API) StuckAfter() time.Duration {
	return time.Duration(a.StuckAfterMin) * time.Minute
}

func (a API) PushInterval() time.Duration {
	return time.Duration(a.PushIntervalMs) * time.Millisecond
}
