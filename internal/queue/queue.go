// Package queue persists jobs, the directory scan frontier, the file
// inventory and progress counters behind the claim primitives that let any
// number of workers cooperate on one migration without double work.
package queue

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed schema_postgres.sql schema_sqlite.sql
var schemaFS embed.FS

const (
	// DriverPostgres selects pgx and SELECT ... FOR UPDATE SKIP LOCKED claims.
	DriverPostgres = "postgres"
	// DriverSQLite selects modernc.org/sqlite; claim statements rely on the
	// single-writer lock instead of row locks.
	DriverSQLite = "sqlite"

	busyMaxRetries = 5
	busyBaseDelay  = 50 * time.Millisecond
)

// Store is the durable work queue shared by crawlers, migrators and the API.
// All methods are safe for concurrent use from multiple processes.
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger

	// appended to claim subselects on postgres, empty on sqlite
	claimSuffix string
}

// Open connects to the queue database and ensures the schema exists.
// driver is "postgres" or "sqlite"; dsn is a pgx URL or a sqlite file path.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *sql.DB
	var err error
	switch driver {
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	case DriverSQLite:
		db, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// WAL permits concurrent readers; writers serialize on the
		// database lock, which is what makes single-statement claims atomic.
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	default:
		return nil, fmt.Errorf("unknown queue driver %q", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping queue database: %w", err)
	}

	s := &Store{
		db:     db,
		driver: driver,
		logger: logger,
	}
	if driver == DriverPostgres {
		s.claimSuffix = " FOR UPDATE SKIP LOCKED"
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	logger.Info("queue store ready", zap.String("driver", driver))
	return s, nil
}

// sqliteDSN decorates a file path with the pragmas every pooled connection
// needs. Pragmas set via Exec would only reach one connection.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_time_format=sqlite" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(10000)" +
		"&_pragma=foreign_keys(1)"
}

func (s *Store) initSchema(ctx context.Context) error {
	name := "schema_sqlite.sql"
	if s.driver == DriverPostgres {
		name = "schema_postgres.sql"
	}
	ddl, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read embedded schema: %w", err)
	}
	// pgx rejects multi-statement Exec, so the schema runs one statement
	// at a time on both dialects.
	for _, stmt := range strings.Split(string(ddl), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// now returns the wall clock in UTC. Every timestamp is written from here so
// ordering and staleness comparisons behave the same on both dialects.
func now() time.Time {
	return time.Now().UTC()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

// withRetry reruns fn while sqlite reports the database locked. Postgres
// never takes this path.
func (s *Store) withRetry(fn func() error) error {
	if s.driver != DriverSQLite {
		return fn()
	}
	var err error
	for attempt := 0; attempt < busyMaxRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		delay := busyBaseDelay * time.Duration(attempt+1)
		delay += time.Duration(rand.Int63n(int64(busyBaseDelay)))
		s.logger.Debug("queue busy, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))
		time.Sleep(delay)
	}
	return err
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := s.withRetry(func() error {
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// placeholders renders $from..$from+n-1 for dynamic IN lists.
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}
