// Package audit persists batch run outcomes to PostgreSQL so that
// processing history survives individual runs.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/medimaging/dicom-sentinel/internal/batch"
)

// Store writes batch audit records to PostgreSQL.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Config contains database configuration.
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

const schema = `
CREATE TABLE IF NOT EXISTS batch_runs (
	id          BIGSERIAL PRIMARY KEY,
	root        TEXT NOT NULL,
	operation   TEXT NOT NULL,
	discovered  INTEGER NOT NULL,
	dispatched  INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	duration_ms BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS batch_files (
	id          BIGSERIAL PRIMARY KEY,
	run_id      BIGINT NOT NULL REFERENCES batch_runs(id) ON DELETE CASCADE,
	path        TEXT NOT NULL,
	succeeded   BOOLEAN NOT NULL,
	skipped     BOOLEAN NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batch_files_run_id ON batch_files(run_id);
`

// NewStore connects to PostgreSQL and ensures the audit schema exists.
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	store := &Store{db: db, logger: logger}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	logger.Info("Audit store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns))

	return store, nil
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}

	return nil
}

// RecordRun stores a completed batch report and its per-file outcomes.
func (s *Store) RecordRun(ctx context.Context, report *batch.Report) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var runID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO batch_runs (root, operation, discovered, dispatched, succeeded, failed, skipped, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		report.Root,
		string(report.Operation),
		report.Discovered,
		report.Dispatched,
		report.Succeeded,
		report.Failed,
		report.Skipped,
		report.Duration.Milliseconds(),
	).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert batch run: %w", err)
	}

	if len(report.Results) > 0 {
		valueStrings := make([]string, 0, len(report.Results))
		valueArgs := make([]interface{}, 0, len(report.Results)*7)

		for i, r := range report.Results {
			valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
				i*7+1, i*7+2, i*7+3, i*7+4, i*7+5, i*7+6, i*7+7))
			valueArgs = append(valueArgs,
				runID,
				r.Path,
				r.Succeeded,
				r.Skipped,
				string(r.ErrorKind),
				r.Detail,
				r.Duration.Milliseconds(),
			)
		}

		query := fmt.Sprintf(`
			INSERT INTO batch_files (run_id, path, succeeded, skipped, error_kind, detail, duration_ms)
			VALUES %s`,
			strings.Join(valueStrings, ","))

		if _, err := tx.ExecContext(ctx, query, valueArgs...); err != nil {
			return 0, fmt.Errorf("failed to insert file outcomes: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit audit record: %w", err)
	}

	s.logger.Debug("Batch run recorded",
		zap.Int64("run_id", runID),
		zap.Int("files", len(report.Results)))

	return runID, nil
}

// RunSummary is a stored batch run row.
type RunSummary struct {
	ID         int64     `db:"id"`
	Root       string    `db:"root"`
	Operation  string    `db:"operation"`
	Discovered int       `db:"discovered"`
	Dispatched int       `db:"dispatched"`
	Succeeded  int       `db:"succeeded"`
	Failed     int       `db:"failed"`
	Skipped    int       `db:"skipped"`
	DurationMS int64     `db:"duration_ms"`
	CreatedAt  time.Time `db:"created_at"`
}

// RecentRuns returns the most recent batch runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []RunSummary
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, root, operation, discovered, dispatched, succeeded, failed, skipped, duration_ms, created_at
		FROM batch_runs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch runs: %w", err)
	}
	return runs, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// maskDatabaseURL masks sensitive information in database URL for logging.
func maskDatabaseURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
