// Package database opens the relational store and owns its schema. Postgres
// is used when DATABASE_URL is set; otherwise an embedded SQLite file keeps
// local development and tests self-contained. All SQL in the repo uses $N
// placeholders, which both drivers accept.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect identifies the connected engine for the few statements that
// differ between them.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DB bundles the handle with its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to Postgres when url is a postgres DSN, otherwise to an
// embedded SQLite database under dataDir.
func Open(url, dataDir string) (*DB, error) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		db, err := sql.Open("postgres", url)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &DB{DB: db, Dialect: DialectPostgres}, nil
	}

	if dataDir == "" {
		dataDir = "."
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		filepath.Join(dataDir, "prospectly.db"))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under the worker pool.
	db.SetMaxOpenConns(1)
	return &DB{DB: db, Dialect: DialectSQLite}, nil
}

// OpenMemory opens a private in-memory SQLite database. Test helper; the
// single pooled connection keeps the database alive.
func OpenMemory() (*DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &DB{DB: db, Dialect: DialectSQLite}, nil
}

func (db *DB) serial() string {
	if db.Dialect == DialectPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// Migrate creates the schema when absent. Statements are idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS providers (
			name TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			category TEXT NOT NULL,
			base_url TEXT NOT NULL,
			rate_limit REAL NOT NULL DEFAULT 1,
			burst_size INTEGER NOT NULL DEFAULT 1,
			max_concurrent INTEGER NOT NULL DEFAULT 1,
			daily_quota INTEGER NOT NULL DEFAULT 0,
			cache_per_tenant BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			supported_operations TEXT NOT NULL DEFAULT '[]',
			configuration TEXT NOT NULL DEFAULT '{}'
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS provider_features (
			id %s,
			provider_id TEXT NOT NULL,
			feature_id TEXT NOT NULL,
			feature_name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			endpoint TEXT NOT NULL DEFAULT '',
			http_method TEXT NOT NULL DEFAULT 'POST',
			credits_per_request INTEGER NOT NULL DEFAULT 1,
			parameters TEXT NOT NULL DEFAULT '{}',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			UNIQUE (provider_id, feature_id)
		)`, db.serial()),
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			key_material TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_pair ON api_keys (tenant_id, provider_id)`,
		`CREATE TABLE IF NOT EXISTS enrichment_jobs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			job_type TEXT NOT NULL,
			status TEXT NOT NULL,
			total_records INTEGER NOT NULL DEFAULT 0,
			processed_records INTEGER NOT NULL DEFAULT 0,
			successful_records INTEGER NOT NULL DEFAULT 0,
			failed_records INTEGER NOT NULL DEFAULT 0,
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			input_data TEXT,
			output_data TEXT,
			configuration TEXT,
			error_details TEXT,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON enrichment_jobs (tenant_id, created_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS job_logs (
			id %s,
			job_id TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			ts TIMESTAMP NOT NULL
		)`, db.serial()),
		`CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs (job_id, id)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS api_usage (
			id %s,
			tenant_id TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			response_time_ms INTEGER NOT NULL,
			credits_used INTEGER NOT NULL,
			ts TIMESTAMP NOT NULL
		)`, db.serial()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS queue_messages (
			id %s,
			job_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL DEFAULT 'waiting',
			reason TEXT,
			enqueued_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		)`, db.serial()),
		`CREATE INDEX IF NOT EXISTS idx_queue_state ON queue_messages (state, priority, id)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_job ON queue_messages (job_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
