// Package jobs contains the durable job store, the FIFO queue and the worker
// that drives a batch through the dispatcher. The job row is the source of
// truth for job status; the queue is only a delivery mechanism.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prospectly/server/pkg/infrastructure/database"
	"github.com/prospectly/server/pkg/types"
)

// Store persists job lifecycle, progress counters and per-record logs.
// Counter updates are atomic increments keyed by primary key; terminal
// transitions are guarded so a terminal row is never mutated again.
type Store struct {
	db *database.DB
}

// NewStore wraps db.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, tenant_id, provider_id, job_type, status, total_records,
	processed_records, successful_records, failed_records, input_data, output_data,
	configuration, error_details, created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*types.Job, error) {
	var j types.Job
	var input, output, config, errDetails sql.NullString
	var started, completed sql.NullTime
	err := row.Scan(&j.ID, &j.TenantID, &j.ProviderID, &j.Operation, &j.Status, &j.Total,
		&j.Processed, &j.Successful, &j.Failed, &input, &output, &config, &errDetails,
		&j.CreatedAt, &started, &completed)
	if err != nil {
		return nil, err
	}
	if input.Valid {
		j.InputSnapshot = json.RawMessage(input.String)
	}
	if output.Valid {
		j.Output = json.RawMessage(output.String)
	}
	if config.Valid {
		_ = json.Unmarshal([]byte(config.String), &j.Options)
	}
	if errDetails.Valid {
		j.ErrorDetails = errDetails.String
	}
	if started.Valid {
		t := started.Time
		j.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

// Create inserts a job with status queued.
func (s *Store) Create(ctx context.Context, j *types.Job) error {
	config, _ := json.Marshal(j.Options)
	j.Status = types.JobQueued
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichment_jobs (id, tenant_id, provider_id, job_type, status,
			total_records, input_data, configuration, created_at)
		VALUES ($1, $2, $3, $4, 'queued', $5, $6, $7, $8)`,
		j.ID, j.TenantID, j.ProviderID, j.Operation, j.Total,
		string(j.InputSnapshot), string(config), j.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get returns the tenant's job or NOT_FOUND.
func (s *Store) Get(ctx context.Context, tenantID, jobID string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM enrichment_jobs WHERE id = $1 AND tenant_id = $2`,
		jobID, tenantID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.ErrNotFound, "job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// List returns the tenant's jobs, newest first.
func (s *Store) List(ctx context.Context, tenantID string, limit int) ([]*types.Job, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM enrichment_jobs WHERE tenant_id = $1
		 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// MarkProcessing transitions queued -> processing and stamps started_at.
// Returns false when the job is already processing or terminal, which lets a
// re-delivered queue message ack without duplicating work.
func (s *Store) MarkProcessing(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_jobs SET status = 'processing', started_at = $1
		WHERE id = $2 AND status = 'queued'`,
		time.Now().UTC(), jobID)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AddProgress atomically adds counter deltas. Increments keep the monotonic
// invariant without any read-modify-write.
func (s *Store) AddProgress(ctx context.Context, jobID string, processed, successful, failed int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_jobs SET
			processed_records = processed_records + $1,
			successful_records = successful_records + $2,
			failed_records = failed_records + $3
		WHERE id = $4 AND status = 'processing'`,
		processed, successful, failed, jobID)
	if err != nil {
		return fmt.Errorf("add progress: %w", err)
	}
	return nil
}

// Complete transitions processing -> completed with the output blob.
func (s *Store) Complete(ctx context.Context, jobID string, output json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_jobs SET status = 'completed', output_data = $1, completed_at = $2
		WHERE id = $3 AND status = 'processing'`,
		string(output), time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Errorf(types.ErrInternal, "job %s is not processing", jobID)
	}
	return nil
}

// Fail transitions a non-terminal job to failed with error details.
func (s *Store) Fail(ctx context.Context, jobID, details string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_jobs SET status = 'failed', error_details = $1, completed_at = $2
		WHERE id = $3 AND status IN ('queued', 'processing')`,
		details, time.Now().UTC(), jobID)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Errorf(types.ErrInternal, "job %s is already terminal", jobID)
	}
	return nil
}

// RequestCancel flags a job for cooperative cancellation. The worker checks
// the flag between records.
func (s *Store) RequestCancel(ctx context.Context, tenantID, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enrichment_jobs SET cancel_requested = TRUE
		WHERE id = $1 AND tenant_id = $2 AND status IN ('queued', 'processing')`,
		jobID, tenantID)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrNotFound, "job not found or already terminal")
	}
	return nil
}

// CancelRequested reads the cooperative cancel flag.
func (s *Store) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var flag bool
	err := s.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM enrichment_jobs WHERE id = $1`, jobID).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag, nil
}

// AppendLog writes one append-only diagnostic entry.
func (s *Store) AppendLog(ctx context.Context, jobID, level, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_logs (job_id, level, message, ts) VALUES ($1, $2, $3, $4)`,
		jobID, level, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

// Logs returns a job's diagnostic entries in append order.
func (s *Store) Logs(ctx context.Context, jobID string) ([]types.JobLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, level, message, ts FROM job_logs WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job logs: %w", err)
	}
	defer rows.Close()

	var out []types.JobLog
	for rows.Next() {
		var l types.JobLog
		if err := rows.Scan(&l.JobID, &l.Level, &l.Message, &l.TS); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// RecordUsage inserts one api_usage analytics row. Implements
// dispatch.UsageRecorder.
func (s *Store) RecordUsage(ctx context.Context, u types.Usage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_usage (tenant_id, provider_id, endpoint, status_code,
			response_time_ms, credits_used, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.TenantID, u.ProviderID, u.Endpoint, u.StatusCode, u.ResponseTimeMS, u.CreditsUsed, u.TS)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}
