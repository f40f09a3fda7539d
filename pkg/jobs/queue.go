package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prospectly/server/pkg/infrastructure/database"
)

// Retention windows for finished queue messages. Completed entries are only
// useful for a short inspection window; failed ones are kept longer for
// debugging. Row caps bound the table regardless of traffic.
const (
	completedRetention = 1 * time.Hour
	completedKeep      = 100
	failedRetention    = 24 * time.Hour
	failedKeep         = 50

	// A message active longer than this belongs to a worker that died.
	staleActiveAfter = 2 * time.Hour
)

// Message is one queued delivery of a job to the worker pool.
type Message struct {
	ID       int64
	JobID    string
	TenantID string
	Priority int
}

// Queue is a durable FIFO over the queue_messages table. Ordering is by
// priority (high first) then insertion order. Claiming is a single UPDATE
// with a subselect so concurrent workers never take the same message.
type Queue struct {
	db     *database.DB
	logger *slog.Logger
}

// NewQueue wraps db.
func NewQueue(db *database.DB, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db, logger: logger}
}

// Enqueue appends a delivery for jobID.
func (q *Queue) Enqueue(ctx context.Context, jobID, tenantID string, priority int) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO queue_messages (job_id, tenant_id, priority, state, enqueued_at)
		VALUES ($1, $2, $3, 'waiting', $4)`,
		jobID, tenantID, priority, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Claim atomically takes the next waiting message, or returns (nil, nil)
// when the queue is empty. The outer state predicate is load-bearing on
// postgres: a concurrent claim that resolved the same subselect id re-checks
// the full WHERE after the winner commits and skips the now-active row.
func (q *Queue) Claim(ctx context.Context) (*Message, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE queue_messages SET state = 'active', started_at = $1
		WHERE state = 'waiting' AND id = (
			SELECT id FROM queue_messages WHERE state = 'waiting'
			ORDER BY priority DESC, id LIMIT 1
		)
		RETURNING id, job_id, tenant_id, priority`,
		time.Now().UTC())

	var m Message
	err := row.Scan(&m.ID, &m.JobID, &m.TenantID, &m.Priority)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim queue message: %w", err)
	}
	return &m, nil
}

// Complete acks a claimed message.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_messages SET state = 'completed', finished_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete queue message %d: %w", id, err)
	}
	return nil
}

// Fail marks a claimed message failed with a reason.
func (q *Queue) Fail(ctx context.Context, id int64, reason string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_messages SET state = 'failed', reason = $1, finished_at = $2 WHERE id = $3`,
		reason, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("fail queue message %d: %w", id, err)
	}
	return nil
}

// Lookup returns the state of the most recent message for a job, or "" when
// retention already swept it. Callers reconcile job display status from this.
func (q *Queue) Lookup(ctx context.Context, jobID string) (string, error) {
	var state string
	err := q.db.QueryRowContext(ctx, `
		SELECT state FROM queue_messages WHERE job_id = $1 ORDER BY id DESC LIMIT 1`,
		jobID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup queue message for %s: %w", jobID, err)
	}
	return state, nil
}

// Sweep applies retention to finished messages: age-based deletion plus a
// keep-newest row cap per terminal state.
func (q *Queue) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	type policy struct {
		state  string
		maxAge time.Duration
		keep   int
	}
	for _, p := range []policy{
		{"completed", completedRetention, completedKeep},
		{"failed", failedRetention, failedKeep},
	} {
		if _, err := q.db.ExecContext(ctx, `
			DELETE FROM queue_messages WHERE state = $1 AND finished_at < $2`,
			p.state, now.Add(-p.maxAge)); err != nil {
			return fmt.Errorf("sweep %s messages: %w", p.state, err)
		}
		if _, err := q.db.ExecContext(ctx, `
			DELETE FROM queue_messages WHERE state = $1 AND id NOT IN (
				SELECT id FROM queue_messages WHERE state = $1
				ORDER BY id DESC LIMIT $2
			)`, p.state, p.keep); err != nil {
			return fmt.Errorf("cap %s messages: %w", p.state, err)
		}
	}
	return nil
}

// RequeueStale returns messages stuck in active back to waiting. Covers
// workers that crashed between claim and ack.
func (q *Queue) RequeueStale(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE queue_messages SET state = 'waiting', started_at = NULL
		WHERE state = 'active' AND started_at < $1`,
		time.Now().UTC().Add(-staleActiveAfter))
	if err != nil {
		return 0, fmt.Errorf("requeue stale messages: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.logger.Warn("requeued stale queue messages", "count", n)
	}
	return n, nil
}
