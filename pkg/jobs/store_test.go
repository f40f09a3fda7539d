package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospectly/server/pkg/types"
)

func newJob(tenant string) *types.Job {
	return &types.Job{
		ID:            uuid.NewString(),
		TenantID:      tenant,
		ProviderID:    "hunter",
		Operation:     types.OpFindEmail,
		Total:         3,
		InputSnapshot: json.RawMessage(`[{"domain":"example.com"}]`),
		Options:       types.RequestOptions{Retries: 2},
	}
}

func TestJobLifecycle(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	job := newJob("t1")
	require.NoError(t, s.Create(ctx, job))

	loaded, err := s.Get(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobQueued, loaded.Status)
	assert.Equal(t, 3, loaded.Total)
	assert.Equal(t, 2, loaded.Options.Retries)
	assert.Nil(t, loaded.StartedAt)

	ok, err := s.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second claim is a no-op, which makes redelivery idempotent.
	ok, err = s.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddProgress(ctx, job.ID, 2, 1, 1))
	require.NoError(t, s.AddProgress(ctx, job.ID, 1, 1, 0))

	loaded, err = s.Get(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Processed)
	assert.Equal(t, 2, loaded.Successful)
	assert.Equal(t, 1, loaded.Failed)
	require.NotNil(t, loaded.StartedAt)

	require.NoError(t, s.Complete(ctx, job.ID, json.RawMessage(`[{"index":0}]`)))
	loaded, err = s.Get(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, loaded.Status)
	require.NotNil(t, loaded.CompletedAt)
	assert.JSONEq(t, `[{"index":0}]`, string(loaded.Output))
}

func TestGetIsTenantScoped(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	job := newJob("t1")
	require.NoError(t, s.Create(ctx, job))

	_, err := s.Get(ctx, "t2", job.ID)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.AsError(err).Code)
}

func TestTerminalJobsAreImmutable(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	job := newJob("t1")
	require.NoError(t, s.Create(ctx, job))
	_, err := s.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, job.ID, json.RawMessage(`[]`)))

	assert.Error(t, s.Fail(ctx, job.ID, "too late"))
	assert.Error(t, s.Complete(ctx, job.ID, json.RawMessage(`[]`)))

	loaded, err := s.Get(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, loaded.Status)
	assert.Empty(t, loaded.ErrorDetails)
}

func TestFailFromQueued(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	job := newJob("t1")
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.Fail(ctx, job.ID, "enqueue failed"))

	loaded, err := s.Get(ctx, "t1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, loaded.Status)
	assert.Equal(t, "enqueue failed", loaded.ErrorDetails)
}

func TestRequestCancel(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	job := newJob("t1")
	require.NoError(t, s.Create(ctx, job))

	flag, err := s.CancelRequested(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, flag)

	require.NoError(t, s.RequestCancel(ctx, "t1", job.ID))
	flag, err = s.CancelRequested(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, flag)

	// Wrong tenant or terminal job cannot be flagged.
	err = s.RequestCancel(ctx, "t2", job.ID)
	assert.Equal(t, types.ErrNotFound, types.AsError(err).Code)

	_, err = s.MarkProcessing(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, job.ID, json.RawMessage(`[]`)))
	err = s.RequestCancel(ctx, "t1", job.ID)
	assert.Equal(t, types.ErrNotFound, types.AsError(err).Code)
}

func TestListNewestFirst(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	older := newJob("t1")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.Create(ctx, older))
	newer := newJob("t1")
	require.NoError(t, s.Create(ctx, newer))
	other := newJob("t2")
	require.NoError(t, s.Create(ctx, other))

	list, err := s.List(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
}

func TestJobLogsAppendOrder(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	job := newJob("t1")
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.AppendLog(ctx, job.ID, "warn", "record 0: NOT_FOUND"))
	require.NoError(t, s.AppendLog(ctx, job.ID, "warn", "record 2: TIMEOUT"))

	logs, err := s.Logs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Contains(t, logs[0].Message, "record 0")
	assert.Contains(t, logs[1].Message, "record 2")
}

func TestRecordUsage(t *testing.T) {
	db := newTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	require.NoError(t, s.RecordUsage(ctx, types.Usage{
		TenantID:       "t1",
		ProviderID:     "hunter",
		Endpoint:       "find-email",
		StatusCode:     200,
		ResponseTimeMS: 42,
		CreditsUsed:    1,
		TS:             time.Now().UTC(),
	}))

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM api_usage WHERE tenant_id = 't1'`).Scan(&count))
	assert.Equal(t, 1, count)
}
