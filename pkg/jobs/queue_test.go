package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospectly/server/pkg/infrastructure/database"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-a", "t1", 0))
	require.NoError(t, q.Enqueue(ctx, "job-b", "t1", 0))

	first, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "job-a", first.JobID)

	second, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "job-b", second.JobID)

	empty, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestQueuePriorityBeatsAge(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "old-normal", "t1", 0))
	require.NoError(t, q.Enqueue(ctx, "new-urgent", "t1", 5))

	m, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "new-urgent", m.JobID)
}

func TestQueueClaimIsExclusive(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "job-a", "t1", 0))

	m, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, m)

	again, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestQueueConcurrentClaimsDeliverOnce(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)
	ctx := context.Background()
	for _, id := range []string{"job-a", "job-b", "job-c"} {
		require.NoError(t, q.Enqueue(ctx, id, "t1", 0))
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := q.Claim(ctx)
			assert.NoError(t, err)
			if m != nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), wins.Load())
}

func TestQueueLookup(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)
	ctx := context.Background()

	state, err := q.Lookup(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "", state)

	require.NoError(t, q.Enqueue(ctx, "job-a", "t1", 0))
	state, err = q.Lookup(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, "waiting", state)

	m, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, m.ID))

	state, err = q.Lookup(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, "completed", state)
}

func TestQueueFailRecordsReason(t *testing.T) {
	db := newTestDB(t)
	q := NewQueue(db, nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-a", "t1", 0))
	m, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, m.ID, "worker exploded"))

	var state, reason string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT state, reason FROM queue_messages WHERE id = $1`, m.ID).Scan(&state, &reason))
	assert.Equal(t, "failed", state)
	assert.Equal(t, "worker exploded", reason)
}

func TestQueueSweepAgesOutFinished(t *testing.T) {
	db := newTestDB(t)
	q := NewQueue(db, nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-old", "t1", 0))
	m, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, m.ID))

	// Age the finished message past the completed retention window.
	_, err = db.ExecContext(ctx,
		`UPDATE queue_messages SET finished_at = $1 WHERE id = $2`,
		time.Now().UTC().Add(-2*time.Hour), m.ID)
	require.NoError(t, err)

	require.NoError(t, q.Sweep(ctx))

	state, err := q.Lookup(ctx, "job-old")
	require.NoError(t, err)
	assert.Equal(t, "", state)
}

func TestQueueRequeueStale(t *testing.T) {
	db := newTestDB(t)
	q := NewQueue(db, nil)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-a", "t1", 0))
	m, err := q.Claim(ctx)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx,
		`UPDATE queue_messages SET started_at = $1 WHERE id = $2`,
		time.Now().UTC().Add(-3*time.Hour), m.ID)
	require.NoError(t, err)

	n, err := q.RequeueStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	reclaimed, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, "job-a", reclaimed.JobID)
}
