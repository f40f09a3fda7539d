package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/prospectly/server/pkg/dispatch"
	"github.com/prospectly/server/pkg/infrastructure/pubsub"
	"github.com/prospectly/server/pkg/normalize"
	"github.com/prospectly/server/pkg/providers"
	"github.com/prospectly/server/pkg/types"
)

const (
	// DefaultConcurrency is the worker pool size when WORKER_CONCURRENCY is
	// unset.
	DefaultConcurrency = 5

	// progressFlushEvery batches counter updates: one UPDATE and one event
	// per N records instead of per record.
	progressFlushEvery = 10

	idlePollInterval = 1 * time.Second
	sweepInterval    = 10 * time.Minute

	webhookTimeout = 10 * time.Second
)

// RecordResult is one record's outcome inside a job's output blob.
type RecordResult struct {
	Index   int             `json:"index"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *types.Error    `json:"error,omitempty"`
	Credits int             `json:"credits_used,omitempty"`
}

// Worker drains the queue with a fixed-size goroutine pool. Each message is
// one whole job; records inside the job run sequentially so the dispatcher's
// per-provider limits are the only source of provider concurrency.
type Worker struct {
	store      *Store
	queue      *Queue
	registry   *providers.Registry
	dispatcher *dispatch.Dispatcher
	emitter    *pubsub.Emitter
	logger     *slog.Logger
	webhooks   *http.Client

	concurrency int
}

// NewWorker assembles a worker pool. emitter may be nil.
func NewWorker(store *Store, queue *Queue, registry *providers.Registry, dispatcher *dispatch.Dispatcher, emitter *pubsub.Emitter, concurrency int, logger *slog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:       store,
		queue:       queue,
		registry:    registry,
		dispatcher:  dispatcher,
		emitter:     emitter,
		logger:      logger.With("component", "worker"),
		webhooks:    &http.Client{Timeout: webhookTimeout},
		concurrency: concurrency,
	}
}

// Run blocks until ctx is canceled, then drains: each goroutine finishes its
// in-flight record, flushes progress and fails its job with a shutdown
// reason. Jobs orphaned by a crash (no drain) come back via the
// stale-message sweep instead.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.loop(ctx, n)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.sweepLoop(ctx)
	}()

	wg.Wait()
	w.logger.Info("worker pool drained")
}

func (w *Worker) loop(ctx context.Context, n int) {
	logger := w.logger.With("worker", n)
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := w.queue.Claim(ctx)
		if err != nil {
			logger.Error("claim failed", "error", err)
		}
		if msg == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePollInterval):
			}
			continue
		}
		w.process(ctx, msg, logger)
	}
}

func (w *Worker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.Sweep(ctx); err != nil {
				w.logger.Warn("queue sweep failed", "error", err)
			}
			if _, err := w.queue.RequeueStale(ctx); err != nil {
				w.logger.Warn("stale requeue failed", "error", err)
			}
		}
	}
}

// process runs one job to a terminal state. Panics are reported and fail the
// job rather than killing the pool.
func (w *Worker) process(ctx context.Context, msg *Message, logger *slog.Logger) {
	logger = logger.With("job_id", msg.JobID, "tenant_id", msg.TenantID)

	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			logger.Error("job panicked", "panic", r)
			_ = w.store.Fail(context.WithoutCancel(ctx), msg.JobID, fmt.Sprintf("internal error: %v", r))
			_ = w.queue.Fail(context.WithoutCancel(ctx), msg.ID, "panic")
		}
	}()

	job, err := w.store.Get(ctx, msg.TenantID, msg.JobID)
	if err != nil {
		logger.Error("job load failed", "error", err)
		_ = w.queue.Fail(ctx, msg.ID, "job row missing")
		return
	}

	claimed, err := w.store.MarkProcessing(ctx, job.ID)
	if err != nil {
		logger.Error("mark processing failed", "error", err)
		_ = w.queue.Fail(ctx, msg.ID, err.Error())
		return
	}
	if !claimed {
		if job.Status.Terminal() {
			// Redelivery of an already-finished job; ack and move on.
			_ = w.queue.Complete(ctx, msg.ID)
			return
		}
		// Job is mid-processing from a previous run; resume past the records
		// already counted.
		logger.Info("resuming interrupted job", "processed", job.Processed)
	}

	var records []map[string]interface{}
	if err := json.Unmarshal(job.InputSnapshot, &records); err != nil {
		w.finishFailed(ctx, msg, job, fmt.Sprintf("corrupt input snapshot: %v", err))
		return
	}

	results := make([]RecordResult, 0, len(records)-job.Processed)
	processed, successful, failed := 0, 0, 0

	// Bookkeeping writes survive shutdown: the worker context cancels
	// dispatching, never persistence.
	persist := context.WithoutCancel(ctx)

	flush := func(status types.JobStatus) {
		if processed > 0 {
			if err := w.store.AddProgress(persist, job.ID, processed, successful, failed); err != nil {
				logger.Warn("progress flush failed", "error", err)
			}
			job.Processed += processed
			job.Successful += successful
			job.Failed += failed
			processed, successful, failed = 0, 0, 0
		}
		w.emitProgress(persist, job, status)
	}

	w.emitProgress(ctx, job, types.JobProcessing)

	for i := job.Processed; i < len(records); i++ {
		if ctx.Err() != nil {
			// Drain window elapsed: persist what we have, then the job
			// fails with a shutdown reason rather than lingering.
			flush(types.JobProcessing)
			logger.Info("job interrupted by shutdown", "processed", job.Processed)
			w.finishFailed(ctx, msg, job, "worker shutdown before completion")
			return
		}

		// Cooperative cancel is checked between every record; the counter
		// flush stays batched.
		if canceled, _ := w.store.CancelRequested(persist, job.ID); canceled {
			flush(types.JobProcessing)
			w.finishFailed(ctx, msg, job, "canceled by request")
			return
		}

		if i%progressFlushEvery == 0 {
			flush(types.JobProcessing)
		}

		res := w.processRecord(ctx, job, i, records[i])
		results = append(results, res)
		processed++
		if res.Success {
			successful++
		} else {
			failed++
			if res.Error != nil {
				_ = w.store.AppendLog(persist, job.ID, "warn",
					fmt.Sprintf("record %d: %s: %s", i, res.Error.Code, res.Error.Message))
			}
		}
	}

	flush(types.JobProcessing)

	output, err := json.Marshal(results)
	if err != nil {
		w.finishFailed(ctx, msg, job, fmt.Sprintf("encode output: %v", err))
		return
	}
	if err := w.store.Complete(ctx, job.ID, output); err != nil {
		logger.Error("job completion failed", "error", err)
		_ = w.queue.Fail(ctx, msg.ID, err.Error())
		return
	}
	job.Status = types.JobCompleted
	w.emitProgress(ctx, job, types.JobCompleted)
	w.notifyWebhook(ctx, job, types.JobCompleted)
	_ = w.queue.Complete(ctx, msg.ID)
	logger.Info("job completed",
		"total", job.Total, "successful", job.Successful, "failed", job.Failed)
}

// processRecord dispatches a single record. The provider instance is resolved
// per record so a credential rotation mid-job takes effect on the next record.
func (w *Worker) processRecord(ctx context.Context, job *types.Job, index int, params map[string]interface{}) RecordResult {
	p, err := w.registry.Get(ctx, job.TenantID, job.ProviderID)
	if err != nil {
		return RecordResult{Index: index, Error: types.AsError(err)}
	}

	cleaned, nerr := normalize.Record(job.Operation, params)
	if nerr != nil {
		return RecordResult{Index: index, Error: types.AsError(nerr)}
	}

	resp := w.dispatcher.Execute(ctx, job.TenantID, p, &types.Request{
		Operation: job.Operation,
		Params:    cleaned,
		Options:   job.Options,
	})
	if !resp.Success {
		return RecordResult{Index: index, Error: resp.Error}
	}
	return RecordResult{
		Index:   index,
		Success: true,
		Data:    resp.Data,
		Credits: resp.Metadata.CreditsUsed,
	}
}

func (w *Worker) finishFailed(ctx context.Context, msg *Message, job *types.Job, details string) {
	ctx = context.WithoutCancel(ctx)
	if err := w.store.Fail(ctx, job.ID, details); err != nil {
		w.logger.Error("job fail transition failed", "job_id", job.ID, "error", err)
	}
	job.Status = types.JobFailed
	w.emitProgress(ctx, job, types.JobFailed)
	w.notifyWebhook(ctx, job, types.JobFailed)
	_ = w.queue.Fail(ctx, msg.ID, details)
}

// notifyWebhook POSTs the terminal progress snapshot to the job's webhook
// URL, if one was submitted. Delivery is best-effort and never retried.
func (w *Worker) notifyWebhook(ctx context.Context, job *types.Job, status types.JobStatus) {
	url := job.Options.WebhookURL
	if url == "" {
		return
	}
	payload, err := json.Marshal(types.Progress{
		JobID:      job.ID,
		TenantID:   job.TenantID,
		Status:     status,
		Total:      job.Total,
		Processed:  job.Processed,
		Successful: job.Successful,
		Failed:     job.Failed,
	})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		w.logger.Warn("webhook request build failed", "job_id", job.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.webhooks.Do(req)
	if err != nil {
		w.logger.Warn("webhook delivery failed", "job_id", job.ID, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		w.logger.Warn("webhook rejected", "job_id", job.ID, "status", resp.StatusCode)
	}
}

func (w *Worker) emitProgress(ctx context.Context, job *types.Job, status types.JobStatus) {
	pct := 0.0
	if job.Total > 0 {
		pct = float64(job.Processed) / float64(job.Total) * 100
	}
	w.emitter.EmitProgress(ctx, types.Progress{
		JobID:      job.ID,
		TenantID:   job.TenantID,
		Status:     status,
		Total:      job.Total,
		Processed:  job.Processed,
		Successful: job.Successful,
		Failed:     job.Failed,
		Pct:        pct,
	})
}
