package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/prospectly/server/pkg/providers"
	"github.com/prospectly/server/pkg/types"
)

// MaxBatchSize bounds one bulk submission.
const MaxBatchSize = 10000

// Submitter validates a bulk request, snapshots its input and enqueues it.
// Validation is structural only: credentials are not touched until a worker
// picks the job up, so a submission never blocks on a provider.
type Submitter struct {
	store       *Store
	queue       *Queue
	registry    *providers.Registry
	descriptors providers.DescriptorSource
	logger      *slog.Logger
}

// NewSubmitter assembles a submitter.
func NewSubmitter(store *Store, queue *Queue, registry *providers.Registry, descriptors providers.DescriptorSource, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		store:       store,
		queue:       queue,
		registry:    registry,
		descriptors: descriptors,
		logger:      logger.With("component", "submitter"),
	}
}

// Submit creates a queued job for records and returns it. The input is
// snapshotted verbatim; per-record normalization happens in the worker so one
// bad record fails that record, not the batch.
func (s *Submitter) Submit(ctx context.Context, tenantID, providerID string, op types.Operation, records []map[string]interface{}, opts types.RequestOptions) (*types.Job, error) {
	if tenantID == "" {
		return nil, types.NewError(types.ErrInvalidInput, "tenant id is required")
	}
	if !op.Valid() {
		return nil, types.Errorf(types.ErrInvalidInput, "unknown operation %q", op)
	}
	if len(records) == 0 {
		return nil, types.NewError(types.ErrInvalidInput, "at least one record is required")
	}
	if len(records) > MaxBatchSize {
		return nil, types.Errorf(types.ErrInvalidInput,
			"batch of %d records exceeds the maximum of %d", len(records), MaxBatchSize)
	}

	id := strings.ToLower(strings.TrimSpace(providerID))
	if !s.registry.Known(id) {
		return nil, types.Errorf(types.ErrNotFound, "unknown provider %q", providerID)
	}
	desc, err := s.descriptors.Descriptor(ctx, id)
	if err != nil {
		return nil, err
	}
	if !desc.Supports(op) {
		return nil, types.Errorf(types.ErrOperationUnsupported,
			"provider %s does not support %s", id, op)
	}

	snapshot, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("snapshot input: %w", err)
	}

	job := &types.Job{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		ProviderID:    id,
		Operation:     op,
		Total:         len(records),
		InputSnapshot: snapshot,
		Options:       opts,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, job.ID, tenantID, 0); err != nil {
		// The job row exists but will never run; fail it so it cannot sit in
		// queued forever.
		_ = s.store.Fail(context.WithoutCancel(ctx), job.ID, "enqueue failed")
		return nil, err
	}

	s.logger.Info("job submitted",
		"job_id", job.ID, "tenant_id", tenantID, "provider_id", id,
		"operation", op, "records", len(records))
	return job, nil
}

// DisplayStatus reconciles a job's stored status with its queue state for
// read paths. The job row stays authoritative; the queue record only shades
// how the status is presented. A job whose message is gone (retention sweep
// or loss) reads as "stale" while processing and "expired" otherwise; a
// processing job whose message failed also reads as stale.
func DisplayStatus(job *types.Job, queueState string) string {
	switch {
	case queueState == "" && job.Status == types.JobProcessing:
		return "stale"
	case queueState == "":
		return "expired"
	case job.Status == types.JobProcessing && queueState == "failed":
		return "stale"
	default:
		return string(job.Status)
	}
}
