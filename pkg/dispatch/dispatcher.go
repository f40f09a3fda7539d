// Package dispatch wraps a single provider call with token-bucket rate
// limiting, bounded concurrency, exponential-backoff retry and async
// poll-to-completion. It is the only place retry policy lives; providers
// never retry internally.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/prospectly/server/pkg/cache"
	"github.com/prospectly/server/pkg/providers"
	"github.com/prospectly/server/pkg/types"
)

// Retry defaults. Retries apply only to RATE_LIMIT, PROVIDER_UNAVAILABLE and
// TIMEOUT; everything else fails fast.
const (
	DefaultRetries  = 3
	retryMinDelay   = 1 * time.Second
	retryMaxDelay   = 10 * time.Second
	retryMultiplier = 2.0
)

// UsageRecorder persists per-dispatch analytics rows. Implemented by the job
// store; a nil recorder disables accounting.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u types.Usage) error
}

// instanceState is the mutable scheduling state for one provider instance.
// It is keyed by (provider, tenant) and survives instance churn in the
// registry, so credential rotation does not reset rate accounting.
type instanceState struct {
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// Dispatcher executes provider requests under per-instance scheduling
// constraints.
type Dispatcher struct {
	cache  cache.Cache
	usage  UsageRecorder
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]*instanceState
}

// New creates a dispatcher. cache and usage may be nil.
func New(c cache.Cache, usage UsageRecorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cache:  c,
		usage:  usage,
		logger: logger.With("component", "dispatcher"),
		states: make(map[string]*instanceState),
	}
}

func (d *Dispatcher) state(desc types.ProviderDescriptor, tenantID string) *instanceState {
	key := desc.ID + "|" + tenantID
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.states[key]; ok {
		return st
	}
	rps := desc.RateLimitRPS
	if rps <= 0 {
		rps = 1
	}
	burst := desc.BurstSize
	if burst <= 0 {
		burst = 1
	}
	maxConcurrent := desc.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	st := &instanceState{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
	}
	d.states[key] = st
	return st
}

// Execute runs one provider request end to end and always returns a
// normalized response with populated metadata. The request id is assigned
// here and is stable across retries.
func (d *Dispatcher) Execute(ctx context.Context, tenantID string, p providers.Provider, req *types.Request) *types.Response {
	requestID := uuid.NewString()
	start := time.Now()
	desc := p.Descriptor()

	logger := d.logger.With("request_id", requestID, "provider_id", desc.ID, "operation", req.Operation)

	finish := func(resp *types.Response, credits int) *types.Response {
		resp.Metadata = types.Metadata{
			Provider:       desc.ID,
			Operation:      req.Operation,
			CreditsUsed:    credits,
			ResponseTimeMS: time.Since(start).Milliseconds(),
			RequestID:      requestID,
		}
		d.recordUsage(tenantID, resp)
		return resp
	}
	fail := func(e *types.Error) *types.Response {
		return finish(&types.Response{Success: false, Error: e}, 0)
	}

	if !req.Operation.Valid() {
		return fail(types.Errorf(types.ErrInvalidInput, "unknown operation %q", req.Operation))
	}
	if !desc.Supports(req.Operation) {
		return fail(types.Errorf(types.ErrOperationUnsupported,
			"provider %s does not support %s", desc.ID, req.Operation))
	}

	// Cache consult short-circuits the whole pipeline; hits cost no credits.
	var cacheKey string
	if d.cache != nil {
		tenantKey := ""
		if desc.CachePerTenant {
			tenantKey = tenantID
		}
		cacheKey = cache.Key(desc.ID, req.Operation, req.Params, tenantKey)
		if hit, ok := d.cache.Get(ctx, cacheKey); ok {
			logger.Debug("cache hit")
			return finish(&types.Response{Success: true, Data: hit.Data}, 0)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, req.Options.Timeout())
	defer cancel()

	st := d.state(desc, tenantID)
	if err := st.sem.Acquire(ctx, 1); err != nil {
		return fail(types.NewError(types.ErrTimeout, "timed out waiting for a concurrency slot"))
	}
	defer st.sem.Release(1)

	retries := req.Options.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryMinDelay
	bo.MaxInterval = retryMaxDelay
	bo.Multiplier = retryMultiplier
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx)

	var resp *types.Response
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := st.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(types.NewError(types.ErrTimeout, "timed out waiting for a rate-limit token"))
		}

		r, err := p.Execute(ctx, req)
		if err != nil {
			ne := classify(err)
			logger.Warn("provider call failed", "attempt", attempt, "code", ne.Code, "error", ne.Message)
			if ne.Retryable() {
				return ne
			}
			return backoff.Permanent(ne)
		}

		// Async providers hand back an enrichment id; the poll sequence
		// counts as part of this attempt.
		if r.Async != nil {
			ap, ok := p.(providers.AsyncProvider)
			if !ok {
				return backoff.Permanent(types.Errorf(types.ErrInternal,
					"provider %s returned an async handle without polling support", desc.ID))
			}
			final, perr := await(ctx, ap, r.Async, logger)
			if perr != nil {
				if perr.Retryable() {
					return perr
				}
				return backoff.Permanent(perr)
			}
			resp = final
			return nil
		}

		resp = r
		return nil
	}, policy)
	if err != nil {
		return fail(classify(err))
	}

	resp.Success = true
	resp.Error = nil
	credits := p.CalculateCredits(req.Operation)
	out := finish(resp, credits)

	if d.cache != nil {
		d.cache.Put(context.WithoutCancel(ctx), cacheKey, out, cache.TTLFor(req.Operation))
	}
	return out
}

// classify folds an arbitrary failure into the normalized taxonomy without
// losing codes already assigned by a provider.
func classify(err error) *types.Error {
	var ne *types.Error
	if errors.As(err, &ne) {
		return ne
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrTimeout, "request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return types.NewError(types.ErrTimeout, "network timeout")
		}
		return types.Errorf(types.ErrProviderUnavailable, "network error: %v", err)
	}
	return types.Errorf(types.ErrInternal, "%v", err)
}

// statusFor maps a normalized outcome to a representative HTTP status for
// the api_usage analytics table.
func statusFor(resp *types.Response) int {
	if resp.Success {
		return 200
	}
	switch resp.Error.Code {
	case types.ErrAuth:
		return 401
	case types.ErrNotFound:
		return 404
	case types.ErrInvalidInput, types.ErrOperationUnsupported:
		return 400
	case types.ErrRateLimit:
		return 429
	case types.ErrQuota:
		return 402
	case types.ErrTimeout:
		return 408
	case types.ErrProviderUnavailable:
		return 503
	default:
		return 500
	}
}

func (d *Dispatcher) recordUsage(tenantID string, resp *types.Response) {
	if d.usage == nil {
		return
	}
	u := types.Usage{
		TenantID:       tenantID,
		ProviderID:     resp.Metadata.Provider,
		Endpoint:       string(resp.Metadata.Operation),
		StatusCode:     statusFor(resp),
		ResponseTimeMS: resp.Metadata.ResponseTimeMS,
		CreditsUsed:    resp.Metadata.CreditsUsed,
		TS:             time.Now().UTC(),
	}
	// Analytics are best-effort; a failed insert never fails a dispatch.
	if err := d.usage.RecordUsage(context.Background(), u); err != nil {
		d.logger.Warn("usage record failed", "provider_id", u.ProviderID, "error", err)
	}
}
