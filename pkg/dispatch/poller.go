package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/prospectly/server/pkg/providers"
	"github.com/prospectly/server/pkg/types"
)

// Polling schedule for async enrichments: 1 s initial, ×1.5 per attempt,
// capped at 5 s per sleep and 30 s overall.
const (
	pollInitialInterval = 1 * time.Second
	pollMultiplier      = 1.5
	pollMaxInterval     = 5 * time.Second
	pollMaxElapsed      = 30 * time.Second
)

// await drives an async enrichment to a terminal state. COMPLETED yields the
// payload, FAILED yields PROVIDER_UNAVAILABLE, and exhausting the schedule
// yields TIMEOUT. The caller treats the whole sequence as one dispatch
// attempt.
func await(ctx context.Context, p providers.AsyncProvider, handle *types.AsyncEnrichment, logger *slog.Logger) (*types.Response, *types.Error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = pollInitialInterval
	bo.Multiplier = pollMultiplier
	bo.MaxInterval = pollMaxInterval
	bo.MaxElapsedTime = pollMaxElapsed
	bo.RandomizationFactor = 0
	bo.Reset()

	cur := handle
	for attempt := 0; ; attempt++ {
		switch cur.Status {
		case types.EnrichmentCompleted:
			return &types.Response{Data: cur.Data}, nil
		case types.EnrichmentFailed:
			return nil, types.Errorf(types.ErrProviderUnavailable,
				"enrichment %s failed at the provider", cur.EnrichmentID)
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return nil, types.Errorf(types.ErrTimeout,
				"enrichment %s did not complete within %s", cur.EnrichmentID, pollMaxElapsed)
		}

		select {
		case <-ctx.Done():
			return nil, types.NewError(types.ErrTimeout, "request timed out while polling enrichment")
		case <-time.After(wait):
		}

		next, err := p.CheckEnrichment(ctx, cur.EnrichmentID)
		if err != nil {
			return nil, classify(err)
		}
		logger.Debug("enrichment polled",
			"enrichment_id", cur.EnrichmentID, "status", next.Status, "attempt", attempt+1)
		cur = next
	}
}
