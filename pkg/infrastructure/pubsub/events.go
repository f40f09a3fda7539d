package pubsub

import (
	"context"
	"log/slog"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/prospectly/server/pkg/types"
)

// Event type URNs carried in the CloudEvent "type" attribute.
const (
	EventTypeJobProgress  = "com.prospectly.enrichment.job.progress.v1"
	EventTypeJobCompleted = "com.prospectly.enrichment.job.completed.v1"
	EventTypeJobFailed    = "com.prospectly.enrichment.job.failed.v1"

	eventSource = "urn:prospectly:enrichment-core"

	// TopicJobEvents is the default topic for job lifecycle events.
	TopicJobEvents = "enrichment-job-events"
)

// NewCloudEvent creates a standardized CloudEvent v1.0.
func NewCloudEvent(source, eventType string, data interface{}) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetSpecVersion("1.0")
	e.SetType(eventType)
	e.SetSource(source)

	if err := e.SetData(cloudevents.ApplicationJSON, data); err != nil {
		return e, err
	}

	return e, nil
}

// Emitter publishes job lifecycle CloudEvents. A nil Emitter is a no-op,
// so callers never branch on whether publishing is enabled.
type Emitter struct {
	pub    Publisher
	topic  string
	logger *slog.Logger
}

// NewEmitter wraps pub. An empty topic falls back to TopicJobEvents.
// Returns nil when pub is nil.
func NewEmitter(pub Publisher, topic string, logger *slog.Logger) *Emitter {
	if pub == nil {
		return nil
	}
	if topic == "" {
		topic = TopicJobEvents
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{pub: pub, topic: topic, logger: logger.With("component", "emitter")}
}

// EmitProgress publishes one progress snapshot. Failures are logged, never
// returned: event delivery must not affect job processing.
func (e *Emitter) EmitProgress(ctx context.Context, p types.Progress) {
	if e == nil {
		return
	}
	eventType := EventTypeJobProgress
	switch p.Status {
	case types.JobCompleted:
		eventType = EventTypeJobCompleted
	case types.JobFailed:
		eventType = EventTypeJobFailed
	}

	ev, err := NewCloudEvent(eventSource, eventType, p)
	if err != nil {
		e.logger.Warn("build cloud event failed", "job_id", p.JobID, "error", err)
		return
	}
	payload, err := ev.MarshalJSON()
	if err != nil {
		e.logger.Warn("encode cloud event failed", "job_id", p.JobID, "error", err)
		return
	}
	if _, err := e.pub.Publish(ctx, e.topic, payload); err != nil {
		e.logger.Warn("publish job event failed", "job_id", p.JobID, "error", err)
	}
}
