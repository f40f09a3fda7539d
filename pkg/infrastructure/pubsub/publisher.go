// Package pubsub publishes job lifecycle events as CloudEvents over Google
// Cloud Pub/Sub. Publishing is best-effort: subscribers get progress signals,
// but the job row in the database remains the source of truth.
package pubsub

import (
	"context"
	"log/slog"

	"cloud.google.com/go/pubsub"
)

// Publisher sends a payload to a topic and returns the broker message id.
type Publisher interface {
	Publish(ctx context.Context, topicID string, data []byte) (string, error)
}

// PubSubAdapter publishes via Google Cloud Pub/Sub.
type PubSubAdapter struct {
	Client *pubsub.Client
}

func (a *PubSubAdapter) Publish(ctx context.Context, topicID string, data []byte) (string, error) {
	topic := a.Client.Topic(topicID)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	return res.Get(ctx)
}

// LogPublisher is a mock publisher for local development.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p *LogPublisher) Publish(ctx context.Context, topicID string, data []byte) (string, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mock publish", "topic", topicID, "payload", string(data))
	return "mock-msg-id", nil
}
