// Package events publishes customer change notifications.
package events

import (
	"context"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
)

// Publisher is a direct, non-batching message publisher.
type Publisher interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	// Stop flushes any pending messages and accepts a context for timeout control.
	Stop(ctx context.Context) error
}

// GooglePublisher publishes to a Google Pub/Sub topic.
type GooglePublisher struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewGooglePublisher creates a publisher for topicID.
// It accepts a context to verify that the target topic exists before returning.
func NewGooglePublisher(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*GooglePublisher, error) {
	if client == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "pubsub client cannot be nil")
	}
	topic := client.Topic(topicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeNetwork, "failed to check for topic %s", topicID)
	}
	if !exists {
		return nil, errors.Newf(errors.CodeNotFound, "pubsub topic %s does not exist", topicID)
	}

	return &GooglePublisher{
		topic:  topic,
		logger: logger.With().Str("component", "GooglePublisher").Str("topic_id", topicID).Logger(),
	}, nil
}

// Publish queues a single message and returns immediately. The outcome of the
// publish is logged asynchronously.
func (p *GooglePublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})

	go func() {
		// A fresh context: the caller's request context is usually gone by now.
		getCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Msg("Failed to publish message")
			return
		}
		p.logger.Debug().Str("published_msg_id", msgID).Msg("Message sent successfully.")
	}()

	return nil
}

// Stop flushes any pending messages for the topic, respecting the context's timeout.
func (p *GooglePublisher) Stop(ctx context.Context) error {
	if p.topic == nil {
		return nil
	}

	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NopPublisher discards every message. It is used when events are disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, []byte, map[string]string) error { return nil }
func (NopPublisher) Stop(context.Context) error                              { return nil }

var (
	_ Publisher = (*GooglePublisher)(nil)
	_ Publisher = NopPublisher{}
)
