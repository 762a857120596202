// Package pubsub implements a Google Cloud Pub/Sub telemetry transport.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/mapfold/listsync/internal/core"
)

// Transport publishes each batch as one JSON message on a Pub/Sub topic.
type Transport struct {
	publisher *pubsub.Publisher
}

// New creates a Transport for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Transport {
	return &Transport{publisher: publisher}
}

// Deliver marshals the batch to JSON and publishes it. Publish failure fails
// the whole batch; the batcher retries on a later flush.
func (t *Transport) Deliver(ctx context.Context, batch []core.Event) error {
	if t.publisher == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(map[string]any{
		"batch":   batch,
		"sent_at": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"events": fmt.Sprintf("%d", len(batch))},
	}
	result := t.publisher.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish batch: %w", err)
	}
	return nil
}
