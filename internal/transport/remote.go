package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mapfold/listsync/internal/core"
)

const defaultRequestTimeout = 10 * time.Second

// Remote serializes a whole batch into one envelope and performs one HTTP
// POST per flush. A non-2xx response fails the whole batch.
type Remote struct {
	cfg    core.TransportConfig
	client *http.Client
}

// NewRemote constructs a Remote transport for the given upload config.
func NewRemote(cfg core.TransportConfig) *Remote {
	return &Remote{
		cfg:    cfg,
		client: &http.Client{Timeout: defaultRequestTimeout},
	}
}

// NewRemoteWithClient injects an HTTP client (primarily for testing).
func NewRemoteWithClient(cfg core.TransportConfig, client *http.Client) *Remote {
	return &Remote{cfg: cfg, client: client}
}

// envelopeItem is the per-event wire shape consumed by the ingest endpoint.
type envelopeItem struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
	Timestamp  time.Time      `json:"timestamp"`
}

// envelope is the batch wire contract: {"batch": [...], "sent_at": ...}.
type envelope struct {
	APIKey string         `json:"api_key,omitempty"`
	Batch  []envelopeItem `json:"batch"`
	SentAt time.Time      `json:"sent_at"`
}

// Deliver posts the batch envelope to the configured endpoint.
func (r *Remote) Deliver(ctx context.Context, batch []core.Event) error {
	items := make([]envelopeItem, len(batch))
	for i, evt := range batch {
		props := make(map[string]any, len(evt.Payload)+1)
		for k, v := range evt.Payload {
			props[k] = v
		}
		if r.cfg.DistinctID != "" {
			props["distinct_id"] = r.cfg.DistinctID
		}
		items[i] = envelopeItem{
			Event:      evt.Name,
			Properties: props,
			Timestamp:  evt.ClientTimestamp,
		}
	}
	body, err := json.Marshal(envelope{
		APIKey: r.cfg.APIKey,
		Batch:  items,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ingest endpoint returned %s", resp.Status)
	}
	return nil
}
