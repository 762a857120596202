package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapfold/listsync/internal/core"
)

// TestLocalDeliversInOrder verifies one-at-a-time, in-order delivery.
func TestLocalDeliversInOrder(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	tr := NewLocal(sink)

	batch := []core.Event{
		{Name: "first"},
		{Name: "second"},
		{Name: "third"},
	}
	require.NoError(t, tr.Deliver(context.Background(), batch))
	require.Equal(t, []string{"first", "second", "third"}, sink.names())
}

// TestLocalSingleFailureFailsWholeBatch verifies conservative whole-batch
// failure on any single delivery error.
func TestLocalSingleFailureFailsWholeBatch(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{failAt: 2}
	tr := NewLocal(sink)

	batch := []core.Event{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	err := tr.Deliver(context.Background(), batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"b"`)
}

// TestRemotePostsEnvelope verifies the batch wire contract: one request with
// {"batch":[{"event","properties","timestamp"}], "sent_at"} plus headers and
// the distinct id folded into properties.
func TestRemotePostsEnvelope(t *testing.T) {
	t.Parallel()

	var captured struct {
		body    []byte
		headers http.Header
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.body, _ = io.ReadAll(r.Body)
		captured.headers = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewRemote(core.TransportConfig{
		Endpoint:   srv.URL,
		Headers:    map[string]string{"X-Install": "abc123"},
		DistinctID: "install-42",
		APIKey:     "test-api-key",
	})

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	batch := []core.Event{
		{Name: "list_imported", Payload: map[string]any{"rows": 7}, ClientTimestamp: ts},
	}
	require.NoError(t, tr.Deliver(context.Background(), batch))

	require.Equal(t, "abc123", captured.headers.Get("X-Install"))
	require.Equal(t, "application/json", captured.headers.Get("Content-Type"))

	var env struct {
		APIKey string `json:"api_key"`
		SentAt string `json:"sent_at"`
		Batch  []struct {
			Event      string         `json:"event"`
			Properties map[string]any `json:"properties"`
			Timestamp  string         `json:"timestamp"`
		} `json:"batch"`
	}
	require.NoError(t, json.Unmarshal(captured.body, &env))
	require.Equal(t, "test-api-key", env.APIKey)
	require.NotEmpty(t, env.SentAt)
	require.Len(t, env.Batch, 1)
	assert.Equal(t, "list_imported", env.Batch[0].Event)
	assert.EqualValues(t, 7, env.Batch[0].Properties["rows"])
	assert.Equal(t, "install-42", env.Batch[0].Properties["distinct_id"])
	assert.Equal(t, "2026-08-01T12:00:00Z", env.Batch[0].Timestamp)
}

// TestRemoteNonSuccessIsFailure verifies a non-2xx response fails the batch.
func TestRemoteNonSuccessIsFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewRemote(core.TransportConfig{Endpoint: srv.URL})
	err := tr.Deliver(context.Background(), []core.Event{{Name: "evt"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

type recordingSink struct {
	events []core.Event
	failAt int // 1-based index of the delivery to fail; 0 never fails
}

func (s *recordingSink) DeliverLocal(evt core.Event) error {
	if s.failAt > 0 && len(s.events)+1 == s.failAt {
		return errors.New("sink write failed")
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *recordingSink) names() []string {
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Name
	}
	return out
}
