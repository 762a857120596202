package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mapfold/listsync/internal/core"
)

func TestFileSourceReadsPendingLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	body := `{"id":"rec-1","title":"First Place"}
{"id":"rec-2","title":"Second Place"}

{"id":"rec-3","title":"Third Place"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pending-a.jsonl"), []byte(body), 0o600))

	src := NewFileSource(dir)
	records, err := src.PendingRecords(context.Background(), core.PartitionA)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, Record{ID: "rec-1", Title: "First Place"}, records[0])
	require.Equal(t, Record{ID: "rec-3", Title: "Third Place"}, records[2])
}

func TestFileSourceMissingFileMeansEmpty(t *testing.T) {
	t.Parallel()

	src := NewFileSource(t.TempDir())
	records, err := src.PendingRecords(context.Background(), core.PartitionB)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestFileSourceRejectsMalformedLine(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "pending-a.jsonl"),
		[]byte("{\"id\":\"rec-1\"}\nnot json\n"),
		0o600,
	))

	src := NewFileSource(dir)
	_, err := src.PendingRecords(context.Background(), core.PartitionA)
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 2")
}

func TestStaticSourceCopiesRecords(t *testing.T) {
	t.Parallel()

	src := NewStaticSource()
	src.SetRecords(core.PartitionA, []Record{{ID: "rec-1", Title: "One"}})

	records, err := src.PendingRecords(context.Background(), core.PartitionA)
	require.NoError(t, err)
	require.Len(t, records, 1)

	records[0].Title = "mutated"
	again, err := src.PendingRecords(context.Background(), core.PartitionA)
	require.NoError(t, err)
	require.Equal(t, "One", again[0].Title)
}

func TestHTTPLookupStatusMapping(t *testing.T) {
	t.Parallel()

	var lastQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery = r.URL.RawQuery
		switch r.URL.Query().Get("id") {
		case "hit":
			w.WriteHeader(http.StatusOK)
		case "miss":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	lookup := NewHTTPLookupWithClient(srv.URL, srv.Client())

	resolved, err := lookup.Resolve(context.Background(), Record{ID: "hit", Title: "Cafe One"})
	require.NoError(t, err)
	require.True(t, resolved)
	require.Contains(t, lastQuery, "title=Cafe+One")

	resolved, err = lookup.Resolve(context.Background(), Record{ID: "miss"})
	require.NoError(t, err)
	require.False(t, resolved)

	_, err = lookup.Resolve(context.Background(), Record{ID: "boom"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status 502")
}
