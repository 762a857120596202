package spool

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mapfold/listsync/internal/core"
)

// TestAppendsEventsAsJSONLines verifies one JSON line per event on disk.
func TestAppendsEventsAsJSONLines(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir(), Config{})
	require.NoError(t, err)

	ts := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.DeliverLocal(core.Event{Name: "app_opened", ClientTimestamp: ts}))
	require.NoError(t, s.DeliverLocal(core.Event{
		Name:            "list_imported",
		Payload:         map[string]any{"rows": 12},
		ClientTimestamp: ts,
	}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first core.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "app_opened", first.Name)
	require.Contains(t, lines[1], "list_imported")
}

// TestBufferSurvivesReopen verifies the spool appends across instances.
func TestBufferSurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, s.DeliverLocal(core.Event{Name: "first"}))

	reopened, err := New(dir, Config{})
	require.NoError(t, err)
	require.NoError(t, reopened.DeliverLocal(core.Event{Name: "second"}))

	data, err := os.ReadFile(reopened.Path())
	require.NoError(t, err)
	require.Contains(t, string(data), "first")
	require.Contains(t, string(data), "second")
}

// TestRotatesWhenExceedingCapacity verifies size-bounded rotation produces
// rotated files alongside a fresh active buffer.
func TestRotatesWhenExceedingCapacity(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir, Config{MaxBytes: 64, MaxFiles: 3})
	require.NoError(t, err)

	payload := map[string]any{"filler": strings.Repeat("x", 48)}
	for i := 0; i < 4; i++ {
		require.NoError(t, s.DeliverLocal(core.Event{Name: "big", Payload: payload}))
	}

	require.GreaterOrEqual(t, countRotations(t, dir), 1)
}

// TestPrunesOldestRotations verifies the total file count stays bounded.
func TestPrunesOldestRotations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir, Config{MaxBytes: 32, MaxFiles: 2})
	require.NoError(t, err)

	payload := map[string]any{"filler": strings.Repeat("y", 40)}
	for i := 0; i < 6; i++ {
		require.NoError(t, s.DeliverLocal(core.Event{Name: "big", Payload: payload}))
	}

	require.LessOrEqual(t, countRotations(t, dir), 1)
}

// TestSingleFileTruncatesInPlace verifies MaxFiles=1 never rotates.
func TestSingleFileTruncatesInPlace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir, Config{MaxBytes: 48, MaxFiles: 1})
	require.NoError(t, err)

	payload := map[string]any{"filler": strings.Repeat("z", 40)}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.DeliverLocal(core.Event{Name: "big", Payload: payload}))
	}

	require.Zero(t, countRotations(t, dir))
}

func countRotations(t *testing.T, dir string) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "telemetry-buffer-*.jsonl"))
	require.NoError(t, err)
	return len(matches)
}
