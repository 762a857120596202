package resolver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mapfold/listsync/internal/core"
)

// FileSource reads pending records from per-partition JSON-lines files in a
// data directory, one record per line. A missing file means the partition has
// nothing pending.
type FileSource struct {
	dir string
}

var _ RecordSource = (*FileSource)(nil)

// NewFileSource creates a FileSource rooted at dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

// PendingRecords loads the partition's pending file. Malformed lines fail the
// load; a partial refresh over a corrupt file would misreport totals.
func (s *FileSource) PendingRecords(ctx context.Context, partition core.Partition) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load pending records: %w", err)
	}
	name := fmt.Sprintf("pending-%s.jsonl", strings.ToLower(string(partition)))
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open pending records: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("parse pending record line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read pending records: %w", err)
	}
	return records, nil
}

// StaticSource serves a fixed in-memory record set per partition. Useful for
// embedding callers that already hold their pending rows.
type StaticSource struct {
	mu      sync.RWMutex
	records map[core.Partition][]Record
}

var _ RecordSource = (*StaticSource)(nil)

// NewStaticSource creates an empty StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{records: make(map[core.Partition][]Record)}
}

// SetRecords replaces the pending set for a partition.
func (s *StaticSource) SetRecords(partition core.Partition, records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Record, len(records))
	copy(cp, records)
	s.records[partition] = cp
}

// PendingRecords returns a copy of the partition's pending set.
func (s *StaticSource) PendingRecords(_ context.Context, partition core.Partition) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.records[partition]
	out := make([]Record, len(src))
	copy(out, src)
	return out, nil
}
