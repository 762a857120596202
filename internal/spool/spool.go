// Package spool persists telemetry events to a rotating JSONL buffer on
// disk. It is the trusted local sink behind the local transport:
// events land here when no remote endpoint is configured, and a separate
// uploader (outside this core) drains the files.
package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mapfold/listsync/internal/core"
)

const (
	bufferName = "telemetry-buffer"
	bufferExt  = ".jsonl"

	defaultMaxBytes = 5 * 1024 * 1024
	defaultMaxFiles = 5
)

// Config bounds the on-disk footprint.
//   - MaxBytes: rotate the active file before it would exceed this size
//     (default 5 MiB).
//   - MaxFiles: total file count including the active one (default 5);
//     1 means truncate in place instead of rotating.
type Config struct {
	MaxBytes int64
	MaxFiles int
	Logger   *zap.Logger
}

// Spool appends one JSON line per event to the active buffer file.
type Spool struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	maxFiles int
	logger   *zap.Logger
}

var _ core.LocalSink = (*Spool)(nil)

// New creates the data directory and the active buffer file if missing.
func New(dataDir string, cfg Config) (*Spool, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = defaultMaxFiles
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, bufferName+bufferExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open buffer file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close buffer file: %w", err)
	}
	return &Spool{
		path:     path,
		maxBytes: cfg.MaxBytes,
		maxFiles: cfg.MaxFiles,
		logger:   logger,
	}, nil
}

// DeliverLocal appends one event as a JSON line, rotating first if the write
// would push the active file past its size bound.
func (s *Spool) DeliverLocal(evt core.Event) error {
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rotateIfNeeded(int64(len(line) + 1)); err != nil {
		return err
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open buffer file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Path returns the active buffer file path.
func (s *Spool) Path() string {
	return s.path
}

func (s *Spool) rotateIfNeeded(incoming int64) error {
	var current int64
	if info, err := os.Stat(s.path); err == nil {
		current = info.Size()
	}
	if current+incoming <= s.maxBytes {
		return nil
	}

	if s.maxFiles <= 1 {
		if err := os.Truncate(s.path, 0); err != nil {
			return fmt.Errorf("truncate buffer file: %w", err)
		}
		return nil
	}

	rotated := filepath.Join(
		filepath.Dir(s.path),
		fmt.Sprintf("%s-%s%s", bufferName, time.Now().UTC().Format("20060102150405.000000000"), bufferExt),
	)
	if _, err := os.Stat(s.path); err == nil {
		if err := os.Rename(s.path, rotated); err != nil {
			return fmt.Errorf("rotate buffer file: %w", err)
		}
	}
	s.pruneRotations()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("recreate buffer file: %w", err)
	}
	return f.Close()
}

// pruneRotations removes the oldest rotated files beyond maxFiles-1. Removal
// failures only get logged; losing old telemetry is preferable to blocking
// new writes.
func (s *Spool) pruneRotations() {
	dir := filepath.Dir(s.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn("list rotations failed", zap.Error(err))
		return
	}

	type rotation struct {
		path    string
		modTime time.Time
	}
	var rotations []rotation
	prefix := bufferName + "-"
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, bufferExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		rotations = append(rotations, rotation{
			path:    filepath.Join(dir, name),
			modTime: info.ModTime(),
		})
	}

	allowed := s.maxFiles - 1
	if len(rotations) <= allowed {
		return
	}
	sort.Slice(rotations, func(i, j int) bool {
		return rotations[i].modTime.Before(rotations[j].modTime)
	})
	for _, old := range rotations[:len(rotations)-allowed] {
		if err := os.Remove(old.path); err != nil {
			s.logger.Warn("prune rotation failed", zap.String("path", old.path), zap.Error(err))
		}
	}
}
