// Package saltstore provides durable stores for the telemetry hashing salt.
package saltstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File persists the salt in a single file under the data directory.
type File struct {
	path string
}

// NewFile constructs a File store, creating the parent directory if needed.
func NewFile(dataDir string) (*File, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &File{path: filepath.Join(dataDir, "telemetry-salt")}, nil
}

// Get reads the stored salt. A missing file is not an error; it returns "".
func (f *File) Get(context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read salt file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Set writes the salt with owner-only permissions.
func (f *File) Set(_ context.Context, salt string) error {
	if err := os.WriteFile(f.path, []byte(salt), 0o600); err != nil {
		return fmt.Errorf("write salt file: %w", err)
	}
	return nil
}

// Memory is an in-process store for tests and ephemeral setups.
type Memory struct {
	mu   sync.Mutex
	salt string
}

// NewMemory constructs a Memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Get returns the stored salt, or "" when unset.
func (m *Memory) Get(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.salt, nil
}

// Set stores the salt.
func (m *Memory) Set(_ context.Context, salt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.salt = salt
	return nil
}
