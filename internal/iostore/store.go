// Package iostore persists the validated input and output objects of task
// instances at the locations their IO contract declares.
package iostore

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by Read when nothing is stored at a location.
var ErrNotFound = errors.New("io object not found")

// ErrInvalidPath is returned for a relative location that leaves the store root.
var ErrInvalidPath = errors.New("io path escapes the store root")

// Store reads and writes task IO objects by location.
type Store interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
}

// MemoryStore keeps IO objects in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Write stores a copy of data at path.
func (m *MemoryStore) Write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = append([]byte(nil), data...)
	return nil
}

// Read returns a copy of the data stored at path.
func (m *MemoryStore) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Paths returns every stored location in sorted order.
func (m *MemoryStore) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Discard is a Store that drops writes and never has anything to read.
type Discard struct{}

// Write is a no-op.
func (Discard) Write(ctx context.Context, path string, data []byte) error {
	return nil
}

// Read always returns ErrNotFound.
func (Discard) Read(ctx context.Context, path string) ([]byte, error) {
	return nil, ErrNotFound
}
