// Package store provides the persistence backends for per-user selections.
package store

import (
	"context"
	"slices"
	"sync"
)

// Memory keeps selections in process memory. It is the default backend and
// what tests use.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]string)}
}

func (m *Memory) Get(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return slices.Clone(ids), nil
}

func (m *Memory) Set(_ context.Context, key string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = slices.Clone(ids)
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Close() error { return nil }
