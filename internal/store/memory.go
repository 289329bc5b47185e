package store

import (
	"context"
	"sync"
)

// Memory keeps values in a process-local map. Contents are lost on restart.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string, def []byte) ([]byte, error) {
	m.mu.RLock()
	v, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return def, nil
	}
	// copy so callers can't mutate what other readers see
	return cloneBytes(v), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	v := cloneBytes(value)
	m.mu.Lock()
	m.entries[key] = v
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }
