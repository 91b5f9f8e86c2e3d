package storage

import (
	"bytes"
	"context"
	"sync"
)

// memoryStorage keeps blobs in process memory. Used for development runs.
type memoryStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory returns an empty in-memory Storage.
func NewMemory() Storage {
	return &memoryStorage{blobs: make(map[string][]byte)}
}

func (m *memoryStorage) Upload(_ context.Context, id, container string, data []byte) (string, error) {
	key := ObjectKey(id, container)
	m.mu.Lock()
	m.blobs[key] = bytes.Clone(data)
	m.mu.Unlock()
	return "mem://" + key, nil
}

func (m *memoryStorage) Read(_ context.Context, id, container string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[ObjectKey(id, container)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (m *memoryStorage) Delete(_ context.Context, id, container string) (bool, error) {
	key := ObjectKey(id, container)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[key]; !ok {
		return false, nil
	}
	delete(m.blobs, key)
	return true, nil
}
