package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// MemoryStore holds payloads in process memory. Used in tests and as the
// fallback when no object store is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, id string, r io.Reader, length int64, _ string) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read payload %s: %w", id, err)
	}
	if length >= 0 && int64(len(data)) != length {
		return 0, fmt.Errorf("payload %s: declared %d bytes, read %d", id, length, len(data))
	}
	s.mu.Lock()
	s.objects[id] = data
	s.mu.Unlock()
	return int64(len(data)), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (io.ReadCloser, int64, error) {
	s.mu.RLock()
	data, ok := s.objects[id]
	s.mu.RUnlock()
	if !ok {
		return nil, 0, fmt.Errorf("payload %s not found", id)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.objects, id)
	s.mu.Unlock()
	return nil
}
