package blob

import (
	"context"
	"sync"
)

// Memory is a process-local store for tests and throwaway deployments.
type Memory struct {
	mu     sync.RWMutex
	prefix urlPrefix
	objs   map[string][]byte
}

// NewMemory returns an empty in-memory store issuing URLs under baseURL.
func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "memory://images"
	}
	return &Memory{prefix: newURLPrefix(baseURL), objs: make(map[string][]byte)}
}

func (s *Memory) Driver() Driver { return DriverMemory }

func (s *Memory) Put(_ context.Context, data []byte, contentType string) (string, error) {
	key := newKey(contentType)
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objs[key] = buf
	s.mu.Unlock()
	return s.prefix.urlFor(key), nil
}

func (s *Memory) Delete(_ context.Context, url string) error {
	key, ok := s.prefix.keyOf(url)
	if !ok {
		return ErrForeignURL
	}
	s.mu.Lock()
	delete(s.objs, key)
	s.mu.Unlock()
	return nil
}

func (s *Memory) Owns(url string) bool {
	_, ok := s.prefix.keyOf(url)
	return ok
}

// Get returns a copy of the object behind url.
func (s *Memory) Get(url string) ([]byte, bool) {
	key, ok := s.prefix.keyOf(url)
	if !ok {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objs[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Len is the number of stored objects.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objs)
}
