package settings

import (
	"encoding/json"
	"sync"
)

// Memory is an in-memory Store. Used for ephemeral engine runs and tests.
type Memory struct {
	mu sync.Mutex
	m  map[string]json.RawMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{m: map[string]json.RawMessage{}}
}

// Get implements Store.
func (s *Memory) Get(key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.m[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

// Set implements Store.
func (s *Memory) Set(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.m[key] = raw
	return nil
}

// Remove implements Store.
func (s *Memory) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}
