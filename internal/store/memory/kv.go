// Package memory provides an in-memory KV implementation for development
// and testing.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/weomedia/compwatch/internal/store"
)

// KV is a mutex-guarded map. Values are copied on both write and read so
// callers can never mutate stored state in place.
type KV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New constructs an empty KV.
func New() *KV {
	return &KV{data: make(map[string][]byte)}
}

// Get returns the value for key or store.ErrNotFound.
func (s *KV) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put replaces the value for key atomically.
func (s *KV) Put(_ context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = cp
	return nil
}

// Delete removes key; deleting a missing key is not an error.
func (s *KV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// ListByPrefix returns matching entries in ascending key order.
func (s *KV) ListByPrefix(_ context.Context, prefix string) ([]store.Entry, error) {
	s.mu.RLock()
	keys := make([]string, 0)
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)

	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]store.Entry, 0, len(keys))
	for _, k := range keys {
		value, ok := s.data[k]
		if !ok {
			continue
		}
		cp := make([]byte, len(value))
		copy(cp, value)
		entries = append(entries, store.Entry{Key: k, Value: cp})
	}
	return entries, nil
}
