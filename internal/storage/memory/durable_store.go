package memory

import (
	"context"
	"sync"

	"jpyc-onchain-lab/internal/storage"
)

// DefaultQuotaBytes mirrors the typical browser local storage quota.
const DefaultQuotaBytes = 5 * 1024 * 1024

// DurableStore is an in-memory implementation of storage.DurableStore
// bounded by a byte quota over keys and values.
type DurableStore struct {
	mu    sync.RWMutex
	data  map[string][]byte
	used  int
	quota int
}

// NewDurableStore creates a store holding at most quota bytes.
// A non-positive quota uses DefaultQuotaBytes.
func NewDurableStore(quota int) *DurableStore {
	if quota <= 0 {
		quota = DefaultQuotaBytes
	}
	return &DurableStore{
		data:  make(map[string][]byte),
		quota: quota,
	}
}

// Get returns a copy of the value. Returns ErrNotFound if not exists.
func (s *DurableStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, exists := s.data[key]
	if !exists {
		return nil, storage.ErrNotFound
	}

	valueCopy := make([]byte, len(v))
	copy(valueCopy, v)
	return valueCopy, nil
}

// Set stores a copy of value. Returns ErrCapacityExceeded if the write
// would push usage over the quota.
func (s *DurableStore) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used
	if old, exists := s.data[key]; exists {
		used -= len(key) + len(old)
	}
	if used+len(key)+len(value) > s.quota {
		return storage.ErrCapacityExceeded
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	s.data[key] = valueCopy
	s.used = used + len(key) + len(value)
	return nil
}

// Delete removes key.
func (s *DurableStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.data[key]; exists {
		s.used -= len(key) + len(old)
		delete(s.data, key)
	}
	return nil
}

// Keys returns every stored key.
func (s *DurableStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys, nil
}

// Used returns the number of bytes currently stored.
func (s *DurableStore) Used() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

var _ storage.DurableStore = (*DurableStore)(nil)
