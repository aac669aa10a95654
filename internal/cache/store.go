// Package cache provides a TTL and LRU bounded key/value store with an
// authoritative in-process tier and an optional best-effort durable tier.
package cache

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"jpyc-onchain-lab/internal/observability"
	"jpyc-onchain-lab/internal/serializer"
	"jpyc-onchain-lab/internal/storage"
)

const (
	// DefaultTTL is used when Set is called with a non-positive ttl.
	DefaultTTL = 30 * time.Minute

	// EntryVersion tags every entry written by this package. ClearAll only
	// removes durable entries carrying it.
	EntryVersion = "v1.0.0"
)

// Entry is the stored form of a cached value.
type Entry[T any] struct {
	Payload      T         `json:"data"`
	Expiry       time.Time `json:"expiry"`
	LastAccessed time.Time `json:"lastAccessed"`
	Version      string    `json:"version"`
}

func (e *Entry[T]) valid(now time.Time) bool {
	return now.Before(e.Expiry)
}

// entryMeta is decoded when scanning durable entries without their payload type.
type entryMeta struct {
	Expiry       time.Time `json:"expiry"`
	LastAccessed time.Time `json:"lastAccessed"`
	Version      string    `json:"version"`
}

// Options configures a Store.
type Options struct {
	// Durable is the secondary tier. Nil runs memory-only.
	Durable storage.DurableStore

	// DefaultTTL applies when Set receives ttl <= 0. Zero uses DefaultTTL.
	DefaultTTL time.Duration

	Codec  *serializer.Codec
	Now    func() time.Time
	Logger *log.Logger
}

// Store is a dual-tier cache for values of type T.
type Store[T any] struct {
	mu         sync.Mutex
	memory     map[string]*Entry[T]
	durable    storage.DurableStore
	durableOn  bool
	defaultTTL time.Duration
	codec      *serializer.Codec
	now        func() time.Time
	logger     *log.Logger
}

// New creates a Store.
func New[T any](opts Options) *Store[T] {
	s := &Store[T]{
		memory:     make(map[string]*Entry[T]),
		durable:    opts.Durable,
		durableOn:  opts.Durable != nil,
		defaultTTL: opts.DefaultTTL,
		codec:      opts.Codec,
		now:        opts.Now,
		logger:     opts.Logger,
	}
	if s.defaultTTL <= 0 {
		s.defaultTTL = DefaultTTL
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.codec == nil {
		s.codec = serializer.New(s.logger)
	}
	if s.now == nil {
		s.now = time.Now
	}
	observability.SetDurableEnabled(s.durableOn)
	return s
}

// Set stores value under key in both tiers. ttl <= 0 uses the default TTL.
func (s *Store[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.now()
	entry := &Entry[T]{
		Payload:      value,
		Expiry:       now.Add(ttl),
		LastAccessed: now,
		Version:      EntryVersion,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.memory[key] = entry
	s.persist(ctx, key, entry)
}

// persist writes entry to the durable tier. On a capacity error it evicts
// the least recently accessed other key and retries once; a second failure
// disables the durable tier for the lifetime of the store.
func (s *Store[T]) persist(ctx context.Context, key string, entry *Entry[T]) {
	if !s.durableOn {
		return
	}
	data, err := s.codec.Serialize(entry)
	if err != nil {
		s.logger.Printf("cache: serialize %q: %v", key, err)
		return
	}

	err = s.durable.Set(ctx, key, data)
	if err == nil {
		return
	}
	if !errors.Is(err, storage.ErrCapacityExceeded) {
		s.logger.Printf("cache: durable write %q: %v", key, err)
		return
	}

	removed, ok := s.removeOldest(ctx, key)
	if !ok {
		s.disableDurable(key, err)
		return
	}
	s.logger.Printf("cache: durable tier full, evicted %q", removed)

	if err := s.durable.Set(ctx, key, data); err != nil {
		s.disableDurable(key, err)
	}
}

func (s *Store[T]) disableDurable(key string, err error) {
	s.logger.Printf("cache: durable write %q failed after cleanup, continuing memory-only: %v", key, err)
	s.durableOn = false
	observability.SetDurableEnabled(false)
}

// Get returns the value stored under key if it has not expired.
func (s *Store[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.memory[key]; ok {
		if entry.valid(now) {
			entry.LastAccessed = now
			s.touchDurable(ctx, key, entry)
			observability.RecordCacheHit("memory")
			return entry.Payload, true
		}
		delete(s.memory, key)
	}

	if !s.durableOn {
		observability.RecordCacheMiss()
		return zero, false
	}

	data, err := s.durable.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Printf("cache: durable read %q: %v", key, err)
		}
		observability.RecordCacheMiss()
		return zero, false
	}

	var entry Entry[T]
	if err := s.codec.DeserializeInto(data, &entry); err != nil {
		s.logger.Printf("cache: decode %q: %v", key, err)
		observability.RecordCacheMiss()
		return zero, false
	}
	if !entry.valid(now) {
		s.deleteDurable(ctx, key)
		observability.RecordCacheMiss()
		return zero, false
	}

	entry.LastAccessed = now
	s.memory[key] = &entry
	s.touchDurable(ctx, key, &entry)
	observability.RecordCacheHit("durable")
	return entry.Payload, true
}

// touchDurable rewrites the durable copy with a refreshed access time.
func (s *Store[T]) touchDurable(ctx context.Context, key string, entry *Entry[T]) {
	if !s.durableOn {
		return
	}
	data, err := s.codec.Serialize(entry)
	if err != nil {
		s.logger.Printf("cache: serialize %q: %v", key, err)
		return
	}
	if err := s.durable.Set(ctx, key, data); err != nil {
		s.logger.Printf("cache: update lastAccessed %q: %v", key, err)
	}
}

// IsValid reports whether key holds an unexpired value in either tier.
func (s *Store[T]) IsValid(ctx context.Context, key string) bool {
	_, ok := s.Get(ctx, key)
	return ok
}

// Clear removes key from both tiers.
func (s *Store[T]) Clear(ctx context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear(ctx, key)
}

func (s *Store[T]) clear(ctx context.Context, key string) {
	delete(s.memory, key)
	s.deleteDurable(ctx, key)
}

func (s *Store[T]) deleteDurable(ctx context.Context, key string) {
	if !s.durableOn {
		return
	}
	if err := s.durable.Delete(ctx, key); err != nil {
		s.logger.Printf("cache: durable delete %q: %v", key, err)
	}
}

// ClearAll removes every memory entry and every durable entry tagged with
// EntryVersion. Durable entries from other versions are left alone.
func (s *Store[T]) ClearAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memory = make(map[string]*Entry[T])
	if !s.durableOn {
		return
	}

	keys, err := s.durable.Keys(ctx)
	if err != nil {
		s.logger.Printf("cache: list durable keys: %v", err)
		return
	}
	for _, key := range keys {
		meta, ok := s.readMeta(ctx, key)
		if ok && meta.Version == EntryVersion {
			s.deleteDurable(ctx, key)
		}
	}
}

// RemoveOldest evicts the entry with the smallest last access time across
// both tiers and returns its key. Returns false if the cache is empty.
func (s *Store[T]) RemoveOldest(ctx context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeOldest(ctx, "")
}

func (s *Store[T]) removeOldest(ctx context.Context, exclude string) (string, bool) {
	var (
		oldestKey  string
		oldestTime time.Time
		found      bool
	)
	consider := func(key string, at time.Time) {
		if key == exclude {
			return
		}
		if !found || at.Before(oldestTime) {
			oldestKey, oldestTime, found = key, at, true
		}
	}

	for key, entry := range s.memory {
		consider(key, entry.LastAccessed)
	}

	if s.durableOn {
		keys, err := s.durable.Keys(ctx)
		if err != nil {
			s.logger.Printf("cache: list durable keys: %v", err)
		}
		for _, key := range keys {
			if _, inMemory := s.memory[key]; inMemory {
				continue
			}
			meta, ok := s.readMeta(ctx, key)
			if ok && meta.Version == EntryVersion {
				consider(key, meta.LastAccessed)
			}
		}
	}

	if !found {
		return "", false
	}
	s.clear(ctx, oldestKey)
	observability.RecordCacheEviction()
	return oldestKey, true
}

func (s *Store[T]) readMeta(ctx context.Context, key string) (entryMeta, bool) {
	data, err := s.durable.Get(ctx, key)
	if err != nil {
		return entryMeta{}, false
	}
	var meta entryMeta
	if err := s.codec.DeserializeInto(data, &meta); err != nil {
		return entryMeta{}, false
	}
	return meta, true
}

// Size returns the number of entries held in memory.
func (s *Store[T]) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memory)
}

// DurableEnabled reports whether the durable tier is still in use.
func (s *Store[T]) DurableEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durableOn
}
