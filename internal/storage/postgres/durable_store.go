package postgres

import (
	"context"
	"fmt"

	"jpyc-onchain-lab/internal/storage"
)

// DurableStore implements storage.DurableStore on the cache_entries table.
type DurableStore struct {
	pool       *Pool
	maxEntries int
}

// DurableStoreOption configures DurableStore.
type DurableStoreOption func(*DurableStore)

// WithMaxEntries bounds the number of rows. Inserting a new key beyond the
// bound returns storage.ErrCapacityExceeded. Zero means unbounded.
func WithMaxEntries(n int) DurableStoreOption {
	return func(s *DurableStore) {
		s.maxEntries = n
	}
}

// NewDurableStore creates a new DurableStore.
func NewDurableStore(pool *Pool, opts ...DurableStoreOption) *DurableStore {
	s := &DurableStore{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compile-time interface check.
var _ storage.DurableStore = (*DurableStore)(nil)

// Get returns the value stored under key. Returns ErrNotFound if not exists.
func (s *DurableStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM cache_entries WHERE key = $1`

	var value []byte
	if err := s.pool.QueryRow(ctx, query, key).Scan(&value); err != nil {
		return nil, translate(err, "get cache entry")
	}
	return value, nil
}

// Set upserts value under key.
func (s *DurableStore) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	if s.maxEntries > 0 {
		full, err := s.isFullFor(ctx, key)
		if err != nil {
			return err
		}
		if full {
			return storage.ErrCapacityExceeded
		}
	}

	query := `
		INSERT INTO cache_entries (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`

	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return translate(err, "upsert cache entry")
	}
	return nil
}

// isFullFor reports whether inserting key would exceed maxEntries.
func (s *DurableStore) isFullFor(ctx context.Context, key string) (bool, error) {
	query := `
		SELECT count(*), bool_or(key = $1)
		FROM cache_entries
	`

	var count int
	var exists *bool
	if err := s.pool.QueryRow(ctx, query, key).Scan(&count, &exists); err != nil {
		return false, fmt.Errorf("count cache entries: %w", err)
	}
	if exists != nil && *exists {
		return false, nil
	}
	return count >= s.maxEntries, nil
}

// Delete removes key.
func (s *DurableStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Keys returns every stored key.
func (s *DurableStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan cache key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache keys: %w", err)
	}
	return keys, nil
}
