package storage

import (
	"context"

	"jpyc-onchain-lab/internal/domain"
)

// DurableStore is a best-effort key/value tier behind the in-process cache.
// Values are opaque serialized entries.
type DurableStore interface {
	// Get returns the value stored under key. Returns ErrNotFound if not exists.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	// Returns ErrCapacityExceeded if the store is full.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns every stored key in unspecified order.
	Keys(ctx context.Context) ([]string, error)
}

// SnapshotHistoryStore provides access to supply_snapshots storage.
type SnapshotHistoryStore interface {
	// Insert appends a snapshot.
	Insert(ctx context.Context, s *domain.SupplySnapshot) error

	// GetByTimeRange retrieves snapshots within [start, end] (inclusive, ms), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.SupplySnapshot, error)

	// Latest returns the most recent snapshot. Returns ErrNotFound if empty.
	Latest(ctx context.Context) (*domain.SupplySnapshot, error)
}
