package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/storage"
)

// SnapshotHistoryStore is an in-memory implementation of storage.SnapshotHistoryStore.
type SnapshotHistoryStore struct {
	mu   sync.RWMutex
	data []*domain.SupplySnapshot // ordered by timestamp ASC
}

// NewSnapshotHistoryStore creates a new in-memory snapshot history store.
func NewSnapshotHistoryStore() *SnapshotHistoryStore {
	return &SnapshotHistoryStore{}
}

// Insert appends a snapshot, keeping timestamp order.
func (s *SnapshotHistoryStore) Insert(_ context.Context, snap *domain.SupplySnapshot) error {
	if snap == nil || snap.Timestamp <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapCopy := copySnapshot(snap)
	idx := sort.Search(len(s.data), func(i int) bool {
		return s.data[i].Timestamp > snap.Timestamp
	})
	s.data = append(s.data, nil)
	copy(s.data[idx+1:], s.data[idx:])
	s.data[idx] = snapCopy
	return nil
}

// GetByTimeRange retrieves snapshots within [start, end] (inclusive).
func (s *SnapshotHistoryStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.SupplySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SupplySnapshot
	for _, snap := range s.data {
		if snap.Timestamp >= start && snap.Timestamp <= end {
			result = append(result, copySnapshot(snap))
		}
	}
	return result, nil
}

// Latest returns the most recent snapshot. Returns ErrNotFound if empty.
func (s *SnapshotHistoryStore) Latest(_ context.Context) (*domain.SupplySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.data) == 0 {
		return nil, storage.ErrNotFound
	}
	return copySnapshot(s.data[len(s.data)-1]), nil
}

func copySnapshot(snap *domain.SupplySnapshot) *domain.SupplySnapshot {
	snapCopy := *snap
	snapCopy.TotalSupply = copyInt(snap.TotalSupply)
	snapCopy.CirculatingSupply = copyInt(snap.CirculatingSupply)
	snapCopy.BlacklistedSupply = copyInt(snap.BlacklistedSupply)
	if snap.HolderCount != nil {
		count := *snap.HolderCount
		snapCopy.HolderCount = &count
	}
	snapCopy.ChainSupply = make(map[domain.Chain]string, len(snap.ChainSupply))
	for k, v := range snap.ChainSupply {
		snapCopy.ChainSupply[k] = v
	}
	return &snapCopy
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

var _ storage.SnapshotHistoryStore = (*SnapshotHistoryStore)(nil)
