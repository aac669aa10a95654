package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/storage"
)

func snapshotAt(ts int64, total int64) *domain.SupplySnapshot {
	return &domain.SupplySnapshot{
		Timestamp:         ts,
		TotalSupply:       big.NewInt(total),
		CirculatingSupply: big.NewInt(total),
		BlacklistedSupply: big.NewInt(0),
		ChainSupply:       map[domain.Chain]string{domain.ChainEthereum: big.NewInt(total).String()},
	}
}

func TestSnapshotHistoryStore_InsertAndRange(t *testing.T) {
	store := NewSnapshotHistoryStore()
	ctx := context.Background()

	// Insert out of order
	for _, ts := range []int64{3000, 1000, 2000} {
		if err := store.Insert(ctx, snapshotAt(ts, ts*10)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	result, err := store.GetByTimeRange(ctx, 1000, 2000)
	if err != nil {
		t.Fatalf("GetByTimeRange failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(result))
	}
	if result[0].Timestamp != 1000 || result[1].Timestamp != 2000 {
		t.Errorf("Expected ascending order, got %d, %d", result[0].Timestamp, result[1].Timestamp)
	}

	latest, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Timestamp != 3000 {
		t.Errorf("Expected latest 3000, got %d", latest.Timestamp)
	}
	if latest.TotalSupply.Cmp(big.NewInt(30000)) != 0 {
		t.Errorf("Unexpected total supply %s", latest.TotalSupply)
	}
}

func TestSnapshotHistoryStore_ReturnsCopies(t *testing.T) {
	store := NewSnapshotHistoryStore()
	ctx := context.Background()

	snap := snapshotAt(1000, 5)
	if err := store.Insert(ctx, snap); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	snap.TotalSupply.SetInt64(99)

	latest, _ := store.Latest(ctx)
	if latest.TotalSupply.Int64() != 5 {
		t.Errorf("Stored snapshot was mutated by caller: %s", latest.TotalSupply)
	}
}

func TestSnapshotHistoryStore_EmptyAndInvalid(t *testing.T) {
	store := NewSnapshotHistoryStore()
	ctx := context.Background()

	if _, err := store.Latest(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := store.Insert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
