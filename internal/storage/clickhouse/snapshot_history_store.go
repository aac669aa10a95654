package clickhouse

import (
	"context"
	"fmt"
	"math/big"

	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/storage"
)

// SnapshotHistoryStore implements storage.SnapshotHistoryStore using ClickHouse.
// Supplies are stored as decimal strings.
type SnapshotHistoryStore struct {
	conn *Conn
}

// NewSnapshotHistoryStore creates a new SnapshotHistoryStore.
func NewSnapshotHistoryStore(conn *Conn) *SnapshotHistoryStore {
	return &SnapshotHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotHistoryStore = (*SnapshotHistoryStore)(nil)

// Insert appends a snapshot.
func (s *SnapshotHistoryStore) Insert(ctx context.Context, snap *domain.SupplySnapshot) error {
	if snap == nil || snap.Timestamp <= 0 {
		return storage.ErrInvalidInput
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO supply_snapshots (
			timestamp_ms, total_supply, circulating_supply, blacklisted_supply,
			holder_count, chain_supply
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	chainSupply := make(map[string]string, len(snap.ChainSupply))
	for chain, supply := range snap.ChainSupply {
		chainSupply[chain.String()] = supply
	}

	err = batch.Append(
		uint64(snap.Timestamp),
		intString(snap.TotalSupply),
		intString(snap.CirculatingSupply),
		intString(snap.BlacklistedSupply),
		snap.HolderCount,
		chainSupply,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves snapshots within [start, end] (inclusive), ordered by timestamp ASC.
func (s *SnapshotHistoryStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.SupplySnapshot, error) {
	query := `
		SELECT timestamp_ms, total_supply, circulating_supply, blacklisted_supply,
		       holder_count, chain_supply
		FROM supply_snapshots
		WHERE timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`
	return s.query(ctx, query, uint64(start), uint64(end))
}

// Latest returns the most recent snapshot. Returns ErrNotFound if empty.
func (s *SnapshotHistoryStore) Latest(ctx context.Context) (*domain.SupplySnapshot, error) {
	query := `
		SELECT timestamp_ms, total_supply, circulating_supply, blacklisted_supply,
		       holder_count, chain_supply
		FROM supply_snapshots
		ORDER BY timestamp_ms DESC
		LIMIT 1
	`
	result, err := s.query(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, storage.ErrNotFound
	}
	return result[0], nil
}

func (s *SnapshotHistoryStore) query(ctx context.Context, query string, args ...any) ([]*domain.SupplySnapshot, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query supply snapshots: %w", err)
	}
	defer rows.Close()

	var result []*domain.SupplySnapshot
	for rows.Next() {
		var (
			ts                       uint64
			total, circ, blacklisted string
			holderCount              *int64
			chainSupply              map[string]string
		)
		if err := rows.Scan(&ts, &total, &circ, &blacklisted, &holderCount, &chainSupply); err != nil {
			return nil, fmt.Errorf("scan supply snapshot: %w", err)
		}

		snap := &domain.SupplySnapshot{
			Timestamp:   int64(ts),
			HolderCount: holderCount,
			ChainSupply: make(map[domain.Chain]string, len(chainSupply)),
		}
		if snap.TotalSupply, err = parseInt(total); err != nil {
			return nil, err
		}
		if snap.CirculatingSupply, err = parseInt(circ); err != nil {
			return nil, err
		}
		if snap.BlacklistedSupply, err = parseInt(blacklisted); err != nil {
			return nil, err
		}
		for chain, supply := range chainSupply {
			snap.ChainSupply[domain.Chain(chain)] = supply
		}
		result = append(result, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate supply snapshots: %w", err)
	}
	return result, nil
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseInt(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parse stored integer %q", s)
	}
	return n, nil
}
