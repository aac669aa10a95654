package domain

import (
	"math/big"
	"time"
)

// HolderSnapshot is one tracked holder's balance at fetch time.
// Percentage is relative to the total supply of the same fetch cycle.
type HolderSnapshot struct {
	Address    string   `json:"address"`
	Label      string   `json:"label,omitempty"`
	Chain      Chain    `json:"chain"`
	BalanceRaw *big.Int `json:"balanceRaw"`
	Quantity   string   `json:"quantity"`
	Percentage string   `json:"percentage"`
	Rank       int      `json:"rank,omitempty"`
}

// ChainShare is one chain's slice of the supply and holder distribution.
type ChainShare struct {
	Chain            Chain    `json:"chain"`
	SupplyRaw        *big.Int `json:"supplyRaw"`
	Supply           string   `json:"supply"`
	SupplyPercentage string   `json:"supplyPercentage"`
	HolderCount      *int64   `json:"holderCount,omitempty"`
	HolderPercentage string   `json:"holderPercentage,omitempty"`
}

// OnChainState is the aggregate snapshot exposed to consumers.
//
// CirculatingSupply is TotalSupplyRaw minus BlacklistedSupply clamped to zero.
// CirculatingSupplySigned keeps the pre-clamp value and SupplyAnomaly is set
// when the blacklist sum exceeded the total.
type OnChainState struct {
	IsLoading               bool             `json:"isLoading"`
	IsStale                 bool             `json:"isStale"`
	Error                   string           `json:"error,omitempty"`
	// TotalSupplyRaw is the gross sum of per-chain raw supply. It is not net
	// of the blacklist; see CirculatingSupply.
	TotalSupplyRaw          *big.Int         `json:"totalSupplyRaw,omitempty"`
	TotalSupplyFormatted    string           `json:"totalSupplyFormatted,omitempty"`
	TotalSupplyMillions     string           `json:"totalSupplyMillions,omitempty"`
	Decimals                int              `json:"decimals,omitempty"`
	Holders                 []HolderSnapshot `json:"holders"`
	HoldersCount            *int64           `json:"holdersCount,omitempty"`
	HoldersChange           *int64           `json:"holdersChange,omitempty"`
	Distribution            []ChainShare     `json:"distribution,omitempty"`
	BlacklistedSupply       *big.Int         `json:"blacklistedSupply,omitempty"`
	CirculatingSupply       *big.Int         `json:"circulatingSupply,omitempty"`
	CirculatingSupplySigned *big.Int         `json:"circulatingSupplySigned,omitempty"`
	SupplyAnomaly           bool             `json:"supplyAnomaly,omitempty"`
	DegradedChains          []Chain          `json:"degradedChains,omitempty"`
	FetchedAt               time.Time        `json:"fetchedAt"`
}

// HasData reports whether the state carries a completed fetch.
func (s *OnChainState) HasData() bool {
	return s != nil && s.TotalSupplyRaw != nil
}

// SupplySnapshot is one historical record of a fresh fetch.
// Corresponds to supply_snapshots table in ClickHouse.
type SupplySnapshot struct {
	Timestamp         int64            // Unix timestamp in milliseconds
	TotalSupply       *big.Int         // raw units
	CirculatingSupply *big.Int         // raw units
	BlacklistedSupply *big.Int         // raw units
	HolderCount       *int64           // nullable
	ChainSupply       map[Chain]string // chain -> raw supply decimal string
}

// NewSupplySnapshot builds a history record from a fresh state.
func NewSupplySnapshot(s *OnChainState) *SupplySnapshot {
	snap := &SupplySnapshot{
		Timestamp:         s.FetchedAt.UnixMilli(),
		TotalSupply:       orZero(s.TotalSupplyRaw),
		CirculatingSupply: orZero(s.CirculatingSupply),
		BlacklistedSupply: orZero(s.BlacklistedSupply),
		HolderCount:       s.HoldersCount,
		ChainSupply:       make(map[Chain]string, len(s.Distribution)),
	}
	for _, share := range s.Distribution {
		snap.ChainSupply[share.Chain] = orZero(share.SupplyRaw).String()
	}
	return snap
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
