// Package reporting renders on-chain snapshots as Markdown and CSV.
package reporting

import (
	"time"

	"jpyc-onchain-lab/internal/domain"
)

// Report is a point-in-time summary of the token across chains.
type Report struct {
	GeneratedAt time.Time
	FetchedAt   time.Time

	Supply       SupplySummary
	Distribution []DistributionRow
	Holders      []HolderRow
	Price        *domain.PriceData
	Trend        *SupplyTrend

	DegradedChains []domain.Chain
}

// SupplySummary holds formatted supply figures.
type SupplySummary struct {
	Total                string
	TotalMillions        string
	Circulating          string
	Blacklisted          string
	HoldersCount         *int64
	HoldersChange        *int64
	Anomaly              bool
	CirculatingUnclamped string
}

// DistributionRow is one chain's share.
type DistributionRow struct {
	Chain            domain.Chain
	Supply           string
	SupplyPercentage string
	HolderCount      *int64
	HolderPercentage string
}

// HolderRow is one tracked holder.
type HolderRow struct {
	Rank       int
	Chain      domain.Chain
	Label      string
	Address    string
	Quantity   string
	Percentage string
}

// SupplyTrend compares the oldest and newest history records in a window.
type SupplyTrend struct {
	Window      time.Duration
	Samples     int
	FirstAt     time.Time
	LastAt      time.Time
	FirstTotal  string
	LastTotal   string
	Change      string
	ChangeRatio string // percent of FirstTotal
}
