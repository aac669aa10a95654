package reporting

import (
	"context"
	"errors"
	"math/big"
	"time"

	"jpyc-onchain-lab/internal/chain"
	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/storage"
)

const (
	DefaultTrendWindow = 7 * 24 * time.Hour
	fractionDigits     = 2
)

// ErrNoState is returned when Generate receives a state without data.
var ErrNoState = errors.New("no on-chain state to report")

// Generator produces reports from a snapshot and the stored history.
type Generator struct {
	history storage.SnapshotHistoryStore
	window  time.Duration
	now     func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator. A nil history omits the
// supply trend.
func NewGenerator(history storage.SnapshotHistoryStore) *Generator {
	return &Generator{
		history: history,
		window:  DefaultTrendWindow,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithTrendWindow sets how far back the supply trend looks.
func (g *Generator) WithTrendWindow(d time.Duration) *Generator {
	if d > 0 {
		g.window = d
	}
	return g
}

// Generate builds a report for state. price may be nil.
func (g *Generator) Generate(ctx context.Context, state *domain.OnChainState, price *domain.PriceData) (*Report, error) {
	if !state.HasData() {
		return nil, ErrNoState
	}

	r := &Report{
		GeneratedAt:    g.now(),
		FetchedAt:      state.FetchedAt,
		Supply:         summarize(state),
		Price:          price,
		DegradedChains: state.DegradedChains,
	}

	for _, d := range state.Distribution {
		r.Distribution = append(r.Distribution, DistributionRow{
			Chain:            d.Chain,
			Supply:           d.Supply,
			SupplyPercentage: d.SupplyPercentage,
			HolderCount:      d.HolderCount,
			HolderPercentage: d.HolderPercentage,
		})
	}

	for _, h := range state.Holders {
		r.Holders = append(r.Holders, HolderRow{
			Rank:       h.Rank,
			Chain:      h.Chain,
			Label:      h.Label,
			Address:    h.Address,
			Quantity:   h.Quantity,
			Percentage: h.Percentage,
		})
	}

	if g.history != nil {
		trend, err := g.trend(ctx, state.Decimals)
		if err != nil {
			return nil, err
		}
		r.Trend = trend
	}

	return r, nil
}

func summarize(s *domain.OnChainState) SupplySummary {
	sum := SupplySummary{
		Total:         chain.FormatTokenAmount(s.TotalSupplyRaw, s.Decimals, fractionDigits),
		TotalMillions: s.TotalSupplyMillions,
		Circulating:   chain.FormatTokenAmount(s.CirculatingSupply, s.Decimals, fractionDigits),
		Blacklisted:   chain.FormatTokenAmount(s.BlacklistedSupply, s.Decimals, fractionDigits),
		HoldersCount:  s.HoldersCount,
		HoldersChange: s.HoldersChange,
		Anomaly:       s.SupplyAnomaly,
	}
	if s.SupplyAnomaly && s.CirculatingSupplySigned != nil {
		sum.CirculatingUnclamped = chain.FormatTokenAmount(s.CirculatingSupplySigned, s.Decimals, fractionDigits)
	}
	return sum
}

// trend returns nil when the window holds fewer than two records.
func (g *Generator) trend(ctx context.Context, decimals int) (*SupplyTrend, error) {
	end := g.now()
	snaps, err := g.history.GetByTimeRange(ctx, end.Add(-g.window).UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, err
	}
	if len(snaps) < 2 {
		return nil, nil
	}

	first, last := snaps[0], snaps[len(snaps)-1]
	for _, s := range snaps {
		if s.Timestamp < first.Timestamp {
			first = s
		}
		if s.Timestamp > last.Timestamp {
			last = s
		}
	}

	change := new(big.Int).Sub(last.TotalSupply, first.TotalSupply)
	t := &SupplyTrend{
		Window:     g.window,
		Samples:    len(snaps),
		FirstAt:    time.UnixMilli(first.Timestamp).UTC(),
		LastAt:     time.UnixMilli(last.Timestamp).UTC(),
		FirstTotal: chain.FormatTokenAmount(first.TotalSupply, decimals, fractionDigits),
		LastTotal:  chain.FormatTokenAmount(last.TotalSupply, decimals, fractionDigits),
		Change:     chain.FormatTokenAmount(change, decimals, fractionDigits),
	}
	if first.TotalSupply.Sign() > 0 {
		t.ChangeRatio = chain.FormatPercentage(change, first.TotalSupply)
	}
	return t, nil
}
