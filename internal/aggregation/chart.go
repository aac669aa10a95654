package aggregation

import (
	"math"
	"math/big"
	"sort"

	"jpyc-onchain-lab/internal/domain"
)

// DefaultChainColor is used for chains without an assigned color.
const DefaultChainColor = "#999999"

var chainColors = map[domain.Chain]string{
	domain.ChainEthereum:  "#627EEA",
	domain.ChainPolygon:   "#8247E5",
	domain.ChainAvalanche: "#E84142",
}

// ChainColor returns the display color of c.
func ChainColor(c domain.Chain) string {
	if color, ok := chainColors[c]; ok {
		return color
	}
	return DefaultChainColor
}

// ChainTotal is the tracked balance and holder count of one chain.
// Percentages are whole numbers and are only set by ChainPercentages.
type ChainTotal struct {
	Chain             domain.Chain `json:"chain"`
	TotalSupply       *big.Int     `json:"totalSupply"`
	HoldersCount      int          `json:"holdersCount"`
	SupplyPercentage  int          `json:"supplyPercentage"`
	HoldersPercentage int          `json:"holdersPercentage"`
}

// AggregateByChain sums positive holder balances per chain, in order of
// first appearance.
func AggregateByChain(holders []domain.HolderSnapshot) []ChainTotal {
	var out []ChainTotal
	index := make(map[domain.Chain]int)
	for _, h := range holders {
		if h.BalanceRaw == nil || h.BalanceRaw.Sign() <= 0 {
			continue
		}
		i, ok := index[h.Chain]
		if !ok {
			i = len(out)
			index[h.Chain] = i
			out = append(out, ChainTotal{Chain: h.Chain, TotalSupply: new(big.Int)})
		}
		out[i].TotalSupply.Add(out[i].TotalSupply, h.BalanceRaw)
		out[i].HoldersCount++
	}
	return out
}

// ChainPercentages fills each chain's share of supply and holders, rounded
// to the nearest whole percent. Rounded shares may not sum to exactly 100.
func ChainPercentages(totals []ChainTotal) []ChainTotal {
	supplySum := new(big.Int)
	holderSum := 0
	for _, t := range totals {
		if t.TotalSupply != nil {
			supplySum.Add(supplySum, t.TotalSupply)
		}
		holderSum += t.HoldersCount
	}

	out := make([]ChainTotal, len(totals))
	for i, t := range totals {
		out[i] = t
		out[i].SupplyPercentage = 0
		out[i].HoldersPercentage = 0
		if supplySum.Sign() > 0 && t.TotalSupply != nil {
			out[i].SupplyPercentage = roundPercent(new(big.Rat).SetFrac(t.TotalSupply, supplySum))
		}
		if holderSum > 0 {
			out[i].HoldersPercentage = roundPercent(big.NewRat(int64(t.HoldersCount), int64(holderSum)))
		}
	}
	return out
}

func roundPercent(ratio *big.Rat) int {
	f, _ := ratio.Float64()
	return int(math.Round(f * 100))
}

// ChartKind selects the measure plotted by ChartPoints.
type ChartKind string

const (
	ChartSupply  ChartKind = "supply"
	ChartHolders ChartKind = "holders"
)

// ChartPoint is one slice of a distribution chart.
type ChartPoint struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Percentage int     `json:"percentage"`
	Fill       string  `json:"fill"`
}

// ChartPoints converts chain totals to chart slices, largest first.
func ChartPoints(totals []ChainTotal, kind ChartKind) []ChartPoint {
	sorted := make([]ChainTotal, len(totals))
	copy(sorted, totals)
	sort.SliceStable(sorted, func(i, j int) bool {
		if kind == ChartHolders {
			return sorted[i].HoldersCount > sorted[j].HoldersCount
		}
		return bigOrZero(sorted[i].TotalSupply).Cmp(bigOrZero(sorted[j].TotalSupply)) > 0
	})

	out := make([]ChartPoint, len(sorted))
	for i, t := range sorted {
		p := ChartPoint{Name: t.Chain.String(), Fill: ChainColor(t.Chain)}
		if kind == ChartHolders {
			p.Value = float64(t.HoldersCount)
			p.Percentage = t.HoldersPercentage
		} else {
			p.Value, _ = new(big.Float).SetInt(bigOrZero(t.TotalSupply)).Float64()
			p.Percentage = t.SupplyPercentage
		}
		out[i] = p
	}
	return out
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
