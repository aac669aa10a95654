package api

import (
	"encoding/json"
	"math/big"
	"time"

	"jpyc-onchain-lab/internal/aggregation"
	"jpyc-onchain-lab/internal/coingecko"
	"jpyc-onchain-lab/internal/domain"
	"jpyc-onchain-lab/internal/onchain"
)

// Raw token amounts exceed float64 precision, so every *big.Int leaves the
// API as a decimal string.

type holderJSON struct {
	Address    string `json:"address"`
	Label      string `json:"label,omitempty"`
	Chain      string `json:"chain"`
	BalanceRaw string `json:"balanceRaw"`
	Quantity   string `json:"quantity"`
	Percentage string `json:"percentage"`
	Rank       int    `json:"rank,omitempty"`
}

type chainShareJSON struct {
	Chain            string `json:"chain"`
	SupplyRaw        string `json:"supplyRaw"`
	Supply           string `json:"supply"`
	SupplyPercentage string `json:"supplyPercentage"`
	HolderCount      *int64 `json:"holderCount,omitempty"`
	HolderPercentage string `json:"holderPercentage,omitempty"`
	Color            string `json:"color"`
}

type stateJSON struct {
	IsLoading               bool             `json:"isLoading"`
	IsStale                 bool             `json:"isStale"`
	Error                   string           `json:"error,omitempty"`
	TotalSupplyRaw          string           `json:"totalSupplyRaw,omitempty"`
	TotalSupplyFormatted    string           `json:"totalSupplyFormatted,omitempty"`
	TotalSupplyMillions     string           `json:"totalSupplyMillions,omitempty"`
	Decimals                int              `json:"decimals,omitempty"`
	Holders                 []holderJSON     `json:"holders"`
	HoldersCount            *int64           `json:"holdersCount,omitempty"`
	HoldersChange           *int64           `json:"holdersChange,omitempty"`
	Distribution            []chainShareJSON `json:"distribution"`
	BlacklistedSupply       string           `json:"blacklistedSupply,omitempty"`
	CirculatingSupply       string           `json:"circulatingSupply,omitempty"`
	CirculatingSupplySigned string           `json:"circulatingSupplySigned,omitempty"`
	SupplyAnomaly           bool             `json:"supplyAnomaly,omitempty"`
	DegradedChains          []string         `json:"degradedChains,omitempty"`
	FetchedAt               *time.Time       `json:"fetchedAt,omitempty"`
}

type viewJSON struct {
	State       string     `json:"state"`
	Data        stateJSON  `json:"data"`
	LastSuccess *time.Time `json:"lastSuccess,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toViewJSON(v onchain.View) viewJSON {
	d := v.Data
	out := stateJSON{
		IsLoading:               d.IsLoading,
		IsStale:                 d.IsStale,
		Error:                   d.Error,
		TotalSupplyRaw:          bigString(d.TotalSupplyRaw),
		TotalSupplyFormatted:    d.TotalSupplyFormatted,
		TotalSupplyMillions:     d.TotalSupplyMillions,
		Decimals:                d.Decimals,
		Holders:                 make([]holderJSON, 0, len(d.Holders)),
		HoldersCount:            d.HoldersCount,
		HoldersChange:           d.HoldersChange,
		Distribution:            make([]chainShareJSON, 0, len(d.Distribution)),
		BlacklistedSupply:       bigString(d.BlacklistedSupply),
		CirculatingSupply:       bigString(d.CirculatingSupply),
		CirculatingSupplySigned: bigString(d.CirculatingSupplySigned),
		SupplyAnomaly:           d.SupplyAnomaly,
		FetchedAt:               timePtr(d.FetchedAt),
	}
	for _, h := range d.Holders {
		out.Holders = append(out.Holders, holderJSON{
			Address:    h.Address,
			Label:      h.Label,
			Chain:      h.Chain.String(),
			BalanceRaw: bigString(h.BalanceRaw),
			Quantity:   h.Quantity,
			Percentage: h.Percentage,
			Rank:       h.Rank,
		})
	}
	for _, s := range d.Distribution {
		out.Distribution = append(out.Distribution, chainShareJSON{
			Chain:            s.Chain.String(),
			SupplyRaw:        bigString(s.SupplyRaw),
			Supply:           s.Supply,
			SupplyPercentage: s.SupplyPercentage,
			HolderCount:      s.HolderCount,
			HolderPercentage: s.HolderPercentage,
			Color:            aggregation.ChainColor(s.Chain),
		})
	}
	for _, c := range d.DegradedChains {
		out.DegradedChains = append(out.DegradedChains, c.String())
	}
	return viewJSON{
		State:       string(v.State),
		Data:        out,
		LastSuccess: timePtr(v.LastSuccess),
		LastError:   v.LastError,
	}
}

type priceJSON struct {
	domain.PriceData
	Formatted struct {
		Price     string `json:"price"`
		MarketCap string `json:"marketCap"`
		Volume    string `json:"volume"`
		Change    string `json:"change"`
	} `json:"formatted"`
}

func toPriceJSON(p domain.PriceData) priceJSON {
	out := priceJSON{PriceData: p}
	out.Formatted.Price = coingecko.FormatPrice(p.USD)
	out.Formatted.MarketCap = coingecko.FormatMarketCap(p.MarketCapUSD)
	out.Formatted.Volume = coingecko.FormatVolume(p.Volume24hUSD)
	out.Formatted.Change = coingecko.FormatChange(p.Change24hPct)
	return out
}

type historyJSON struct {
	Timestamp         int64             `json:"timestamp"`
	TotalSupply       string            `json:"totalSupply"`
	CirculatingSupply string            `json:"circulatingSupply"`
	BlacklistedSupply string            `json:"blacklistedSupply"`
	HolderCount       *int64            `json:"holderCount,omitempty"`
	ChainSupply       map[string]string `json:"chainSupply,omitempty"`
}

func toHistoryJSON(snaps []*domain.SupplySnapshot) []historyJSON {
	out := make([]historyJSON, 0, len(snaps))
	for _, s := range snaps {
		h := historyJSON{
			Timestamp:         s.Timestamp,
			TotalSupply:       bigString(s.TotalSupply),
			CirculatingSupply: bigString(s.CirculatingSupply),
			BlacklistedSupply: bigString(s.BlacklistedSupply),
			HolderCount:       s.HolderCount,
		}
		if len(s.ChainSupply) > 0 {
			h.ChainSupply = make(map[string]string, len(s.ChainSupply))
			for c, v := range s.ChainSupply {
				h.ChainSupply[c.String()] = v
			}
		}
		out = append(out, h)
	}
	return out
}

type chartsJSON struct {
	Supply  []aggregation.ChartPoint `json:"supply"`
	Holders []aggregation.ChartPoint `json:"holders"`
}

func toChartsJSON(holders []domain.HolderSnapshot) chartsJSON {
	totals := aggregation.ChainPercentages(aggregation.AggregateByChain(holders))
	return chartsJSON{
		Supply:  aggregation.ChartPoints(totals, aggregation.ChartSupply),
		Holders: aggregation.ChartPoints(totals, aggregation.ChartHolders),
	}
}

// MarshalView encodes v in the API's wire format.
func MarshalView(v onchain.View, indent bool) ([]byte, error) {
	if indent {
		return json.MarshalIndent(toViewJSON(v), "", "  ")
	}
	return json.Marshal(toViewJSON(v))
}
