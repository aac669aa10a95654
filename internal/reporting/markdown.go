package reporting

import (
	"fmt"
	"strings"
	"time"

	"jpyc-onchain-lab/internal/coingecko"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# JPYC On-Chain Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Data fetched: %s\n\n", r.FetchedAt.Format(time.RFC3339)))

	if len(r.DegradedChains) > 0 {
		sb.WriteString(fmt.Sprintf("**Degraded chains:** %s\n\n", joinChains(r)))
	}

	// Supply
	sb.WriteString("## Supply\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Total Supply | %s |\n", r.Supply.Total))
	sb.WriteString(fmt.Sprintf("| Total Supply (M) | %s |\n", r.Supply.TotalMillions))
	sb.WriteString(fmt.Sprintf("| Circulating Supply | %s |\n", r.Supply.Circulating))
	sb.WriteString(fmt.Sprintf("| Blacklisted Supply | %s |\n", r.Supply.Blacklisted))
	sb.WriteString(fmt.Sprintf("| Holders | %s |\n", optInt(r.Supply.HoldersCount)))
	sb.WriteString(fmt.Sprintf("| Holders 24h Change | %s |\n", optSigned(r.Supply.HoldersChange)))
	sb.WriteString("\n")
	if r.Supply.Anomaly {
		sb.WriteString(fmt.Sprintf("**Supply anomaly:** blacklisted balances exceed the total supply (unclamped circulating: %s).\n\n", r.Supply.CirculatingUnclamped))
	}

	// Price
	if r.Price != nil {
		sb.WriteString("## Market\n\n")
		sb.WriteString("| Metric | Value |\n")
		sb.WriteString("|--------|-------|\n")
		sb.WriteString(fmt.Sprintf("| Price (USD) | %s |\n", coingecko.FormatPrice(r.Price.USD)))
		sb.WriteString(fmt.Sprintf("| Market Cap | %s |\n", coingecko.FormatMarketCap(r.Price.MarketCapUSD)))
		sb.WriteString(fmt.Sprintf("| 24h Volume | %s |\n", coingecko.FormatVolume(r.Price.Volume24hUSD)))
		sb.WriteString(fmt.Sprintf("| 24h Change | %s |\n", coingecko.FormatChange(r.Price.Change24hPct)))
		sb.WriteString("\n")
	}

	// Distribution
	sb.WriteString("## Chain Distribution\n\n")
	if len(r.Distribution) > 0 {
		sb.WriteString("| Chain | Supply | Supply % | Holders | Holders % |\n")
		sb.WriteString("|-------|--------|----------|---------|-----------|\n")
		for _, d := range r.Distribution {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
				d.Chain, d.Supply, d.SupplyPercentage, optInt(d.HolderCount), orDash(d.HolderPercentage)))
		}
	} else {
		sb.WriteString("No distribution data available.\n")
	}
	sb.WriteString("\n")

	// Holders
	sb.WriteString("## Tracked Holders\n\n")
	if len(r.Holders) > 0 {
		sb.WriteString("| Rank | Chain | Label | Address | Quantity | % of Supply |\n")
		sb.WriteString("|------|-------|-------|---------|----------|-------------|\n")
		for _, h := range r.Holders {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | `%s` | %s | %s |\n",
				rank(h.Rank), h.Chain, orDash(h.Label), h.Address, h.Quantity, h.Percentage))
		}
	} else {
		sb.WriteString("No tracked holders.\n")
	}
	sb.WriteString("\n")

	// Trend
	if r.Trend != nil {
		sb.WriteString("## Supply Trend\n\n")
		sb.WriteString(fmt.Sprintf("Window: %s, %d samples\n\n", r.Trend.Window, r.Trend.Samples))
		sb.WriteString("| From | To | Start | End | Change | Change % |\n")
		sb.WriteString("|------|----|-------|-----|--------|----------|\n")
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s |\n",
			r.Trend.FirstAt.Format(time.RFC3339), r.Trend.LastAt.Format(time.RFC3339),
			r.Trend.FirstTotal, r.Trend.LastTotal, r.Trend.Change, orDash(r.Trend.ChangeRatio)))
		sb.WriteString("\n")
	}

	return sb.String()
}

func joinChains(r *Report) string {
	names := make([]string, len(r.DegradedChains))
	for i, c := range r.DegradedChains {
		names[i] = c.String()
	}
	return strings.Join(names, ", ")
}

func optInt(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func optSigned(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%+d", *v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func rank(r int) string {
	if r <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", r)
}
