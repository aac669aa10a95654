package coingecko

import (
	"math"

	"github.com/shopspring/decimal"
)

// FormatPrice renders a USD price. Prices below $1 get enough decimals to
// show two significant digits, at most 8.
func FormatPrice(price float64) string {
	d := decimal.NewFromFloat(price)
	if price >= 1 {
		return "$" + d.StringFixed(2)
	}
	digits := int32(8)
	if price > 0 {
		if n := int32(math.Ceil(-math.Log10(price))) + 2; n < digits {
			digits = n
		}
	}
	return "$" + d.StringFixed(digits)
}

// FormatVolume renders a USD volume with K or M suffix.
func FormatVolume(volume float64) string {
	d := decimal.NewFromFloat(volume)
	switch {
	case volume >= 1_000_000:
		return "$" + d.Div(decimal.NewFromInt(1_000_000)).StringFixed(2) + "M"
	case volume >= 1_000:
		return "$" + d.Div(decimal.NewFromInt(1_000)).StringFixed(1) + "K"
	default:
		return "$" + d.StringFixed(2)
	}
}

// FormatChange renders a signed percentage change.
func FormatChange(change float64) string {
	s := decimal.NewFromFloat(change).StringFixed(2) + "%"
	if change >= 0 {
		return "+" + s
	}
	return s
}

// FormatMarketCap renders a USD market cap with K, M or B suffix.
func FormatMarketCap(marketCap float64) string {
	d := decimal.NewFromFloat(marketCap)
	switch {
	case marketCap >= 1_000_000_000:
		return "$" + d.Div(decimal.NewFromInt(1_000_000_000)).StringFixed(2) + "B"
	case marketCap >= 1_000_000:
		return "$" + d.Div(decimal.NewFromInt(1_000_000)).StringFixed(2) + "M"
	case marketCap >= 1_000:
		return "$" + d.Div(decimal.NewFromInt(1_000)).StringFixed(2) + "K"
	default:
		return "$" + d.StringFixed(2)
	}
}
