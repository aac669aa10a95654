package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// FormatTokenAmount renders raw with decimals places as a thousands
// separated decimal string. Trailing zeros are stripped and the fraction is
// truncated, not rounded, to fractionDigits.
func FormatTokenAmount(raw *big.Int, decimals, fractionDigits int) string {
	if raw == nil {
		raw = new(big.Int)
	}
	negative := raw.Sign() < 0
	digits := new(big.Int).Abs(raw).String()
	if len(digits) < decimals+1 {
		digits = strings.Repeat("0", decimals+1-len(digits)) + digits
	}

	whole := digits[:len(digits)-decimals]
	fraction := strings.TrimRight(digits[len(digits)-decimals:], "0")
	if len(fraction) > fractionDigits {
		fraction = fraction[:fractionDigits]
	}

	out := AddThousandsSeparator(whole)
	if fraction != "" {
		out += "." + fraction
	}
	if negative {
		out = "-" + out
	}
	return out
}

// AddThousandsSeparator inserts commas every three digits of an integer string.
func AddThousandsSeparator(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	head := len(s) % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return sign + b.String()
}

var million = decimal.NewFromInt(1_000_000)

// ToDecimal converts raw to whole token units.
func ToDecimal(raw *big.Int, decimals int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, int32(-decimals))
}

// FormatMillions renders raw in millions of tokens with one decimal place.
func FormatMillions(raw *big.Int, decimals int) string {
	return ToDecimal(raw, decimals).Div(million).StringFixed(1)
}

// FormatPercentage renders value/total*100 with two decimals. A zero or
// missing total yields "0.00".
func FormatPercentage(value, total *big.Int) string {
	if total == nil || total.Sign() == 0 || value == nil {
		return "0.00"
	}
	ratio := decimal.NewFromBigInt(value, 0).Mul(decimal.NewFromInt(100)).DivRound(decimal.NewFromBigInt(total, 0), 8)
	return ratio.StringFixed(2)
}

// ChecksumAddress returns the EIP-55 form of a hex address, or the input
// unchanged if it is not one.
func ChecksumAddress(address string) string {
	if !common.IsHexAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}
