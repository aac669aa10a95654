package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func mustBig(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return n
}

func TestFormatTokenAmount(t *testing.T) {
	tests := []struct {
		raw      string
		decimals int
		digits   int
		want     string
	}{
		{"123456789000000000000000", 18, 2, "123,456.78"},
		{"123456789990000000000000", 18, 2, "123,456.78"},
		{"1000000000000000000", 18, 2, "1"},
		{"1500000000000000000", 18, 2, "1.5"},
		{"0", 18, 2, "0"},
		{"5", 18, 2, "0.00"},
		{"1234567", 0, 2, "1,234,567"},
		{"-2500000", 6, 2, "-2.5"},
		{"123", 2, 4, "1.23"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatTokenAmount(mustBig(tt.raw), tt.decimals, tt.digits), tt.raw)
	}
	assert.Equal(t, "0", FormatTokenAmount(nil, 18, 2))
}

func TestAddThousandsSeparator(t *testing.T) {
	assert.Equal(t, "0", AddThousandsSeparator("0"))
	assert.Equal(t, "999", AddThousandsSeparator("999"))
	assert.Equal(t, "1,000", AddThousandsSeparator("1000"))
	assert.Equal(t, "12,345,678", AddThousandsSeparator("12345678"))
	assert.Equal(t, "-100,000", AddThousandsSeparator("-100000"))
}

func TestFormatMillions(t *testing.T) {
	assert.Equal(t, "12.3", FormatMillions(mustBig("12345678900000000000000000"), 18))
	assert.Equal(t, "0.0", FormatMillions(big.NewInt(0), 18))
	assert.Equal(t, "1.0", FormatMillions(big.NewInt(1_000_000), 0))
}

func TestFormatPercentage(t *testing.T) {
	assert.Equal(t, "0.00", FormatPercentage(big.NewInt(5), big.NewInt(0)))
	assert.Equal(t, "0.00", FormatPercentage(big.NewInt(5), nil))
	assert.Equal(t, "33.33", FormatPercentage(big.NewInt(1), big.NewInt(3)))
	assert.Equal(t, "66.67", FormatPercentage(big.NewInt(2), big.NewInt(3)))
	assert.Equal(t, "100.00", FormatPercentage(big.NewInt(7), big.NewInt(7)))
}

func TestChecksumAddress(t *testing.T) {
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", ChecksumAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"))
	assert.Equal(t, "not-an-address", ChecksumAddress("not-an-address"))
}
