// Package aggregation combines per-chain supply, blacklist and holder data
// into a single OnChainState.
package aggregation

import (
	"math/big"

	"jpyc-onchain-lab/internal/blacklist"
	"jpyc-onchain-lab/internal/domain"
)

// CalculateBlacklistedSupply sums the balances of holders in set.
func CalculateBlacklistedSupply(holders []domain.HolderSnapshot, set blacklist.Set) *big.Int {
	total := new(big.Int)
	for _, h := range holders {
		if h.BalanceRaw != nil && set.Contains(h.Address) {
			total.Add(total, h.BalanceRaw)
		}
	}
	return total
}

// SignedCirculatingSupply returns total minus blacklisted without clamping.
func SignedCirculatingSupply(total, blacklisted *big.Int) *big.Int {
	out := new(big.Int)
	if total != nil {
		out.Set(total)
	}
	if blacklisted != nil {
		out.Sub(out, blacklisted)
	}
	return out
}

// CalculateCirculatingSupply returns total minus blacklisted, or zero when
// blacklisted exceeds total.
func CalculateCirculatingSupply(total, blacklisted *big.Int) *big.Int {
	out := SignedCirculatingSupply(total, blacklisted)
	if out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}
