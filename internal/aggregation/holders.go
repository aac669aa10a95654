package aggregation

import (
	"sort"

	"jpyc-onchain-lab/internal/blacklist"
	"jpyc-onchain-lab/internal/domain"
)

// FilterBlacklistedHolders returns holders whose address is not in set,
// preserving order. An empty set returns a copy of holders.
func FilterBlacklistedHolders(holders []domain.HolderSnapshot, set blacklist.Set) []domain.HolderSnapshot {
	out := make([]domain.HolderSnapshot, 0, len(holders))
	for _, h := range holders {
		if set.Len() > 0 && set.Contains(h.Address) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// RankHolders drops zero balances, sorts the rest by balance descending
// and assigns ranks starting at 1. Equal balances keep their input order.
func RankHolders(holders []domain.HolderSnapshot) []domain.HolderSnapshot {
	out := make([]domain.HolderSnapshot, 0, len(holders))
	for _, h := range holders {
		if h.BalanceRaw == nil || h.BalanceRaw.Sign() <= 0 {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BalanceRaw.Cmp(out[j].BalanceRaw) > 0
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
