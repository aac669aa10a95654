package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChain(t *testing.T) {
	c, err := ParseChain(" polygon ")
	require.NoError(t, err)
	assert.Equal(t, ChainPolygon, c)

	_, err = ParseChain("solana")
	assert.Error(t, err)
}

func TestChain_IsValid(t *testing.T) {
	for _, c := range AllChains() {
		assert.True(t, c.IsValid(), c)
	}
	assert.False(t, Chain("ethereum").IsValid())
}

func TestDefaultContracts_CoverEveryChain(t *testing.T) {
	seen := map[Chain]bool{}
	for _, c := range DefaultContracts() {
		seen[c.Chain] = true
		assert.Contains(t, c.ExplorerURL, c.Address)
	}
	for _, c := range AllChains() {
		assert.True(t, seen[c], c)
		assert.NotEmpty(t, MoralisChainIDs[c], c)
	}
}

func TestHasData(t *testing.T) {
	var nilState *OnChainState
	assert.False(t, nilState.HasData())
	assert.False(t, (&OnChainState{IsLoading: true}).HasData())
	assert.True(t, (&OnChainState{TotalSupplyRaw: big.NewInt(0)}).HasData())
}

func TestNewSupplySnapshot(t *testing.T) {
	count := int64(42)
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	total := big.NewInt(1000)
	state := &OnChainState{
		TotalSupplyRaw:    total,
		CirculatingSupply: big.NewInt(900),
		HoldersCount:      &count,
		Distribution: []ChainShare{
			{Chain: ChainEthereum, SupplyRaw: big.NewInt(700)},
			{Chain: ChainPolygon},
		},
		FetchedAt: at,
	}

	snap := NewSupplySnapshot(state)
	assert.Equal(t, at.UnixMilli(), snap.Timestamp)
	assert.Equal(t, "1000", snap.TotalSupply.String())
	assert.Equal(t, "0", snap.BlacklistedSupply.String())
	assert.Equal(t, map[Chain]string{ChainEthereum: "700", ChainPolygon: "0"}, snap.ChainSupply)
	require.NotNil(t, snap.HolderCount)
	assert.Equal(t, int64(42), *snap.HolderCount)

	// The record must not alias the live state.
	total.SetInt64(1)
	assert.Equal(t, "1000", snap.TotalSupply.String())
}
