package domain

import (
	"fmt"
	"strings"
)

// Chain identifies one of the independently tracked blockchains.
type Chain string

const (
	ChainEthereum  Chain = "Ethereum"
	ChainPolygon   Chain = "Polygon"
	ChainAvalanche Chain = "Avalanche"
)

// AllChains returns every supported chain in display order.
func AllChains() []Chain {
	return []Chain{ChainEthereum, ChainPolygon, ChainAvalanche}
}

// String returns the string representation of Chain.
func (c Chain) String() string {
	return string(c)
}

// IsValid checks if the chain is a supported value.
func (c Chain) IsValid() bool {
	switch c {
	case ChainEthereum, ChainPolygon, ChainAvalanche:
		return true
	}
	return false
}

// ParseChain resolves a chain name case-insensitively.
func ParseChain(s string) (Chain, error) {
	for _, c := range AllChains() {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown chain %q", s)
}

// JPYCAddress is the token contract address, identical on every chain.
const JPYCAddress = "0xE7C3D8C9a439feDe00D2600032D5dB0Be71C3c29"

// OperationWallet is the issuer's operation wallet.
const OperationWallet = "0x431D5dff03120AFA4bDf332c61A6e1766eF37BDB"

// ContractAddress is static configuration for one deployed token contract.
type ContractAddress struct {
	Chain       Chain  `json:"chain"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	ExplorerURL string `json:"explorerUrl"`
}

// DefaultContracts returns the official JPYC deployments.
func DefaultContracts() []ContractAddress {
	return []ContractAddress{
		{Chain: ChainEthereum, Name: "JPYC", Address: JPYCAddress, ExplorerURL: "https://etherscan.io/token/" + JPYCAddress},
		{Chain: ChainPolygon, Name: "JPYC", Address: JPYCAddress, ExplorerURL: "https://polygonscan.com/token/" + JPYCAddress},
		{Chain: ChainAvalanche, Name: "JPYC", Address: JPYCAddress, ExplorerURL: "https://snowtrace.io/token/" + JPYCAddress},
	}
}

// HolderAccount is a tracked address whose balance is fetched every cycle.
type HolderAccount struct {
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
	Chain   Chain  `json:"chain"`
}

// DefaultHolderAccounts returns the tracked holder accounts.
func DefaultHolderAccounts() []HolderAccount {
	return []HolderAccount{
		{Address: "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B", Chain: ChainEthereum, Label: "JPYC Treasury"},
		{Address: "0x742d35Cc6634C0532925a3b844Bc454e4438f44e", Chain: ChainPolygon},
		{Address: "0x90e7a9C4C2F15C3C645B11bB8487786B851351B4", Chain: ChainAvalanche},
		{Address: "0x5DF9B87991262F6BA471F09758CDE1c0FC1De734", Chain: ChainEthereum},
		{Address: "0x1Db3439a222C519ab44bb1144fC28167b4Fa6EE6", Chain: ChainPolygon},
	}
}

// MoralisChainIDs maps chains to the holder-index API chain parameter.
var MoralisChainIDs = map[Chain]string{
	ChainEthereum:  "0x1",
	ChainPolygon:   "0x89",
	ChainAvalanche: "0xa86a",
}
