package domain

import "time"

// CoinGeckoID is the price API identifier of the token.
const CoinGeckoID = "jpycoin"

// PriceData is the market data for the token in USD.
type PriceData struct {
	USD          float64   `json:"usd"`
	MarketCapUSD float64   `json:"usdMarketCap"`
	Volume24hUSD float64   `json:"usd24hVol"`
	Change24hPct float64   `json:"usd24hChange"`
	FetchedAt    time.Time `json:"fetchedAt"`
}
