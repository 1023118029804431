package model

import "time"

// PairSnapshot is a timestamped analytics record for one pair. USD
// valuations are approximations (see analytics package); reserves keep
// their base-unit string representation.
type PairSnapshot struct {
	PairAddress string    `json:"pair_address"`
	SnapshotTs  time.Time `json:"snapshot_timestamp"`
	TVLUSD      float64   `json:"tvl_usd"`
	PriceToken0 float64   `json:"price_token0"`
	PriceToken1 float64   `json:"price_token1"`
	Volume24h   float64   `json:"volume_24h"`
	Fees24h     float64   `json:"fees_24h"`
	APR         float64   `json:"apr"`
	Reserve0    string    `json:"reserve0"`
	Reserve1    string    `json:"reserve1"`
	TotalSupply string    `json:"total_supply"`
}
