package model

// Pair represents one AMM trading pair and its last known on-chain state.
// Reserves and supply are base-unit integers rendered as decimal strings.
type Pair struct {
	Address        string `json:"pair_address"`
	Token0         string `json:"token0_address"`
	Token1         string `json:"token1_address"`
	Factory        string `json:"factory_address"`
	Reserve0       string `json:"reserve0"`
	Reserve1       string `json:"reserve1"`
	TotalSupply    string `json:"total_supply"`
	CreatedAtBlock uint64 `json:"created_at_block"`
	CreatedAtTs    uint64 `json:"created_at_timestamp"`
	LastSyncBlock  uint64 `json:"last_sync_block"`
	LastSyncTs     uint64 `json:"last_sync_timestamp"`
}
