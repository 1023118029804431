package model

// Event types recorded in the transaction log.
const (
	EventMint = "mint"
	EventBurn = "burn"
	EventSwap = "swap"
	EventSync = "sync"
)

// Transaction is one decoded pair event, append-only once written.
// Amounts are base-unit integers rendered as decimal strings; the
// out-amount fields are populated for swaps only.
type Transaction struct {
	PairAddress string `json:"pair_address"`
	EventType   string `json:"event_type"`
	Amount0     string `json:"amount0"`
	Amount1     string `json:"amount1"`
	Amount0Out  string `json:"amount0_out"`
	Amount1Out  string `json:"amount1_out"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint64 `json:"log_index"`
	Timestamp   uint64 `json:"timestamp"`
}
