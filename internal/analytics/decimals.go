package analytics

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pairscope/internal/amm"
)

// defaultDecimals is assumed when a token does not answer decimals().
const defaultDecimals = 18

// DecimalsResolver caches token decimals by address, falling back to a
// chain read on first sight of a token.
type DecimalsResolver struct {
	caller amm.Caller
	logger *zap.Logger

	mu   sync.RWMutex
	data map[common.Address]uint8
}

func NewDecimalsResolver(caller amm.Caller, logger *zap.Logger) *DecimalsResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecimalsResolver{
		caller: caller,
		logger: logger,
		data:   make(map[common.Address]uint8),
	}
}

// Override pins a token's decimals without a chain read. Used for the
// configured wrapped-native and stable tokens.
func (r *DecimalsResolver) Override(token common.Address, decimals uint8) {
	r.mu.Lock()
	r.data[token] = decimals
	r.mu.Unlock()
}

// Decimals returns the token's decimal count, reading it from chain on a
// cache miss. A failed read logs and falls back to 18 for this call
// only; the fallback is never cached, so the next pass retries the read.
func (r *DecimalsResolver) Decimals(ctx context.Context, token common.Address) uint8 {
	r.mu.RLock()
	decimals, ok := r.data[token]
	r.mu.RUnlock()
	if ok {
		return decimals
	}

	decimals, err := amm.TokenDecimals(ctx, r.caller, token)
	if err != nil {
		r.logger.Warn("decimals read failed, assuming 18",
			zap.String("token", token.Hex()),
			zap.Error(err),
		)
		return defaultDecimals
	}

	r.mu.Lock()
	r.data[token] = decimals
	r.mu.Unlock()
	return decimals
}
