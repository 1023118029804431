package amm

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pairscope/internal/ratelimit"
)

// Caller is the contract-read boundary, satisfied by chain.Client.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PairDetail is one pair's current on-chain reading.
type PairDetail struct {
	Address         common.Address
	Token0          common.Address
	Token1          common.Address
	Reserve0        *big.Int
	Reserve1        *big.Int
	TotalSupply     *big.Int
	ObservedAtBlock uint64
}

// DiscoverStats counts the outcome of one full factory walk.
type DiscoverStats struct {
	Total    int
	Detailed int
	Errors   int
}

// Registry enumerates pairs known to a factory contract and reads each
// pair's current detail.
type Registry struct {
	caller    Caller
	callDelay time.Duration
	logger    *zap.Logger
}

// NewRegistry builds a Registry. callDelay is the pause between the
// sequential per-pair detail reads.
func NewRegistry(caller Caller, callDelay time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{caller: caller, callDelay: callDelay, logger: logger}
}

// PairCount reads allPairsLength from the factory.
func (r *Registry) PairCount(ctx context.Context, factory common.Address) (uint64, error) {
	factoryDef, err := FactoryABI()
	if err != nil {
		return 0, fmt.Errorf("parse factory abi: %w", err)
	}

	values, err := r.call(ctx, factoryDef, factory, "allPairsLength")
	if err != nil {
		return 0, err
	}
	count, err := asBigInt(values[0])
	if err != nil {
		return 0, fmt.Errorf("allPairsLength: %w", err)
	}
	if !count.IsUint64() {
		return 0, fmt.Errorf("allPairsLength out of range: %s", count)
	}
	return count.Uint64(), nil
}

// PairAddress reads allPairs(index) from the factory.
func (r *Registry) PairAddress(ctx context.Context, factory common.Address, index uint64) (common.Address, error) {
	factoryDef, err := FactoryABI()
	if err != nil {
		return common.Address{}, fmt.Errorf("parse factory abi: %w", err)
	}

	values, err := r.call(ctx, factoryDef, factory, "allPairs", new(big.Int).SetUint64(index))
	if err != nil {
		return common.Address{}, err
	}
	addr, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, fmt.Errorf("allPairs(%d): %w", index, err)
	}
	return addr, nil
}

// PairDetail reads token0, token1, getReserves, and totalSupply for one
// pair, sequentially with a small inter-call delay.
func (r *Registry) PairDetail(ctx context.Context, pair common.Address, observedAt uint64) (PairDetail, error) {
	pairDef, err := PairABI()
	if err != nil {
		return PairDetail{}, fmt.Errorf("parse pair abi: %w", err)
	}

	detail := PairDetail{Address: pair, ObservedAtBlock: observedAt}

	values, err := r.call(ctx, pairDef, pair, "token0")
	if err != nil {
		return PairDetail{}, err
	}
	if detail.Token0, err = asAddress(values[0]); err != nil {
		return PairDetail{}, fmt.Errorf("token0: %w", err)
	}

	r.pause(ctx)
	values, err = r.call(ctx, pairDef, pair, "token1")
	if err != nil {
		return PairDetail{}, err
	}
	if detail.Token1, err = asAddress(values[0]); err != nil {
		return PairDetail{}, fmt.Errorf("token1: %w", err)
	}

	r.pause(ctx)
	values, err = r.call(ctx, pairDef, pair, "getReserves")
	if err != nil {
		return PairDetail{}, err
	}
	if len(values) < 2 {
		return PairDetail{}, fmt.Errorf("getReserves: unexpected value count %d", len(values))
	}
	if detail.Reserve0, err = asBigInt(values[0]); err != nil {
		return PairDetail{}, fmt.Errorf("reserve0: %w", err)
	}
	if detail.Reserve1, err = asBigInt(values[1]); err != nil {
		return PairDetail{}, fmt.Errorf("reserve1: %w", err)
	}

	r.pause(ctx)
	values, err = r.call(ctx, pairDef, pair, "totalSupply")
	if err != nil {
		return PairDetail{}, err
	}
	if detail.TotalSupply, err = asBigInt(values[0]); err != nil {
		return PairDetail{}, fmt.Errorf("totalSupply: %w", err)
	}

	return detail, nil
}

// DiscoverAllPairs walks all factory indices in batches. Address reads
// inside a batch run concurrently; detail reads are sequential. A failure
// on one pair is logged and counted without aborting the batch; the
// limiter paces consecutive batches.
func (r *Registry) DiscoverAllPairs(
	ctx context.Context,
	factory common.Address,
	observedAt uint64,
	batchSize int,
	limiter *ratelimit.Limiter,
) ([]PairDetail, DiscoverStats, error) {
	if batchSize <= 0 {
		return nil, DiscoverStats{}, fmt.Errorf("batch size must be greater than zero")
	}

	count, err := r.PairCount(ctx, factory)
	if err != nil {
		return nil, DiscoverStats{}, fmt.Errorf("pair count: %w", err)
	}

	stats := DiscoverStats{Total: int(count)}
	details := make([]PairDetail, 0, count)

	for start := uint64(0); start < count; start += uint64(batchSize) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, stats, err
		}

		end := start + uint64(batchSize)
		if end > count {
			end = count
		}

		addresses, errCount := r.readAddressBatch(ctx, factory, start, end)
		stats.Errors += errCount

		for _, addr := range addresses {
			detail, err := r.PairDetail(ctx, addr, observedAt)
			if err != nil {
				stats.Errors++
				r.logger.Warn("pair detail read failed", zap.String("pair", addr.Hex()), zap.Error(err))
				continue
			}
			details = append(details, detail)
			stats.Detailed++
		}

		r.logger.Info("discovery batch complete",
			zap.Uint64("from_index", start),
			zap.Uint64("to_index", end-1),
			zap.Int("detailed", stats.Detailed),
			zap.Int("errors", stats.Errors),
		)
	}

	return details, stats, nil
}

// readAddressBatch reads allPairs(i) for [start,end) concurrently and
// returns the successful addresses in index order.
func (r *Registry) readAddressBatch(ctx context.Context, factory common.Address, start, end uint64) ([]common.Address, int) {
	type result struct {
		addr common.Address
		err  error
	}

	results := make([]result, end-start)
	var wg sync.WaitGroup
	for i := start; i < end; i++ {
		wg.Add(1)
		go func(index uint64) {
			defer wg.Done()
			addr, err := r.PairAddress(ctx, factory, index)
			results[index-start] = result{addr: addr, err: err}
		}(i)
	}
	wg.Wait()

	addresses := make([]common.Address, 0, len(results))
	errCount := 0
	for i, res := range results {
		if res.err != nil {
			errCount++
			r.logger.Warn("pair address read failed",
				zap.Uint64("index", start+uint64(i)),
				zap.Error(res.err),
			)
			continue
		}
		addresses = append(addresses, res.addr)
	}
	return addresses, errCount
}

func (r *Registry) call(ctx context.Context, parsed abi.ABI, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &contract, Data: data}
	resp, err := r.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: empty return", method)
	}
	return values, nil
}

func (r *Registry) pause(ctx context.Context) {
	if r.callDelay <= 0 {
		return
	}
	timer := time.NewTimer(r.callDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}
}
