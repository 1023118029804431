// Package analytics computes per-pair USD snapshots from persisted pair
// state and swap history. Pricing is reserve-based: a stable-token side
// anchors a pair directly, a wrapped-native side goes through the
// bootstrapped native price, and everything else falls back to an
// explicit $1-per-token placeholder.
package analytics

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"pairscope/internal/model"
)

const (
	// swapFeeRate is the fixed 0.3% pool fee.
	swapFeeRate = 0.003

	// volumeWindow is the trailing window for volume and fee figures.
	volumeWindow = 24 * time.Hour

	// volumeDecimals is applied to every swap amount regardless of the
	// traded token's actual decimals. Pairs whose token0 uses a
	// different decimal count report skewed volume; fixing this needs
	// per-token decimal adjustment in the volume sum.
	volumeDecimals = 18
)

// Store is the read/write boundary the aggregator works against.
type Store interface {
	ListPairs(ctx context.Context) ([]model.Pair, error)
	SwapsSince(ctx context.Context, pairAddress string, since time.Time) ([]model.Transaction, error)
	UpsertSnapshot(ctx context.Context, snapshot model.PairSnapshot) error
}

// Decimals resolves a token's decimal count.
type Decimals interface {
	Decimals(ctx context.Context, token common.Address) uint8
}

// Config identifies the reference tokens used for pricing.
type Config struct {
	WrappedNative common.Address
	StableToken   common.Address
}

// RunStats reports the outcome of one snapshot pass.
type RunStats struct {
	Created int
	Errors  int
}

// Aggregator computes and persists pair snapshots.
type Aggregator struct {
	cfg      Config
	store    Store
	decimals Decimals
	logger   *zap.Logger
}

func NewAggregator(cfg Config, store Store, decimals Decimals, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{cfg: cfg, store: store, decimals: decimals, logger: logger}
}

// Run computes a snapshot for every known pair at the given bucket
// timestamp. One pair's failure is logged and counted; the rest of the
// pass continues.
func (a *Aggregator) Run(ctx context.Context, at time.Time) (RunStats, error) {
	pairs, err := a.store.ListPairs(ctx)
	if err != nil {
		return RunStats{}, fmt.Errorf("list pairs: %w", err)
	}

	nativePrice := a.NativePriceUSD(ctx, pairs)
	a.logger.Info("snapshot pass starting",
		zap.Int("pairs", len(pairs)),
		zap.Float64("native_price_usd", nativePrice),
		zap.Time("bucket", at),
	)

	var stats RunStats
	for _, pair := range pairs {
		snapshot, err := a.ComputeSnapshot(ctx, pair, nativePrice, at)
		if err != nil {
			a.logger.Warn("snapshot failed",
				zap.String("pair", pair.Address),
				zap.Error(err),
			)
			stats.Errors++
			continue
		}
		if err := a.store.UpsertSnapshot(ctx, snapshot); err != nil {
			a.logger.Warn("snapshot upsert failed",
				zap.String("pair", pair.Address),
				zap.Error(err),
			)
			stats.Errors++
			continue
		}
		stats.Created++
	}

	a.logger.Info("snapshot pass finished",
		zap.Int("created", stats.Created),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

// NativePriceUSD derives the wrapped-native token's USD price from the
// wrapped-native/stable pair, decimal-adjusted. Returns 0 when no such
// pair exists or either reserve is empty.
func (a *Aggregator) NativePriceUSD(ctx context.Context, pairs []model.Pair) float64 {
	for _, pair := range pairs {
		var nativeReserve, stableReserve string
		switch {
		case a.isNative(pair.Token0) && a.isStable(pair.Token1):
			nativeReserve, stableReserve = pair.Reserve0, pair.Reserve1
		case a.isStable(pair.Token0) && a.isNative(pair.Token1):
			stableReserve, nativeReserve = pair.Reserve0, pair.Reserve1
		default:
			continue
		}

		native := adjusted(nativeReserve, a.decimals.Decimals(ctx, a.cfg.WrappedNative))
		stable := adjusted(stableReserve, a.decimals.Decimals(ctx, a.cfg.StableToken))
		if native <= 0 || stable <= 0 {
			return 0
		}
		return stable / native
	}
	return 0
}

// ComputeSnapshot builds one pair's snapshot at the given bucket
// timestamp using the pre-bootstrapped native price.
func (a *Aggregator) ComputeSnapshot(ctx context.Context, pair model.Pair, nativePriceUsd float64, at time.Time) (model.PairSnapshot, error) {
	token0 := common.HexToAddress(pair.Token0)
	token1 := common.HexToAddress(pair.Token1)
	reserve0 := adjusted(pair.Reserve0, a.decimals.Decimals(ctx, token0))
	reserve1 := adjusted(pair.Reserve1, a.decimals.Decimals(ctx, token1))

	tvl := a.tvlUSD(pair, reserve0, reserve1, nativePriceUsd)

	// Each side of a balanced pool carries half the TVL.
	var price0, price1 float64
	if reserve0 > 0 {
		price0 = tvl / 2 / reserve0
	}
	if reserve1 > 0 {
		price1 = tvl / 2 / reserve1
	}

	volume, err := a.swapVolume(ctx, pair.Address, at)
	if err != nil {
		return model.PairSnapshot{}, err
	}
	fees := volume * swapFeeRate

	var apr float64
	if tvl > 0 {
		apr = fees * 365 / tvl * 100
	}

	return model.PairSnapshot{
		PairAddress: pair.Address,
		SnapshotTs:  at,
		TVLUSD:      tvl,
		PriceToken0: price0,
		PriceToken1: price1,
		Volume24h:   volume,
		Fees24h:     fees,
		APR:         apr,
		Reserve0:    pair.Reserve0,
		Reserve1:    pair.Reserve1,
		TotalSupply: pair.TotalSupply,
	}, nil
}

// tvlUSD applies the pricing priority: stable anchor, then native
// anchor, then the $1-per-token fallback.
func (a *Aggregator) tvlUSD(pair model.Pair, reserve0, reserve1, nativePriceUsd float64) float64 {
	switch {
	case a.isStable(pair.Token0):
		return 2 * reserve0
	case a.isStable(pair.Token1):
		return 2 * reserve1
	case a.isNative(pair.Token0) && nativePriceUsd > 0:
		return 2 * reserve0 * nativePriceUsd
	case a.isNative(pair.Token1) && nativePriceUsd > 0:
		return 2 * reserve1 * nativePriceUsd
	default:
		return reserve0 + reserve1
	}
}

func (a *Aggregator) swapVolume(ctx context.Context, pairAddress string, at time.Time) (float64, error) {
	swaps, err := a.store.SwapsSince(ctx, pairAddress, at.Add(-volumeWindow))
	if err != nil {
		return 0, fmt.Errorf("load swaps for %s: %w", pairAddress, err)
	}

	var volume float64
	for _, swap := range swaps {
		in := adjusted(swap.Amount0, volumeDecimals)
		out := adjusted(swap.Amount0Out, volumeDecimals)
		if in > out {
			volume += in
		} else {
			volume += out
		}
	}
	return volume, nil
}

func (a *Aggregator) isNative(address string) bool {
	return strings.EqualFold(address, a.cfg.WrappedNative.Hex())
}

func (a *Aggregator) isStable(address string) bool {
	return strings.EqualFold(address, a.cfg.StableToken.Hex())
}

// adjusted converts a base-unit decimal string to a float scaled down by
// the token's decimals. Unparseable values count as zero.
func adjusted(value string, decimals uint8) float64 {
	raw, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return 0
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	result, _ := new(big.Float).Quo(
		new(big.Float).SetInt(raw),
		new(big.Float).SetInt(denom),
	).Float64()
	return result
}
