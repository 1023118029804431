// Package fetcher retrieves raw event logs over a bounded block range,
// splitting large ranges into sequential rate-limited chunks so a single
// request never exceeds what the RPC provider tolerates.
package fetcher

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"pairscope/internal/ratelimit"
)

// LogSource is the upstream log query boundary, satisfied by chain.Client.
type LogSource interface {
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Filter narrows a fetch to addresses, topic0 hashes, and a block range.
// The caller validates From <= To before invoking Fetch.
type Filter struct {
	Addresses []common.Address
	Topic0    []common.Hash
	From      uint64
	To        uint64
}

// Fetcher issues chunked, sequential log queries against a LogSource.
type Fetcher struct {
	source LogSource
	logger *zap.Logger
}

// New builds a Fetcher.
func New(source LogSource, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{source: source, logger: logger}
}

// Fetch retrieves all logs matching the filter, issuing one request per
// chunk in ascending order and pausing on the limiter between requests.
// Chunks are never issued in parallel. The first chunk failure aborts the
// whole fetch; there is no partial-success return.
func (f *Fetcher) Fetch(ctx context.Context, filter Filter, chunkSize uint64, limiter *ratelimit.Limiter) ([]types.Log, error) {
	if f.source == nil {
		return nil, fmt.Errorf("log source is nil")
	}

	ranges, err := SplitRange(filter.From, filter.To, chunkSize)
	if err != nil {
		return nil, err
	}

	var logs []types.Log
	for _, chunk := range ranges {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		f.logger.Debug("fetch chunk", zap.Uint64("from", chunk.From), zap.Uint64("to", chunk.To))

		chunkLogs, err := f.source.FilterLogs(ctx, chunk.From, chunk.To, filter.Addresses, filter.Topic0)
		if err != nil {
			return nil, fmt.Errorf("filter logs [%d,%d]: %w", chunk.From, chunk.To, err)
		}
		logs = append(logs, chunkLogs...)
	}

	f.logger.Info("fetch complete",
		zap.Uint64("from", filter.From),
		zap.Uint64("to", filter.To),
		zap.Int("chunks", len(ranges)),
		zap.Int("logs", len(logs)),
	)

	return logs, nil
}
