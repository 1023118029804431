// Package pipeline orchestrates one indexing execution: resolve a block
// range, fetch and classify logs, project them into the store, and wrap
// the whole thing in a provenance record. Per-event failures are counted,
// never fatal; a failed fetch fails the run as a whole.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"pairscope/internal/amm"
	"pairscope/internal/fetcher"
	"pairscope/internal/model"
	"pairscope/internal/projector"
	"pairscope/internal/ratelimit"
)

// Job names recorded on sync runs.
const (
	JobSync     = "sync"
	JobDiscover = "discover"
)

// Blocks is the chain-head and timestamp boundary, satisfied by
// chain.Client.
type Blocks interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// LogFetcher retrieves logs over a range, satisfied by fetcher.Fetcher.
type LogFetcher interface {
	Fetch(ctx context.Context, filter fetcher.Filter, chunkSize uint64, limiter *ratelimit.Limiter) ([]types.Log, error)
}

// Discoverer walks the factory's pair index, satisfied by amm.Registry.
type Discoverer interface {
	DiscoverAllPairs(ctx context.Context, factory common.Address, observedAt uint64, batchSize int, limiter *ratelimit.Limiter) ([]amm.PairDetail, amm.DiscoverStats, error)
}

// Writer projects events and discovery readings into the store,
// satisfied by projector.Projector.
type Writer interface {
	Apply(ctx context.Context, event amm.Event, meta projector.EventMeta) (projector.Outcome, error)
	UpsertDiscovered(ctx context.Context, details []amm.PairDetail, factory string, observedAtTs uint64) error
}

// Pairs lists the pairs already known to the store.
type Pairs interface {
	ListPairs(ctx context.Context) ([]model.Pair, error)
}

// Runs records provenance, satisfied by syncrun.Tracker.
type Runs interface {
	Start(ctx context.Context, jobName, source string, startBlock, endBlock uint64, metadata map[string]string) (int64, error)
	Complete(ctx context.Context, id int64, counters model.RunCounters) error
	Fail(ctx context.Context, id int64, counters model.RunCounters, cause error) error
	LastCompleted(ctx context.Context, jobName string) (model.SyncRun, bool, error)
}

// Config carries the chain constants every run shares.
type Config struct {
	Factory   common.Address
	BlockTime time.Duration // average block interval, for hoursAgo conversion
}

// SyncRequest selects a range to backfill. ToBlock 0 means the chain
// head; FromBlock 0 resumes after the last completed sync run; HoursAgo,
// when set, overrides FromBlock with a head-relative window.
type SyncRequest struct {
	FromBlock uint64
	ToBlock   uint64
	HoursAgo  uint64
	ChunkSize uint64
	Delay     time.Duration
	Source    string
}

// DiscoverRequest tunes a full factory walk.
type DiscoverRequest struct {
	BatchSize int
	Delay     time.Duration
	Source    string
}

// Result reports one run's provenance id and counters.
type Result struct {
	RunID    int64
	Counters model.RunCounters
}

// Pipeline wires the fetch/classify/project stages together.
type Pipeline struct {
	cfg        Config
	blocks     Blocks
	fetcher    LogFetcher
	classifier *amm.Classifier
	registry   Discoverer
	writer     Writer
	pairs      Pairs
	runs       Runs
	logger     *zap.Logger
}

func New(
	cfg Config,
	blocks Blocks,
	logFetcher LogFetcher,
	classifier *amm.Classifier,
	registry Discoverer,
	writer Writer,
	pairs Pairs,
	runs Runs,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		blocks:     blocks,
		fetcher:    logFetcher,
		classifier: classifier,
		registry:   registry,
		writer:     writer,
		pairs:      pairs,
		runs:       runs,
		logger:     logger,
	}
}

// Sync backfills events over the requested range. The returned Result is
// valid even when err is non-nil, so callers can report partial counters.
func (p *Pipeline) Sync(ctx context.Context, req SyncRequest) (Result, error) {
	if req.ChunkSize == 0 {
		return Result{}, fmt.Errorf("chunk size must be greater than zero")
	}
	if req.HoursAgo == 0 && req.FromBlock != 0 && req.ToBlock != 0 && req.FromBlock > req.ToBlock {
		return Result{}, fmt.Errorf("from block %d is past to block %d", req.FromBlock, req.ToBlock)
	}

	from, to, err := p.resolveRange(ctx, req)
	if err != nil {
		return Result{}, err
	}

	runID, err := p.runs.Start(ctx, JobSync, req.Source, from, to, map[string]string{
		"chunk_size": fmt.Sprintf("%d", req.ChunkSize),
		"delay_ms":   fmt.Sprintf("%d", req.Delay.Milliseconds()),
	})
	if err != nil {
		return Result{}, err
	}
	result := Result{RunID: runID}

	// A resume point past the head leaves nothing to do; that is a
	// completed run with zero counters, not an error.
	if from > to {
		p.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return result, p.runs.Complete(ctx, runID, result.Counters)
	}

	addresses, err := p.watchedAddresses(ctx)
	if err != nil {
		_ = p.runs.Fail(ctx, runID, result.Counters, err)
		return result, err
	}

	logs, err := p.fetcher.Fetch(ctx, fetcher.Filter{
		Addresses: addresses,
		Topic0:    p.classifier.Topics(),
		From:      from,
		To:        to,
	}, req.ChunkSize, ratelimit.NewFixedInterval(req.Delay))
	if err != nil {
		_ = p.runs.Fail(ctx, runID, result.Counters, err)
		return result, fmt.Errorf("fetch logs: %w", err)
	}
	result.Counters.EventsFound = len(logs)

	for _, log := range logs {
		p.applyLog(ctx, log, &result.Counters)
	}

	if err := p.runs.Complete(ctx, runID, result.Counters); err != nil {
		return result, err
	}
	return result, nil
}

// Discover walks the whole factory and upserts every readable pair.
func (p *Pipeline) Discover(ctx context.Context, req DiscoverRequest) (Result, error) {
	if req.BatchSize <= 0 {
		return Result{}, fmt.Errorf("batch size must be greater than zero")
	}

	latest, err := p.blocks.LatestBlockNumber(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("latest block: %w", err)
	}
	observedTs, err := p.blocks.BlockTimestamp(ctx, latest)
	if err != nil {
		return Result{}, fmt.Errorf("block timestamp: %w", err)
	}

	runID, err := p.runs.Start(ctx, JobDiscover, req.Source, 0, latest, map[string]string{
		"batch_size": fmt.Sprintf("%d", req.BatchSize),
		"delay_ms":   fmt.Sprintf("%d", req.Delay.Milliseconds()),
	})
	if err != nil {
		return Result{}, err
	}
	result := Result{RunID: runID}

	details, stats, err := p.registry.DiscoverAllPairs(ctx, p.cfg.Factory, latest, req.BatchSize, ratelimit.NewFixedInterval(req.Delay))
	result.Counters.EventsFound = stats.Total
	result.Counters.EventsFailed = stats.Errors
	if err != nil {
		_ = p.runs.Fail(ctx, runID, result.Counters, err)
		return result, fmt.Errorf("discover pairs: %w", err)
	}

	// Writes go out in discovery-sized batches; a failed batch counts
	// every pair in it as failed rather than partially succeeding.
	for start := 0; start < len(details); start += req.BatchSize {
		end := start + req.BatchSize
		if end > len(details) {
			end = len(details)
		}
		chunk := details[start:end]
		if err := p.writer.UpsertDiscovered(ctx, chunk, p.cfg.Factory.Hex(), observedTs); err != nil {
			p.logger.Warn("discovery batch upsert failed",
				zap.Int("pairs", len(chunk)),
				zap.Error(err),
			)
			result.Counters.EventsFailed += len(chunk)
			continue
		}
		result.Counters.EventsProcessed += len(chunk)
	}

	if err := p.runs.Complete(ctx, runID, result.Counters); err != nil {
		return result, err
	}
	return result, nil
}

// applyLog classifies and projects one log, folding the outcome into the
// run counters. Failures are per-item and never abort the loop.
func (p *Pipeline) applyLog(ctx context.Context, log types.Log, counters *model.RunCounters) {
	event, err := p.classifier.Classify(log)
	if err != nil {
		p.logger.Warn("classify failed",
			zap.String("tx", log.TxHash.Hex()),
			zap.Uint("log_index", log.Index),
			zap.Error(err),
		)
		counters.EventsFailed++
		return
	}
	if event == nil {
		counters.EventsSkipped++
		return
	}

	// Topic hashes do not encode the emitter's role: a PairCreated not
	// emitted by the configured factory is some other contract's event.
	if event.Kind() == amm.KindPairCreated && event.Emitter() != p.cfg.Factory {
		counters.EventsSkipped++
		return
	}

	timestamp, err := p.blocks.BlockTimestamp(ctx, log.BlockNumber)
	if err != nil {
		p.logger.Warn("block timestamp read failed",
			zap.Uint64("block", log.BlockNumber),
			zap.Error(err),
		)
		counters.EventsFailed++
		return
	}

	outcome, err := p.writer.Apply(ctx, event, projector.EventMeta{
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    uint64(log.Index),
		Timestamp:   timestamp,
	})
	if err != nil {
		p.logger.Warn("project failed",
			zap.String("kind", event.Kind().String()),
			zap.String("tx", log.TxHash.Hex()),
			zap.Error(err),
		)
		counters.EventsFailed++
		return
	}
	if outcome == projector.Skipped {
		counters.EventsSkipped++
		return
	}
	counters.EventsProcessed++
}

// resolveRange turns the request into concrete block bounds. HoursAgo
// wins over an explicit FromBlock; a zero FromBlock resumes after the
// last completed sync run.
func (p *Pipeline) resolveRange(ctx context.Context, req SyncRequest) (uint64, uint64, error) {
	to := req.ToBlock
	if to == 0 {
		latest, err := p.blocks.LatestBlockNumber(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("latest block: %w", err)
		}
		to = latest
	}

	from := req.FromBlock
	switch {
	case req.HoursAgo > 0:
		if p.cfg.BlockTime <= 0 {
			return 0, 0, fmt.Errorf("block time must be configured for hoursAgo")
		}
		window := uint64(time.Duration(req.HoursAgo) * time.Hour / p.cfg.BlockTime)
		if window >= to {
			from = 0
		} else {
			from = to - window
		}
	case from == 0:
		last, found, err := p.runs.LastCompleted(ctx, JobSync)
		if err != nil {
			return 0, 0, fmt.Errorf("last completed run: %w", err)
		}
		if found {
			from = last.EndBlock + 1
		}
	}

	return from, to, nil
}

// watchedAddresses is the factory plus every pair already in the store.
func (p *Pipeline) watchedAddresses(ctx context.Context) ([]common.Address, error) {
	known, err := p.pairs.ListPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	addresses := make([]common.Address, 0, len(known)+1)
	addresses = append(addresses, p.cfg.Factory)
	for _, pair := range known {
		addresses = append(addresses, common.HexToAddress(pair.Address))
	}
	return addresses, nil
}
