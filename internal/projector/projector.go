// Package projector turns classified events and discovery readings into
// idempotent relational writes. Pair rows are keyed by address with
// last-write-wins semantics; transactions are append-only with a natural
// dedupe key.
package projector

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"pairscope/internal/amm"
	"pairscope/internal/model"
)

// Store is the persistence boundary the projector writes through.
type Store interface {
	CreatePairIfAbsent(ctx context.Context, pair model.Pair) (bool, error)
	UpsertPairs(ctx context.Context, pairs []model.Pair) error
	UpdatePairReserves(ctx context.Context, pairAddress, reserve0, reserve1 string, block, ts uint64) (bool, error)
	InsertTransactions(ctx context.Context, txs []model.Transaction) error
}

// Outcome reports how an event was handled.
type Outcome int

const (
	// Processed means the event produced at least one write.
	Processed Outcome = iota
	// Skipped means the event was valid but had no state to attach to.
	Skipped
)

// EventMeta carries the log position of a classified event.
type EventMeta struct {
	BlockNumber uint64
	TxHash      string
	LogIndex    uint64
	Timestamp   uint64
}

// Projector persists pair state and transaction history.
type Projector struct {
	store  Store
	logger *zap.Logger
}

// New builds a Projector.
func New(store Store, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{store: store, logger: logger}
}

// UpsertDiscovered persists one discovery batch as the pairs' current
// authoritative state, in a single round trip. Creation fields are only
// honored on first insert; repeated discovery of the same pair touches
// reserves and last-sync only. A failure fails the whole batch.
func (p *Projector) UpsertDiscovered(ctx context.Context, details []amm.PairDetail, factory string, observedAtTs uint64) error {
	pairs := make([]model.Pair, 0, len(details))
	for _, detail := range details {
		pairs = append(pairs, model.Pair{
			Address:        addressKey(detail.Address.Hex()),
			Token0:         addressKey(detail.Token0.Hex()),
			Token1:         addressKey(detail.Token1.Hex()),
			Factory:        addressKey(factory),
			Reserve0:       bigString(detail.Reserve0),
			Reserve1:       bigString(detail.Reserve1),
			TotalSupply:    bigString(detail.TotalSupply),
			CreatedAtBlock: detail.ObservedAtBlock,
			CreatedAtTs:    observedAtTs,
			LastSyncBlock:  detail.ObservedAtBlock,
			LastSyncTs:     observedAtTs,
		})
	}
	if err := p.store.UpsertPairs(ctx, pairs); err != nil {
		return fmt.Errorf("upsert %d pairs: %w", len(pairs), err)
	}
	return nil
}

// Apply maps one classified event onto the store. Sync events against a
// pair that has never been discovered are skipped: there is no row to
// update and no token metadata to create one from. A replayed
// PairCreated against an existing row is also skipped, so re-running an
// older range never zeroes reserves a later Sync has set.
func (p *Projector) Apply(ctx context.Context, event amm.Event, meta EventMeta) (Outcome, error) {
	switch ev := event.(type) {
	case amm.PairCreated:
		pair := model.Pair{
			Address:        addressKey(ev.Pair.Hex()),
			Token0:         addressKey(ev.Token0.Hex()),
			Token1:         addressKey(ev.Token1.Hex()),
			Factory:        addressKey(ev.Factory.Hex()),
			Reserve0:       "0",
			Reserve1:       "0",
			TotalSupply:    "0",
			CreatedAtBlock: meta.BlockNumber,
			CreatedAtTs:    meta.Timestamp,
			LastSyncBlock:  meta.BlockNumber,
			LastSyncTs:     meta.Timestamp,
		}
		created, err := p.store.CreatePairIfAbsent(ctx, pair)
		if err != nil {
			return Skipped, fmt.Errorf("create pair %s: %w", pair.Address, err)
		}
		if !created {
			p.logger.Debug("pair already known", zap.String("pair", pair.Address))
			return Skipped, nil
		}
		return Processed, nil

	case amm.Sync:
		pairAddr := addressKey(ev.Pair.Hex())
		found, err := p.store.UpdatePairReserves(ctx, pairAddr,
			bigString(ev.Reserve0), bigString(ev.Reserve1),
			meta.BlockNumber, meta.Timestamp,
		)
		if err != nil {
			return Skipped, fmt.Errorf("sync reserves %s: %w", pairAddr, err)
		}
		if !found {
			p.logger.Debug("sync for unknown pair", zap.String("pair", pairAddr))
			return Skipped, nil
		}

		tx := model.Transaction{
			PairAddress: pairAddr,
			EventType:   model.EventSync,
			Amount0:     bigString(ev.Reserve0),
			Amount1:     bigString(ev.Reserve1),
			Amount0Out:  "0",
			Amount1Out:  "0",
			BlockNumber: meta.BlockNumber,
			TxHash:      meta.TxHash,
			LogIndex:    meta.LogIndex,
			Timestamp:   meta.Timestamp,
		}
		if err := p.store.InsertTransactions(ctx, []model.Transaction{tx}); err != nil {
			return Skipped, fmt.Errorf("append sync tx: %w", err)
		}
		return Processed, nil

	case amm.Mint:
		return p.appendTransaction(ctx, model.Transaction{
			PairAddress: addressKey(ev.Pair.Hex()),
			EventType:   model.EventMint,
			Amount0:     bigString(ev.Amount0),
			Amount1:     bigString(ev.Amount1),
			Amount0Out:  "0",
			Amount1Out:  "0",
			BlockNumber: meta.BlockNumber,
			TxHash:      meta.TxHash,
			LogIndex:    meta.LogIndex,
			Timestamp:   meta.Timestamp,
		})

	case amm.Burn:
		return p.appendTransaction(ctx, model.Transaction{
			PairAddress: addressKey(ev.Pair.Hex()),
			EventType:   model.EventBurn,
			Amount0:     bigString(ev.Amount0),
			Amount1:     bigString(ev.Amount1),
			Amount0Out:  "0",
			Amount1Out:  "0",
			BlockNumber: meta.BlockNumber,
			TxHash:      meta.TxHash,
			LogIndex:    meta.LogIndex,
			Timestamp:   meta.Timestamp,
		})

	case amm.Swap:
		return p.appendTransaction(ctx, model.Transaction{
			PairAddress: addressKey(ev.Pair.Hex()),
			EventType:   model.EventSwap,
			Amount0:     bigString(ev.Amount0In),
			Amount1:     bigString(ev.Amount1In),
			Amount0Out:  bigString(ev.Amount0Out),
			Amount1Out:  bigString(ev.Amount1Out),
			BlockNumber: meta.BlockNumber,
			TxHash:      meta.TxHash,
			LogIndex:    meta.LogIndex,
			Timestamp:   meta.Timestamp,
		})

	default:
		return Skipped, fmt.Errorf("unsupported event kind %T", event)
	}
}

func (p *Projector) appendTransaction(ctx context.Context, tx model.Transaction) (Outcome, error) {
	if err := p.store.InsertTransactions(ctx, []model.Transaction{tx}); err != nil {
		return Skipped, fmt.Errorf("append %s tx: %w", tx.EventType, err)
	}
	return Processed, nil
}

func addressKey(address string) string {
	return strings.ToLower(address)
}

func bigString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}
