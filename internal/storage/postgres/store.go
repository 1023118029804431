// Package postgres implements the relational store behind the indexing
// pipeline. Every write is an idempotent upsert or an append-only insert,
// so overlapping pipeline invocations are safe without cross-row locks.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pairscope/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Store provides Postgres persistence for pairs, transactions, snapshots,
// and sync runs.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema applies the embedded DDL. All statements are idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const upsertPairSQL = `
	INSERT INTO pairs (
		pair_address, token0_address, token1_address, factory_address,
		reserve0, reserve1, total_supply,
		created_at_block, created_at_ts, last_sync_block, last_sync_ts,
		created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
	ON CONFLICT (pair_address)
	DO UPDATE SET
		reserve0 = EXCLUDED.reserve0,
		reserve1 = EXCLUDED.reserve1,
		total_supply = EXCLUDED.total_supply,
		last_sync_block = EXCLUDED.last_sync_block,
		last_sync_ts = EXCLUDED.last_sync_ts,
		updated_at = now()
`

// CreatePairIfAbsent inserts a pair row only when none exists yet.
// Creation events can be replayed over ranges an earlier run already
// covered; a replay must not overwrite reserves a later Sync has set.
// Returns false when the row already existed.
func (s *Store) CreatePairIfAbsent(ctx context.Context, pair model.Pair) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pairs (
			pair_address, token0_address, token1_address, factory_address,
			reserve0, reserve1, total_supply,
			created_at_block, created_at_ts, last_sync_block, last_sync_ts,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (pair_address) DO NOTHING
	`,
		pair.Address,
		pair.Token0,
		pair.Token1,
		pair.Factory,
		pair.Reserve0,
		pair.Reserve1,
		pair.TotalSupply,
		int64(pair.CreatedAtBlock),
		int64(pair.CreatedAtTs),
		int64(pair.LastSyncBlock),
		int64(pair.LastSyncTs),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertPairs batches pair upserts. A failure fails the whole batch; the
// caller counts it as such rather than assuming partial success.
func (s *Store) UpsertPairs(ctx context.Context, pairs []model.Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pair := range pairs {
		batch.Queue(upsertPairSQL,
			pair.Address,
			pair.Token0,
			pair.Token1,
			pair.Factory,
			pair.Reserve0,
			pair.Reserve1,
			pair.TotalSupply,
			int64(pair.CreatedAtBlock),
			int64(pair.CreatedAtTs),
			int64(pair.LastSyncBlock),
			int64(pair.LastSyncTs),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pairs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpdatePairReserves overwrites a known pair's reserves and last-sync
// marker. Returns false when the pair has never been discovered; the
// caller decides whether that is worth counting.
func (s *Store) UpdatePairReserves(
	ctx context.Context,
	pairAddress string,
	reserve0, reserve1 string,
	block, ts uint64,
) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pairs SET
			reserve0 = $2,
			reserve1 = $3,
			last_sync_block = $4,
			last_sync_ts = $5,
			updated_at = now()
		WHERE pair_address = $1
	`, pairAddress, reserve0, reserve1, int64(block), int64(ts))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// InsertTransactions appends decoded events. The (tx_hash, log_index)
// uniqueness constraint turns replays into no-ops.
func (s *Store) InsertTransactions(ctx context.Context, txs []model.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, tx := range txs {
		batch.Queue(`
			INSERT INTO pair_transactions (
				pair_address, event_type, amount0, amount1, amount0_out, amount1_out,
				block_number, tx_hash, log_index, ts
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (tx_hash, log_index) DO NOTHING
		`,
			tx.PairAddress,
			tx.EventType,
			tx.Amount0,
			tx.Amount1,
			tx.Amount0Out,
			tx.Amount1Out,
			int64(tx.BlockNumber),
			tx.TxHash,
			int64(tx.LogIndex),
			int64(tx.Timestamp),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range txs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ListPairs returns all known pairs.
func (s *Store) ListPairs(ctx context.Context) ([]model.Pair, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pair_address, token0_address, token1_address, factory_address,
		       reserve0, reserve1, total_supply,
		       created_at_block, created_at_ts, last_sync_block, last_sync_ts
		FROM pairs
		ORDER BY pair_address
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []model.Pair
	for rows.Next() {
		var p model.Pair
		var createdBlock, createdTs, syncBlock, syncTs int64
		if err := rows.Scan(
			&p.Address, &p.Token0, &p.Token1, &p.Factory,
			&p.Reserve0, &p.Reserve1, &p.TotalSupply,
			&createdBlock, &createdTs, &syncBlock, &syncTs,
		); err != nil {
			return nil, err
		}
		p.CreatedAtBlock = uint64(createdBlock)
		p.CreatedAtTs = uint64(createdTs)
		p.LastSyncBlock = uint64(syncBlock)
		p.LastSyncTs = uint64(syncTs)
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// SwapsSince returns swap transactions for one pair with ts >= since.
func (s *Store) SwapsSince(ctx context.Context, pairAddress string, since time.Time) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pair_address, event_type, amount0, amount1, amount0_out, amount1_out,
		       block_number, tx_hash, log_index, ts
		FROM pair_transactions
		WHERE pair_address = $1 AND event_type = $2 AND ts >= $3
		ORDER BY ts
	`, pairAddress, model.EventSwap, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var tx model.Transaction
		var blockNumber, logIndex, ts int64
		if err := rows.Scan(
			&tx.PairAddress, &tx.EventType,
			&tx.Amount0, &tx.Amount1, &tx.Amount0Out, &tx.Amount1Out,
			&blockNumber, &tx.TxHash, &logIndex, &ts,
		); err != nil {
			return nil, err
		}
		tx.BlockNumber = uint64(blockNumber)
		tx.LogIndex = uint64(logIndex)
		tx.Timestamp = uint64(ts)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// UpsertSnapshot inserts or replaces the snapshot for its time bucket,
// keeping repeated runs over the same bucket idempotent.
func (s *Store) UpsertSnapshot(ctx context.Context, snap model.PairSnapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pair_snapshots (
			pair_address, snapshot_ts, tvl_usd, price_token0, price_token1,
			volume_24h, fees_24h, apr, reserve0, reserve1, total_supply,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (pair_address, snapshot_ts)
		DO UPDATE SET
			tvl_usd = EXCLUDED.tvl_usd,
			price_token0 = EXCLUDED.price_token0,
			price_token1 = EXCLUDED.price_token1,
			volume_24h = EXCLUDED.volume_24h,
			fees_24h = EXCLUDED.fees_24h,
			apr = EXCLUDED.apr,
			reserve0 = EXCLUDED.reserve0,
			reserve1 = EXCLUDED.reserve1,
			total_supply = EXCLUDED.total_supply,
			updated_at = now()
	`,
		snap.PairAddress,
		snap.SnapshotTs,
		snap.TVLUSD,
		snap.PriceToken0,
		snap.PriceToken1,
		snap.Volume24h,
		snap.Fees24h,
		snap.APR,
		snap.Reserve0,
		snap.Reserve1,
		snap.TotalSupply,
	)
	return err
}

// CreateSyncRun inserts a running provenance row and returns its id.
func (s *Store) CreateSyncRun(ctx context.Context, run model.SyncRun) (int64, error) {
	metadata := run.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sync_runs (
			job_name, source, start_time, status, start_block, end_block, metadata
		) VALUES ($1, $2, now(), $3, $4, $5, $6)
		RETURNING id
	`,
		run.JobName,
		run.Source,
		model.RunStatusRunning,
		int64(run.StartBlock),
		int64(run.EndBlock),
		metadata,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// FinishSyncRun moves a running row to a terminal state. The status guard
// makes the transition exactly-once: a second terminal call affects zero
// rows and returns false.
func (s *Store) FinishSyncRun(
	ctx context.Context,
	id int64,
	status string,
	counters model.RunCounters,
	errorMessage string,
) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_runs SET
			status = $2,
			end_time = now(),
			duration_ms = (EXTRACT(EPOCH FROM (now() - start_time)) * 1000)::bigint,
			events_found = $3,
			events_processed = $4,
			events_skipped = $5,
			events_failed = $6,
			error_message = $7
		WHERE id = $1 AND status = $8
	`,
		id,
		status,
		int64(counters.EventsFound),
		int64(counters.EventsProcessed),
		int64(counters.EventsSkipped),
		int64(counters.EventsFailed),
		errorMessage,
		model.RunStatusRunning,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// LastCompletedRun returns the most recent completed run of a job.
func (s *Store) LastCompletedRun(ctx context.Context, jobName string) (model.SyncRun, bool, error) {
	var run model.SyncRun
	var startBlock, endBlock int64
	row := s.pool.QueryRow(ctx, `
		SELECT id, job_name, source, start_time, end_time, status,
		       start_block, end_block,
		       events_found, events_processed, events_skipped, events_failed,
		       duration_ms, error_message
		FROM sync_runs
		WHERE job_name = $1 AND status = $2
		ORDER BY id DESC
		LIMIT 1
	`, jobName, model.RunStatusCompleted)
	err := row.Scan(
		&run.ID, &run.JobName, &run.Source, &run.StartTime, &run.EndTime, &run.Status,
		&startBlock, &endBlock,
		&run.Counters.EventsFound, &run.Counters.EventsProcessed,
		&run.Counters.EventsSkipped, &run.Counters.EventsFailed,
		&run.DurationMs, &run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SyncRun{}, false, nil
		}
		return model.SyncRun{}, false, err
	}
	run.StartBlock = uint64(startBlock)
	run.EndBlock = uint64(endBlock)
	return run, true, nil
}
