// Package syncrun records provenance for pipeline executions. A run is
// opened as running and moved exactly once to completed or failed; the
// tracker never gates or retries the pipeline it observes.
package syncrun

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"pairscope/internal/model"
)

// Store is the persistence boundary for run records.
type Store interface {
	CreateSyncRun(ctx context.Context, run model.SyncRun) (int64, error)
	FinishSyncRun(ctx context.Context, id int64, status string, counters model.RunCounters, errorMessage string) (bool, error)
	LastCompletedRun(ctx context.Context, jobName string) (model.SyncRun, bool, error)
}

// Tracker opens and closes run records.
type Tracker struct {
	store  Store
	logger *zap.Logger
}

func New(store Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, logger: logger}
}

// Start records a running run and returns its id.
func (t *Tracker) Start(ctx context.Context, jobName, source string, startBlock, endBlock uint64, metadata map[string]string) (int64, error) {
	id, err := t.store.CreateSyncRun(ctx, model.SyncRun{
		JobName:    jobName,
		Source:     source,
		Status:     model.RunStatusRunning,
		StartBlock: startBlock,
		EndBlock:   endBlock,
		Metadata:   metadata,
	})
	if err != nil {
		return 0, fmt.Errorf("create run: %w", err)
	}
	t.logger.Info("run started",
		zap.Int64("run_id", id),
		zap.String("job", jobName),
		zap.Uint64("start_block", startBlock),
		zap.Uint64("end_block", endBlock),
	)
	return id, nil
}

// Complete moves the run to completed with its final counters. Returns an
// error if the run was already terminal.
func (t *Tracker) Complete(ctx context.Context, id int64, counters model.RunCounters) error {
	moved, err := t.store.FinishSyncRun(ctx, id, model.RunStatusCompleted, counters, "")
	if err != nil {
		return fmt.Errorf("complete run %d: %w", id, err)
	}
	if !moved {
		return fmt.Errorf("run %d is not running", id)
	}
	t.logger.Info("run completed",
		zap.Int64("run_id", id),
		zap.Int("found", counters.EventsFound),
		zap.Int("processed", counters.EventsProcessed),
		zap.Int("skipped", counters.EventsSkipped),
		zap.Int("failed", counters.EventsFailed),
	)
	return nil
}

// Fail moves the run to failed, keeping whatever counters had accumulated.
func (t *Tracker) Fail(ctx context.Context, id int64, counters model.RunCounters, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	moved, err := t.store.FinishSyncRun(ctx, id, model.RunStatusFailed, counters, message)
	if err != nil {
		return fmt.Errorf("fail run %d: %w", id, err)
	}
	if !moved {
		return fmt.Errorf("run %d is not running", id)
	}
	t.logger.Warn("run failed",
		zap.Int64("run_id", id),
		zap.String("error", message),
	)
	return nil
}

// LastCompleted returns the most recent completed run of a job, used to
// resume a backfill from where the previous one stopped.
func (t *Tracker) LastCompleted(ctx context.Context, jobName string) (model.SyncRun, bool, error) {
	return t.store.LastCompletedRun(ctx, jobName)
}
