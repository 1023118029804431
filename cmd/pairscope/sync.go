package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pairscope/internal/config"
	"pairscope/internal/pipeline"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Backfill pair events over a block range",
		RunE:  runSync,
	}

	addChainFlags(cmd)
	cmd.Flags().Uint64("from", 0, "start block (inclusive), 0 resumes after the last completed run")
	cmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	cmd.Flags().Uint64("hours-ago", 0, "sync a head-relative window instead of explicit blocks")
	cmd.Flags().Uint64("chunk-size", 500, "blocks per log request")
	cmd.Flags().Duration("delay", 200*time.Millisecond, "pause between log requests")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSync(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := validateChain(cfg.Chain); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, store, err := openStores(ctx, cfg.Chain, cfg.PGDSN, logger)
	if err != nil {
		return err
	}
	defer chainClient.Close()
	defer store.Close()

	pipe, err := buildPipeline(cfg.Chain, chainClient, store, logger)
	if err != nil {
		return err
	}

	logger.Info("sync start",
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("hours_ago", cfg.HoursAgo),
		zap.Uint64("chunk_size", cfg.ChunkSize),
	)

	result, err := pipe.Sync(ctx, pipeline.SyncRequest{
		FromBlock: cfg.FromBlock,
		ToBlock:   cfg.ToBlock,
		HoursAgo:  cfg.HoursAgo,
		ChunkSize: cfg.ChunkSize,
		Delay:     cfg.Delay,
		Source:    "cli",
	})
	if err != nil {
		return err
	}

	logger.Info("sync done",
		zap.Int64("run_id", result.RunID),
		zap.Int("found", result.Counters.EventsFound),
		zap.Int("processed", result.Counters.EventsProcessed),
		zap.Int("skipped", result.Counters.EventsSkipped),
		zap.Int("failed", result.Counters.EventsFailed),
	)
	return nil
}
