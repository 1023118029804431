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

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Walk the factory and upsert every pair",
		RunE:  runDiscover,
	}

	addChainFlags(cmd)
	cmd.Flags().Int("batch-size", 20, "pairs per discovery batch")
	cmd.Flags().Duration("delay", time.Second, "pause between batches")

	return cmd
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDiscover(cfgFile, cmd.Flags())
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

	result, err := pipe.Discover(ctx, pipeline.DiscoverRequest{
		BatchSize: cfg.BatchSize,
		Delay:     cfg.Delay,
		Source:    "cli",
	})
	if err != nil {
		return err
	}

	logger.Info("discover done",
		zap.Int64("run_id", result.RunID),
		zap.Int("total", result.Counters.EventsFound),
		zap.Int("upserted", result.Counters.EventsProcessed),
		zap.Int("failed", result.Counters.EventsFailed),
	)
	return nil
}
