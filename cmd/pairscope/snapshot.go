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
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Compute one analytics snapshot for every pair",
		RunE:  runSnapshot,
	}

	addChainFlags(cmd)

	return cmd
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSnapshot(cfgFile, cmd.Flags())
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

	aggregator := buildAggregator(cfg.Chain, chainClient, store, logger)

	stats, err := aggregator.Run(ctx, time.Now().UTC().Truncate(time.Hour))
	if err != nil {
		return err
	}

	logger.Info("snapshot done",
		zap.Int("created", stats.Created),
		zap.Int("errors", stats.Errors),
	)
	return nil
}
