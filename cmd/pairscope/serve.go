package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pairscope/internal/api"
	"pairscope/internal/config"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger server with scheduled snapshots",
		RunE:  runServe,
	}

	addChainFlags(cmd)
	cmd.Flags().String("listen", ":8080", "HTTP listen address")
	cmd.Flags().String("api-key", "", "API key required on trigger routes")
	cmd.Flags().Uint64("chunk-size", 500, "default blocks per log request")
	cmd.Flags().Int("batch-size", 20, "default pairs per discovery batch")
	cmd.Flags().Duration("delay", 200*time.Millisecond, "default pause between requests")
	cmd.Flags().String("snapshot-cron", "0 * * * *", "cron schedule for snapshot passes")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadServe(cfgFile, cmd.Flags())
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
	if cfg.APIKey == "" {
		return fmt.Errorf("api key is required")
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
	aggregator := buildAggregator(cfg.Chain, chainClient, store, logger)

	server := api.NewServer(cfg.APIKey, api.Defaults{
		ChunkSize: cfg.ChunkSize,
		BatchSize: cfg.BatchSize,
		Delay:     cfg.Delay,
	}, pipe, aggregator, logger)

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.SnapshotCron, func() {
		stats, err := aggregator.Run(ctx, time.Now().UTC().Truncate(time.Hour))
		if err != nil {
			logger.Error("scheduled snapshot failed", zap.Error(err))
			return
		}
		logger.Info("scheduled snapshot done",
			zap.Int("created", stats.Created),
			zap.Int("errors", stats.Errors),
		)
	})
	if err != nil {
		return fmt.Errorf("invalid snapshot cron %q: %w", cfg.SnapshotCron, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Listen))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
