package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pairscope/internal/amm"
	"pairscope/internal/analytics"
	"pairscope/internal/chain"
	"pairscope/internal/config"
	"pairscope/internal/fetcher"
	"pairscope/internal/pipeline"
	"pairscope/internal/projector"
	"pairscope/internal/storage/postgres"
	"pairscope/internal/syncrun"
)

// registryCallDelay paces the sequential per-pair detail reads.
const registryCallDelay = 100 * time.Millisecond

func main() {
	root := &cobra.Command{
		Use:          "pairscope",
		Short:        "AMM pair indexer and analytics",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	root.AddCommand(newSyncCmd())
	root.AddCommand(newDiscoverCmd())
	root.AddCommand(newSnapshotCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "chain RPC URL")
	cmd.Flags().String("factory", "", "factory contract address")
	cmd.Flags().String("wrapped-native", "", "wrapped native token address")
	cmd.Flags().String("stable-token", "", "USD stable token address")
	cmd.Flags().Int("stable-decimals", 6, "decimals of the stable token")
	cmd.Flags().Duration("block-time", time.Second, "average block interval")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func validateChain(cfg config.ChainConfig) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.Factory) {
		return fmt.Errorf("factory address is invalid: %q", cfg.Factory)
	}
	if cfg.WrappedNative != "" && !common.IsHexAddress(cfg.WrappedNative) {
		return fmt.Errorf("wrapped-native address is invalid: %q", cfg.WrappedNative)
	}
	if cfg.StableToken != "" && !common.IsHexAddress(cfg.StableToken) {
		return fmt.Errorf("stable-token address is invalid: %q", cfg.StableToken)
	}
	return nil
}

// openStores dials the RPC endpoint and Postgres and applies the schema.
func openStores(ctx context.Context, chainCfg config.ChainConfig, pgDSN string, logger *zap.Logger) (*chain.Client, *postgres.Store, error) {
	if pgDSN == "" {
		return nil, nil, fmt.Errorf("pg dsn is required")
	}

	chainClient, err := chain.NewClient(ctx, chainCfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rpc: %w", err)
	}

	chainID, err := chainClient.ChainID(ctx)
	if err != nil {
		chainClient.Close()
		return nil, nil, fmt.Errorf("read chain id: %w", err)
	}
	logger.Info("connected", zap.String("chain_id", chainID.String()), zap.String("factory", chainCfg.Factory))

	store, err := postgres.NewStore(ctx, pgDSN)
	if err != nil {
		chainClient.Close()
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		store.Close()
		chainClient.Close()
		return nil, nil, fmt.Errorf("init schema: %w", err)
	}
	return chainClient, store, nil
}

func buildPipeline(chainCfg config.ChainConfig, chainClient *chain.Client, store *postgres.Store, logger *zap.Logger) (*pipeline.Pipeline, error) {
	classifier, err := amm.NewClassifier()
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}

	return pipeline.New(
		pipeline.Config{
			Factory:   common.HexToAddress(chainCfg.Factory),
			BlockTime: chainCfg.BlockTime,
		},
		chainClient,
		fetcher.New(chainClient, logger),
		classifier,
		amm.NewRegistry(chainClient, registryCallDelay, logger),
		projector.New(store, logger),
		store,
		syncrun.New(store, logger),
		logger,
	), nil
}

func buildAggregator(chainCfg config.ChainConfig, chainClient *chain.Client, store *postgres.Store, logger *zap.Logger) *analytics.Aggregator {
	decimals := analytics.NewDecimalsResolver(chainClient, logger)
	if chainCfg.WrappedNative != "" {
		// Wrapped native tokens are 18 decimals by construction.
		decimals.Override(common.HexToAddress(chainCfg.WrappedNative), 18)
	}
	if chainCfg.StableToken != "" {
		decimals.Override(common.HexToAddress(chainCfg.StableToken), chainCfg.StableDecimals)
	}
	return analytics.NewAggregator(
		analytics.Config{
			WrappedNative: common.HexToAddress(chainCfg.WrappedNative),
			StableToken:   common.HexToAddress(chainCfg.StableToken),
		},
		store,
		decimals,
		logger,
	)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
