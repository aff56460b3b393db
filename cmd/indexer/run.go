package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolIndexer/internal/chain"
	"poolIndexer/internal/config"
	"poolIndexer/internal/dex"
	"poolIndexer/internal/indexer"
	"poolIndexer/internal/metrics"
	"poolIndexer/internal/storage"
	"poolIndexer/internal/storage/memstore"
	"poolIndexer/internal/storage/postgres"
)

func runIndexer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	pool, err := cfg.PoolAddress()
	if err != nil {
		return err
	}
	topics, err := dex.Topics()
	if err != nil {
		return err
	}
	decoder, err := dex.NewV3PoolDecoder()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	linkMetrics := metrics.NewLink(pool.Hex())
	pipelineMetrics := metrics.NewPipeline(pool.Hex())

	if err := probePool(ctx, cfg, pool, linkMetrics, logger); err != nil {
		return err
	}

	link := chain.NewLink(chain.Config{
		Address:          pool,
		Topics:           topics,
		ReconcileDepth:   cfg.ReconcileDepth,
		BackfillChunk:    cfg.BackfillChunk,
		BackfillRPS:      cfg.BackfillRPS,
		DialTimeout:      cfg.DialTimeout,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		MaxRetries:       cfg.MaxRetries,
		RetryBackoff:     cfg.RetryBackoff,
		RetryMaxInterval: cfg.RetryMaxInterval,
	}, chain.NewDialer(cfg.RPCURL, linkMetrics), store, logger, linkMetrics)
	defer link.Close()

	var deadLetter indexer.DeadLetter
	if cfg.Errors != "" {
		deadLetter = storage.NewDeadLetterFile(cfg.Errors)
	}

	coordinator := indexer.NewCoordinator(indexer.Config{
		StartBlock:      cfg.StartBlock,
		BatchSize:       cfg.BatchSize,
		FlushInterval:   cfg.FlushInterval,
		QueueSize:       cfg.QueueSize,
		DecodeWorkers:   cfg.DecodeWorkers,
		MaxRetries:      cfg.MaxRetries,
		RetryBackoff:    cfg.RetryBackoff,
		RetryMaxBackoff: cfg.RetryMaxInterval,
		ShutdownTimeout: cfg.ShutdownTimeout,
		SentRetention:   cfg.ReconcileDepth,
	}, link, decoder, store, deadLetter, logger, pipelineMetrics)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("indexer start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("pool", pool.Hex()),
		zap.Uint64("start_block", cfg.StartBlock),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("flush_interval", cfg.FlushInterval),
		zap.Uint64("reconcile_depth", cfg.ReconcileDepth),
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("errors", cfg.Errors),
	)

	err = coordinator.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("indexer stopped")
		return nil
	}
	return err
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (indexer.Store, error) {
	if cfg.DryRun {
		logger.Warn("dry run: events are kept in memory and discarded on exit")
		return memstore.New(), nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	store, err := postgres.NewStore(ctx, dsn, cfg.CommitTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Verify(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("%w (run `indexer migrate` first)", err)
	}
	return store, nil
}

// probePool checks that the configured address is a pool before streaming starts. Only a
// contract that rejects the pool getters is fatal; connection problems are left to the link.
func probePool(ctx context.Context, cfg config.Config, pool common.Address, m *metrics.Link, logger *zap.Logger) error {
	probeCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	client, err := chain.NewClient(probeCtx, cfg.RPCURL, m)
	if err != nil {
		logger.Warn("pool probe skipped", zap.Error(err))
		return nil
	}
	defer client.Close()

	chainID, err := client.GetChainID(probeCtx)
	if err != nil {
		logger.Warn("pool probe failed", zap.Error(err))
		return nil
	}

	meta, err := dex.FetchPoolMeta(probeCtx, client, pool, logger)
	switch {
	case errors.Is(err, dex.ErrNotPool):
		return &chain.ConnectionError{Kind: chain.Fatal, Op: "probe", Err: fmt.Errorf("%s: %w", pool.Hex(), err)}
	case err != nil:
		logger.Warn("pool probe failed", zap.Error(err))
		return nil
	}

	logger.Info("pool identified",
		zap.String("chain_id", chainID.String()),
		zap.String("pool", meta.Address),
		zap.String("pair", meta.Pair()),
		zap.String("token0", meta.Token0.Address),
		zap.String("token1", meta.Token1.Address),
		zap.Uint32("fee", meta.Fee),
		zap.Int32("tick_spacing", meta.TickSpacing),
	)
	return nil
}
