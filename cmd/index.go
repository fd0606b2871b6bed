package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lightlink-network/proposer-indexer/api"
	"github.com/lightlink-network/proposer-indexer/config"
	"github.com/lightlink-network/proposer-indexer/database"
	"github.com/lightlink-network/proposer-indexer/indexer"
	"github.com/lightlink-network/proposer-indexer/tendermint"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Run the indexer and the statistics API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runIndex(ctx, cfg, logger)
	},
}

func runIndex(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.DatabaseDriver == database.DriverPostgres {
		if err := database.Migrate(cfg.DatabaseURI, logger.With("component", "migrate")); err != nil {
			return err
		}
	}

	client, err := tendermint.NewClient(tendermint.ClientOpts{
		Endpoint: cfg.RPCURL,
		Logger:   logger.With("component", "tendermint"),
	})
	if err != nil {
		return fmt.Errorf("failed to create rpc client: %w", err)
	}

	idx, err := indexer.NewIndexer(indexer.IndexerOpts{
		Source:           client,
		Database:         db,
		Metrics:          indexer.NewMetrics(prometheus.DefaultRegisterer),
		Logger:           logger.With("component", "indexer"),
		BatchSize:        cfg.BatchSize,
		Interval:         cfg.Interval(),
		LowestHeight:     cfg.LowestHeight,
		GapAuditSchedule: cfg.AuditSchedule(),
	})
	if err != nil {
		return fmt.Errorf("failed to create indexer: %w", err)
	}

	server, err := api.NewServer(api.ServerOpts{
		Logger:   logger.With("component", "api-server"),
		Database: db,
		Port:     cfg.APIPort,
	})
	if err != nil {
		return fmt.Errorf("failed to create api server: %w", err)
	}

	// Either side failing takes the other down with it.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.StartServer(gctx) })
	g.Go(func() error { return idx.Run(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shut down gracefully")
	return nil
}

// connect opens the configured store, retrying while it comes up.
func connect(ctx context.Context, cfg config.Config, logger *slog.Logger) (database.Database, error) {
	db, err := database.Connect(ctx, database.DatabaseOpts{
		Driver:       cfg.DatabaseDriver,
		URI:          cfg.DatabaseURI,
		DatabaseName: cfg.DatabaseName,
		LowestHeight: cfg.LowestHeight,
		Logger:       logger.With("component", "database"),
	}, database.RetryOpts{
		Attempts: cfg.DatabaseConnectAttempts,
		Delay:    cfg.ConnectDelay(),
	})
	if errors.Is(err, database.ErrStoreUnavailable) {
		logger.Error("giving up on database", "attempts", cfg.DatabaseConnectAttempts)
	}
	return db, err
}
