package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lightlink-network/proposer-indexer/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the statistics API without indexing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		db, err := connect(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		server, err := api.NewServer(api.ServerOpts{
			Logger:   logger.With("component", "api-server"),
			Database: db,
			Port:     cfg.APIPort,
		})
		if err != nil {
			return err
		}

		return server.StartServer(ctx)
	},
}
