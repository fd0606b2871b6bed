package main

import (
	"github.com/spf13/cobra"

	"github.com/lightlink-network/proposer-indexer/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		if cfg.DatabaseDriver == database.DriverPostgres {
			return database.Migrate(cfg.DatabaseURI, logger.With("component", "migrate"))
		}

		// Mongo has no schema; connecting creates the indexes.
		db, err := connect(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		db.Close()
		logger.Info("indexes are up to date", "driver", cfg.DatabaseDriver)
		return nil
	},
}
