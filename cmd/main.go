package main

import (
	"log/slog"
	"os"
	"runtime"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/lightlink-network/proposer-indexer/config"
)

// Version will be set at build time
var Version = "development"

var rootCmd = &cobra.Command{
	Use:           "proposer-indexer",
	Short:         "Index block proposers of a Tendermint chain and serve per-validator statistics",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(indexCmd, serveCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// setup loads configuration and installs the process logger.
func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
	slog.SetDefault(logger)

	logger.Info("Starting proposer-indexer ("+Version+")",
		"Go Version", runtime.Version(),
		"Operating System", runtime.GOOS,
		"Architecture", runtime.GOARCH)

	return cfg, logger, nil
}
