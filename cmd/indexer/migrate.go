package main

import (
	"github.com/spf13/cobra"

	"poolIndexer/internal/config"
	"poolIndexer/internal/storage/postgres"
)

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadMigrate(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	dsn, err := cfg.DSN()
	if err != nil {
		return err
	}
	return postgres.Migrate(dsn, logger)
}
