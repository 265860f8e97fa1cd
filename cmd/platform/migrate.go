package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fincasdesk/platform/internal/shared/config"
	"github.com/fincasdesk/platform/internal/shared/database"
	"github.com/fincasdesk/platform/internal/shared/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Init(cfg.Log)

	if cfg.Database.InMemory {
		return fmt.Errorf("database.in_memory is set, nothing to migrate")
	}

	db, err := database.New(cmd.Context(), cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(cmd.Context(), db.Pool, log); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}
