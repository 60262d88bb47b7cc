package main

import (
	"errors"
	"fmt"

	"canteen-sync/internal/database"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Create or upgrade the order collections in PostgreSQL.

The four canteen collections and the global collection are tables; a trigger
notifies order stream subscribers of every change.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != "postgres" {
		return errors.New("migrate requires STORE_DRIVER=postgres")
	}
	if err := database.Migrate(cfg.Postgres.DSN()); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}
