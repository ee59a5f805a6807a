package main

import (
	"fmt"

	"github.com/spf13/cobra"

	pgstore "github.com/mihaimyh/jobgate/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending Postgres schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for migrate")
		}

		pgCfg := pgstore.DefaultConfig()
		pgCfg.ConnectionString = cfg.DatabaseURL
		store, err := pgstore.New(cmd.Context(), pgCfg)
		if err != nil {
			return err
		}
		defer store.Close()

		applied, err := store.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			log.Info().Msg("schema is up to date")
			return nil
		}
		for _, name := range applied {
			log.Info().Str("migration", name).Msg("applied migration")
		}
		return nil
	},
}
