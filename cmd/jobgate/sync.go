package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/jobgate/internal/app"
)

var syncCmd = &cobra.Command{
	Use:   "sync <account-id>",
	Short: "Re-read an account's subscription from Stripe and reconcile it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateBilling(); err != nil {
			return err
		}

		a, err := app.New(cmd.Context(), cfg, log, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		sub, err := a.Provider.SyncAccount(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sub)
	},
}
