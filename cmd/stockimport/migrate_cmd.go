package main

import (
	"log/slog"

	"github.com/JonMunkholm/stockimport/internal/application"
	"github.com/spf13/cobra"
)

func newMigrateCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and print what was applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}

			backend, err := application.OpenStore(cmd.Context(), cfg.Database)
			if err != nil {
				return withCode(exitDB, err)
			}
			defer backend.Close()

			applied, err := backend.Migrate(cmd.Context())
			if err != nil {
				return withCode(exitDB, err)
			}
			slog.Info("migrations applied", "driver", cfg.Database.Driver, "count", len(applied))
			return writeJSON(cmd.OutOrStdout(), applied)
		},
	}
}
