package main

import (
	"github.com/JonMunkholm/stockimport/internal/application"
	"github.com/spf13/cobra"
)

type storeStats struct {
	Items        int64 `json:"items"`
	AuditEntries int64 `json:"audit_entries"`
}

func newStatsCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print how many items and audit entries the database holds",
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

			var stats storeStats
			if stats.Items, err = backend.CountItems(cmd.Context()); err != nil {
				return withCode(exitDB, err)
			}
			if stats.AuditEntries, err = backend.CountAuditEntries(cmd.Context()); err != nil {
				return withCode(exitDB, err)
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}
}
