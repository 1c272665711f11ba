package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/JonMunkholm/stockimport/internal/application"
	"github.com/JonMunkholm/stockimport/internal/config"
	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/logging"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	envFile string
}

func newRootCmd() *cobra.Command {
	var opts globalOptions

	cmd := &cobra.Command{
		Use:           "stockimport",
		Short:         "Bulk import inventory items from CSV files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded before the environment is read")

	cmd.AddCommand(newRunCmd(&opts))
	cmd.AddCommand(newMigrateCmd(&opts))
	cmd.AddCommand(newWatchCmd(&opts))
	cmd.AddCommand(newStatsCmd(&opts))
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprint(os.Stderr, errorOutput(err))
		os.Exit(code)
	}
}

// errorOutput renders err for stderr. Errors with a catalogued code get the
// user message and suggested action on a second line.
func errorOutput(err error) string {
	out := err.Error() + "\n"
	if core.IsUserFacing(err) {
		out += core.FormatUserError(err) + "\n"
	}
	return out
}

// loadConfig reads the configuration and sends logs to stderr so stdout
// carries only command output.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, withCode(exitUsage, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	slog.SetDefault(logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))
	return cfg, nil
}

func openApp(ctx context.Context, opts *globalOptions) (*application.App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	app, err := application.New(ctx, cfg)
	if err != nil {
		return nil, withCode(exitDB, err)
	}
	return app, nil
}
