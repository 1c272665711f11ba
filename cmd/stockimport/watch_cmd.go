package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/notify"
	"github.com/spf13/cobra"
)

var errRedisDisabled = errors.New("REDIS_URL is not set; progress is not published")

func newWatchCmd(global *globalOptions) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "watch --run <id>",
		Short: "Follow a run's progress published to Redis, one JSON event per line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled() {
				return withCode(exitUsage, errRedisDisabled)
			}

			client, err := notify.NewRedisClient(ctx, cfg.Redis.URL)
			if err != nil {
				return err
			}
			defer client.Close()

			var last core.ProgressEvent
			for ev := range notify.Subscribe(ctx, client, cfg.Redis.ChannelPrefix, runID) {
				if err := writeJSONLine(cmd.OutOrStdout(), ev); err != nil {
					return err
				}
				last = ev
			}
			return watchOutcome(last, ctx.Err())
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run id to follow (required)")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

// watchOutcome turns the final event of a watched run into the command's
// result.
func watchOutcome(last core.ProgressEvent, ctxErr error) error {
	switch last.Type {
	case core.EventComplete:
		return nil
	case core.EventError:
		msg, _ := last.Payload["message"].(string)
		code, _ := last.Payload["code"].(string)
		if code == "IMP001" {
			return withCode(exitCancelled, fmt.Errorf("run %s was cancelled", last.RunID))
		}
		return fmt.Errorf("run %s failed: %s (%s)", last.RunID, msg, code)
	}
	if ctxErr != nil {
		return withCode(exitCancelled, ctxErr)
	}
	return errors.New("event stream ended before the run finished")
}
