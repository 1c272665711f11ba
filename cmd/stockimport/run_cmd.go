package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/JonMunkholm/stockimport/internal/core"
	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const cliUserAgent = "stockimport-cli"

type runOptions struct {
	file          string
	requester     string
	runID         string
	batchSize     int
	update        bool
	strict        bool
	uniqueKey     string
	correlation   string
	mappings      []string
	transforms    []string
	failOnInvalid bool
}

func newRunCmd(global *globalOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run --file <path> --requester <id>",
		Short: "Import a CSV file and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := openApp(ctx, global)
			if err != nil {
				return err
			}
			defer app.Close()

			path, err := filepath.Abs(opts.file)
			if err != nil {
				return withCode(exitUsage, fmt.Errorf("resolve --file: %w", err))
			}
			job := app.NewJob(path, inventory.Actor{
				RequesterID: opts.requester,
				UserAgent:   cliUserAgent,
			})
			job, err = opts.apply(cmd.Flags().Changed, job)
			if err != nil {
				return withCode(exitValidation, err)
			}
			if err := job.Validate(); err != nil {
				return withCode(exitValidation, err)
			}

			result, err := app.Runner.Run(ctx, job)
			if err != nil {
				msg := core.MapError(err)
				slog.Error("import failed", "run_id", job.RunID, "code", msg.Code, "action", msg.Action)
				return classify(err)
			}
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if opts.failOnInvalid && result.InvalidCount() > 0 {
				return withCode(exitValidation, fmt.Errorf("%d of %d rows were rejected", result.InvalidCount(), result.RowsRead))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "CSV file to import (required)")
	cmd.Flags().StringVar(&opts.requester, "requester", "", "Requester id recorded in the audit log (required)")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Run id (default: random UUID)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Records per insert statement (default from IMPORT_BATCH_SIZE)")
	cmd.Flags().BoolVar(&opts.update, "update", false, "Update items that already exist instead of rejecting them")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Reject rows whose transformer fails")
	cmd.Flags().StringVar(&opts.uniqueKey, "unique-key", "", "Attribute identifying existing items: sku or name")
	cmd.Flags().StringVar(&opts.correlation, "correlation", "", "Audit correlation: auto, returning, baseline or per_row")
	cmd.Flags().StringSliceVar(&opts.mappings, "map", nil, "Column mapping as Header=attribute (repeatable)")
	cmd.Flags().StringSliceVar(&opts.transforms, "transform", nil, "Transformer as attribute=name (repeatable)")
	cmd.Flags().BoolVar(&opts.failOnInvalid, "fail-on-invalid", false, "Exit non-zero when any row is rejected")

	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("requester")
	return cmd
}

// apply overrides the configured job defaults with the flags that were set.
func (o runOptions) apply(changed func(string) bool, job core.ImportJob) (core.ImportJob, error) {
	job.RunID = o.runID
	if job.RunID == "" {
		job.RunID = uuid.NewString()
	}
	if changed("batch-size") {
		job.BatchSize = o.batchSize
	}
	if changed("update") {
		job.UpdateExisting = o.update
	}
	if changed("strict") {
		job.StrictTransforms = o.strict
	}
	if o.uniqueKey != "" {
		key, err := inventory.ParseUniqueKey(o.uniqueKey)
		if err != nil {
			return job, fmt.Errorf("%w: %w", core.ErrInvalidJob, err)
		}
		job.UniqueKey = key
	}
	if o.correlation != "" {
		mode, err := core.ParseCorrelationMode(o.correlation)
		if err != nil {
			return job, fmt.Errorf("%w: %w", core.ErrInvalidJob, err)
		}
		job.Correlation = mode
	}

	var err error
	if job.ColumnMapping, err = parsePairs("--map", o.mappings, job.ColumnMapping); err != nil {
		return job, err
	}
	if job.Transformers, err = parsePairs("--transform", o.transforms, job.Transformers); err != nil {
		return job, err
	}
	return job, nil
}

// parsePairs reads "key=value" flags into a copy of base.
func parsePairs(flag string, pairs []string, base map[string]string) (map[string]string, error) {
	if len(pairs) == 0 {
		return base, nil
	}
	out := make(map[string]string, len(base)+len(pairs))
	for k, v := range base {
		out[k] = v
	}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("%w: %s expects key=value, got %q", core.ErrInvalidJob, flag, pair)
		}
		out[k] = v
	}
	return out, nil
}
