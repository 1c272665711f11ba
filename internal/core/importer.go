package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/JonMunkholm/stockimport/internal/logging"
)

// DefaultProgressInterval is how many rows pass between progress events.
const DefaultProgressInterval = 500

// ContextCheckInterval is how often the row loop checks for cancellation.
var ContextCheckInterval = 100

// Importer runs import jobs against a store.
type Importer struct {
	store            inventory.Store
	gate             *SecurityGate
	reporter         ProgressReporter
	hooks            []SaveHook
	progressInterval int
	now              func() time.Time
}

// Option configures an Importer.
type Option func(*Importer)

// WithReporter adds a reporter that receives every run's events.
func WithReporter(r ProgressReporter) Option {
	return func(im *Importer) {
		if existing, ok := im.reporter.(MultiReporter); ok {
			im.reporter = append(existing, r)
			return
		}
		im.reporter = MultiReporter{im.reporter, r}
	}
}

// WithSaveHooks replaces the hooks run after each update save. The default
// is QuantityChangeHook.
func WithSaveHooks(hooks ...SaveHook) Option {
	return func(im *Importer) { im.hooks = hooks }
}

// WithProgressInterval sets the rows between progress events.
func WithProgressInterval(rows int) Option {
	return func(im *Importer) {
		if rows > 0 {
			im.progressInterval = rows
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(im *Importer) { im.now = now }
}

// NewImporter returns an importer writing to store and checking files with gate.
func NewImporter(store inventory.Store, gate *SecurityGate, opts ...Option) *Importer {
	im := &Importer{
		store:            store,
		gate:             gate,
		reporter:         MultiReporter{LogReporter{}},
		hooks:            []SaveHook{QuantityChangeHook},
		progressInterval: DefaultProgressInterval,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Run executes job. Row-level problems are returned in the result; an error
// is returned only when the file was rejected, the job was misconfigured, or
// the transaction failed (in which case nothing was written).
func (im *Importer) Run(ctx context.Context, job ImportJob, extra ...ProgressReporter) (*ImportResult, error) {
	start := im.now()
	job = job.withDefaults()
	ctx = logging.WithRunID(ctx, job.RunID)
	logger := logging.WithFields(ctx, "path", job.SourcePath, "requester", job.Actor.RequesterID)

	reporter := MultiReporter{im.reporter}
	reporter = append(reporter, extra...)

	result, err := im.run(ctx, job, logger, reporter)
	if err != nil {
		logger.Error("import failed", "error", err)
		reporter.Report(ctx, im.errorEvent(job.RunID, err))
		return nil, err
	}

	result.Duration = im.now().Sub(start)
	result.DurationMs = result.Duration.Milliseconds()
	logger.Info("import complete",
		"rows_read", result.RowsRead,
		"valid", result.ValidCount,
		"updated", result.UpdateCount,
		"invalid", result.InvalidCount(),
		"audit_entries", result.AuditCount,
		"correlation", result.Correlation,
		"duration_ms", result.DurationMs,
	)
	reporter.Report(ctx, ProgressEvent{
		Type:      EventComplete,
		Progress:  100,
		RunID:     job.RunID,
		Timestamp: im.now(),
		Payload:   result.payload(),
	})
	return result, nil
}

func (im *Importer) run(ctx context.Context, job ImportJob, logger *slog.Logger, reporter ProgressReporter) (*ImportResult, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	mode := ResolveCorrelation(job.Correlation, im.store.ReturnsInsertedIDs())
	if mode == CorrelationReturning && !im.store.ReturnsInsertedIDs() {
		return nil, fmt.Errorf("%w: returning correlation needs a store that returns inserted ids", ErrInvalidJob)
	}

	mapper, err := NewRowMapper(job.ColumnMapping, job.Transformers, job.StrictTransforms)
	if err != nil {
		return nil, err
	}
	if err := im.gate.Validate(job.SourcePath, mapper); err != nil {
		return nil, err
	}

	src, err := openSource(job.SourcePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	logger.Info("import started", "batch_size", job.BatchSize, "correlation", mode, "update_existing", job.UpdateExisting)
	reporter.Report(ctx, ProgressEvent{Type: EventProgress, RunID: job.RunID, Timestamp: im.now(),
		Payload: map[string]any{"phase": "started"}})

	result := &ImportResult{RunID: job.RunID, Correlation: mode, InvalidRecords: []InvalidRecord{}}
	classifier := NewRecordClassifier(job.UpdateExisting, job.UniqueKey)
	correlator := NewAuditCorrelator(job.RunID, job.Actor, logger, im.now)

	var (
		writer *BatchWriter
		txErr  error
	)
	err = im.store.InTx(ctx, func(tx inventory.Tx) error {
		writer = NewBatchWriter(tx, correlator, WriterConfig{
			BatchSize:   job.BatchSize,
			Correlation: mode,
			Returning:   im.store.ReturnsInsertedIDs(),
			RunID:       job.RunID,
			Actor:       job.Actor,
			Hooks:       im.hooks,
			Now:         im.now,
		})
		txErr = im.process(ctx, job, src, mapper, classifier, writer, result, reporter)
		return txErr
	})
	if err != nil {
		if txErr == nil {
			// begin or commit failed
			return nil, &BatchWriteError{RunID: job.RunID, Op: "commit", Err: err}
		}
		return nil, err
	}

	result.AuditCount = writer.Stats.AuditEntries
	result.CorrelationWarnings = correlator.Warnings
	return result, nil
}

func (im *Importer) process(ctx context.Context, job ImportJob, src *csvSource, mapper *RowMapper,
	classifier *RecordClassifier, writer *BatchWriter, result *ImportResult, reporter ProgressReporter) error {

	for {
		if result.RowsRead%ContextCheckInterval == 0 {
			if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("import timed out: %w", err)
			} else if err != nil {
				return fmt.Errorf("import cancelled: %w", err)
			}
		}

		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		result.RowsRead++

		attrs, mapErr := mapper.Map(ctx, row)

		keyValue := ""
		if mapErr == nil {
			keyValue = classifier.KeyValue(attrs)
			if keyValue != "" && writer.Pending(keyValue) {
				if err := writer.Flush(ctx); err != nil {
					return err
				}
			}
		}

		rec, err := classifier.Classify(ctx, writer.tx, attrs, row, mapErr)
		if err != nil {
			return &BatchWriteError{RunID: job.RunID, Op: "lookup", Err: err}
		}

		switch rec.Bucket {
		case BucketInsertable:
			result.ValidCount++
		case BucketUpdatable:
			result.UpdateCount++
		case BucketInvalid:
			result.InvalidRecords = append(result.InvalidRecords, InvalidRecord{
				Line:   row.Line,
				Row:    row.Values(),
				Errors: rec.Errors,
			})
		}

		if rec.Bucket != BucketInvalid {
			if err := writer.Add(ctx, rec, keyValue); err != nil {
				return err
			}
		}

		if result.RowsRead%im.progressInterval == 0 {
			reporter.Report(ctx, ProgressEvent{
				Type:      EventProgress,
				Progress:  min(src.counter.Percent(), 99),
				RunID:     job.RunID,
				Timestamp: im.now(),
				Payload: map[string]any{
					"rows_read":     result.RowsRead,
					"valid_count":   result.ValidCount,
					"update_count":  result.UpdateCount,
					"invalid_count": result.InvalidCount(),
					"bytes_read":    src.counter.BytesRead(),
				},
			})
		}
	}

	return writer.Flush(ctx)
}

func (im *Importer) errorEvent(runID string, err error) ProgressEvent {
	msg := MapError(err)
	payload := map[string]any{
		"error":   err.Error(),
		"code":    msg.Code,
		"message": msg.Message,
		"action":  msg.Action,
	}
	var se *SecurityError
	if errors.As(err, &se) {
		payload["reason"] = string(se.Reason)
		if len(se.Missing) > 0 {
			payload["missing_headers"] = se.Missing
		}
	}
	return ProgressEvent{Type: EventError, RunID: runID, Timestamp: im.now(), Payload: payload}
}
