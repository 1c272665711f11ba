package core

import (
	"context"
	"time"

	"github.com/JonMunkholm/stockimport/internal/inventory"
)

// SavedChange describes one individual save of an existing item.
type SavedChange struct {
	RunID  string
	Actor  inventory.Actor
	Before inventory.Item
	After  inventory.Item
	At     time.Time
}

// SaveHook runs after each individual save, inside the run's transaction.
// Returned audit entries are written with the rest of the update batch.
type SaveHook func(ctx context.Context, tx inventory.Tx, change SavedChange) ([]inventory.AuditEntry, error)

// QuantityChangeHook records an import:update entry whenever a save changed
// the item's quantity.
func QuantityChangeHook(_ context.Context, _ inventory.Tx, change SavedChange) ([]inventory.AuditEntry, error) {
	if change.Before.Quantity == change.After.Quantity {
		return nil, nil
	}
	return []inventory.AuditEntry{
		inventory.NewQuantityChange(change.After.ID, change.Before.Quantity, change.After.Quantity,
			inventory.NoteImportUpdate, change.RunID, change.Actor, change.At),
	}, nil
}

// WriterStats counts what a BatchWriter persisted.
type WriterStats struct {
	Inserted     int
	Updated      int
	AuditEntries int
	Batches      int
}

// BatchWriter buffers classified records and writes them inside one
// transaction. Insertable records go through one set-oriented insert per
// batch; updatable records are saved one by one so save hooks fire.
type BatchWriter struct {
	tx         inventory.Tx
	batchSize  int
	mode       CorrelationMode
	correlator *AuditCorrelator
	hooks      []SaveHook
	runID      string
	actor      inventory.Actor
	now        func() time.Time

	inserts []CandidateRecord
	updates []CandidateRecord
	pending map[string]struct{}

	Stats WriterStats
}

// WriterConfig configures a BatchWriter.
type WriterConfig struct {
	BatchSize   int
	Correlation CorrelationMode
	Returning   bool // store returns ids from InsertItems
	RunID       string
	Actor       inventory.Actor
	Hooks       []SaveHook
	Now         func() time.Time
}

// ResolveCorrelation turns auto into the concrete strategy for a store.
func ResolveCorrelation(mode CorrelationMode, returning bool) CorrelationMode {
	if mode != "" && mode != CorrelationAuto {
		return mode
	}
	if returning {
		return CorrelationReturning
	}
	return CorrelationBaseline
}

// NewBatchWriter returns a writer bound to tx.
func NewBatchWriter(tx inventory.Tx, correlator *AuditCorrelator, cfg WriterConfig) *BatchWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	mode := ResolveCorrelation(cfg.Correlation, cfg.Returning)
	return &BatchWriter{
		tx:         tx,
		batchSize:  cfg.BatchSize,
		mode:       mode,
		correlator: correlator,
		hooks:      cfg.Hooks,
		runID:      cfg.RunID,
		actor:      cfg.Actor,
		now:        cfg.Now,
		pending:    make(map[string]struct{}),
	}
}

// Mode returns the correlation strategy the writer resolved to.
func (w *BatchWriter) Mode() CorrelationMode {
	return w.mode
}

// Pending reports whether a buffered record carries key value v.
func (w *BatchWriter) Pending(v string) bool {
	_, ok := w.pending[v]
	return ok
}

// Add buffers rec and flushes the buffer it joined once it is full. keyValue
// is the record's unique-key value, or "" when update mode is off.
func (w *BatchWriter) Add(ctx context.Context, rec CandidateRecord, keyValue string) error {
	if keyValue != "" {
		w.pending[keyValue] = struct{}{}
	}

	switch rec.Bucket {
	case BucketInsertable:
		w.inserts = append(w.inserts, rec)
		if len(w.inserts) >= w.batchSize {
			return w.flushInserts(ctx)
		}
	case BucketUpdatable:
		w.updates = append(w.updates, rec)
		if len(w.updates) >= w.batchSize {
			return w.flushUpdates(ctx)
		}
	}
	return nil
}

// Flush writes both buffers.
func (w *BatchWriter) Flush(ctx context.Context) error {
	if err := w.flushInserts(ctx); err != nil {
		return err
	}
	if err := w.flushUpdates(ctx); err != nil {
		return err
	}
	clear(w.pending)
	return nil
}

func (w *BatchWriter) flushInserts(ctx context.Context) error {
	if len(w.inserts) == 0 {
		return nil
	}
	batch := w.inserts
	w.inserts = nil
	now := w.now()

	items := make([]inventory.Item, len(batch))
	for i, rec := range batch {
		it := *rec.Item
		it.ID = 0
		it.CreatedAt, it.UpdatedAt = time.Time{}, time.Time{}
		items[i] = it
	}

	var resp InsertResponse
	switch w.mode {
	case CorrelationPerRow:
		resp.HasIDs = true
		resp.IDs = make([]int64, 0, len(items))
		for _, it := range items {
			id, err := w.tx.InsertItem(ctx, it, now)
			if err != nil {
				return w.fail("insert", err)
			}
			resp.IDs = append(resp.IDs, id)
		}

	case CorrelationBaseline:
		baseline, err := w.tx.MaxItemID(ctx)
		if err != nil {
			return w.fail("baseline", err)
		}
		if _, err := w.tx.InsertItems(ctx, items, now); err != nil {
			return w.fail("bulk insert", err)
		}
		resp.Baseline = baseline

	default:
		ids, err := w.tx.InsertItems(ctx, items, now)
		if err != nil {
			return w.fail("bulk insert", err)
		}
		resp.HasIDs = true
		resp.IDs = ids
	}

	inserted, entries, err := w.correlator.Correlate(ctx, w.tx, batch, resp)
	if err != nil {
		return w.fail("correlate", err)
	}
	if err := w.tx.InsertAuditEntries(ctx, entries); err != nil {
		return w.fail("audit insert", err)
	}

	for _, rec := range inserted {
		rec.Candidate.Item.CreatedAt = now
		rec.Candidate.Item.UpdatedAt = now
	}
	w.Stats.Inserted += len(batch)
	w.Stats.AuditEntries += len(entries)
	w.Stats.Batches++
	return nil
}

func (w *BatchWriter) flushUpdates(ctx context.Context) error {
	if len(w.updates) == 0 {
		return nil
	}
	batch := w.updates
	w.updates = nil

	var entries []inventory.AuditEntry
	for _, rec := range batch {
		now := w.now()
		rec.Item.BeforeSave(now)
		if err := w.tx.SaveItem(ctx, rec.Item); err != nil {
			return w.fail("update", err)
		}

		change := SavedChange{RunID: w.runID, Actor: w.actor, After: *rec.Item, At: now}
		if rec.Previous != nil {
			change.Before = *rec.Previous
		}
		for _, hook := range w.hooks {
			out, err := hook(ctx, w.tx, change)
			if err != nil {
				return w.fail("save hook", err)
			}
			entries = append(entries, out...)
		}
	}

	if err := w.tx.InsertAuditEntries(ctx, entries); err != nil {
		return w.fail("audit insert", err)
	}
	w.Stats.Updated += len(batch)
	w.Stats.AuditEntries += len(entries)
	w.Stats.Batches++
	return nil
}

func (w *BatchWriter) fail(op string, err error) error {
	return &BatchWriteError{RunID: w.runID, Op: op, Err: err}
}
