package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/stockimport/internal/inventory"
)

// InsertResponse is what a set-oriented insert told us about the rows it
// created. IDs is set when the store returns identifiers; Baseline is the
// MAX(id) read before the insert otherwise.
type InsertResponse struct {
	IDs      []int64
	HasIDs   bool
	Baseline int64
}

// AuditCorrelator matches inserted rows to their candidates and builds one
// import:create audit entry per match.
type AuditCorrelator struct {
	runID  string
	actor  inventory.Actor
	logger *slog.Logger
	now    func() time.Time

	// Warnings counts candidates that could not be correlated.
	Warnings int
}

// NewAuditCorrelator returns a correlator stamping entries with runID and actor.
func NewAuditCorrelator(runID string, actor inventory.Actor, logger *slog.Logger, now func() time.Time) *AuditCorrelator {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &AuditCorrelator{runID: runID, actor: actor, logger: logger, now: now}
}

// Correlate pairs batch (in submission order) with the persisted rows and
// returns the pairs plus their audit entries. Rows that cannot be paired are
// logged and skipped. Only a failing baseline query is returned as an error.
func (c *AuditCorrelator) Correlate(ctx context.Context, tx inventory.Tx, batch []CandidateRecord, resp InsertResponse) ([]InsertedRecord, []inventory.AuditEntry, error) {
	var inserted []InsertedRecord
	if resp.HasIDs {
		inserted = c.zipIDs(batch, resp.IDs)
	} else {
		refs, err := tx.ItemsAfter(ctx, resp.Baseline, len(batch))
		if err != nil {
			return nil, nil, fmt.Errorf("correlate after baseline %d: %w", resp.Baseline, err)
		}
		inserted = c.zipRefs(batch, refs)
	}

	now := c.now()
	entries := make([]inventory.AuditEntry, 0, len(inserted))
	for _, rec := range inserted {
		qty := rec.Candidate.Item.Quantity
		entries = append(entries, inventory.NewQuantityChange(rec.ID, 0, qty, inventory.NoteImportCreate, c.runID, c.actor, now))
	}
	return inserted, entries, nil
}

func (c *AuditCorrelator) zipIDs(batch []CandidateRecord, ids []int64) []InsertedRecord {
	out := make([]InsertedRecord, 0, len(batch))
	for i := range batch {
		if i >= len(ids) {
			c.warn("no identifier returned for record", &batch[i], "returned", len(ids), "batch", len(batch))
			continue
		}
		batch[i].Item.ID = ids[i]
		out = append(out, InsertedRecord{ID: ids[i], Candidate: &batch[i]})
	}
	return out
}

// zipRefs pairs positionally and drops pairs whose persisted name or
// quantity differ, which happens when another writer inserted between the
// baseline read and the insert.
func (c *AuditCorrelator) zipRefs(batch []CandidateRecord, refs []inventory.ItemRef) []InsertedRecord {
	out := make([]InsertedRecord, 0, len(batch))
	for i := range batch {
		if i >= len(refs) {
			c.warn("baseline range exhausted", &batch[i], "found", len(refs), "batch", len(batch))
			continue
		}
		ref := refs[i]
		item := batch[i].Item
		if ref.Name != item.Name || ref.Quantity != item.Quantity {
			c.warn("baseline row does not match record", &batch[i],
				"item_id", ref.ID,
				"persisted_name", ref.Name,
				"persisted_quantity", ref.Quantity,
			)
			continue
		}
		item.ID = ref.ID
		out = append(out, InsertedRecord{ID: ref.ID, Candidate: &batch[i]})
	}
	return out
}

func (c *AuditCorrelator) warn(msg string, rec *CandidateRecord, args ...any) {
	c.Warnings++
	args = append([]any{"line", rec.Row.Line, "name", rec.Item.Name}, args...)
	c.logger.Warn("correlation: "+msg, args...)
}
