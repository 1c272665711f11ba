package inventory

import (
	"context"
	"time"
)

// ItemRef is the slice of a persisted item needed to match it back to the
// record that produced it.
type ItemRef struct {
	ID       int64
	Name     string
	Quantity int64
}

// Tx is the transactional view of the inventory tables used by one import run.
type Tx interface {
	// FindItem returns the first item whose key equals value, or nil when
	// none exists.
	FindItem(ctx context.Context, key UniqueKey, value string) (*Item, error)

	// InsertItems inserts all items with one set-oriented statement, stamping
	// created_at/updated_at with now. Backends that can return generated
	// identifiers return them; others return nil.
	InsertItems(ctx context.Context, items []Item, now time.Time) ([]int64, error)

	// InsertItem inserts a single item and returns its identifier.
	InsertItem(ctx context.Context, item Item, now time.Time) (int64, error)

	// SaveItem writes every mutable field of an existing item.
	SaveItem(ctx context.Context, item *Item) error

	// MaxItemID returns the highest item identifier, or 0 for an empty table.
	MaxItemID(ctx context.Context) (int64, error)

	// ItemsAfter returns up to limit items with id > baseline ordered by id.
	ItemsAfter(ctx context.Context, baseline int64, limit int) ([]ItemRef, error)

	// InsertAuditEntries writes all entries with one set-oriented operation.
	InsertAuditEntries(ctx context.Context, entries []AuditEntry) error
}

// Store opens transactions against the inventory tables.
type Store interface {
	// ReturnsInsertedIDs reports whether InsertItems returns generated ids.
	ReturnsInsertedIDs() bool

	// InTx runs fn inside one transaction, committing when fn returns nil
	// and rolling back otherwise.
	InTx(ctx context.Context, fn func(Tx) error) error

	// CountItems and CountAuditEntries report table sizes.
	CountItems(ctx context.Context) (int64, error)
	CountAuditEntries(ctx context.Context) (int64, error)

	// AuditEntriesForRun returns the entries written by one run ordered by id.
	AuditEntriesForRun(ctx context.Context, runID string) ([]AuditEntry, error)
}
