package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// fakeTx is an in-memory inventory.Tx.
type fakeTx struct {
	items     []inventory.Item
	audits    []inventory.AuditEntry
	nextID    int64
	returning bool

	// beforeInsert runs ahead of every bulk insert, e.g. to simulate a
	// concurrent writer.
	beforeInsert func(*fakeTx)

	fail map[string]error

	bulkInserts int
	rowInserts  int
	saves       int
}

func newFakeTx(returning bool) *fakeTx {
	return &fakeTx{returning: returning, fail: map[string]error{}}
}

func (f *fakeTx) seed(it inventory.Item) int64 {
	f.nextID++
	it.ID = f.nextID
	f.items = append(f.items, it)
	return it.ID
}

func (f *fakeTx) FindItem(_ context.Context, key inventory.UniqueKey, value string) (*inventory.Item, error) {
	if err := f.fail["find"]; err != nil {
		return nil, err
	}
	for _, it := range f.items {
		if key.ValueOf(&it) == value {
			cp := it
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeTx) InsertItems(_ context.Context, items []inventory.Item, now time.Time) ([]int64, error) {
	if f.beforeInsert != nil {
		f.beforeInsert(f)
	}
	if err := f.fail["insert"]; err != nil {
		return nil, err
	}
	f.bulkInserts++
	ids := make([]int64, len(items))
	for i, it := range items {
		it.CreatedAt, it.UpdatedAt = now, now
		ids[i] = f.seed(it)
	}
	if !f.returning {
		return nil, nil
	}
	return ids, nil
}

func (f *fakeTx) InsertItem(_ context.Context, it inventory.Item, now time.Time) (int64, error) {
	if err := f.fail["insert"]; err != nil {
		return 0, err
	}
	f.rowInserts++
	it.CreatedAt, it.UpdatedAt = now, now
	return f.seed(it), nil
}

func (f *fakeTx) SaveItem(_ context.Context, it *inventory.Item) error {
	if err := f.fail["save"]; err != nil {
		return err
	}
	f.saves++
	for i := range f.items {
		if f.items[i].ID == it.ID {
			f.items[i] = *it
			return nil
		}
	}
	return os.ErrNotExist
}

func (f *fakeTx) MaxItemID(context.Context) (int64, error) {
	if err := f.fail["max"]; err != nil {
		return 0, err
	}
	return f.nextID, nil
}

func (f *fakeTx) ItemsAfter(_ context.Context, baseline int64, limit int) ([]inventory.ItemRef, error) {
	var refs []inventory.ItemRef
	for _, it := range f.items {
		if it.ID > baseline && len(refs) < limit {
			refs = append(refs, inventory.ItemRef{ID: it.ID, Name: it.Name, Quantity: it.Quantity})
		}
	}
	return refs, nil
}

func (f *fakeTx) InsertAuditEntries(_ context.Context, entries []inventory.AuditEntry) error {
	if err := f.fail["audit"]; err != nil {
		return err
	}
	f.audits = append(f.audits, entries...)
	return nil
}

func candidate(line int, name, sku string, qty int64) CandidateRecord {
	return CandidateRecord{
		Bucket: BucketInsertable,
		Item: &inventory.Item{
			Name:     name,
			SKU:      sku,
			Quantity: qty,
			Price:    decimal.NewFromInt(1),
			Status:   inventory.StatusActive,
		},
		Row: SourceRow{Line: line},
	}
}
