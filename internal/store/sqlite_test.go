package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSQLite(t *testing.T, opts SQLiteOptions) *SQLite {
	t.Helper()
	ctx := context.Background()

	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "inventory.db"), opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = s.Migrate(ctx)
	require.NoError(t, err)
	return s
}

func item(name, sku string, qty int64, price string) inventory.Item {
	return inventory.Item{
		Name:     name,
		SKU:      sku,
		Quantity: qty,
		Price:    decimal.RequireFromString(price),
		Status:   inventory.StatusActive,
	}
}

// ============================================================================
// Migration Tests
// ============================================================================

func TestSQLiteMigrate_Idempotent(t *testing.T) {
	s := newTestSQLite(t, SQLiteOptions{})

	again, err := s.Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again, "second migrate should apply nothing")
}

// ============================================================================
// Insert Tests
// ============================================================================

func TestSQLiteInsertItems_ReturnsAscendingIDs(t *testing.T) {
	s := newTestSQLite(t, SQLiteOptions{Chunk: 2})
	ctx := context.Background()

	items := []inventory.Item{
		item("A", "A-1", 1, "1.00"),
		item("B", "B-1", 2, "2.00"),
		item("C", "", 3, "3.50"),
	}

	var ids []int64
	err := s.InTx(ctx, func(tx inventory.Tx) error {
		var err error
		ids, err = tx.InsertItems(ctx, items, testNow)
		return err
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	n, err := s.CountItems(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestSQLiteInsertItems_WithoutReturning(t *testing.T) {
	s := newTestSQLite(t, SQLiteOptions{DisableReturning: true})
	ctx := context.Background()
	assert.False(t, s.ReturnsInsertedIDs())

	err := s.InTx(ctx, func(tx inventory.Tx) error {
		baseline, err := tx.MaxItemID(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 0, baseline)

		ids, err := tx.InsertItems(ctx, []inventory.Item{item("A", "", 4, "1"), item("B", "", 5, "1")}, testNow)
		require.NoError(t, err)
		assert.Nil(t, ids)

		refs, err := tx.ItemsAfter(ctx, baseline, 10)
		require.NoError(t, err)
		require.Len(t, refs, 2)
		assert.Equal(t, "A", refs[0].Name)
		assert.EqualValues(t, 4, refs[0].Quantity)
		assert.Equal(t, "B", refs[1].Name)
		return nil
	})
	require.NoError(t, err)
}

func TestSQLiteInsertItem_UsesLastInsertID(t *testing.T) {
	s := newTestSQLite(t, SQLiteOptions{})
	ctx := context.Background()

	err := s.InTx(ctx, func(tx inventory.Tx) error {
		first, err := tx.InsertItem(ctx, item("A", "", 1, "1"), testNow)
		require.NoError(t, err)
		second, err := tx.InsertItem(ctx, item("B", "", 1, "1"), testNow)
		require.NoError(t, err)
		assert.Equal(t, first+1, second)
		return nil
	})
	require.NoError(t, err)
}

// ============================================================================
// Lookup / Save Tests
// ============================================================================

func TestSQLiteFindAndSave(t *testing.T) {
	s := newTestSQLite(t, SQLiteOptions{})
	ctx := context.Background()

	err := s.InTx(ctx, func(tx inventory.Tx) error {
		_, err := tx.InsertItems(ctx, []inventory.Item{item("Widget", "W-1", 10, "5.00")}, testNow)
		require.NoError(t, err)

		missing, err := tx.FindItem(ctx, inventory.KeySKU, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)

		found, err := tx.FindItem(ctx, inventory.KeySKU, "W-1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "Widget", found.Name)
		assert.True(t, found.Price.Equal(decimal.RequireFromString("5")))
		assert.Equal(t, inventory.StatusActive, found.Status)
		assert.True(t, found.CreatedAt.Equal(testNow))

		found.Quantity = 25
		found.BeforeSave(testNow.Add(time.Hour))
		require.NoError(t, tx.SaveItem(ctx, found))

		byName, err := tx.FindItem(ctx, inventory.KeyName, "Widget")
		require.NoError(t, err)
		require.NotNil(t, byName)
		assert.EqualValues(t, 25, byName.Quantity)

		ghost := &inventory.Item{ID: 999, Name: "ghost", Status: inventory.StatusActive}
		assert.Error(t, tx.SaveItem(ctx, ghost))
		return nil
	})
	require.NoError(t, err)
}

// ============================================================================
// Audit Tests
// ============================================================================

func TestSQLiteAuditEntries(t *testing.T) {
	s := newTestSQLite(t, SQLiteOptions{})
	ctx := context.Background()
	actor := inventory.Actor{RequesterID: "u1", IPAddress: "10.0.0.1"}

	err := s.InTx(ctx, func(tx inventory.Tx) error {
		ids, err := tx.InsertItems(ctx, []inventory.Item{item("A", "", 3, "1"), item("B", "", 7, "1")}, testNow)
		require.NoError(t, err)

		return tx.InsertAuditEntries(ctx, []inventory.AuditEntry{
			inventory.NewQuantityChange(ids[0], 0, 3, inventory.NoteImportCreate, "run-1", actor, testNow),
			inventory.NewQuantityChange(ids[1], 0, 7, inventory.NoteImportCreate, "run-1", actor, testNow),
		})
	})
	require.NoError(t, err)

	entries, err := s.AuditEntriesForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.EqualValues(t, 3, entries[0].Delta)
	assert.EqualValues(t, 7, entries[1].CurrentQuantity)
	assert.Equal(t, "10.0.0.1", entries[0].IPAddress)
	assert.Empty(t, entries[0].UserAgent)
	assert.True(t, entries[0].CreatedAt.Equal(testNow))

	n, err := s.CountAuditEntries(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

// ============================================================================
// Transaction Tests
// ============================================================================

func TestSQLiteInTx_RollsBackOnError(t *testing.T) {
	s := newTestSQLite(t, SQLiteOptions{})
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx inventory.Tx) error {
		_, err := tx.InsertItems(ctx, []inventory.Item{item("A", "A-1", 1, "1")}, testNow)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := s.CountItems(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestSQLiteInsertItems_DuplicateSKUFails(t *testing.T) {
	s := newTestSQLite(t, SQLiteOptions{})
	ctx := context.Background()

	err := s.InTx(ctx, func(tx inventory.Tx) error {
		_, err := tx.InsertItems(ctx, []inventory.Item{item("A", "DUP", 1, "1"), item("B", "DUP", 1, "1")}, testNow)
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bulk insert items")

	n, err := s.CountItems(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}
