package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockStore(t *testing.T, opts SQLiteOptions) (*SQLite, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLite(db, opts), mock
}

func TestInTx_BulkInsertFailureRollsBack(t *testing.T) {
	s, mock := setupMockStore(t, SQLiteOptions{DisableReturning: true})
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO inventory_items`)).
		WillReturnError(errors.New("UNIQUE constraint failed: inventory_items.sku"))
	mock.ExpectRollback()

	err := s.InTx(ctx, func(tx inventory.Tx) error {
		_, err := tx.InsertItems(ctx, []inventory.Item{item("A", "A-1", 1, "1")}, testNow)
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIQUE constraint failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_CommitFailure(t *testing.T) {
	s, mock := setupMockStore(t, SQLiteOptions{})

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	err := s.InTx(context.Background(), func(tx inventory.Tx) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertItems_ShortWriteIsAnError(t *testing.T) {
	s, mock := setupMockStore(t, SQLiteOptions{DisableReturning: true})
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO inventory_items`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	err := s.InTx(ctx, func(tx inventory.Tx) error {
		_, err := tx.InsertItems(ctx, []inventory.Item{item("A", "", 1, "1"), item("B", "", 1, "1")}, testNow)
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inserted 1 of 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveItem_NoRowsAffected(t *testing.T) {
	s, mock := setupMockStore(t, SQLiteOptions{})
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE inventory_items`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.InTx(ctx, func(tx inventory.Tx) error {
		it := item("A", "", 1, "1")
		it.ID = 42
		return tx.SaveItem(ctx, &it)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0 rows affected")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditInsert_Failure(t *testing.T) {
	s, mock := setupMockStore(t, SQLiteOptions{})
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO inventory_audit_logs`)).
		WillReturnError(errors.New("FOREIGN KEY constraint failed"))
	mock.ExpectRollback()

	err := s.InTx(ctx, func(tx inventory.Tx) error {
		return tx.InsertAuditEntries(ctx, []inventory.AuditEntry{
			inventory.NewQuantityChange(1, 0, 5, inventory.NoteImportCreate, "run", inventory.Actor{}, testNow),
		})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert audit entries")
	assert.NoError(t, mock.ExpectationsWereMet())
}
