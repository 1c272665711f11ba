//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *Postgres {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "stock",
				"POSTGRES_PASSWORD": "stock",
				"POSTGRES_DB":       "stock",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	backend, err := Open(ctx, Options{
		Driver: DriverPostgres,
		URL:    fmt.Sprintf("postgres://stock:stock@%s:%s/stock?sslmode=disable", host, port.Port()),
	})
	require.NoError(t, err)
	t.Cleanup(backend.Close)

	_, err = backend.Migrate(ctx)
	require.NoError(t, err)
	return backend.(*Postgres)
}

func TestPostgres_BulkInsertAndCopyAudit(t *testing.T) {
	pg := startPostgres(t)
	ctx := context.Background()

	err := pg.InTx(ctx, func(tx inventory.Tx) error {
		ids, err := tx.InsertItems(ctx, []inventory.Item{
			item("Widget", "W-1", 10, "5.00"),
			item("Gadget", "", 3, "3.25"),
		}, testNow)
		require.NoError(t, err)
		require.Len(t, ids, 2)
		assert.Less(t, ids[0], ids[1])

		found, err := tx.FindItem(ctx, inventory.KeySKU, "W-1")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, ids[0], found.ID)

		return tx.InsertAuditEntries(ctx, []inventory.AuditEntry{
			inventory.NewQuantityChange(ids[0], 0, 10, inventory.NoteImportCreate, "pg-run", inventory.Actor{RequesterID: "u"}, testNow),
			inventory.NewQuantityChange(ids[1], 0, 3, inventory.NoteImportCreate, "pg-run", inventory.Actor{RequesterID: "u"}, testNow),
		})
	})
	require.NoError(t, err)

	entries, err := pg.AuditEntriesForRun(ctx, "pg-run")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.EqualValues(t, 10, entries[0].Delta)
}

func TestPostgres_DuplicateSKURollsBack(t *testing.T) {
	pg := startPostgres(t)
	ctx := context.Background()

	err := pg.InTx(ctx, func(tx inventory.Tx) error {
		_, err := tx.InsertItems(ctx, []inventory.Item{item("A", "DUP", 1, "1"), item("B", "DUP", 1, "1")}, testNow)
		return err
	})
	require.Error(t, err)

	n, err := pg.CountItems(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}
