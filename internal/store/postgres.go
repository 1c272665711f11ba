package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Querier is the subset of pgx used by the store.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the inventory store backed by a pgx connection pool.
// Bulk inserts return generated identifiers.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Pool returns the underlying connection pool.
func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *Postgres) ReturnsInsertedIDs() bool { return true }

// InTx runs fn in a single transaction.
func (p *Postgres) InTx(ctx context.Context, fn func(inventory.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *Postgres) CountItems(ctx context.Context) (int64, error) {
	return countRows(ctx, p.pool, "inventory_items")
}

func (p *Postgres) CountAuditEntries(ctx context.Context) (int64, error) {
	return countRows(ctx, p.pool, "inventory_audit_logs")
}

func countRows(ctx context.Context, q Querier, table string) (int64, error) {
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", pgx.Identifier{table}.Sanitize())
	if err := q.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (p *Postgres) AuditEntriesForRun(ctx context.Context, runID string) ([]inventory.AuditEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, item_id, run_id, requester_id, COALESCE(ip_address, ''), COALESCE(user_agent, ''),
		       previous_quantity, current_quantity, delta, note, created_at
		FROM inventory_audit_logs
		WHERE run_id = $1
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []inventory.AuditEntry
	for rows.Next() {
		var e inventory.AuditEntry
		if err := rows.Scan(&e.ID, &e.ItemID, &e.RunID, &e.RequesterID, &e.IPAddress, &e.UserAgent,
			&e.PreviousQuantity, &e.CurrentQuantity, &e.Delta, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// pgTx implements inventory.Tx on top of a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

var pgFindItem = map[inventory.UniqueKey]string{
	inventory.KeySKU: `SELECT id, name, COALESCE(sku, ''), description, quantity, price::text, status, created_at, updated_at
		FROM inventory_items WHERE sku = $1 ORDER BY id LIMIT 1 FOR UPDATE`,
	inventory.KeyName: `SELECT id, name, COALESCE(sku, ''), description, quantity, price::text, status, created_at, updated_at
		FROM inventory_items WHERE name = $1 ORDER BY id LIMIT 1 FOR UPDATE`,
}

func (t *pgTx) FindItem(ctx context.Context, key inventory.UniqueKey, value string) (*inventory.Item, error) {
	query, ok := pgFindItem[key]
	if !ok {
		return nil, fmt.Errorf("unsupported unique key %d", key)
	}

	var (
		it    inventory.Item
		price string
	)
	err := t.tx.QueryRow(ctx, query, value).Scan(&it.ID, &it.Name, &it.SKU, &it.Description,
		&it.Quantity, &price, &it.Status, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find item by %s: %w", key, err)
	}

	if it.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price of item %d: %w", it.ID, err)
	}
	return &it, nil
}

const pgInsertItems = `
	INSERT INTO inventory_items (name, sku, description, quantity, price, status, created_at, updated_at)
	SELECT t.name, t.sku, t.description, t.quantity, t.price::numeric, t.status, $7, $7
	FROM unnest($1::text[], $2::text[], $3::text[], $4::int8[], $5::text[], $6::text[])
	     WITH ORDINALITY AS t(name, sku, description, quantity, price, status, ord)
	ORDER BY t.ord
	RETURNING id`

func (t *pgTx) InsertItems(ctx context.Context, items []inventory.Item, now time.Time) ([]int64, error) {
	if len(items) == 0 {
		return nil, nil
	}

	names := make([]string, len(items))
	skus := make([]pgtype.Text, len(items))
	descriptions := make([]string, len(items))
	quantities := make([]int64, len(items))
	prices := make([]string, len(items))
	statuses := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
		skus[i] = nullText(it.SKU)
		descriptions[i] = it.Description
		quantities[i] = it.Quantity
		prices[i] = it.Price.String()
		statuses[i] = string(it.Status)
	}

	rows, err := t.tx.Query(ctx, pgInsertItems, names, skus, descriptions, quantities, prices, statuses, now)
	if err != nil {
		return nil, fmt.Errorf("bulk insert items: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("bulk insert items: %w", err)
	}

	// RETURNING order is not guaranteed; sequence order is.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *pgTx) InsertItem(ctx context.Context, it inventory.Item, now time.Time) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO inventory_items (name, sku, description, quantity, price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $7)
		RETURNING id`,
		it.Name, nullText(it.SKU), it.Description, it.Quantity, it.Price.String(), string(it.Status), now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	return id, nil
}

func (t *pgTx) SaveItem(ctx context.Context, it *inventory.Item) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE inventory_items
		SET name = $2, sku = $3, description = $4, quantity = $5, price = $6::numeric, status = $7, updated_at = $8
		WHERE id = $1`,
		it.ID, it.Name, nullText(it.SKU), it.Description, it.Quantity, it.Price.String(), string(it.Status), it.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save item %d: %w", it.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("save item %d: %d rows affected", it.ID, tag.RowsAffected())
	}
	return nil
}

func (t *pgTx) MaxItemID(ctx context.Context) (int64, error) {
	var id int64
	if err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM inventory_items`).Scan(&id); err != nil {
		return 0, fmt.Errorf("max item id: %w", err)
	}
	return id, nil
}

func (t *pgTx) ItemsAfter(ctx context.Context, baseline int64, limit int) ([]inventory.ItemRef, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, name, quantity FROM inventory_items
		WHERE id > $1 ORDER BY id LIMIT $2`, baseline, limit)
	if err != nil {
		return nil, fmt.Errorf("items after %d: %w", baseline, err)
	}
	refs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.ItemRef, error) {
		var r inventory.ItemRef
		err := row.Scan(&r.ID, &r.Name, &r.Quantity)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("items after %d: %w", baseline, err)
	}
	return refs, nil
}

var auditColumns = []string{
	"item_id", "run_id", "requester_id", "ip_address", "user_agent",
	"previous_quantity", "current_quantity", "delta", "note", "created_at",
}

func (t *pgTx) InsertAuditEntries(ctx context.Context, entries []inventory.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}

	n, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"inventory_audit_logs"},
		auditColumns,
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{
				e.ItemID, e.RunID, e.RequesterID, nullText(e.IPAddress), nullText(e.UserAgent),
				e.PreviousQuantity, e.CurrentQuantity, e.Delta, e.Note, e.CreatedAt,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy audit entries: %w", err)
	}
	if int(n) != len(entries) {
		return fmt.Errorf("copy audit entries: wrote %d of %d", n, len(entries))
	}
	return nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
