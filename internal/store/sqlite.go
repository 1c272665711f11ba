package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/stockimport/internal/inventory"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// DefaultSQLiteChunk bounds the rows per multi-row INSERT so the statement
// stays under SQLite's host parameter limit.
const DefaultSQLiteChunk = 1000

// sqliteTime is the layout timestamps are stored with.
const sqliteTime = time.RFC3339Nano

// SQLiteOptions configures a SQLite store.
type SQLiteOptions struct {
	// DisableReturning makes InsertItems return no identifiers, forcing
	// callers onto baseline correlation.
	DisableReturning bool

	// Chunk is the number of rows per INSERT statement.
	Chunk int
}

// SQLite is the inventory store backed by database/sql and the pure-Go
// modernc driver.
type SQLite struct {
	db        *sql.DB
	returning bool
	chunk     int
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string, opts SQLiteOptions) (*SQLite, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; a second connection would block on the run's transaction.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return NewSQLite(db, opts), nil
}

// NewSQLite wraps an open database handle.
func NewSQLite(db *sql.DB, opts SQLiteOptions) *SQLite {
	chunk := opts.Chunk
	if chunk <= 0 {
		chunk = DefaultSQLiteChunk
	}
	return &SQLite{db: db, returning: !opts.DisableReturning, chunk: chunk}
}

// DB returns the underlying handle.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) ReturnsInsertedIDs() bool { return s.returning }

// InTx runs fn in a single transaction.
func (s *SQLite) InTx(ctx context.Context, fn func(inventory.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // No-op if already committed

	if err := fn(&sqliteTx{tx: tx, returning: s.returning, chunk: s.chunk}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) CountItems(ctx context.Context) (int64, error) {
	return s.count(ctx, "inventory_items")
}

func (s *SQLite) CountAuditEntries(ctx context.Context) (int64, error) {
	return s.count(ctx, "inventory_audit_logs")
}

func (s *SQLite) count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *SQLite) AuditEntriesForRun(ctx context.Context, runID string) ([]inventory.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, run_id, requester_id, COALESCE(ip_address, ''), COALESCE(user_agent, ''),
		       previous_quantity, current_quantity, delta, note, CAST(created_at AS TEXT)
		FROM inventory_audit_logs
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []inventory.AuditEntry
	for rows.Next() {
		var (
			e       inventory.AuditEntry
			created string
		)
		if err := rows.Scan(&e.ID, &e.ItemID, &e.RunID, &e.RequesterID, &e.IPAddress, &e.UserAgent,
			&e.PreviousQuantity, &e.CurrentQuantity, &e.Delta, &e.Note, &created); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.CreatedAt, _ = time.Parse(sqliteTime, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// sqliteTx implements inventory.Tx on top of a database/sql transaction.
type sqliteTx struct {
	tx        *sql.Tx
	returning bool
	chunk     int
}

var sqliteFindItem = map[inventory.UniqueKey]string{
	inventory.KeySKU: `SELECT id, name, COALESCE(sku, ''), description, quantity, price, status,
		CAST(created_at AS TEXT), CAST(updated_at AS TEXT)
		FROM inventory_items WHERE sku = ? ORDER BY id LIMIT 1`,
	inventory.KeyName: `SELECT id, name, COALESCE(sku, ''), description, quantity, price, status,
		CAST(created_at AS TEXT), CAST(updated_at AS TEXT)
		FROM inventory_items WHERE name = ? ORDER BY id LIMIT 1`,
}

func (t *sqliteTx) FindItem(ctx context.Context, key inventory.UniqueKey, value string) (*inventory.Item, error) {
	query, ok := sqliteFindItem[key]
	if !ok {
		return nil, fmt.Errorf("unsupported unique key %d", key)
	}

	var (
		it                   inventory.Item
		status, price        string
		createdAt, updatedAt string
	)
	err := t.tx.QueryRowContext(ctx, query, value).Scan(&it.ID, &it.Name, &it.SKU, &it.Description,
		&it.Quantity, &price, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find item by %s: %w", key, err)
	}

	if it.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price of item %d: %w", it.ID, err)
	}
	it.Status = inventory.Status(status)
	it.CreatedAt, _ = time.Parse(sqliteTime, createdAt)
	it.UpdatedAt, _ = time.Parse(sqliteTime, updatedAt)
	return &it, nil
}

const sqliteItemColumns = "(name, sku, description, quantity, price, status, created_at, updated_at)"

func itemArgs(it inventory.Item, now time.Time) []any {
	ts := now.UTC().Format(sqliteTime)
	return []any{it.Name, nullString(it.SKU), it.Description, it.Quantity, it.Price.String(), string(it.Status), ts, ts}
}

func (t *sqliteTx) InsertItems(ctx context.Context, items []inventory.Item, now time.Time) ([]int64, error) {
	var ids []int64
	for start := 0; start < len(items); start += t.chunk {
		end := min(start+t.chunk, len(items))
		chunk := items[start:end]

		var sb strings.Builder
		sb.WriteString("INSERT INTO inventory_items ")
		sb.WriteString(sqliteItemColumns)
		sb.WriteString(" VALUES ")
		args := make([]any, 0, len(chunk)*8)
		for i, it := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args, itemArgs(it, now)...)
		}

		if !t.returning {
			res, err := t.tx.ExecContext(ctx, sb.String(), args...)
			if err != nil {
				return nil, fmt.Errorf("bulk insert items: %w", err)
			}
			if n, err := res.RowsAffected(); err == nil && n != int64(len(chunk)) {
				return nil, fmt.Errorf("bulk insert items: inserted %d of %d", n, len(chunk))
			}
			continue
		}

		sb.WriteString(" RETURNING id")
		chunkIDs, err := t.queryIDs(ctx, sb.String(), args)
		if err != nil {
			return nil, fmt.Errorf("bulk insert items: %w", err)
		}
		ids = append(ids, chunkIDs...)
	}

	if !t.returning {
		return nil, nil
	}
	// RETURNING order is not guaranteed; autoincrement order is.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *sqliteTx) queryIDs(ctx context.Context, query string, args []any) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *sqliteTx) InsertItem(ctx context.Context, it inventory.Item, now time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO inventory_items "+sqliteItemColumns+" VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		itemArgs(it, now)...)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert item: last insert id: %w", err)
	}
	return id, nil
}

func (t *sqliteTx) SaveItem(ctx context.Context, it *inventory.Item) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = ?, sku = ?, description = ?, quantity = ?, price = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		it.Name, nullString(it.SKU), it.Description, it.Quantity, it.Price.String(), string(it.Status),
		it.UpdatedAt.UTC().Format(sqliteTime), it.ID)
	if err != nil {
		return fmt.Errorf("save item %d: %w", it.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save item %d: %w", it.ID, err)
	}
	if n != 1 {
		return fmt.Errorf("save item %d: %d rows affected", it.ID, n)
	}
	return nil
}

func (t *sqliteTx) MaxItemID(ctx context.Context) (int64, error) {
	var id int64
	if err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM inventory_items`).Scan(&id); err != nil {
		return 0, fmt.Errorf("max item id: %w", err)
	}
	return id, nil
}

func (t *sqliteTx) ItemsAfter(ctx context.Context, baseline int64, limit int) ([]inventory.ItemRef, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, quantity FROM inventory_items
		WHERE id > ? ORDER BY id LIMIT ?`, baseline, limit)
	if err != nil {
		return nil, fmt.Errorf("items after %d: %w", baseline, err)
	}
	defer rows.Close()

	var refs []inventory.ItemRef
	for rows.Next() {
		var r inventory.ItemRef
		if err := rows.Scan(&r.ID, &r.Name, &r.Quantity); err != nil {
			return nil, fmt.Errorf("items after %d: %w", baseline, err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

const auditChunk = 500

func (t *sqliteTx) InsertAuditEntries(ctx context.Context, entries []inventory.AuditEntry) error {
	for start := 0; start < len(entries); start += auditChunk {
		end := min(start+auditChunk, len(entries))

		var sb strings.Builder
		sb.WriteString("INSERT INTO inventory_audit_logs (")
		sb.WriteString(strings.Join(auditColumns, ", "))
		sb.WriteString(") VALUES ")
		args := make([]any, 0, (end-start)*len(auditColumns))
		for i, e := range entries[start:end] {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				e.ItemID, e.RunID, e.RequesterID, nullString(e.IPAddress), nullString(e.UserAgent),
				e.PreviousQuantity, e.CurrentQuantity, e.Delta, e.Note, e.CreatedAt.UTC().Format(sqliteTime))
		}

		if _, err := t.tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("insert audit entries: %w", err)
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
