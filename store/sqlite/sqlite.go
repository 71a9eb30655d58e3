/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the ledger read interfaces, the stock ledger writer and the
  cache KVStore on one SQLite database. The ledger tables belong to the
  CRUD layer; AppendEntry, SavePartner and SaveProduct exist so tools
  and tests can seed them.

INTERFACES IMPLEMENTED:
  ledger.Query:             Aggregate and filtered reads over the ledger
  ledger.Registry:          Partner and product labels and counts
  ledger.StockLedgerWriter: Replay audit table
  generic.KVStore:          Cache payloads (single-statement upsert)
  generic.Locker:           Rebuild slot across processes (see lock.go)

KEY TABLES:
  inbound_records:  Purchases (supplier_code, inbound_date)
  outbound_records: Sales (customer_code, outbound_date)
  partners:         Suppliers (type 0) and customers (type 1)
  products:         Product registry
  stock_ledger:     Running balance after each replayed ledger line
  cache_entries:    Derived-aggregate cache payloads
  job_locks:        Leased job slots shared by every process on the file

DECIMALS:
  Quantities and prices are stored as TEXT in decimal.String() form and
  summed in Go. SQLite REAL never touches money.

DATES:
  Stored as TEXT YYYY-MM-DD, so lexical order is chronological order.

INDEXES:
  - idx_inbound_product_date / idx_outbound_product_date: per-product
    sums and MAX(date)
  - idx_inbound_partner / idx_outbound_partner: invoice grouping

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. An in-memory database is pinned
  to a single connection so every statement sees the same data; reads
  always drain their rows before returning.

USAGE:
  store, err := sqlite.New("./data/trade-ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(ledger.Config{
      Query: store, Registry: store, Writer: store, Cache: store,
  })

SEE ALSO:
  - ledger/store.go: Interface definitions
  - generic/store.go: KVStore contract
  - generic/store/memory.go: In-memory KVStore for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/trade-ledger/generic"
	"github.com/warp/trade-ledger/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger: purchases
	CREATE TABLE IF NOT EXISTS inbound_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		supplier_code TEXT NOT NULL DEFAULT '',
		product_model TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		total_price TEXT NOT NULL,
		inbound_date TEXT NOT NULL,
		invoice_date TEXT,
		invoice_number TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_inbound_product_date
		ON inbound_records(product_model, inbound_date);
	CREATE INDEX IF NOT EXISTS idx_inbound_date
		ON inbound_records(inbound_date, id);
	CREATE INDEX IF NOT EXISTS idx_inbound_partner
		ON inbound_records(supplier_code);

	-- Ledger: sales
	CREATE TABLE IF NOT EXISTS outbound_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_code TEXT NOT NULL DEFAULT '',
		product_model TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		total_price TEXT NOT NULL,
		outbound_date TEXT NOT NULL,
		invoice_date TEXT,
		invoice_number TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_outbound_product_date
		ON outbound_records(product_model, outbound_date);
	CREATE INDEX IF NOT EXISTS idx_outbound_date
		ON outbound_records(outbound_date, id);
	CREATE INDEX IF NOT EXISTS idx_outbound_partner
		ON outbound_records(customer_code);

	-- Partners (type 0 = supplier, 1 = customer)
	CREATE TABLE IF NOT EXISTS partners (
		code TEXT PRIMARY KEY,
		short_name TEXT,
		full_name TEXT,
		type INTEGER NOT NULL
	);

	-- Products
	CREATE TABLE IF NOT EXISTS products (
		code TEXT PRIMARY KEY,
		category TEXT,
		product_model TEXT NOT NULL
	);

	-- Stock ledger (replay audit trail, not authoritative)
	CREATE TABLE IF NOT EXISTS stock_ledger (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		record_id INTEGER NOT NULL,
		direction TEXT NOT NULL,
		product_model TEXT NOT NULL,
		delta TEXT NOT NULL,
		stock_quantity TEXT NOT NULL,
		update_time TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stock_ledger_product
		ON stock_ledger(product_model, seq);

	-- Cross-process job slots (lease in unix milliseconds)
	CREATE TABLE IF NOT EXISTS job_locks (
		key TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	);

	-- Derived-aggregate cache payloads
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TABLE MAPPING
// =============================================================================

type table struct {
	name    string
	partner string
	date    string
}

func tableFor(dir ledger.Direction) (table, error) {
	switch dir {
	case ledger.Inbound:
		return table{name: "inbound_records", partner: "supplier_code", date: "inbound_date"}, nil
	case ledger.Outbound:
		return table{name: "outbound_records", partner: "customer_code", date: "outbound_date"}, nil
	default:
		return table{}, fmt.Errorf("unknown ledger direction %q", dir)
	}
}

// =============================================================================
// LEDGER WRITES (seeding; owned by the CRUD layer in production)
// =============================================================================

// AppendEntry inserts a ledger line and returns its id. A zero
// TotalPrice is filled in as quantity * unit price.
func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntry(ctx, s.db, e)
}

// AppendEntries inserts lines in one transaction, in order.
func (s *Store) AppendEntries(ctx context.Context, entries []ledger.Entry) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		id, err := s.appendEntry(ctx, sqlTx, e)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entries: %w", err)
	}
	return ids, nil
}

func (s *Store) appendEntry(ctx context.Context, db interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, e ledger.Entry) (int64, error) {
	t, err := tableFor(e.Direction)
	if err != nil {
		return 0, err
	}
	if e.ProductModel == "" {
		return 0, errors.New("product model is required")
	}
	if e.Date.IsZero() {
		return 0, errors.New("transaction date is required")
	}
	total := e.TotalPrice
	if total.IsZero() {
		total = e.Amount()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, product_model, quantity, unit_price, total_price, %s,
		                invoice_date, invoice_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.name, t.partner, t.date)

	res, err := db.ExecContext(ctx, query,
		e.PartnerCode,
		e.ProductModel,
		e.Quantity.String(),
		e.UnitPrice.String(),
		total.String(),
		e.Date.String(),
		nullDate(e.InvoiceDate),
		nullString(e.InvoiceNumber),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %s entry: %w", e.Direction, err)
	}
	return res.LastInsertId()
}

// =============================================================================
// LEDGER QUERY (ledger.Query interface)
// =============================================================================

// SumQuantity returns total quantity per product. The sign filter is
// applied in Go on the exact decimal price.
func (s *Store) SumQuantity(ctx context.Context, dir ledger.Direction, sign ledger.PriceSign) (map[string]decimal.Decimal, error) {
	t, err := tableFor(dir)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT product_model, quantity, unit_price FROM %s", t.name))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s quantities: %w", dir, err)
	}
	defer rows.Close()

	filter := ledger.EntryFilter{Sign: sign}
	sums := make(map[string]decimal.Decimal)
	for rows.Next() {
		var model, qty, price string
		if err := rows.Scan(&model, &qty, &price); err != nil {
			return nil, fmt.Errorf("failed to scan %s quantity: %w", dir, err)
		}
		e := ledger.Entry{ProductModel: model}
		if e.Quantity, err = generic.ParseDecimal(qty); err != nil {
			return nil, err
		}
		if e.UnitPrice, err = generic.ParseDecimal(price); err != nil {
			return nil, err
		}
		if !filter.Match(e) {
			continue
		}
		sums[model] = sums[model].Add(e.Quantity)
	}
	return sums, rows.Err()
}

// ListEntries returns matching entries ordered by (date, id). Date,
// partner, product and invoice predicates run in SQL; the price sign is
// checked in Go.
func (s *Store) ListEntries(ctx context.Context, dir ledger.Direction, f ledger.EntryFilter) ([]ledger.Entry, error) {
	t, err := tableFor(dir)
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if !f.From.IsZero() {
		where = append(where, t.date+" >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, t.date+" <= ?")
		args = append(args, f.To.String())
	}
	if f.PartnerCode != "" {
		where = append(where, t.partner+" = ?")
		args = append(args, f.PartnerCode)
	}
	if f.ProductModel != "" {
		where = append(where, "product_model = ?")
		args = append(args, f.ProductModel)
	}
	if f.InvoicedOnly {
		where = append(where, "invoice_number IS NOT NULL AND TRIM(invoice_number) != ''")
	}

	query := fmt.Sprintf(`
		SELECT id, %s, product_model, quantity, unit_price, total_price, %s,
		       invoice_date, invoice_number
		FROM %s`, t.partner, t.date, t.name)
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY " + t.date + " ASC, id ASC"

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s entries: %w", dir, err)
	}
	defer rows.Close()

	entries := []ledger.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows, dir)
		if err != nil {
			return nil, err
		}
		if !f.Match(e) {
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows, dir ledger.Direction) (ledger.Entry, error) {
	var (
		e                      ledger.Entry
		qty, price, total      string
		date                   string
		invoiceDate, invoiceNo sql.NullString
	)
	err := rows.Scan(&e.ID, &e.PartnerCode, &e.ProductModel, &qty, &price, &total,
		&date, &invoiceDate, &invoiceNo)
	if err != nil {
		return e, fmt.Errorf("failed to scan %s entry: %w", dir, err)
	}
	e.Direction = dir
	if e.Quantity, err = generic.ParseDecimal(qty); err != nil {
		return e, err
	}
	if e.UnitPrice, err = generic.ParseDecimal(price); err != nil {
		return e, err
	}
	if e.TotalPrice, err = generic.ParseDecimal(total); err != nil {
		return e, err
	}
	if e.Date, err = generic.ParseDate(date); err != nil {
		return e, err
	}
	if invoiceDate.Valid && invoiceDate.String != "" {
		if e.InvoiceDate, err = generic.ParseDate(invoiceDate.String); err != nil {
			return e, err
		}
	}
	e.InvoiceNumber = invoiceNo.String
	return e, nil
}

// LatestDates returns MAX(date) per product in one grouped query.
func (s *Store) LatestDates(ctx context.Context, dir ledger.Direction) (map[string]generic.Date, error) {
	t, err := tableFor(dir)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT product_model, MAX(%s) FROM %s GROUP BY product_model", t.date, t.name))
	if err != nil {
		return nil, fmt.Errorf("failed to query latest %s dates: %w", dir, err)
	}
	defer rows.Close()

	dates := make(map[string]generic.Date)
	for rows.Next() {
		var model string
		var latest sql.NullString
		if err := rows.Scan(&model, &latest); err != nil {
			return nil, fmt.Errorf("failed to scan latest %s date: %w", dir, err)
		}
		if !latest.Valid {
			continue
		}
		d, err := generic.ParseDate(latest.String)
		if err != nil {
			return nil, err
		}
		dates[model] = d
	}
	return dates, rows.Err()
}

// =============================================================================
// REGISTRY (ledger.Registry interface)
// =============================================================================

// SavePartner upserts a partner.
func (s *Store) SavePartner(ctx context.Context, p ledger.Partner) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO partners (code, short_name, full_name, type)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			short_name = excluded.short_name,
			full_name = excluded.full_name,
			type = excluded.type
	`, p.Code, p.ShortName, p.FullName, int(p.Kind))
	if err != nil {
		return fmt.Errorf("failed to save partner: %w", err)
	}
	return nil
}

// SaveProduct upserts a product.
func (s *Store) SaveProduct(ctx context.Context, code, category, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (code, category, product_model)
		VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			category = excluded.category,
			product_model = excluded.product_model
	`, code, nullString(category), model)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// ProductModels lists distinct registered product models, sorted.
func (s *Store) ProductModels(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT product_model FROM products ORDER BY product_model")
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	models := []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (s *Store) CountProducts(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&count)
	return count, err
}

func (s *Store) CountPartners(ctx context.Context, kind ledger.PartnerKind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM partners WHERE type = ?", int(kind)).Scan(&count)
	return count, err
}

// Partner looks up a partner by code.
func (s *Store) Partner(ctx context.Context, code string) (ledger.Partner, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		p           ledger.Partner
		short, full sql.NullString
		kind        int
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT code, short_name, full_name, type FROM partners WHERE code = ?", code,
	).Scan(&p.Code, &short, &full, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Partner{}, false, nil
	}
	if err != nil {
		return ledger.Partner{}, false, fmt.Errorf("failed to get partner: %w", err)
	}
	p.ShortName = short.String
	p.FullName = full.String
	p.Kind = ledger.PartnerKind(kind)
	return p, true, nil
}

// =============================================================================
// STOCK LEDGER (ledger.StockLedgerWriter interface)
// =============================================================================

func (s *Store) ClearStockLedger(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM stock_ledger"); err != nil {
		return fmt.Errorf("failed to clear stock ledger: %w", err)
	}
	return nil
}

// WriteStockLedger appends one replay step. Each row is its own
// statement; a failure leaves earlier rows in place.
func (s *Store) WriteStockLedger(ctx context.Context, row ledger.StockLedgerRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_ledger (record_id, direction, product_model, delta, stock_quantity, update_time)
		VALUES (?, ?, ?, ?, ?, ?)
	`, row.RecordID, string(row.Direction), row.ProductModel,
		row.Delta.String(), row.Balance.String(), row.Date.String())
	if err != nil {
		return fmt.Errorf("failed to write stock ledger row: %w", err)
	}
	return nil
}

// ListStockLedger returns replay rows in write order.
func (s *Store) ListStockLedger(ctx context.Context) ([]ledger.StockLedgerRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, direction, product_model, delta, stock_quantity, update_time
		FROM stock_ledger ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock ledger: %w", err)
	}
	defer rows.Close()

	out := []ledger.StockLedgerRow{}
	for rows.Next() {
		var (
			r                     ledger.StockLedgerRow
			dir, delta, bal, date string
		)
		if err := rows.Scan(&r.RecordID, &dir, &r.ProductModel, &delta, &bal, &date); err != nil {
			return nil, err
		}
		r.Direction = ledger.Direction(dir)
		if r.Delta, err = generic.ParseDecimal(delta); err != nil {
			return nil, err
		}
		if r.Balance, err = generic.ParseDecimal(bal); err != nil {
			return nil, err
		}
		if r.Date, err = generic.ParseDate(date); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// CACHE KV (generic.KVStore interface)
// =============================================================================

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM cache_entries WHERE key = ?", key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return payload, true, nil
}

// Put upserts the payload in a single statement, so readers see the old
// or the new row and nothing in between.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"stock_ledger", "cache_entries", "inbound_records", "outbound_records", "partners", "products"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d generic.Date) sql.NullString {
	if d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}
