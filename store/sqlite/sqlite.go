/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements inventory.Store and inventory.TxStore using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  items:          Consumable definitions the transfer path trusts
  lots:           Received batches (expiry drives pick ordering)
  containers:     Physically tracked units of a lot
  balances:       Durable on-hand quantity per (item, holder, lot), versioned
  ledger_entries: Immutable movement log mirroring every balance change

CONDITIONAL ADJUST:
  AdjustBalance is an optimistic compare-and-set keyed on the balance row's
  version: read, compute with decimal in Go (quantities are stored as exact
  decimal strings, never floats), then UPDATE ... WHERE version = ?. A lost
  race surfaces as ErrConcurrencyConflict and the engine retries. The floor
  check happens against the row the CAS is about to replace, so two
  concurrent decrements can never both drain the same stock.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements touch ledger_entries. Corrections are
  written as adjustment entries. A unique index on idempotency_key rejects
  replayed operations.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery
  A store-level mutex serializes writers on top of that.

USAGE:
  store, err := sqlite.New("./data/inventory.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := inventory.NewEngine(store, inventory.DefaultCatalog())

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - inventory/store.go: Interface definitions
  - inventory/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/labstock/inventory-engine/inventory"
)

const defaultPageSize = 50

// Store implements inventory.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ inventory.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
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
	-- Consumable items (the metadata the movement path needs)
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		base_uom TEXT NOT NULL,
		requires_container_tracking BOOLEAN NOT NULL DEFAULT FALSE,
		is_controlled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	-- Lots (received batches)
	CREATE TABLE IF NOT EXISTS lots (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		lot_number TEXT NOT NULL,
		supplier_id TEXT,
		received_date TEXT NOT NULL,
		expiry_date TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lots_item
		ON lots(item_id, expiry_date);

	-- Containers (whole-unit tracked stock)
	CREATE TABLE IF NOT EXISTS containers (
		id TEXT PRIMARY KEY,
		lot_id TEXT NOT NULL,
		container_code TEXT NOT NULL,
		current_qty_base TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_containers_lot
		ON containers(lot_id, status);

	-- Balances: durable on-hand per (item, holder, lot). lot_id is '' for
	-- stock that is not lot-tracked. version drives the optimistic CAS.
	CREATE TABLE IF NOT EXISTS balances (
		item_id TEXT NOT NULL,
		holder_type TEXT NOT NULL,
		holder_id TEXT NOT NULL DEFAULT '',
		lot_id TEXT NOT NULL DEFAULT '',
		qty_base TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (item_id, holder_type, holder_id, lot_id)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_item_holder
		ON balances(item_id, holder_type, holder_id);

	-- Ledger (append-only; every balance mutation has its mirror here)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		lot_id TEXT NOT NULL DEFAULT '',
		holder_type TEXT NOT NULL,
		holder_id TEXT NOT NULL DEFAULT '',
		tx_type TEXT NOT NULL,
		qty_base TEXT NOT NULL,
		tx_time TEXT NOT NULL,
		reference TEXT,
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		is_override BOOLEAN NOT NULL DEFAULT FALSE,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_item_time
		ON ledger_entries(item_id, tx_time DESC);
	CREATE INDEX IF NOT EXISTS idx_ledger_holder
		ON ledger_entries(item_id, holder_type, holder_id, lot_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_reference
		ON ledger_entries(reference) WHERE reference IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// BALANCES
// =============================================================================

func (s *Store) AdjustBalance(ctx context.Context, key inventory.BalanceKey, delta decimal.Decimal, allowNegative bool) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustBalance(ctx, s.db, key, delta, allowNegative)
}

// adjustBalance performs the optimistic compare-and-set described in the
// package comment. Quantities round-trip through exact decimal strings.
func (s *Store) adjustBalance(ctx context.Context, db dbtx, key inventory.BalanceKey, delta decimal.Decimal, allowNegative bool) (decimal.Decimal, error) {
	var (
		qtyStr  string
		version int64
	)
	err := db.QueryRowContext(ctx,
		`SELECT qty_base, version FROM balances
		 WHERE item_id = ? AND holder_type = ? AND holder_id = ? AND lot_id = ?`,
		key.ItemID, key.Holder.Type, key.Holder.ID, key.LotID,
	).Scan(&qtyStr, &version)

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if err == sql.ErrNoRows {
		// Lazy creation on first credit (or first authorized overdraw).
		if delta.IsNegative() && !allowNegative {
			return decimal.Zero, &inventory.InsufficientStockError{
				ItemID:    key.ItemID,
				Holder:    key.Holder,
				Requested: delta.Neg(),
				Available: decimal.Zero,
			}
		}
		_, err := db.ExecContext(ctx,
			`INSERT INTO balances (item_id, holder_type, holder_id, lot_id, qty_base, version, updated_at)
			 VALUES (?, ?, ?, ?, ?, 1, ?)`,
			key.ItemID, key.Holder.Type, key.Holder.ID, key.LotID, delta.String(), now,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				// Another writer created the row first.
				return decimal.Zero, inventory.ErrConcurrencyConflict
			}
			return decimal.Zero, mapSQLError(err)
		}
		return delta, nil
	}
	if err != nil {
		return decimal.Zero, mapSQLError(err)
	}

	current, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt balance quantity %q: %w", qtyStr, err)
	}
	next := current.Add(delta)
	if delta.IsNegative() && next.IsNegative() && !allowNegative {
		return decimal.Zero, &inventory.InsufficientStockError{
			ItemID:    key.ItemID,
			Holder:    key.Holder,
			Requested: delta.Neg(),
			Available: current,
		}
	}

	res, err := db.ExecContext(ctx,
		`UPDATE balances SET qty_base = ?, version = version + 1, updated_at = ?
		 WHERE item_id = ? AND holder_type = ? AND holder_id = ? AND lot_id = ? AND version = ?`,
		next.String(), now,
		key.ItemID, key.Holder.Type, key.Holder.ID, key.LotID, version,
	)
	if err != nil {
		return decimal.Zero, mapSQLError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return decimal.Zero, err
	}
	if affected == 0 {
		return decimal.Zero, inventory.ErrConcurrencyConflict
	}
	return next, nil
}

func (s *Store) GetBalance(ctx context.Context, key inventory.BalanceKey) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBalance(ctx, s.db, key)
}

func (s *Store) getBalance(ctx context.Context, db dbtx, key inventory.BalanceKey) (decimal.Decimal, error) {
	var qtyStr string
	err := db.QueryRowContext(ctx,
		`SELECT qty_base FROM balances
		 WHERE item_id = ? AND holder_type = ? AND holder_id = ? AND lot_id = ?`,
		key.ItemID, key.Holder.Type, key.Holder.ID, key.LotID,
	).Scan(&qtyStr)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, mapSQLError(err)
	}
	return decimal.NewFromString(qtyStr)
}

func (s *Store) AggregateBalance(ctx context.Context, itemID inventory.ItemID, holder inventory.HolderRef) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aggregateBalance(ctx, s.db, itemID, holder)
}

func (s *Store) aggregateBalance(ctx context.Context, db dbtx, itemID inventory.ItemID, holder inventory.HolderRef) (decimal.Decimal, error) {
	rows, err := s.lotBalances(ctx, db, itemID, holder)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.QtyBase)
	}
	return total, nil
}

func (s *Store) LotBalances(ctx context.Context, itemID inventory.ItemID, holder inventory.HolderRef) ([]inventory.LotBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lotBalances(ctx, s.db, itemID, holder)
}

func (s *Store) lotBalances(ctx context.Context, db dbtx, itemID inventory.ItemID, holder inventory.HolderRef) ([]inventory.LotBalance, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT lot_id, qty_base FROM balances
		 WHERE item_id = ? AND holder_type = ? AND holder_id = ?
		 ORDER BY lot_id`,
		itemID, holder.Type, holder.ID,
	)
	if err != nil {
		return nil, mapSQLError(err)
	}
	defer rows.Close()

	var result []inventory.LotBalance
	for rows.Next() {
		var (
			lotID  string
			qtyStr string
		)
		if err := rows.Scan(&lotID, &qtyStr); err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt balance quantity %q: %w", qtyStr, err)
		}
		result = append(result, inventory.LotBalance{LotID: inventory.LotID(lotID), QtyBase: qty})
	}
	return result, rows.Err()
}

func (s *Store) HolderBalances(ctx context.Context, itemID inventory.ItemID) ([]inventory.HolderBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.holderBalances(ctx, s.db, itemID)
}

func (s *Store) holderBalances(ctx context.Context, db dbtx, itemID inventory.ItemID) ([]inventory.HolderBalance, error) {
	// Summing in Go keeps the arithmetic in exact decimals; SQLite's SUM
	// over TEXT columns silently coerces to floats.
	rows, err := db.QueryContext(ctx,
		`SELECT holder_type, holder_id, qty_base FROM balances
		 WHERE item_id = ?
		 ORDER BY holder_type, holder_id`,
		itemID,
	)
	if err != nil {
		return nil, mapSQLError(err)
	}
	defer rows.Close()

	var (
		result  []inventory.HolderBalance
		current inventory.HolderRef
		sum     decimal.Decimal
		started bool
	)
	flush := func() {
		if started {
			result = append(result, inventory.HolderBalance{Holder: current, QtyBase: sum})
		}
	}
	for rows.Next() {
		var (
			holderType string
			holderID   string
			qtyStr     string
		)
		if err := rows.Scan(&holderType, &holderID, &qtyStr); err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt balance quantity %q: %w", qtyStr, err)
		}
		holder := inventory.HolderRef{Type: inventory.HolderType(holderType), ID: holderID}
		if !started || !holder.Equal(current) {
			flush()
			current = holder
			sum = decimal.Zero
			started = true
		}
		sum = sum.Add(qty)
	}
	flush()
	return result, rows.Err()
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) AppendEntries(ctx context.Context, entries []inventory.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := s.appendEntries(ctx, sqlTx, entries); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) appendEntries(ctx context.Context, db dbtx, entries []inventory.LedgerEntry) error {
	for _, e := range entries {
		_, err := db.ExecContext(ctx,
			`INSERT INTO ledger_entries
			 (id, item_id, lot_id, holder_type, holder_id, tx_type, qty_base, tx_time,
			  reference, notes, created_by, is_override, idempotency_key, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID,
			e.ItemID,
			e.LotID,
			e.Holder.Type,
			e.Holder.ID,
			e.TxType,
			e.QtyBase.String(),
			e.TxTime.UTC().Format(time.RFC3339Nano),
			nullString(e.Reference),
			e.Notes,
			e.CreatedBy,
			e.IsOverride,
			nullString(e.IdempotencyKey),
			time.Now().UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			// Only the idempotency-key index signals a replayed request; any
			// other unique violation (the entry id PK) is a caller bug.
			if isUniqueConstraintError(err) && strings.Contains(err.Error(), "ledger_entries.idempotency_key") {
				return inventory.ErrDuplicateIdempotencyKey
			}
			return mapSQLError(err)
		}
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, filter inventory.LedgerFilter) ([]inventory.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries(ctx, s.db, filter)
}

func (s *Store) entries(ctx context.Context, db dbtx, filter inventory.LedgerFilter) ([]inventory.LedgerEntry, error) {
	var query strings.Builder
	query.WriteString(
		`SELECT id, item_id, lot_id, holder_type, holder_id, tx_type, qty_base, tx_time,
		        reference, notes, created_by, is_override, idempotency_key
		 FROM ledger_entries WHERE 1=1`)
	var args []any

	if filter.ItemID != nil {
		query.WriteString(" AND item_id = ?")
		args = append(args, *filter.ItemID)
	}
	if filter.Holder != nil {
		query.WriteString(" AND holder_type = ? AND holder_id = ?")
		args = append(args, filter.Holder.Type, filter.Holder.ID)
	}
	if filter.LotID != nil {
		query.WriteString(" AND lot_id = ?")
		args = append(args, *filter.LotID)
	}
	if filter.Reference != "" {
		query.WriteString(" AND reference = ?")
		args = append(args, filter.Reference)
	}
	if filter.From != nil {
		query.WriteString(" AND tx_time >= ?")
		args = append(args, filter.From.UTC().Format(time.RFC3339Nano))
	}
	if filter.To != nil {
		query.WriteString(" AND tx_time <= ?")
		args = append(args, filter.To.UTC().Format(time.RFC3339Nano))
	}

	// SQLite treats a negative LIMIT as unbounded, which matches the
	// filter's "limit < 0 means everything" contract.
	limit := filter.Limit
	if limit == 0 {
		limit = defaultPageSize
	}
	query.WriteString(" ORDER BY tx_time DESC, created_at DESC LIMIT ? OFFSET ?")
	args = append(args, limit, filter.Offset)

	rows, err := db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, mapSQLError(err)
	}
	defer rows.Close()

	var result []inventory.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func scanEntry(rows *sql.Rows) (inventory.LedgerEntry, error) {
	var (
		e          inventory.LedgerEntry
		holderType string
		holderID   string
		qtyStr     string
		txTime     string
		reference  sql.NullString
		idemKey    sql.NullString
	)
	err := rows.Scan(
		&e.ID, &e.ItemID, &e.LotID, &holderType, &holderID, &e.TxType,
		&qtyStr, &txTime, &reference, &e.Notes, &e.CreatedBy, &e.IsOverride, &idemKey,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	e.Holder = inventory.HolderRef{Type: inventory.HolderType(holderType), ID: holderID}
	e.QtyBase, err = decimal.NewFromString(qtyStr)
	if err != nil {
		return e, fmt.Errorf("corrupt ledger quantity %q: %w", qtyStr, err)
	}
	e.TxTime, err = time.Parse(time.RFC3339Nano, txTime)
	if err != nil {
		return e, fmt.Errorf("corrupt ledger timestamp %q: %w", txTime, err)
	}
	e.Reference = reference.String
	e.IdempotencyKey = idemKey.String
	return e, nil
}

func (s *Store) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasIdempotencyKey(ctx, s.db, key)
}

func (s *Store) hasIdempotencyKey(ctx context.Context, db dbtx, key string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?", key,
	).Scan(&count)
	if err != nil {
		return false, mapSQLError(err)
	}
	return count > 0, nil
}

// =============================================================================
// ITEMS / LOTS / CONTAINERS
// =============================================================================

func (s *Store) GetItem(ctx context.Context, id inventory.ItemID) (*inventory.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getItem(ctx, s.db, id)
}

func (s *Store) getItem(ctx context.Context, db dbtx, id inventory.ItemID) (*inventory.Item, error) {
	var item inventory.Item
	err := db.QueryRowContext(ctx,
		`SELECT id, name, base_uom, requires_container_tracking, is_controlled
		 FROM items WHERE id = ?`, id,
	).Scan(&item.ID, &item.Name, &item.BaseUOM, &item.RequiresContainerTracking, &item.IsControlled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLError(err)
	}
	return &item, nil
}

func (s *Store) SaveItem(ctx context.Context, item inventory.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveItem(ctx, s.db, item)
}

func (s *Store) saveItem(ctx context.Context, db dbtx, item inventory.Item) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO items (id, name, base_uom, requires_container_tracking, is_controlled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			base_uom = excluded.base_uom,
			requires_container_tracking = excluded.requires_container_tracking,
			is_controlled = excluded.is_controlled`,
		item.ID, item.Name, item.BaseUOM, item.RequiresContainerTracking, item.IsControlled,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return mapSQLError(err)
}

func (s *Store) GetLot(ctx context.Context, id inventory.LotID) (*inventory.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLot(ctx, s.db, id)
}

func (s *Store) getLot(ctx context.Context, db dbtx, id inventory.LotID) (*inventory.Lot, error) {
	var (
		lot          inventory.Lot
		supplierID   sql.NullString
		receivedDate string
		expiryDate   sql.NullString
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, item_id, lot_number, supplier_id, received_date, expiry_date
		 FROM lots WHERE id = ?`, id,
	).Scan(&lot.ID, &lot.ItemID, &lot.LotNumber, &supplierID, &receivedDate, &expiryDate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLError(err)
	}

	lot.SupplierID = supplierID.String
	lot.ReceivedDate, err = time.Parse(time.RFC3339Nano, receivedDate)
	if err != nil {
		return nil, fmt.Errorf("corrupt lot received date %q: %w", receivedDate, err)
	}
	if expiryDate.Valid {
		t, err := time.Parse(time.RFC3339Nano, expiryDate.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt lot expiry date %q: %w", expiryDate.String, err)
		}
		lot.ExpiryDate = &t
	}
	return &lot, nil
}

func (s *Store) SaveLot(ctx context.Context, lot inventory.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLot(ctx, s.db, lot)
}

func (s *Store) saveLot(ctx context.Context, db dbtx, lot inventory.Lot) error {
	var expiry sql.NullString
	if lot.ExpiryDate != nil {
		expiry = sql.NullString{String: lot.ExpiryDate.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO lots (id, item_id, lot_number, supplier_id, received_date, expiry_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			lot_number = excluded.lot_number,
			supplier_id = excluded.supplier_id,
			received_date = excluded.received_date,
			expiry_date = excluded.expiry_date`,
		lot.ID, lot.ItemID, lot.LotNumber, nullString(lot.SupplierID),
		lot.ReceivedDate.UTC().Format(time.RFC3339Nano), expiry,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return mapSQLError(err)
}

func (s *Store) GetContainer(ctx context.Context, id inventory.ContainerID) (*inventory.Container, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getContainer(ctx, s.db, id)
}

func (s *Store) getContainer(ctx context.Context, db dbtx, id inventory.ContainerID) (*inventory.Container, error) {
	var (
		c      inventory.Container
		qtyStr string
	)
	err := db.QueryRowContext(ctx,
		`SELECT id, lot_id, container_code, current_qty_base, status
		 FROM containers WHERE id = ?`, id,
	).Scan(&c.ID, &c.LotID, &c.ContainerCode, &qtyStr, &c.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLError(err)
	}
	c.CurrentQtyBase, err = decimal.NewFromString(qtyStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt container quantity %q: %w", qtyStr, err)
	}
	return &c, nil
}

func (s *Store) SaveContainer(ctx context.Context, c inventory.Container) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveContainer(ctx, s.db, c)
}

func (s *Store) saveContainer(ctx context.Context, db dbtx, c inventory.Container) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO containers (id, lot_id, container_code, current_qty_base, status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			current_qty_base = excluded.current_qty_base,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		c.ID, c.LotID, c.ContainerCode, c.CurrentQtyBase.String(), c.Status,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return mapSQLError(err)
}

// =============================================================================
// TRANSACTIONAL STORE (inventory.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The store-level
// mutex is held for the duration, so a movement's reads and writes see a
// stable snapshot and either all land or none do.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every Store call through the wrapped *sql.Tx. The parent's
// mutex is already held by WithTx.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

var _ inventory.Store = (*txStore)(nil)

func (ts *txStore) AdjustBalance(ctx context.Context, key inventory.BalanceKey, delta decimal.Decimal, allowNegative bool) (decimal.Decimal, error) {
	return ts.parent.adjustBalance(ctx, ts.tx, key, delta, allowNegative)
}

func (ts *txStore) GetBalance(ctx context.Context, key inventory.BalanceKey) (decimal.Decimal, error) {
	return ts.parent.getBalance(ctx, ts.tx, key)
}

func (ts *txStore) AggregateBalance(ctx context.Context, itemID inventory.ItemID, holder inventory.HolderRef) (decimal.Decimal, error) {
	return ts.parent.aggregateBalance(ctx, ts.tx, itemID, holder)
}

func (ts *txStore) LotBalances(ctx context.Context, itemID inventory.ItemID, holder inventory.HolderRef) ([]inventory.LotBalance, error) {
	return ts.parent.lotBalances(ctx, ts.tx, itemID, holder)
}

func (ts *txStore) HolderBalances(ctx context.Context, itemID inventory.ItemID) ([]inventory.HolderBalance, error) {
	return ts.parent.holderBalances(ctx, ts.tx, itemID)
}

func (ts *txStore) AppendEntries(ctx context.Context, entries []inventory.LedgerEntry) error {
	return ts.parent.appendEntries(ctx, ts.tx, entries)
}

func (ts *txStore) Entries(ctx context.Context, filter inventory.LedgerFilter) ([]inventory.LedgerEntry, error) {
	return ts.parent.entries(ctx, ts.tx, filter)
}

func (ts *txStore) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return ts.parent.hasIdempotencyKey(ctx, ts.tx, key)
}

func (ts *txStore) GetItem(ctx context.Context, id inventory.ItemID) (*inventory.Item, error) {
	return ts.parent.getItem(ctx, ts.tx, id)
}

func (ts *txStore) SaveItem(ctx context.Context, item inventory.Item) error {
	return ts.parent.saveItem(ctx, ts.tx, item)
}

func (ts *txStore) GetLot(ctx context.Context, id inventory.LotID) (*inventory.Lot, error) {
	return ts.parent.getLot(ctx, ts.tx, id)
}

func (ts *txStore) SaveLot(ctx context.Context, lot inventory.Lot) error {
	return ts.parent.saveLot(ctx, ts.tx, lot)
}

func (ts *txStore) GetContainer(ctx context.Context, id inventory.ContainerID) (*inventory.Container, error) {
	return ts.parent.getContainer(ctx, ts.tx, id)
}

func (ts *txStore) SaveContainer(ctx context.Context, c inventory.Container) error {
	return ts.parent.saveContainer(ctx, ts.tx, c)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"ledger_entries", "balances", "containers", "lots", "items"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mapSQLError converts driver-level contention into the engine's transient
// conflict error so the retry loop can take over.
func mapSQLError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%w: %v", inventory.ErrConcurrencyConflict, err)
	}
	return err
}
