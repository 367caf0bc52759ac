/*
store.go - Persistence interfaces for balances, ledger, and catalog records

PURPOSE:
  Defines the interface between the engine and the database. Balances are
  durable, directly queryable state; the ledger is append-only and mirrors
  every balance mutation. Different implementations can use SQLite or
  in-memory storage.

KEY INTERFACES:
  Store:   Balance mutation/reads, ledger appends/reads, item/lot/container records
  TxStore: Transactional wrapper; a whole transfer commits or rolls back as one

CONDITIONAL ADJUST CONTRACT:
  AdjustBalance is a single atomic conditional update. A decrement that would
  drive the balance below zero without allowNegative MUST fail without
  mutating, even under concurrent callers. Implementations enforce this at
  the storage layer (conditional UPDATE), never by read-then-write.

APPEND-ONLY CONTRACT:
  Ledger entries have no Update or Delete. Corrections are written as
  adjustment entries. Idempotency keys are unique across all entries.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite (WAL, versioned balance rows)
  - inventory/store/memory.go: In-memory for tests and demos

SEE ALSO:
  - transfer.go: Drives every write through TxStore.WithTx
  - rollup.go: Read-side consumers
*/
package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Persistence interface
// =============================================================================

// Store handles persistence for the engine. Ledger entries are append-only;
// balances change only through AdjustBalance.
type Store interface {
	// ---- Balances ----

	// AdjustBalance applies delta to the balance at key and returns the new
	// quantity. Creates the row lazily on first credit. If the result would be
	// negative and allowNegative is false, fails with ErrInsufficientStock
	// without mutating. Must be a single atomic conditional update.
	AdjustBalance(ctx context.Context, key BalanceKey, delta decimal.Decimal, allowNegative bool) (decimal.Decimal, error)

	// GetBalance returns the on-hand quantity at key (zero for absent rows).
	GetBalance(ctx context.Context, key BalanceKey) (decimal.Decimal, error)

	// AggregateBalance sums an item's balances across lots at one holder.
	AggregateBalance(ctx context.Context, itemID ItemID, holder HolderRef) (decimal.Decimal, error)

	// LotBalances returns per-lot balances for an item at a holder,
	// including zero and negative rows. The allocator filters positives.
	LotBalances(ctx context.Context, itemID ItemID, holder HolderRef) ([]LotBalance, error)

	// HolderBalances returns every holder's aggregate for an item (rollup).
	HolderBalances(ctx context.Context, itemID ItemID) ([]HolderBalance, error)

	// ---- Ledger ----

	// AppendEntries persists ledger entries. The ONLY ledger write. Fails
	// with ErrDuplicateIdempotencyKey on key reuse.
	AppendEntries(ctx context.Context, entries []LedgerEntry) error

	// Entries returns ledger entries matching the filter, tx_time descending.
	Entries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)

	// HasIdempotencyKey checks whether a key has already been recorded.
	HasIdempotencyKey(ctx context.Context, key string) (bool, error)

	// ---- Catalog records (items, lots, containers) ----

	GetItem(ctx context.Context, id ItemID) (*Item, error)
	SaveItem(ctx context.Context, item Item) error

	GetLot(ctx context.Context, id LotID) (*Lot, error)
	SaveLot(ctx context.Context, lot Lot) error

	GetContainer(ctx context.Context, id ContainerID) (*Container, error)
	SaveContainer(ctx context.Context, c Container) error
}

// TxStore wraps Store with a transaction boundary. Every transfer runs its
// allocation, balance adjustments, and ledger appends inside one WithTx.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back; otherwise it is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// READ-SIDE TYPES
// =============================================================================

// HolderBalance is one holder's aggregate for an item.
type HolderBalance struct {
	Holder  HolderRef
	QtyBase decimal.Decimal
}

// LedgerFilter selects ledger entries. Nil pointer fields are unconstrained.
// Limit of 0 means the implementation's default page size.
type LedgerFilter struct {
	ItemID    *ItemID
	Holder    *HolderRef
	LotID     *LotID
	Reference string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}
