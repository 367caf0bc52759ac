package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labstock/inventory-engine/inventory"
	"github.com/labstock/inventory-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func storeKey(itemID, lotID string) inventory.BalanceKey {
	return inventory.BalanceKey{
		ItemID: inventory.ItemID(itemID),
		Holder: inventory.StoreHolder(),
		LotID:  inventory.LotID(lotID),
	}
}

func ledgerEntry(id, itemID string, holder inventory.HolderRef, txType inventory.TxType, qty, ref string) inventory.LedgerEntry {
	return inventory.LedgerEntry{
		ID:        inventory.EntryID(id),
		ItemID:    inventory.ItemID(itemID),
		Holder:    holder,
		TxType:    txType,
		QtyBase:   decimal.RequireFromString(qty),
		TxTime:    time.Date(2026, time.February, 10, 12, 0, 0, 0, time.UTC),
		Reference: ref,
	}
}

// =============================================================================
// BALANCE TESTS
// =============================================================================

func TestAdjustBalance_CreateAndAccumulate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	k := storeKey("item-1", "lot-1")

	newBalance, err := store.AdjustBalance(ctx, k, decimal.RequireFromString("10.5"), false)
	require.NoError(t, err)
	assert.True(t, newBalance.Equal(decimal.RequireFromString("10.5")))

	newBalance, err = store.AdjustBalance(ctx, k, decimal.RequireFromString("0.25"), false)
	require.NoError(t, err)
	assert.True(t, newBalance.Equal(decimal.RequireFromString("10.75")), "decimal strings stay exact")

	balance, err := store.GetBalance(ctx, k)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("10.75")))
}

func TestAdjustBalance_FloorEnforced(t *testing.T) {
	// GIVEN: A persisted balance of 10
	// WHEN: Debiting 15 without override
	// THEN: InsufficientStockError with the current available; row unchanged

	store := newTestStore(t)
	ctx := context.Background()
	k := storeKey("item-1", "")

	_, err := store.AdjustBalance(ctx, k, decimal.NewFromInt(10), false)
	require.NoError(t, err)

	_, err = store.AdjustBalance(ctx, k, decimal.NewFromInt(-15), false)
	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.True(t, stockErr.Available.Equal(decimal.NewFromInt(10)))

	balance, err := store.GetBalance(ctx, k)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(10)))
}

func TestAdjustBalance_DebitOnMissingRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AdjustBalance(ctx, storeKey("ghost", ""), decimal.NewFromInt(-1), false)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

func TestAdjustBalance_OverrideAllowsNegative(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	k := storeKey("item-1", "lot-1")

	newBalance, err := store.AdjustBalance(ctx, k, decimal.NewFromInt(-8), true)
	require.NoError(t, err)
	assert.True(t, newBalance.Equal(decimal.NewFromInt(-8)))

	// Crediting back does not require the override flag.
	newBalance, err = store.AdjustBalance(ctx, k, decimal.NewFromInt(3), false)
	require.NoError(t, err)
	assert.True(t, newBalance.Equal(decimal.NewFromInt(-5)))
}

func TestBalances_KeyedPerLotAndHolder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emp := inventory.EmployeeHolder("emp-1")

	_, err := store.AdjustBalance(ctx, storeKey("item-1", "lot-a"), decimal.NewFromInt(30), false)
	require.NoError(t, err)
	_, err = store.AdjustBalance(ctx, storeKey("item-1", "lot-b"), decimal.NewFromInt(20), false)
	require.NoError(t, err)
	_, err = store.AdjustBalance(ctx,
		inventory.BalanceKey{ItemID: "item-1", Holder: emp, LotID: "lot-a"},
		decimal.NewFromInt(5), false)
	require.NoError(t, err)

	total, err := store.AggregateBalance(ctx, "item-1", inventory.StoreHolder())
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(50)))

	lots, err := store.LotBalances(ctx, "item-1", inventory.StoreHolder())
	require.NoError(t, err)
	assert.Len(t, lots, 2)

	holders, err := store.HolderBalances(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, holders, 2)
	byHolder := map[inventory.HolderRef]decimal.Decimal{}
	for _, hb := range holders {
		byHolder[hb.Holder] = hb.QtyBase
	}
	assert.True(t, byHolder[inventory.StoreHolder()].Equal(decimal.NewFromInt(50)))
	assert.True(t, byHolder[emp].Equal(decimal.NewFromInt(5)))
}

// =============================================================================
// LEDGER TESTS
// =============================================================================

func TestAppendEntries_AndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	holder := inventory.StoreHolder()

	base := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"e-1", "e-2", "e-3"} {
		e := ledgerEntry(id, "item-1", holder, inventory.TxAdjustmentIn, "1", "ref-1")
		e.TxTime = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.AppendEntries(ctx, []inventory.LedgerEntry{e}))
	}

	itemID := inventory.ItemID("item-1")
	entries, err := store.Entries(ctx, inventory.LedgerFilter{ItemID: &itemID, Limit: -1})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, inventory.EntryID("e-3"), entries[0].ID, "newest first")

	limited, err := store.Entries(ctx, inventory.LedgerFilter{ItemID: &itemID, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	byRef, err := store.Entries(ctx, inventory.LedgerFilter{Reference: "ref-1", Limit: -1})
	require.NoError(t, err)
	assert.Len(t, byRef, 3)
}

func TestAppendEntries_IdempotencyKeyUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	holder := inventory.StoreHolder()

	first := ledgerEntry("e-1", "item-1", holder, inventory.TxTransferOut, "5", "ref-1")
	first.IdempotencyKey = "key-1"
	require.NoError(t, store.AppendEntries(ctx, []inventory.LedgerEntry{first}))

	replay := ledgerEntry("e-2", "item-1", holder, inventory.TxTransferOut, "5", "ref-2")
	replay.IdempotencyKey = "key-1"
	err := store.AppendEntries(ctx, []inventory.LedgerEntry{replay})
	assert.ErrorIs(t, err, inventory.ErrDuplicateIdempotencyKey)

	exists, err := store.HasIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.True(t, exists)

	// The failed batch must not have written its entry.
	entries, err := store.Entries(ctx, inventory.LedgerFilter{Reference: "ref-2", Limit: -1})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAppendEntries_DuplicateEntryIDIsNotAReplay(t *testing.T) {
	// GIVEN: An entry already in the ledger
	// WHEN: Appending a different entry that reuses its id
	// THEN: The write fails, but not as an idempotency-key replay

	store := newTestStore(t)
	ctx := context.Background()
	holder := inventory.StoreHolder()

	first := ledgerEntry("e-1", "item-1", holder, inventory.TxTransferOut, "5", "ref-1")
	first.IdempotencyKey = "key-1"
	require.NoError(t, store.AppendEntries(ctx, []inventory.LedgerEntry{first}))

	clash := ledgerEntry("e-1", "item-1", holder, inventory.TxTransferOut, "5", "ref-2")
	clash.IdempotencyKey = "key-2"
	err := store.AppendEntries(ctx, []inventory.LedgerEntry{clash})
	require.Error(t, err)
	assert.NotErrorIs(t, err, inventory.ErrDuplicateIdempotencyKey)
}

func TestEntries_RoundTripFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	holder := inventory.EmployeeHolder("emp-1")

	e := ledgerEntry("e-1", "item-1", holder, inventory.TxTransferIn, "12.5", "ref-1")
	e.LotID = "lot-9"
	e.Notes = "urgent run"
	e.CreatedBy = "supervisor-1"
	e.IsOverride = true
	require.NoError(t, store.AppendEntries(ctx, []inventory.LedgerEntry{e}))

	entries, err := store.Entries(ctx, inventory.LedgerFilter{Reference: "ref-1", Limit: -1})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.LotID, got.LotID)
	assert.Equal(t, holder, got.Holder)
	assert.True(t, got.QtyBase.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, "urgent run", got.Notes)
	assert.Equal(t, "supervisor-1", got.CreatedBy)
	assert.True(t, got.IsOverride)
	assert.True(t, got.TxTime.Equal(e.TxTime))
}

// =============================================================================
// CATALOG RECORD TESTS
// =============================================================================

func TestItemLotContainer_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := inventory.Item{ID: "solvent-b", Name: "Solvent B", BaseUOM: "mL", RequiresContainerTracking: true}
	require.NoError(t, store.SaveItem(ctx, item))
	gotItem, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, gotItem)
	assert.Equal(t, item, *gotItem)

	missing, err := store.GetItem(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)

	expiry := time.Date(2027, time.March, 1, 0, 0, 0, 0, time.UTC)
	lot := inventory.Lot{
		ID: "lot-1", ItemID: item.ID, LotNumber: "LN-2026-014",
		SupplierID:   "sup-9",
		ReceivedDate: time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC),
		ExpiryDate:   &expiry,
	}
	require.NoError(t, store.SaveLot(ctx, lot))
	gotLot, err := store.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	require.NotNil(t, gotLot)
	assert.Equal(t, lot.LotNumber, gotLot.LotNumber)
	assert.True(t, gotLot.ReceivedDate.Equal(lot.ReceivedDate))
	require.NotNil(t, gotLot.ExpiryDate)
	assert.True(t, gotLot.ExpiryDate.Equal(expiry))

	container := inventory.Container{
		ID: "ctr-1", LotID: lot.ID, ContainerCode: "BTL-001",
		CurrentQtyBase: decimal.RequireFromString("500"),
		Status:         inventory.ContainerInStock,
	}
	require.NoError(t, store.SaveContainer(ctx, container))

	container.Status = inventory.ContainerTransferred
	require.NoError(t, store.SaveContainer(ctx, container))
	gotContainer, err := store.GetContainer(ctx, container.ID)
	require.NoError(t, err)
	require.NotNil(t, gotContainer)
	assert.Equal(t, inventory.ContainerTransferred, gotContainer.Status)
	assert.True(t, gotContainer.CurrentQtyBase.Equal(decimal.NewFromInt(500)))
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	k := storeKey("item-1", "")

	_, err := store.AdjustBalance(ctx, k, decimal.NewFromInt(100), false)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.WithTx(ctx, func(s inventory.Store) error {
		if _, err := s.AdjustBalance(ctx, k, decimal.NewFromInt(-40), false); err != nil {
			return err
		}
		e := ledgerEntry("e-1", "item-1", inventory.StoreHolder(), inventory.TxTransferOut, "40", "ref-1")
		if err := s.AppendEntries(ctx, []inventory.LedgerEntry{e}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	balance, err := store.GetBalance(ctx, k)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)), "balance write rolled back")

	entries, err := store.Entries(ctx, inventory.LedgerFilter{Reference: "ref-1", Limit: -1})
	require.NoError(t, err)
	assert.Empty(t, entries, "ledger write rolled back")
}

func TestWithTx_ConcurrentDebits_NeverDoubleSpend(t *testing.T) {
	// GIVEN: A balance of 100 and two workers each trying to take 60
	// WHEN: Both run concurrently
	// THEN: Exactly one succeeds; the floor is never breached

	store := newTestStore(t)
	ctx := context.Background()
	k := storeKey("item-1", "")

	_, err := store.AdjustBalance(ctx, k, decimal.NewFromInt(100), false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.WithTx(ctx, func(s inventory.Store) error {
				_, err := s.AdjustBalance(ctx, k, decimal.NewFromInt(-60), false)
				return err
			})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, successes, "only one debit can win")

	balance, err := store.GetBalance(ctx, k)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(40)))
}
