/*
rollup.go - Read-side aggregation and ledger queries

PURPOSE:
  Read APIs over the same durable state the engine writes: per-item rollups
  across holders, lot-level breakdowns for one holder, and paginated ledger
  history. None of this is on the write path; reads need only eventual
  consistency with in-flight transfers.

RECONCILIATION:
  The Reconciler replays the ledger and compares the signed sum per
  (item, holder, lot) against the stored balance. Balances are never derived
  from this scan at read time; it exists as an offline consistency check of
  the core invariant.

SEE ALSO:
  - store.go: HolderBalances / LotBalances / Entries
  - transfer.go: The only writer of the data read here
*/
package inventory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROLLUP READER
// =============================================================================

// ItemRollup is an item's on-hand picture across every holder.
type ItemRollup struct {
	ItemID    ItemID
	TotalBase decimal.Decimal
	Holders   []HolderBalance
}

// RollupReader aggregates balances for reporting.
type RollupReader struct {
	Store Store
}

func NewRollupReader(store Store) *RollupReader {
	return &RollupReader{Store: store}
}

// ItemRollup returns every holder's aggregate for an item plus the overall
// total, holders sorted by type then id for stable display.
func (r *RollupReader) ItemRollup(ctx context.Context, itemID ItemID) (*ItemRollup, error) {
	holders, err := r.Store.HolderBalances(ctx, itemID)
	if err != nil {
		return nil, err
	}

	sort.Slice(holders, func(i, j int) bool {
		if holders[i].Holder.Type != holders[j].Holder.Type {
			return holders[i].Holder.Type < holders[j].Holder.Type
		}
		return holders[i].Holder.ID < holders[j].Holder.ID
	})

	total := decimal.Zero
	for _, h := range holders {
		total = total.Add(h.QtyBase)
	}
	return &ItemRollup{ItemID: itemID, TotalBase: total, Holders: holders}, nil
}

// HolderLots returns the lot-level balances of an item at one holder,
// zero-quantity rows included.
func (r *RollupReader) HolderLots(ctx context.Context, itemID ItemID, holder HolderRef) ([]LotBalance, error) {
	if err := holder.Validate(); err != nil {
		return nil, err
	}
	rows, err := r.Store.LotBalances(ctx, itemID, holder)
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].LotID < rows[j].LotID })
	return rows, nil
}

// HolderAggregate returns one holder's total for an item across lots.
func (r *RollupReader) HolderAggregate(ctx context.Context, itemID ItemID, holder HolderRef) (decimal.Decimal, error) {
	if err := holder.Validate(); err != nil {
		return decimal.Zero, err
	}
	return r.Store.AggregateBalance(ctx, itemID, holder)
}

// =============================================================================
// LEDGER READER
// =============================================================================

// LedgerReader pages through movement history.
type LedgerReader struct {
	Store Store
}

func NewLedgerReader(store Store) *LedgerReader {
	return &LedgerReader{Store: store}
}

// Entries returns ledger entries matching the filter, most recent first.
func (r *LedgerReader) Entries(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	if filter.Holder != nil {
		if err := filter.Holder.Validate(); err != nil {
			return nil, err
		}
	}
	return r.Store.Entries(ctx, filter)
}

// =============================================================================
// RECONCILER
// =============================================================================

// Discrepancy is one balance key whose stored quantity disagrees with the
// ledger sum. An empty result means the core invariant holds.
type Discrepancy struct {
	Key       BalanceKey
	LedgerSum decimal.Decimal
	Balance   decimal.Decimal
}

// Reconciler checks ledger/balance consistency offline.
type Reconciler struct {
	Store Store
}

func NewReconciler(store Store) *Reconciler {
	return &Reconciler{Store: store}
}

// Check replays an item's full ledger and compares each key's signed sum
// to the stored balance. Every balance row the engine writes has at least
// one ledger entry, so keys discovered from the ledger cover all rows.
func (r *Reconciler) Check(ctx context.Context, itemID ItemID) ([]Discrepancy, error) {
	entries, err := r.Store.Entries(ctx, LedgerFilter{ItemID: &itemID, Limit: -1})
	if err != nil {
		return nil, err
	}

	sums := make(map[BalanceKey]decimal.Decimal)
	for _, e := range entries {
		key := BalanceKey{ItemID: e.ItemID, Holder: e.Holder, LotID: e.LotID}
		sums[key] = sums[key].Add(e.Signed())
	}

	keys := make([]BalanceKey, 0, len(sums))
	for key := range sums {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Holder.Type != b.Holder.Type {
			return a.Holder.Type < b.Holder.Type
		}
		if a.Holder.ID != b.Holder.ID {
			return a.Holder.ID < b.Holder.ID
		}
		return a.LotID < b.LotID
	})

	var discrepancies []Discrepancy
	for _, key := range keys {
		balance, err := r.Store.GetBalance(ctx, key)
		if err != nil {
			return nil, err
		}
		if !balance.Equal(sums[key]) {
			discrepancies = append(discrepancies, Discrepancy{
				Key:       key,
				LedgerSum: sums[key],
				Balance:   balance,
			})
		}
	}
	return discrepancies, nil
}
