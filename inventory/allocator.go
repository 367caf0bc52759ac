/*
allocator.go - FEFO lot selection

PURPOSE:
  Given an item, a source holder, and a requested base-unit quantity,
  selects the lot(s) to draw from. Default order is first-expiry-first-out:
  soonest-to-expire lots drain first, lots with no expiry date sort last
  (treated as never expiring). Ties break by received date, then lot id,
  so allocation is deterministic. Stock held without lot tracking drains
  after every tracked lot.

EXPLICIT LOTS:
  A caller-chosen lot is binding. If it cannot cover the request the
  allocation fails with InsufficientLotStockError; stock is never silently
  substituted from another lot.

SHORTFALLS:
  Without override, a total shortfall fails with InsufficientStockError
  carrying the available quantity. With an authorized override, all
  available lots are drained and the shortfall is charged to the last lot
  in FEFO order, letting its balance go negative.

SEE ALSO:
  - transfer.go: Calls Allocate inside the transfer transaction
  - store.go: LotBalances supplies the candidate set
*/
package inventory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ALLOCATION
// =============================================================================

// Allocation is one lot's share of a transfer. LotID is empty for items
// whose stock at the holder is not lot-tracked.
type Allocation struct {
	LotID   LotID
	QtyBase decimal.Decimal
}

// LotAllocator selects lots to satisfy a requested quantity.
type LotAllocator struct {
	Store Store
}

func NewLotAllocator(store Store) *LotAllocator {
	return &LotAllocator{Store: store}
}

// Allocate resolves the lots a transfer draws from. Must run inside the
// transfer transaction so the candidate balances cannot shift underneath it.
func (a *LotAllocator) Allocate(ctx context.Context, item Item, holder HolderRef, qtyBase decimal.Decimal, preferred LotID, allowNegative bool) ([]Allocation, error) {
	if preferred != "" {
		return a.allocateExplicit(ctx, item, holder, qtyBase, preferred, allowNegative)
	}
	return a.allocateFEFO(ctx, item, holder, qtyBase, allowNegative)
}

// allocateExplicit honors a binding lot choice: one allocation, no substitution.
func (a *LotAllocator) allocateExplicit(ctx context.Context, item Item, holder HolderRef, qtyBase decimal.Decimal, lotID LotID, allowNegative bool) ([]Allocation, error) {
	available, err := a.Store.GetBalance(ctx, BalanceKey{ItemID: item.ID, Holder: holder, LotID: lotID})
	if err != nil {
		return nil, err
	}
	if available.LessThan(qtyBase) && !allowNegative {
		return nil, &InsufficientLotStockError{
			ItemID:    item.ID,
			LotID:     lotID,
			Holder:    holder,
			Requested: qtyBase,
			Available: available,
		}
	}
	return []Allocation{{LotID: lotID, QtyBase: qtyBase}}, nil
}

func (a *LotAllocator) allocateFEFO(ctx context.Context, item Item, holder HolderRef, qtyBase decimal.Decimal, allowNegative bool) ([]Allocation, error) {
	rows, err := a.Store.LotBalances(ctx, item.ID, holder)
	if err != nil {
		return nil, err
	}

	// Stock held without lot tracking lives under an empty lot id and is
	// treated as one pseudo-lot that drains after every tracked lot.
	var candidates []lotCandidate
	untracked := decimal.Zero
	for _, row := range rows {
		if row.LotID == "" {
			untracked = row.QtyBase
			continue
		}
		if !row.QtyBase.IsPositive() {
			continue
		}
		lot, err := a.Store.GetLot(ctx, row.LotID)
		if err != nil {
			return nil, err
		}
		if lot == nil {
			return nil, ErrLotNotFound
		}
		candidates = append(candidates, lotCandidate{lot: *lot, available: row.QtyBase})
	}

	sortFEFO(candidates)

	var (
		allocations []Allocation
		remaining   = qtyBase
		available   = decimal.Zero
	)
	for _, c := range candidates {
		available = available.Add(c.available)
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, c.available)
		allocations = append(allocations, Allocation{LotID: c.lot.ID, QtyBase: take})
		remaining = remaining.Sub(take)
	}

	if untracked.IsPositive() {
		available = available.Add(untracked)
		if remaining.IsPositive() {
			take := decimal.Min(remaining, untracked)
			allocations = append(allocations, Allocation{LotID: "", QtyBase: take})
			remaining = remaining.Sub(take)
		}
	}

	if remaining.IsPositive() {
		if !allowNegative {
			return nil, &InsufficientStockError{
				ItemID:    item.ID,
				Holder:    holder,
				Requested: qtyBase,
				Available: available,
			}
		}
		// Override: charge the shortfall to the last lot in FEFO order.
		if len(allocations) > 0 {
			last := &allocations[len(allocations)-1]
			last.QtyBase = last.QtyBase.Add(remaining)
		} else if len(candidates) > 0 {
			allocations = append(allocations, Allocation{LotID: candidates[len(candidates)-1].lot.ID, QtyBase: remaining})
		} else {
			allocations = append(allocations, Allocation{LotID: "", QtyBase: remaining})
		}
	}

	return allocations, nil
}

// =============================================================================
// FEFO ORDERING
// =============================================================================

type lotCandidate struct {
	lot       Lot
	available decimal.Decimal
}

// sortFEFO orders candidates by expiry ascending with nil expiries last,
// then received date ascending, then lot id ascending.
func sortFEFO(candidates []lotCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].lot, candidates[j].lot
		switch {
		case a.ExpiryDate == nil && b.ExpiryDate != nil:
			return false
		case a.ExpiryDate != nil && b.ExpiryDate == nil:
			return true
		case a.ExpiryDate != nil && b.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		}
		if !a.ReceivedDate.Equal(b.ReceivedDate) {
			return a.ReceivedDate.Before(b.ReceivedDate)
		}
		return a.ID < b.ID
	})
}
