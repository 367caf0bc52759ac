/*
transfer.go - The transfer orchestrator

PURPOSE:
  The Engine is the single writer of balances and ledger entries. A transfer
  validates its inputs, normalizes the quantity to the item's base unit,
  resolves lots (explicit, container-derived, or FEFO), applies the
  negative-stock policy, and then, inside one storage transaction,
  decrements the source, credits the destination, and appends the paired
  ledger entries for every lot touched.

ATOMICITY:
  Steps after validation run inside TxStore.WithTx. A failure at any point
  rolls the whole operation back: no partial balance or ledger mutation,
  ever. Optimistic conflicts surface as ErrConcurrencyConflict and are
  retried with exponential backoff up to a bounded attempt count.

DOUBLE-ENTRY:
  Every unit leaving one holder arrives at another. Each allocation writes a
  TRANSFER_OUT at the source and a TRANSFER_IN at the destination, both
  correlated by one reference id. The destination adjustment never permits
  a negative result.

CONTAINERS:
  Controlled and container-tracked items move by whole container only. A
  caller-supplied quantity on a container transfer is overridden by the
  container's full remaining base quantity.

SEE ALSO:
  - allocator.go: FEFO selection invoked inside the transaction
  - policy.go: Override gating
  - store.go: The conditional-adjust contract the floor check relies on
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// TransferRequest moves stock of one item between two holders.
type TransferRequest struct {
	From   HolderRef
	To     HolderRef
	ItemID ItemID

	// LotID pins the allocation to one lot. Empty means FEFO.
	LotID LotID

	// ContainerID forces a whole-container move; Quantity is then ignored.
	ContainerID ContainerID

	// Quantity in any unit compatible with the item's base unit.
	Quantity Amount

	Reference string // correlation id; generated when empty
	Notes     string

	AllowNegative bool
	OverrideNote  string

	// IdempotencyKey guards against blind retries; optional.
	IdempotencyKey string

	Caller Caller
}

// TransferResult reports the per-lot breakdown and resulting aggregates.
type TransferResult struct {
	Reference               string
	QtyBase                 decimal.Decimal
	Allocations             []Allocation
	SourceBalanceAfter      decimal.Decimal
	DestinationBalanceAfter decimal.Decimal
	Override                bool
}

// AdjustmentRequest is a privileged manual correction of one balance.
// Positive DeltaBase writes ADJUSTMENT_IN, negative writes ADJUSTMENT_OUT.
type AdjustmentRequest struct {
	Holder        HolderRef
	ItemID        ItemID
	LotID         LotID
	Delta         Amount
	Reason        string
	AllowNegative bool
	OverrideNote  string
	Caller        Caller
}

// AdjustmentResult reports the balance after a manual correction.
type AdjustmentResult struct {
	Reference    string
	DeltaBase    decimal.Decimal
	BalanceAfter decimal.Decimal
	Override     bool
}

// ReceiveRequest books a new lot (and optionally its containers) into the
// central store. Procurement workflow stays external; this is the minimal
// stock producer the engine itself supports.
type ReceiveRequest struct {
	ItemID       ItemID
	LotNumber    string
	SupplierID   string
	ReceivedDate time.Time
	ExpiryDate   *time.Time

	// Quantity received, used when no containers are itemized.
	Quantity Amount

	// Containers, when given, define the received quantity per container;
	// the lot credit is their sum.
	Containers []ReceiveContainer

	Reference string
	Notes     string
	Caller    Caller
}

type ReceiveContainer struct {
	ContainerCode string
	Quantity      Amount
}

// ReceiveResult reports the created lot and credited quantity.
type ReceiveResult struct {
	LotID        LotID
	ContainerIDs []ContainerID
	QtyBase      decimal.Decimal
	Reference    string
}

// =============================================================================
// ENGINE
// =============================================================================

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 10 * time.Millisecond
)

// Engine orchestrates every balance/ledger mutation.
type Engine struct {
	Store     TxStore
	Converter *UnitConverter
	Policy    NegativeStockPolicy
	Metrics   *Metrics

	// MaxAttempts bounds optimistic-conflict retries per operation.
	MaxAttempts int
	// RetryDelay is the first backoff step; it doubles per attempt.
	RetryDelay time.Duration

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
	// NewID generates entry ids and references; defaults to uuid.
	NewID func() string
}

func NewEngine(store TxStore, catalog *UnitCatalog) *Engine {
	return &Engine{
		Store:       store,
		Converter:   NewUnitConverter(catalog),
		MaxAttempts: defaultMaxAttempts,
		RetryDelay:  defaultRetryDelay,
		Now:         time.Now,
		NewID:       func() string { return uuid.New().String() },
	}
}

// =============================================================================
// TRANSFER
// =============================================================================

// Transfer executes one atomic stock movement.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	result, err := e.transfer(ctx, req)
	if err != nil {
		e.Metrics.incRejected()
		return nil, err
	}
	e.Metrics.incCommitted()
	if result.Override {
		e.Metrics.incOverride()
	}
	return result, nil
}

func (e *Engine) transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := req.From.Validate(); err != nil {
		return nil, err
	}
	if err := req.To.Validate(); err != nil {
		return nil, err
	}
	if req.From.Equal(req.To) {
		return nil, fmt.Errorf("%w: source and destination are the same holder", ErrValidation)
	}
	if req.ItemID == "" {
		return nil, fmt.Errorf("%w: item id is required", ErrValidation)
	}
	if err := e.Policy.Authorize(req.Caller, req.AllowNegative, req.OverrideNote); err != nil {
		return nil, err
	}

	item, err := e.Store.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrItemNotFound
	}
	if (item.RequiresContainerTracking || item.IsControlled) && req.ContainerID == "" {
		return nil, fmt.Errorf("%w: item %s moves by container only", ErrContainerRequired, item.ID)
	}

	reference := req.Reference
	if reference == "" {
		reference = e.NewID()
	}

	var result *TransferResult
	err = e.withRetry(ctx, func() error {
		result = nil
		return e.Store.WithTx(ctx, func(s Store) error {
			r, err := e.transferTx(ctx, s, *item, req, reference)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// transferTx runs the allocation and all four-per-lot writes inside one
// storage transaction.
func (e *Engine) transferTx(ctx context.Context, s Store, item Item, req TransferRequest, reference string) (*TransferResult, error) {
	if req.IdempotencyKey != "" {
		exists, err := s.HasIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, ErrDuplicateIdempotencyKey
		}
	}

	qtyBase, lotID, err := e.resolveQuantity(ctx, s, item, req)
	if err != nil {
		return nil, err
	}
	if !qtyBase.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}

	// The allocator reads through the tx-scoped store so its candidate
	// balances cannot shift before the adjustments below.
	allocations, err := NewLotAllocator(s).Allocate(ctx, item, req.From, qtyBase, lotID, req.AllowNegative)
	if err != nil {
		return nil, err
	}

	now := e.Now().UTC()
	override := false
	entries := make([]LedgerEntry, 0, 2*len(allocations))

	for i, alloc := range allocations {
		srcKey := BalanceKey{ItemID: item.ID, Holder: req.From, LotID: alloc.LotID}
		newSrc, err := s.AdjustBalance(ctx, srcKey, alloc.QtyBase.Neg(), req.AllowNegative)
		if err != nil {
			return nil, err
		}
		entryOverride := newSrc.IsNegative()
		override = override || entryOverride

		dstKey := BalanceKey{ItemID: item.ID, Holder: req.To, LotID: alloc.LotID}
		// Destination credits can never produce a negative balance.
		if _, err := s.AdjustBalance(ctx, dstKey, alloc.QtyBase, false); err != nil {
			return nil, err
		}

		notes := req.Notes
		if entryOverride && req.OverrideNote != "" {
			notes = req.OverrideNote
		}

		out := LedgerEntry{
			ID:        EntryID(e.NewID()),
			ItemID:    item.ID,
			LotID:     alloc.LotID,
			Holder:    req.From,
			TxType:    TxTransferOut,
			QtyBase:   alloc.QtyBase,
			TxTime:    now,
			Reference: reference,
			Notes:     notes,
			CreatedBy: req.Caller.ID,
			IsOverride: entryOverride,
		}
		in := LedgerEntry{
			ID:        EntryID(e.NewID()),
			ItemID:    item.ID,
			LotID:     alloc.LotID,
			Holder:    req.To,
			TxType:    TxTransferIn,
			QtyBase:   alloc.QtyBase,
			TxTime:    now,
			Reference: reference,
			Notes:     notes,
			CreatedBy: req.Caller.ID,
		}
		// The idempotency key rides on the first entry of the batch; the
		// unique index makes a replay of the whole transfer fail fast.
		if i == 0 {
			out.IdempotencyKey = req.IdempotencyKey
		}
		entries = append(entries, out, in)
	}

	if err := s.AppendEntries(ctx, entries); err != nil {
		return nil, err
	}

	srcAfter, err := s.AggregateBalance(ctx, item.ID, req.From)
	if err != nil {
		return nil, err
	}
	dstAfter, err := s.AggregateBalance(ctx, item.ID, req.To)
	if err != nil {
		return nil, err
	}

	return &TransferResult{
		Reference:               reference,
		QtyBase:                 qtyBase,
		Allocations:             allocations,
		SourceBalanceAfter:      srcAfter,
		DestinationBalanceAfter: dstAfter,
		Override:                override,
	}, nil
}

// resolveQuantity normalizes the request to a base-unit quantity and the
// lot it is bound to. A container pin overrides the caller's quantity with
// the container's full remaining amount (whole-container moves only).
func (e *Engine) resolveQuantity(ctx context.Context, s Store, item Item, req TransferRequest) (decimal.Decimal, LotID, error) {
	if req.ContainerID == "" {
		qtyBase, err := e.Converter.ToBase(item, req.Quantity)
		if err != nil {
			return decimal.Zero, "", err
		}
		return qtyBase, req.LotID, nil
	}

	container, err := s.GetContainer(ctx, req.ContainerID)
	if err != nil {
		return decimal.Zero, "", err
	}
	if container == nil {
		return decimal.Zero, "", ErrContainerNotFound
	}
	// IN_STOCK means the container still circulates; a transfer does not end
	// that. Only terminal dispositions (consumed, disposed, transferred out
	// of the organization) take it out of circulation.
	if container.Status != ContainerInStock {
		return decimal.Zero, "", fmt.Errorf("%w: container %s is %s", ErrValidation, container.ID, container.Status)
	}
	lot, err := s.GetLot(ctx, container.LotID)
	if err != nil {
		return decimal.Zero, "", err
	}
	if lot == nil {
		return decimal.Zero, "", ErrLotNotFound
	}
	if lot.ItemID != item.ID {
		return decimal.Zero, "", fmt.Errorf("%w: container %s belongs to item %s", ErrValidation, container.ID, lot.ItemID)
	}
	if req.LotID != "" && req.LotID != lot.ID {
		return decimal.Zero, "", fmt.Errorf("%w: container %s is not in lot %s", ErrValidation, container.ID, req.LotID)
	}
	return container.CurrentQtyBase, lot.ID, nil
}

// =============================================================================
// MANUAL ADJUSTMENT
// =============================================================================

// Adjust applies a privileged single-sided correction, mirrored in the
// ledger. A negative delta without an explicit lot drains the holder's
// lots in first-expiry-first-out order.
func (e *Engine) Adjust(ctx context.Context, req AdjustmentRequest) (*AdjustmentResult, error) {
	if err := req.Holder.Validate(); err != nil {
		return nil, err
	}
	if req.ItemID == "" {
		return nil, fmt.Errorf("%w: item id is required", ErrValidation)
	}
	if !req.Caller.Privileged {
		return nil, fmt.Errorf("%w: adjustments require elevated privilege", ErrForbiddenOverride)
	}
	if req.Reason == "" {
		return nil, fmt.Errorf("%w: adjustment reason is required", ErrValidation)
	}
	if err := e.Policy.Authorize(req.Caller, req.AllowNegative, req.OverrideNote); err != nil {
		return nil, err
	}

	item, err := e.Store.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrItemNotFound
	}

	deltaBase, err := e.Converter.ToBase(*item, req.Delta)
	if err != nil {
		return nil, err
	}
	if deltaBase.IsZero() {
		return nil, fmt.Errorf("%w: adjustment delta must be non-zero", ErrValidation)
	}

	reference := e.NewID()
	var result *AdjustmentResult
	err = e.withRetry(ctx, func() error {
		result = nil
		return e.Store.WithTx(ctx, func(s Store) error {
			r, err := e.adjustTx(ctx, s, *item, req, deltaBase, reference)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.Metrics.incAdjustment()
	if result.Override {
		e.Metrics.incOverride()
	}
	return result, nil
}

func (e *Engine) adjustTx(ctx context.Context, s Store, item Item, req AdjustmentRequest, deltaBase decimal.Decimal, reference string) (*AdjustmentResult, error) {
	now := e.Now().UTC()

	if deltaBase.IsPositive() || req.LotID != "" {
		key := BalanceKey{ItemID: item.ID, Holder: req.Holder, LotID: req.LotID}
		newQty, err := s.AdjustBalance(ctx, key, deltaBase, req.AllowNegative)
		if err != nil {
			return nil, err
		}

		txType := TxAdjustmentIn
		qty := deltaBase
		if deltaBase.IsNegative() {
			txType = TxAdjustmentOut
			qty = deltaBase.Neg()
		}
		entry := LedgerEntry{
			ID:         EntryID(e.NewID()),
			ItemID:     item.ID,
			LotID:      req.LotID,
			Holder:     req.Holder,
			TxType:     txType,
			QtyBase:    qty,
			TxTime:     now,
			Reference:  reference,
			Notes:      req.Reason,
			CreatedBy:  req.Caller.ID,
			IsOverride: newQty.IsNegative(),
		}
		if err := s.AppendEntries(ctx, []LedgerEntry{entry}); err != nil {
			return nil, err
		}

		return &AdjustmentResult{
			Reference:    reference,
			DeltaBase:    deltaBase,
			BalanceAfter: newQty,
			Override:     newQty.IsNegative(),
		}, nil
	}

	// A lot-less write-down drains lots the same way a transfer's source
	// side does; callers do not know internal lot ids.
	allocations, err := NewLotAllocator(s).Allocate(ctx, item, req.Holder, deltaBase.Neg(), "", req.AllowNegative)
	if err != nil {
		return nil, err
	}

	override := false
	entries := make([]LedgerEntry, 0, len(allocations))
	for _, alloc := range allocations {
		key := BalanceKey{ItemID: item.ID, Holder: req.Holder, LotID: alloc.LotID}
		newQty, err := s.AdjustBalance(ctx, key, alloc.QtyBase.Neg(), req.AllowNegative)
		if err != nil {
			return nil, err
		}
		entryOverride := newQty.IsNegative()
		override = override || entryOverride
		entries = append(entries, LedgerEntry{
			ID:         EntryID(e.NewID()),
			ItemID:     item.ID,
			LotID:      alloc.LotID,
			Holder:     req.Holder,
			TxType:     TxAdjustmentOut,
			QtyBase:    alloc.QtyBase,
			TxTime:     now,
			Reference:  reference,
			Notes:      req.Reason,
			CreatedBy:  req.Caller.ID,
			IsOverride: entryOverride,
		})
	}
	if err := s.AppendEntries(ctx, entries); err != nil {
		return nil, err
	}

	after, err := s.AggregateBalance(ctx, item.ID, req.Holder)
	if err != nil {
		return nil, err
	}
	return &AdjustmentResult{
		Reference:    reference,
		DeltaBase:    deltaBase,
		BalanceAfter: after,
		Override:     override,
	}, nil
}

// =============================================================================
// RECEIVING
// =============================================================================

// Receive books a lot (and optional containers) into the central store and
// credits it with matching ADJUSTMENT_IN entries.
func (e *Engine) Receive(ctx context.Context, req ReceiveRequest) (*ReceiveResult, error) {
	if req.ItemID == "" {
		return nil, fmt.Errorf("%w: item id is required", ErrValidation)
	}
	if req.LotNumber == "" {
		return nil, fmt.Errorf("%w: lot number is required", ErrValidation)
	}

	item, err := e.Store.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrItemNotFound
	}
	if (item.RequiresContainerTracking || item.IsControlled) && len(req.Containers) == 0 {
		return nil, fmt.Errorf("%w: item %s is received by container only", ErrContainerRequired, item.ID)
	}

	// Resolve the credited quantity: itemized containers win over the flat quantity.
	var (
		totalBase     = decimal.Zero
		containerQtys []decimal.Decimal
	)
	if len(req.Containers) > 0 {
		for _, c := range req.Containers {
			qty, err := e.Converter.ToBase(*item, c.Quantity)
			if err != nil {
				return nil, err
			}
			if !qty.IsPositive() {
				return nil, fmt.Errorf("%w: container %s quantity must be positive", ErrValidation, c.ContainerCode)
			}
			containerQtys = append(containerQtys, qty)
			totalBase = totalBase.Add(qty)
		}
	} else {
		totalBase, err = e.Converter.ToBase(*item, req.Quantity)
		if err != nil {
			return nil, err
		}
		if !totalBase.IsPositive() {
			return nil, fmt.Errorf("%w: received quantity must be positive", ErrValidation)
		}
	}

	receivedDate := req.ReceivedDate
	if receivedDate.IsZero() {
		receivedDate = e.Now().UTC()
	}
	reference := req.Reference
	if reference == "" {
		reference = e.NewID()
	}

	lot := Lot{
		ID:           LotID(e.NewID()),
		ItemID:       item.ID,
		LotNumber:    req.LotNumber,
		SupplierID:   req.SupplierID,
		ReceivedDate: receivedDate,
		ExpiryDate:   req.ExpiryDate,
	}

	var result *ReceiveResult
	err = e.withRetry(ctx, func() error {
		result = nil
		return e.Store.WithTx(ctx, func(s Store) error {
			if err := s.SaveLot(ctx, lot); err != nil {
				return err
			}

			var containerIDs []ContainerID
			for i, c := range req.Containers {
				container := Container{
					ID:             ContainerID(e.NewID()),
					LotID:          lot.ID,
					ContainerCode:  c.ContainerCode,
					CurrentQtyBase: containerQtys[i],
					Status:         ContainerInStock,
				}
				if err := s.SaveContainer(ctx, container); err != nil {
					return err
				}
				containerIDs = append(containerIDs, container.ID)
			}

			key := BalanceKey{ItemID: item.ID, Holder: StoreHolder(), LotID: lot.ID}
			if _, err := s.AdjustBalance(ctx, key, totalBase, false); err != nil {
				return err
			}

			entry := LedgerEntry{
				ID:        EntryID(e.NewID()),
				ItemID:    item.ID,
				LotID:     lot.ID,
				Holder:    StoreHolder(),
				TxType:    TxAdjustmentIn,
				QtyBase:   totalBase,
				TxTime:    e.Now().UTC(),
				Reference: reference,
				Notes:     req.Notes,
				CreatedBy: req.Caller.ID,
			}
			if err := s.AppendEntries(ctx, []LedgerEntry{entry}); err != nil {
				return err
			}

			result = &ReceiveResult{
				LotID:        lot.ID,
				ContainerIDs: containerIDs,
				QtyBase:      totalBase,
				Reference:    reference,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// RETRY LOOP
// =============================================================================

// withRetry re-runs fn on optimistic conflicts with doubling backoff until
// MaxAttempts is exhausted, then surfaces ErrConcurrencyConflict.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	attempts := e.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	delay := e.RetryDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			e.Metrics.incConflictRetry()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		err = fn()
		if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
	}
	return err
}
