/*
Package inventory provides the consumable stock ledger and balance engine.

PURPOSE:
  This package contains the domain types and algorithms for tracking on-hand
  quantities of consumable items across heterogeneous holders (the central
  store, offices, sub-locations, employees) at lot and container granularity,
  and for moving stock between holders as atomic, fully-audited transfers.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit of measure (e.g., 250 mL, 1.5 kg)
  - HolderRef: A tagged reference to anything that can hold stock
  - Item/Lot/Container: The consumable hierarchy (item -> lot -> container)
  - LedgerEntry: An immutable record of one directional quantity movement
  - BalanceKey: The (item, holder, lot) triple every balance is keyed by

DESIGN PRINCIPLES:
  1. Double-entry: Every unit leaving one holder arrives at another
  2. Precision: decimal.Decimal everywhere; no float math in the write path
  3. Closed holder variant: HolderType is an enum, not scattered string tags
  4. Auditability: Every entry has a reference, actor, and optional override flag

USAGE:
  qty := inventory.NewAmount(decimal.NewFromInt(250), "mL")
  from := inventory.StoreHolder()
  to := inventory.OfficeHolder("office-12")

SEE ALSO:
  - units.go: UnitCatalog and conversion to base units
  - allocator.go: FEFO lot selection
  - transfer.go: The transfer orchestrator
*/
package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with a unit of measure
// =============================================================================

// Amount is a quantity expressed in a specific unit. Amounts cross the API
// boundary; once converted, the engine works in an item's base unit only.
type Amount struct {
	Value decimal.Decimal
	Unit  UnitCode
}

type UnitCode string

func NewAmount(value decimal.Decimal, unit UnitCode) Amount {
	return Amount{Value: value, Unit: unit}
}

func NewAmountFromFloat(value float64, unit UnitCode) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type LotID string
type ContainerID string
type EntryID string

// =============================================================================
// HOLDER - Tagged reference to a balance owner
// =============================================================================

// HolderType is the closed set of entities that can possess stock.
type HolderType string

const (
	HolderStore       HolderType = "STORE"
	HolderOffice      HolderType = "OFFICE"
	HolderSubLocation HolderType = "SUB_LOCATION"
	HolderEmployee    HolderType = "EMPLOYEE"
)

// HolderRef identifies a balance owner. STORE is a singleton with no external
// id; every other type references an entity this engine does not validate.
type HolderRef struct {
	Type HolderType `json:"type"`
	ID   string     `json:"id,omitempty"`
}

func StoreHolder() HolderRef                { return HolderRef{Type: HolderStore} }
func OfficeHolder(id string) HolderRef      { return HolderRef{Type: HolderOffice, ID: id} }
func SubLocationHolder(id string) HolderRef { return HolderRef{Type: HolderSubLocation, ID: id} }
func EmployeeHolder(id string) HolderRef    { return HolderRef{Type: HolderEmployee, ID: id} }

// Validate enforces the id rule exhaustively per holder type.
func (h HolderRef) Validate() error {
	switch h.Type {
	case HolderStore:
		if h.ID != "" {
			return fmt.Errorf("%w: STORE holder must not carry an id", ErrInvalidHolder)
		}
		return nil
	case HolderOffice, HolderSubLocation, HolderEmployee:
		if h.ID == "" {
			return fmt.Errorf("%w: %s holder requires an id", ErrInvalidHolder, h.Type)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown holder type %q", ErrInvalidHolder, h.Type)
	}
}

// Equal compares holders by type and id.
func (h HolderRef) Equal(o HolderRef) bool {
	return h.Type == o.Type && h.ID == o.ID
}

func (h HolderRef) String() string {
	if h.ID == "" {
		return string(h.Type)
	}
	return string(h.Type) + ":" + h.ID
}

// =============================================================================
// ITEM / LOT / CONTAINER
// =============================================================================

// Item is the consumable definition this engine needs. Full item CRUD lives
// elsewhere; these are the fields the transfer path trusts.
type Item struct {
	ID                        ItemID
	Name                      string
	BaseUOM                   UnitCode // canonical unit balances are stored in
	RequiresContainerTracking bool
	IsControlled              bool
}

// Lot is a received batch of an item. A nil ExpiryDate means the lot never
// expires and sorts after every dated lot in FEFO order.
type Lot struct {
	ID           LotID
	ItemID       ItemID
	LotNumber    string
	SupplierID   string
	ReceivedDate time.Time
	ExpiryDate   *time.Time
}

type ContainerStatus string

// IN_STOCK containers circulate between holders; the other statuses are
// terminal dispositions and block further movement. TRANSFERRED marks a
// container handed off outside the organization, not an internal move.
const (
	ContainerInStock     ContainerStatus = "IN_STOCK"
	ContainerConsumed    ContainerStatus = "CONSUMED"
	ContainerDisposed    ContainerStatus = "DISPOSED"
	ContainerTransferred ContainerStatus = "TRANSFERRED"
)

// Container is a physically tracked unit of a lot (a bottle, a drum). Its
// quantity moves as a whole; this engine never splits a container.
type Container struct {
	ID             ContainerID
	LotID          LotID
	ContainerCode  string
	CurrentQtyBase decimal.Decimal
	Status         ContainerStatus
}

// =============================================================================
// BALANCE - On-hand quantity per (item, holder, lot)
// =============================================================================

// BalanceKey identifies one balance row. LotID is empty for items that are
// not lot-tracked at this holder.
type BalanceKey struct {
	ItemID ItemID
	Holder HolderRef
	LotID  LotID
}

// LotBalance is a lot-level on-hand figure, as read by the allocator.
type LotBalance struct {
	LotID   LotID
	QtyBase decimal.Decimal
}

// =============================================================================
// LEDGER ENTRY - Immutable movement record
// =============================================================================

type TxType string

const (
	TxTransferIn    TxType = "TRANSFER_IN"
	TxTransferOut   TxType = "TRANSFER_OUT"
	TxAdjustmentIn  TxType = "ADJUSTMENT_IN"
	TxAdjustmentOut TxType = "ADJUSTMENT_OUT"
)

// LedgerEntry records a single directional quantity movement. QtyBase is
// always positive; direction is carried by TxType. Entries are append-only:
// for every (item, holder, lot), sum(credits) - sum(debits) equals the
// current balance at all times.
type LedgerEntry struct {
	ID             EntryID
	ItemID         ItemID
	LotID          LotID // empty when not lot-tracked
	Holder         HolderRef
	TxType         TxType
	QtyBase        decimal.Decimal
	TxTime         time.Time
	Reference      string // correlation id shared by both sides of a transfer
	Notes          string
	CreatedBy      string
	IsOverride     bool   // true when this entry drove a balance below zero
	IdempotencyKey string // optional client-supplied retry guard
}

// Signed returns the entry's effect on its holder's balance.
func (e LedgerEntry) Signed() decimal.Decimal {
	switch e.TxType {
	case TxTransferIn, TxAdjustmentIn:
		return e.QtyBase
	case TxTransferOut, TxAdjustmentOut:
		return e.QtyBase.Neg()
	default:
		return decimal.Zero
	}
}

// =============================================================================
// CALLER - Trusted authorization facts from the collaborator layer
// =============================================================================

// Caller carries who is acting and whether they hold elevated privilege.
// Resolution of both is an external concern; the engine only consumes them.
type Caller struct {
	ID         string
	Privileged bool
}
