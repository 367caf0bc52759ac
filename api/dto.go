/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

QUANTITIES:
  All quantities are decimal strings on the wire (shopspring/decimal
  marshals to quoted strings). Clients never see or send binary floats,
  so 0.1 mg stays 0.1 mg.

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - inventory/transfer.go: Domain request/result types these map onto
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/labstock/inventory-engine/inventory"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// HolderDTO identifies a stock-holding party.
type HolderDTO struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// ItemDTO represents a consumable item in API responses.
type ItemDTO struct {
	ID                        string `json:"id"`
	Name                      string `json:"name"`
	BaseUOM                   string `json:"base_uom"`
	RequiresContainerTracking bool   `json:"requires_container_tracking"`
	IsControlled              bool   `json:"is_controlled"`
}

// CreateItemRequest is the request to register an item.
type CreateItemRequest struct {
	ID                        string `json:"id"`
	Name                      string `json:"name"`
	BaseUOM                   string `json:"base_uom"`
	RequiresContainerTracking bool   `json:"requires_container_tracking"`
	IsControlled              bool   `json:"is_controlled"`
}

// TransferRequestDTO is the request to move stock between holders.
type TransferRequestDTO struct {
	From           HolderDTO       `json:"from"`
	To             HolderDTO       `json:"to"`
	ItemID         string          `json:"item_id"`
	LotID          string          `json:"lot_id,omitempty"`
	ContainerID    string          `json:"container_id,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
	Reference      string          `json:"reference,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	AllowNegative  bool            `json:"allow_negative,omitempty"`
	OverrideNote   string          `json:"override_note,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	ActorID        string          `json:"actor_id"`
	Privileged     bool            `json:"privileged,omitempty"`
}

// AllocationDTO is the slice of a transfer charged to one lot.
type AllocationDTO struct {
	LotID   string          `json:"lot_id,omitempty"`
	QtyBase decimal.Decimal `json:"qty_base"`
}

// TransferResultDTO is the response after a committed transfer.
type TransferResultDTO struct {
	Reference               string          `json:"reference"`
	QtyBase                 decimal.Decimal `json:"qty_base"`
	Allocations             []AllocationDTO `json:"allocations"`
	SourceBalanceAfter      decimal.Decimal `json:"source_balance_after"`
	DestinationBalanceAfter decimal.Decimal `json:"destination_balance_after"`
	Override                bool            `json:"override"`
}

// AdjustmentRequestDTO is the request to make a manual balance correction.
type AdjustmentRequestDTO struct {
	Holder        HolderDTO       `json:"holder"`
	ItemID        string          `json:"item_id"`
	LotID         string          `json:"lot_id,omitempty"`
	Delta         decimal.Decimal `json:"delta"`
	Unit          string          `json:"unit"`
	Reason        string          `json:"reason"`
	AllowNegative bool            `json:"allow_negative,omitempty"`
	OverrideNote  string          `json:"override_note,omitempty"`
	ActorID       string          `json:"actor_id"`
	Privileged    bool            `json:"privileged,omitempty"`
}

// AdjustmentResultDTO is the response after a committed adjustment.
type AdjustmentResultDTO struct {
	Reference    string          `json:"reference"`
	DeltaBase    decimal.Decimal `json:"delta_base"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Override     bool            `json:"override"`
}

// ReceiptContainerDTO itemizes one received container.
type ReceiptContainerDTO struct {
	ContainerCode string          `json:"container_code"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// ReceiptRequestDTO is the request to book a received lot into the store.
type ReceiptRequestDTO struct {
	ItemID       string                `json:"item_id"`
	LotNumber    string                `json:"lot_number"`
	SupplierID   string                `json:"supplier_id,omitempty"`
	ReceivedDate string                `json:"received_date"`          // ISO date
	ExpiryDate   *string               `json:"expiry_date,omitempty"`  // ISO date
	Quantity     decimal.Decimal       `json:"quantity"`
	Unit         string                `json:"unit"`
	Containers   []ReceiptContainerDTO `json:"containers,omitempty"`
	Reference    string                `json:"reference,omitempty"`
	Notes        string                `json:"notes,omitempty"`
	ActorID      string                `json:"actor_id"`
}

// ReceiptResultDTO is the response after a committed receipt.
type ReceiptResultDTO struct {
	LotID        string          `json:"lot_id"`
	ContainerIDs []string        `json:"container_ids,omitempty"`
	QtyBase      decimal.Decimal `json:"qty_base"`
	Reference    string          `json:"reference"`
}

// HolderBalanceDTO is one holder's aggregate within a rollup.
type HolderBalanceDTO struct {
	Holder  HolderDTO       `json:"holder"`
	QtyBase decimal.Decimal `json:"qty_base"`
}

// RollupDTO is the per-holder aggregate view of one item.
type RollupDTO struct {
	ItemID    string             `json:"item_id"`
	TotalBase decimal.Decimal    `json:"total_base"`
	Holders   []HolderBalanceDTO `json:"holders"`
}

// LotBalanceDTO is one lot's on-hand within a holder.
type LotBalanceDTO struct {
	LotID   string          `json:"lot_id,omitempty"`
	QtyBase decimal.Decimal `json:"qty_base"`
}

// LedgerEntryDTO represents one immutable ledger row.
type LedgerEntryDTO struct {
	ID         string          `json:"id"`
	ItemID     string          `json:"item_id"`
	LotID      string          `json:"lot_id,omitempty"`
	Holder     HolderDTO       `json:"holder"`
	TxType     string          `json:"tx_type"`
	QtyBase    decimal.Decimal `json:"qty_base"`
	TxTime     string          `json:"tx_time"`
	Reference  string          `json:"reference,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	CreatedBy  string          `json:"created_by,omitempty"`
	IsOverride bool            `json:"is_override,omitempty"`
}

// UnitsDTO lists the units convertible to a base unit.
type UnitsDTO struct {
	BaseUOM string   `json:"base_uom"`
	Units   []string `json:"units"`
}

// DiscrepancyDTO is one ledger-vs-balance mismatch from a reconciliation run.
type DiscrepancyDTO struct {
	ItemID    string          `json:"item_id"`
	Holder    HolderDTO       `json:"holder"`
	LotID     string          `json:"lot_id,omitempty"`
	LedgerSum decimal.Decimal `json:"ledger_sum"`
	Balance   decimal.Decimal `json:"balance"`
}

// ReconciliationDTO is the result of one reconciliation run.
type ReconciliationDTO struct {
	ItemID        string           `json:"item_id"`
	Clean         bool             `json:"clean"`
	Discrepancies []DiscrepancyDTO `json:"discrepancies"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toHolderDTO(h inventory.HolderRef) HolderDTO {
	return HolderDTO{Type: string(h.Type), ID: h.ID}
}

func fromHolderDTO(dto HolderDTO) inventory.HolderRef {
	return inventory.HolderRef{Type: inventory.HolderType(dto.Type), ID: dto.ID}
}

func toAllocationDTOs(allocs []inventory.Allocation) []AllocationDTO {
	dtos := make([]AllocationDTO, len(allocs))
	for i, a := range allocs {
		dtos[i] = AllocationDTO{LotID: string(a.LotID), QtyBase: a.QtyBase}
	}
	return dtos
}

func toLedgerEntryDTO(e inventory.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:         string(e.ID),
		ItemID:     string(e.ItemID),
		LotID:      string(e.LotID),
		Holder:     toHolderDTO(e.Holder),
		TxType:     string(e.TxType),
		QtyBase:    e.QtyBase,
		TxTime:     e.TxTime.Format(time.RFC3339),
		Reference:  e.Reference,
		Notes:      e.Notes,
		CreatedBy:  e.CreatedBy,
		IsOverride: e.IsOverride,
	}
}

func toLedgerEntryDTOs(entries []inventory.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	return dtos
}
