/*
handlers.go - HTTP API handlers for the inventory engine

PURPOSE:
  Exposes the inventory engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Items:
    POST   /api/items                   Register an item
    GET    /api/items/{id}              Item details
    GET    /api/items/{id}/rollup       Per-holder aggregate
    GET    /api/items/{id}/balances     Lot-level balances for one holder
    GET    /api/items/{id}/ledger       Ledger history (newest first)

  Movements:
    POST   /api/transfers               Move stock between holders
    POST   /api/adjustments             Privileged manual correction
    POST   /api/receipts                Book a received lot into the store

  Reference:
    GET    /api/units                   Units compatible with a base unit

  Admin:
    GET    /api/admin/reconciliation/{id}  Ledger-vs-balance audit for an item

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine: the only write path
  - Store: read access for lookups
  - Read-side helpers (rollups, ledger, reconciler)

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, unit mismatches
  - 403: Negative-stock override without privilege
  - 404: Item/lot/container not found
  - 409: Insufficient stock, idempotency replay, conflict retries exhausted
  - 500: Internal errors
  Insufficient-stock responses carry the available quantity for display.

SECURITY NOTE:
  Caller identity and the privileged flag come from the request body.
  Production deployments put an auth middleware in front and derive the
  caller from the session instead.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/labstock/inventory-engine/inventory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *inventory.Engine
	Store   inventory.TxStore
	Catalog *inventory.UnitCatalog

	rollups    *inventory.RollupReader
	ledger     *inventory.LedgerReader
	reconciler *inventory.Reconciler
}

// NewHandler creates a new handler around an engine.
func NewHandler(engine *inventory.Engine, catalog *inventory.UnitCatalog) *Handler {
	return &Handler{
		Engine:     engine,
		Store:      engine.Store,
		Catalog:    catalog,
		rollups:    inventory.NewRollupReader(engine.Store),
		ledger:     inventory.NewLedgerReader(engine.Store),
		reconciler: inventory.NewReconciler(engine.Store),
	}
}

// =============================================================================
// ITEM ENDPOINTS
// =============================================================================

// CreateItem registers a consumable item.
// POST /api/items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" || req.BaseUOM == "" {
		writeError(w, http.StatusBadRequest, "id, name and base_uom are required", nil)
		return
	}
	if _, err := h.Catalog.Lookup(inventory.UnitCode(req.BaseUOM)); err != nil {
		writeError(w, http.StatusBadRequest, "unknown base_uom", err)
		return
	}

	item := inventory.Item{
		ID:                        inventory.ItemID(req.ID),
		Name:                      req.Name,
		BaseUOM:                   inventory.UnitCode(req.BaseUOM),
		RequiresContainerTracking: req.RequiresContainerTracking,
		IsControlled:              req.IsControlled,
	}
	if err := h.Store.SaveItem(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save item", err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(item))
}

// GetItem returns an item definition.
// GET /api/items/{id}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id := inventory.ItemID(chi.URLParam(r, "id"))
	item, err := h.Store.GetItem(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load item", err)
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "item not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(*item))
}

// GetRollup returns the per-holder aggregate view for an item.
// GET /api/items/{id}/rollup
func (h *Handler) GetRollup(w http.ResponseWriter, r *http.Request) {
	id := inventory.ItemID(chi.URLParam(r, "id"))
	rollup, err := h.rollups.ItemRollup(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	holders := make([]HolderBalanceDTO, len(rollup.Holders))
	for i, hb := range rollup.Holders {
		holders[i] = HolderBalanceDTO{Holder: toHolderDTO(hb.Holder), QtyBase: hb.QtyBase}
	}
	writeJSON(w, http.StatusOK, RollupDTO{
		ItemID:    string(rollup.ItemID),
		TotalBase: rollup.TotalBase,
		Holders:   holders,
	})
}

// GetBalances returns lot-level balances for one holder of an item.
// GET /api/items/{id}/balances?holder_type=EMPLOYEE&holder_id=emp-1
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	id := inventory.ItemID(chi.URLParam(r, "id"))
	holder, err := holderFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid holder", err)
		return
	}

	lots, err := h.rollups.HolderLots(r.Context(), id, holder)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]LotBalanceDTO, len(lots))
	for i, lb := range lots {
		dtos[i] = LotBalanceDTO{LotID: string(lb.LotID), QtyBase: lb.QtyBase}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLedger returns ledger entries for an item, newest first.
// GET /api/items/{id}/ledger?holder_type=&holder_id=&lot_id=&reference=&limit=&offset=
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := inventory.ItemID(chi.URLParam(r, "id"))
	filter := inventory.LedgerFilter{ItemID: &id}

	if r.URL.Query().Get("holder_type") != "" {
		holder, err := holderFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid holder", err)
			return
		}
		filter.Holder = &holder
	}
	if v := r.URL.Query().Get("lot_id"); v != "" {
		lotID := inventory.LotID(v)
		filter.LotID = &lotID
	}
	filter.Reference = r.URL.Query().Get("reference")
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset", err)
			return
		}
		filter.Offset = n
	}

	entries, err := h.ledger.Entries(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerEntryDTOs(entries))
}

// =============================================================================
// MOVEMENT ENDPOINTS
// =============================================================================

// Transfer executes one atomic stock movement.
// POST /api/transfers
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var dto TransferRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := h.Engine.Transfer(r.Context(), inventory.TransferRequest{
		From:        fromHolderDTO(dto.From),
		To:          fromHolderDTO(dto.To),
		ItemID:      inventory.ItemID(dto.ItemID),
		LotID:       inventory.LotID(dto.LotID),
		ContainerID: inventory.ContainerID(dto.ContainerID),
		Quantity: inventory.Amount{
			Value: dto.Quantity,
			Unit:  inventory.UnitCode(dto.Unit),
		},
		Reference:      dto.Reference,
		Notes:          dto.Notes,
		AllowNegative:  dto.AllowNegative,
		OverrideNote:   dto.OverrideNote,
		IdempotencyKey: dto.IdempotencyKey,
		Caller:         inventory.Caller{ID: dto.ActorID, Privileged: dto.Privileged},
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, TransferResultDTO{
		Reference:               result.Reference,
		QtyBase:                 result.QtyBase,
		Allocations:             toAllocationDTOs(result.Allocations),
		SourceBalanceAfter:      result.SourceBalanceAfter,
		DestinationBalanceAfter: result.DestinationBalanceAfter,
		Override:                result.Override,
	})
}

// CreateAdjustment applies a privileged manual balance correction.
// POST /api/adjustments
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var dto AdjustmentRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := h.Engine.Adjust(r.Context(), inventory.AdjustmentRequest{
		Holder: fromHolderDTO(dto.Holder),
		ItemID: inventory.ItemID(dto.ItemID),
		LotID:  inventory.LotID(dto.LotID),
		Delta: inventory.Amount{
			Value: dto.Delta,
			Unit:  inventory.UnitCode(dto.Unit),
		},
		Reason:        dto.Reason,
		AllowNegative: dto.AllowNegative,
		OverrideNote:  dto.OverrideNote,
		Caller:        inventory.Caller{ID: dto.ActorID, Privileged: dto.Privileged},
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, AdjustmentResultDTO{
		Reference:    result.Reference,
		DeltaBase:    result.DeltaBase,
		BalanceAfter: result.BalanceAfter,
		Override:     result.Override,
	})
}

// CreateReceipt books a received lot (and its containers) into the store.
// POST /api/receipts
func (h *Handler) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	var dto ReceiptRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	receivedDate, err := parseDate(dto.ReceivedDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid received_date", err)
		return
	}
	var expiry *time.Time
	if dto.ExpiryDate != nil {
		t, err := parseDate(*dto.ExpiryDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid expiry_date", err)
			return
		}
		expiry = &t
	}

	containers := make([]inventory.ReceiveContainer, len(dto.Containers))
	for i, c := range dto.Containers {
		containers[i] = inventory.ReceiveContainer{
			ContainerCode: c.ContainerCode,
			Quantity: inventory.Amount{
				Value: c.Quantity,
				Unit:  inventory.UnitCode(dto.Unit),
			},
		}
	}

	result, err := h.Engine.Receive(r.Context(), inventory.ReceiveRequest{
		ItemID:       inventory.ItemID(dto.ItemID),
		LotNumber:    dto.LotNumber,
		SupplierID:   dto.SupplierID,
		ReceivedDate: receivedDate,
		ExpiryDate:   expiry,
		Quantity: inventory.Amount{
			Value: dto.Quantity,
			Unit:  inventory.UnitCode(dto.Unit),
		},
		Containers: containers,
		Reference:  dto.Reference,
		Notes:      dto.Notes,
		Caller:     inventory.Caller{ID: dto.ActorID},
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ids := make([]string, len(result.ContainerIDs))
	for i, id := range result.ContainerIDs {
		ids[i] = string(id)
	}
	writeJSON(w, http.StatusCreated, ReceiptResultDTO{
		LotID:        string(result.LotID),
		ContainerIDs: ids,
		QtyBase:      result.QtyBase,
		Reference:    result.Reference,
	})
}

// =============================================================================
// REFERENCE / ADMIN ENDPOINTS
// =============================================================================

// ListUnits returns the unit codes convertible to a base unit.
// GET /api/units?base_uom=g
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	base := r.URL.Query().Get("base_uom")
	if base == "" {
		writeError(w, http.StatusBadRequest, "base_uom is required", nil)
		return
	}
	units, err := h.Catalog.CompatibleUnits(inventory.UnitCode(base))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown base_uom", err)
		return
	}
	codes := make([]string, len(units))
	for i, u := range units {
		codes[i] = string(u)
	}
	writeJSON(w, http.StatusOK, UnitsDTO{BaseUOM: base, Units: codes})
}

// Reconcile replays an item's ledger and compares it against stored balances.
// GET /api/admin/reconciliation/{id}
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id := inventory.ItemID(chi.URLParam(r, "id"))
	discrepancies, err := h.reconciler.Check(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	dtos := make([]DiscrepancyDTO, len(discrepancies))
	for i, d := range discrepancies {
		dtos[i] = DiscrepancyDTO{
			ItemID:    string(d.Key.ItemID),
			Holder:    toHolderDTO(d.Key.Holder),
			LotID:     string(d.Key.LotID),
			LedgerSum: d.LedgerSum,
			Balance:   d.Balance,
		}
	}
	writeJSON(w, http.StatusOK, ReconciliationDTO{
		ItemID:        string(id),
		Clean:         len(discrepancies) == 0,
		Discrepancies: dtos,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func toItemDTO(item inventory.Item) ItemDTO {
	return ItemDTO{
		ID:                        string(item.ID),
		Name:                      item.Name,
		BaseUOM:                   string(item.BaseUOM),
		RequiresContainerTracking: item.RequiresContainerTracking,
		IsControlled:              item.IsControlled,
	}
}

func holderFromQuery(r *http.Request) (inventory.HolderRef, error) {
	holder := inventory.HolderRef{
		Type: inventory.HolderType(r.URL.Query().Get("holder_type")),
		ID:   r.URL.Query().Get("holder_id"),
	}
	if err := holder.Validate(); err != nil {
		return inventory.HolderRef{}, err
	}
	return holder, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps domain errors onto the HTTP status taxonomy.
func writeEngineError(w http.ResponseWriter, err error) {
	var stockErr *inventory.InsufficientStockError
	var lotStockErr *inventory.InsufficientLotStockError

	switch {
	case errors.As(err, &lotStockErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "insufficient_lot_stock",
			Details: map[string]any{
				"lot_id":             string(lotStockErr.LotID),
				"requested_qty_base": lotStockErr.Requested,
				"available_qty_base": lotStockErr.Available,
			},
		})
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: err.Error(),
			Code:  "insufficient_stock",
			Details: map[string]any{
				"requested_qty_base": stockErr.Requested,
				"available_qty_base": stockErr.Available,
			},
		})
	case errors.Is(err, inventory.ErrDuplicateIdempotencyKey):
		writeError(w, http.StatusConflict, "operation already applied", err)
	case errors.Is(err, inventory.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "conflicting concurrent update, retry later", err)
	case errors.Is(err, inventory.ErrForbiddenOverride):
		writeError(w, http.StatusForbidden, "negative stock override not permitted", err)
	case inventory.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case inventory.IsClientError(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}
