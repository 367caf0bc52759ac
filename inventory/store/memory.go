// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/labstock/inventory-engine/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

const defaultPageSize = 50

type Memory struct {
	mu          sync.RWMutex
	balances    map[inventory.BalanceKey]decimal.Decimal
	entries     []inventory.LedgerEntry
	idempotency map[string]bool
	items       map[inventory.ItemID]inventory.Item
	lots        map[inventory.LotID]inventory.Lot
	containers  map[inventory.ContainerID]inventory.Container
}

func NewMemory() *Memory {
	return &Memory{
		balances:    make(map[inventory.BalanceKey]decimal.Decimal),
		idempotency: make(map[string]bool),
		items:       make(map[inventory.ItemID]inventory.Item),
		lots:        make(map[inventory.LotID]inventory.Lot),
		containers:  make(map[inventory.ContainerID]inventory.Container),
	}
}

// ---- Balances ----

func (m *Memory) AdjustBalance(_ context.Context, key inventory.BalanceKey, delta decimal.Decimal, allowNegative bool) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustLocked(key, delta, allowNegative)
}

func (m *Memory) adjustLocked(key inventory.BalanceKey, delta decimal.Decimal, allowNegative bool) (decimal.Decimal, error) {
	current := m.balances[key]
	next := current.Add(delta)
	if delta.IsNegative() && next.IsNegative() && !allowNegative {
		return decimal.Zero, &inventory.InsufficientStockError{
			ItemID:    key.ItemID,
			Holder:    key.Holder,
			Requested: delta.Neg(),
			Available: current,
		}
	}
	m.balances[key] = next
	return next, nil
}

func (m *Memory) GetBalance(_ context.Context, key inventory.BalanceKey) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[key], nil
}

func (m *Memory) AggregateBalance(_ context.Context, itemID inventory.ItemID, holder inventory.HolderRef) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aggregateLocked(itemID, holder), nil
}

func (m *Memory) aggregateLocked(itemID inventory.ItemID, holder inventory.HolderRef) decimal.Decimal {
	total := decimal.Zero
	for key, qty := range m.balances {
		if key.ItemID == itemID && key.Holder.Equal(holder) {
			total = total.Add(qty)
		}
	}
	return total
}

func (m *Memory) LotBalances(_ context.Context, itemID inventory.ItemID, holder inventory.HolderRef) ([]inventory.LotBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lotBalancesLocked(itemID, holder), nil
}

func (m *Memory) lotBalancesLocked(itemID inventory.ItemID, holder inventory.HolderRef) []inventory.LotBalance {
	var rows []inventory.LotBalance
	for key, qty := range m.balances {
		if key.ItemID == itemID && key.Holder.Equal(holder) {
			rows = append(rows, inventory.LotBalance{LotID: key.LotID, QtyBase: qty})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].LotID < rows[j].LotID })
	return rows
}

func (m *Memory) HolderBalances(_ context.Context, itemID inventory.ItemID) ([]inventory.HolderBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.holderBalancesLocked(itemID), nil
}

func (m *Memory) holderBalancesLocked(itemID inventory.ItemID) []inventory.HolderBalance {
	sums := make(map[inventory.HolderRef]decimal.Decimal)
	for key, qty := range m.balances {
		if key.ItemID == itemID {
			sums[key.Holder] = sums[key.Holder].Add(qty)
		}
	}
	var rows []inventory.HolderBalance
	for holder, qty := range sums {
		rows = append(rows, inventory.HolderBalance{Holder: holder, QtyBase: qty})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Holder.Type != rows[j].Holder.Type {
			return rows[i].Holder.Type < rows[j].Holder.Type
		}
		return rows[i].Holder.ID < rows[j].Holder.ID
	})
	return rows
}

// ---- Ledger ----

func (m *Memory) AppendEntries(_ context.Context, entries []inventory.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(entries)
}

func (m *Memory) appendLocked(entries []inventory.LedgerEntry) error {
	// Check every key before writing anything (atomic batch).
	for _, e := range entries {
		if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
			return inventory.ErrDuplicateIdempotencyKey
		}
	}
	for _, e := range entries {
		m.entries = append(m.entries, e)
		if e.IdempotencyKey != "" {
			m.idempotency[e.IdempotencyKey] = true
		}
	}
	return nil
}

func (m *Memory) Entries(_ context.Context, filter inventory.LedgerFilter) ([]inventory.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesLocked(filter), nil
}

func (m *Memory) entriesLocked(filter inventory.LedgerFilter) []inventory.LedgerEntry {
	var matched []inventory.LedgerEntry
	for _, e := range m.entries {
		if filter.ItemID != nil && e.ItemID != *filter.ItemID {
			continue
		}
		if filter.Holder != nil && !e.Holder.Equal(*filter.Holder) {
			continue
		}
		if filter.LotID != nil && e.LotID != *filter.LotID {
			continue
		}
		if filter.Reference != "" && e.Reference != filter.Reference {
			continue
		}
		if filter.From != nil && e.TxTime.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.TxTime.After(*filter.To) {
			continue
		}
		matched = append(matched, e)
	}

	// Most recent first; ties keep reverse insertion order.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].TxTime.After(matched[j].TxTime)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil
		}
		matched = matched[filter.Offset:]
	}
	limit := filter.Limit
	if limit == 0 {
		limit = defaultPageSize
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

func (m *Memory) HasIdempotencyKey(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[key], nil
}

// ---- Catalog records ----

func (m *Memory) GetItem(_ context.Context, id inventory.ItemID) (*inventory.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if item, ok := m.items[id]; ok {
		return &item, nil
	}
	return nil, nil
}

func (m *Memory) SaveItem(_ context.Context, item inventory.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *Memory) GetLot(_ context.Context, id inventory.LotID) (*inventory.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if lot, ok := m.lots[id]; ok {
		return &lot, nil
	}
	return nil, nil
}

func (m *Memory) SaveLot(_ context.Context, lot inventory.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[lot.ID] = lot
	return nil
}

func (m *Memory) GetContainer(_ context.Context, id inventory.ContainerID) (*inventory.Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.containers[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (m *Memory) SaveContainer(_ context.Context, c inventory.Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containers[c.ID] = c
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support. Transactions are simulated
// with a snapshot under the write lock, restored when fn fails; this also
// serializes concurrent transfers, which is what the SQLite writer does too.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

var _ inventory.TxStore = (*TxMemory)(nil)

func (tm *TxMemory) WithTx(_ context.Context, fn func(inventory.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	balances    map[inventory.BalanceKey]decimal.Decimal
	entries     []inventory.LedgerEntry
	idempotency map[string]bool
	items       map[inventory.ItemID]inventory.Item
	lots        map[inventory.LotID]inventory.Lot
	containers  map[inventory.ContainerID]inventory.Container
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		balances:    make(map[inventory.BalanceKey]decimal.Decimal, len(tm.balances)),
		entries:     append([]inventory.LedgerEntry{}, tm.entries...),
		idempotency: make(map[string]bool, len(tm.idempotency)),
		items:       make(map[inventory.ItemID]inventory.Item, len(tm.items)),
		lots:        make(map[inventory.LotID]inventory.Lot, len(tm.lots)),
		containers:  make(map[inventory.ContainerID]inventory.Container, len(tm.containers)),
	}
	for k, v := range tm.balances {
		s.balances[k] = v
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range tm.items {
		s.items[k] = v
	}
	for k, v := range tm.lots {
		s.lots[k] = v
	}
	for k, v := range tm.containers {
		s.containers[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.balances = s.balances
	tm.entries = s.entries
	tm.idempotency = s.idempotency
	tm.items = s.items
	tm.lots = s.lots
	tm.containers = s.containers
}

// txMemoryView accesses the parent's state without re-locking; the WithTx
// caller already holds the write lock.
type txMemoryView struct {
	parent *Memory
}

var _ inventory.Store = (*txMemoryView)(nil)

func (tv *txMemoryView) AdjustBalance(_ context.Context, key inventory.BalanceKey, delta decimal.Decimal, allowNegative bool) (decimal.Decimal, error) {
	return tv.parent.adjustLocked(key, delta, allowNegative)
}

func (tv *txMemoryView) GetBalance(_ context.Context, key inventory.BalanceKey) (decimal.Decimal, error) {
	return tv.parent.balances[key], nil
}

func (tv *txMemoryView) AggregateBalance(_ context.Context, itemID inventory.ItemID, holder inventory.HolderRef) (decimal.Decimal, error) {
	return tv.parent.aggregateLocked(itemID, holder), nil
}

func (tv *txMemoryView) LotBalances(_ context.Context, itemID inventory.ItemID, holder inventory.HolderRef) ([]inventory.LotBalance, error) {
	return tv.parent.lotBalancesLocked(itemID, holder), nil
}

func (tv *txMemoryView) HolderBalances(_ context.Context, itemID inventory.ItemID) ([]inventory.HolderBalance, error) {
	return tv.parent.holderBalancesLocked(itemID), nil
}

func (tv *txMemoryView) AppendEntries(_ context.Context, entries []inventory.LedgerEntry) error {
	return tv.parent.appendLocked(entries)
}

func (tv *txMemoryView) Entries(_ context.Context, filter inventory.LedgerFilter) ([]inventory.LedgerEntry, error) {
	return tv.parent.entriesLocked(filter), nil
}

func (tv *txMemoryView) HasIdempotencyKey(_ context.Context, key string) (bool, error) {
	return tv.parent.idempotency[key], nil
}

func (tv *txMemoryView) GetItem(_ context.Context, id inventory.ItemID) (*inventory.Item, error) {
	if item, ok := tv.parent.items[id]; ok {
		return &item, nil
	}
	return nil, nil
}

func (tv *txMemoryView) SaveItem(_ context.Context, item inventory.Item) error {
	tv.parent.items[item.ID] = item
	return nil
}

func (tv *txMemoryView) GetLot(_ context.Context, id inventory.LotID) (*inventory.Lot, error) {
	if lot, ok := tv.parent.lots[id]; ok {
		return &lot, nil
	}
	return nil, nil
}

func (tv *txMemoryView) SaveLot(_ context.Context, lot inventory.Lot) error {
	tv.parent.lots[lot.ID] = lot
	return nil
}

func (tv *txMemoryView) GetContainer(_ context.Context, id inventory.ContainerID) (*inventory.Container, error) {
	if c, ok := tv.parent.containers[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (tv *txMemoryView) SaveContainer(_ context.Context, c inventory.Container) error {
	tv.parent.containers[c.ID] = c
	return nil
}
