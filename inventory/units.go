/*
units.go - Unit catalog and conversion to base units

PURPOSE:
  Registers units of measure grouped by physical dimension and converts
  request quantities into an item's base unit. Units in different groups
  are never interchangeable: you cannot issue "250 mL" of an item whose
  balances are kept in grams.

NUMERIC SEMANTICS:
  Conversion is decimal multiply/divide (quantity * unit.to_base /
  base.to_base). No floats: repeated transfers must not accumulate drift.
  Rounding happens only at presentation boundaries, never here.

SEE ALSO:
  - types.go: Amount and UnitCode
  - transfer.go: Converts request quantities before allocation
*/
package inventory

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// UNIT CATALOG
// =============================================================================

// UnitGroup tags a physical dimension. Conversion never crosses groups.
type UnitGroup string

const (
	GroupMass   UnitGroup = "mass"
	GroupVolume UnitGroup = "volume"
	GroupCount  UnitGroup = "count"
)

// Unit is one registered unit of measure with its factor to the group's
// base unit (the unit whose ToBase is 1).
type Unit struct {
	Code    UnitCode
	Group   UnitGroup
	ToBase  decimal.Decimal
	Aliases []string
}

// UnitCatalog is a registry of units keyed by code and alias. Lookup is
// case-insensitive. Safe for concurrent use after construction; Register
// is intended for startup wiring.
type UnitCatalog struct {
	mu    sync.RWMutex
	units map[string]Unit // lowercase code or alias -> unit
}

func NewUnitCatalog() *UnitCatalog {
	return &UnitCatalog{units: make(map[string]Unit)}
}

// DefaultCatalog returns a catalog covering mass (base g), volume (base mL),
// and count (base ea) with common laboratory units and aliases.
func DefaultCatalog() *UnitCatalog {
	c := NewUnitCatalog()

	c.Register(Unit{Code: "mg", Group: GroupMass, ToBase: decimal.RequireFromString("0.001"), Aliases: []string{"milligram", "milligrams"}})
	c.Register(Unit{Code: "g", Group: GroupMass, ToBase: decimal.NewFromInt(1), Aliases: []string{"gram", "grams", "gm"}})
	c.Register(Unit{Code: "kg", Group: GroupMass, ToBase: decimal.NewFromInt(1000), Aliases: []string{"kilogram", "kilograms"}})

	c.Register(Unit{Code: "mL", Group: GroupVolume, ToBase: decimal.NewFromInt(1), Aliases: []string{"milliliter", "millilitre", "cc"}})
	c.Register(Unit{Code: "cL", Group: GroupVolume, ToBase: decimal.NewFromInt(10), Aliases: []string{"centiliter", "centilitre"}})
	c.Register(Unit{Code: "dL", Group: GroupVolume, ToBase: decimal.NewFromInt(100), Aliases: []string{"deciliter", "decilitre"}})
	c.Register(Unit{Code: "L", Group: GroupVolume, ToBase: decimal.NewFromInt(1000), Aliases: []string{"liter", "litre", "liters", "litres"}})

	c.Register(Unit{Code: "ea", Group: GroupCount, ToBase: decimal.NewFromInt(1), Aliases: []string{"each", "pc", "pcs", "piece", "unit"}})
	c.Register(Unit{Code: "dozen", Group: GroupCount, ToBase: decimal.NewFromInt(12), Aliases: []string{"dz"}})

	return c
}

// Register adds a unit under its code and every alias. Later registrations
// win, which lets deployments override the defaults.
func (c *UnitCatalog) Register(u Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.units[strings.ToLower(string(u.Code))] = u
	for _, alias := range u.Aliases {
		c.units[strings.ToLower(alias)] = u
	}
}

// Lookup resolves a code or alias.
func (c *UnitCatalog) Lookup(code UnitCode) (Unit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, ok := c.units[strings.ToLower(string(code))]
	if !ok {
		return Unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, code)
	}
	return u, nil
}

// CompatibleUnits returns every registered unit code sharing baseUOM's group,
// sorted by factor then code. Informational only.
func (c *UnitCatalog) CompatibleUnits(baseUOM UnitCode) ([]UnitCode, error) {
	base, err := c.Lookup(baseUOM)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[UnitCode]Unit)
	for _, u := range c.units {
		if u.Group == base.Group {
			seen[u.Code] = u
		}
	}

	codes := make([]UnitCode, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		a, b := seen[codes[i]], seen[codes[j]]
		if !a.ToBase.Equal(b.ToBase) {
			return a.ToBase.LessThan(b.ToBase)
		}
		return codes[i] < codes[j]
	})
	return codes, nil
}

// =============================================================================
// UNIT CONVERTER
// =============================================================================

// UnitConverter converts amounts into an item's base unit.
type UnitConverter struct {
	Catalog *UnitCatalog
}

func NewUnitConverter(catalog *UnitCatalog) *UnitConverter {
	return &UnitConverter{Catalog: catalog}
}

// ToBase converts an amount into the item's base unit. Fails with
// IncompatibleUnitError when the amount's unit belongs to another dimension.
func (uc *UnitConverter) ToBase(item Item, amount Amount) (decimal.Decimal, error) {
	unit, err := uc.Catalog.Lookup(amount.Unit)
	if err != nil {
		return decimal.Zero, err
	}
	base, err := uc.Catalog.Lookup(item.BaseUOM)
	if err != nil {
		return decimal.Zero, err
	}
	if unit.Group != base.Group {
		return decimal.Zero, &IncompatibleUnitError{
			Requested: amount.Unit,
			BaseUOM:   item.BaseUOM,
			Group:     unit.Group,
			BaseGroup: base.Group,
		}
	}
	return amount.Value.Mul(unit.ToBase).Div(base.ToBase), nil
}

// FromBase expresses a base-unit quantity in another compatible unit.
// Presentation helper; the ledger and balances always hold base units.
func (uc *UnitConverter) FromBase(item Item, qtyBase decimal.Decimal, target UnitCode) (Amount, error) {
	unit, err := uc.Catalog.Lookup(target)
	if err != nil {
		return Amount{}, err
	}
	base, err := uc.Catalog.Lookup(item.BaseUOM)
	if err != nil {
		return Amount{}, err
	}
	if unit.Group != base.Group {
		return Amount{}, &IncompatibleUnitError{
			Requested: target,
			BaseUOM:   item.BaseUOM,
			Group:     unit.Group,
			BaseGroup: base.Group,
		}
	}
	return Amount{Value: qtyBase.Mul(base.ToBase).Div(unit.ToBase), Unit: unit.Code}, nil
}
