package booking

import (
	"strings"

	"github.com/ledgerforge/rledger/ast"
)

// Lot is one held position: a quantity of a currency, optionally carrying
// a concrete acquisition Cost. Two lots with equal costs (by ast.Cost.Equal)
// in the same currency are the same lot and are merged on Add.
type Lot struct {
	Currency string
	Units    ast.Decimal
	Cost     *ast.Cost // nil: a plain currency holding with no cost basis
}

func (l *Lot) String() string {
	if l.Cost == nil {
		return l.Units.String() + " " + l.Currency
	}
	return l.Units.String() + " " + l.Currency + " {" + l.Cost.String() + "}"
}

// Inventory tracks every lot held across all currencies for one account.
type Inventory struct {
	lots map[string][]*Lot
}

// New returns an empty Inventory.
func New() *Inventory {
	return &Inventory{lots: make(map[string][]*Lot)}
}

// Add adds units of currency with no cost basis, merging into an existing
// uncosted lot of the same currency if one exists.
func (inv *Inventory) Add(currency string, units ast.Decimal) {
	inv.AddLot(currency, units, nil)
}

// AddLot adds units of currency at the given cost, merging into a
// matching existing lot (same currency, equal cost) if one exists.
func (inv *Inventory) AddLot(currency string, units ast.Decimal, cost *ast.Cost) {
	for _, l := range inv.lots[currency] {
		if lotCostsMatch(l.Cost, cost) {
			l.Units = l.Units.Add(units)
			if l.Units.IsZero() {
				inv.removeLot(currency, l)
			}
			return
		}
	}
	inv.lots[currency] = append(inv.lots[currency], &Lot{Currency: currency, Units: units, Cost: cost})
}

// Total returns the sum of every lot's units for currency, ignoring cost.
func (inv *Inventory) Total(currency string) ast.Decimal {
	total := ast.Decimal{}
	for _, l := range inv.lots[currency] {
		total = total.Add(l.Units)
	}
	return total
}

// Lots returns every lot held in currency. The returned slice must not be
// mutated by the caller; use AddLot/reduce methods instead.
func (inv *Inventory) Lots(currency string) []*Lot {
	return inv.lots[currency]
}

// Clone returns a deep copy safe to hold as a point-in-time snapshot
// while the original keeps mutating.
func (inv *Inventory) Clone() *Inventory {
	out := New()
	for currency, lots := range inv.lots {
		copied := make([]*Lot, len(lots))
		for i, l := range lots {
			lot := *l
			copied[i] = &lot
		}
		out.lots[currency] = copied
	}
	return out
}

// IsEmpty reports whether the inventory holds no lots in any currency.
func (inv *Inventory) IsEmpty() bool {
	return len(inv.lots) == 0
}

// Currencies returns every currency with at least one held lot.
func (inv *Inventory) Currencies() []string {
	out := make([]string, 0, len(inv.lots))
	for c := range inv.lots {
		out = append(out, c)
	}
	return out
}

func (inv *Inventory) String() string {
	if inv.IsEmpty() {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, lots := range inv.lots {
		for _, l := range lots {
			if !first {
				b.WriteString(", ")
			}
			b.WriteString(l.String())
			first = false
		}
	}
	b.WriteByte('}')
	return b.String()
}

func (inv *Inventory) removeLot(currency string, target *Lot) {
	lots := inv.lots[currency]
	kept := make([]*Lot, 0, len(lots))
	for _, l := range lots {
		if l != target {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(inv.lots, currency)
	} else {
		inv.lots[currency] = kept
	}
}

func lotCostsMatch(a, b *ast.Cost) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(b)
}
