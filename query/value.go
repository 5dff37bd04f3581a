package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/booking"
)

// Result values are plain Go values drawn from a closed set: nil (null),
// string, bool, int, ast.Decimal, *ast.Date, *ast.Amount, *booking.Lot
// (a position), *booking.Inventory, and StringSet. Every consumer
// switches over exactly these types.

// StringSet is an ordered set of strings (tags, links).
type StringSet []string

// NewStringSet returns a sorted, deduplicated set.
func NewStringSet(items ...string) StringSet {
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || sorted[i-1] != s {
			out = append(out, s)
		}
	}
	return StringSet(out)
}

// Contains reports set membership.
func (s StringSet) Contains(item string) bool {
	for _, v := range s {
		if v == item {
			return true
		}
	}
	return false
}

func (s StringSet) String() string { return strings.Join(s, ",") }

// FormatValue renders a value for tabular output. Null renders empty.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return fmt.Sprintf("%d", val)
	case ast.Decimal:
		return val.String()
	case *ast.Date:
		return val.String()
	case *ast.Amount:
		return val.String()
	case *booking.Lot:
		return val.String()
	case *booking.Inventory:
		return val.String()
	case StringSet:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// valueKey builds the canonical equality key used for GROUP BY tuples and
// DISTINCT. Amounts, positions, and inventories compare structurally on
// (number, currency[, cost]).
func valueKey(v any) string {
	switch val := v.(type) {
	case nil:
		return "\x00null"
	case *booking.Inventory:
		return "\x00inv:" + canonicalInventory(val)
	case *booking.Lot:
		return "\x00pos:" + val.String()
	default:
		return FormatValue(v)
	}
}

// canonicalInventory renders an inventory's lots in sorted order so two
// structurally equal inventories produce identical keys regardless of
// insertion order.
func canonicalInventory(inv *booking.Inventory) string {
	var parts []string
	for _, currency := range inv.Currencies() {
		for _, l := range inv.Lots(currency) {
			parts = append(parts, l.String())
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// compareValues orders two non-null values of compatible types: -1, 0, 1.
// Inventories order by the total of their alphabetically first currency.
// Any other pairing (sets, mixed kinds) compares the values' rendered
// text, so sorting stays total.
func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case int:
		if bv, ok := b.(int); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case !av && bv:
				return -1
			case av && !bv:
				return 1
			}
			return 0
		}
	case ast.Decimal:
		if bv, ok := b.(ast.Decimal); ok {
			return av.Cmp(bv)
		}
	case *ast.Date:
		if bv, ok := b.(*ast.Date); ok {
			switch {
			case av.Before(bv):
				return -1
			case bv.Before(av):
				return 1
			}
			return 0
		}
	case *ast.Amount:
		if bv, ok := b.(*ast.Amount); ok {
			if c := av.Number.Cmp(bv.Number); c != 0 {
				return c
			}
			return strings.Compare(av.Currency, bv.Currency)
		}
	case *booking.Inventory:
		if bv, ok := b.(*booking.Inventory); ok {
			// Order by the first currency's total; structurally richer
			// comparisons are not meaningful for sorting.
			return firstTotal(av).Cmp(firstTotal(bv))
		}
	}
	return strings.Compare(FormatValue(a), FormatValue(b))
}

func firstTotal(inv *booking.Inventory) ast.Decimal {
	currencies := inv.Currencies()
	if len(currencies) == 0 {
		return ast.Decimal{}
	}
	sort.Strings(currencies)
	return inv.Total(currencies[0])
}

// truthy coerces a value to a boolean condition.
func truthy(v any) (bool, error) {
	switch val := v.(type) {
	case nil:
		return false, nil
	case bool:
		return val, nil
	default:
		return false, errf(ErrType, "expected a boolean condition, got %s", FormatValue(v))
	}
}
