// Package pricedb indexes currency exchange rate observations and answers
// forward-fill conversion queries: the rate in effect on or before a given
// date, walking at most the direct quote and its inverse (§4.6).
package pricedb

import (
	"fmt"
	"sort"

	"github.com/ledgerforge/rledger/ast"
	"github.com/shopspring/decimal"
)

// DB is a temporal index of currency -> currency exchange rates, built
// from Price directives and the implicit prices carried by posting @/@@
// annotations. Adding a rate for (from, to) also records its inverse, so
// a lookup for either direction resolves without a third-currency hop.
type DB struct {
	// byDate[date][from][to] = rate; date keys use ast.Date.String() so
	// equal calendar dates collide regardless of time-of-day.
	byDate map[string]map[string]map[string]ast.Decimal
	dates  []*ast.Date // kept sorted ascending
}

// New returns an empty price database.
func New() *DB {
	return &DB{byDate: make(map[string]map[string]map[string]ast.Decimal)}
}

// Add records a quote: one unit of from is worth rate units of to, on
// date. The inverse edge (to -> from, 1/rate) is recorded at the same
// date. A zero rate is rejected; it would make the inverse undefined.
func (db *DB) Add(date *ast.Date, from, to string, rate ast.Decimal) error {
	if rate.IsZero() {
		return fmt.Errorf("price rate must be non-zero: %s->%s on %s", from, to, date.String())
	}
	key := date.String()
	if _, ok := db.byDate[key]; !ok {
		db.byDate[key] = make(map[string]map[string]ast.Decimal)
		db.dates = append(db.dates, date)
		sort.Slice(db.dates, func(i, j int) bool { return db.dates[i].Before(db.dates[j]) })
	}
	if db.byDate[key][from] == nil {
		db.byDate[key][from] = make(map[string]ast.Decimal)
	}
	if db.byDate[key][to] == nil {
		db.byDate[key][to] = make(map[string]ast.Decimal)
	}
	db.byDate[key][from][to] = rate
	db.byDate[key][to][from] = decimal.NewFromInt(1).Div(rate)
	return nil
}

// AddFromPosting records the implicit price carried by a posting's @@
// total-price annotation: price is the total for all the units, and the
// recorded rate is price divided by the absolute units, quoting the
// posting's own currency in the price's currency on the transaction's
// date. A per-unit @ price is recorded with Add directly.
func (db *DB) AddFromPosting(date *ast.Date, unitsCurrency string, unitsNumber ast.Decimal, price *ast.Amount) error {
	if price == nil || unitsNumber.IsZero() {
		return nil
	}
	perUnit := price.Number.Div(unitsNumber.Abs())
	return db.Add(date, unitsCurrency, price.Currency, perUnit)
}

// Lookup returns the exchange rate from -> to in effect on or before
// date: the most recent direct quote, or failing that the most recent
// inverse quote inverted. Same-currency lookups always return 1. The
// second return is false if no quote of either direction exists at or
// before date.
func (db *DB) Lookup(date *ast.Date, from, to string) (ast.Decimal, bool) {
	if from == to {
		return decimal.NewFromInt(1), true
	}

	// Hop 1: direct quote, most recent on or before date.
	for i := len(db.dates) - 1; i >= 0; i-- {
		d := db.dates[i]
		if d.After(date) {
			continue
		}
		if rates, ok := db.byDate[d.String()][from]; ok {
			if rate, ok := rates[to]; ok {
				return rate, true
			}
		}
	}

	// Hop 2: inverse quote (to -> from), inverted. Add's bidirectional
	// write makes this redundant in the common case, but a DB populated
	// by hand (or a future caller bypassing Add) may only carry one
	// direction.
	for i := len(db.dates) - 1; i >= 0; i-- {
		d := db.dates[i]
		if d.After(date) {
			continue
		}
		if rates, ok := db.byDate[d.String()][to]; ok {
			if rate, ok := rates[from]; ok && !rate.IsZero() {
				return decimal.NewFromInt(1).Div(rate), true
			}
		}
	}

	return decimal.Decimal{}, false
}

// Convert expresses amount in target's currency using the most recent
// quote on or before date. If no conversion path exists, amount is
// returned unchanged, per §4.6.
func Convert(db *DB, amount *ast.Amount, target string, date *ast.Date) *ast.Amount {
	if amount.Currency == target {
		return amount
	}
	rate, ok := db.Lookup(date, amount.Currency, target)
	if !ok {
		return amount
	}
	return &ast.Amount{Number: amount.Number.Mul(rate), Currency: target}
}
