package booking

import (
	"fmt"
	"sort"

	"github.com/ledgerforge/rledger/ast"
)

// Error is a booking failure tagged with its E4xxx diagnostic code so the
// validator can surface it without string-matching error text.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func newErr(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

const (
	ErrNoMatch      = "E4001" // STRICT/STRICT_WITH_SIZE: no lot matches the cost spec
	ErrInsufficient = "E4002" // requested magnitude exceeds available inventory
	ErrAmbiguous    = "E4003" // STRICT: multiple lots match and no total-match exception applies
)

// Result reports the outcome of booking one posting.
type Result struct {
	// Cost is the concrete cost attached by an augmentation, or the cost
	// of the last lot drained by a reduction. Nil when no cost basis was
	// involved at all.
	Cost *ast.Cost

	// Matched lists the positions a reduction drew from inventory, in
	// drain order. Each entry's Units is the (positive) magnitude taken
	// from that lot; its Cost is the lot's original cost.
	Matched []*Lot

	// Basis is the aggregate cost basis of Matched in the cost currency,
	// or nil when none of the matched lots carried a cost.
	Basis *ast.Amount
}

func (r *Result) addMatch(take ast.Decimal, cost *ast.Cost, currency string) {
	r.Matched = append(r.Matched, &Lot{Currency: currency, Units: take, Cost: cost})
	if cost == nil {
		return
	}
	r.Cost = cost
	if r.Basis == nil {
		r.Basis = &ast.Amount{Currency: cost.Currency}
	}
	if r.Basis.Currency == cost.Currency {
		r.Basis.Number = r.Basis.Number.Add(take.Mul(cost.Number))
	}
}

// Book resolves a single posting's effect on inv. An augmenting posting
// (same sign as, or the first holding of, the currency) resolves its
// CostSpec into a concrete Cost and adds a new lot; a reducing posting
// (opposite sign of an existing nonzero balance) matches against held
// lots per method and subtracts from them.
//
// A reduction's Result carries both the matched positions and the
// aggregate cost basis they represent. Book mutates inv only on success.
func Book(inv *Inventory, p *ast.Posting, method Method, txnDate *ast.Date) (*Result, error) {
	if p.Units == nil || !p.Units.Complete() {
		return nil, fmt.Errorf("cannot book a posting with an incomplete amount")
	}
	currency := p.Units.Currency
	units := p.Units.Number

	if p.CostSpec == nil {
		inv.Add(currency, units)
		return &Result{}, nil
	}

	augmenting := isAugmentation(inv, currency, units)

	if augmenting {
		if p.CostSpec.IsEmpty() {
			return nil, fmt.Errorf("cost inference for an augmenting posting with an empty cost spec is not supported")
		}
		cost, err := p.CostSpec.ResolveCost(units, txnDate)
		if err != nil {
			return nil, err
		}
		inv.AddLot(currency, units, cost)
		return &Result{Cost: cost}, nil
	}

	if p.CostSpec.Merge {
		return inv.reduceAverage(currency, units.Abs())
	}

	return inv.reduce(currency, units.Abs(), p.CostSpec, method)
}

// isAugmentation reports whether adding units to currency's existing
// balance grows its magnitude (or it currently holds nothing), as opposed
// to reducing toward, through, or past zero.
func isAugmentation(inv *Inventory, currency string, units ast.Decimal) bool {
	existing := inv.Total(currency)
	if existing.IsZero() {
		return true
	}
	return (existing.Sign() > 0) == (units.Sign() > 0)
}

// reduce dispatches a reducing posting's cost spec and magnitude to the
// account's booking method (§4.4).
func (inv *Inventory) reduce(currency string, amount ast.Decimal, spec *ast.CostSpec, method Method) (*Result, error) {
	if amount.IsZero() {
		return &Result{}, nil
	}

	switch method {
	case NONE:
		return inv.reduceNone(currency, amount)
	case AVERAGE:
		return inv.reduceAverage(currency, amount)
	case STRICT:
		return inv.reduceStrict(currency, amount, matchingLots(inv.lots[currency], spec), false)
	case StrictWithSize:
		return inv.reduceStrict(currency, amount, matchingLots(inv.lots[currency], spec), true)
	case FIFO, LIFO, HIFO:
		return inv.reduceOrdered(currency, amount, matchingLots(inv.lots[currency], spec), method)
	default:
		return nil, fmt.Errorf("unsupported booking method %q", method)
	}
}

func matchingLots(lots []*Lot, spec *ast.CostSpec) []*Lot {
	var out []*Lot
	for _, l := range lots {
		if lotMatchesSpec(l, spec) {
			out = append(out, l)
		}
	}
	return out
}

func lotMatchesSpec(l *Lot, spec *ast.CostSpec) bool {
	if spec.Currency != "" && (l.Cost == nil || l.Cost.Currency != spec.Currency) {
		return false
	}
	if spec.NumberSpecified() && (l.Cost == nil || !l.Cost.Number.Equal(*spec.NumberPer)) {
		return false
	}
	if spec.DateSpecified() && (l.Cost == nil || l.Cost.Date == nil || !l.Cost.Date.Time.Equal(spec.Date.Time)) {
		return false
	}
	if spec.LabelSpecified() && (l.Cost == nil || l.Cost.Label != spec.Label) {
		return false
	}
	return true
}

// reduceStrict implements §4.4's STRICT (and STRICT_WITH_SIZE) algorithm:
// a unique match is used outright; with several matches STRICT_WITH_SIZE
// additionally accepts the oldest lot whose magnitude equals the request;
// failing that, a "total match exception" allows draining every candidate
// when their combined magnitude exactly equals the request.
func (inv *Inventory) reduceStrict(currency string, amount ast.Decimal, candidates []*Lot, withSize bool) (*Result, error) {
	if len(candidates) == 0 {
		return nil, newErr(ErrNoMatch, "no lot of %s matches the cost spec", currency)
	}
	if len(candidates) == 1 {
		return inv.drainLotChecked(currency, candidates[0], amount)
	}

	if withSize {
		sorted := append([]*Lot(nil), candidates...)
		sort.SliceStable(sorted, func(i, j int) bool { return lotDateLess(sorted[i], sorted[j]) })
		for _, l := range sorted {
			if l.Units.Abs().Equal(amount) {
				return inv.drainLotChecked(currency, l, amount)
			}
		}
	}

	total := ast.Decimal{}
	for _, l := range candidates {
		total = total.Add(l.Units.Abs())
	}
	if total.Equal(amount) {
		result := &Result{}
		for _, l := range candidates {
			take := l.Units.Abs()
			cost := l.Cost
			if err := inv.drainLot(currency, l, take); err != nil {
				return nil, err
			}
			result.addMatch(take, cost, currency)
		}
		return result, nil
	}

	return nil, newErr(ErrAmbiguous, "%d lots of %s match the cost spec; requested %s matches neither a single lot nor their combined total %s",
		len(candidates), currency, amount.String(), total.String())
}

// reduceOrdered implements FIFO/LIFO/HIFO: candidates are sorted, then
// drained in order until amount is consumed. Availability is checked
// before any mutation so a failing reduction leaves inv untouched.
func (inv *Inventory) reduceOrdered(currency string, amount ast.Decimal, candidates []*Lot, method Method) (*Result, error) {
	total := ast.Decimal{}
	for _, l := range candidates {
		total = total.Add(l.Units.Abs())
	}
	if total.LessThan(amount) {
		return nil, newErr(ErrInsufficient, "insufficient lots of %s matching the cost spec: have %s, need %s", currency, total.String(), amount.String())
	}

	sorted := append([]*Lot(nil), candidates...)
	switch method {
	case FIFO:
		sort.SliceStable(sorted, func(i, j int) bool { return lotDateLess(sorted[i], sorted[j]) })
	case LIFO:
		sort.SliceStable(sorted, func(i, j int) bool { return lotDateLess(sorted[j], sorted[i]) })
	case HIFO:
		sort.SliceStable(sorted, func(i, j int) bool { return lotCostLess(sorted[j], sorted[i]) })
	}

	result := &Result{}
	remaining := amount
	for _, l := range sorted {
		if remaining.IsZero() {
			break
		}
		avail := l.Units.Abs()
		take := avail
		if avail.GreaterThan(remaining) {
			take = remaining
		}
		cost := l.Cost
		if err := inv.drainLot(currency, l, take); err != nil {
			return nil, err
		}
		result.addMatch(take, cost, currency)
		remaining = remaining.Sub(take)
	}
	return result, nil
}

// lotDateLess orders lots for FIFO: lots without a cost date sort first
// (ties keep stable original order), then oldest cost date first.
func lotDateLess(a, b *Lot) bool {
	aDate := a.Cost != nil && a.Cost.Date != nil
	bDate := b.Cost != nil && b.Cost.Date != nil
	switch {
	case !aDate && !bDate:
		return false
	case !aDate:
		return true
	case !bDate:
		return false
	default:
		return a.Cost.Date.Before(b.Cost.Date)
	}
}

// lotCostLess orders lots for HIFO: lots with no cost sort lowest,
// otherwise by ascending per-unit cost number (the caller reverses this
// ordering so the highest cost drains first).
func lotCostLess(a, b *Lot) bool {
	aCost := a.Cost != nil
	bCost := b.Cost != nil
	switch {
	case !aCost && !bCost:
		return false
	case !aCost:
		return true
	case !bCost:
		return false
	default:
		return a.Cost.Number.LessThan(b.Cost.Number)
	}
}

func (inv *Inventory) drainLotChecked(currency string, l *Lot, amount ast.Decimal) (*Result, error) {
	if l.Units.Abs().LessThan(amount) {
		return nil, newErr(ErrInsufficient, "insufficient lot for %s: have %s, need %s", currency, l.Units.Abs().String(), amount.String())
	}
	result := &Result{}
	cost := l.Cost
	if err := inv.drainLot(currency, l, amount); err != nil {
		return nil, err
	}
	result.addMatch(amount, cost, currency)
	return result, nil
}

// drainLot subtracts amount (a nonnegative magnitude) from l, assuming
// the caller already verified sufficiency. l is removed once exhausted.
func (inv *Inventory) drainLot(currency string, l *Lot, amount ast.Decimal) error {
	signed := amount
	if l.Units.Sign() < 0 {
		signed = amount.Neg()
	}
	l.Units = l.Units.Sub(signed)
	if l.Units.IsZero() {
		inv.removeLot(currency, l)
	}
	return nil
}

// reduceNone implements §4.4's NONE method: with no held balance, or a
// posting aligned with the held sign, the posting is a plain addition. A
// posting opposing the held sign reduces every lot proportionally to its
// share of the total, so no particular lot is preferred.
func (inv *Inventory) reduceNone(currency string, amount ast.Decimal) (*Result, error) {
	total := inv.Total(currency)
	if total.IsZero() {
		inv.Add(currency, amount)
		return &Result{}, nil
	}

	totalAbs := total.Abs()
	if totalAbs.LessThan(amount) {
		// NONE never rejects: an over-reduction flips the held sign. The
		// posting lands as its own lot so the mixed-sign history stays
		// visible instead of collapsing into one net quantity.
		signed := amount
		if total.Sign() > 0 {
			signed = amount.Neg()
		}
		inv.lots[currency] = append(inv.lots[currency], &Lot{Currency: currency, Units: signed})
		return &Result{}, nil
	}

	fraction := amount.Div(totalAbs)
	lots := append([]*Lot(nil), inv.lots[currency]...)
	result := &Result{}
	for _, l := range lots {
		share := l.Units.Abs().Mul(fraction)
		cost := l.Cost
		if err := inv.drainLot(currency, l, share); err != nil {
			return nil, err
		}
		result.addMatch(share, cost, currency)
	}
	return result, nil
}

// reduceAverage merges every lot of currency, subtracts amount from the
// merged total, and replaces all lots with a single lot at the resulting
// average per-unit cost.
func (inv *Inventory) reduceAverage(currency string, amount ast.Decimal) (*Result, error) {
	lots := inv.lots[currency]

	totalUnits := ast.Decimal{}
	totalCost := ast.Decimal{}
	var costCurrency string
	var costDate *ast.Date
	hasCost := false

	for _, l := range lots {
		totalUnits = totalUnits.Add(l.Units)
		if l.Cost != nil {
			hasCost = true
			costCurrency = l.Cost.Currency
			costDate = l.Cost.Date
			totalCost = totalCost.Add(l.Units.Mul(l.Cost.Number))
		}
	}

	if totalUnits.Abs().LessThan(amount) {
		return nil, newErr(ErrInsufficient, "insufficient total held amount for %s: have %s, need %s", currency, totalUnits.Abs().String(), amount.String())
	}

	signed := amount
	if totalUnits.Sign() < 0 {
		signed = amount.Neg()
	}
	remaining := totalUnits.Sub(signed)

	delete(inv.lots, currency)

	var avgCost *ast.Cost
	if hasCost && !totalUnits.IsZero() {
		avgCost = &ast.Cost{
			Number:   totalCost.Div(totalUnits),
			Currency: costCurrency,
			Date:     costDate,
		}
	}
	if !remaining.IsZero() {
		inv.AddLot(currency, remaining, avgCost)
	}

	result := &Result{}
	result.addMatch(amount, avgCost, currency)
	return result, nil
}
