package interpolate

import (
	"fmt"

	"github.com/ledgerforge/rledger/ast"
)

// Weight is one currency's contribution of a posting to its transaction's
// balance. A posting normally contributes exactly one weight; an
// incomplete posting contributes none until it has been filled in.
type Weight struct {
	Amount   ast.Decimal
	Currency string
}

// WeightSet is every weight a single posting contributes.
type WeightSet []Weight

// CalculateWeight returns the weight a fully-specified posting contributes
// to its transaction's balance, following beancount's cost-over-price
// precedence: a posting with an explicit (non-empty, non-merge) cost
// balances at its total cost, not its price; a posting with only a price
// balances at the price; otherwise it balances at its own units.
//
// An incomplete posting (missing units, or a {} empty/merge cost pending
// booking) contributes no weight and returns a zero WeightSet.
func CalculateWeight(p *ast.Posting) (WeightSet, error) {
	if p.Units == nil || !p.Units.Complete() {
		return nil, nil
	}
	units := p.Units.Number
	unitsCurrency := p.Units.Currency

	hasCost := p.CostSpec != nil && !p.CostSpec.IsEmpty() && !p.CostSpec.Merge
	hasEmptyCost := p.CostSpec != nil && (p.CostSpec.IsEmpty() || p.CostSpec.Merge)

	switch {
	case hasEmptyCost:
		// Cost is pending booking resolution; contributes nothing until
		// the booking pass attaches a concrete Cost.
		return WeightSet{}, nil

	case hasCost:
		// A total cost weighs in exactly, signed by the units, so a basis
		// that does not divide evenly per unit never leaks rounding
		// residue into the balance check.
		switch {
		case p.CostSpec.NumberPer != nil:
			w := units.Mul(*p.CostSpec.NumberPer)
			if p.CostSpec.NumberTotal != nil {
				total := *p.CostSpec.NumberTotal
				if units.IsNegative() {
					total = total.Neg()
				}
				w = w.Add(total)
			}
			return WeightSet{{Amount: w, Currency: p.CostSpec.Currency}}, nil
		case p.CostSpec.NumberTotal != nil:
			w := *p.CostSpec.NumberTotal
			if units.IsNegative() {
				w = w.Neg()
			}
			return WeightSet{{Amount: w, Currency: p.CostSpec.Currency}}, nil
		default:
			return nil, fmt.Errorf("cost spec %v has neither per-unit nor total amount", p.CostSpec)
		}

	case p.Price != nil && p.Price.Complete():
		if p.PriceTotal {
			w := p.Price.Number
			if units.IsNegative() {
				w = w.Neg()
			}
			return WeightSet{{Amount: w, Currency: p.Price.Currency}}, nil
		}
		return WeightSet{{Amount: units.Mul(p.Price.Number), Currency: p.Price.Currency}}, nil

	default:
		return WeightSet{{Amount: units, Currency: unitsCurrency}}, nil
	}
}

// SumByCurrency accumulates a transaction's posting weights into a
// per-currency residual balance. A balanced transaction has every
// currency's residual within that currency's tolerance of zero.
func SumByCurrency(weights []WeightSet) map[string]ast.Decimal {
	totals := make(map[string]ast.Decimal)
	for _, ws := range weights {
		for _, w := range ws {
			totals[w.Currency] = totals[w.Currency].Add(w.Amount)
		}
	}
	return totals
}
