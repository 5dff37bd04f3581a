package interpolate

import (
	"fmt"

	"github.com/ledgerforge/rledger/ast"
)

// Result reports what interpolation did to a transaction: which posting
// (if any) had its amount filled in, the residual per currency used to
// judge balance, and the tolerance applied to each currency.
type Result struct {
	FilledPosting *ast.Posting
	Residual      map[string]ast.Decimal
	Tolerance     map[string]ast.Decimal
}

// Interpolate fills in the amount of at most one incomplete posting in txn
// and reports the per-currency residual every posting's weight sums to.
// At most one posting may have an incomplete Units amount (§4.3); more
// than one is an error the validator reports as a diagnostic, not
// something this function recovers from, so it returns an error too.
func Interpolate(txn *ast.Transaction, cfg *Config) (*Result, error) {
	if cfg == nil {
		cfg = NewConfig()
	}

	var incomplete *ast.Posting
	weights := make([]WeightSet, len(txn.Postings))
	precision := make(map[string][]ast.Decimal)

	for i, p := range txn.Postings {
		if p.Units == nil || !p.Units.Complete() {
			if incomplete != nil {
				return nil, fmt.Errorf("transaction has more than one posting with an incomplete amount")
			}
			incomplete = p
			continue
		}
		ws, err := CalculateWeight(p)
		if err != nil {
			return nil, err
		}
		weights[i] = ws
		for _, w := range ws {
			precision[w.Currency] = append(precision[w.Currency], w.Amount)
		}
		if cfg.InferFromCost() && p.CostSpec != nil {
			if p.CostSpec.NumberPer != nil {
				precision[p.CostSpec.Currency] = append(precision[p.CostSpec.Currency], *p.CostSpec.NumberPer)
			}
		}
	}

	residual := SumByCurrency(weights)

	if incomplete != nil {
		if err := fillIncomplete(incomplete, residual); err != nil {
			return nil, err
		}
		// The filled posting now cancels its own currency's residual.
		residual[incomplete.Units.Currency] = residual[incomplete.Units.Currency].Add(incomplete.Units.Number)
	}

	tolerances := make(map[string]ast.Decimal, len(residual))
	for currency := range residual {
		tolerances[currency] = InferTolerance(precision[currency], currency, cfg)
	}

	return &Result{FilledPosting: incomplete, Residual: residual, Tolerance: tolerances}, nil
}

// fillIncomplete resolves p's Units from the transaction's residual so
// far. A currency-only posting ("Assets:Cash  USD") takes the negated
// residual of that currency. A wholly-blank posting must find exactly one
// currency with a nonzero residual to take on; a ledger with several
// unbalanced currencies and no stated currency on the elided posting is
// ambiguous and rejected.
func fillIncomplete(p *ast.Posting, residual map[string]ast.Decimal) error {
	switch p.Units.Kind {
	case ast.AmountCurrencyOnly:
		p.Units.Number = residual[p.Units.Currency].Neg()
		return nil

	case ast.AmountMissing:
		var currency string
		count := 0
		for c, amt := range residual {
			if !amt.IsZero() {
				currency = c
				count++
			}
		}
		if count == 0 {
			// Every other posting already balances; the elided posting
			// is a legitimate zero-amount leg in some currency, which
			// cannot be inferred. Beancount itself rejects this case.
			return fmt.Errorf("cannot infer currency for posting with no amount: transaction already balances")
		}
		if count > 1 {
			return fmt.Errorf("cannot infer currency for posting with no amount: %d currencies are unbalanced", count)
		}
		p.Units.Currency = currency
		p.Units.Number = residual[currency].Neg()
		return nil

	case ast.AmountNumberOnly:
		return fmt.Errorf("posting has a number but no currency and cannot be completed by interpolation")

	default:
		return fmt.Errorf("posting amount is already complete")
	}
}
