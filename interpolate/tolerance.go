// Package interpolate fills in the single incomplete posting amount a
// transaction is allowed to omit, and computes the tolerance window a
// transaction's residual must fall within to be considered balanced.
package interpolate

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Config holds tolerance inference settings parsed from option directives
// ("inferred_tolerance_default", "inferred_tolerance_multiplier",
// "infer_tolerance_from_cost").
type Config struct {
	// defaults maps currency to its explicit default tolerance; "*" is the
	// wildcard applied when no currency-specific entry exists.
	defaults map[string]decimal.Decimal
	// multiplier scales a tolerance inferred from decimal precision.
	multiplier decimal.Decimal
	// inferFromCost adds each posting's per-unit cost number to the cost
	// currency's precision sample, alongside the posting weights.
	inferFromCost bool
}

// NewConfig returns the engine defaults: 0.005 wildcard tolerance, 0.5
// inference multiplier, cost amounts excluded from precision inference.
func NewConfig() *Config {
	return &Config{
		defaults:      map[string]decimal.Decimal{"*": decimal.NewFromFloat(0.005)},
		multiplier:    decimal.NewFromFloat(0.5),
		inferFromCost: false,
	}
}

// ParseConfig builds a Config from the ledger's accumulated option values,
// keyed by option name with all values for repeated options preserved in
// order of appearance.
func ParseConfig(options map[string][]string) (*Config, error) {
	cfg := NewConfig()

	if vals := options["inferred_tolerance_multiplier"]; len(vals) > 0 {
		m, err := decimal.NewFromString(vals[0])
		if err != nil {
			return nil, fmt.Errorf("invalid inferred_tolerance_multiplier %q: %w", vals[0], err)
		}
		cfg.multiplier = m
	}

	if vals := options["inferred_tolerance_default"]; len(vals) > 0 {
		for _, val := range vals {
			parts := strings.SplitN(val, ":", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("invalid inferred_tolerance_default %q, expected CURRENCY:TOLERANCE", val)
			}
			currency := strings.TrimSpace(parts[0])
			tol, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid tolerance value in %q: %w", val, err)
			}
			cfg.defaults[currency] = tol
		}
	}

	if vals := options["infer_tolerance_from_cost"]; len(vals) > 0 {
		cfg.inferFromCost = strings.ToUpper(vals[0]) == "TRUE"
	}

	return cfg, nil
}

// InferFromCost reports whether per-unit cost numbers widen precision inference.
func (c *Config) InferFromCost() bool {
	return c != nil && c.inferFromCost
}

// DefaultTolerance returns the configured tolerance for currency, falling
// back to the "*" wildcard and finally to the engine's built-in default.
func (c *Config) DefaultTolerance(currency string) decimal.Decimal {
	if c == nil {
		return decimal.NewFromFloat(0.005)
	}
	if tol, ok := c.defaults[currency]; ok {
		return tol
	}
	if tol, ok := c.defaults["*"]; ok {
		return tol
	}
	return decimal.NewFromFloat(0.005)
}

// InferTolerance derives a tolerance from the smallest decimal exponent
// among amounts (the most precise digit written), scaled by the
// configured multiplier. An empty or all-zero amounts slice falls back to
// DefaultTolerance.
func InferTolerance(amounts []decimal.Decimal, currency string, cfg *Config) decimal.Decimal {
	if cfg == nil {
		cfg = NewConfig()
	}

	minExp := int32(0)
	found := false
	for _, a := range amounts {
		if a.IsZero() {
			continue
		}
		if exp := a.Exponent(); !found || exp < minExp {
			minExp = exp
			found = true
		}
	}
	if !found {
		return cfg.DefaultTolerance(currency)
	}

	return decimal.New(1, minExp).Mul(cfg.multiplier)
}

// AmountEqual reports whether a and b differ by no more than tolerance.
func AmountEqual(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}
