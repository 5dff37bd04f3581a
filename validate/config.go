package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/booking"
	"github.com/ledgerforge/rledger/interpolate"
)

// Config holds the validator's option-driven behavior. All checks that
// §4.5 marks opt-in (document existence, future dates, strict currency
// declarations) default to off, matching the options record a ledger
// carries when it declares none of them.
type Config struct {
	// DefaultBooking is the file-level booking method an account falls
	// back to when its Open directive declares none.
	DefaultBooking booking.Method

	// StrictCurrencies requires every currency used by a posting, balance,
	// or price to have been declared by a Commodity directive (E5001).
	StrictCurrencies bool

	// CheckDocuments verifies that every Document directive's path exists
	// on disk, resolved relative to DocumentRoot (E8001).
	CheckDocuments bool
	DocumentRoot   string

	// CheckFutureDates warns on directives dated after Today (E10002).
	CheckFutureDates bool
	Today            *ast.Date

	// Tolerance carries the interpolation tolerance settings shared with
	// the balance-assertion check.
	Tolerance *interpolate.Config
}

// NewConfig returns the engine defaults: FIFO booking, every opt-in
// check disabled, and the built-in tolerance defaults.
func NewConfig() *Config {
	return &Config{
		DefaultBooking: booking.DefaultMethod(),
		Today:          ast.NewDateFromTime(time.Now()),
		Tolerance:      interpolate.NewConfig(),
	}
}

// ConfigFromOptions builds a Config from the ledger's accumulated option
// values, keyed by option name with repeated values preserved in order.
// Unknown options are the loader's concern (warnings, not errors), so
// this only inspects the names it knows.
func ConfigFromOptions(options map[string][]string) (*Config, error) {
	cfg := NewConfig()

	if vals := options["booking_method"]; len(vals) > 0 {
		method, err := booking.ParseMethod(strings.ToUpper(vals[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid booking_method %q: %w", vals[0], err)
		}
		cfg.DefaultBooking = method
	}
	if vals := options["strict_currencies"]; len(vals) > 0 {
		cfg.StrictCurrencies = isTrue(vals[0])
	}
	if vals := options["check_documents"]; len(vals) > 0 {
		cfg.CheckDocuments = isTrue(vals[0])
	}
	if vals := options["documents"]; len(vals) > 0 {
		cfg.DocumentRoot = vals[0]
	}
	if vals := options["check_future_dates"]; len(vals) > 0 {
		cfg.CheckFutureDates = isTrue(vals[0])
	}

	tol, err := interpolate.ParseConfig(options)
	if err != nil {
		return nil, err
	}
	cfg.Tolerance = tol

	return cfg, nil
}

// OptionsFromAST flattens an AST's option declarations into the
// name -> ordered values map ConfigFromOptions and interpolate.ParseConfig
// consume.
func OptionsFromAST(tree *ast.AST) map[string][]string {
	options := make(map[string][]string, len(tree.Options))
	for _, opt := range tree.Options {
		options[opt.Name] = append(options[opt.Name], opt.Value)
	}
	return options
}

func isTrue(s string) bool {
	return strings.ToUpper(s) == "TRUE"
}
