// Package diagnostics defines the validator's E1001-E10002 taxonomy and
// dual text/JSON formatters for rendering diagnostics to a CLI or an API.
package diagnostics

import "github.com/ledgerforge/rledger/ast"

// Severity orders a diagnostic's urgency. Info < Warning < Error; "has
// errors" means any diagnostic at Error severity is present (§6.4).
type Severity uint8

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Code is one of the stable validator diagnostic codes from §4.5.
type Code string

const (
	AccountUsedBeforeOpen     Code = "E1001"
	DuplicateOpen             Code = "E1002"
	AccountUsedAfterClose     Code = "E1003"
	CloseNonZeroBalance       Code = "E1004"
	InvalidAccountName        Code = "E1005"
	BalanceAssertionFailed    Code = "E2001"
	PadWithoutBalance         Code = "E2003"
	MultiplePadsBeforeSame    Code = "E2004"
	TransactionDoesNotBalance Code = "E3001"
	MultipleMissingAmounts    Code = "E3002"
	NoPostings                Code = "E3003"
	SinglePosting             Code = "E3004"
	BookingNoMatch            Code = "E4001"
	BookingInsufficient       Code = "E4002"
	BookingAmbiguous          Code = "E4003"
	UndeclaredCurrency        Code = "E5001"
	CurrencyNotAllowed        Code = "E5002"
	DocumentNotFound          Code = "E8001"
	DateOutOfOrder            Code = "E10001"
	FutureDate                Code = "E10002"
)

// DefaultSeverity returns the severity §4.5's table assigns to code. A
// code the validator invents locally (never in the table) defaults to
// Error, the conservative choice.
func DefaultSeverity(code Code) Severity {
	switch code {
	case CloseNonZeroBalance, SinglePosting, FutureDate:
		return Warning
	case DateOutOfOrder:
		return Info
	default:
		return Error
	}
}

// Diagnostic is a single validator finding: a code, the severity it was
// raised at (normally DefaultSeverity(Code), but callers may escalate or
// suppress per configuration), the position and date of the offending
// directive, a human message, and an optional free-form context string.
type Diagnostic struct {
	Code     Code
	Severity Severity
	Position ast.Position
	Date     *ast.Date
	Message  string
	Context  string
}

func New(code Code, pos ast.Position, date *ast.Date, message string) *Diagnostic {
	return &Diagnostic{Code: code, Severity: DefaultSeverity(code), Position: pos, Date: date, Message: message}
}

func (d *Diagnostic) WithContext(context string) *Diagnostic {
	d.Context = context
	return d
}

func (d *Diagnostic) Error() string {
	return string(d.Code) + ": " + d.Message
}

// List is an accumulated, ordered set of diagnostics, matching §7's
// "accumulate, never throw" propagation rule for the validation domain.
type List []*Diagnostic

// HasErrors reports whether any diagnostic in the list is at Error severity.
func (l List) HasErrors() bool {
	for _, d := range l {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// Count returns how many diagnostics in the list are at the given severity.
func (l List) Count(sev Severity) int {
	n := 0
	for _, d := range l {
		if d.Severity == sev {
			n++
		}
	}
	return n
}
