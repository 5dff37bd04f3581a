package ast

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Decimal is the arbitrary-precision fixed-point type used for every
// monetary computation in the engine. shopspring/decimal preserves the
// scale carried through the source text (e.g. "1.00" keeps two digits of
// scale through Add/Sub), which is required so residual and tolerance
// arithmetic never silently reverts to binary floating point.
type Decimal = decimal.Decimal

// Date is a proleptic Gregorian calendar date at day granularity.
type Date struct {
	time.Time
}

// NewDate parses "2006-01-02" or "2006/01/02" into a Date.
func NewDate(s string) (*Date, error) {
	s = strings.ReplaceAll(s, "/", "-")
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return &Date{Time: t}, nil
}

// NewDateFromTime truncates t to its date component.
func NewDateFromTime(t time.Time) *Date {
	y, m, d := t.Date()
	return &Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// IsZero reports whether d is nil or its underlying time is zero.
func (d *Date) IsZero() bool {
	return d == nil || d.Time.IsZero()
}

func (d *Date) String() string {
	if d == nil {
		return ""
	}
	return d.Format("2006-01-02")
}

// Before reports whether d is strictly before o, treating nil as -infinity.
func (d *Date) Before(o *Date) bool {
	if d == nil {
		return o != nil
	}
	if o == nil {
		return false
	}
	return d.Time.Before(o.Time)
}

// After reports whether d is strictly after o, treating nil as +infinity.
func (d *Date) After(o *Date) bool {
	if d == nil {
		return o != nil
	}
	if o == nil {
		return false
	}
	return d.Time.After(o.Time)
}

// accountRootTypes is the fixed set of permitted first path components.
var accountRootTypes = map[string]bool{
	"Assets":      true,
	"Liabilities": true,
	"Equity":      true,
	"Income":      true,
	"Expenses":    true,
}

var accountSegmentRE = regexp.MustCompile(`^[A-Z0-9][A-Za-z0-9-]*$`)

// Account is an interned colon-delimited path, e.g. "Assets:US:BofA:Checking".
type Account string

// ValidateAccount checks that name has at least two colon-separated segments,
// the first drawn from the fixed root set, and every subsequent segment
// starting with an uppercase letter or digit.
func ValidateAccount(name string) error {
	parts := strings.Split(name, ":")
	if len(parts) < 2 {
		return fmt.Errorf("account %q must have at least two segments", name)
	}
	if !accountRootTypes[parts[0]] {
		return fmt.Errorf("account %q has unknown root type %q", name, parts[0])
	}
	for _, p := range parts[1:] {
		if !accountSegmentRE.MatchString(p) {
			return fmt.Errorf("account %q has invalid segment %q", name, p)
		}
	}
	return nil
}

// RootType returns the account's first path component.
func (a Account) RootType() string {
	if i := strings.IndexByte(string(a), ':'); i >= 0 {
		return string(a)[:i]
	}
	return string(a)
}

var currencyRE = regexp.MustCompile(`^[A-Z/][A-Z0-9'._\-/]*$`)

// ValidateCurrency checks the beancount currency token grammar: an
// uppercase letter or '/' followed by uppercase letters, digits, and
// ['._-/].
func ValidateCurrency(code string) error {
	if !currencyRE.MatchString(code) {
		return fmt.Errorf("invalid currency code %q", code)
	}
	return nil
}

// Tag is a hashtag-style label attached to a transaction, without its '#'.
type Tag string

// Link is a caret-style label connecting related transactions, without its '^'.
type Link string

// Amount pairs a Decimal quantity with a currency.
type Amount struct {
	Number   Decimal
	Currency string
}

func NewAmount(number Decimal, currency string) *Amount {
	return &Amount{Number: number, Currency: currency}
}

func (a *Amount) String() string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf("%s %s", a.Number.String(), a.Currency)
}

// Neg returns -a.
func (a *Amount) Neg() *Amount {
	return &Amount{Number: a.Number.Neg(), Currency: a.Currency}
}

// IncompleteAmountKind distinguishes the three shapes an unfinished posting
// amount can take before interpolation resolves it.
type IncompleteAmountKind uint8

const (
	// AmountMissing means neither a number nor a currency was written.
	AmountMissing IncompleteAmountKind = iota
	// AmountComplete carries both a number and a currency.
	AmountComplete
	// AmountNumberOnly carries a number with an unspecified currency.
	AmountNumberOnly
	// AmountCurrencyOnly carries a currency with an unspecified number.
	AmountCurrencyOnly
)

// IncompleteAmount is the parser's representation of a posting's units
// before interpolation fills in whatever is missing.
type IncompleteAmount struct {
	Kind     IncompleteAmountKind
	Number   Decimal
	Currency string
}

// Complete reports whether both number and currency are present.
func (ia *IncompleteAmount) Complete() bool {
	return ia != nil && ia.Kind == AmountComplete
}

// ToAmount converts a complete IncompleteAmount into a concrete Amount.
// It does not check Kind; callers must check Complete first.
func (ia *IncompleteAmount) ToAmount() *Amount {
	return &Amount{Number: ia.Number, Currency: ia.Currency}
}

func IncompleteAmountFromAmount(a *Amount) *IncompleteAmount {
	if a == nil {
		return &IncompleteAmount{Kind: AmountMissing}
	}
	return &IncompleteAmount{Kind: AmountComplete, Number: a.Number, Currency: a.Currency}
}

// Cost is the concrete, immutable per-unit acquisition cost of a lot once
// it has been resolved by booking. It never mutates after attachment.
type Cost struct {
	Number   Decimal
	Currency string
	Date     *Date
	Label    string
}

func (c *Cost) String() string {
	if c == nil {
		return ""
	}
	s := fmt.Sprintf("%s %s", c.Number.String(), c.Currency)
	if c.Date != nil {
		s += ", " + c.Date.String()
	}
	if c.Label != "" {
		s += fmt.Sprintf(", %q", c.Label)
	}
	return s
}

// Equal compares two costs for lot-matching purposes: number, currency,
// date and label must all agree.
func (c *Cost) Equal(o *Cost) bool {
	if c == nil || o == nil {
		return c == o
	}
	if !c.Number.Equal(o.Number) || c.Currency != o.Currency || c.Label != o.Label {
		return false
	}
	if (c.Date == nil) != (o.Date == nil) {
		return false
	}
	if c.Date != nil && !c.Date.Time.Equal(o.Date.Time) {
		return false
	}
	return true
}

// CostSpec is the potentially-incomplete cost request written in source,
// e.g. `{150 # 5 USD, 2024-01-01, "lot-a"}`. At booking time it either
// matches existing lots (reductions) or resolves into a concrete Cost
// (augmentations).
type CostSpec struct {
	NumberPer   *Decimal // per-unit cost, e.g. the "150" in {150 USD}
	NumberTotal *Decimal // total cost, e.g. the "5" in {# 5 USD}
	Currency    string
	Date        *Date
	Label       string
	Merge       bool // {*} merge-cost: average all lots together
	Empty       bool // {} empty spec: defer lot selection to the booking method
}

// IsEmpty reports whether this is the bare `{}` spec.
func (cs *CostSpec) IsEmpty() bool {
	return cs != nil && cs.Empty
}

// NumberSpecified, DateSpecified and LabelSpecified report whether a given
// field of the spec was written; an unspecified field matches any value
// during lot matching.
func (cs *CostSpec) NumberSpecified() bool { return cs != nil && cs.NumberPer != nil }
func (cs *CostSpec) DateSpecified() bool   { return cs != nil && cs.Date != nil }
func (cs *CostSpec) LabelSpecified() bool  { return cs != nil && cs.Label != "" }

// ResolveCost turns a CostSpec into a concrete Cost for an augmentation of
// the given absolute unit quantity, using txnDate when the spec carries no
// date of its own.
func (cs *CostSpec) ResolveCost(units Decimal, txnDate *Date) (*Cost, error) {
	cost := &Cost{Currency: cs.Currency, Date: cs.Date, Label: cs.Label}
	if cost.Date == nil {
		cost.Date = txnDate
	}
	switch {
	case cs.NumberPer != nil:
		cost.Number = *cs.NumberPer
		// A "{per # total CUR}" spec spreads the total surcharge across
		// the units on top of the per-unit cost.
		if cs.NumberTotal != nil && !units.IsZero() {
			cost.Number = cost.Number.Add(cs.NumberTotal.Div(units.Abs()))
		}
	case cs.NumberTotal != nil:
		if units.IsZero() {
			return nil, fmt.Errorf("cannot resolve total cost against zero units")
		}
		cost.Number = cs.NumberTotal.Div(units.Abs())
	default:
		return nil, fmt.Errorf("cost spec has neither per-unit nor total cost")
	}
	return cost, nil
}

// MetadataValueKind is the discriminant of the ten-way metadata value union.
type MetadataValueKind uint8

const (
	MetaNone MetadataValueKind = iota
	MetaString
	MetaAccount
	MetaCurrency
	MetaTag
	MetaLink
	MetaDate
	MetaNumber
	MetaBool
	MetaAmount
)

// MetadataValue is the typed value half of a metadata key/value pair.
type MetadataValue struct {
	Kind     MetadataValueKind
	String   string
	Account  Account
	Currency string
	Tag      Tag
	Link     Link
	Date     *Date
	Number   Decimal
	Bool     bool
	Amount   *Amount
}

func (v *MetadataValue) String_() string {
	if v == nil {
		return ""
	}
	switch v.Kind {
	case MetaNone:
		return ""
	case MetaString:
		return v.String
	case MetaAccount:
		return string(v.Account)
	case MetaCurrency:
		return v.Currency
	case MetaTag:
		return "#" + string(v.Tag)
	case MetaLink:
		return "^" + string(v.Link)
	case MetaDate:
		return v.Date.String()
	case MetaNumber:
		return v.Number.String()
	case MetaBool:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	case MetaAmount:
		return v.Amount.String()
	}
	return ""
}

// Metadata is a single key/value entry attached to a directive or posting.
type Metadata struct {
	Key   string
	Value *MetadataValue
}
