// Package formatter renders directives back to canonical ledger text.
// Numbers are right-aligned so every currency starts in the same column,
// computed over the whole stream unless pinned with WithCurrencyColumn.
package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledgerforge/rledger/ast"
	"github.com/mattn/go-runewidth"
)

const (
	defaultIndent         = 2
	defaultCurrencyColumn = 61
)

// Formatter renders directives with configurable alignment.
type Formatter struct {
	// CurrencyColumn is the number of characters that precede each
	// aligned currency on a posting line. Zero means derive it from the
	// widest account/number pair seen.
	CurrencyColumn int
	// Indent is the number of spaces postings and metadata lines are
	// indented by.
	Indent int
}

type Option func(*Formatter)

// WithCurrencyColumn pins the currency alignment column instead of
// deriving it from the content.
func WithCurrencyColumn(col int) Option {
	return func(f *Formatter) { f.CurrencyColumn = col }
}

// WithIndentation sets the posting/metadata indent width.
func WithIndentation(indent int) Option {
	return func(f *Formatter) { f.Indent = indent }
}

// New returns a Formatter with the given options applied.
func New(opts ...Option) *Formatter {
	f := &Formatter{Indent: defaultIndent}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format renders the whole AST: options, plugins, includes, then every
// directive in stream order, blank-line separated between directives.
func (f *Formatter) Format(tree *ast.AST, w io.Writer) error {
	var buf strings.Builder

	for _, opt := range tree.Options {
		fmt.Fprintf(&buf, "option %s %s\n", quote(opt.Name), quote(opt.Value))
	}
	for _, plugin := range tree.Plugins {
		buf.WriteString("plugin " + quote(plugin.Name))
		if plugin.Config != "" {
			buf.WriteString(" " + quote(plugin.Config))
		}
		buf.WriteByte('\n')
	}
	for _, inc := range tree.Includes {
		fmt.Fprintf(&buf, "include %s\n", quote(inc.Filename))
	}
	if buf.Len() > 0 && len(tree.Directives) > 0 {
		buf.WriteByte('\n')
	}

	column := f.CurrencyColumn
	if column == 0 {
		column = f.deriveCurrencyColumn(tree.Directives)
	}

	for i, d := range tree.Directives {
		if i > 0 {
			buf.WriteByte('\n')
		}
		f.formatDirective(d, column, &buf)
	}

	_, err := io.WriteString(w, buf.String())
	return err
}

// FormatDirective renders one directive, without a trailing blank line.
func (f *Formatter) FormatDirective(d ast.Directive, w io.Writer) error {
	column := f.CurrencyColumn
	if column == 0 {
		column = f.deriveCurrencyColumn(ast.Directives{d})
	}
	var buf strings.Builder
	f.formatDirective(d, column, &buf)
	_, err := io.WriteString(w, buf.String())
	return err
}

// deriveCurrencyColumn finds the smallest column that right-aligns every
// number without squeezing any account/number pair below one space.
func (f *Formatter) deriveCurrencyColumn(directives ast.Directives) int {
	column := 0
	for _, d := range directives {
		txn, ok := d.(*ast.Transaction)
		if !ok {
			continue
		}
		for _, p := range txn.Postings {
			if p.Units == nil || p.Units.Kind == ast.AmountMissing || p.Units.Kind == ast.AmountCurrencyOnly {
				continue
			}
			width := f.Indent + runewidth.StringWidth(string(p.Account)) + 2 +
				runewidth.StringWidth(formatNumber(p.Units.Number)) + 1
			if width > column {
				column = width
			}
		}
	}
	if column == 0 {
		return defaultCurrencyColumn
	}
	return column
}

func (f *Formatter) formatDirective(d ast.Directive, column int, buf *strings.Builder) {
	date := d.GetDate().String()
	switch dir := d.(type) {
	case *ast.Transaction:
		f.formatTransaction(dir, column, buf)
		return
	case *ast.Open:
		buf.WriteString(date + " open " + string(dir.Account))
		if len(dir.ConstraintCurrencies) > 0 {
			buf.WriteString(" " + strings.Join(dir.ConstraintCurrencies, ","))
		}
		if dir.BookingMethod != "" {
			buf.WriteString(" " + quote(dir.BookingMethod))
		}
	case *ast.Close:
		buf.WriteString(date + " close " + string(dir.Account))
	case *ast.Commodity:
		buf.WriteString(date + " commodity " + dir.Currency)
	case *ast.Balance:
		buf.WriteString(date + " balance " + string(dir.Account) + "  " + dir.Amount.String())
		if dir.Tolerance != nil {
			buf.WriteString(" @ " + dir.Tolerance.String())
		}
	case *ast.Pad:
		buf.WriteString(date + " pad " + string(dir.Account) + " " + string(dir.AccountPad))
	case *ast.Note:
		buf.WriteString(date + " note " + string(dir.Account) + " " + quote(dir.Comment))
	case *ast.Document:
		buf.WriteString(date + " document " + string(dir.Account) + " " + quote(dir.Path))
		writeTagsLinks(dir.Tags, dir.Links, buf)
	case *ast.Price:
		buf.WriteString(date + " price " + dir.Currency + " " + dir.Amount.String())
	case *ast.Event:
		buf.WriteString(date + " event " + quote(dir.Name) + " " + quote(dir.Value))
	case *ast.Query:
		buf.WriteString(date + " query " + quote(dir.Name) + " " + quote(dir.Query))
	case *ast.Custom:
		buf.WriteString(date + " custom " + quote(dir.Type))
		for _, v := range dir.Values {
			buf.WriteString(" " + formatCustomValue(v))
		}
	default:
		return
	}
	buf.WriteByte('\n')
	f.formatMetadata(d.Metadata(), 1, buf)
}

func (f *Formatter) formatTransaction(txn *ast.Transaction, column int, buf *strings.Builder) {
	buf.WriteString(txn.Date.String() + " " + txn.Flag)
	if txn.Payee != "" {
		buf.WriteString(" " + quote(txn.Payee))
	}
	if txn.Narration != "" || txn.Payee != "" {
		buf.WriteString(" " + quote(txn.Narration))
	}
	writeTagsLinks(txn.Tags, txn.Links, buf)
	buf.WriteByte('\n')
	f.formatMetadata(txn.Metadata(), 1, buf)

	for _, p := range txn.Postings {
		f.formatPosting(p, column, buf)
	}
}

func (f *Formatter) formatPosting(p *ast.Posting, column int, buf *strings.Builder) {
	line := strings.Repeat(" ", f.Indent)
	if p.Flag != "" {
		line += p.Flag + " "
	}
	line += string(p.Account)

	if p.Units != nil && p.Units.Kind != ast.AmountMissing {
		var number string
		if p.Units.Kind != ast.AmountCurrencyOnly {
			number = formatNumber(p.Units.Number)
		}
		pad := column - runewidth.StringWidth(line) - runewidth.StringWidth(number) - 1
		if pad < 2 {
			pad = 2
		}
		line += strings.Repeat(" ", pad) + number
		if p.Units.Currency != "" {
			if number != "" {
				line += " "
			}
			line += p.Units.Currency
		}
	}

	if p.CostSpec != nil {
		line += " " + formatCostSpec(p.CostSpec)
	}
	if p.Price != nil && p.Price.Kind != ast.AmountMissing {
		if p.PriceTotal {
			line += " @@"
		} else {
			line += " @"
		}
		if p.Price.Kind != ast.AmountCurrencyOnly {
			line += " " + formatNumber(p.Price.Number)
		}
		if p.Price.Currency != "" {
			line += " " + p.Price.Currency
		}
	}

	buf.WriteString(line)
	buf.WriteByte('\n')
	f.formatMetadata(p.Metadata(), 2, buf)
}

// formatNumber renders n with the scale it was written with, so "5.00"
// stays "5.00" instead of collapsing to "5".
func formatNumber(n ast.Decimal) string {
	if exp := n.Exponent(); exp < 0 {
		return n.StringFixed(-exp)
	}
	return n.String()
}

func formatCostSpec(cs *ast.CostSpec) string {
	if cs.Merge {
		return "{*}"
	}
	if cs.IsEmpty() {
		return "{}"
	}
	var parts []string
	switch {
	case cs.NumberPer != nil && cs.NumberTotal != nil:
		parts = append(parts, cs.NumberPer.String()+" # "+cs.NumberTotal.String()+" "+cs.Currency)
	case cs.NumberPer != nil:
		parts = append(parts, cs.NumberPer.String()+" "+cs.Currency)
	case cs.NumberTotal != nil:
		return "{{" + joinCostParts(append([]string{cs.NumberTotal.String() + " " + cs.Currency}, costSuffix(cs)...)) + "}}"
	case cs.Currency != "":
		parts = append(parts, cs.Currency)
	}
	parts = append(parts, costSuffix(cs)...)
	return "{" + joinCostParts(parts) + "}"
}

func costSuffix(cs *ast.CostSpec) []string {
	var parts []string
	if cs.Date != nil {
		parts = append(parts, cs.Date.String())
	}
	if cs.Label != "" {
		parts = append(parts, quote(cs.Label))
	}
	return parts
}

func joinCostParts(parts []string) string { return strings.Join(parts, ", ") }

func (f *Formatter) formatMetadata(meta []*ast.Metadata, depth int, buf *strings.Builder) {
	indent := strings.Repeat(" ", f.Indent*depth)
	for _, m := range meta {
		buf.WriteString(indent + m.Key + ": " + formatMetaValue(m.Value) + "\n")
	}
}

func formatMetaValue(v *ast.MetadataValue) string {
	if v == nil {
		return ""
	}
	switch v.Kind {
	case ast.MetaString:
		return quote(v.String)
	default:
		return v.String_()
	}
}

func formatCustomValue(v *ast.CustomValue) string {
	switch v.Kind {
	case ast.MetaString:
		return quote(v.String)
	case ast.MetaAccount:
		return string(v.Account)
	case ast.MetaAmount:
		return v.Amount.String()
	case ast.MetaDate:
		return v.Date.String()
	case ast.MetaBool:
		if v.Bool {
			return "TRUE"
		}
		return "FALSE"
	case ast.MetaNumber:
		return v.Number.String()
	default:
		return ""
	}
}

func writeTagsLinks(tags []ast.Tag, links []ast.Link, buf *strings.Builder) {
	for _, t := range tags {
		buf.WriteString(" #" + string(t))
	}
	for _, l := range links {
		buf.WriteString(" ^" + string(l))
	}
}
