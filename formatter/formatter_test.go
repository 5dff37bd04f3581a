package formatter

import (
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/ledgerforge/rledger/ast"
	"github.com/ledgerforge/rledger/parser"
)

func formatSource(t *testing.T, source string) string {
	t.Helper()
	tree, errs := parser.Parse("test.beancount", []byte(source))
	assert.False(t, errs.HasErrors(), "parse errors: %v", errs)
	var buf strings.Builder
	assert.NoError(t, New(WithCurrencyColumn(40)).Format(tree, &buf))
	return buf.String()
}

func TestFormatTransaction(t *testing.T) {
	out := formatSource(t, `
2024-01-15 * "Cafe" "Coffee" #trip
  Expenses:Food   5.00 USD
  Assets:Cash
`)
	assert.Contains(t, out, `2024-01-15 * "Cafe" "Coffee" #trip`)
	assert.Contains(t, out, "Expenses:Food")
	assert.Contains(t, out, "5.00 USD")
	assert.Contains(t, out, "Assets:Cash")
}

func TestFormatAlignsCurrencies(t *testing.T) {
	out := formatSource(t, `
2024-01-15 * "Coffee"
  Expenses:Food        5.00 USD
  Assets:Cash      -1234.56 USD
`)
	var columns []int
	for _, line := range strings.Split(out, "\n") {
		if i := strings.Index(line, " USD"); i >= 0 {
			columns = append(columns, i)
		}
	}
	assert.Equal(t, 2, len(columns))
	assert.Equal(t, columns[0], columns[1])
}

func TestFormatOpenWithCurrenciesAndMethod(t *testing.T) {
	out := formatSource(t, `
2024-01-01 open Assets:Broker USD,AAPL "FIFO"
`)
	assert.Contains(t, out, `2024-01-01 open Assets:Broker USD,AAPL "FIFO"`)
}

func TestFormatCostAndPrice(t *testing.T) {
	out := formatSource(t, `
2024-01-15 * "Buy"
  Assets:Broker   10 AAPL {100 USD, 2024-01-15}
  Assets:Cash  -1000 USD
`)
	assert.Contains(t, out, "{100 USD, 2024-01-15}")
}

func TestFormatMetadataIndented(t *testing.T) {
	out := formatSource(t, `
2024-01-01 commodity USD
  name: "US Dollar"
`)
	assert.Contains(t, out, "2024-01-01 commodity USD\n  name: \"US Dollar\"\n")
}

func TestFormatEscapesStrings(t *testing.T) {
	date, _ := ast.NewDate("2024-01-01")
	note := &ast.Note{Date: date, Account: "Assets:Cash", Comment: "say \"hi\""}
	var buf strings.Builder
	assert.NoError(t, New().FormatDirective(note, &buf))
	assert.Contains(t, buf.String(), `"say \"hi\""`)
}

func TestFormatOptionsAndIncludes(t *testing.T) {
	out := formatSource(t, `
option "operating_currency" "USD"
include "other.beancount"
2024-01-01 open Assets:Cash
`)
	assert.Contains(t, out, `option "operating_currency" "USD"`)
	assert.Contains(t, out, `include "other.beancount"`)
}
